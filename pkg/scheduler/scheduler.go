package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bazobehram/dweb-hosting-network-sub000/internal/config"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/manifest"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/metrics"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/peersession"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/registry"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/storage"
)

// SelectionMode chooses how a manifest's replica targets are picked.
type SelectionMode int

const (
	ModeAuto SelectionMode = iota
	ModeManual
)

// SessionProvider resolves a peerId to an open Session, used by the
// Scheduler to dial replica targets it has selected.
type SessionProvider interface {
	Session(peerID string) (peersession.Session, bool)
}

// manifestState tracks everything the Scheduler needs for one manifest
// across the lifetime of its replication: the quorum gate, the
// cancellation handles of its currently-running jobs, and the chunks
// that have never landed on any peer (candidates for storage fallback).
type manifestState struct {
	quorum     *QuorumState
	xfer       *manifest.Transfer
	cancels    map[string]context.CancelFunc
	neverAcked map[int]bool
}

// Scheduler is the Replication Scheduler (spec.md §4.6): it selects
// replica targets, drives a ReplicaJob per target, maintains each
// manifest's quorum gate, and falls back to storage-service upload for
// chunks that no peer could be made to hold.
type Scheduler struct {
	cfg      *config.EngineConfig
	log      *zap.Logger
	metrics  *metrics.Metrics
	sessions SessionProvider
	registry *registry.Client
	storage  *storage.Client

	mu        sync.Mutex
	manifests map[string]*manifestState
	jobs      map[JobKey]*job
}

// New creates a Scheduler. storageClient may be nil when
// cfg.UploadChunksToStorage is false.
func New(cfg *config.EngineConfig, log *zap.Logger, m *metrics.Metrics, sessions SessionProvider, registryClient *registry.Client, storageClient *storage.Client) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		sessions:  sessions,
		registry:  registryClient,
		storage:   storageClient,
		manifests: make(map[string]*manifestState),
		jobs:      make(map[JobKey]*job),
	}
}

// OnEvent implements peersession.Listener, demuxing inbound
// chunk-upload-ack / chunk-upload-nack messages to the job they belong
// to. Wire this as the Listener on every session the Scheduler uses.
func (s *Scheduler) OnEvent(peerID string, ev peersession.Event) {
	if ev.Kind == peersession.EventClosed {
		s.dispatchSessionClosed(peerID)
		return
	}
	if ev.Kind != peersession.EventMessage || ev.Message.Kind != peersession.MessageText {
		return
	}

	var env peersession.Envelope
	if err := json.Unmarshal(ev.Message.Data, &env); err != nil {
		return
	}

	switch env.Type {
	case peersession.TypeChunkUploadAck:
		var ack peersession.ChunkUploadAck
		if json.Unmarshal(ev.Message.Data, &ack) == nil {
			s.dispatchAck(ack.ManifestID, peerID, ack.ChunkIndex)
		}
	case peersession.TypeChunkUploadNack:
		var nack peersession.ChunkUploadNack
		if json.Unmarshal(ev.Message.Data, &nack) == nil {
			s.dispatchNack(nack.ManifestID, peerID, nack.ChunkIndex, nack.Reason)
		}
	}
}

func (s *Scheduler) dispatchAck(manifestID, peerID string, chunkIndex int) {
	s.mu.Lock()
	j := s.jobs[JobKey{ManifestID: manifestID, PeerID: peerID}]
	s.mu.Unlock()
	if j != nil {
		j.onAck(chunkIndex)
	}
}

func (s *Scheduler) dispatchNack(manifestID, peerID string, chunkIndex int, reason string) {
	s.mu.Lock()
	j := s.jobs[JobKey{ManifestID: manifestID, PeerID: peerID}]
	s.mu.Unlock()
	if j != nil {
		j.onNack(chunkIndex, reason)
	}
}

// dispatchSessionClosed drives channel-close recovery (spec.md §4.6.5)
// for every job running against peerID: a session can close while
// multiple manifests are mid-replication to the same peer.
func (s *Scheduler) dispatchSessionClosed(peerID string) {
	s.mu.Lock()
	var affected []*job
	for key, j := range s.jobs {
		if key.PeerID == peerID {
			affected = append(affected, j)
		}
	}
	s.mu.Unlock()

	for _, j := range affected {
		j.onSessionClosed()
	}
}

// InitQuorum registers a manifest's quorum gate, per spec.md §4.6.6:
// required = max(1, min(AckQuorum, replicaTarget)).
func (s *Scheduler) InitQuorum(manifestID string, replicaTarget int) *QuorumState {
	required := s.cfg.AckQuorum
	if replicaTarget < required {
		required = replicaTarget
	}
	if required < 1 {
		required = 1
	}

	q := &QuorumState{
		ManifestID: manifestID,
		Required:   required,
		RemoteAcks: make(map[string]struct{}),
		UpdatedAt:  time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[manifestID] = &manifestState{
		quorum:     q,
		cancels:    make(map[string]context.CancelFunc),
		neverAcked: make(map[int]bool),
	}
	s.metrics.SetQuorumGap(manifestID, q.Required)
	return q
}

// Quorum returns the current QuorumState for manifestID, if known.
func (s *Scheduler) Quorum(manifestID string) (*QuorumState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.manifests[manifestID]
	if !ok {
		return nil, false
	}
	return st.quorum, true
}

// Schedule selects replica targets for man/xfer and drives a ReplicaJob
// against each concurrently, returning once every selected job has
// reached a terminal state (every chunk acked or failed against that
// peer). Once all jobs have finished it updates the registry's
// per-chunk replica list for each and, if configured, falls back to
// storage upload for chunks no peer ever acknowledged.
func (s *Scheduler) Schedule(ctx context.Context, man *manifest.Manifest, xfer *manifest.Transfer, mode SelectionMode, candidates []Peer, manualPeerIDs []string) error {
	var targets []Peer
	switch mode {
	case ModeManual:
		targets = SelectManual(candidates, manualPeerIDs)
	default:
		targets = SelectAuto(candidates, s.cfg.MaxReplicaTargets, time.Now())
	}

	s.mu.Lock()
	st, ok := s.manifests[man.ManifestID]
	if !ok {
		st = &manifestState{cancels: make(map[string]context.CancelFunc), neverAcked: make(map[int]bool)}
		s.manifests[man.ManifestID] = st
	}
	st.xfer = xfer
	s.mu.Unlock()

	var wg sync.WaitGroup
	results := make(chan jobResult, len(targets))

	for _, peer := range targets {
		sess, ok := s.sessions.Session(peer.PeerID)
		if !ok {
			continue
		}

		key := JobKey{ManifestID: man.ManifestID, PeerID: peer.PeerID}
		j := newJob(key, sess, man, xfer, s.cfg, s.log, s.metrics)

		jobCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		st.cancels[peer.PeerID] = cancel
		s.jobs[key] = j
		s.mu.Unlock()

		sess.SetListener(s)

		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- j.run(jobCtx)
		}()
	}

	wg.Wait()
	close(results)

	for res := range results {
		s.finalizeJob(ctx, man.ManifestID, res)
	}

	return s.runStorageFallback(ctx, man, xfer)
}

func (s *Scheduler) finalizeJob(ctx context.Context, manifestID string, res jobResult) {
	s.mu.Lock()
	delete(s.jobs, res.key)

	st, ok := s.manifests[manifestID]
	if !ok {
		s.mu.Unlock()
		return
	}

	fullyReplicated := len(res.failed) == 0 && len(res.acked) > 0
	if fullyReplicated && st.quorum != nil {
		st.quorum.RemoteAcks[res.key.PeerID] = struct{}{}
		st.quorum.UpdatedAt = time.Now()
		s.metrics.SetQuorumGap(manifestID, st.quorum.Required-len(st.quorum.RemoteAcks))
	}
	// false marks a chunk some peer acked, so a later failing job for
	// another peer cannot re-mark it as stranded.
	for _, idx := range res.failed {
		if _, seen := st.neverAcked[idx]; !seen {
			st.neverAcked[idx] = true
		}
	}
	for _, idx := range res.acked {
		st.neverAcked[idx] = false
	}
	s.mu.Unlock()

	if len(res.acked) > 0 && s.registry != nil {
		update := registry.ReplicaUpdate{
			PeerID:       res.key.PeerID,
			ChunkIndexes: res.acked,
			Status:       registry.ReplicaStatusAvailable,
			ReplicatedAt: res.ended,
		}
		if err := s.registry.UpdateChunkReplica(ctx, manifestID, update); err != nil {
			s.log.Warn("registry replica update failed", zap.String("manifest_id", manifestID), zap.Error(err))
		}
	}
}

// runStorageFallback uploads every chunk that every scheduled job
// failed to place, if UploadChunksToStorage is enabled, and records the
// resulting pointer on the registry (spec.md §4.6.4).
func (s *Scheduler) runStorageFallback(ctx context.Context, man *manifest.Manifest, xfer *manifest.Transfer) error {
	if !s.cfg.UploadChunksToStorage || s.storage == nil {
		return nil
	}

	s.mu.Lock()
	st, ok := s.manifests[man.ManifestID]
	var stranded []int
	if ok {
		for idx, isStranded := range st.neverAcked {
			if isStranded {
				stranded = append(stranded, idx)
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	var firstErr error
	for _, idx := range stranded {
		data, err := xfer.GetChunk(idx)
		if err != nil {
			continue
		}
		pointer, err := s.storage.UploadChunk(ctx, man.ManifestID, idx, data)
		if err != nil {
			s.log.Warn("storage fallback upload failed", zap.String("manifest_id", man.ManifestID), zap.Int("chunk_index", idx), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.metrics.IncStorageFallback()
		if s.registry != nil {
			if err := s.registry.UpdateChunkPointer(ctx, man.ManifestID, idx, registry.PointerUpdate{Pointer: pointer}); err != nil {
				s.log.Warn("registry pointer update failed", zap.String("manifest_id", man.ManifestID), zap.Int("chunk_index", idx), zap.Error(err))
			}
		}
	}
	return firstErr
}

// Cancel stops every in-flight job for manifestID, whatever its target
// peer; CancelPeer stops the job against a single peer.
func (s *Scheduler) Cancel(manifestID string) {
	s.mu.Lock()
	st, ok := s.manifests[manifestID]
	if !ok {
		s.mu.Unlock()
		return
	}
	cancels := st.cancels
	st.cancels = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// CancelPeer stops the in-flight job against one peer for manifestID,
// without disturbing the others.
func (s *Scheduler) CancelPeer(manifestID, peerID string) {
	s.mu.Lock()
	st, ok := s.manifests[manifestID]
	if !ok {
		s.mu.Unlock()
		return
	}
	cancel, ok := st.cancels[peerID]
	if ok {
		delete(st.cancels, peerID)
	}
	s.mu.Unlock()

	if ok {
		cancel()
	}
}

// JobSnapshotFor returns a point-in-time view of the job for
// (manifestID, peerID), if one is currently running.
func (s *Scheduler) JobSnapshotFor(manifestID, peerID string) (JobSnapshot, bool) {
	s.mu.Lock()
	j, ok := s.jobs[JobKey{ManifestID: manifestID, PeerID: peerID}]
	s.mu.Unlock()
	if !ok {
		return JobSnapshot{}, false
	}
	return j.snapshot(), true
}
