package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bazobehram/dweb-hosting-network-sub000/internal/config"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/manifest"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/metrics"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/peersession"
)

type jobEventKind int

const (
	evtAck jobEventKind = iota
	evtNack
	evtTimeout
	evtSessionClosed
)

type jobEvent struct {
	kind       jobEventKind
	chunkIndex int
	reason     string
}

// jobResult is handed to the Scheduler when a Job finishes, successfully
// or otherwise, so it can update quorum bookkeeping and the partial-
// failure/storage-fallback policy.
type jobResult struct {
	key     JobKey
	acked   []int
	failed  []int
	started time.Time
	ended   time.Time
}

// job drives one (manifestId, peerId) ReplicaJob: it owns a ChunkSlot
// per chunk of the transfer and pushes each through queued -> in-flight
// -> acked|retry|failed, honoring MaxInflight, per-slot retry budget,
// ack timeouts, and cooperative backpressure on the underlying session.
type job struct {
	key     JobKey
	session peersession.Session
	man     *manifest.Manifest
	xfer    *manifest.Transfer
	cfg     *config.EngineConfig
	log     *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	slots    []ChunkSlot
	inflight int
	started  time.Time

	events chan jobEvent
}

func newJob(key JobKey, session peersession.Session, man *manifest.Manifest, xfer *manifest.Transfer, cfg *config.EngineConfig, log *zap.Logger, m *metrics.Metrics) *job {
	slots := make([]ChunkSlot, xfer.ChunkCount())
	return &job{
		key:     key,
		session: session,
		man:     man,
		xfer:    xfer,
		cfg:     cfg,
		log:     log.With(zap.String("manifest_id", key.ManifestID), zap.String("peer_id", key.PeerID)),
		metrics: m,
		slots:   slots,
		events:  make(chan jobEvent, xfer.ChunkCount()+1),
	}
}

// onAck feeds an inbound ChunkUploadAck into the job. Safe to call from
// the session's listener goroutine.
func (j *job) onAck(chunkIndex int) {
	j.postEvent(jobEvent{kind: evtAck, chunkIndex: chunkIndex})
}

// onNack feeds an inbound ChunkUploadNack into the job.
func (j *job) onNack(chunkIndex int, reason string) {
	j.postEvent(jobEvent{kind: evtNack, chunkIndex: chunkIndex, reason: reason})
}

// onSessionClosed notifies the job that its transport closed; every
// slot not yet acked is returned to retry (or failed, if its retry
// budget is exhausted), per the channel-close handling in spec.md §4.6.5.
func (j *job) onSessionClosed() {
	j.postEvent(jobEvent{kind: evtSessionClosed})
}

func (j *job) postEvent(ev jobEvent) {
	select {
	case j.events <- ev:
	default:
		// Event buffer is sized chunkCount+1 so this should never block
		// in practice; drop rather than stall a transport callback.
		j.log.Warn("job event buffer full, dropping event")
	}
}

// run drives the job to completion (every slot acked or failed) or
// until ctx is canceled, and returns a jobResult summarizing outcomes.
func (j *job) run(ctx context.Context) jobResult {
	j.started = time.Now()
	j.fillInflight(ctx)

	for {
		if j.allTerminal() {
			break
		}

		select {
		case <-ctx.Done():
			j.failRemaining()
		case ev := <-j.events:
			j.handleEvent(ev)
			j.fillInflight(ctx)
			continue
		case <-time.After(j.cfg.AckTimeout):
			j.checkTimeouts()
			j.fillInflight(ctx)
			continue
		}
		if j.allTerminal() {
			break
		}
	}

	return j.summarize()
}

func (j *job) handleEvent(ev jobEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch ev.kind {
	case evtAck:
		if ev.chunkIndex < 0 || ev.chunkIndex >= len(j.slots) {
			return
		}
		if j.slots[ev.chunkIndex].Status == SlotInFlight {
			j.inflight--
		}
		j.slots[ev.chunkIndex].Status = SlotAcked
		j.metrics.IncAcked(j.key.PeerID)
		j.metrics.SetInFlight(j.inflight)
	case evtNack:
		if ev.chunkIndex < 0 || ev.chunkIndex >= len(j.slots) {
			return
		}
		j.retryOrFailLocked(ev.chunkIndex)
	case evtSessionClosed:
		for i := range j.slots {
			if j.slots[i].Status == SlotInFlight || j.slots[i].Status == SlotQueued {
				j.retryOrFailLocked(i)
			}
		}
	}
}

// retryOrFailLocked must be called with j.mu held.
func (j *job) retryOrFailLocked(i int) {
	if j.slots[i].Status == SlotInFlight {
		j.inflight--
	}
	if j.slots[i].Attempts >= j.cfg.MaxRetries {
		j.slots[i].Status = SlotFailed
		j.metrics.IncFailed(j.key.PeerID)
		return
	}
	j.slots[i].Status = SlotRetry
}

func (j *job) checkTimeouts() {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	for i := range j.slots {
		if j.slots[i].Status == SlotInFlight && now.Sub(j.slots[i].SentAt) >= j.cfg.AckTimeout {
			j.slots[i].LastError = context.DeadlineExceeded
			j.retryOrFailLocked(i)
		}
	}
}

func (j *job) failRemaining() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.slots {
		if j.slots[i].Status != SlotAcked {
			j.slots[i].Status = SlotFailed
		}
	}
}

func (j *job) allTerminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, s := range j.slots {
		if s.Status != SlotAcked && s.Status != SlotFailed {
			return false
		}
	}
	return true
}

// fillInflight sends queued/retry slots up to MaxInflight, honoring
// session backpressure cooperatively (spec.md §4.6.3): it never spins
// hot, sleeping one quantum at a time and re-checking ctx between
// sleeps so a cancellation is never stuck behind a stalled peer.
func (j *job) fillInflight(ctx context.Context) {
	for {
		if !j.hasCapacityAndWorkLocked() {
			return
		}

		// Wait out backpressure BEFORE reserving a slot, so a stalled
		// peer never starts a slot's ack-timeout clock on bytes that
		// have not actually been written to the wire yet.
		for j.session.BufferedAmount() > j.cfg.BackpressureThresholdBytes {
			j.metrics.IncBackpressureStall(j.key.PeerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(BackpressureQuantum):
			}
			if !j.session.IsOpen() {
				j.onSessionClosed()
				return
			}
		}

		idx, ok := j.reserveNextLocked()
		if !ok {
			return
		}
		j.send(idx)
	}
}

// hasCapacityAndWorkLocked reports whether there is both inflight
// headroom and a queued/retry slot, without reserving anything.
func (j *job) hasCapacityAndWorkLocked() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.inflight >= j.cfg.MaxInflight {
		return false
	}
	for _, s := range j.slots {
		if s.Status == SlotQueued || s.Status == SlotRetry {
			return true
		}
	}
	return false
}

// reserveNextLocked marks the next queued/retry slot in-flight and
// stamps its send time. Called immediately before the actual write so
// the ack-timeout clock reflects real wire time.
func (j *job) reserveNextLocked() (int, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.inflight >= j.cfg.MaxInflight {
		return 0, false
	}
	for i := range j.slots {
		if j.slots[i].Status == SlotQueued || j.slots[i].Status == SlotRetry {
			j.slots[i].Status = SlotInFlight
			j.slots[i].Attempts++
			j.slots[i].SentAt = time.Now()
			j.inflight++
			return i, true
		}
	}
	return 0, false
}

func (j *job) send(idx int) {
	data, err := j.xfer.GetChunkBase64(idx)
	if err != nil {
		j.mu.Lock()
		j.slots[idx].LastError = err
		j.retryOrFailLocked(idx)
		j.mu.Unlock()
		return
	}

	upload := peersession.ChunkUpload{
		Type:       peersession.TypeChunkUpload,
		ManifestID: j.man.ManifestID,
		ChunkIndex: idx,
		Data:       data,
		Hash:       j.man.ChunkHashes[idx],
	}
	if err := j.session.SendJSON(upload); err != nil {
		j.log.Debug("chunk send failed", zap.Int("chunk_index", idx), zap.Error(err))
		j.mu.Lock()
		j.slots[idx].LastError = err
		j.retryOrFailLocked(idx)
		j.mu.Unlock()
	}
}

func (j *job) summarize() jobResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	res := jobResult{key: j.key, started: j.started, ended: time.Now()}
	for i, s := range j.slots {
		if s.Status == SlotAcked {
			res.acked = append(res.acked, i)
		} else {
			res.failed = append(res.failed, i)
		}
	}
	return res
}

func (j *job) snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	slots := make([]ChunkSlot, len(j.slots))
	copy(slots, j.slots)

	completed, failed := 0, 0
	for _, s := range slots {
		switch s.Status {
		case SlotAcked:
			completed++
		case SlotFailed:
			failed++
		}
	}

	return JobSnapshot{
		Key:           j.key,
		ReplicaTarget: 1,
		CreatedAt:     j.started,
		StartedAt:     j.started,
		Completed:     completed,
		Failed:        failed,
		Slots:         slots,
	}
}
