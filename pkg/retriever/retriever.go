// Package retriever implements the Chunk Retriever (spec.md §4.8): a
// four-step resolution chain for a single chunk — local cache, origin
// transfer, peer request, storage pointer — each step after the cache
// hash-verified against the manifest's recorded per-chunk hash.
package retriever

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bazobehram/dweb-hosting-network-sub000/internal/config"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/chunkstore"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/manifest"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/metrics"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/peersession"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/registry"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/storage"
)

// ErrChunkUnavailable is returned when every step of the resolution
// chain has been exhausted without producing a hash-verified chunk.
var ErrChunkUnavailable = errors.New("retriever: chunk unavailable")

// ErrHashMismatch is returned when a source answered but its bytes do
// not hash to the manifest's recorded chunk hash.
var ErrHashMismatch = errors.New("retriever: chunk hash mismatch")

// SessionProvider resolves a peerId to an open Session. Scheduler's
// SessionProvider satisfies this too — same shape, separate type so
// this package doesn't import scheduler for it.
type SessionProvider interface {
	Session(peerID string) (peersession.Session, bool)
}

type pendingRequest struct {
	response chan peersession.ChunkResponse
	errs     chan peersession.ChunkError
}

// Retriever resolves chunks through cache -> origin -> peer -> storage.
type Retriever struct {
	cfg      *config.EngineConfig
	log      *zap.Logger
	metrics  *metrics.Metrics
	cache    *chunkstore.Store
	registry *registry.Client
	sessions SessionProvider
	storage  *storage.Client

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// New creates a Retriever.
func New(cfg *config.EngineConfig, log *zap.Logger, m *metrics.Metrics, cache *chunkstore.Store, registryClient *registry.Client, sessions SessionProvider, storageClient *storage.Client) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		cache:    cache,
		registry: registryClient,
		sessions: sessions,
		storage:  storageClient,
		pending:  make(map[string]*pendingRequest),
	}
}

// OnEvent implements peersession.Listener, demuxing inbound
// chunk-response / chunk-error messages to the pending request that
// asked for them.
func (r *Retriever) OnEvent(peerID string, ev peersession.Event) {
	if ev.Kind != peersession.EventMessage || ev.Message.Kind != peersession.MessageText {
		return
	}

	var env peersession.Envelope
	if err := json.Unmarshal(ev.Message.Data, &env); err != nil {
		return
	}

	switch env.Type {
	case peersession.TypeChunkResponse:
		var resp peersession.ChunkResponse
		if json.Unmarshal(ev.Message.Data, &resp) == nil {
			r.deliver(resp.RequestID, func(p *pendingRequest) { p.response <- resp })
		}
	case peersession.TypeChunkError:
		var ce peersession.ChunkError
		if json.Unmarshal(ev.Message.Data, &ce) == nil {
			r.deliver(ce.RequestID, func(p *pendingRequest) { p.errs <- ce })
		}
	}
}

func (r *Retriever) deliver(requestID string, send func(*pendingRequest)) {
	r.mu.Lock()
	p, ok := r.pending[requestID]
	r.mu.Unlock()
	if ok {
		send(p)
	}
}

// Resolve returns the verified bytes of man's chunk at chunkIndex,
// trying each step of the resolution chain in order:
//
//  1. the process-local cache
//  2. originTransfer, if the caller still holds the full upload (nil if
//     not applicable)
//  3. a live peer known (via the registry) to hold a replica
//  4. the storage-service pointer, if one was recorded
//
// Bytes from steps 2-4 are hash-verified against man.ChunkHashes before
// being trusted or cached; a cache hit is returned as stored.
func (r *Retriever) Resolve(ctx context.Context, man *manifest.Manifest, chunkIndex int, originTransfer *manifest.Transfer) ([]byte, error) {
	if chunkIndex < 0 || chunkIndex >= man.ChunkCount {
		return nil, fmt.Errorf("retriever: chunk index %d out of range [0,%d)", chunkIndex, man.ChunkCount)
	}
	start := time.Now()

	if data, ok := r.cache.Get(man.ManifestID, chunkIndex); ok {
		r.observe("cache", start)
		return data, nil
	}

	if originTransfer != nil {
		if data, err := originTransfer.GetChunk(chunkIndex); err == nil {
			if verifyErr := verifyChunk(man, chunkIndex, data); verifyErr == nil {
				r.cache.Declare(man.ManifestID, man.ChunkCount)
				_ = r.cache.Put(man.ManifestID, chunkIndex, data)
				r.observe("origin", start)
				return data, nil
			}
		}
	}

	if r.registry != nil {
		rec, err := r.registry.GetManifest(ctx, man.ManifestID)
		if err == nil && rec != nil {
			if chunkIndex < len(rec.ChunkReplicas) {
				for _, peerID := range rec.ChunkReplicas[chunkIndex] {
					data, err := r.requestFromPeer(ctx, peerID, man.ManifestID, chunkIndex)
					if err != nil {
						continue
					}
					if verifyErr := verifyChunk(man, chunkIndex, data); verifyErr != nil {
						continue
					}
					r.cache.Declare(man.ManifestID, man.ChunkCount)
					_ = r.cache.Put(man.ManifestID, chunkIndex, data)
					r.observe("peer", start)
					return data, nil
				}
			}
			if chunkIndex < len(rec.ChunkPointers) && rec.ChunkPointers[chunkIndex] != nil && r.storage != nil {
				data, err := r.storage.FetchChunk(ctx, *rec.ChunkPointers[chunkIndex])
				if err == nil {
					if verifyErr := verifyChunk(man, chunkIndex, data); verifyErr == nil {
						r.cache.Declare(man.ManifestID, man.ChunkCount)
						_ = r.cache.Put(man.ManifestID, chunkIndex, data)
						r.observe("storage", start)
						return data, nil
					}
				}
			}
		}
	}

	return nil, ErrChunkUnavailable
}

func (r *Retriever) requestFromPeer(ctx context.Context, peerID, manifestID string, chunkIndex int) ([]byte, error) {
	sess, ok := r.sessions.Session(peerID)
	if !ok || !sess.IsOpen() {
		return nil, fmt.Errorf("retriever: no open session to %s", peerID)
	}

	requestID := uuid.NewString()
	p := &pendingRequest{
		response: make(chan peersession.ChunkResponse, 1),
		errs:     make(chan peersession.ChunkError, 1),
	}
	r.mu.Lock()
	r.pending[requestID] = p
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, requestID)
		r.mu.Unlock()
	}()

	req := peersession.ChunkRequest{
		Type:       peersession.TypeChunkRequest,
		RequestID:  requestID,
		ManifestID: manifestID,
		ChunkIndex: chunkIndex,
	}
	if err := sess.SendJSON(req); err != nil {
		return nil, fmt.Errorf("retriever: send chunk request: %w", err)
	}

	timeout := r.cfg.AckTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	select {
	case resp := <-p.response:
		data, err := base64.StdEncoding.DecodeString(resp.Data)
		if err != nil {
			return nil, fmt.Errorf("retriever: decode chunk response: %w", err)
		}
		return data, nil
	case ce := <-p.errs:
		return nil, fmt.Errorf("retriever: peer %s refused chunk: %s", peerID, ce.Reason)
	case <-time.After(timeout):
		return nil, fmt.Errorf("retriever: request to %s timed out", peerID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func verifyChunk(man *manifest.Manifest, chunkIndex int, data []byte) error {
	if chunkIndex >= len(man.ChunkHashes) {
		return ErrHashMismatch
	}
	if manifest.ComputeHash(data) != man.ChunkHashes[chunkIndex] {
		return ErrHashMismatch
	}
	return nil
}

func (r *Retriever) observe(source string, start time.Time) {
	r.metrics.ObserveRetrieveDuration(source, time.Since(start).Seconds())
}
