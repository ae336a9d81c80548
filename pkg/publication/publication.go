// Package publication sequences a single publish operation: build a
// manifest, register it, hand it to the Replication Scheduler, and
// bind a domain name once enough replicas exist (spec.md §4.7).
package publication

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bazobehram/dweb-hosting-network-sub000/internal/config"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/identity"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/manifest"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/registry"
	"github.com/bazobehram/dweb-hosting-network-sub000/pkg/scheduler"
)

// Result summarizes the terminal state of one Publish call.
type Result struct {
	ManifestID string
	Domain     string
	Outcome    scheduler.Outcome
}

// Controller owns the registry and scheduler collaborators a
// publication needs; it holds no per-publish state of its own.
type Controller struct {
	cfg       *config.EngineConfig
	log       *zap.Logger
	registry  *registry.Client
	scheduler *scheduler.Scheduler
}

// New creates a publication Controller.
func New(cfg *config.EngineConfig, log *zap.Logger, registryClient *registry.Client, sched *scheduler.Scheduler) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{cfg: cfg, log: log, registry: registryClient, scheduler: sched}
}


// Publish builds a manifest from data, registers it with the origin as
// the sole initial replica, hands replication off to the Scheduler, and
// — if the replica quorum is met — signs and binds domain to the new
// manifest.
func (c *Controller) Publish(
	ctx context.Context,
	id *identity.Identity,
	fileName, mimeType string,
	data []byte,
	chunkSize int,
	domain string,
	mode scheduler.SelectionMode,
	candidates []scheduler.Peer,
	manualPeerIDs []string,
) (*Result, error) {
	man, xfer, err := manifest.Build(fileName, mimeType, data, chunkSize)
	if err != nil {
		return nil, fmt.Errorf("publication: build manifest: %w", err)
	}

	rec := &registry.ManifestRecord{
		ManifestID:  man.ManifestID,
		FileName:    man.FileName,
		MimeType:    man.MimeType,
		FileSize:    man.FileSize,
		ChunkSize:   man.ChunkSize,
		ChunkCount:  man.ChunkCount,
		WholeHash:   man.WholeHash,
		ChunkHashes:  man.ChunkHashes,
		CreatedAt:    man.CreatedAt,
		OriginPeerID: id.OwnerID,
	}
	if c.cfg.StoreChunkData {
		rec.ChunkData = make([]*string, man.ChunkCount)
		for i := 0; i < man.ChunkCount; i++ {
			b64, err := xfer.GetChunkBase64(i)
			if err != nil {
				return nil, fmt.Errorf("publication: encode chunk %d: %w", i, err)
			}
			rec.ChunkData[i] = &b64
		}
	}
	rec.ChunkReplicas = make([][]string, man.ChunkCount)
	for i := range rec.ChunkReplicas {
		rec.ChunkReplicas[i] = []string{id.OwnerID}
	}

	if _, err := c.registry.RegisterManifest(ctx, rec); err != nil {
		return nil, fmt.Errorf("publication: register manifest: %w", err)
	}

	if man.ChunkCount == 0 {
		// An empty manifest has nothing to replicate: it is bound as
		// soon as it is registered (spec.md Open Question resolution).
		if err := c.bindDomain(ctx, id, domain, man.ManifestID); err != nil {
			return nil, err
		}
		return &Result{ManifestID: man.ManifestID, Domain: domain, Outcome: scheduler.OutcomeBound}, nil
	}

	replicaTarget := c.cfg.MaxReplicaTargets
	if mode == scheduler.ModeManual && len(manualPeerIDs) < replicaTarget {
		replicaTarget = len(manualPeerIDs)
	}
	if replicaTarget < 1 {
		replicaTarget = 1
	}
	c.scheduler.InitQuorum(man.ManifestID, replicaTarget)

	if err := c.scheduler.Schedule(ctx, man, xfer, mode, candidates, manualPeerIDs); err != nil {
		c.log.Warn("replication scheduling reported an error", zap.String("manifest_id", man.ManifestID), zap.Error(err))
	}

	q, _ := c.scheduler.Quorum(man.ManifestID)
	if q == nil || !q.Met() {
		outcome := scheduler.OutcomeFailed
		if q != nil && len(q.RemoteAcks) > 0 {
			outcome = scheduler.OutcomePartial
		}
		return &Result{ManifestID: man.ManifestID, Domain: domain, Outcome: outcome}, nil
	}

	if err := c.bindDomain(ctx, id, domain, man.ManifestID); err != nil {
		return nil, err
	}
	return &Result{ManifestID: man.ManifestID, Domain: domain, Outcome: scheduler.OutcomeBound}, nil
}

func (c *Controller) bindDomain(ctx context.Context, id *identity.Identity, rawDomain, manifestID string) error {
	domain, err := registry.NormalizeDomain(rawDomain)
	if err != nil {
		return fmt.Errorf("publication: invalid domain %q: %w", rawDomain, err)
	}

	ts := time.Now()
	sig, err := identity.Sign(id.PrivateKey, registry.BindingPayload(domain, id.OwnerID, manifestID, ts))
	if err != nil {
		return fmt.Errorf("publication: sign domain binding: %w", err)
	}

	existing, err := c.registry.GetDomain(ctx, domain)
	if err != nil {
		return fmt.Errorf("publication: lookup domain: %w", err)
	}

	if existing == nil {
		rec := &registry.DomainRecord{
			Domain:     domain,
			Owner:      id.OwnerID,
			ManifestID: manifestID,
			Signature:  sig,
			PublicKey:  id.PublicKey,
			UpdatedAt:  ts,
		}
		if err := c.registry.RegisterDomain(ctx, rec); err != nil {
			return fmt.Errorf("publication: register domain: %w", err)
		}
		return nil
	}

	diff := registry.DomainDiff{ManifestID: &manifestID, Signature: sig, PublicKey: id.PublicKey, Timestamp: ts}
	if err := c.registry.UpdateDomainBinding(ctx, domain, diff); err != nil {
		return fmt.Errorf("publication: update domain binding: %w", err)
	}
	return nil
}

// PollQuorum blocks until the manifest's quorum gate is met, the
// deadline passes, or ctx is canceled — useful for callers driving an
// async Scheduler rather than Publish's synchronous Schedule call.
func PollQuorum(ctx context.Context, sched *scheduler.Scheduler, manifestID string, interval time.Duration) (*scheduler.QuorumState, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if q, ok := sched.Quorum(manifestID); ok && q.Met() {
			return q, nil
		}
		select {
		case <-ctx.Done():
			q, _ := sched.Quorum(manifestID)
			return q, ctx.Err()
		case <-ticker.C:
		}
	}
}
