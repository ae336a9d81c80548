// Package scheduler implements the Replication Scheduler (spec.md §4.6):
// per-(manifest,peer) replica jobs driven by a scoring-based peer
// selector and a bounded retry/timeout policy, plus the replica-quorum
// gate.
package scheduler

import "time"

// BackpressureQuantum and PeerFreshnessWindow are not operator-tunable
// through EngineConfig; the retry/timeout/inflight/backpressure-byte
// knobs live there instead (internal/config.EngineConfig).
const (
	BackpressureQuantum = 25 * time.Millisecond

	// PeerFreshnessWindow bounds how recently a peer must have been seen
	// to be eligible in Auto mode.
	PeerFreshnessWindow = 60 * time.Second
)

// ChunkSlotStatus is the per-chunk state in a ReplicaJob's state machine.
type ChunkSlotStatus int

const (
	SlotQueued ChunkSlotStatus = iota
	SlotInFlight
	SlotAcked
	SlotRetry
	SlotFailed
)

func (s ChunkSlotStatus) String() string {
	switch s {
	case SlotQueued:
		return "queued"
	case SlotInFlight:
		return "in-flight"
	case SlotAcked:
		return "acked"
	case SlotRetry:
		return "retry"
	case SlotFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ChunkSlot tracks one chunk's progress within a ReplicaJob.
type ChunkSlot struct {
	Status    ChunkSlotStatus
	Attempts  int
	SentAt    time.Time
	LastError error
}

// Peer is the selection-relevant view of a remote node, per spec.md §3.
type Peer struct {
	PeerID       string
	Capabilities map[string]struct{}
	LastSeen     time.Time

	// Metadata fields are all optional; zero values are treated as
	// "unknown" by the scorer.
	LatencyMs      *float64
	Region         string
	Capacity       *float64
	DeviceMemoryGb *float64
	UptimeMs       *float64
	SuccessRate    *float64

	DisplayName string
	Tags        map[string]string
}

// HasCapability reports whether the peer advertises tag.
func (p Peer) HasCapability(tag string) bool {
	if p.Capabilities == nil {
		return false
	}
	_, ok := p.Capabilities[tag]
	return ok
}

const CapabilityStore = "store"

// QuorumState tracks, per manifest, the replica acknowledgments needed
// before domain binding is permitted (spec.md §4.6.6).
type QuorumState struct {
	ManifestID string
	Required   int
	RemoteAcks map[string]struct{}
	UpdatedAt  time.Time
}

// Met reports whether the quorum gate is satisfied.
func (q *QuorumState) Met() bool {
	return len(q.RemoteAcks) >= q.Required
}

// JobKey identifies a ReplicaJob by (manifestId, targetPeerId).
type JobKey struct {
	ManifestID string
	PeerID     string
}

// JobSnapshot is a read-only view of a ReplicaJob's progress, safe to
// hand to callers outside the scheduler's own goroutine.
type JobSnapshot struct {
	Key           JobKey
	ReplicaTarget int
	CreatedAt     time.Time
	StartedAt     time.Time
	FirstAckAt    *time.Time
	Completed     int
	Failed        int
	Slots         []ChunkSlot
}

// Outcome enumerates terminal publication states (spec.md §7).
type Outcome string

const (
	// OutcomeBound: quorum reached and the domain signed/bound.
	OutcomeBound Outcome = "bound"
	// OutcomePartial: at least one peer fully replicated the manifest
	// but quorum was not reached before scheduling returned.
	OutcomePartial Outcome = "partial"
	// OutcomeFailed: no peer fully replicated the manifest.
	OutcomeFailed Outcome = "failed"
)
