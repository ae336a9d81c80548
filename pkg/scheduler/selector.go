package scheduler

import (
	"sort"
	"time"

	"github.com/bazobehram/dweb-hosting-network-sub000/internal/config"
)

// Score computes a peer's Auto-mode selection score (spec.md §4.6.1):
//
//	score = base + latencyTerm + capacityTerm + memoryTerm + regionBonus
//	        + uptimeBonus - stalenessPenalty
//
// Every weight and cap below is a design constant and must match the
// spec exactly to reproduce its ordering.
func Score(p Peer, now time.Time) float64 {
	base := 10.0
	if p.HasCapability(CapabilityStore) {
		base = 40
	}

	var latencyTerm float64
	if p.LatencyMs != nil {
		latencyTerm = clamp(200-*p.LatencyMs, 0, 200) / 5
	}

	var capacityTerm float64
	if p.Capacity != nil {
		capacityTerm = clamp(*p.Capacity, 0, 16) * 2
	}

	var memoryTerm float64
	if p.DeviceMemoryGb != nil {
		memoryTerm = clamp(*p.DeviceMemoryGb, 0, 16)
	}

	var regionBonus float64
	if p.Region != "" && p.Region != "unknown" {
		regionBonus = 5
	}

	var uptimeBonus float64
	if p.UptimeMs != nil {
		uptimeBonus = clamp(*p.UptimeMs/60000, 0, 10)
	}

	stalenessPenalty := clamp(now.Sub(p.LastSeen).Seconds(), 0, 120) / 2

	return base + latencyTerm + capacityTerm + memoryTerm + regionBonus + uptimeBonus - stalenessPenalty
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// eligibleAuto reports whether p may be scored for Auto selection: it
// must be fresh, and it must advertise either no capabilities at all
// (treated as generic) or the store capability (spec.md §4.6.1).
func eligibleAuto(p Peer, now time.Time) bool {
	if now.Sub(p.LastSeen) > PeerFreshnessWindow {
		return false
	}
	if len(p.Capabilities) == 0 {
		return true
	}
	return p.HasCapability(CapabilityStore)
}

// SelectAuto ranks eligible candidates by Score descending (ties broken
// by PeerID for a deterministic order) and returns the top n. Peers that
// are stale, or that advertise capabilities excluding store, are dropped
// outright rather than merely de-prioritized.
func SelectAuto(candidates []Peer, n int, now time.Time) []Peer {
	eligible := make([]Peer, 0, len(candidates))
	for _, p := range candidates {
		if eligibleAuto(p, now) {
			eligible = append(eligible, p)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		si, sj := Score(eligible[i], now), Score(eligible[j], now)
		if si != sj {
			return si > sj
		}
		return eligible[i].PeerID < eligible[j].PeerID
	})

	if n < 0 {
		n = 0
	}
	if n > len(eligible) {
		n = len(eligible)
	}
	return eligible[:n]
}

// SelectManual filters candidates down to the explicitly requested peer
// IDs, preserving the caller's order and capping at ManualReplicaLimit.
// Requested peers absent from candidates are silently skipped: a manual
// set can only ever target peers currently known to the caller.
func SelectManual(candidates []Peer, peerIDs []string) []Peer {
	byID := make(map[string]Peer, len(candidates))
	for _, p := range candidates {
		byID[p.PeerID] = p
	}

	limit := len(peerIDs)
	if limit > config.ManualReplicaLimit {
		limit = config.ManualReplicaLimit
	}

	out := make([]Peer, 0, limit)
	for _, id := range peerIDs[:limit] {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
