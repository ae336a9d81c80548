package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func f(v float64) *float64 { return &v }

func TestScoreRewardsStoreCapability(t *testing.T) {
	now := time.Now()
	withCap := Peer{PeerID: "a", Capabilities: map[string]struct{}{CapabilityStore: {}}, LastSeen: now}
	without := Peer{PeerID: "b", LastSeen: now}
	assert.Greater(t, Score(withCap, now), Score(without, now))
}

func TestScorePenalizesLatencyAndStaleness(t *testing.T) {
	now := time.Now()
	fast := Peer{PeerID: "fast", LatencyMs: f(10), LastSeen: now}
	slow := Peer{PeerID: "slow", LatencyMs: f(900), LastSeen: now}
	assert.Greater(t, Score(fast, now), Score(slow, now))

	fresh := Peer{PeerID: "fresh", LastSeen: now}
	stale := Peer{PeerID: "stale", LastSeen: now.Add(-15 * time.Minute)}
	assert.Greater(t, Score(fresh, now), Score(stale, now))
}

func TestScoreRegionBonus(t *testing.T) {
	now := time.Now()
	known := Peer{PeerID: "a", Region: "eu-west", LastSeen: now}
	unknown := Peer{PeerID: "b", Region: "unknown", LastSeen: now}
	absent := Peer{PeerID: "c", LastSeen: now}
	assert.Greater(t, Score(known, now), Score(unknown, now))
	assert.Equal(t, Score(unknown, now), Score(absent, now))
}

// TestScoreMatchesLiteralFormula pins the exact weights spec.md §4.6.1
// requires — "MUST be implemented exactly to reproduce ordering" — so a
// future edit that drifts the constants fails loudly instead of only
// shifting qualitative orderings.
func TestScoreMatchesLiteralFormula(t *testing.T) {
	now := time.Now()
	lastSeen := now.Add(-90 * time.Second)
	p := Peer{
		PeerID:         "a",
		Capabilities:   map[string]struct{}{CapabilityStore: {}},
		LastSeen:       lastSeen,
		LatencyMs:      f(150),
		Region:         "eu-west",
		Capacity:       f(20),
		DeviceMemoryGb: f(32),
		UptimeMs:       f(30 * 60 * 1000),
	}
	// base(40) + latency((200-150)/5=10) + capacity(min(20,16)*2=32)
	// + memory(min(32,16)=16) + region(5) + uptime(min(30,10)=10)
	// - staleness(min(90,120)/2=45)
	want := 40.0 + 10.0 + 32.0 + 16.0 + 5.0 + 10.0 - 45.0
	assert.InDelta(t, want, Score(p, now), 1e-9)
}

func TestSelectAutoDropsStalePeers(t *testing.T) {
	now := time.Now()
	candidates := []Peer{
		{PeerID: "live", LastSeen: now},
		{PeerID: "dead", LastSeen: now.Add(-2 * time.Hour)},
	}
	out := SelectAuto(candidates, 5, now)
	assert.Len(t, out, 1)
	assert.Equal(t, "live", out[0].PeerID)
}

func TestSelectAutoDropsNonStoreCapabilityPeers(t *testing.T) {
	now := time.Now()
	candidates := []Peer{
		{PeerID: "generic", LastSeen: now},
		{PeerID: "store", LastSeen: now, Capabilities: map[string]struct{}{CapabilityStore: {}}},
		{PeerID: "relay-only", LastSeen: now, Capabilities: map[string]struct{}{"relay": {}}},
	}
	out := SelectAuto(candidates, 5, now)
	ids := make([]string, len(out))
	for i, p := range out {
		ids[i] = p.PeerID
	}
	assert.ElementsMatch(t, []string{"generic", "store"}, ids)
}

func TestSelectAutoCapsAtN(t *testing.T) {
	now := time.Now()
	candidates := []Peer{
		{PeerID: "a", LastSeen: now},
		{PeerID: "b", LastSeen: now},
		{PeerID: "c", LastSeen: now},
	}
	out := SelectAuto(candidates, 2, now)
	assert.Len(t, out, 2)
}

func TestSelectAutoOrdersByScoreDescending(t *testing.T) {
	now := time.Now()
	candidates := []Peer{
		{PeerID: "slow", LatencyMs: f(500), LastSeen: now},
		{PeerID: "fast", LatencyMs: f(5), LastSeen: now},
	}
	out := SelectAuto(candidates, 2, now)
	assert.Equal(t, "fast", out[0].PeerID)
	assert.Equal(t, "slow", out[1].PeerID)
}

func TestSelectManualCapsAtLimitAndSkipsUnknown(t *testing.T) {
	candidates := []Peer{
		{PeerID: "p1"}, {PeerID: "p2"}, {PeerID: "p3"},
		{PeerID: "p4"}, {PeerID: "p5"}, {PeerID: "p6"},
	}
	requested := []string{"p1", "ghost", "p2", "p3", "p4", "p5", "p6"}
	out := SelectManual(candidates, requested)
	assert.LessOrEqual(t, len(out), 5)
	for _, p := range out {
		assert.NotEqual(t, "ghost", p.PeerID)
	}
}
