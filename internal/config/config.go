// Package config defines the engine's runtime configuration knobs.
package config

import "time"

// ManualReplicaLimit bounds the size of a manual peer-selection set.
const ManualReplicaLimit = 5

// AckQuorumDefault is the spec's ACK_QUORUM_DEFAULT: the quorum target
// used whenever a caller doesn't override AckQuorum, and the baseline
// the registry's own policy check enforces independently of whatever
// replicaTarget a scheduler had in mind.
const AckQuorumDefault = 2

// EngineConfig collects the dynamic flags that govern replication,
// storage fallback, and backpressure behavior.
type EngineConfig struct {
	// StoreChunkData keeps inline chunk bytes on the registry record.
	StoreChunkData bool
	// UploadChunksToStorage enables the storage-service fallback path.
	UploadChunksToStorage bool
	// AutoReplicaSelection toggles auto vs manual peer selection.
	AutoReplicaSelection bool
	// MaxReplicaTargets caps replicaTarget; must be in [1, ManualReplicaLimit].
	MaxReplicaTargets int
	// AckQuorum is the quorum target before capping at MaxReplicaTargets.
	AckQuorum int
	// AckTimeout bounds how long a chunk upload waits for an ack.
	AckTimeout time.Duration
	// MaxRetries is the per-slot retry budget R.
	MaxRetries int
	// MaxInflight caps concurrent in-flight chunks per job.
	MaxInflight int
	// BackpressureThresholdBytes is the bufferedAmount stall threshold.
	BackpressureThresholdBytes uint64

	// RegistryBaseURL / RegistryAPIKey configure the registry REST client.
	RegistryBaseURL string
	RegistryAPIKey  string

	// StorageBaseURL / StorageAPIKey configure the storage fallback client.
	StorageBaseURL string
	StorageAPIKey  string

	// Debug selects a development logger when true.
	Debug bool
}

// DefaultEngineConfig returns the spec-mandated defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		StoreChunkData:             false,
		UploadChunksToStorage:      false,
		AutoReplicaSelection:       true,
		MaxReplicaTargets:          2,
		AckQuorum:                  AckQuorumDefault,
		AckTimeout:                 8 * time.Second,
		MaxRetries:                 3,
		MaxInflight:                2,
		BackpressureThresholdBytes: 512_000,
	}
}

// Validate clamps out-of-range values the way a caller who hand-built an
// EngineConfig might produce them. It never rejects a config and always
// returns nil.
func (c *EngineConfig) Validate() error {
	if c.MaxReplicaTargets < 1 {
		c.MaxReplicaTargets = 1
	}
	if c.MaxReplicaTargets > ManualReplicaLimit {
		c.MaxReplicaTargets = ManualReplicaLimit
	}
	if c.AckQuorum < 1 {
		c.AckQuorum = 1
	}
	if c.AckQuorum > c.MaxReplicaTargets {
		c.AckQuorum = c.MaxReplicaTargets
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 8 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxInflight < 1 {
		c.MaxInflight = 1
	}
	if c.BackpressureThresholdBytes == 0 {
		c.BackpressureThresholdBytes = 512_000
	}
	return nil
}
