// Package registry implements a REST client for the external name/
// manifest registry described in spec.md §4.4 and §6.
package registry

import (
	"fmt"
	"time"
)

// BindingPayload is the canonical byte sequence a domain binding's
// signature covers: domain, owner, manifestId and timestamp together,
// so tampering any one of them falsifies verification (spec.md §4.7
// step 6, §8 round-trip property). Both the signing side (Publication
// Controller) and the verifying side (registry server) build the
// signed payload from this one function. timestamp is truncated to
// Unix nanoseconds so both sides hash the same wire-precision value.
func BindingPayload(domain, owner, manifestID string, timestamp time.Time) []byte {
	return []byte(fmt.Sprintf("domain-binding\n%s\n%s\n%s\n%d", domain, owner, manifestID, timestamp.UnixNano()))
}

// ManifestRecord is the registry-side view of a Manifest: per-chunk it
// additionally tracks an optional inline payload, an optional external
// pointer, and the set of replica peers that hold it (invariant R1).
type ManifestRecord struct {
	ManifestID     string     `json:"manifestId"`
	FileName       string     `json:"fileName"`
	MimeType       string     `json:"mimeType"`
	FileSize       int64      `json:"fileSize"`
	ChunkSize      int        `json:"chunkSize"`
	ChunkCount     int        `json:"chunkCount"`
	WholeHash      string     `json:"wholeHash"`
	ChunkHashes    []string   `json:"chunkHashes"`
	CreatedAt      time.Time  `json:"createdAt"`
	ChunkData      []*string  `json:"chunkData"`
	ChunkPointers  []*string  `json:"chunkPointers"`
	ChunkReplicas  [][]string `json:"chunkReplicas"`

	// OriginPeerID is the publishing node's owner id. It is recorded as
	// a replica of every chunk at registration time but does not count
	// toward quorum: the glossary defines quorum as distinct remote
	// replicas (spec.md §4.7, §8 scenario 4).
	OriginPeerID string `json:"originPeerId"`
}

// ReplicaUpdate is the body of PATCH /manifests/{id}/replicas.
type ReplicaUpdate struct {
	PeerID        string    `json:"peerId"`
	ChunkIndexes  []int     `json:"chunkIndexes"`
	Status        string    `json:"status"`
	ReplicatedAt  time.Time `json:"replicatedAt"`
}

// PointerUpdate is the body of PATCH /manifests/{id}/chunks/{i}/pointer.
type PointerUpdate struct {
	Pointer    string     `json:"pointer"`
	RemoveData bool       `json:"removeData"`
	ExpiresAt  *time.Time `json:"expiresAt"`
}

// DomainRecord binds a human name to a manifest, or to "unbound".
type DomainRecord struct {
	Domain     string    `json:"domain"`
	Owner      string    `json:"owner"`
	ManifestID string    `json:"manifestId"`
	Signature  []byte    `json:"signature"`
	PublicKey  []byte    `json:"publicKey"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DomainDiff is a partial update applied via PATCH /domains/{name}.
type DomainDiff struct {
	ManifestID *string   `json:"manifestId,omitempty"`
	Signature  []byte    `json:"signature,omitempty"`
	PublicKey  []byte    `json:"publicKey,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

const (
	// DomainUnbound is the sentinel ManifestID value for a DomainRecord
	// that has not yet been bound to a manifest.
	DomainUnbound = "unbound"

	// ReplicaStatusAvailable marks a replica update as complete.
	ReplicaStatusAvailable = "available"
)
