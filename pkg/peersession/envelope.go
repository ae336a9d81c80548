package peersession

import "time"

// Envelope type tags for the text (UTF-8 JSON) message protocol of
// spec.md §4.5. Fields are omitted where not applicable to a given type.
const (
	TypeManifest         = "manifest"
	TypeChunkHeader       = "chunk"
	TypeTransferComplete  = "transfer-complete"
	TypeChunkRequest      = "chunk-request"
	TypeChunkResponse     = "chunk-response"
	TypeChunkError        = "chunk-error"
	TypeChunkUpload       = "chunk-upload"
	TypeChunkUploadAck    = "chunk-upload-ack"
	TypeChunkUploadNack   = "chunk-upload-nack"
)

// Envelope is the generic shape every text message is unmarshaled into
// first, so the caller can dispatch on Type before decoding the rest.
type Envelope struct {
	Type string `json:"type"`
}

// ChunkHeader precedes exactly one binary frame of ByteLength bytes
// (ordering invariant P1).
type ChunkHeader struct {
	Type        string `json:"type"`
	TransferID  string `json:"transferId"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	ByteLength  int    `json:"byteLength"`
}

// TransferComplete marks the end of a push transfer.
type TransferComplete struct {
	Type       string `json:"type"`
	TransferID string `json:"transferId"`
	FileName   string `json:"fileName"`
}

// ChunkRequest asks a peer for a single chunk by index.
type ChunkRequest struct {
	Type       string `json:"type"`
	RequestID  string `json:"requestId"`
	ManifestID string `json:"manifestId"`
	ChunkIndex int    `json:"chunkIndex"`
}

// ChunkResponse answers a ChunkRequest with base64-encoded data.
type ChunkResponse struct {
	Type       string `json:"type"`
	RequestID  string `json:"requestId"`
	ManifestID string `json:"manifestId"`
	ChunkIndex int    `json:"chunkIndex"`
	Data       string `json:"data"`
}

// ChunkError answers a ChunkRequest that could not be satisfied.
type ChunkError struct {
	Type       string `json:"type"`
	RequestID  string `json:"requestId"`
	ManifestID string `json:"manifestId"`
	ChunkIndex int    `json:"chunkIndex"`
	Reason     string `json:"reason"`
}

// ChunkUpload pushes a chunk (with its hash, for independent peer-side
// verification) to a replication target.
type ChunkUpload struct {
	Type       string `json:"type"`
	ManifestID string `json:"manifestId"`
	ChunkIndex int    `json:"chunkIndex"`
	Data       string `json:"data"`
	Hash       string `json:"hash"`
}

// ChunkUploadAck acknowledges a successfully stored ChunkUpload.
type ChunkUploadAck struct {
	Type       string `json:"type"`
	ManifestID string `json:"manifestId"`
	ChunkIndex int    `json:"chunkIndex"`
	PeerID     string `json:"peerId"`
	Status     string `json:"status"`
}

// ChunkUploadNack rejects a ChunkUpload (e.g. hash-mismatch).
type ChunkUploadNack struct {
	Type       string `json:"type"`
	ManifestID string `json:"manifestId"`
	ChunkIndex int    `json:"chunkIndex"`
	PeerID     string `json:"peerId"`
	Reason     string `json:"reason"`
}

// ManifestPush carries a full manifest plus the timestamp of the push,
// for peers that log transfer age.
type ManifestPush struct {
	Type        string    `json:"type"`
	ManifestID  string    `json:"manifestId"`
	FileName    string    `json:"fileName"`
	MimeType    string    `json:"mimeType"`
	FileSize    int64     `json:"fileSize"`
	ChunkSize   int       `json:"chunkSize"`
	ChunkCount  int       `json:"chunkCount"`
	WholeHash   string    `json:"wholeHash"`
	ChunkHashes []string  `json:"chunkHashes"`
	CreatedAt   time.Time `json:"createdAt"`
	PushedAt    time.Time `json:"pushedAt"`
}

const (
	NackReasonHashMismatch = "hash-mismatch"
	NackReasonNoSpace      = "no-space"
	AckStatusOK            = "ok"
)
