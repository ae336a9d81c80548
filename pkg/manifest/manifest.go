// Package manifest builds immutable chunked-blob manifests and exposes a
// random-access Transfer view over their chunks.
package manifest

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultChunkSize is the spec-mandated default chunk size in bytes.
const DefaultChunkSize = 262144

// Manifest is an immutable description of a single chunked blob.
// Invariants M1-M4 (spec.md §3) hold by construction: Build is the only
// constructor, and every field here is read-only from the caller's
// perspective after it returns.
type Manifest struct {
	ManifestID  string
	FileName    string
	MimeType    string
	FileSize    int64
	ChunkSize   int
	ChunkCount  int
	WholeHash   string
	ChunkHashes []string
	CreatedAt   time.Time
}

// ComputeHash returns H(bytes) = BASE64URL(SHA-256(bytes)), no padding.
// Exposed so peers can verify incoming chunks independently.
func ComputeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Build slices data into chunkSize fragments, computes per-chunk and
// whole-blob hashes, and returns an immutable Manifest plus a Transfer
// view over the chunk bytes. A chunkSize <= 0 uses DefaultChunkSize.
func Build(fileName, mimeType string, data []byte, chunkSize int) (*Manifest, *Transfer, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	fileSize := int64(len(data))
	chunkCount := 0
	if fileSize > 0 {
		chunkCount = int((fileSize + int64(chunkSize) - 1) / int64(chunkSize))
	}

	if mimeType == "" {
		mimeType = sniffMimeType(data)
	}

	chunks := make([][]byte, chunkCount)
	chunkHashes := make([]string, chunkCount)
	whole := sha256.New()
	for i := 0; i < chunkCount; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := make([]byte, end-start)
		copy(chunk, data[start:end])
		chunks[i] = chunk
		chunkHashes[i] = ComputeHash(chunk)
		if _, err := whole.Write(chunk); err != nil {
			return nil, nil, fmt.Errorf("manifest: hashing whole blob: %w", err)
		}
	}
	wholeHash := base64.RawURLEncoding.EncodeToString(whole.Sum(nil))

	m := &Manifest{
		ManifestID:  uuid.NewString(),
		FileName:    fileName,
		MimeType:    mimeType,
		FileSize:    fileSize,
		ChunkSize:   chunkSize,
		ChunkCount:  chunkCount,
		WholeHash:   wholeHash,
		ChunkHashes: chunkHashes,
		CreatedAt:   time.Now(),
	}

	t := &Transfer{
		manifestID: m.ManifestID,
		chunks:     chunks,
		b64Cache:   make([]string, chunkCount),
	}

	return m, t, nil
}

func sniffMimeType(data []byte) string {
	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}
	return http.DetectContentType(sample)
}

// Verify checks invariant M3 against a reconstructed byte slice, useful
// in tests and for peers verifying an inbound transfer.
func (m *Manifest) Verify(data []byte) error {
	if int64(len(data)) != m.FileSize {
		return fmt.Errorf("manifest: size mismatch: got %d want %d", len(data), m.FileSize)
	}
	if ComputeHash(data) != m.WholeHash {
		return fmt.Errorf("manifest: whole hash mismatch")
	}
	return nil
}
