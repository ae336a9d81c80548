package manifest

import (
	"encoding/base64"
	"fmt"
	"sync"
)

// Transfer is a random-access view over a Manifest's chunk bytes, index
// bounds validated. It lazily caches a base64 encoding of each chunk for
// peers that request chunk-upload/chunk-response payloads.
type Transfer struct {
	manifestID string
	chunks     [][]byte
	mu         sync.Mutex
	b64Cache   []string
}

// ManifestID returns the manifest id this transfer belongs to.
func (t *Transfer) ManifestID() string {
	return t.manifestID
}

// ChunkCount returns the number of chunks in this transfer.
func (t *Transfer) ChunkCount() int {
	return len(t.chunks)
}

// GetChunk returns the raw bytes at index, or an error if out of range.
func (t *Transfer) GetChunk(index int) ([]byte, error) {
	if index < 0 || index >= len(t.chunks) {
		return nil, fmt.Errorf("manifest: chunk index %d out of range [0,%d)", index, len(t.chunks))
	}
	return t.chunks[index], nil
}

// GetChunkBase64 returns the standard-alphabet base64 encoding of the
// chunk at index, computing and caching it on first use.
func (t *Transfer) GetChunkBase64(index int) (string, error) {
	if index < 0 || index >= len(t.chunks) {
		return "", fmt.Errorf("manifest: chunk index %d out of range [0,%d)", index, len(t.chunks))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.b64Cache[index] == "" {
		t.b64Cache[index] = base64.StdEncoding.EncodeToString(t.chunks[index])
	}
	return t.b64Cache[index], nil
}
