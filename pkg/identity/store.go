package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Load when no identity is persisted for the
// given owner id.
var ErrNotFound = errors.New("identity: not found")

// diskIdentity is the on-disk encoding; key material never leaves this
// file in any other form.
type diskIdentity struct {
	OwnerID    string `json:"owner_id"`
	PublicKey  []byte `json:"public_key"`
	PrivateKey []byte `json:"private_key"`
}

// Store persists an Identity in dataDir/identities/<ownerId>.json with
// owner-only permissions, mirroring the registry's own
// MkdirAll-then-WriteFile persistence pattern.
func Store(dataDir string, id *Identity) error {
	dir := filepath.Join(dataDir, "identities")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("identity: create store dir: %w", err)
	}

	data, err := json.Marshal(diskIdentity{
		OwnerID:    id.OwnerID,
		PublicKey:  id.PublicKey,
		PrivateKey: id.PrivateKey,
	})
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}

	path := filepath.Join(dir, id.OwnerID+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("identity: write: %w", err)
	}
	return nil
}

// Load retrieves a previously stored Identity by owner id.
func Load(dataDir, ownerID string) (*Identity, error) {
	path := filepath.Join(dataDir, "identities", ownerID+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity: read: %w", err)
	}

	var d diskIdentity
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("identity: unmarshal: %w", err)
	}

	return &Identity{
		OwnerID:    d.OwnerID,
		PublicKey:  d.PublicKey,
		PrivateKey: d.PrivateKey,
	}, nil
}
