// Package identity implements keypair generation, owner-id derivation,
// and payload signing for name operations.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
)

// ErrCryptoUnavailable is returned when the runtime cannot produce key
// material.
var ErrCryptoUnavailable = errors.New("identity: crypto unavailable")

// ErrVerifyFailed is returned by Sign/Verify callers that want a typed
// sentinel rather than a bare bool, though Verify itself returns bool per
// the spec contract.
var ErrVerifyFailed = errors.New("identity: signature verification failed")

// Identity holds an owner's keypair and derived id.
type Identity struct {
	OwnerID    string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// CreateIdentity generates a fresh Ed25519 keypair and derives its
// owner id.
func CreateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	return &Identity{
		OwnerID:    OwnerIDOf(pub),
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// OwnerIDOf deterministically derives a collision-resistant owner id
// from a public key: identical bytes always yield identical ids.
func OwnerIDOf(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])
	return "owner1" + strings.ToLower(enc)
}

// Sign signs an opaque payload with the private key.
func Sign(priv ed25519.PrivateKey, payload []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: invalid private key size", ErrCryptoUnavailable)
	}
	return ed25519.Sign(priv, payload), nil
}

// Verify checks a signature against a payload and public key.
func Verify(pub ed25519.PublicKey, payload, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}
