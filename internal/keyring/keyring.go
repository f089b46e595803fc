package keyring

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/signetd/signet/internal/profile"
	"github.com/signetd/signet/pkg/cerr"
)

// Keyring holds the user's signing key in memory, loaded from the profile.
// The key may be absent; callers check HasKey before any operation that
// needs it.
type Keyring struct {
	profiles profile.Repository

	mu  sync.RWMutex
	key *secp256k1.PrivateKey
}

func New(profiles profile.Repository) *Keyring {
	return &Keyring{profiles: profiles}
}

// Load reads the profile and parses its private key. An empty key in the
// profile clears the keyring without error.
func (k *Keyring) Load(ctx context.Context) error {
	p, err := k.profiles.Get(ctx)
	if err != nil {
		return err
	}

	raw := strings.TrimSpace(p.PrivateKey)
	if raw == "" {
		k.mu.Lock()
		k.key = nil
		k.mu.Unlock()
		return nil
	}

	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return cerr.NewError(cerr.FailedPrecondition, "invalid private key", err)
	}
	if len(decoded) != secp256k1.PrivKeyBytesLen {
		return cerr.NewError(cerr.FailedPrecondition, "invalid private key",
			fmt.Errorf("expected %d key bytes, got %d", secp256k1.PrivKeyBytesLen, len(decoded)))
	}

	k.mu.Lock()
	k.key = secp256k1.PrivKeyFromBytes(decoded)
	k.mu.Unlock()
	return nil
}

// HasKey reloads the profile and reports whether a usable key is present.
// Reloading on every check keeps the keyring honest when the profile is
// edited out of band between watcher events.
func (k *Keyring) HasKey(ctx context.Context) bool {
	if err := k.Load(ctx); err != nil {
		return false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.key != nil
}

// Key returns the loaded private key, or nil.
func (k *Keyring) Key() *secp256k1.PrivateKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.key
}

// PublicKeyHex returns the x-only public key as lowercase hex.
func (k *Keyring) PublicKeyHex() (string, error) {
	k.mu.RLock()
	key := k.key
	k.mu.RUnlock()
	if key == nil {
		return "", cerr.NewError(cerr.FailedPrecondition, "no private key loaded", nil)
	}
	return hex.EncodeToString(key.PubKey().SerializeCompressed()[1:]), nil
}
