package crypto

import (
	"crypto/ed25519"
	"sync"
)

// SignBackend verifies the Sr25519-shaped (32-byte key, 64-byte signature)
// signatures used by slot seals and GRANDPA votes. No Sr25519 or Ed25519
// third-party library is present anywhere in the retrieved example pack, so
// the default backend is the standard library's crypto/ed25519 — the
// justified stdlib fallback for this one concern (see DESIGN.md).
type SignBackend interface {
	// Verify checks a single signature over msg by pubkey.
	Verify(pubkey [32]byte, msg []byte, sig [64]byte) bool
	// Name returns a human-readable backend identifier.
	Name() string
}

// Ed25519Backend implements SignBackend with crypto/ed25519.
type Ed25519Backend struct{}

func (Ed25519Backend) Name() string { return "ed25519-stdlib" }

func (Ed25519Backend) Verify(pubkey [32]byte, msg []byte, sig [64]byte) bool {
	return ed25519.Verify(pubkey[:], msg, sig[:])
}

var (
	activeMu      sync.RWMutex
	activeBackend SignBackend = Ed25519Backend{}
)

// DefaultSignBackend returns the currently active signature backend.
func DefaultSignBackend() SignBackend {
	activeMu.RLock()
	defer activeMu.RUnlock()
	return activeBackend
}

// SetSignBackend installs a new active backend; nil resets to Ed25519Backend.
func SetSignBackend(b SignBackend) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if b == nil {
		b = Ed25519Backend{}
	}
	activeBackend = b
}
