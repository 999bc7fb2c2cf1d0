// Package room implements the per-room symmetric keystore: an
// insertion-ordered, deduplicated set of 32-byte keys, grounded on the
// teacher's mutex-guarded InMemoryTokenStore.
package room

import "sync"

// Keystore holds the symmetric keys a participant knows for one room. The
// first inserted key is primary and is used to encrypt new outgoing
// messages; all keys are tried on decrypt, in insertion order.
type Keystore struct {
	mu      sync.RWMutex
	ordered [][32]byte
	seen    map[[32]byte]struct{}
}

// NewKeystore creates an empty Keystore.
func NewKeystore() *Keystore {
	return &Keystore{seen: make(map[[32]byte]struct{})}
}

// Add inserts k if it is not already present. Re-announcing a known key is
// a no-op.
func (k *Keystore) Add(key [32]byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.seen[key]; ok {
		return
	}
	k.seen[key] = struct{}{}
	k.ordered = append(k.ordered, key)
}

// All returns the keys in insertion order. The returned slice is a copy;
// callers may not mutate the keystore through it.
func (k *Keystore) All() [][32]byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([][32]byte, len(k.ordered))
	copy(out, k.ordered)
	return out
}

// Primary returns the first-inserted key and true, or the zero key and
// false if the keystore is empty.
func (k *Keystore) Primary() ([32]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if len(k.ordered) == 0 {
		return [32]byte{}, false
	}
	return k.ordered[0], true
}

// Len returns the number of distinct keys held.
func (k *Keystore) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.ordered)
}
