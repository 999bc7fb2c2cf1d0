// Package status tracks read/unread state for messages, keyed by a
// caller-supplied content hash, over a pluggable KV, grounded on the
// teacher's TokenCounterStore interface-plus-in-memory-impl pattern.
package status

import "context"

// Status is the read/unread state of one message.
type Status int

const (
	Unread Status = iota
	Read
)

func (s Status) String() string {
	if s == Read {
		return "read"
	}
	return "unread"
}

// keyPrefix namespaces status entries in KV per wallet, matching §6's
// "message_statuses:<wallet>" naming.
const keyPrefix = "message_statuses:"

// Store tracks read/unread state for a single wallet's messages.
type Store struct {
	wallet string
	kv     KV
}

// NewStore creates a Store for wallet over kv.
func NewStore(wallet string, kv KV) *Store {
	return &Store{wallet: wallet, kv: kv}
}

// Read returns the status of hash, defaulting to Unread if never marked.
func (s *Store) Read(hash string) Status {
	entries := s.load()
	if entries[hash] {
		return Read
	}
	return Unread
}

// MarkRead marks hash as read and flushes immediately.
func (s *Store) MarkRead(hash string) error {
	entries := s.load()
	entries[hash] = true
	return s.save(entries)
}

// MarkUnread clears the read flag for hash and flushes immediately.
func (s *Store) MarkUnread(hash string) error {
	entries := s.load()
	delete(entries, hash)
	return s.save(entries)
}

// Flush is a no-op for Store: every Mark call already persists through
// KV.Set. It exists to satisfy callers that batch state before a
// deliberate checkpoint, matching the shape other durable stores in this
// codebase expose.
func (s *Store) Flush(ctx context.Context) error {
	return nil
}

func (s *Store) load() map[string]bool {
	raw, ok := s.kv.Get(keyPrefix + s.wallet)
	if !ok {
		return make(map[string]bool)
	}
	entries, err := decodeEntries(raw)
	if err != nil {
		return make(map[string]bool)
	}
	return entries
}

func (s *Store) save(entries map[string]bool) error {
	raw, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	return s.kv.Set(keyPrefix+s.wallet, raw)
}
