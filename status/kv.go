package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// KV is the pluggable durable storage interface status.Store runs on,
// mirroring the teacher's TokenCounterStore contract: a plain get/set, no
// transactions, safe for concurrent use.
type KV interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
}

func encodeEntries(entries map[string]bool) ([]byte, error) {
	return json.Marshal(entries)
}

func decodeEntries(raw []byte) (map[string]bool, error) {
	var entries map[string]bool
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// MemoryKV is a process-lifetime KV.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *MemoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

// FileKV persists all keys as a single JSON file under a caller-supplied
// path, the durable counterpart to MemoryKV (§6's local-storage tier).
type FileKV struct {
	mu   sync.Mutex
	path string
}

// NewFileKV creates a FileKV backed by path. The file is created lazily
// on first Set.
func NewFileKV(path string) *FileKV {
	return &FileKV{path: path}
}

func (f *FileKV) Get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return nil, false
	}
	v, ok := entries[key]
	return v, ok
}

func (f *FileKV) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		entries = make(map[string][]byte)
	}
	entries[key] = value
	return f.save(entries)
}

func (f *FileKV) load() (map[string][]byte, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var entries map[string][]byte
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (f *FileKV) save(entries map[string][]byte) error {
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, raw, 0o600)
}
