// Package checkpoint tracks, per dialog, the highest message ID already
// persisted by the sync service. It is the engine's sole durable progress
// marker: on restart the sync service resumes GetHistory from Get(dialogID)
// instead of re-fetching a dialog's full history. Backed by the same
// atomic-write discipline the gateway's session storage uses, so a crash
// mid-write never corrupts the file.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"chatarchiver/internal/infra/storage"
)

// Store is a single map[dialogID]lastMessageID guarded by a mutex and
// mirrored to disk on every Put. Missing file on load is equivalent to an
// empty map: a fresh engine starts every dialog from message ID 0.
type Store struct {
	path string

	mu   sync.Mutex
	data map[int64]int64
}

// Load reads path if present and returns a Store seeded from it. A missing
// file is not an error.
func Load(path string) (*Store, error) {
	s := &Store{path: path, data: make(map[int64]int64)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return s, nil
}

// Get returns the last persisted message ID for dialogID, or 0 if the
// dialog has never been checkpointed.
func (s *Store) Get(dialogID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[dialogID]
}

// Put records lastMessageID for dialogID and flushes the whole map to disk.
// A Put with a lower value than what is already recorded is ignored: the
// checkpoint only ever moves forward.
func (s *Store) Put(dialogID, lastMessageID int64) error {
	s.mu.Lock()
	if lastMessageID <= s.data[dialogID] {
		s.mu.Unlock()
		return nil
	}
	s.data[dialogID] = lastMessageID
	snapshot := make(map[int64]int64, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	s.mu.Unlock()

	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := storage.AtomicWriteFile(s.path, encoded); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", s.path, err)
	}
	return nil
}

// Snapshot returns a copy of the whole map, used by the debug snapshot
// dumper and by tests.
func (s *Store) Snapshot() map[int64]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]int64, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}
