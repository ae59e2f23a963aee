// Package agent is the visitor-side half of nudge: identity, the behavioral
// snapshot, session tracking, frequency capping, and the API client a page
// uses to fetch campaigns and report events.
package agent

import (
	"encoding/json"
	"sync"
)

// KeyValueStore is one persistence layer available to the agent: a cookie
// jar, local storage, or session storage.
type KeyValueStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

const (
	visitorIDKey    = "nudge_vid"
	snapshotPrefix  = "nudge_snapshot_"
	sessionKey      = "nudge_session"
	shownKey        = "nudge_shown"
	sessionShownKey = "nudge_session_shown"
)

type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// loadJSON decodes key into dst. Missing or corrupt values leave dst
// untouched and report false.
func loadJSON(store KeyValueStore, key string, dst any) bool {
	raw, ok := store.Get(key)
	if !ok || raw == "" {
		return false
	}
	return json.Unmarshal([]byte(raw), dst) == nil
}

func saveJSON(store KeyValueStore, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Set(key, string(data))
}
