// Named sets of strings, loaded from configuration.
//
// Used for the "trusted-senders" allow-list, which exempts senders from per-sender rate limiting.
package setstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

type SetStore interface {
	InSet(ctx context.Context, name, val string) (bool, error)
}

type MemSetStore struct {
	mu   sync.RWMutex
	Sets map[string]map[string]bool
}

var _ SetStore = (*MemSetStore)(nil)

func NewMemSetStore() *MemSetStore {
	return &MemSetStore{
		Sets: make(map[string]map[string]bool),
	}
}

// Returns false (not an error) when the named set doesn't exist.
func (s *MemSetStore) InSet(ctx context.Context, name, val string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Sets[name][val], nil
}

// Replaces the named set.
func (s *MemSetStore) Put(name string, vals []string) {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sets[name] = m
}

// Loads sets from a JSON file containing an object of arrays: `{"trusted-senders": ["u1", "u2"]}`. Sets in the file replace existing sets of the same name.
func (s *MemSetStore) LoadFromFileJSON(p string) error {
	raw, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	var sets map[string][]string
	if err := json.Unmarshal(raw, &sets); err != nil {
		return fmt.Errorf("parsing set file %s: %w", p, err)
	}
	for name, l := range sets {
		s.Put(name, l)
	}
	return nil
}
