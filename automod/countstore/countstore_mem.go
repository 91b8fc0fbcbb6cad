package countstore

import (
	"context"
	"sync"
	"time"
)

// In-process counters. Hour and day buckets are never expired, so this is only suitable for tests and short-lived processes.
type MemCountStore struct {
	mu             sync.Mutex
	Counts         map[string]int
	DistinctCounts map[string]map[string]bool

	now func() time.Time
}

var _ CountStore = (*MemCountStore)(nil)

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		Counts:         make(map[string]int),
		DistinctCounts: make(map[string]map[string]bool),
		now:            time.Now,
	}
}

func (s *MemCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Counts[periodBucket(name, val, period, s.now())], nil
}

func (s *MemCountStore) Increment(ctx context.Context, name, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, p := range AllPeriods {
		s.Counts[periodBucket(name, val, p, now)]++
	}
	return nil
}

func (s *MemCountStore) GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.DistinctCounts[periodBucket(name, bucket, period, s.now())]), nil
}

func (s *MemCountStore) IncrementDistinct(ctx context.Context, name, bucket, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, p := range AllPeriods {
		k := periodBucket(name, bucket, p, now)
		m, ok := s.DistinctCounts[k]
		if !ok {
			m = make(map[string]bool)
			s.DistinctCounts[k] = m
		}
		m[val] = true
	}
	return nil
}
