package countstore

import (
	"context"
	"sync"
	"time"
)

// In-process counters; buckets are never expired.
type MemCountStore struct {
	// overridable for tests
	Now func() time.Time

	lk       sync.Mutex
	counts   map[string]int
	distinct map[string]map[string]struct{}
}

var _ CountStore = (*MemCountStore)(nil)

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		Now:      time.Now,
		counts:   make(map[string]int),
		distinct: make(map[string]map[string]struct{}),
	}
}

func (s *MemCountStore) GetCount(ctx context.Context, name, key, period string) (int, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.counts[bucketKey(name, key, period, s.Now())], nil
}

func (s *MemCountStore) Increment(ctx context.Context, name, key string) error {
	now := s.Now()
	s.lk.Lock()
	defer s.lk.Unlock()
	for _, p := range allPeriods {
		s.counts[bucketKey(name, key, p, now)]++
	}
	return nil
}

func (s *MemCountStore) GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	return len(s.distinct[bucketKey(name, bucket, period, s.Now())]), nil
}

func (s *MemCountStore) IncrementDistinct(ctx context.Context, name, bucket, val string) error {
	now := s.Now()
	s.lk.Lock()
	defer s.lk.Unlock()
	for _, p := range allPeriods {
		k := bucketKey(name, bucket, p, now)
		set, ok := s.distinct[k]
		if !ok {
			set = make(map[string]struct{})
			s.distinct[k] = set
		}
		set[val] = struct{}{}
	}
	return nil
}
