package flagstore

import (
	"context"
	"sync"
)

type MemFlagStore struct {
	lk   sync.RWMutex
	data map[string]map[string]struct{}
}

var _ FlagStore = (*MemFlagStore)(nil)

func NewMemFlagStore() *MemFlagStore {
	return &MemFlagStore{
		data: make(map[string]map[string]struct{}),
	}
}

func (s *MemFlagStore) Get(ctx context.Context, key string) ([]string, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	return sortedKeys(s.data[key]), nil
}

func (s *MemFlagStore) Add(ctx context.Context, key string, flags []string) error {
	if len(flags) == 0 {
		return nil
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	set, ok := s.data[key]
	if !ok {
		set = make(map[string]struct{}, len(flags))
		s.data[key] = set
	}
	for _, f := range flags {
		set[f] = struct{}{}
	}
	return nil
}

func (s *MemFlagStore) Remove(ctx context.Context, key string, flags []string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	set, ok := s.data[key]
	if !ok {
		return nil
	}
	for _, f := range flags {
		delete(set, f)
	}
	if len(set) == 0 {
		delete(s.data, key)
	}
	return nil
}
