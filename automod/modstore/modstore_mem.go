package modstore

import (
	"context"
	"sort"
	"sync"
)

type MemStore struct {
	lk   sync.RWMutex
	data map[Kind]map[string]Record
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[Kind]map[string]Record),
	}
}

func (s *MemStore) Get(ctx context.Context, kind Kind, key string) (*Record, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	rec, ok := s.data[kind][key]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemStore) Put(ctx context.Context, kind Kind, key string, rec Record) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	m, ok := s.data[kind]
	if !ok {
		m = make(map[string]Record)
		s.data[kind] = m
	}
	rec.Key = key
	m[key] = rec
	return nil
}

func (s *MemStore) Delete(ctx context.Context, kind Kind, key string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.data[kind], key)
	return nil
}

// returns records sorted by AddedAt, then key
func (s *MemStore) List(ctx context.Context, kind Kind) ([]Record, error) {
	s.lk.RLock()
	out := make([]Record, 0, len(s.data[kind]))
	for _, rec := range s.data[kind] {
		out = append(out, rec)
	}
	s.lk.RUnlock()
	sortRecords(out)
	return out, nil
}

func (s *MemStore) Close() error {
	return nil
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].AddedAt.Equal(recs[j].AddedAt) {
			return recs[i].Key < recs[j].Key
		}
		return recs[i].AddedAt.Before(recs[j].AddedAt)
	})
}
