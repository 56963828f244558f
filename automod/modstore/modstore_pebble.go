package modstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Embedded single-process store. Keys are "<kind>/<key>", values are JSON.
type PebbleStore struct {
	db *pebble.DB
}

var _ Store = (*PebbleStore)(nil)

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func pebbleKey(kind Kind, key string) []byte {
	return []byte(string(kind) + "/" + key)
}

// iteration bounds covering every key of a kind: "<kind>/" up to (not including) "<kind>0"
func pebbleBounds(kind Kind) ([]byte, []byte) {
	return []byte(string(kind) + "/"), []byte(string(kind) + "0")
}

func (s *PebbleStore) Get(ctx context.Context, kind Kind, key string) (*Record, error) {
	value, closer, err := s.db.Get(pebbleKey(kind, key))
	if closer != nil {
		defer closer.Close()
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("decoding %s record %s: %w", kind, key, err)
	}
	return &rec, nil
}

func (s *PebbleStore) Put(ctx context.Context, kind Kind, key string, rec Record) error {
	rec.Key = key
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Set(pebbleKey(kind, key), b, pebble.Sync)
}

func (s *PebbleStore) Delete(ctx context.Context, kind Kind, key string) error {
	return s.db.Delete(pebbleKey(kind, key), pebble.Sync)
}

func (s *PebbleStore) List(ctx context.Context, kind Kind) ([]Record, error) {
	lower, upper := pebbleBounds(kind)
	iter, err := s.db.NewIterWithContext(ctx, &pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("%s iter start: %w", kind, err)
	}
	defer iter.Close()
	var out []Record
	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, fmt.Errorf("%s iter: %w", kind, err)
		}
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil, fmt.Errorf("decoding %s record %s: %w", kind, iter.Key(), err)
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
