package modstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/util"

	"github.com/redis/go-redis/v9"
)

var redisRecordPrefix string = "modstore/"

// Stores each kind as a single redis hash, keyed by record key, with JSON values.
type RedisStore struct {
	Client *redis.Client
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(redisURL string) (*RedisStore, error) {
	rdb, err := util.RedisClient(context.TODO(), redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{Client: rdb}, nil
}

func redisKindKey(kind Kind) string {
	return redisRecordPrefix + string(kind)
}

func (s *RedisStore) Get(ctx context.Context, kind Kind, key string) (*Record, error) {
	raw, err := s.Client.HGet(ctx, redisKindKey(kind), key).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decoding %s record %s: %w", kind, key, err)
	}
	return &rec, nil
}

func (s *RedisStore) Put(ctx context.Context, kind Kind, key string, rec Record) error {
	rec.Key = key
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.Client.HSet(ctx, redisKindKey(kind), key, string(b)).Err()
}

func (s *RedisStore) Delete(ctx context.Context, kind Kind, key string) error {
	return s.Client.HDel(ctx, redisKindKey(kind), key).Err()
}

func (s *RedisStore) List(ctx context.Context, kind Kind) ([]Record, error) {
	all, err := s.Client.HGetAll(ctx, redisKindKey(kind)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	for key, raw := range all {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decoding %s record %s: %w", kind, key, err)
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}
