package modstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
)

// Cassandra (or scylla) backed store. All kinds share one table, partitioned by kind.
type CassandraStore struct {
	Session *gocql.Session
}

var _ Store = (*CassandraStore)(nil)

var cassandraCreateTable = `CREATE TABLE IF NOT EXISTS mod_records (kind text, record_key text, reason text, added_at timestamp, mute_until timestamp, infractions int, PRIMARY KEY ((kind), record_key))`

func NewCassandraStore(addrs []string, keyspace string) (*CassandraStore, error) {
	cluster := gocql.NewCluster(addrs...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	slog.Debug("cassandra connect", "addrs", addrs, "keyspace", keyspace)
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connecting to cassandra: %w", err)
	}
	if err := session.Query(cassandraCreateTable).Exec(); err != nil {
		session.Close()
		return nil, fmt.Errorf("cassandra create table: %w", err)
	}
	return &CassandraStore{Session: session}, nil
}

func (s *CassandraStore) Get(ctx context.Context, kind Kind, key string) (*Record, error) {
	rec := Record{Key: key}
	err := s.Session.Query(
		`SELECT reason, added_at, mute_until, infractions FROM mod_records WHERE kind = ? AND record_key = ?`,
		string(kind), key,
	).WithContext(ctx).Scan(&rec.Reason, &rec.AddedAt, &rec.MuteUntil, &rec.Infractions)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *CassandraStore) Put(ctx context.Context, kind Kind, key string, rec Record) error {
	return s.Session.Query(
		`INSERT INTO mod_records (kind, record_key, reason, added_at, mute_until, infractions) VALUES (?, ?, ?, ?, ?, ?)`,
		string(kind), key, rec.Reason, rec.AddedAt, rec.MuteUntil, rec.Infractions,
	).WithContext(ctx).Exec()
}

func (s *CassandraStore) Delete(ctx context.Context, kind Kind, key string) error {
	return s.Session.Query(
		`DELETE FROM mod_records WHERE kind = ? AND record_key = ?`,
		string(kind), key,
	).WithContext(ctx).Exec()
}

func (s *CassandraStore) List(ctx context.Context, kind Kind) ([]Record, error) {
	iter := s.Session.Query(
		`SELECT record_key, reason, added_at, mute_until, infractions FROM mod_records WHERE kind = ?`,
		string(kind),
	).WithContext(ctx).Iter()
	var out []Record
	var rec Record
	for iter.Scan(&rec.Key, &rec.Reason, &rec.AddedAt, &rec.MuteUntil, &rec.Infractions) {
		out = append(out, rec)
		rec = Record{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

func (s *CassandraStore) Close() error {
	s.Session.Close()
	return nil
}
