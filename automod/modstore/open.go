package modstore

import (
	"fmt"
	"net/url"
	"strings"
)

// Open selects a Store implementation based on the URL scheme:
//
// - "memory://" (no persistence; for development and tests)
// - "redis://..." or "rediss://..."
// - "sqlite://path", "sqlite=path", "postgres://...", "postgresql://...", "postgres=<dsn>"
// - "pebble://path/to/dir"
// - "cassandra://host1,host2/keyspace"
func Open(storeURL string, maxConnections int) (Store, error) {
	switch {
	case storeURL == "" || strings.HasPrefix(storeURL, "memory://"):
		return NewMemStore(), nil
	case strings.HasPrefix(storeURL, "redis://") || strings.HasPrefix(storeURL, "rediss://"):
		return NewRedisStore(storeURL)
	case strings.HasPrefix(storeURL, "sqlite"), strings.HasPrefix(storeURL, "postgres"):
		db, err := SetupDatabase(storeURL, maxConnections)
		if err != nil {
			return nil, err
		}
		return NewGormStore(db)
	case strings.HasPrefix(storeURL, "pebble://"):
		return NewPebbleStore(strings.TrimPrefix(storeURL, "pebble://"))
	case strings.HasPrefix(storeURL, "cassandra://"):
		u, err := url.Parse(storeURL)
		if err != nil {
			return nil, fmt.Errorf("parsing cassandra URL: %w", err)
		}
		keyspace := strings.Trim(u.Path, "/")
		if keyspace == "" {
			return nil, fmt.Errorf("cassandra URL must include a keyspace path")
		}
		return NewCassandraStore(strings.Split(u.Host, ","), keyspace)
	}
	return nil, fmt.Errorf("unsupported store URL scheme")
}
