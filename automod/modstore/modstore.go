package modstore

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	KindBlacklist Kind = "blacklist"
	KindWhitelist Kind = "whitelist"
	KindMuted     Kind = "muted_users"
)

var ErrNotFound = errors.New("record not found")

// Record is the single stored shape for every kind. Fields which don't apply to a kind are left zero.
type Record struct {
	Key         string    `json:"key"`
	Reason      string    `json:"reason,omitempty"`
	AddedAt     time.Time `json:"addedAt"`
	MuteUntil   time.Time `json:"muteUntil,omitempty"`
	Infractions int       `json:"infractions,omitempty"`
}

type Store interface {
	// Returns ErrNotFound if there is no record under key.
	Get(ctx context.Context, kind Kind, key string) (*Record, error)
	Put(ctx context.Context, kind Kind, key string, rec Record) error
	// Deleting a missing record is not an error.
	Delete(ctx context.Context, kind Kind, key string) error
	List(ctx context.Context, kind Kind) ([]Record, error)
	Close() error
}
