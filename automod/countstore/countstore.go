package countstore

import (
	"context"
	"log/slog"
	"time"
)

const (
	PeriodTotal = "total"
	PeriodDay   = "day"
	PeriodHour  = "hour"
)

// Counter names used by the moderation engine. The key is usually a group identity, or "all".
const (
	CountDecision  = "decision"
	CountKick      = "kick"
	CountDelete    = "delete"
	CountBlacklist = "blacklist"
	CountMuted     = "muted-message"
	// distinct identities removed, bucketed per group
	DistinctKicked = "kicked-identity"
)

type CountStore interface {
	GetCount(ctx context.Context, name, key, period string) (int, error)
	// Increments the total, day and hour buckets together.
	Increment(ctx context.Context, name, key string) error
	GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error)
	IncrementDistinct(ctx context.Context, name, bucket, val string) error
}

// bucketKey names the counter for a period as of time t. Day and hour buckets are UTC.
func bucketKey(name, key, period string, t time.Time) string {
	base := name + "/" + key
	switch period {
	case PeriodTotal:
		return base
	case PeriodDay:
		return base + "/" + t.UTC().Format(time.DateOnly)
	case PeriodHour:
		return base + "/" + t.UTC().Format("2006-01-02T15")
	default:
		slog.Warn("unhandled counter period", "period", period)
		return base
	}
}

var allPeriods = []string{PeriodTotal, PeriodDay, PeriodHour}
