// Append-only trail of moderation actions, for operators to review after the fact.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

const (
	SourceAuto    = "auto"
	SourceCommand = "command"
)

type Record struct {
	ID      string         `json:"id"`
	Time    time.Time      `json:"time"`
	Source  string         `json:"source"`
	Group   ident.Identity `json:"group,omitempty"`
	Subject ident.Identity `json:"subject,omitempty"`
	// who issued the command, for manual actions
	Actor   ident.Identity `json:"actor,omitempty"`
	Action  string         `json:"action"`
	Reasons []string       `json:"reasons,omitempty"`
	Codes   []string       `json:"codes,omitempty"`
	// side effects which did not complete
	Failures []string `json:"failures,omitempty"`
}

// NewRecord fills in a fresh ID and timestamp.
func NewRecord(source, action string) Record {
	return Record{
		ID:     uuid.NewString(),
		Time:   time.Now().UTC(),
		Source: source,
		Action: action,
	}
}

// PartitionKey is a compact, stable hash of the group, so all records for a group land together without putting raw identities in keys.
func (r *Record) PartitionKey() string {
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(r.Group)))
}

type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// LogSink writes audit records as structured log lines.
type LogSink struct {
	Logger *slog.Logger
}

var _ Sink = (*LogSink)(nil)

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger.With("component", "audit")}
}

func (s *LogSink) Write(ctx context.Context, rec Record) error {
	s.Logger.Info("moderation action",
		"id", rec.ID,
		"source", rec.Source,
		"action", rec.Action,
		"group", rec.Group,
		"subject", rec.Subject,
		"actor", rec.Actor,
		"reasons", rec.Reasons,
		"codes", rec.Codes,
		"failures", rec.Failures,
	)
	return nil
}

func (s *LogSink) Close() error {
	return nil
}

// MemSink keeps records in memory; for tests.
type MemSink struct {
	lk      sync.Mutex
	records []Record
}

var _ Sink = (*MemSink)(nil)

func (s *MemSink) Write(ctx context.Context, rec Record) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemSink) Close() error {
	return nil
}

func (s *MemSink) Records() []Record {
	s.lk.Lock()
	defer s.lk.Unlock()
	return append([]Record(nil), s.records...)
}
