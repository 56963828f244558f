// Package scheduler runs work items on a fixed pool of workers, preserving order per key.
//
// Items sharing a key (a group, in practice) are handled one at a time in submission order; items with different keys run in parallel. This keeps moderation of a single chat sequential without one busy chat stalling the rest.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var ErrShutdown = errors.New("scheduler is shut down")

type task[T any] struct {
	key  string
	val  T
	stop bool
}

type Scheduler[T any] struct {
	workers int
	name    string

	do func(context.Context, T) error

	feeder chan *task[T]
	out    chan struct{}

	lk       sync.Mutex
	active   map[string][]*task[T]
	shutdown bool

	// cancelled on Shutdown, for in-flight handlers
	ctx    context.Context
	cancel context.CancelFunc

	itemsAdded     prometheus.Counter
	itemsProcessed prometheus.Counter
	itemsFailed    prometheus.Counter
	itemsQueued    prometheus.Gauge
	workersActive  prometheus.Gauge

	log *slog.Logger
}

func NewScheduler[T any](workers int, name string, do func(context.Context, T) error) *Scheduler[T] {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler[T]{
		workers: workers,
		name:    name,
		do:      do,

		feeder: make(chan *task[T]),
		out:    make(chan struct{}),
		active: make(map[string][]*task[T]),

		ctx:    ctx,
		cancel: cancel,

		itemsAdded:     workItemsAdded.WithLabelValues(name),
		itemsProcessed: workItemsProcessed.WithLabelValues(name),
		itemsFailed:    workItemsFailed.WithLabelValues(name),
		itemsQueued:    workItemsQueued.WithLabelValues(name),
		workersActive:  workersActive.WithLabelValues(name),

		log: slog.Default().With("system", "scheduler", "pool", name),
	}

	for i := 0; i < workers; i++ {
		go s.worker()
	}
	s.workersActive.Set(float64(workers))

	return s
}

// AddWork queues an item behind any pending items with the same key. It blocks until a worker picks the item up or queues it, or ctx is done.
func (s *Scheduler[T]) AddWork(ctx context.Context, key string, val T) error {
	t := &task[T]{key: key, val: val}

	s.lk.Lock()
	if s.shutdown {
		s.lk.Unlock()
		return ErrShutdown
	}
	s.itemsAdded.Inc()
	if q, ok := s.active[key]; ok {
		s.active[key] = append(q, t)
		s.itemsQueued.Inc()
		s.lk.Unlock()
		return nil
	}
	s.active[key] = []*task[T]{}
	s.lk.Unlock()

	select {
	case s.feeder <- t:
		return nil
	case <-ctx.Done():
		// items queued behind us in the meantime still need a worker
		s.lk.Lock()
		q := s.active[key]
		if len(q) == 0 {
			delete(s.active, key)
			s.lk.Unlock()
			return ctx.Err()
		}
		next := q[0]
		s.active[key] = q[1:]
		s.itemsQueued.Dec()
		s.lk.Unlock()
		go func() { s.feeder <- next }()
		return ctx.Err()
	}
}

// Shutdown waits for queued work to drain and stops the workers. AddWork fails afterwards.
func (s *Scheduler[T]) Shutdown() {
	s.log.Info("shutting down scheduler")

	s.lk.Lock()
	s.shutdown = true
	s.lk.Unlock()

	for i := 0; i < s.workers; i++ {
		s.feeder <- &task[T]{stop: true}
	}
	for i := 0; i < s.workers; i++ {
		<-s.out
	}
	s.cancel()
	s.workersActive.Set(0)

	s.log.Info("scheduler shutdown complete")
}

// Pending is the number of keys with work in flight or queued.
func (s *Scheduler[T]) Pending() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return len(s.active)
}

func (s *Scheduler[T]) worker() {
	for work := range s.feeder {
		for work != nil {
			if work.stop {
				// anything still queued for other keys is being drained by the workers holding them
				s.out <- struct{}{}
				return
			}

			s.run(work)

			s.lk.Lock()
			rem, ok := s.active[work.key]
			if !ok {
				s.log.Error("missing active entry for a key being processed", "key", work.key)
			}
			if len(rem) == 0 {
				delete(s.active, work.key)
				work = nil
			} else {
				work = rem[0]
				s.active[work.key] = rem[1:]
				s.itemsQueued.Dec()
			}
			s.lk.Unlock()
		}
	}
}

func (s *Scheduler[T]) run(t *task[T]) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("work item handler panic", "key", t.key, "panic", r)
			s.itemsFailed.Inc()
		}
	}()
	if err := s.do(s.ctx, t.val); err != nil {
		s.log.Error("work item handler failed", "key", t.key, "err", err)
		s.itemsFailed.Inc()
	}
	s.itemsProcessed.Inc()
}
