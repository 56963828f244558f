package keylock

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
)

// Locker hands out one mutex per string key. Entries are dropped once nobody holds or waits on them, so the map only grows with the number of keys in flight.
type Locker struct {
	lklk  sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	lk      sync.Mutex
	waiters atomic.Int32
}

func New() *Locker {
	return &Locker{
		locks: make(map[string]*keyLock),
	}
}

// Lock blocks until the lock for key is held, and returns the matching unlock function.
func (l *Locker) Lock(ctx context.Context, key string) func() {
	_, span := otel.Tracer("keylock").Start(ctx, "keyLock")
	defer span.End()

	l.lklk.Lock()

	klk, ok := l.locks[key]
	if !ok {
		klk = &keyLock{}
		l.locks[key] = klk
	}

	klk.waiters.Add(1)

	l.lklk.Unlock()

	klk.lk.Lock()

	return func() {
		l.lklk.Lock()
		defer l.lklk.Unlock()

		klk.lk.Unlock()

		nv := klk.waiters.Add(-1)

		if nv == 0 {
			delete(l.locks, key)
		}
	}
}

// number of keys currently locked or waited on
func (l *Locker) Len() int {
	l.lklk.Lock()
	defer l.lklk.Unlock()
	return len(l.locks)
}
