// Per-key throttle which refuses a repeat action inside a time window.
//
// State is process memory only. Entries are evicted lazily: an occasional prune drops anything older than ten times the largest window seen.
package cooldown

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

const pruneFactor = 10

type Guard struct {
	entries *xsync.MapOf[string, time.Time]

	// overridable for tests
	Now func() time.Time

	pruneLk   sync.Mutex
	maxWindow time.Duration
	lastPrune time.Time
}

func NewGuard() *Guard {
	return &Guard{
		entries: xsync.NewMapOf[string, time.Time](),
		Now:     time.Now,
	}
}

// Allow reports whether an action on key may proceed, and if so records it as taken now. The check and the update are atomic for a given key.
func (g *Guard) Allow(key string, window time.Duration) bool {
	now := g.Now()
	allowed := false
	g.entries.Compute(key, func(last time.Time, loaded bool) (time.Time, bool) {
		if loaded && now.Sub(last) < window {
			return last, false
		}
		allowed = true
		return now, false
	})
	g.maybePrune(now, window)
	return allowed
}

// Last returns when key was last allowed.
func (g *Guard) Last(key string) (time.Time, bool) {
	return g.entries.Load(key)
}

func (g *Guard) Reset() {
	g.entries.Clear()
}

func (g *Guard) Len() int {
	return g.entries.Size()
}

func (g *Guard) maybePrune(now time.Time, window time.Duration) {
	if !g.pruneLk.TryLock() {
		return
	}
	defer g.pruneLk.Unlock()

	if window > g.maxWindow {
		g.maxWindow = window
	}
	horizon := pruneFactor * g.maxWindow
	if horizon <= 0 || now.Sub(g.lastPrune) < g.maxWindow {
		return
	}
	g.lastPrune = now

	g.entries.Range(func(key string, last time.Time) bool {
		if now.Sub(last) > horizon {
			g.entries.Compute(key, func(cur time.Time, loaded bool) (time.Time, bool) {
				// only drop if it wasn't refreshed since Range saw it
				return cur, loaded && now.Sub(cur) > horizon
			})
		}
		return true
	})
}
