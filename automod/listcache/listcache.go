// In-memory reflection of a durable allow/deny list (blacklist, whitelist).
//
// The full list is loaded from the store at startup and kept in memory indefinitely; there is no TTL. Writes go to the store first, and the in-memory copy is only updated once the store write has succeeded, so a crash can never leave the cache claiming something the store doesn't have.
package listcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/keylock"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/modstore"
)

// Outcome of a mutation.
type Result int

const (
	Failed Result = iota
	Added
	AlreadyPresent
	Removed
	NotPresent
	Invalid
)

func (r Result) String() string {
	switch r {
	case Added:
		return "added"
	case AlreadyPresent:
		return "already-present"
	case Removed:
		return "removed"
	case NotPresent:
		return "not-present"
	case Invalid:
		return "invalid"
	default:
		return "failed"
	}
}

type Entry struct {
	Identity ident.Identity
	Reason   string
	AddedAt  time.Time
}

type List struct {
	kind   modstore.Kind
	store  modstore.Store
	logger *slog.Logger
	locks  *keylock.Locker

	// overridable for tests
	Now func() time.Time

	lk      sync.RWMutex
	entries map[ident.Identity]Entry
	// insertion order of entries keys
	order  []ident.Identity
	loaded bool

	// number of Loads in flight, and the cache mutations made meanwhile; replayed over the loaded snapshot
	loading int
	journal []journalOp
}

type journalOp struct {
	entry   Entry
	removed bool
}

func New(kind modstore.Kind, store modstore.Store, logger *slog.Logger) *List {
	if logger == nil {
		logger = slog.Default()
	}
	return &List{
		kind:    kind,
		store:   store,
		logger:  logger.With("list", string(kind)),
		locks:   keylock.New(),
		Now:     time.Now,
		entries: make(map[ident.Identity]Entry),
	}
}

func (l *List) Kind() modstore.Kind {
	return l.kind
}

// Load replaces the in-memory set with the full contents of the store. If the store can't be read, the previous contents are kept and the error is returned (and logged).
func (l *List) Load(ctx context.Context) error {
	l.lk.Lock()
	l.loading++
	since := len(l.journal)
	l.lk.Unlock()

	recs, err := l.store.List(ctx, l.kind)
	if err != nil {
		l.lk.Lock()
		l.endLoad()
		l.lk.Unlock()
		l.logger.Error("failed to load list from store, keeping previous cache", "err", err)
		return fmt.Errorf("loading %s: %w", l.kind, err)
	}
	entries := make(map[ident.Identity]Entry, len(recs))
	order := make([]ident.Identity, 0, len(recs))
	for _, rec := range recs {
		// stored keys are trusted as-is; normalizing here could merge distinct historical records
		id := ident.Identity(rec.Key)
		if id.IsEmpty() {
			continue
		}
		if _, ok := entries[id]; !ok {
			order = append(order, id)
		}
		entries[id] = Entry{Identity: id, Reason: rec.Reason, AddedAt: rec.AddedAt}
	}

	l.lk.Lock()
	// adds and removes that raced the store read
	for _, op := range l.journal[since:] {
		id := op.entry.Identity
		if op.removed {
			delete(entries, id)
			continue
		}
		if _, ok := entries[id]; !ok {
			order = append(order, id)
		}
		entries[id] = op.entry
	}
	if len(order) != len(entries) {
		order = pruneOrder(order, entries)
	}
	l.entries = entries
	l.order = order
	l.loaded = true
	l.endLoad()
	l.lk.Unlock()

	l.logger.Info("loaded list", "count", len(entries))
	return nil
}

// caller holds lk
func (l *List) endLoad() {
	l.loading--
	if l.loading == 0 {
		l.journal = nil
	}
}

// caller holds lk
func (l *List) record(op journalOp) {
	if l.loading > 0 {
		l.journal = append(l.journal, op)
	}
}

func pruneOrder(order []ident.Identity, entries map[ident.Identity]Entry) []ident.Identity {
	out := order[:0]
	for _, id := range order {
		if _, ok := entries[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (l *List) Loaded() bool {
	l.lk.RLock()
	defer l.lk.RUnlock()
	return l.loaded
}

// Contains checks the identity and all of its legacy variants. Served from memory once loaded; before the first successful Load it falls back to direct store lookups.
func (l *List) Contains(ctx context.Context, id ident.Identity) (bool, error) {
	e, err := l.Lookup(ctx, id)
	if err != nil {
		return false, err
	}
	return e != nil, nil
}

// Lookup is like Contains, but returns the matching entry (or nil).
func (l *List) Lookup(ctx context.Context, id ident.Identity) (*Entry, error) {
	variants := ident.Variants(id)
	if len(variants) == 0 {
		return nil, nil
	}

	l.lk.RLock()
	loaded := l.loaded
	if loaded {
		for _, v := range variants {
			if e, ok := l.entries[v]; ok {
				l.lk.RUnlock()
				return &e, nil
			}
		}
	}
	l.lk.RUnlock()
	if loaded {
		return nil, nil
	}

	for _, v := range variants {
		rec, err := l.store.Get(ctx, l.kind, v.String())
		if errors.Is(err, modstore.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("looking up %s in %s: %w", v, l.kind, err)
		}
		return &Entry{Identity: v, Reason: rec.Reason, AddedAt: rec.AddedAt}, nil
	}
	return nil, nil
}

// Add inserts the identity, writing through to the store. Returns AlreadyPresent (without touching the store) if any variant is already listed, and Invalid for an empty identity.
func (l *List) Add(ctx context.Context, id ident.Identity, reason string) (Result, error) {
	if id.IsEmpty() {
		return Invalid, ident.ErrInvalidIdentity
	}
	unlock := l.locks.Lock(ctx, ident.FamilyKey(id))
	defer unlock()

	existing, err := l.Lookup(ctx, id)
	if err != nil {
		return Failed, err
	}
	if existing != nil {
		return AlreadyPresent, nil
	}

	entry := Entry{Identity: id, Reason: reason, AddedAt: l.Now().UTC()}
	rec := modstore.Record{Key: id.String(), Reason: reason, AddedAt: entry.AddedAt}
	if err := l.store.Put(ctx, l.kind, id.String(), rec); err != nil {
		l.logger.Error("failed to persist list entry", "identity", id, "err", err)
		return Failed, fmt.Errorf("adding %s to %s: %w", id, l.kind, err)
	}

	l.lk.Lock()
	if _, ok := l.entries[id]; !ok {
		l.order = append(l.order, id)
	}
	l.entries[id] = entry
	l.record(journalOp{entry: entry})
	l.lk.Unlock()

	l.logger.Info("added list entry", "identity", id, "reason", reason)
	return Added, nil
}

// Remove deletes the identity and all of its variants, from the store first and then from memory.
func (l *List) Remove(ctx context.Context, id ident.Identity) (Result, error) {
	if id.IsEmpty() {
		return Invalid, ident.ErrInvalidIdentity
	}
	unlock := l.locks.Lock(ctx, ident.FamilyKey(id))
	defer unlock()

	var present []ident.Identity
	if l.Loaded() {
		l.lk.RLock()
		for _, v := range ident.Variants(id) {
			if _, ok := l.entries[v]; ok {
				present = append(present, v)
			}
		}
		l.lk.RUnlock()
	} else {
		for _, v := range ident.Variants(id) {
			_, err := l.store.Get(ctx, l.kind, v.String())
			if errors.Is(err, modstore.ErrNotFound) {
				continue
			} else if err != nil {
				return Failed, fmt.Errorf("looking up %s in %s: %w", v, l.kind, err)
			}
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return NotPresent, nil
	}

	for _, v := range present {
		if err := l.store.Delete(ctx, l.kind, v.String()); err != nil {
			l.logger.Error("failed to delete list entry", "identity", v, "err", err)
			return Failed, fmt.Errorf("removing %s from %s: %w", v, l.kind, err)
		}
	}

	l.lk.Lock()
	for _, v := range present {
		delete(l.entries, v)
		l.record(journalOp{entry: Entry{Identity: v}, removed: true})
	}
	l.order = pruneOrder(l.order, l.entries)
	l.lk.Unlock()

	l.logger.Info("removed list entry", "identity", id)
	return Removed, nil
}

// Entries returns a snapshot copy in insertion order. A limit of zero or less means no limit.
func (l *List) Entries(limit int) []Entry {
	l.lk.RLock()
	defer l.lk.RUnlock()
	n := len(l.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for _, id := range l.order[:n] {
		out = append(out, l.entries[id])
	}
	return out
}

func (l *List) Len() int {
	l.lk.RLock()
	defer l.lk.RUnlock()
	return len(l.entries)
}
