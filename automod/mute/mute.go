// Time-bounded suspension of identities, with an infraction counter used to escalate a mute into removal.
//
// Expiry is lazy: an expired record is deleted the next time it is read. A periodic sweep (RunSweeper) catches identities which never come back, and is also what re-opens groups which were muted as a whole.
package mute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/keylock"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/modstore"
)

// Messages sent while muted beyond this count escalate to removal from the group.
const EscalationThreshold = 3

type Record struct {
	Identity    ident.Identity
	MuteUntil   time.Time
	Infractions int
}

func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.MuteUntil)
}

type Registry struct {
	store  modstore.Store
	logger *slog.Logger
	locks  *keylock.Locker

	// overridable for tests
	Now func() time.Time

	lk      sync.RWMutex
	records map[ident.Identity]Record
	loaded  bool
}

func NewRegistry(store modstore.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		logger:  logger.With("component", "mute"),
		locks:   keylock.New(),
		Now:     time.Now,
		records: make(map[ident.Identity]Record),
	}
}

func fromStore(rec modstore.Record) Record {
	return Record{
		Identity:    ident.Identity(rec.Key),
		MuteUntil:   rec.MuteUntil,
		Infractions: rec.Infractions,
	}
}

func (r Record) toStore() modstore.Record {
	return modstore.Record{
		Key:         r.Identity.String(),
		MuteUntil:   r.MuteUntil,
		Infractions: r.Infractions,
	}
}

// Load replaces the in-memory registry with the store contents. Records which already expired while the process was down are kept; they get cleaned up by the next read or sweep.
func (m *Registry) Load(ctx context.Context) error {
	recs, err := m.store.List(ctx, modstore.KindMuted)
	if err != nil {
		m.logger.Error("failed to load mutes from store, keeping previous cache", "err", err)
		return fmt.Errorf("loading mutes: %w", err)
	}
	records := make(map[ident.Identity]Record, len(recs))
	for _, rec := range recs {
		r := fromStore(rec)
		if r.Identity.IsEmpty() {
			continue
		}
		records[r.Identity] = r
	}

	m.lk.Lock()
	m.records = records
	m.loaded = true
	m.lk.Unlock()

	m.logger.Info("loaded mutes", "count", len(records))
	return nil
}

// Mute suspends the identity for duration d, resetting any infraction count. The store write happens first; the in-memory record is only updated once it succeeded.
func (m *Registry) Mute(ctx context.Context, id ident.Identity, d time.Duration) (*Record, error) {
	if id.IsEmpty() {
		return nil, ident.ErrInvalidIdentity
	}
	unlock := m.locks.Lock(ctx, ident.FamilyKey(id))
	defer unlock()

	rec := Record{
		Identity:  id,
		MuteUntil: m.Now().UTC().Add(d),
	}
	if err := m.store.Put(ctx, modstore.KindMuted, id.String(), rec.toStore()); err != nil {
		return nil, fmt.Errorf("muting %s: %w", id, err)
	}

	m.lk.Lock()
	m.records[id] = rec
	m.lk.Unlock()

	m.logger.Info("muted identity", "identity", id, "until", rec.MuteUntil)
	return &rec, nil
}

// find returns the record for any variant of id. Caller must hold the family lock.
func (m *Registry) find(ctx context.Context, id ident.Identity) (*Record, error) {
	variants := ident.Variants(id)
	if len(variants) == 0 {
		return nil, nil
	}

	m.lk.RLock()
	loaded := m.loaded
	if loaded {
		for _, v := range variants {
			if rec, ok := m.records[v]; ok {
				m.lk.RUnlock()
				return &rec, nil
			}
		}
	}
	m.lk.RUnlock()
	if loaded {
		return nil, nil
	}

	for _, v := range variants {
		rec, err := m.store.Get(ctx, modstore.KindMuted, v.String())
		if errors.Is(err, modstore.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("looking up mute for %s: %w", v, err)
		}
		r := fromStore(*rec)
		r.Identity = v
		return &r, nil
	}
	return nil, nil
}

// remove deletes the record from the store, then from memory. Caller must hold the family lock.
func (m *Registry) remove(ctx context.Context, key ident.Identity) error {
	if err := m.store.Delete(ctx, modstore.KindMuted, key.String()); err != nil {
		return err
	}
	m.lk.Lock()
	delete(m.records, key)
	m.lk.Unlock()
	return nil
}

// Get returns the active mute record, or nil. Expired records are deleted as a side effect.
func (m *Registry) Get(ctx context.Context, id ident.Identity) (*Record, error) {
	unlock := m.locks.Lock(ctx, ident.FamilyKey(id))
	defer unlock()
	return m.active(ctx, id)
}

// active is Get without locking.
func (m *Registry) active(ctx context.Context, id ident.Identity) (*Record, error) {
	rec, err := m.find(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Expired(m.Now()) {
		if err := m.remove(ctx, rec.Identity); err != nil {
			// still expired; the next read or sweep retries the delete
			m.logger.Warn("failed to delete expired mute", "identity", rec.Identity, "err", err)
		} else {
			m.logger.Info("mute expired", "identity", rec.Identity)
		}
		return nil, nil
	}
	return rec, nil
}

func (m *Registry) IsMuted(ctx context.Context, id ident.Identity) (bool, error) {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// RecordInfraction increments the infraction count of an active mute and returns the new count. Returns zero if the identity isn't muted. Never fails: a store error is logged and the in-memory count is still advanced.
func (m *Registry) RecordInfraction(ctx context.Context, id ident.Identity) int {
	unlock := m.locks.Lock(ctx, ident.FamilyKey(id))
	defer unlock()

	rec, err := m.active(ctx, id)
	if err != nil {
		m.logger.Warn("failed to read mute while recording infraction", "identity", id, "err", err)
		return 0
	}
	if rec == nil {
		return 0
	}
	rec.Infractions++

	if err := m.store.Put(ctx, modstore.KindMuted, rec.Identity.String(), rec.toStore()); err != nil {
		m.logger.Warn("failed to persist infraction count", "identity", rec.Identity, "count", rec.Infractions, "err", err)
	}
	m.lk.Lock()
	m.records[rec.Identity] = *rec
	m.lk.Unlock()
	return rec.Infractions
}

// Unmute removes any mute for the identity (and its variants). Returns false if there was nothing to remove.
func (m *Registry) Unmute(ctx context.Context, id ident.Identity) (bool, error) {
	if id.IsEmpty() {
		return false, ident.ErrInvalidIdentity
	}
	unlock := m.locks.Lock(ctx, ident.FamilyKey(id))
	defer unlock()

	found := false
	for {
		rec, err := m.find(ctx, id)
		if err != nil {
			return found, err
		}
		if rec == nil {
			break
		}
		if err := m.remove(ctx, rec.Identity); err != nil {
			return found, fmt.Errorf("unmuting %s: %w", rec.Identity, err)
		}
		found = true
	}
	if found {
		m.logger.Info("unmuted identity", "identity", id)
	}
	return found, nil
}

func (m *Registry) Loaded() bool {
	m.lk.RLock()
	defer m.lk.RUnlock()
	return m.loaded
}

// Sweep deletes every expired record and returns the identities which were released. Records whose delete fails stay in place for the next sweep.
func (m *Registry) Sweep(ctx context.Context) []ident.Identity {
	now := m.Now()
	m.lk.RLock()
	var candidates []ident.Identity
	for id, rec := range m.records {
		if rec.Expired(now) {
			candidates = append(candidates, id)
		}
	}
	m.lk.RUnlock()
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	var expired []ident.Identity
	for _, id := range candidates {
		unlock := m.locks.Lock(ctx, ident.FamilyKey(id))
		m.lk.RLock()
		rec, ok := m.records[id]
		m.lk.RUnlock()
		// re-check: may have been re-muted or unmuted since the scan
		if ok && rec.Expired(m.Now()) {
			if err := m.remove(ctx, id); err != nil {
				m.logger.Warn("failed to delete expired mute during sweep", "identity", id, "err", err)
			} else {
				expired = append(expired, id)
			}
		}
		unlock()
	}
	if len(expired) > 0 {
		m.logger.Info("swept expired mutes", "count", len(expired))
	}
	return expired
}

// RunSweeper calls Sweep every interval until ctx is done, invoking onExpire (if non-nil) for each released identity.
func (m *Registry) RunSweeper(ctx context.Context, interval time.Duration, onExpire func(context.Context, ident.Identity)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range m.Sweep(ctx) {
				if onExpire != nil {
					onExpire(ctx, id)
				}
			}
		}
	}
}

// Records returns a snapshot of all records (including not-yet-swept expired ones), ordered by MuteUntil.
func (m *Registry) Records() []Record {
	m.lk.RLock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.lk.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].MuteUntil.Equal(out[j].MuteUntil) {
			return out[i].Identity < out[j].Identity
		}
		return out[i].MuteUntil.Before(out[j].MuteUntil)
	})
	return out
}

func (m *Registry) Len() int {
	m.lk.RLock()
	defer m.lk.RUnlock()
	return len(m.records)
}
