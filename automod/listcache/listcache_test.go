package listcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/modstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store unreachable")

// wraps a MemStore, failing reads and/or writes on demand
type faultyStore struct {
	*modstore.MemStore
	failReads  atomic.Bool
	failWrites atomic.Bool
	puts       atomic.Int32
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemStore: modstore.NewMemStore()}
}

func (s *faultyStore) Get(ctx context.Context, kind modstore.Kind, key string) (*modstore.Record, error) {
	if s.failReads.Load() {
		return nil, errStoreDown
	}
	return s.MemStore.Get(ctx, kind, key)
}

func (s *faultyStore) List(ctx context.Context, kind modstore.Kind) ([]modstore.Record, error) {
	if s.failReads.Load() {
		return nil, errStoreDown
	}
	return s.MemStore.List(ctx, kind)
}

func (s *faultyStore) Put(ctx context.Context, kind modstore.Kind, key string, rec modstore.Record) error {
	if s.failWrites.Load() {
		return errStoreDown
	}
	s.puts.Add(1)
	return s.MemStore.Put(ctx, kind, key, rec)
}

func (s *faultyStore) Delete(ctx context.Context, kind modstore.Kind, key string) error {
	if s.failWrites.Load() {
		return errStoreDown
	}
	return s.MemStore.Delete(ctx, kind, key)
}

func loadedList(t *testing.T, store modstore.Store) *List {
	l := New(modstore.KindBlacklist, store, nil)
	require.NoError(t, l.Load(context.Background()))
	return l
}

func TestAddContainsConsistency(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := newFaultyStore()
	l := loadedList(t, store)

	id := ident.Normalize("972555123456")
	res, err := l.Add(ctx, id, "invite link")
	assert.NoError(err)
	assert.Equal(Added, res)

	ok, err := l.Contains(ctx, id)
	assert.NoError(err)
	assert.True(ok)

	rec, err := store.Get(ctx, modstore.KindBlacklist, id.String())
	require.NoError(t, err)
	assert.Equal("invite link", rec.Reason)

	res, err = l.Remove(ctx, id)
	assert.NoError(err)
	assert.Equal(Removed, res)

	ok, err = l.Contains(ctx, id)
	assert.NoError(err)
	assert.False(ok)
	_, err = store.Get(ctx, modstore.KindBlacklist, id.String())
	assert.ErrorIs(err, modstore.ErrNotFound)
}

func TestAddIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := newFaultyStore()
	l := loadedList(t, store)

	id := ident.Normalize("+972-555-123456")
	res, err := l.Add(ctx, id, "")
	assert.NoError(err)
	assert.Equal(Added, res)
	res, err = l.Add(ctx, id, "")
	assert.NoError(err)
	assert.Equal(AlreadyPresent, res)

	recs, err := store.List(ctx, modstore.KindBlacklist)
	assert.NoError(err)
	assert.Equal(1, len(recs))
	assert.Equal(int32(1), store.puts.Load())

	res, err = l.Remove(ctx, id)
	assert.NoError(err)
	assert.Equal(Removed, res)
	res, err = l.Remove(ctx, id)
	assert.NoError(err)
	assert.Equal(NotPresent, res)
}

func TestInvalidIdentity(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := loadedList(t, newFaultyStore())

	res, err := l.Add(ctx, ident.Normalize("  "), "")
	assert.Equal(Invalid, res)
	assert.ErrorIs(err, ident.ErrInvalidIdentity)

	res, err = l.Remove(ctx, "")
	assert.Equal(Invalid, res)
	assert.ErrorIs(err, ident.ErrInvalidIdentity)

	ok, err := l.Contains(ctx, "")
	assert.NoError(err)
	assert.False(ok)
}

func TestLegacyVariants(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := newFaultyStore()

	// historical records stored under both suffixes
	require.NoError(t, store.Put(ctx, modstore.KindBlacklist, "972555123456@s.whatsapp.net", modstore.Record{}))
	require.NoError(t, store.Put(ctx, modstore.KindBlacklist, "972555123456@c.us", modstore.Record{}))
	l := loadedList(t, store)
	assert.Equal(2, l.Len())

	ok, err := l.Contains(ctx, ident.Normalize("972555123456"))
	assert.NoError(err)
	assert.True(ok)
	ok, err = l.Contains(ctx, ident.Normalize("972555123456@s.whatsapp.net"))
	assert.NoError(err)
	assert.True(ok)

	res, err := l.Add(ctx, ident.Normalize("972555123456@s.whatsapp.net"), "")
	assert.NoError(err)
	assert.Equal(AlreadyPresent, res)

	// removing one spelling removes all of them
	res, err = l.Remove(ctx, ident.Normalize("972555123456"))
	assert.NoError(err)
	assert.Equal(Removed, res)
	assert.Equal(0, l.Len())
	recs, err := store.List(ctx, modstore.KindBlacklist)
	assert.NoError(err)
	assert.Empty(recs)
}

func TestStoreFirstWrites(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := newFaultyStore()
	l := loadedList(t, store)
	id := ident.Normalize("972555123456")

	store.failWrites.Store(true)
	res, err := l.Add(ctx, id, "")
	assert.Equal(Failed, res)
	assert.ErrorIs(err, errStoreDown)
	ok, err := l.Contains(ctx, id)
	assert.NoError(err)
	assert.False(ok, "cache must not change when the store write fails")

	store.failWrites.Store(false)
	res, err = l.Add(ctx, id, "")
	assert.NoError(err)
	assert.Equal(Added, res)

	store.failWrites.Store(true)
	res, err = l.Remove(ctx, id)
	assert.Equal(Failed, res)
	assert.Error(err)
	ok, err = l.Contains(ctx, id)
	assert.NoError(err)
	assert.True(ok, "cache must not change when the store delete fails")
}

func TestLoadFailureKeepsCache(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := newFaultyStore()
	l := loadedList(t, store)
	id := ident.Normalize("972555123456")
	_, err := l.Add(ctx, id, "")
	assert.NoError(err)

	store.failReads.Store(true)
	assert.Error(l.Load(ctx))
	assert.Equal(1, l.Len())

	// warm cache answers without the store
	ok, err := l.Contains(ctx, id)
	assert.NoError(err)
	assert.True(ok)
}

func TestUnloadedFallsBackToStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := newFaultyStore()
	require.NoError(t, store.Put(ctx, modstore.KindWhitelist, "972555123456@c.us", modstore.Record{}))

	l := New(modstore.KindWhitelist, store, nil)
	assert.False(l.Loaded())
	ok, err := l.Contains(ctx, ident.Normalize("972555123456"))
	assert.NoError(err)
	assert.True(ok)

	store.failReads.Store(true)
	_, err = l.Contains(ctx, ident.Normalize("972555123456"))
	assert.ErrorIs(err, errStoreDown)
}

func TestEntriesInsertionOrder(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := loadedList(t, newFaultyStore())

	ids := []string{"300", "100", "200", "400"}
	for _, raw := range ids {
		_, err := l.Add(ctx, ident.Normalize(raw), "")
		assert.NoError(err)
	}
	_, err := l.Remove(ctx, ident.Normalize("200"))
	assert.NoError(err)

	all := l.Entries(0)
	require.Equal(t, 3, len(all))
	assert.Equal(ident.Identity("300@c.us"), all[0].Identity)
	assert.Equal(ident.Identity("100@c.us"), all[1].Identity)
	assert.Equal(ident.Identity("400@c.us"), all[2].Identity)

	page := l.Entries(2)
	assert.Equal(2, len(page))
}

func TestConcurrentAddRemove(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := newFaultyStore()
	l := loadedList(t, store)
	id := ident.Normalize("972555123456")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := l.Add(ctx, id, "")
			assert.NoError(err)
		}()
		go func() {
			defer wg.Done()
			_, err := l.Remove(ctx, id)
			assert.NoError(err)
		}()
	}
	wg.Wait()

	// whatever the interleaving, cache and store must agree
	inCache, err := l.Contains(ctx, id)
	assert.NoError(err)
	_, err = store.Get(ctx, modstore.KindBlacklist, id.String())
	inStore := err == nil
	assert.Equal(inStore, inCache)
}

// holds List open after reading, so writes can land between the store read and the cache swap
type slowListStore struct {
	*modstore.MemStore
	listed  chan struct{}
	release chan struct{}
}

func (s *slowListStore) List(ctx context.Context, kind modstore.Kind) ([]modstore.Record, error) {
	recs, err := s.MemStore.List(ctx, kind)
	close(s.listed)
	<-s.release
	return recs, err
}

func TestWritesDuringLoad(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mem := modstore.NewMemStore()
	l := loadedList(t, mem)

	stale := ident.Normalize("972555000111")
	_, err := l.Add(ctx, stale, "old")
	require.NoError(t, err)

	slow := &slowListStore{MemStore: mem, listed: make(chan struct{}), release: make(chan struct{})}
	l.store = slow
	done := make(chan error)
	go func() {
		done <- l.Load(ctx)
	}()
	<-slow.listed

	spammer := ident.Normalize("972555123456")
	res, err := l.Add(ctx, spammer, "invite link")
	require.NoError(t, err)
	assert.Equal(Added, res)
	res, err = l.Remove(ctx, stale)
	require.NoError(t, err)
	assert.Equal(Removed, res)

	close(slow.release)
	require.NoError(t, <-done)

	ok, err := l.Contains(ctx, spammer)
	assert.NoError(err)
	assert.True(ok)
	ok, err = l.Contains(ctx, stale)
	assert.NoError(err)
	assert.False(ok)
	assert.Equal(1, l.Len())
	entries := l.Entries(0)
	require.Equal(t, 1, len(entries))
	assert.Equal(spammer, entries[0].Identity)
}
