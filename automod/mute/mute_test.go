package mute

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/modstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	lk  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.now = c.now.Add(d)
}

type brokenWrites struct {
	*modstore.MemStore
}

func (s brokenWrites) Put(ctx context.Context, kind modstore.Kind, key string, rec modstore.Record) error {
	return errors.New("write failed")
}

func testRegistry(t *testing.T, store modstore.Store) (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg := NewRegistry(store, nil)
	reg.Now = clock.Now
	require.NoError(t, reg.Load(context.Background()))
	return reg, clock
}

func TestMuteExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := modstore.NewMemStore()
	reg, clock := testRegistry(t, store)
	id := ident.Normalize("972555123456")

	_, err := reg.Mute(ctx, id, time.Millisecond)
	assert.NoError(err)
	muted, err := reg.IsMuted(ctx, id)
	assert.NoError(err)
	assert.True(muted)

	clock.Advance(2 * time.Millisecond)
	muted, err = reg.IsMuted(ctx, id)
	assert.NoError(err)
	assert.False(muted)

	// expired read removed it everywhere
	assert.Equal(0, reg.Len())
	_, err = store.Get(ctx, modstore.KindMuted, id.String())
	assert.ErrorIs(err, modstore.ErrNotFound)
}

func TestExpiryIsInclusive(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	reg, clock := testRegistry(t, modstore.NewMemStore())
	id := ident.Normalize("972555123456")

	_, err := reg.Mute(ctx, id, time.Minute)
	assert.NoError(err)
	clock.Advance(time.Minute)
	muted, err := reg.IsMuted(ctx, id)
	assert.NoError(err)
	assert.False(muted)
}

func TestRecordInfraction(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := modstore.NewMemStore()
	reg, _ := testRegistry(t, store)
	id := ident.Normalize("972555123456")

	assert.Equal(0, reg.RecordInfraction(ctx, id), "not muted")

	_, err := reg.Mute(ctx, id, time.Hour)
	assert.NoError(err)
	for i := 1; i <= EscalationThreshold+1; i++ {
		assert.Equal(i, reg.RecordInfraction(ctx, id))
	}
	rec, err := store.Get(ctx, modstore.KindMuted, id.String())
	require.NoError(t, err)
	assert.Equal(EscalationThreshold+1, rec.Infractions)

	// re-muting resets the count
	_, err = reg.Mute(ctx, id, time.Hour)
	assert.NoError(err)
	assert.Equal(1, reg.RecordInfraction(ctx, id))
}

func TestRecordInfractionStoreFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mem := modstore.NewMemStore()
	id := ident.Normalize("972555123456")
	require.NoError(t, mem.Put(ctx, modstore.KindMuted, id.String(), modstore.Record{
		MuteUntil: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}))

	reg, _ := testRegistry(t, brokenWrites{mem})
	assert.Equal(1, reg.RecordInfraction(ctx, id))
	assert.Equal(2, reg.RecordInfraction(ctx, id))

	_, err := reg.Mute(ctx, ident.Normalize("14165551234"), time.Hour)
	assert.Error(err)
	assert.Equal(1, reg.Len())
}

func TestUnmute(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := modstore.NewMemStore()
	reg, _ := testRegistry(t, store)
	id := ident.Normalize("972555123456")

	ok, err := reg.Unmute(ctx, id)
	assert.NoError(err)
	assert.False(ok)

	_, err = reg.Mute(ctx, id, time.Hour)
	assert.NoError(err)
	ok, err = reg.Unmute(ctx, ident.Normalize("972555123456@s.whatsapp.net"))
	assert.NoError(err)
	assert.True(ok)
	muted, err := reg.IsMuted(ctx, id)
	assert.NoError(err)
	assert.False(muted)

	_, err = reg.Unmute(ctx, "")
	assert.ErrorIs(err, ident.ErrInvalidIdentity)
}

func TestSweep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := modstore.NewMemStore()
	reg, clock := testRegistry(t, store)

	short := ident.Normalize("111")
	group := ident.Normalize("120363000000000000@g.us")
	long := ident.Normalize("222")
	for id, d := range map[ident.Identity]time.Duration{short: time.Minute, group: 2 * time.Minute, long: time.Hour} {
		_, err := reg.Mute(ctx, id, d)
		assert.NoError(err)
	}

	assert.Empty(reg.Sweep(ctx))
	clock.Advance(5 * time.Minute)
	expired := reg.Sweep(ctx)
	assert.ElementsMatch([]ident.Identity{short, group}, expired)

	recs := reg.Records()
	require.Equal(t, 1, len(recs))
	assert.Equal(long, recs[0].Identity)
	stored, err := store.List(ctx, modstore.KindMuted)
	assert.NoError(err)
	assert.Equal(1, len(stored))
}

func TestRunSweeper(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg, clock := testRegistry(t, modstore.NewMemStore())
	id := ident.Normalize("120363000000000000@g.us")

	_, err := reg.Mute(ctx, id, time.Second)
	assert.NoError(err)
	clock.Advance(time.Minute)

	released := make(chan ident.Identity, 1)
	go reg.RunSweeper(ctx, 5*time.Millisecond, func(ctx context.Context, id ident.Identity) {
		released <- id
	})

	select {
	case got := <-released:
		assert.Equal(id, got)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never released the mute")
	}
}

func TestUnloadedFallsBackToStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := modstore.NewMemStore()
	id := ident.Normalize("972555123456")
	require.NoError(t, store.Put(ctx, modstore.KindMuted, "972555123456@s.whatsapp.net", modstore.Record{
		MuteUntil: time.Now().Add(time.Hour),
	}))

	reg := NewRegistry(store, nil)
	muted, err := reg.IsMuted(ctx, id)
	assert.NoError(err)
	assert.True(muted)
}
