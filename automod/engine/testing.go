package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/audit"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/cooldown"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/countstore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/flagstore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/listcache"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/modstore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/mute"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/transport"
)

// Group registered with the fixture's transport. TestGroupAdmin is its only admin.
var (
	TestGroup      = ident.Identity("120363000000000001@g.us")
	TestGroupAdmin = ident.Identity("972500000001@c.us")
)

// TestClock is a manually-advanced clock shared by the fixture's time-dependent components.
type TestClock struct {
	lk  sync.Mutex
	now time.Time
}

func (c *TestClock) Now() time.Time {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.now
}

func (c *TestClock) Advance(d time.Duration) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.now = c.now.Add(d)
}

// TestFixture bundles an Engine with in-memory collaborators. Intentionally exported, for use in other packages' tests.
type TestFixture struct {
	Engine    *Engine
	Store     modstore.Store
	Transport *transport.Recorder
	Audit     *audit.MemSink
	Counters  *countstore.MemCountStore
	Flags     *flagstore.MemFlagStore
	Clock     *TestClock
	// admin channel the TransportNotifier posts into
	AdminChannel ident.Identity
}

// EngineTestFixture builds a loaded engine over the given store (a fresh MemStore if nil). Retries are fast, so failure paths don't slow tests down.
func EngineTestFixture(store modstore.Store) *TestFixture {
	if store == nil {
		store = modstore.NewMemStore()
	}
	ctx := context.Background()
	logger := slog.Default()
	clock := &TestClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	blacklist := listcache.New(modstore.KindBlacklist, store, logger)
	whitelist := listcache.New(modstore.KindWhitelist, store, logger)
	mutes := mute.NewRegistry(store, logger)
	mutes.Now = clock.Now
	cooldowns := cooldown.NewGuard()
	cooldowns.Now = clock.Now
	for _, l := range []*listcache.List{blacklist, whitelist} {
		l.Now = clock.Now
		_ = l.Load(ctx)
	}
	_ = mutes.Load(ctx)

	counters := countstore.NewMemCountStore()
	counters.Now = clock.Now
	flags := flagstore.NewMemFlagStore()
	rec := transport.NewRecorder()
	rec.SetGroup(transport.GroupInfo{
		ID:   TestGroup,
		Name: "Test Group",
		Participants: []transport.Participant{
			{ID: TestGroupAdmin, IsAdmin: true},
		},
	})
	sink := &audit.MemSink{}
	adminChannel := ident.Normalize("972500000000")

	cfg := DefaultConfig()
	cfg.RetryMax = 2
	cfg.RetryInitial = time.Millisecond

	eng := &Engine{
		Logger:    logger,
		Config:    cfg,
		Blacklist: blacklist,
		Whitelist: whitelist,
		Mutes:     mutes,
		Cooldowns: cooldowns,
		Counters:  counters,
		Flags:     flags,
		Executor:  rec,
		Directory: rec,
		Notifiers: []Notifier{&TransportNotifier{Executor: rec, Channel: adminChannel}},
		Audit:     sink,
	}
	return &TestFixture{
		Engine:       eng,
		Store:        store,
		Transport:    rec,
		Audit:        sink,
		Counters:     counters,
		Flags:        flags,
		Clock:        clock,
		AdminChannel: adminChannel,
	}
}
