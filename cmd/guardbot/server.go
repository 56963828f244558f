package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/audit"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/bridge"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/cachestore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/command"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/cooldown"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/countstore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/engine"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/flagstore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/listcache"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/modstore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/mute"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/transport"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/util"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	StoreURL           string
	MaxDBConnections   int
	RedisURL           string
	Bind               string
	TransportHost      string
	TransportToken     string
	TransportRateLimit float64
	FeedHost           string
	Superadmins        []ident.Identity
	AdminChannel       ident.Identity
	SlackWebhookURL    string
	KafkaBrokers       []string
	KafkaTopic         string
	MuteSweepInterval  time.Duration
	Workers            int
	Engine             engine.Config
	Version            string
	Logger             *slog.Logger
}

// directory-caching transport, shared by the engine and commands
type cachedTransport struct {
	transport.Executor
	*transport.CachedDirectory
}

type Server struct {
	logger    *slog.Logger
	store     modstore.Store
	rdb       *redis.Client
	engine    *engine.Engine
	transport transport.Transport
	router    *bridge.Router
	httpd     *bridge.Server
	feed      *bridge.Subscriber
	audit     audit.Sink

	muteSweepInterval time.Duration
}

func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx := context.Background()

	store, err := modstore.Open(config.StoreURL, config.MaxDBConnections)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var counters countstore.CountStore
	var cache cachestore.CacheStore
	var flags flagstore.FlagStore
	var rdb *redis.Client
	if config.RedisURL != "" {
		rdb, err = util.RedisClient(ctx, config.RedisURL)
		if err != nil {
			return nil, err
		}
		counters = countstore.NewRedisCountStore(rdb)
		cache = cachestore.NewRedisCacheStore(rdb, 10*time.Minute)
		flg, err := flagstore.NewRedisFlagStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis flagstore: %w", err)
		}
		flags = flg
	} else {
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(1_000, 10*time.Minute)
		flags = flagstore.NewMemFlagStore()
	}

	client := bridge.NewClient(config.TransportHost, config.TransportToken, config.TransportRateLimit)
	tr := &cachedTransport{
		Executor:        client,
		CachedDirectory: transport.NewCachedDirectory(client, cache, logger),
	}

	var sink audit.Sink = audit.NewLogSink(logger)
	if len(config.KafkaBrokers) > 0 {
		ks, err := audit.NewKafkaSink(config.KafkaBrokers, config.KafkaTopic)
		if err != nil {
			return nil, err
		}
		sink = ks
	}

	notifiers := []engine.Notifier{&engine.LogNotifier{Logger: logger}}
	if !config.AdminChannel.IsEmpty() {
		notifiers = append(notifiers, &engine.TransportNotifier{Executor: tr, Channel: config.AdminChannel})
	}
	if config.SlackWebhookURL != "" {
		notifiers = append(notifiers, engine.NewSlackNotifier(config.SlackWebhookURL))
	}

	mutes := mute.NewRegistry(store, logger)
	eng := &engine.Engine{
		Logger:    logger,
		Config:    config.Engine,
		Blacklist: listcache.New(modstore.KindBlacklist, store, logger),
		Whitelist: listcache.New(modstore.KindWhitelist, store, logger),
		Mutes:     mutes,
		Cooldowns: cooldown.NewGuard(),
		Counters:  counters,
		Flags:     flags,
		Executor:  tr,
		Directory: tr,
		Notifiers: notifiers,
		Audit:     sink,
	}

	// a failed load leaves the cache falling back to per-lookup store reads
	for _, l := range []*listcache.List{eng.Blacklist, eng.Whitelist} {
		if err := l.Load(ctx); err != nil {
			logger.Error("failed to load list, serving from store", "list", l.Kind(), "err", err)
		}
	}
	if err := mutes.Load(ctx); err != nil {
		logger.Error("failed to load mutes, serving from store", "err", err)
	}

	disp := command.NewDispatcher(eng, tr, logger)
	disp.Version = config.Version
	router := bridge.NewRouter(eng, disp, config.Superadmins, config.Workers, logger)

	s := &Server{
		logger:            logger,
		store:             store,
		rdb:               rdb,
		engine:            eng,
		transport:         tr,
		router:            router,
		httpd:             bridge.NewServer(bridge.ServerConfig{Addr: config.Bind, Token: config.TransportToken}, router, logger),
		audit:             sink,
		muteSweepInterval: config.MuteSweepInterval,
	}
	if config.FeedHost != "" {
		s.feed = bridge.NewSubscriber(config.FeedHost, config.TransportToken, router)
	}
	return s, nil
}

// Run serves until ctx is cancelled, then drains queued events.
func (s *Server) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		s.engine.Mutes.RunSweeper(ctx, s.muteSweepInterval, s.onMuteExpired)
		return nil
	})
	eg.Go(func() error {
		return s.httpd.Start()
	})
	if s.feed != nil {
		eg.Go(func() error {
			return s.feed.Run(ctx)
		})
	}
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpd.Shutdown(shutdownCtx)
	})

	err := eg.Wait()
	s.router.Shutdown()
	return err
}

// onMuteExpired re-opens groups whose group-wide mute ran out.
func (s *Server) onMuteExpired(ctx context.Context, id ident.Identity) {
	if !id.IsGroup() {
		s.logger.Info("mute expired", "identity", id)
		return
	}
	if err := s.transport.SetAdminsOnly(ctx, id, false); err != nil {
		s.logger.Error("failed to re-open group after mute", "group", id, "err", err)
		return
	}
	if err := s.transport.SendText(ctx, id, "🔊 Group mute has ended. Everyone can send messages again."); err != nil {
		s.logger.Warn("failed to announce end of group mute", "group", id, "err", err)
	}
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (s *Server) Close() error {
	var errs []error
	if err := s.audit.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
