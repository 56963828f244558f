package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/engine"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"

	"github.com/carlmjohnson/versioninfo"
	cli "github.com/urfave/cli/v2"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the moderation daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for transport events",
			Value:   ":3999",
			EnvVars: []string{"GUARDBOT_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"GUARDBOT_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:     "transport-host",
			Usage:    "method, hostname, and port of the chat transport API",
			Required: true,
			EnvVars:  []string{"GUARDBOT_TRANSPORT_HOST"},
		},
		&cli.StringFlag{
			Name:    "transport-token",
			Usage:   "shared secret for the transport API, in both directions",
			EnvVars: []string{"GUARDBOT_TRANSPORT_TOKEN"},
		},
		&cli.Float64Flag{
			Name:    "transport-rate-limit",
			Usage:   "max transport API calls per second",
			Value:   5,
			EnvVars: []string{"GUARDBOT_TRANSPORT_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "feed-host",
			Usage:   "WebSocket event feed to subscribe to, as an alternative to pushed events",
			EnvVars: []string{"GUARDBOT_FEED_HOST"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis for statistics, flags and group metadata cache; in-process if unset",
			EnvVars: []string{"GUARDBOT_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringSliceFlag{
			Name:    "superadmins",
			Usage:   "phone numbers or ids allowed to run superadmin commands",
			EnvVars: []string{"GUARDBOT_SUPERADMINS"},
		},
		&cli.StringFlag{
			Name:    "admin-channel",
			Usage:   "chat (phone number or id) which receives moderation alerts",
			EnvVars: []string{"GUARDBOT_ADMIN_CHANNEL"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "also send moderation alerts to this Slack webhook",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "write audit records to kafka instead of the log",
			EnvVars: []string{"GUARDBOT_KAFKA_BROKERS"},
		},
		&cli.StringFlag{
			Name:    "kafka-topic",
			Value:   "guardbot-audit",
			EnvVars: []string{"GUARDBOT_KAFKA_TOPIC"},
		},
		&cli.BoolFlag{
			Name:    "country-filter",
			Usage:   "remove joining members with blocked country codes",
			EnvVars: []string{"GUARDBOT_COUNTRY_FILTER"},
		},
		&cli.StringFlag{
			Name:    "country-exempt-prefix",
			Value:   "972",
			EnvVars: []string{"GUARDBOT_COUNTRY_EXEMPT_PREFIX"},
		},
		&cli.StringFlag{
			Name:    "country-blocked",
			Usage:   "comma-separated prefix[:length] rules, eg '1:11,7'",
			Value:   "1:11",
			EnvVars: []string{"GUARDBOT_COUNTRY_BLOCKED"},
		},
		&cli.DurationFlag{
			Name:    "cooldown",
			Usage:   "minimum time between automatic kicks of the same member",
			Value:   10 * time.Second,
			EnvVars: []string{"GUARDBOT_COOLDOWN"},
		},
		&cli.IntFlag{
			Name:    "kick-quota-day",
			Usage:   "automatic kicks allowed per group per day (0 for unlimited)",
			EnvVars: []string{"GUARDBOT_KICK_QUOTA_DAY"},
		},
		&cli.DurationFlag{
			Name:    "retry-budget",
			Usage:   "total time spent retrying the side effects of one decision",
			Value:   3 * time.Second,
			EnvVars: []string{"GUARDBOT_RETRY_BUDGET"},
		},
		&cli.DurationFlag{
			Name:    "mute-sweep-interval",
			Value:   time.Minute,
			EnvVars: []string{"GUARDBOT_MUTE_SWEEP_INTERVAL"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "concurrent event handlers",
			Value:   8,
			EnvVars: []string{"GUARDBOT_WORKERS"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := slog.Default()

		shutdownOTEL, err := configOTEL("guardbot")
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		defer shutdownOTEL()

		engCfg := engine.DefaultConfig()
		engCfg.CooldownWindow = cctx.Duration("cooldown")
		engCfg.KickQuotaDay = cctx.Int("kick-quota-day")
		engCfg.RetryBudget = cctx.Duration("retry-budget")
		engCfg.Country.Enabled = cctx.Bool("country-filter")
		engCfg.Country.ExemptPrefix = cctx.String("country-exempt-prefix")
		engCfg.Country.Blocked, err = engine.ParsePrefixRules(cctx.String("country-blocked"))
		if err != nil {
			return err
		}

		superadmins, err := parseIdentities(cctx.StringSlice("superadmins"))
		if err != nil {
			return fmt.Errorf("invalid superadmin: %w", err)
		}
		var adminChannel ident.Identity
		if s := cctx.String("admin-channel"); s != "" {
			if adminChannel, err = ident.Parse(s); err != nil {
				return fmt.Errorf("invalid admin channel: %w", err)
			}
		}

		srv, err := NewServer(Config{
			StoreURL:           cctx.String("store-url"),
			MaxDBConnections:   cctx.Int("max-db-connections"),
			RedisURL:           cctx.String("redis-url"),
			Bind:               cctx.String("bind"),
			TransportHost:      cctx.String("transport-host"),
			TransportToken:     cctx.String("transport-token"),
			TransportRateLimit: cctx.Float64("transport-rate-limit"),
			FeedHost:           cctx.String("feed-host"),
			Superadmins:        superadmins,
			AdminChannel:       adminChannel,
			SlackWebhookURL:    cctx.String("slack-webhook-url"),
			KafkaBrokers:       cctx.StringSlice("kafka-brokers"),
			KafkaTopic:         cctx.String("kafka-topic"),
			MuteSweepInterval:  cctx.Duration("mute-sweep-interval"),
			Workers:            cctx.Int("workers"),
			Engine:             engCfg,
			Version:            versioninfo.Short(),
			Logger:             logger,
		})
		if err != nil {
			return err
		}
		defer srv.Close()

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run moderation service: %w", err)
		}
		logger.Info("graceful shutdown complete")
		return nil
	},
}

func parseIdentities(raw []string) ([]ident.Identity, error) {
	out := make([]ident.Identity, 0, len(raw))
	for _, r := range raw {
		id, err := ident.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", r, err)
		}
		out = append(out, id)
	}
	return out, nil
}
