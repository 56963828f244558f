package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "guardbot",
		Usage:   "group chat moderation daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "store-url",
			Usage:   "moderation list store: memory://, redis://, sqlite://, postgres://, pebble://, cassandra://",
			Value:   "sqlite://data/guardbot/guardbot.db",
			EnvVars: []string{"GUARDBOT_STORE_URL", "DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "debug, info, warn or error",
			Value:   "info",
			EnvVars: []string{"GUARDBOT_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "text or json",
			Value:   "json",
			EnvVars: []string{"GUARDBOT_LOG_FORMAT"},
		},
	}

	app.Before = func(cctx *cli.Context) error {
		logger, err := setupSlog(cctx.String("log-level"), cctx.String("log-format"))
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	}

	app.Commands = []*cli.Command{
		runCmd,
		listsCmd,
		mutesCmd,
	}

	return app.Run(args)
}

func setupSlog(level, format string) (*slog.Logger, error) {
	var hopts slog.HandlerOptions
	switch strings.ToLower(level) {
	case "debug":
		hopts.Level = slog.LevelDebug
	case "", "info":
		hopts.Level = slog.LevelInfo
	case "warn":
		hopts.Level = slog.LevelWarn
	case "error":
		hopts.Level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %#v", level)
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "json":
		handler = slog.NewJSONHandler(os.Stdout, &hopts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, &hopts)
	default:
		return nil, fmt.Errorf("invalid log format: %#v", format)
	}
	return slog.New(handler), nil
}
