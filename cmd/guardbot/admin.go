package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/listcache"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/modstore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/mute"

	cli "github.com/urfave/cli/v2"
)

// admin commands operate on the store directly; a running daemon picks changes up on its next "#clear" or restart

var listsCmd = &cli.Command{
	Name:  "lists",
	Usage: "inspect and edit the blacklist and whitelist",
	Subcommands: []*cli.Command{
		{
			Name:      "add",
			Usage:     "add an identity to a list",
			ArgsUsage: "<blacklist|whitelist> <number-or-id> [reason]",
			Action:    runListsAdd,
		},
		{
			Name:      "remove",
			Usage:     "remove an identity (and its equivalent spellings) from a list",
			ArgsUsage: "<blacklist|whitelist> <number-or-id>",
			Action:    runListsRemove,
		},
		{
			Name:      "show",
			Usage:     "print a list",
			ArgsUsage: "<blacklist|whitelist>",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "limit",
					Usage: "max entries to print (0 for all)",
				},
			},
			Action: runListsShow,
		},
	},
}

var mutesCmd = &cli.Command{
	Name:  "mutes",
	Usage: "inspect muted members and groups",
	Subcommands: []*cli.Command{
		{
			Name:   "show",
			Usage:  "print active mutes",
			Action: runMutesShow,
		},
	},
}

func parseListKind(s string) (modstore.Kind, error) {
	switch strings.ToLower(s) {
	case "blacklist", "black":
		return modstore.KindBlacklist, nil
	case "whitelist", "white":
		return modstore.KindWhitelist, nil
	}
	return "", fmt.Errorf("unknown list %q (expected blacklist or whitelist)", s)
}

func openList(cctx *cli.Context) (*listcache.List, modstore.Store, error) {
	kind, err := parseListKind(cctx.Args().First())
	if err != nil {
		return nil, nil, err
	}
	store, err := modstore.Open(cctx.String("store-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return nil, nil, err
	}
	l := listcache.New(kind, store, slog.Default())
	if err := l.Load(cctx.Context); err != nil {
		store.Close()
		return nil, nil, err
	}
	return l, store, nil
}

func runListsAdd(cctx *cli.Context) error {
	if cctx.Args().Len() < 2 {
		return fmt.Errorf("expected list name and identity")
	}
	l, store, err := openList(cctx)
	if err != nil {
		return err
	}
	defer store.Close()

	id := ident.Normalize(cctx.Args().Get(1))
	reason := strings.Join(cctx.Args().Slice()[2:], " ")
	res, err := l.Add(cctx.Context, id, reason)
	if err != nil {
		return fmt.Errorf("%s: %w", res, err)
	}
	fmt.Printf("%s\t%s\n", res, id)
	return nil
}

func runListsRemove(cctx *cli.Context) error {
	if cctx.Args().Len() != 2 {
		return fmt.Errorf("expected list name and identity")
	}
	l, store, err := openList(cctx)
	if err != nil {
		return err
	}
	defer store.Close()

	id := ident.Normalize(cctx.Args().Get(1))
	res, err := l.Remove(cctx.Context, id)
	if err != nil {
		return fmt.Errorf("%s: %w", res, err)
	}
	fmt.Printf("%s\t%s\n", res, id)
	return nil
}

func runListsShow(cctx *cli.Context) error {
	l, store, err := openList(cctx)
	if err != nil {
		return err
	}
	defer store.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tADDED\tREASON")
	for _, e := range l.Entries(cctx.Int("limit")) {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Identity, e.AddedAt.Format(time.RFC3339), e.Reason)
	}
	return tw.Flush()
}

func runMutesShow(cctx *cli.Context) error {
	store, err := modstore.Open(cctx.String("store-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return err
	}
	defer store.Close()

	reg := mute.NewRegistry(store, slog.Default())
	if err := reg.Load(cctx.Context); err != nil {
		return err
	}
	return printMutes(reg, time.Now())
}

func printMutes(reg *mute.Registry, now time.Time) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tUNTIL\tREMAINING\tINFRACTIONS")
	for _, rec := range reg.Records() {
		if rec.Expired(now) {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", rec.Identity, rec.MuteUntil.Format(time.RFC3339), rec.MuteUntil.Sub(now).Truncate(time.Second), rec.Infractions)
	}
	return tw.Flush()
}
