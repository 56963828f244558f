package command

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/countstore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/engine"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/listcache"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/transport"

	"golang.org/x/sync/errgroup"
)

// concurrent groups processed by #sweep
const sweepParallelism = 4

func builtinCommands() []Command {
	return []Command{
		{Name: "help", Usage: "#help", Help: "list the commands you can use", Scope: ScopeEither, Auth: AuthNone, Handler: cmdHelp},
		{Name: "status", Usage: "#status", Help: "bot status", Scope: ScopeEither, Auth: AuthAdmin, Handler: cmdStatus},
		{Name: "stats", Usage: "#stats", Help: "moderation statistics", Scope: ScopeEither, Auth: AuthAdmin, Handler: cmdStats},
		{Name: "mute", Usage: "#mute [minutes]", Help: "mute the replied-to user, or the whole group", Scope: ScopeGroup, Auth: AuthAdmin, Handler: cmdMute},
		{Name: "unmute", Usage: "#unmute", Help: "unmute the replied-to user, or the whole group", Scope: ScopeGroup, Auth: AuthAdmin, Handler: cmdUnmute},
		{Name: "kick", Usage: "#kick", Help: "remove the replied-to user", Scope: ScopeGroup, Auth: AuthAdmin, NeedsReply: true, Handler: cmdKick},
		{Name: "ban", Usage: "#ban", Help: "remove and blacklist the replied-to user", Scope: ScopeGroup, Auth: AuthAdmin, NeedsReply: true, Handler: cmdBan},
		{Name: "warn", Usage: "#warn [message]", Help: "warn the replied-to user", Scope: ScopeGroup, Auth: AuthAdmin, NeedsReply: true, Handler: cmdWarn},
		{Name: "clear", Usage: "#clear", Help: "reload lists, reset cooldowns, sweep expired mutes", Scope: ScopePrivate, Auth: AuthSuperAdmin, Handler: cmdClear},
		{Name: "whitelist", Usage: "#whitelist <number>", Help: "add to the whitelist", Scope: ScopeEither, Auth: AuthAdmin, Handler: listAdder(listWhite)},
		{Name: "unwhitelist", Usage: "#unwhitelist <number>", Help: "remove from the whitelist", Scope: ScopeEither, Auth: AuthAdmin, Handler: listRemover(listWhite)},
		{Name: "blacklist", Usage: "#blacklist <number>", Help: "add to the blacklist", Scope: ScopeEither, Auth: AuthAdmin, Handler: listAdder(listBlack)},
		{Name: "unblacklist", Usage: "#unblacklist <number>", Help: "remove from the blacklist", Scope: ScopeEither, Auth: AuthAdmin, Handler: listRemover(listBlack)},
		{Name: "whitelst", Usage: "#whitelst [page]", Help: "show the whitelist", Scope: ScopePrivate, Auth: AuthAdmin, Handler: listShower(listWhite)},
		{Name: "blacklst", Usage: "#blacklst [page]", Help: "show the blacklist", Scope: ScopePrivate, Auth: AuthAdmin, Handler: listShower(listBlack)},
		{Name: "botkick", Usage: "#botkick", Help: "remove blacklisted members from this group", Scope: ScopeGroup, Auth: AuthAdmin, Handler: cmdBotKick},
		{Name: "botforeign", Usage: "#botforeign", Help: "remove members with blocked country codes from this group", Scope: ScopeGroup, Auth: AuthAdmin, Handler: cmdBotForeign},
		{Name: "sweep", Usage: "#sweep", Help: "remove blacklisted members from every group", Scope: ScopePrivate, Auth: AuthSuperAdmin, Handler: cmdSweep},
	}
}

func cmdHelp(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	var b strings.Builder
	b.WriteString("📋 Available commands:\n")
	for _, c := range d.Commands() {
		if c.Auth > inv.Auth {
			continue
		}
		fmt.Fprintf(&b, "%s - %s\n", c.Usage, c.Help)
	}
	d.reply(ctx, inv, strings.TrimRight(b.String(), "\n"))
	return nil
}

func cmdStatus(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	eng := d.Engine
	msg := fmt.Sprintf("🤖 Guardbot %s\nUptime: %s\nBlacklisted: %d\nWhitelisted: %d\nActive mutes: %d\nCountry filter: %v",
		d.Version,
		time.Since(d.StartedAt).Truncate(time.Second),
		eng.Blacklist.Len(),
		eng.Whitelist.Len(),
		eng.Mutes.Len(),
		eng.Config.Country.Enabled,
	)
	d.reply(ctx, inv, msg)
	return nil
}

func cmdStats(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	groups := []ident.Identity{inv.Chat}
	scope := "this group"
	if !inv.InGroup() {
		var err error
		groups, err = d.Transport.ListGroups(ctx)
		if err != nil {
			return err
		}
		scope = fmt.Sprintf("%d groups", len(groups))
	}

	type row struct{ name, label string }
	rows := []row{
		{countstore.CountKick, "Kicks"},
		{countstore.CountDelete, "Deleted messages"},
		{countstore.CountBlacklist, "Blacklisted"},
		{countstore.CountMuted, "Messages while muted"},
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Stats for %s (today / total)\n", scope)
	for _, r := range rows {
		var day, total int
		for _, g := range groups {
			c, err := d.Engine.Counters.GetCount(ctx, r.name, g.String(), countstore.PeriodDay)
			if err != nil {
				return err
			}
			day += c
			c, err = d.Engine.Counters.GetCount(ctx, r.name, g.String(), countstore.PeriodTotal)
			if err != nil {
				return err
			}
			total += c
		}
		fmt.Fprintf(&b, "%s: %d / %d\n", r.label, day, total)
	}
	d.reply(ctx, inv, strings.TrimRight(b.String(), "\n"))
	return nil
}

func parseMinutes(d *Dispatcher, args []string) (time.Duration, bool) {
	if len(args) == 0 {
		return d.DefaultMute, true
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Minute, true
}

func cmdMute(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	dur, ok := parseMinutes(d, inv.Args)
	if !ok {
		d.reply(ctx, inv, "ℹ️ Usage: #mute [minutes], with a positive number of minutes")
		return nil
	}
	minutes := int(dur / time.Minute)

	if inv.Quoted != nil && !inv.Quoted.Sender.IsEmpty() {
		target := ident.Normalize(inv.Quoted.Sender.String())
		dec := engine.ManualMute(inv.Chat, target, inv.Sender, dur)
		if err := d.Engine.Apply(ctx, &dec); err != nil {
			return err
		}
		d.reply(ctx, inv, fmt.Sprintf("🔇 %s is muted for %d minutes. Their messages will be deleted.", target.LocalPart(), minutes))
		return nil
	}

	// group-wide: only admins may post until the sweeper lifts it
	if _, err := d.Engine.Mutes.Mute(ctx, inv.Chat, dur); err != nil {
		return err
	}
	if err := d.Transport.SetAdminsOnly(ctx, inv.Chat, true); err != nil {
		return err
	}
	d.reply(ctx, inv, fmt.Sprintf("🔇 Group muted for %d minutes. Only admins can send messages.", minutes))
	return nil
}

func cmdUnmute(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	if inv.Quoted != nil && !inv.Quoted.Sender.IsEmpty() {
		target := ident.Normalize(inv.Quoted.Sender.String())
		found, err := d.Engine.Mutes.Unmute(ctx, target)
		if err != nil {
			return err
		}
		if !found {
			d.reply(ctx, inv, fmt.Sprintf("ℹ️ %s is not muted.", target.LocalPart()))
			return nil
		}
		d.reply(ctx, inv, fmt.Sprintf("🔊 %s is no longer muted.", target.LocalPart()))
		return nil
	}

	if _, err := d.Engine.Mutes.Unmute(ctx, inv.Chat); err != nil {
		return err
	}
	if err := d.Transport.SetAdminsOnly(ctx, inv.Chat, false); err != nil {
		return err
	}
	d.reply(ctx, inv, "🔊 Group unmuted. Everyone can send messages again.")
	return nil
}

func cmdKick(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	target := ident.Normalize(inv.Quoted.Sender.String())
	dec := engine.ManualKick(inv.Chat, target, inv.Sender, inv.Quoted.MessageID)
	if err := d.Engine.Apply(ctx, &dec); err != nil && slices.Contains(dec.Failures, "kick") {
		return err
	}
	d.reply(ctx, inv, fmt.Sprintf("👢 %s was removed from the group.", target.LocalPart()))
	return nil
}

func cmdBan(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	target := ident.Normalize(inv.Quoted.Sender.String())
	dec := engine.ManualBan(inv.Chat, target, inv.Sender, inv.Quoted.MessageID)
	// Apply already logged anything that failed; only a failed kick fails the command
	err := d.Engine.Apply(ctx, &dec)
	if slices.Contains(dec.Failures, "kick") {
		return err
	}
	who := target.LocalPart()
	switch dec.Effects.Blacklist.Result {
	case listcache.Added:
		d.reply(ctx, inv, fmt.Sprintf("⛔ %s was removed and blacklisted.", who))
	case listcache.AlreadyPresent:
		d.reply(ctx, inv, fmt.Sprintf("⛔ %s was removed. They were already blacklisted.", who))
	default:
		d.reply(ctx, inv, fmt.Sprintf("⚠️ %s was removed, but could not be blacklisted. Try #blacklist %s later.", who, who))
	}
	return nil
}

func cmdWarn(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	target := ident.Normalize(inv.Quoted.Sender.String())
	text := strings.Join(inv.Args, " ")
	if text == "" {
		text = "please follow the group rules. Repeated violations will get you removed."
	}
	dec := engine.ManualWarn(inv.Chat, target, inv.Sender, fmt.Sprintf("⚠️ Warning @%s: %s", target.LocalPart(), text))
	return d.Engine.Apply(ctx, &dec)
}

func cmdClear(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	eng := d.Engine
	if err := eng.Blacklist.Load(ctx); err != nil {
		return err
	}
	if err := eng.Whitelist.Load(ctx); err != nil {
		return err
	}
	eng.Cooldowns.Reset()
	expired := eng.Mutes.Sweep(ctx)
	for _, id := range expired {
		if id.IsGroup() {
			if err := d.Transport.SetAdminsOnly(ctx, id, false); err != nil {
				d.Logger.Warn("failed to re-open group after mute", "group", id, "err", err)
			}
		}
	}
	d.reply(ctx, inv, fmt.Sprintf("🧹 Reloaded %d blacklisted and %d whitelisted, reset cooldowns, cleared %d expired mutes.",
		eng.Blacklist.Len(), eng.Whitelist.Len(), len(expired)))
	return nil
}

type listName int

const (
	listWhite listName = iota
	listBlack
)

func (d *Dispatcher) list(which listName) *listcache.List {
	if which == listWhite {
		return d.Engine.Whitelist
	}
	return d.Engine.Blacklist
}

func (n listName) label() string {
	if n == listWhite {
		return "whitelist"
	}
	return "blacklist"
}

// target is the id argument if given, else the sender of the quoted message
func listTarget(inv *Invocation) (ident.Identity, bool) {
	if len(inv.Args) > 0 {
		return ident.Normalize(strings.Join(inv.Args, "")), true
	}
	if inv.Quoted != nil && !inv.Quoted.Sender.IsEmpty() {
		return ident.Normalize(inv.Quoted.Sender.String()), true
	}
	return "", false
}

func resultMessage(res listcache.Result, id ident.Identity, label string) string {
	who := id.LocalPart()
	switch res {
	case listcache.Added:
		return fmt.Sprintf("✅ %s added to the %s.", who, label)
	case listcache.AlreadyPresent:
		return fmt.Sprintf("ℹ️ %s is already on the %s.", who, label)
	case listcache.Removed:
		return fmt.Sprintf("✅ %s removed from the %s.", who, label)
	case listcache.NotPresent:
		return fmt.Sprintf("ℹ️ %s is not on the %s.", who, label)
	case listcache.Invalid:
		return "❌ That is not a valid number or identifier."
	default:
		return fmt.Sprintf("❌ Could not update the %s right now. Please try again later.", label)
	}
}

func listAdder(which listName) HandlerFunc {
	return func(ctx context.Context, d *Dispatcher, inv *Invocation) error {
		id, ok := listTarget(inv)
		if !ok {
			d.reply(ctx, inv, "ℹ️ Usage: #"+inv.Name+" <number>, or reply to a message")
			return nil
		}
		reason := ""
		if which == listBlack {
			reason = "added by admin"
		}
		res, err := d.list(which).Add(ctx, id, reason)
		if err != nil && res == listcache.Failed {
			d.Logger.Error("list add failed", "list", which.label(), "identity", id, "err", err)
		}
		d.reply(ctx, inv, resultMessage(res, id, which.label()))
		return nil
	}
}

func listRemover(which listName) HandlerFunc {
	return func(ctx context.Context, d *Dispatcher, inv *Invocation) error {
		id, ok := listTarget(inv)
		if !ok {
			d.reply(ctx, inv, "ℹ️ Usage: #"+inv.Name+" <number>, or reply to a message")
			return nil
		}
		res, err := d.list(which).Remove(ctx, id)
		if err != nil && res == listcache.Failed {
			d.Logger.Error("list remove failed", "list", which.label(), "identity", id, "err", err)
		}
		d.reply(ctx, inv, resultMessage(res, id, which.label()))
		return nil
	}
}

func listShower(which listName) HandlerFunc {
	return func(ctx context.Context, d *Dispatcher, inv *Invocation) error {
		page := 1
		if len(inv.Args) > 0 {
			n, err := strconv.Atoi(inv.Args[0])
			if err != nil || n < 1 {
				d.reply(ctx, inv, "ℹ️ Usage: #"+inv.Name+" [page]")
				return nil
			}
			page = n
		}
		all := d.list(which).Entries(0)
		if len(all) == 0 {
			d.reply(ctx, inv, fmt.Sprintf("📋 The %s is empty.", which.label()))
			return nil
		}
		pages := (len(all) + d.PageSize - 1) / d.PageSize
		if page > pages {
			page = pages
		}
		start := (page - 1) * d.PageSize
		end := min(start+d.PageSize, len(all))

		var b strings.Builder
		fmt.Fprintf(&b, "📋 %s (%d entries, page %d/%d)\n", strings.ToUpper(which.label()[:1])+which.label()[1:], len(all), page, pages)
		for i, e := range all[start:end] {
			fmt.Fprintf(&b, "%d. %s", start+i+1, e.Identity)
			if e.Reason != "" {
				fmt.Fprintf(&b, " (%s)", e.Reason)
			}
			b.WriteString("\n")
		}
		d.reply(ctx, inv, strings.TrimRight(b.String(), "\n"))
		return nil
	}
}

// kickMatching removes every non-admin participant of a group for which reason returns non-empty. Returns how many were removed.
func (d *Dispatcher) kickMatching(ctx context.Context, group ident.Identity, actor ident.Identity, reason func(p transport.Participant) (string, error)) (int, error) {
	info, err := d.Transport.GroupInfo(ctx, group)
	if err != nil {
		return 0, fmt.Errorf("fetching group %s: %w", group, err)
	}
	kicked := 0
	for _, p := range info.Participants {
		if p.IsAdmin {
			continue
		}
		why, err := reason(p)
		if err != nil {
			return kicked, err
		}
		if why == "" {
			continue
		}
		dec := engine.ManualKick(group, p.ID, actor, "")
		dec.GroupName = info.Name
		dec.Reasons = append(dec.Reasons, why)
		if err := d.Engine.Apply(ctx, &dec); err != nil {
			d.Logger.Warn("failed to remove participant", "group", group, "member", p.ID, "err", err)
			continue
		}
		kicked++
	}
	return kicked, nil
}

func (d *Dispatcher) blacklistedReason(ctx context.Context) func(p transport.Participant) (string, error) {
	return func(p transport.Participant) (string, error) {
		ok, err := d.Engine.Blacklist.Contains(ctx, p.ID)
		if err != nil || !ok {
			return "", err
		}
		return engine.ReasonBlacklisted, nil
	}
}

func cmdBotKick(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	n, err := d.kickMatching(ctx, inv.Chat, inv.Sender, d.blacklistedReason(ctx))
	if err != nil {
		return err
	}
	d.reply(ctx, inv, fmt.Sprintf("🧹 Removed %d blacklisted members.", n))
	return nil
}

func cmdBotForeign(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	// explicit command: apply the configured prefixes even if automatic filtering is off
	filter := d.Engine.Config.Country
	filter.Enabled = true
	n, err := d.kickMatching(ctx, inv.Chat, inv.Sender, func(p transport.Participant) (string, error) {
		if !filter.Blocks(p.ID) {
			return "", nil
		}
		ok, err := d.Engine.Whitelist.Contains(ctx, p.ID)
		if err != nil || ok {
			return "", err
		}
		return engine.ReasonCountry, nil
	})
	if err != nil {
		return err
	}
	d.reply(ctx, inv, fmt.Sprintf("🌍 Removed %d members with blocked country codes.", n))
	return nil
}

func cmdSweep(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	groups, err := d.Transport.ListGroups(ctx)
	if err != nil {
		return err
	}
	var total, failed atomic.Int64
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(sweepParallelism)
	for _, g := range groups {
		eg.Go(func() error {
			n, err := d.kickMatching(ectx, g, inv.Sender, d.blacklistedReason(ectx))
			total.Add(int64(n))
			if err != nil {
				// one unreachable group shouldn't stop the others
				d.Logger.Warn("sweep failed for group", "group", g, "err", err)
				failed.Add(1)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	msg := fmt.Sprintf("🧹 Swept %d groups, removed %d blacklisted members.", len(groups), total.Load())
	if f := failed.Load(); f > 0 {
		msg += fmt.Sprintf(" %d groups could not be checked.", f)
	}
	d.reply(ctx, inv, msg)
	return nil
}
