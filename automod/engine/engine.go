package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/audit"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/classify"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/cooldown"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/countstore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/flagstore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/listcache"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/mute"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/transport"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	ReasonInviteLink  = "invite link"
	ReasonBlacklisted = "blacklisted"
	ReasonCountry     = "country code"
	ReasonMuted       = "message while muted"
	ReasonCooldown    = "cooldown"
	ReasonQuota       = "kick quota exhausted"

	// counter tracking automatic kicks, for the daily quota
	quotaCounter = "automod-quota-kick"
)

var tracer = otel.Tracer("engine")

// Runtime for deciding on events, and carrying out the resulting moderation actions.
//
// All the state fields (lists, mutes, cooldowns, counters, flags) must be non-nil. Directory, Notifiers and Audit are optional.
type Engine struct {
	Logger    *slog.Logger
	Config    Config
	Blacklist *listcache.List
	Whitelist *listcache.List
	Mutes     *mute.Registry
	Cooldowns *cooldown.Guard
	Counters  countstore.CountStore
	Flags     flagstore.FlagStore
	Executor  transport.Executor
	// used to confirm admin status when the transport didn't assert it
	Directory transport.GroupDirectory
	Notifiers []Notifier
	Audit     audit.Sink
}

// ProcessEvent decides on an event and applies every resulting action. Side-effect failures are returned (joined) but never change the decisions.
func (eng *Engine) ProcessEvent(ctx context.Context, evt Event) (decisions []Decision, err error) {
	ctx, span := tracer.Start(ctx, "ProcessEvent")
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(evt.Kind)))

	// similar to an HTTP server, we want to recover any panics from decision code
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("moderation event processing exception", "err", r, "group", evt.Group, "kind", evt.Kind)
			eventErrorCount.WithLabelValues(string(evt.Kind)).Inc()
			err = fmt.Errorf("panic processing %s event: %v", evt.Kind, r)
		}
	}()

	start := time.Now()
	defer func() {
		eventProcessDuration.WithLabelValues(string(evt.Kind)).Observe(time.Since(start).Seconds())
	}()
	eventProcessCount.WithLabelValues(string(evt.Kind)).Inc()

	switch evt.Kind {
	case KindMessage:
		decisions = []Decision{eng.DecideMessage(ctx, evt)}
	case KindMembershipAdd:
		decisions = eng.DecideMembership(ctx, evt)
	default:
		eventErrorCount.WithLabelValues(string(evt.Kind)).Inc()
		return nil, fmt.Errorf("unhandled event kind: %q", evt.Kind)
	}

	var errs []error
	for i := range decisions {
		decisionCount.WithLabelValues(decisions[i].Action.String()).Inc()
		if err := eng.Apply(ctx, &decisions[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return decisions, errors.Join(errs...)
}

// DecideMessage runs the message policy. It reads and updates moderation state (mute infractions, cooldowns, automatic blacklisting) but performs no transport side effects.
func (eng *Engine) DecideMessage(ctx context.Context, evt Event) Decision {
	evt = evt.normalized()
	d := Decision{
		Action:    ActionAllow,
		Source:    audit.SourceAuto,
		Group:     evt.Group,
		GroupName: evt.GroupName,
		Subject:   evt.Sender,
		MessageID: evt.MessageID,
	}
	if evt.Sender.IsEmpty() {
		// nothing we could act on
		return d
	}
	logger := eng.Logger.With("group", evt.Group, "sender", evt.Sender)

	muted, err := eng.Mutes.IsMuted(ctx, evt.Sender)
	if err != nil {
		return eng.failOpen(logger, d, "mute", err)
	}
	if muted {
		count := eng.Mutes.RecordInfraction(ctx, evt.Sender)
		d.Effects.Increment(countstore.CountMuted, evt.Group.String())
		d.Effects.DeleteMessage = true
		d.addReason(ReasonMuted)
		if count <= eng.Config.EscalationThreshold {
			d.Action = ActionDelete
			return d
		}
		d.addReason(fmt.Sprintf("%d messages while muted", count))
		d.Effects.AddFlag(flagstore.FlagMutedRepeat)
		d.Effects.Notify = true
		if _, err := eng.Mutes.Unmute(ctx, evt.Sender); err != nil {
			logger.Warn("failed to clear mute after escalation", "err", err)
		}
		eng.kickOrDowngrade(ctx, logger, &d, ActionDelete)
		return d
	}

	res := classify.Classify(classify.Sanitize(evt.Text))
	if !res.HasInviteLink {
		return d
	}

	whitelisted, err := eng.Whitelist.Contains(ctx, evt.Sender)
	if err != nil {
		return eng.failOpen(logger, d, "whitelist", err)
	}
	if whitelisted {
		logger.Debug("invite link from whitelisted sender")
		return d
	}
	admin, err := eng.isGroupAdmin(ctx, evt)
	if err != nil {
		return eng.failOpen(logger, d, "admin", err)
	}
	if admin {
		logger.Debug("invite link from group admin")
		return d
	}

	if !eng.Cooldowns.Allow("invite/"+ident.FamilyKey(evt.Sender), eng.Config.CooldownWindow) {
		d.addReason(ReasonCooldown)
		cooldownSuppressCount.Inc()
		return d
	}

	d.Codes = res.Codes
	d.addReason(ReasonInviteLink)
	d.Effects.DeleteMessage = true
	d.Effects.Notify = true
	d.Effects.AddFlag(flagstore.FlagInviteSpam)
	d.Effects.AddToBlacklist(ReasonInviteLink)
	eng.tryBlacklist(ctx, &d)
	eng.kickOrDowngrade(ctx, logger, &d, ActionDelete)
	return d
}

// DecideMembership runs the join policy, returning one decision per joining identity.
func (eng *Engine) DecideMembership(ctx context.Context, evt Event) []Decision {
	evt = evt.normalized()
	out := make([]Decision, 0, len(evt.Joining))
	for _, id := range evt.Joining {
		d := Decision{
			Action:    ActionAllow,
			Source:    audit.SourceAuto,
			Group:     evt.Group,
			GroupName: evt.GroupName,
			Subject:   id,
		}
		logger := eng.Logger.With("group", evt.Group, "member", id)

		entry, err := eng.Blacklist.Lookup(ctx, id)
		if err != nil {
			out = append(out, eng.failOpen(logger, d, "blacklist", err))
			continue
		}
		if entry != nil {
			d.addReason(ReasonBlacklisted)
			if entry.Reason != "" {
				d.addReason(entry.Reason)
			}
			d.Effects.Notify = true
			eng.kickOrDowngrade(ctx, logger, &d, ActionAllow)
			out = append(out, d)
			continue
		}

		if eng.Config.Country.Blocks(id) {
			whitelisted, err := eng.Whitelist.Contains(ctx, id)
			if err != nil {
				out = append(out, eng.failOpen(logger, d, "whitelist", err))
				continue
			}
			if !whitelisted {
				d.addReason(ReasonCountry)
				d.Effects.Notify = true
				eng.kickOrDowngrade(ctx, logger, &d, ActionAllow)
			}
		}
		out = append(out, d)
	}
	return out
}

func (eng *Engine) failOpen(logger *slog.Logger, d Decision, check string, err error) Decision {
	logger.Warn("lookup failed during decision, allowing", "check", check, "err", err)
	failOpenCount.WithLabelValues(check).Inc()
	d.Action = ActionAllow
	d.Effects = Effects{}
	d.addReason("lookup failed: " + check)
	return d
}

func (eng *Engine) isGroupAdmin(ctx context.Context, evt Event) (bool, error) {
	if evt.SenderIsAdmin {
		return true, nil
	}
	if eng.Directory == nil || evt.Group.IsEmpty() {
		return false, nil
	}
	info, err := eng.Directory.GroupInfo(ctx, evt.Group)
	if err != nil {
		return false, err
	}
	return info.IsAdmin(evt.Sender), nil
}

// tryBlacklist attempts the blacklist write while deciding. A failure is recorded on the effect, for Apply to retry.
func (eng *Engine) tryBlacklist(ctx context.Context, d *Decision) {
	b := d.Effects.Blacklist
	b.Result, b.Err = eng.Blacklist.Add(ctx, d.Subject, b.Reason)
	b.Attempted = true
	if b.Err != nil {
		eng.Logger.Warn("blacklist write failed while deciding, will retry", "subject", d.Subject, "err", b.Err)
	}
	if b.Result == listcache.Added {
		d.Effects.Increment(countstore.CountBlacklist, d.Group.String())
	}
}

// Circuit breaker on automatic kicks. Once the group's daily quota is used up, the kick is dropped and the decision falls back to the given action (the notification still goes out).
func (eng *Engine) kickOrDowngrade(ctx context.Context, logger *slog.Logger, d *Decision, fallback Action) {
	if quota := eng.Config.KickQuotaDay; quota > 0 {
		c, err := eng.Counters.GetCount(ctx, quotaCounter, d.Group.String(), countstore.PeriodDay)
		if err != nil {
			// the quota is a safety valve, not policy; don't let a counter outage disable moderation
			logger.Warn("failed to read kick quota", "err", err)
		} else if c >= quota {
			logger.Warn("CIRCUIT BREAKER: automatic kicks", "quota", quota)
			circuitBreakCount.WithLabelValues("kick").Inc()
			d.Action = fallback
			d.Effects.Kick = false
			d.addReason(ReasonQuota)
			return
		}
	}
	d.Action = ActionKick
	d.Effects.Kick = true
}
