package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/audit"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/countstore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/flagstore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/listcache"

	"github.com/cenkalti/backoff/v4"
)

// cache purge hook implemented by transport.CachedDirectory
type groupPurger interface {
	Purge(ctx context.Context, group ident.Identity)
}

// Apply carries out the side effects of a decision, in order: delete the message, mute, blacklist, kick, post to the group, then record flags, counters, notifications and the audit trail.
//
// Transport calls and store writes are retried with exponential backoff, within one RetryBudget shared by the whole call; once it is spent, remaining effects get a single attempt. Failures are logged, counted and noted on the decision (Failures), and returned joined; they never alter the decision itself.
func (eng *Engine) Apply(ctx context.Context, d *Decision) error {
	if d.IsAllow() {
		return nil
	}
	ctx, span := tracer.Start(ctx, "Apply")
	defer span.End()

	logger := eng.Logger.With("group", d.Group, "subject", d.Subject, "action", d.Action.String())
	var errs []error
	fail := func(effect string, err error) {
		logger.Error("moderation side effect failed", "effect", effect, "err", err)
		sideEffectErrorCount.WithLabelValues(effect).Inc()
		d.Failures = append(d.Failures, effect)
		errs = append(errs, fmt.Errorf("%s: %w", effect, err))
	}
	eff := &d.Effects
	var deadline time.Time
	if eng.Config.RetryBudget > 0 {
		deadline = time.Now().Add(eng.Config.RetryBudget)
	}
	retry := func(op func() error) error {
		return eng.retry(ctx, deadline, op)
	}

	if eff.DeleteMessage && d.MessageID != "" && eng.Executor != nil {
		err := retry(func() error {
			return eng.Executor.DeleteMessage(ctx, d.Group, d.MessageID)
		})
		if err != nil {
			fail("delete-message", err)
		} else {
			eff.Increment(countstore.CountDelete, d.Group.String())
		}
	}

	if eff.MuteFor > 0 {
		err := retry(func() error {
			_, err := eng.Mutes.Mute(ctx, d.Subject, eff.MuteFor)
			return err
		})
		if err != nil {
			fail("mute", err)
		}
	}

	if b := eff.Blacklist; b != nil && !b.Done() {
		err := retry(func() error {
			res, err := eng.Blacklist.Add(ctx, d.Subject, b.Reason)
			b.Result, b.Err, b.Attempted = res, err, true
			if res == listcache.Invalid {
				return backoff.Permanent(err)
			}
			return err
		})
		if err != nil {
			fail("blacklist", err)
		} else if b.Result == listcache.Added {
			eff.Increment(countstore.CountBlacklist, d.Group.String())
		}
	}

	if eff.Kick && eng.Executor != nil {
		err := retry(func() error {
			return eng.Executor.RemoveParticipant(ctx, d.Group, d.Subject)
		})
		if err != nil {
			fail("kick", err)
		} else {
			eff.Increment(countstore.CountKick, d.Group.String())
			eff.IncrementDistinct(countstore.DistinctKicked, d.Group.String(), d.Subject.String())
			eff.AddFlag(flagstore.FlagKicked)
			if d.Source == audit.SourceAuto && eng.Config.KickQuotaDay > 0 {
				eff.Increment(quotaCounter, d.Group.String())
			}
			if p, ok := eng.Directory.(groupPurger); ok {
				p.Purge(ctx, d.Group)
			}
		}
	}

	if eff.GroupMessage != "" && eng.Executor != nil {
		err := retry(func() error {
			return eng.Executor.SendText(ctx, d.Group, eff.GroupMessage)
		})
		if err != nil {
			fail("group-message", err)
		}
	}

	if len(eff.Flags) > 0 && !d.Subject.IsEmpty() {
		if err := eng.Flags.Add(ctx, d.Subject.String(), dedupeStrings(eff.Flags)); err != nil {
			fail("flags", err)
		}
	}

	eff.Increment(countstore.CountDecision, d.Group.String())
	if err := eng.persistCounters(ctx, eff); err != nil {
		// counters are statistics; don't fail the decision over them
		logger.Warn("failed to persist counters", "err", err)
	}

	if eff.Notify {
		n := d.notification()
		for _, notifier := range eng.Notifiers {
			if err := notifier.Notify(ctx, n); err != nil {
				fail("notify", err)
			}
		}
	}

	if eng.Audit != nil {
		if err := eng.Audit.Write(ctx, d.auditRecord()); err != nil {
			logger.Error("failed to write audit record", "err", err)
			sideEffectErrorCount.WithLabelValues("audit").Inc()
		}
	}

	d.canonicalLogLine(logger)
	return errors.Join(errs...)
}

// retry runs op with backoff. A non-zero deadline caps the total time spent backing off.
func (eng *Engine) retry(ctx context.Context, deadline time.Time, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if eng.Config.RetryInitial > 0 {
		b.InitialInterval = eng.Config.RetryInitial
	}
	maxRetries := eng.Config.RetryMax
	if !deadline.IsZero() {
		left := time.Until(deadline)
		if left <= 0 {
			maxRetries = 0
		} else {
			b.MaxElapsedTime = left
		}
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx))
}

func (eng *Engine) persistCounters(ctx context.Context, eff *Effects) error {
	for _, ref := range eff.CounterIncrements {
		if err := eng.Counters.Increment(ctx, ref.Name, ref.Key); err != nil {
			return err
		}
	}
	for _, ref := range eff.CounterDistinctIncrements {
		if err := eng.Counters.IncrementDistinct(ctx, ref.Name, ref.Bucket, ref.Val); err != nil {
			return err
		}
	}
	return nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
