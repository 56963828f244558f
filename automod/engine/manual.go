package engine

import (
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/audit"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/flagstore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
)

// Manual decisions are issued by admins through commands. They skip policy checks and quotas, and are applied with Engine.Apply like any other decision.

func manual(action Action, group, subject, actor ident.Identity, reason string) Decision {
	d := Decision{
		Action:  action,
		Source:  audit.SourceCommand,
		Group:   group,
		Subject: subject,
		Actor:   actor,
	}
	if reason != "" {
		d.addReason(reason)
	}
	d.Effects.Notify = true
	return d
}

// ManualKick removes the subject from the group. If messageID is set, that message is deleted too.
func ManualKick(group, subject, actor ident.Identity, messageID string) Decision {
	d := manual(ActionKick, group, subject, actor, "kicked by admin")
	d.MessageID = messageID
	d.Effects.DeleteMessage = messageID != ""
	d.Effects.Kick = true
	return d
}

// ManualBan is a kick plus a blacklist entry, so the subject is removed from every group they join later.
func ManualBan(group, subject, actor ident.Identity, messageID string) Decision {
	d := manual(ActionBan, group, subject, actor, "banned by admin")
	d.MessageID = messageID
	d.Effects.DeleteMessage = messageID != ""
	d.Effects.Kick = true
	d.Effects.AddToBlacklist("banned by admin")
	d.Effects.AddFlag(flagstore.FlagBanned)
	return d
}

// ManualWarn posts a warning in the group and flags the subject.
func ManualWarn(group, subject, actor ident.Identity, text string) Decision {
	d := manual(ActionWarn, group, subject, actor, "warned by admin")
	d.Effects.GroupMessage = text
	d.Effects.AddFlag(flagstore.FlagWarned)
	// the warning itself is the notification
	d.Effects.Notify = false
	return d
}

// ManualMute suspends the subject for the given duration.
func ManualMute(group, subject, actor ident.Identity, duration time.Duration) Decision {
	d := manual(ActionMute, group, subject, actor, "muted by admin")
	d.Effects.MuteFor = duration
	d.Effects.Notify = false
	return d
}
