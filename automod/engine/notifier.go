package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/transport"
)

// Notification summarizes an action for human moderators.
type Notification struct {
	Action    Action
	Source    string
	Group     ident.Identity
	GroupName string
	Subject   ident.Identity
	Actor     ident.Identity
	Reasons   []string
	Codes     []string
	Kicked    bool
	// blacklist outcome, if the decision asked for one
	Blacklist string
}

// Interface for a type that can handle sending notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

func (d *Decision) notification() Notification {
	n := Notification{
		Action:    d.Action,
		Source:    d.Source,
		Group:     d.Group,
		GroupName: d.GroupName,
		Subject:   d.Subject,
		Actor:     d.Actor,
		Reasons:   d.Reasons,
		Codes:     d.Codes,
		Kicked:    d.Effects.Kick,
	}
	if b := d.Effects.Blacklist; b != nil {
		n.Blacklist = b.Result.String()
	}
	return n
}

// Text renders the notification as a plain chat message.
func (n Notification) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 Moderation action: %s\n", strings.ToUpper(n.Action.String()))
	if n.GroupName != "" {
		fmt.Fprintf(&b, "Group: %s (%s)\n", n.GroupName, n.Group)
	} else if !n.Group.IsEmpty() {
		fmt.Fprintf(&b, "Group: %s\n", n.Group)
	}
	if !n.Subject.IsEmpty() {
		fmt.Fprintf(&b, "User: %s\n", n.Subject)
	}
	if !n.Actor.IsEmpty() {
		fmt.Fprintf(&b, "By: %s\n", n.Actor)
	}
	if len(n.Reasons) > 0 {
		fmt.Fprintf(&b, "Reason: %s\n", strings.Join(n.Reasons, "; "))
	}
	if len(n.Codes) > 0 {
		fmt.Fprintf(&b, "Invite codes: %s\n", strings.Join(n.Codes, ", "))
	}
	if n.Blacklist != "" {
		fmt.Fprintf(&b, "Blacklist: %s\n", n.Blacklist)
	}
	if n.Kicked {
		b.WriteString("User was removed from the group.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// TransportNotifier posts notifications into a chat (usually the superadmin's private chat) through the transport.
type TransportNotifier struct {
	Executor transport.Executor
	Channel  ident.Identity
}

func (n *TransportNotifier) Notify(ctx context.Context, notif Notification) error {
	if n.Channel.IsEmpty() {
		return nil
	}
	return n.Executor.SendText(ctx, n.Channel, notif.Text())
}

// LogNotifier just logs notifications; used when no admin channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, notif Notification) error {
	n.Logger.Info("moderation notification", "action", notif.Action.String(), "group", notif.Group, "subject", notif.Subject, "reasons", notif.Reasons)
	return nil
}

func (d *Decision) canonicalLogLine(logger *slog.Logger) {
	logger.Info("canonical-decision-line",
		"source", d.Source,
		"messageID", d.MessageID,
		"reasons", d.Reasons,
		"codes", d.Codes,
		"deleteMessage", d.Effects.DeleteMessage,
		"kick", d.Effects.Kick,
		"blacklist", d.Effects.Blacklist != nil,
		"mute", d.Effects.MuteFor.String(),
		"notify", d.Effects.Notify,
		"flags", d.Effects.Flags,
		"failures", d.Failures,
	)
}
