// Admin chat commands ("#kick", "#blacklist 972...", etc), dispatched through a registered command table.
//
// Every command declares where it may be used (group chat, private chat, or either), who may use it, and whether it must be sent as a reply to another message. Dispatch checks those preconditions in a fixed order before running the handler, and always answers in the chat the command came from.
package command

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/engine"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/transport"
)

type Auth int

const (
	AuthNone Auth = iota
	AuthAdmin
	AuthSuperAdmin
)

func (a Auth) String() string {
	switch a {
	case AuthAdmin:
		return "admin"
	case AuthSuperAdmin:
		return "superadmin"
	default:
		return "none"
	}
}

type Scope int

const (
	ScopeEither Scope = iota
	ScopeGroup
	ScopePrivate
)

type Outcome int

const (
	NotFound Outcome = iota
	Handled
)

func (o Outcome) String() string {
	if o == Handled {
		return "handled"
	}
	return "not-found"
}

// Quoted is the message a command replied to.
type Quoted struct {
	Sender    ident.Identity `json:"sender"`
	MessageID string         `json:"messageId,omitempty"`
}

// Invocation is one parsed command, with the facts about its sender the transport knows.
type Invocation struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
	// chat the command was sent in; a group, or the sender's private chat
	Chat   ident.Identity `json:"chat"`
	Sender ident.Identity `json:"sender"`
	Auth   Auth           `json:"auth"`
	Quoted *Quoted        `json:"quoted,omitempty"`
}

func (inv *Invocation) InGroup() bool {
	return inv.Chat.IsGroup()
}

type HandlerFunc func(ctx context.Context, d *Dispatcher, inv *Invocation) error

type Command struct {
	Name  string
	Usage string
	Help  string
	Scope Scope
	Auth  Auth
	// must be sent as a reply to the message it acts on
	NeedsReply bool
	Handler    HandlerFunc
}

type Dispatcher struct {
	Logger    *slog.Logger
	Engine    *engine.Engine
	Transport transport.Transport
	// listing page size for #whitelst / #blacklst
	PageSize int
	// default for #mute without an argument
	DefaultMute time.Duration
	Version     string
	StartedAt   time.Time

	commands map[string]*Command
}

func NewDispatcher(eng *engine.Engine, tr transport.Transport, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		Logger:      logger.With("component", "command"),
		Engine:      eng,
		Transport:   tr,
		PageSize:    50,
		DefaultMute: 60 * time.Minute,
		StartedAt:   time.Now(),
		commands:    make(map[string]*Command),
	}
	for _, c := range builtinCommands() {
		d.Register(c)
	}
	return d
}

// Register adds (or replaces) a command. Names are case-insensitive.
func (d *Dispatcher) Register(c Command) {
	c.Name = strings.ToLower(c.Name)
	d.commands[c.Name] = &c
}

func (d *Dispatcher) Lookup(name string) (*Command, bool) {
	c, ok := d.commands[strings.ToLower(name)]
	return c, ok
}

// Commands returns the registered commands in name order.
func (d *Dispatcher) Commands() []*Command {
	out := make([]*Command, 0, len(d.commands))
	for _, c := range d.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch runs a command. Unknown commands return NotFound (so callers can fall through to other handlers) without replying. Everything else returns Handled, after exactly the reply explaining what happened.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) Outcome {
	cmd, ok := d.Lookup(inv.Name)
	if !ok {
		commandCount.WithLabelValues("unknown", "not-found").Inc()
		return NotFound
	}
	logger := d.Logger.With("command", cmd.Name, "sender", inv.Sender, "chat", inv.Chat)

	switch {
	case cmd.Scope == ScopeGroup && !inv.InGroup():
		commandCount.WithLabelValues(cmd.Name, "wrong-context").Inc()
		d.reply(ctx, &inv, "⚠️ #"+cmd.Name+" only works inside a group.")
		return Handled
	case cmd.Scope == ScopePrivate && inv.InGroup():
		commandCount.WithLabelValues(cmd.Name, "wrong-context").Inc()
		d.reply(ctx, &inv, "⚠️ #"+cmd.Name+" only works in a private chat with the bot.")
		return Handled
	}
	if inv.Auth < cmd.Auth {
		commandCount.WithLabelValues(cmd.Name, "unauthorized").Inc()
		logger.Info("unauthorized command attempt", "auth", inv.Auth.String(), "required", cmd.Auth.String())
		d.reply(ctx, &inv, "🚫 You are not authorized to use #"+cmd.Name+".")
		return Handled
	}
	if cmd.NeedsReply && (inv.Quoted == nil || inv.Quoted.Sender.IsEmpty()) {
		commandCount.WithLabelValues(cmd.Name, "usage").Inc()
		d.reply(ctx, &inv, "ℹ️ Reply to a message with "+cmd.Usage)
		return Handled
	}

	if err := cmd.Handler(ctx, d, &inv); err != nil {
		commandCount.WithLabelValues(cmd.Name, "error").Inc()
		logger.Error("command failed", "err", err)
		d.reply(ctx, &inv, "❌ #"+cmd.Name+" failed. Please try again later.")
		return Handled
	}
	commandCount.WithLabelValues(cmd.Name, "ok").Inc()
	logger.Info("command executed")
	return Handled
}

// reply answers in the chat the command came from. Transport errors are logged; there is nobody else to tell.
func (d *Dispatcher) reply(ctx context.Context, inv *Invocation, text string) {
	if err := d.Transport.SendText(ctx, inv.Chat, text); err != nil {
		d.Logger.Warn("failed to send command reply", "chat", inv.Chat, "err", err)
	}
}

// Parse splits "#Name arg1 arg2" into a lower-cased name and its arguments. Returns false for text which isn't a command.
func Parse(text string) (string, []string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "#") {
		return "", nil, false
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "#"))
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}

// ResolveAuth derives a sender's authorization from the superadmin list and the transport's admin flag.
func ResolveAuth(sender ident.Identity, isGroupAdmin bool, superadmins []ident.Identity) Auth {
	for _, sa := range superadmins {
		for _, v := range ident.Variants(sender) {
			if v == sa {
				return AuthSuperAdmin
			}
		}
	}
	if isGroupAdmin {
		return AuthAdmin
	}
	return AuthNone
}
