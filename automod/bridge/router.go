package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/command"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/engine"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/scheduler"
)

// Envelope is an inbound event as the transport process sends it: an engine event, plus the message being replied to, if any.
type Envelope struct {
	engine.Event
	QuotedSender    ident.Identity `json:"quotedSender,omitempty"`
	QuotedMessageID string         `json:"quotedMessageId,omitempty"`
}

// Sink accepts inbound envelopes.
type Sink interface {
	Submit(ctx context.Context, env Envelope) error
}

// Router runs inbound events through the engine and commands through the dispatcher. Work is queued on a scheduler keyed by (chat, sender), so events from one member of a group are handled in order.
type Router struct {
	Engine      *engine.Engine
	Dispatcher  *command.Dispatcher
	Superadmins []ident.Identity
	Logger      *slog.Logger

	sched *scheduler.Scheduler[Envelope]
}

var _ Sink = (*Router)(nil)

func NewRouter(eng *engine.Engine, disp *command.Dispatcher, superadmins []ident.Identity, workers int, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		Engine:      eng,
		Dispatcher:  disp,
		Superadmins: superadmins,
		Logger:      logger.With("system", "router"),
	}
	r.sched = scheduler.NewScheduler(workers, "router", r.Process)
	return r
}

func envelopeKey(env Envelope) string {
	if env.Kind == engine.KindMessage {
		return fmt.Sprintf("%s/%s", ident.Normalize(env.Group.String()), ident.FamilyKey(ident.Normalize(env.Sender.String())))
	}
	return ident.Normalize(env.Group.String()).String()
}

func (r *Router) Submit(ctx context.Context, env Envelope) error {
	return r.sched.AddWork(ctx, envelopeKey(env), env)
}

// Shutdown drains queued work.
func (r *Router) Shutdown() {
	r.sched.Shutdown()
}

// Process handles one envelope synchronously.
//
// Group messages always go through the message policy first, commands included, so a command prefix can't shield a link or a muted sender. The command only runs if the policy let the message stand.
func (r *Router) Process(ctx context.Context, env Envelope) error {
	chat := ident.Normalize(env.Group.String())
	if env.Kind != engine.KindMessage {
		_, err := r.Engine.ProcessEvent(ctx, env.Event)
		return err
	}

	// direct chats are only for commands
	if !chat.IsGroup() {
		r.dispatch(ctx, chat, env)
		return nil
	}

	decisions, err := r.Engine.ProcessEvent(ctx, env.Event)
	if err != nil {
		return err
	}
	for i := range decisions {
		if !decisions[i].IsAllow() {
			return nil
		}
	}
	r.dispatch(ctx, chat, env)
	return nil
}

// dispatch runs the message as a command, if it is one. Unknown commands are ignored.
func (r *Router) dispatch(ctx context.Context, chat ident.Identity, env Envelope) {
	name, args, ok := command.Parse(env.Text)
	if !ok || r.Dispatcher == nil {
		return
	}
	sender := ident.Normalize(env.Sender.String())
	inv := command.Invocation{
		Name:   name,
		Args:   args,
		Chat:   chat,
		Sender: sender,
		Auth:   command.ResolveAuth(sender, env.SenderIsAdmin, r.Superadmins),
	}
	if !env.QuotedSender.IsEmpty() {
		inv.Quoted = &command.Quoted{
			Sender:    ident.Normalize(env.QuotedSender.String()),
			MessageID: env.QuotedMessageID,
		}
	}
	r.Dispatcher.Dispatch(ctx, inv)
}
