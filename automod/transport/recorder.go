package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
)

type CallKind string

const (
	CallDeleteMessage     CallKind = "delete-message"
	CallRemoveParticipant CallKind = "remove-participant"
	CallSendText          CallKind = "send-text"
	CallSetAdminsOnly     CallKind = "set-admins-only"
)

type Call struct {
	Kind      CallKind
	Group     ident.Identity
	Target    ident.Identity
	MessageID string
	Text      string
	On        bool
}

// Recorder is an in-memory Transport for tests and dry runs. It records every side effect, serves group info from a fixed table, and can be told to fail calls.
type Recorder struct {
	lk     sync.Mutex
	calls  []Call
	groups map[ident.Identity]*GroupInfo

	// if set, returned by every Executor call (after recording it)
	FailWith error
}

var _ Transport = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{
		groups: make(map[ident.Identity]*GroupInfo),
	}
}

func (r *Recorder) record(c Call) error {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.calls = append(r.calls, c)
	return r.FailWith
}

func (r *Recorder) DeleteMessage(ctx context.Context, group ident.Identity, messageID string) error {
	return r.record(Call{Kind: CallDeleteMessage, Group: group, MessageID: messageID})
}

func (r *Recorder) RemoveParticipant(ctx context.Context, group, member ident.Identity) error {
	if err := r.record(Call{Kind: CallRemoveParticipant, Group: group, Target: member}); err != nil {
		return err
	}
	r.lk.Lock()
	defer r.lk.Unlock()
	if g, ok := r.groups[group]; ok {
		kept := g.Participants[:0]
		for _, p := range g.Participants {
			if p.ID != member {
				kept = append(kept, p)
			}
		}
		g.Participants = kept
	}
	return nil
}

func (r *Recorder) SendText(ctx context.Context, to ident.Identity, text string) error {
	return r.record(Call{Kind: CallSendText, Target: to, Text: text})
}

func (r *Recorder) SetAdminsOnly(ctx context.Context, group ident.Identity, on bool) error {
	return r.record(Call{Kind: CallSetAdminsOnly, Group: group, On: on})
}

// SetGroup registers (or replaces) the metadata returned for a group.
func (r *Recorder) SetGroup(info GroupInfo) {
	r.lk.Lock()
	defer r.lk.Unlock()
	cp := info
	cp.Participants = append([]Participant(nil), info.Participants...)
	r.groups[info.ID] = &cp
}

func (r *Recorder) GroupInfo(ctx context.Context, group ident.Identity) (*GroupInfo, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	g, ok := r.groups[group]
	if !ok {
		return nil, fmt.Errorf("unknown group: %s", group)
	}
	cp := *g
	cp.Participants = append([]Participant(nil), g.Participants...)
	return &cp, nil
}

func (r *Recorder) ListGroups(ctx context.Context) ([]ident.Identity, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	out := make([]ident.Identity, 0, len(r.groups))
	for id := range r.groups {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Calls returns a copy of all recorded calls, in order.
func (r *Recorder) Calls() []Call {
	r.lk.Lock()
	defer r.lk.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsOf filters Calls by kind.
func (r *Recorder) CallsOf(kind CallKind) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Texts returns the text of every SendText call to the given recipient.
func (r *Recorder) Texts(to ident.Identity) []string {
	var out []string
	for _, c := range r.CallsOf(CallSendText) {
		if c.Target == to {
			out = append(out, c.Text)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.calls = nil
}
