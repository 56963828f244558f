package engine

import (
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
)

type EventKind string

const (
	KindMessage       EventKind = "message"
	KindMembershipAdd EventKind = "membership-add"
)

// Event is a single transport notification. Identities may arrive in any supported spelling; the engine normalizes them.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Group     ident.Identity `json:"group"`
	GroupName string         `json:"groupName,omitempty"`
	Sender    ident.Identity `json:"sender,omitempty"`
	// admin status is known to the transport, not the engine
	SenderIsAdmin bool             `json:"senderIsAdmin,omitempty"`
	MessageID     string           `json:"messageId,omitempty"`
	Text          string           `json:"text,omitempty"`
	Joining       []ident.Identity `json:"joining,omitempty"`
}

// normalized returns a copy with every identity canonicalized.
func (e Event) normalized() Event {
	out := e
	out.Group = ident.Normalize(e.Group.String())
	out.Sender = ident.Normalize(e.Sender.String())
	out.Joining = make([]ident.Identity, 0, len(e.Joining))
	for _, j := range e.Joining {
		if n := ident.Normalize(j.String()); !n.IsEmpty() {
			out.Joining = append(out.Joining, n)
		}
	}
	return out
}
