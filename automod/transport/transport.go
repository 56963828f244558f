// Interfaces to the chat transport: the process which holds the actual chat connection and carries out moderation side effects.
//
// Transport calls may fail. Callers log, count and retry them; a transport failure never changes a moderation decision.
package transport

import (
	"context"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
)

// Executor performs moderation side effects.
type Executor interface {
	DeleteMessage(ctx context.Context, group ident.Identity, messageID string) error
	RemoveParticipant(ctx context.Context, group, member ident.Identity) error
	// to may be a group or a direct chat
	SendText(ctx context.Context, to ident.Identity, text string) error
	SetAdminsOnly(ctx context.Context, group ident.Identity, on bool) error
}

type Participant struct {
	ID      ident.Identity `json:"id"`
	IsAdmin bool           `json:"isAdmin"`
}

type GroupInfo struct {
	ID           ident.Identity `json:"id"`
	Name         string         `json:"name"`
	Participants []Participant  `json:"participants"`
}

// IsAdmin reports whether any variant of id is an admin of the group.
func (g *GroupInfo) IsAdmin(id ident.Identity) bool {
	for _, p := range g.Participants {
		if !p.IsAdmin {
			continue
		}
		for _, v := range ident.Variants(id) {
			if p.ID == v {
				return true
			}
		}
	}
	return false
}

// GroupDirectory fetches group metadata.
type GroupDirectory interface {
	GroupInfo(ctx context.Context, group ident.Identity) (*GroupInfo, error)
	// groups the bot is a member of
	ListGroups(ctx context.Context) ([]ident.Identity, error)
}

type Transport interface {
	Executor
	GroupDirectory
}
