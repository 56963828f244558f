// Per-identity moderation flags (eg, "warned", "kicked"), persisted outside the decision path.
package flagstore

import (
	"context"
	"sort"
)

const (
	FlagWarned      = "warned"
	FlagKicked      = "kicked"
	FlagBanned      = "banned"
	FlagInviteSpam  = "invite-spam"
	FlagMutedRepeat = "muted-repeat-offender"
)

type FlagStore interface {
	// Returns flags in sorted order; an unknown key has no flags.
	Get(ctx context.Context, key string) ([]string, error)
	Add(ctx context.Context, key string, flags []string) error
	// Removing flags which aren't set is not an error.
	Remove(ctx context.Context, key string, flags []string) error
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
