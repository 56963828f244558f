package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/mute"
)

// PrefixRule matches phone numbers by leading digits, and optionally by total digit count.
type PrefixRule struct {
	Prefix string
	// zero matches any length
	Length int
}

func (r PrefixRule) Matches(digits string) bool {
	if !strings.HasPrefix(digits, r.Prefix) {
		return false
	}
	return r.Length == 0 || len(digits) == r.Length
}

func (r PrefixRule) String() string {
	if r.Length == 0 {
		return r.Prefix
	}
	return fmt.Sprintf("%s:%d", r.Prefix, r.Length)
}

// ParsePrefixRules parses a comma-separated list like "1:11,7,92" (prefix, optionally with a required length).
func ParsePrefixRules(s string) ([]PrefixRule, error) {
	var out []PrefixRule
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		prefix, length, hasLength := strings.Cut(part, ":")
		if prefix == "" || strings.Trim(prefix, "0123456789") != "" {
			return nil, fmt.Errorf("invalid prefix rule %q", part)
		}
		rule := PrefixRule{Prefix: prefix}
		if hasLength {
			n, err := strconv.Atoi(length)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid length in prefix rule %q", part)
			}
			rule.Length = n
		}
		out = append(out, rule)
	}
	return out, nil
}

// CountryFilter removes joining members whose phone number matches a blocked prefix. The exempt prefix always wins.
type CountryFilter struct {
	Enabled      bool
	ExemptPrefix string
	Blocked      []PrefixRule
}

// Blocks reports whether the identity should be removed by this filter. Only phone identities are considered; linked ids carry no number.
func (f *CountryFilter) Blocks(id ident.Identity) bool {
	if !f.Enabled || !id.IsPhone() {
		return false
	}
	digits := id.LocalPart()
	if f.ExemptPrefix != "" && strings.HasPrefix(digits, f.ExemptPrefix) {
		return false
	}
	for _, r := range f.Blocked {
		if r.Matches(digits) {
			return true
		}
	}
	return false
}

type Config struct {
	// messages while muted beyond this count escalate to a kick
	EscalationThreshold int
	// minimum time between automatic kicks of the same identity
	CooldownWindow time.Duration
	Country        CountryFilter
	// automatic kicks allowed per group per day; zero disables the limit
	KickQuotaDay int
	// bounds on retrying side effects in Apply
	RetryMax     uint64
	RetryInitial time.Duration
	// total backoff allowed per Apply; zero means only RetryMax bounds it
	RetryBudget time.Duration
}

func DefaultConfig() Config {
	return Config{
		EscalationThreshold: mute.EscalationThreshold,
		CooldownWindow:      10 * time.Second,
		Country: CountryFilter{
			Enabled:      false,
			ExemptPrefix: "972",
			Blocked:      []PrefixRule{{Prefix: "1", Length: 11}},
		},
		RetryMax:     5,
		RetryInitial: 500 * time.Millisecond,
		RetryBudget:  3 * time.Second,
	}
}
