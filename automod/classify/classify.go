// Detects policy-relevant content in message text, such as group invite links.
package classify

import (
	"log/slog"
	"regexp"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// group invite URL, capturing the invite code
var inviteLinkRegex = regexp.MustCompile(`(?i)(?:https?://)?(?:chat\.)?whatsapp\.com/(?:chat/)?([a-z0-9]{10,})`)

type Result struct {
	HasInviteLink bool
	// distinct invite codes, in order of first appearance
	Codes []string
}

// Classify scans text for invite links. Input is expected to already be sanitized (see Sanitize).
func Classify(text string) Result {
	res := Result{Codes: []string{}}
	seen := make(map[string]bool)
	for _, m := range inviteLinkRegex.FindAllStringSubmatch(text, -1) {
		res.HasInviteLink = true
		code := m[1]
		if seen[code] {
			continue
		}
		seen[code] = true
		res.Codes = append(res.Codes, code)
	}
	return res
}

// StripInvisible removes Unicode format characters (zero-width joiners and spaces, bidi controls, etc), which are otherwise used to break up links so they dodge pattern matching.
func StripInvisible(text string) string {
	// transformers are stateful, so build a fresh one per call
	out, _, err := transform.String(runes.Remove(runes.In(unicode.Cf)), text)
	if err != nil {
		slog.Warn("failed to strip format characters", "err", err)
		return text
	}
	return out
}

// Sanitize strips invisible characters and applies compatibility normalization, so full-width and other look-alike forms of ASCII fold to plain ASCII.
func Sanitize(text string) string {
	t := transform.Chain(runes.Remove(runes.In(unicode.Cf)), norm.NFKC)
	out, _, err := transform.String(t, text)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		return StripInvisible(text)
	}
	return out
}
