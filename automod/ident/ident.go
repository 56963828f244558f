package ident

import (
	"errors"
	"strings"
	"unicode"
)

const (
	// Suffix appended to bare phone numbers. Historical records use this form.
	LegacyDomain = "c.us"
	// Newer suffix for phone-backed accounts. Treated as a variant of LegacyDomain.
	PhoneDomain = "s.whatsapp.net"
	// Opaque linked-identifier ids. Never assumed equal to a phone identity.
	LinkedDomain = "lid"
	// Group chats.
	GroupDomain = "g.us"
)

var ErrInvalidIdentity = errors.New("invalid identifier")

// Represents a normalized chat participant or group identifier.
//
// Always build these with [Normalize] (or one of the sibling helpers) instead of wrapping strings directly. The empty Identity means "could not be parsed": it can not be moderated, and callers should skip it.
type Identity string

func (id Identity) String() string {
	return string(id)
}

func (id Identity) IsEmpty() bool {
	return id == ""
}

// The part before the "@" separator.
func (id Identity) LocalPart() string {
	local, _, _ := strings.Cut(string(id), "@")
	return local
}

// The part after the "@" separator; empty if there is none.
func (id Identity) Domain() string {
	_, domain, _ := strings.Cut(string(id), "@")
	return domain
}

func (id Identity) IsGroup() bool {
	return id.Domain() == GroupDomain
}

func (id Identity) IsLinked() bool {
	return id.Domain() == LinkedDomain
}

// Whether this identity is backed by a phone number (and so its local part is a dialable number).
func (id Identity) IsPhone() bool {
	switch id.Domain() {
	case LegacyDomain, PhoneDomain:
		return isDigits(id.LocalPart())
	}
	return false
}

// Raw is an identifier as produced by a transport, before normalization. It is a closed sum type: [Phone] or [DomainQualified].
type Raw interface {
	isRaw()
}

// Phone is a phone number in any punctuation ("+972-555-123456"), or any other bare local part.
type Phone string

// DomainQualified is a (local part, domain) pair such as ("972555123456", "c.us").
type DomainQualified struct {
	Local  string
	Domain string
}

func (Phone) isRaw()           {}
func (DomainQualified) isRaw() {}

// Normalize canonicalizes a raw string identifier.
//
// Any ":resource" suffix (device ids, resources) is dropped. Strings which already contain "@" are lower-cased and returned. Otherwise all non-digit characters are removed (falling back to the trimmed input if no digits remain) and the legacy domain is appended. Returns the empty identity for empty or unparseable input.
//
// Normalize is idempotent: Normalize(Normalize(x).String()) == Normalize(x).
func Normalize(raw string) Identity {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if local, domain, ok := strings.Cut(s, "@"); ok {
		local = stripResource(strings.TrimSpace(local))
		domain = stripResource(strings.TrimSpace(domain))
		if local == "" || domain == "" {
			return ""
		}
		return Identity(strings.ToLower(local + "@" + domain))
	}
	s = stripResource(s)
	local := digitsOnly(s)
	if local == "" {
		local = strings.TrimSpace(s)
	}
	if local == "" {
		return ""
	}
	return Identity(strings.ToLower(local + "@" + LegacyDomain))
}

// NormalizeRaw canonicalizes one of the [Raw] forms.
func NormalizeRaw(r Raw) Identity {
	switch v := r.(type) {
	case Phone:
		return Normalize(string(v))
	case DomainQualified:
		if v.Domain == "" {
			return Normalize(v.Local)
		}
		if v.Local == "" {
			return ""
		}
		return Normalize(v.Local + "@" + v.Domain)
	}
	return ""
}

// Parse is like [Normalize], but returns [ErrInvalidIdentity] instead of an empty identity.
func Parse(raw string) (Identity, error) {
	id := Normalize(raw)
	if id.IsEmpty() {
		return "", ErrInvalidIdentity
	}
	return id, nil
}

// Variants returns all the equivalent spellings of an identity which historical records may be stored under, starting with the identity itself. Only phone-backed identities have more than one form.
func Variants(id Identity) []Identity {
	if id.IsEmpty() {
		return nil
	}
	if !id.IsPhone() {
		return []Identity{id}
	}
	local := id.LocalPart()
	out := []Identity{id}
	for _, domain := range []string{LegacyDomain, PhoneDomain} {
		v := Identity(local + "@" + domain)
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// FamilyKey returns a key shared by all [Variants] of an identity. Used to serialize writes touching any variant.
func FamilyKey(id Identity) string {
	if id.IsPhone() {
		return "phone:" + id.LocalPart()
	}
	return string(id)
}

func stripResource(s string) string {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !unicode.IsDigit(c) {
			return false
		}
	}
	return true
}
