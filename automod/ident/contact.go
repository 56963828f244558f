package ident

// Contact mirrors the loosely-shaped contact objects chat libraries expose. Any subset of fields may be populated.
type Contact struct {
	Serialized string     `json:"_serialized,omitempty"`
	ID         *ContactID `json:"id,omitempty"`
	User       string     `json:"user,omitempty"`
	Server     string     `json:"server,omitempty"`
}

type ContactID struct {
	Serialized string `json:"_serialized,omitempty"`
	User       string `json:"user,omitempty"`
	Server     string `json:"server,omitempty"`
}

// FromContact extracts a [Raw] identifier from a contact object, in priority order: top-level serialized id, nested serialized id, nested (user, server) pair, top-level (user, server) pair. Returns nil if nothing usable is present.
func FromContact(c Contact) Raw {
	if c.Serialized != "" {
		return Phone(c.Serialized)
	}
	if c.ID != nil {
		if c.ID.Serialized != "" {
			return Phone(c.ID.Serialized)
		}
		if c.ID.User != "" {
			return DomainQualified{Local: c.ID.User, Domain: c.ID.Server}
		}
	}
	if c.User != "" {
		return DomainQualified{Local: c.User, Domain: c.Server}
	}
	return nil
}

// NormalizeContact is shorthand for [FromContact] followed by [NormalizeRaw]. Unresolvable contacts result in the empty identity.
func NormalizeContact(c Contact) Identity {
	r := FromContact(c)
	if r == nil {
		return ""
	}
	return NormalizeRaw(r)
}
