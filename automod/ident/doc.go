// Canonical identifiers for chat participants and groups.
//
// Transports hand the moderator identifiers in several shapes: bare phone digits (possibly with "+" and separators), legacy domain-qualified ids ("972555123456@c.us"), newer suffixes ("@s.whatsapp.net"), opaque linked ids ("@lid"), and contact-like objects. Everything is reduced to a single [Identity] string key at the transport boundary, so the rest of the moderator never branches on shape.
package ident
