// Package ids generates the short URL-safe identifiers used for all
// rfvault entities (workspaces, projects, runs, files, keys).
package ids

import (
	"encoding/base64"

	"github.com/google/uuid"
)

// Length is the length of every generated identifier: 16 random bytes
// base64url-encoded without padding.
const Length = 22

// New returns a 22-character URL-safe identifier. The first character is
// always mapped to a letter so identifiers are safe as filenames, CLI
// arguments, and URL path segments regardless of context.
func New() string {
	u := uuid.New()

	id := base64.RawURLEncoding.EncodeToString(u[:])

	return string(mapToLetter(id[0])) + id[1:]
}

// mapToLetter maps an arbitrary base64url character onto [A-Za-z] using
// modulo arithmetic on its code point.
func mapToLetter(c byte) byte {
	if c%52 >= 26 {
		return c%26 + 'a'
	}

	return c%26 + 'A'
}

// Valid reports whether s has the shape of a generated identifier.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}

	return true
}
