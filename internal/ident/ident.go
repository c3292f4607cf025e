// Package ident is the single choke point through which every object and
// column name must pass before it is placed into generated statement text.
// Nothing is ever sanitized or corrected: a name either matches the grammar
// or the operation fails.
package ident

import (
	"errors"
	"fmt"
)

// ErrRejected is wrapped by every validation failure so callers can test
// with errors.Is.
var ErrRejected = errors.New("identifier rejected")

// Name is an identifier that has passed Validate. Quote and Qualify only
// accept this type, so raw strings cannot reach statement text without
// going through validation first.
type Name string

// Guard validates identifiers against a dialect-specific grammar:
// a leading letter followed by letters, digits, or underscores, at most
// MaxLen runes total. Guard is a plain value so tests and dialects can
// carry their own instead of sharing a global.
type Guard struct {
	// MaxLen is the dialect identifier length bound (30 for Oracle,
	// 63 for PostgreSQL).
	MaxLen int
}

// Validate checks raw against the grammar and returns it as a Name.
// Statement separators, comment markers, quotes, whitespace, and any
// character outside [A-Za-z0-9_] all fail.
func (g Guard) Validate(raw string) (Name, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty name", ErrRejected)
	}
	if g.MaxLen > 0 && len(raw) > g.MaxLen {
		return "", fmt.Errorf("%w: %q exceeds %d characters", ErrRejected, raw, g.MaxLen)
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '_'):
		default:
			if i == 0 {
				return "", fmt.Errorf("%w: %q must start with a letter", ErrRejected, raw)
			}
			return "", fmt.Errorf("%w: %q contains invalid character %q", ErrRejected, raw, string(c))
		}
	}
	return Name(raw), nil
}

// Quote wraps an already-validated name in double quotes. The content is
// never altered, only delimited.
func (g Guard) Quote(name Name) string {
	return `"` + string(name) + `"`
}

// Qualify validates both parts and joins them as "schema"."name".
func (g Guard) Qualify(schema, name string) (string, error) {
	s, err := g.Validate(schema)
	if err != nil {
		return "", fmt.Errorf("schema: %w", err)
	}
	n, err := g.Validate(name)
	if err != nil {
		return "", fmt.Errorf("object name: %w", err)
	}
	return g.Quote(s) + "." + g.Quote(n), nil
}

// MustValidate is for compile-time-constant names inside this module's own
// templates. It panics on failure, which for a constant means a programming
// error, not bad input.
func (g Guard) MustValidate(raw string) Name {
	n, err := g.Validate(raw)
	if err != nil {
		panic(err)
	}
	return n
}
