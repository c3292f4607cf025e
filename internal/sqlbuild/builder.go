// Package sqlbuild renders statement text from statically distinguished
// slot kinds. Fixed clause text comes from the generators' own templates;
// identifiers and boundary literals can only enter through Ident, Qualified,
// and Bound, which route through the identifier guard. A failed slot poisons
// the builder, and the eventual error names the clause and the offending
// value so failures are diagnosable at the substitution site.
package sqlbuild

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/partshift/partshift/internal/ident"
)

// Builder accumulates one statement. The zero value is not usable; create
// with New so every builder carries a guard and a clause label.
type Builder struct {
	guard  ident.Guard
	clause string
	sb     strings.Builder
	err    error
}

// New returns a builder for the named clause or template. The clause label
// is only used for error attribution.
func New(guard ident.Guard, clause string) *Builder {
	return &Builder{guard: guard, clause: clause}
}

// Clause appends fixed template text. The text must be a compile-time
// constant owned by the calling generator, never user or catalog input.
func (b *Builder) Clause(fixed string) *Builder {
	if b.err == nil {
		b.sb.WriteString(fixed)
	}
	return b
}

// Ident validates raw and appends it quoted.
func (b *Builder) Ident(raw string) *Builder {
	if b.err != nil {
		return b
	}
	name, err := b.guard.Validate(raw)
	if err != nil {
		b.err = fmt.Errorf("%s: %w", b.clause, err)
		return b
	}
	b.sb.WriteString(b.guard.Quote(name))
	return b
}

// Qualified validates both parts and appends "schema"."name".
func (b *Builder) Qualified(schema, name string) *Builder {
	if b.err != nil {
		return b
	}
	qualified, err := b.guard.Qualify(schema, name)
	if err != nil {
		b.err = fmt.Errorf("%s: %w", b.clause, err)
		return b
	}
	b.sb.WriteString(qualified)
	return b
}

// IdentList appends a comma-separated list of validated, quoted names.
func (b *Builder) IdentList(raws []string) *Builder {
	for i, raw := range raws {
		if i > 0 {
			b.Clause(", ")
		}
		b.Ident(raw)
	}
	return b
}

// Bare validates raw and appends it without quoting, for slots where the
// target system wants the plain name (for example inside a DBMS_STATS
// argument string).
func (b *Builder) Bare(raw string) *Builder {
	if b.err != nil {
		return b
	}
	name, err := b.guard.Validate(raw)
	if err != nil {
		b.err = fmt.Errorf("%s: %w", b.clause, err)
		return b
	}
	b.sb.WriteString(string(name))
	return b
}

// Type appends a catalog data type after it passes the restricted type
// formatter.
func (b *Builder) Type(raw string) *Builder {
	if b.err != nil {
		return b
	}
	formatted, err := ident.FormatDataType(raw)
	if err != nil {
		b.err = fmt.Errorf("%s: %w", b.clause, err)
		return b
	}
	b.sb.WriteString(formatted)
	return b
}

// Bound appends a boundary literal after it passes the restricted literal
// formatter.
func (b *Builder) Bound(raw string) *Builder {
	if b.err != nil {
		return b
	}
	formatted, err := ident.FormatBound(raw)
	if err != nil {
		b.err = fmt.Errorf("%s: %w", b.clause, err)
		return b
	}
	b.sb.WriteString(formatted)
	return b
}

// Int appends a decimal integer.
func (b *Builder) Int(n int) *Builder {
	if b.err == nil {
		b.sb.WriteString(strconv.Itoa(n))
	}
	return b
}

// String returns the rendered statement, or the first slot error.
func (b *Builder) String() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return b.sb.String(), nil
}
