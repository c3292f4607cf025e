package ident

import (
	"fmt"
	"regexp"
	"strings"
)

// Literal boundary values (for example a partition high bound copied from an
// existing partition) are the one place where an expression rather than a
// bare identifier is re-emitted into generated text. FormatBound accepts
// only a small whitelist of constructor shapes and rejects everything else.

var boundShapes = []*regexp.Regexp{
	regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`),
	regexp.MustCompile(`^MAXVALUE$`),
	regexp.MustCompile(`^DATE '[0-9]{4}-[0-9]{2}-[0-9]{2}'$`),
	regexp.MustCompile(`^TIMESTAMP '[0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9]{2}:[0-9]{2}:[0-9]{2}(\.[0-9]+)?'$`),
	regexp.MustCompile(`^TO_DATE\('[0-9: -]+', ?'[A-Za-z0-9:/. -]+'\)$`),
	regexp.MustCompile(`^'[A-Za-z0-9_. -]*'$`),
}

var dataTypeShape = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*( [A-Za-z][A-Za-z0-9_]*)*(\([0-9]+(, ?[0-9]+)?( (BYTE|CHAR))?\))?( WITH( LOCAL)? TIME ZONE)?$`)

// FormatDataType validates a column data type copied from the catalog, for
// example NUMBER(10,2) or TIMESTAMP(6) WITH TIME ZONE. Types are catalog
// output, not user input, but they still cross into statement text and get
// the same reject-don't-repair treatment as identifiers.
func FormatDataType(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty data type", ErrRejected)
	}
	if !dataTypeShape.MatchString(trimmed) {
		return "", fmt.Errorf("%w: data type %q does not match the allowed shape", ErrRejected, raw)
	}
	return trimmed, nil
}

// FormatBound validates a boundary literal for interpolation into a
// partition clause. The input is returned unchanged on success; it is never
// rewritten into an accepted shape.
func FormatBound(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty boundary literal", ErrRejected)
	}
	for _, marker := range []string{";", "--", "/*", "*/"} {
		if strings.Contains(trimmed, marker) {
			return "", fmt.Errorf("%w: boundary literal %q contains %q", ErrRejected, raw, marker)
		}
	}
	for _, shape := range boundShapes {
		if shape.MatchString(trimmed) {
			return trimmed, nil
		}
	}
	return "", fmt.Errorf("%w: boundary literal %q does not match any allowed constructor shape", ErrRejected, raw)
}
