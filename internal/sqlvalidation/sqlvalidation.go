// Package sqlvalidation checks synthesized statements before they are
// rendered or executed. For the postgres dialect every statement is run
// through the PostgreSQL parser, which catches generator bugs that the
// identifier guard cannot (unbalanced parens, misplaced clauses). Oracle
// statements cannot be parsed this way and only get the structural checks.
package sqlvalidation

import (
	"encoding/json"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/partshift/partshift/database"
)

// Issue represents a validation error or warning for one statement.
type Issue struct {
	Index    int    `json:"index"`
	Severity string `json:"severity"` // "error" or "warning"
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
}

// Result contains all issues found across a batch of statements.
type Result struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// ValidateStatements checks a flat list of synthesized statements.
// dialectName selects which checks apply.
func ValidateStatements(dialectName string, statements []database.Statement) Result {
	var issues []Issue

	for i, stmt := range statements {
		issues = append(issues, structuralChecks(i, stmt)...)

		if dialectName == "postgres" {
			issues = append(issues, parseCheck(i, stmt)...)
		}
	}

	return Result{Valid: !hasErrors(issues), Issues: issues}
}

// ValidateBatches flattens phase batches and validates the statements in
// execution order.
func ValidateBatches(dialectName string, batches []database.PhaseBatch) Result {
	var flat []database.Statement
	for _, batch := range batches {
		flat = append(flat, batch.Statements...)
	}
	return ValidateStatements(dialectName, flat)
}

// JSON renders the result for IDE and CI integration.
func (r Result) JSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal validation result: %w", err)
	}
	return string(data), nil
}

func hasErrors(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == "error" {
			return true
		}
	}
	return false
}

// structuralChecks apply to both dialects. They verify what the builder
// guarantees so that a hand-edited plan file cannot sneak past rendering.
func structuralChecks(index int, stmt database.Statement) []Issue {
	var issues []Issue

	trimmed := strings.TrimSpace(stmt.SQL)
	if trimmed == "" {
		issues = append(issues, Issue{
			Index:    index,
			Severity: "error",
			Message:  "statement is empty",
			Code:     "empty_statement",
		})
		return issues
	}

	if stmt.Description == "" {
		issues = append(issues, Issue{
			Index:    index,
			Severity: "warning",
			Message:  "statement has no description",
			Code:     "missing_description",
		})
	}

	if stmt.Intent == "" {
		issues = append(issues, Issue{
			Index:    index,
			Severity: "error",
			Message:  "statement has no intent",
			Code:     "missing_intent",
		})
	}

	switch stmt.Kind {
	case database.KindReadOnly, database.KindMutating, database.KindMultiStep, database.KindCleanup:
	default:
		issues = append(issues, Issue{
			Index:    index,
			Severity: "error",
			Message:  fmt.Sprintf("statement has unknown operation kind %s", stmt.Kind),
			Code:     "unknown_operation_kind",
		})
	}

	return issues
}

// parseCheck runs a statement through the PostgreSQL parser and requires
// exactly one parse tree per statement.
func parseCheck(index int, stmt database.Statement) []Issue {
	// PL/pgSQL trigger function bodies parse as a single CREATE FUNCTION,
	// so no special casing is needed here.
	result, err := pg_query.Parse(stmt.SQL)
	if err != nil {
		return []Issue{{
			Index:    index,
			Severity: "error",
			Message:  fmt.Sprintf("statement does not parse: %v", err),
			Code:     "syntax_error",
		}}
	}

	if n := len(result.Stmts); n > 1 {
		return []Issue{{
			Index:    index,
			Severity: "error",
			Message:  fmt.Sprintf("expected one statement, parser found %d", n),
			Code:     "multiple_statements",
		}}
	}

	return nil
}

// FormatText renders issues the way the CLI prints them, one row per
// issue with the statement index up front.
func FormatText(r Result) string {
	if r.Valid && len(r.Issues) == 0 {
		return "all statements are valid\n"
	}

	var sb strings.Builder
	for _, issue := range r.Issues {
		severity := "ERROR"
		if issue.Severity == "warning" {
			severity = "WARNING"
		}
		fmt.Fprintf(&sb, "statement %d: %s: %s\n", issue.Index, severity, issue.Message)
	}
	return sb.String()
}
