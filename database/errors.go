package database

import (
	"context"
	"errors"
	"fmt"
)

// ErrObjectBusy is wrapped by executors when a NOWAIT lock request fails
// because the object is held by another session. The swap protocol treats
// it as retryable; everything else from a lock statement is fatal for the
// attempt.
var ErrObjectBusy = errors.New("object busy")

// ErrOperationNotAllowed is returned by the gated executor when a
// statement's operation kind is outside the permitted set.
var ErrOperationNotAllowed = errors.New("operation kind not allowed in this execution mode")

// GatedExecutor wraps an Executor and refuses statements whose
// OperationKind is not in the allowed set. Gating is by the closed kind
// tag, never by inspecting statement text.
type GatedExecutor struct {
	inner   Executor
	allowed map[OperationKind]bool
}

// NewGatedExecutor permits only the listed kinds.
func NewGatedExecutor(inner Executor, kinds ...OperationKind) *GatedExecutor {
	allowed := make(map[OperationKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	return &GatedExecutor{inner: inner, allowed: allowed}
}

// Execute forwards to the wrapped executor when the kind is permitted.
func (g *GatedExecutor) Execute(ctx context.Context, stmt Statement) (ExecResult, error) {
	if !g.allowed[stmt.Kind] {
		return ExecResult{}, fmt.Errorf("%w: %s statement %q", ErrOperationNotAllowed, stmt.Kind, stmt.Description)
	}
	return g.inner.Execute(ctx, stmt)
}
