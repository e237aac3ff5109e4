// Package coreerr defines the closed error taxonomy shared across the core,
// grounded on the teacher's sentinel-error convention
// (internal/rag/service/errors.go) and typed-error packages (internal/a2a).
package coreerr

import (
	"errors"
	"fmt"
)

// Kind is a closed set of error categories the orchestrator and its callers
// branch on. New kinds require a deliberate spec change.
type Kind string

const (
	Connection      Kind = "connection"       // generator or embedder unreachable
	Model           Kind = "model"             // generator refuses / model absent
	Storage         Kind = "storage"           // relational store busy/locked/corrupt
	Filesystem      Kind = "filesystem"        // missing/permission/full disk
	Embedding       Kind = "embedding"         // embedder returned an error
	Retrieval       Kind = "retrieval"         // vector or BM25 failure
	ContextOverflow Kind = "context_overflow"  // context tokens exceed generator window
	Input           Kind = "input"             // malformed request
	Internal        Kind = "internal"          // invariant violation
)

// Error wraps an underlying cause with a Kind used for recovery-policy
// branching, plus an optional short, user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and an optional human message.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err (or any wrapped cause) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or Internal if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
