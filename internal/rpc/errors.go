// File: internal/rpc/errors.go
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout marks a request that received no response within its
	// deadline. The worker may still complete the operation; its late
	// response is dropped as unmatched.
	ErrTimeout = errors.New("request timed out")

	// ErrWorkerStopped marks a request that was pending when its
	// worker process died or was stopped. The next request on the
	// transport attempts a fresh spawn.
	ErrWorkerStopped = errors.New("worker stopped")
)

// AttemptError records one failed launch candidate.
type AttemptError struct {
	Command string
	Err     error
}

// StartError aggregates the per-candidate launch failures when no
// interpreter candidate could spawn the worker. It fails the call that
// triggered the spawn, not the hosting process.
type StartError struct {
	Label    string
	Attempts []AttemptError
}

func (e *StartError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "failed to start %s worker", e.Label)
	for _, attempt := range e.Attempts {
		fmt.Fprintf(&sb, "; %s: %v", attempt.Command, attempt.Err)
	}
	return sb.String()
}

// Unwrap exposes the individual candidate errors to errors.Is/As.
func (e *StartError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		errs = append(errs, attempt.Err)
	}
	return errs
}

// RPCError is a structured failure reported by the worker in place of
// a result. It rejects only the call that triggered it.
type RPCError struct {
	Label   string
	Method  string
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s worker rejected %s: %s", e.Label, e.Method, e.Message)
}
