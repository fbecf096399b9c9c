// File: api/schemas/interfaces.go
// Contracts between the bridge layers. Defined here so the serving
// surfaces (CLI, HTTP, MCP) depend on schemas only, not on the
// concrete transport or coordination implementations.
package schemas

import (
	"context"
	"encoding/json"
	"time"
)

// Caller is one logical worker endpoint. Implementations own exactly
// one worker subprocess, spawn it lazily on first use and reuse it for
// the process lifetime. Call is safe for concurrent use; a zero
// timeout means "wait until the worker answers or dies".
type Caller interface {
	// Call issues one correlated request and blocks until the matching
	// response, a timeout, context cancellation, or worker death.
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
	// Label names the endpoint ("exec", "vision") for diagnostics.
	Label() string
	// Stop tears down the subprocess. Pending calls fail; the next
	// Call respawns.
	Stop()
}

// MediaStore persists captured images and returns an opaque reference
// the caller can use to retrieve them later. The bridge itself never
// reads an image back.
type MediaStore interface {
	SaveImage(imageB64 string, mimeType string) (string, error)
}

// SnapshotOptions tunes one capture round-trip.
type SnapshotOptions struct {
	// SessionKey scopes the vision worker's screenshot cache. Empty
	// means the shared default session.
	SessionKey string
	// DelayMs is a pre-capture delay applied inside the exec worker.
	DelayMs int
	// Timeout bounds each worker call within the operation.
	Timeout time.Duration
}

// ActOptions tunes one action round-trip.
type ActOptions struct {
	SessionKey string
	Timeout    time.Duration
}

// Desktop is the caller-facing surface of the coordination layer.
type Desktop interface {
	Status(ctx context.Context) (*StatusReport, error)
	Snapshot(ctx context.Context, opts SnapshotOptions) (*SnapshotResult, error)
	Act(ctx context.Context, req ActRequest, opts ActOptions) (*ActOutcome, error)
}
