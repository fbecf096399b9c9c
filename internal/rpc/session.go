// File: internal/rpc/session.go
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskbridge/api/schemas"
	"github.com/xkilldash9x/deskbridge/internal/config"
)

// Well-known session labels.
const (
	SessionExec   = "exec"
	SessionVision = "vision"
)

// Session is a named logical endpoint over one Transport. Sessions are
// created lazily by the Registry and reused for the process lifetime.
type Session struct {
	label     string
	transport *Transport
}

var _ schemas.Caller = (*Session)(nil)

// Label names the endpoint.
func (s *Session) Label() string { return s.label }

// Call issues one request on the session's transport.
func (s *Session) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	return s.transport.Request(ctx, method, params, timeout)
}

// Stop tears down the session's worker process.
func (s *Session) Stop() { s.transport.Stop() }

// Registry owns the long-lived worker sessions. It replaces
// process-global singleton handles: the hosting application constructs
// one Registry and hands it to the coordination layer.
type Registry struct {
	logger  *zap.Logger
	configs map[string]config.WorkerConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry builds a registry for the two bridge workers.
func NewRegistry(cfg *config.Config, logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("rpc"),
		configs: map[string]config.WorkerConfig{
			SessionExec:   cfg.Exec,
			SessionVision: cfg.Vision.WorkerConfig,
		},
		sessions: make(map[string]*Session),
	}
}

// Session returns the endpoint with the given label, creating it on
// first use. The underlying subprocess is not spawned until the first
// call on the session.
func (r *Registry) Session(label string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[label]; ok {
		return session, nil
	}
	workerCfg, ok := r.configs[label]
	if !ok {
		return nil, fmt.Errorf("unknown worker session %q", label)
	}
	session := &Session{
		label:     label,
		transport: NewTransport(label, workerCfg, r.logger),
	}
	r.sessions[label] = session
	return session, nil
}

// Exec returns the input/capture worker session.
func (r *Registry) Exec() (schemas.Caller, error) { return r.Session(SessionExec) }

// Vision returns the OCR/grounding worker session.
func (r *Registry) Vision() (schemas.Caller, error) { return r.Session(SessionVision) }

// Close stops every created session. Safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.Unlock()

	for _, session := range sessions {
		session.Stop()
	}
}
