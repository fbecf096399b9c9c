// File: internal/server/handlers.go
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"

	"github.com/xkilldash9x/deskbridge/api/schemas"
	"github.com/xkilldash9x/deskbridge/internal/bridge"
	"github.com/xkilldash9x/deskbridge/internal/rpc"
)

// Handlers manages the HTTP request handling for the bridge API.
type Handlers struct {
	log     *zap.Logger
	desktop schemas.Desktop
	hub     *Hub
}

// NewHandlers creates a new Handlers instance. hub may be nil when
// event broadcasting is not wanted.
func NewHandlers(logger *zap.Logger, desktop schemas.Desktop, hub *Hub) *Handlers {
	return &Handlers{
		log:     logger.Named("api"),
		desktop: desktop,
		hub:     hub,
	}
}

// SnapshotRequest is the POST /api/v1/snapshot body.
type SnapshotRequest struct {
	SessionKey string `json:"session_key,omitempty"`
	DelayMs    int    `json:"delay_ms,omitempty"`
}

// ActHTTPRequest is the POST /api/v1/act body. The action payload is
// nested so session scoping never collides with action fields.
type ActHTTPRequest struct {
	SessionKey string             `json:"session_key,omitempty"`
	Request    schemas.ActRequest `json:"request"`
}

// APIResponse is the standardized envelope for every JSON response.
type APIResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RegisterRoutes sets up the routing for the bridge API.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	// Health check endpoint (unversioned)
	r.Get("/healthz", h.HandleHealthCheck)

	// API v1 Routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.HandleStatus)
		r.Post("/snapshot", h.HandleSnapshot)
		r.Post("/act", h.HandleAct)
	})
}

// HandleHealthCheck confirms the server is responsive without touching
// the workers.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleStatus queries both workers and reports their health.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.desktop.Status(r.Context())
	if err != nil {
		h.respondWithBridgeError(w, "status", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, report)
}

// HandleSnapshot captures the screen and returns the capture metadata.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
	}

	result, err := h.desktop.Snapshot(r.Context(), schemas.SnapshotOptions{
		SessionKey: req.SessionKey,
		DelayMs:    req.DelayMs,
	})
	if err != nil {
		h.respondWithBridgeError(w, "snapshot", err)
		return
	}

	if h.hub != nil {
		h.hub.Publish(EventSnapshotTaken, map[string]any{
			"screenshot_id": result.ScreenshotID,
			"session_key":   req.SessionKey,
		})
	}
	h.respondWithSuccess(w, http.StatusOK, result)
}

// HandleAct dispatches one desktop action and returns the verdict with
// the post-action snapshot.
func (h *Handlers) HandleAct(w http.ResponseWriter, r *http.Request) {
	var req ActHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.Request.Kind == "" {
		h.respondWithError(w, http.StatusBadRequest, "request.kind is required")
		return
	}

	h.log.Info("Dispatching action",
		zap.String("kind", string(req.Request.Kind)),
		zap.String("session_key", req.SessionKey))

	outcome, err := h.desktop.Act(r.Context(), req.Request, schemas.ActOptions{SessionKey: req.SessionKey})
	if err != nil {
		h.respondWithBridgeError(w, "act", err)
		return
	}

	if h.hub != nil {
		h.hub.Publish(EventActionDispatched, map[string]any{
			"kind":          string(outcome.Result.Kind),
			"ok":            outcome.Result.OK,
			"screenshot_id": outcome.Snapshot.ScreenshotID,
		})
	}
	h.respondWithSuccess(w, http.StatusOK, outcome)
}

// respondWithBridgeError maps bridge and transport failures onto HTTP
// status codes.
func (h *Handlers) respondWithBridgeError(w http.ResponseWriter, operation string, err error) {
	var validationErr *bridge.ValidationError
	var startErr *rpc.StartError
	var rpcErr *rpc.RPCError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.Is(err, bridge.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, bridge.ErrBridgeDisabled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, rpc.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.As(err, &startErr), errors.Is(err, rpc.ErrWorkerStopped):
		status = http.StatusBadGateway
	case errors.As(err, &rpcErr):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.log.Error("Operation failed", zap.String("operation", operation), zap.Error(err))
	} else {
		h.log.Warn("Operation rejected",
			zap.String("operation", operation),
			zap.Int("status", status),
			zap.Error(err))
	}
	h.respondWithError(w, status, err.Error())
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, APIResponse{Status: "error", Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data any) {
	h.writeJSON(w, statusCode, APIResponse{Status: "success", Data: data})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, statusCode int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
