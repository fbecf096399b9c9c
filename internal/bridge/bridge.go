// File: internal/bridge/bridge.go
// The coordination layer. Implements the three caller-facing desktop
// operations by sequencing calls across the exec and vision worker
// sessions: capture, ingest, resolve, act, re-capture.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/deskbridge/api/schemas"
	"github.com/xkilldash9x/deskbridge/internal/config"
	"github.com/xkilldash9x/deskbridge/internal/rpc"
)

// wireJSON decodes worker result payloads.
var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrBridgeDisabled rejects every operation when the bridge is
	// switched off in configuration.
	ErrBridgeDisabled = errors.New("desktop bridge is disabled")

	// ErrNotFound marks an OCR resolution whose text hint matched
	// nothing on screen above the configured threshold.
	ErrNotFound = errors.New("target text not found on screen")
)

// ValidationError rejects a malformed act request before any worker
// call is made.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "invalid act request: " + e.Message }

// ocrNoMatchMarker is the stable prefix of the vision worker's "text
// not on screen" failure; it is the only resolve error classified as
// ErrNotFound rather than passed through.
const ocrNoMatchMarker = "Could not find text"

// Bridge implements schemas.Desktop over two long-lived worker
// sessions. It is stateless across calls; the sessions (and their
// single subprocess each) are the only shared resources, and they are
// safe for concurrent callers.
type Bridge struct {
	cfg     *config.Config
	logger  *zap.Logger
	exec    schemas.Caller
	vision  schemas.Caller
	media   schemas.MediaStore
	limiter *rate.Limiter
}

var _ schemas.Desktop = (*Bridge)(nil)

// New builds a bridge over the given worker sessions. media may be nil
// when snapshot persistence is not wanted (one-shot CLI calls).
func New(cfg *config.Config, logger *zap.Logger, exec, vision schemas.Caller, media schemas.MediaStore) *Bridge {
	var limiter *rate.Limiter
	if cfg.Bridge.ActRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Bridge.ActRatePerSec), 1)
	}
	return &Bridge{
		cfg:     cfg,
		logger:  logger.Named("bridge"),
		exec:    exec,
		vision:  vision,
		media:   media,
		limiter: limiter,
	}
}

// NewFromRegistry wires a bridge to the registry's exec and vision
// sessions.
func NewFromRegistry(cfg *config.Config, logger *zap.Logger, registry *rpc.Registry, media schemas.MediaStore) (*Bridge, error) {
	exec, err := registry.Exec()
	if err != nil {
		return nil, err
	}
	vision, err := registry.Vision()
	if err != nil {
		return nil, err
	}
	return New(cfg, logger, exec, vision, media), nil
}

// Status queries both workers, exec first. Either failing fails the
// whole call; there is deliberately no partial result.
func (b *Bridge) Status(ctx context.Context) (*schemas.StatusReport, error) {
	if !b.cfg.Bridge.Enabled {
		return nil, ErrBridgeDisabled
	}

	execRaw, err := b.exec.Call(ctx, "status", nil, b.cfg.Exec.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("exec status: %w", err)
	}
	var execStatus schemas.ExecStatus
	if err := wireJSON.Unmarshal(execRaw, &execStatus); err != nil {
		return nil, fmt.Errorf("decoding exec status: %w", err)
	}

	visionRaw, err := b.vision.Call(ctx, "status", nil, b.cfg.Vision.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("vision status: %w", err)
	}
	var visionStatus schemas.VisionStatus
	if err := wireJSON.Unmarshal(visionRaw, &visionStatus); err != nil {
		return nil, fmt.Errorf("decoding vision status: %w", err)
	}

	return &schemas.StatusReport{Exec: execStatus, Vision: visionStatus}, nil
}

// Snapshot captures the screen, hands the image to the vision worker
// for OCR pre-warming and persists it through the media collaborator.
func (b *Bridge) Snapshot(ctx context.Context, opts schemas.SnapshotOptions) (*schemas.SnapshotResult, error) {
	if !b.cfg.Bridge.Enabled {
		return nil, ErrBridgeDisabled
	}
	return b.captureAndIngest(ctx, opts.SessionKey, opts.DelayMs, opts.Timeout)
}

// Act validates and resolves the request, dispatches the cleaned
// action to the exec worker, then unconditionally takes a fresh
// snapshot. The snapshot runs even when the worker reports ok=false;
// only transport-level failure of the act call itself aborts it.
func (b *Bridge) Act(ctx context.Context, req schemas.ActRequest, opts schemas.ActOptions) (*schemas.ActOutcome, error) {
	if !b.cfg.Bridge.Enabled {
		return nil, ErrBridgeDisabled
	}
	if !req.Kind.IsKnown() {
		return nil, &ValidationError{Message: fmt.Sprintf("unknown action kind %q", req.Kind)}
	}

	sessionKey := b.sessionKey(opts.SessionKey)
	target, err := b.resolveTarget(ctx, req, sessionKey)
	if err != nil {
		return nil, err
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.cfg.Exec.RequestTimeout
	}
	payload := buildActPayload(req, target)
	actRaw, err := b.exec.Call(ctx, "act", payload, timeout)
	if err != nil {
		return nil, fmt.Errorf("dispatching %s action: %w", req.Kind, err)
	}
	var result schemas.ActResult
	if err := wireJSON.Unmarshal(actRaw, &result); err != nil {
		return nil, fmt.Errorf("decoding act result: %w", err)
	}
	if !result.OK {
		b.logger.Warn("Action reported failure",
			zap.String("kind", string(req.Kind)),
			zap.String("message", result.Message))
	}

	postDelay := 0
	if req.WaitMs != nil {
		postDelay = *req.WaitMs
	}
	snapshot, err := b.captureAndIngest(ctx, sessionKey, postDelay, opts.Timeout)
	if err != nil {
		// The action already ran on the desktop; surface that in the
		// error instead of silently dropping the verdict.
		return nil, fmt.Errorf("action %s dispatched (ok=%v) but post-action snapshot failed: %w", req.Kind, result.OK, err)
	}

	return &schemas.ActOutcome{Result: result, Snapshot: snapshot}, nil
}

// captureAndIngest is the shared capture → ingest → persist sequence
// used by Snapshot and by the post-action phase of Act.
func (b *Bridge) captureAndIngest(ctx context.Context, sessionKey string, delayMs int, timeout time.Duration) (*schemas.SnapshotResult, error) {
	sessionKey = b.sessionKey(sessionKey)
	if timeout <= 0 {
		timeout = b.cfg.Exec.RequestTimeout
	}

	params := map[string]any{}
	if delayMs > 0 {
		params["delay_ms"] = delayMs
	}
	raw, err := b.exec.Call(ctx, "snapshot", params, timeout)
	if err != nil {
		return nil, fmt.Errorf("exec snapshot: %w", err)
	}
	var payload schemas.SnapshotPayload
	if err := wireJSON.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding snapshot payload: %w", err)
	}

	// Hand the capture to the vision worker so OCR starts without a
	// re-capture. The call returns on ingest acknowledgement; the
	// worker's OCR pass continues on its own time.
	ingestParams := map[string]any{
		"session_key":         sessionKey,
		"image":               payload.Image,
		"screenshot_id":       payload.ScreenshotID,
		"ocr_wait_timeout_ms": 0,
	}
	visionTimeout := b.cfg.Vision.RequestTimeout
	ingestRaw, err := b.vision.Call(ctx, "ingest_screenshot", ingestParams, visionTimeout)
	if err != nil {
		return nil, fmt.Errorf("vision ingest: %w", err)
	}
	var ingest schemas.IngestResult
	if err := wireJSON.Unmarshal(ingestRaw, &ingest); err != nil {
		return nil, fmt.Errorf("decoding ingest result: %w", err)
	}
	if ingest.ScreenshotID != "" && ingest.ScreenshotID != payload.ScreenshotID {
		b.logger.Warn("Vision worker acknowledged a different screenshot id",
			zap.String("captured", payload.ScreenshotID),
			zap.String("acknowledged", ingest.ScreenshotID))
	}

	mediaRef := ""
	if b.media != nil {
		mediaRef, err = b.media.SaveImage(payload.Image, payload.MimeType)
		if err != nil {
			return nil, fmt.Errorf("persisting snapshot media: %w", err)
		}
	}

	return &schemas.SnapshotResult{
		ScreenshotID: payload.ScreenshotID,
		MimeType:     payload.MimeType,
		Width:        payload.Width,
		Height:       payload.Height,
		SystemState:  payload.SystemState,
		MediaRef:     mediaRef,
	}, nil
}

// resolveTarget produces the dispatch coordinates for the request, or
// nil when the kind does not require a point. Validation failures
// happen here, before any worker call.
func (b *Bridge) resolveTarget(ctx context.Context, req schemas.ActRequest, sessionKey string) (*point, error) {
	switch req.FindBy {
	case "", schemas.ResolveManual, schemas.ResolveOCR, schemas.ResolvePrediction:
	default:
		return nil, &ValidationError{Message: fmt.Sprintf("unknown resolution method %q", req.FindBy)}
	}

	if !req.Kind.NeedsCoordinates() {
		return nil, nil
	}

	if req.FindBy == schemas.ResolveOCR || req.FindBy == schemas.ResolvePrediction {
		return b.resolveWithVision(ctx, req, sessionKey)
	}

	if target, ok := normalizeManualTarget(req); ok {
		return &target, nil
	}
	return nil, &ValidationError{
		Message: fmt.Sprintf("action kind %q requires coordinates; supply x/y or a resolution method", req.Kind),
	}
}

// resolveWithVision asks the vision worker to ground the request's
// hint against the session's most recent screenshot. The resolved
// point overrides any caller-supplied coordinates.
func (b *Bridge) resolveWithVision(ctx context.Context, req schemas.ActRequest, sessionKey string) (*point, error) {
	params := map[string]any{
		"session_key":         sessionKey,
		"method":              string(req.FindBy),
		"ocr_match_threshold": b.cfg.Vision.OCRMatchThreshold,
		"ocr_wait_timeout_ms": int(b.cfg.Vision.OCRWaitTimeout.Milliseconds()),
	}
	switch req.FindBy {
	case schemas.ResolveOCR:
		if req.OCRText == "" {
			return nil, &ValidationError{Message: "ocr resolution requires ocr_text"}
		}
		params["ocr_text"] = req.OCRText
	case schemas.ResolvePrediction:
		if req.Description == "" {
			return nil, &ValidationError{Message: "prediction resolution requires description"}
		}
		params["description"] = req.Description
		modelName := req.ModelName
		if modelName == "" {
			modelName = b.cfg.Vision.ModelName
		}
		params["model_name"] = modelName
	}

	raw, err := b.vision.Call(ctx, "resolve", params, b.cfg.Vision.RequestTimeout)
	if err != nil {
		var rpcErr *rpc.RPCError
		if req.FindBy == schemas.ResolveOCR && errors.As(err, &rpcErr) && strings.Contains(rpcErr.Message, ocrNoMatchMarker) {
			return nil, fmt.Errorf("%s: %w", rpcErr.Message, ErrNotFound)
		}
		return nil, fmt.Errorf("vision resolve: %w", err)
	}

	var resolved schemas.ResolveResult
	if err := wireJSON.Unmarshal(raw, &resolved); err != nil {
		return nil, fmt.Errorf("decoding resolve result: %w", err)
	}
	return &point{x: resolved.X, y: resolved.Y}, nil
}

// sessionKey applies the configured default when the caller did not
// scope the call.
func (b *Bridge) sessionKey(key string) string {
	if key != "" {
		return key
	}
	if b.cfg.Bridge.DefaultSessionKey != "" {
		return b.cfg.Bridge.DefaultSessionKey
	}
	return "default"
}
