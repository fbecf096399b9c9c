// File: api/schemas/desktop.go
// Shared types for the desktop bridge: action requests, snapshot
// payloads and worker status reports. These mirror the worker wire
// contract; field names must not drift from what the Python workers
// accept.
package schemas

import (
	"encoding/json"
	"fmt"
)

// ActionKind identifies one input action the exec worker can perform.
type ActionKind string

const (
	ActionClick       ActionKind = "click"
	ActionDoubleClick ActionKind = "double_click"
	ActionRightClick  ActionKind = "right_click"
	ActionMove        ActionKind = "move"
	ActionDrag        ActionKind = "drag"
	ActionScroll      ActionKind = "scroll"
	ActionType        ActionKind = "type"
	ActionPress       ActionKind = "press"
	ActionHotkey      ActionKind = "hotkey"
	ActionWait        ActionKind = "wait"
)

// knownActionKinds is the closed set of kinds the bridge will dispatch.
var knownActionKinds = map[ActionKind]bool{
	ActionClick:       true,
	ActionDoubleClick: true,
	ActionRightClick:  true,
	ActionMove:        true,
	ActionDrag:        true,
	ActionScroll:      true,
	ActionType:        true,
	ActionPress:       true,
	ActionHotkey:      true,
	ActionWait:        true,
}

// coordinateKinds are the kinds that require a target point before
// dispatch. Scroll takes an optional point and is deliberately absent.
var coordinateKinds = map[ActionKind]bool{
	ActionClick:       true,
	ActionDoubleClick: true,
	ActionRightClick:  true,
	ActionMove:        true,
	ActionDrag:        true,
}

// IsKnown reports whether the kind is one the exec worker understands.
func (k ActionKind) IsKnown() bool { return knownActionKinds[k] }

// NeedsCoordinates reports whether the kind cannot be dispatched
// without a resolved (x, y) target.
func (k ActionKind) NeedsCoordinates() bool { return coordinateKinds[k] }

// ResolutionMethod selects how a target description becomes pixels.
type ResolutionMethod string

const (
	ResolveManual     ResolutionMethod = "manual"
	ResolveOCR        ResolutionMethod = "ocr"
	ResolvePrediction ResolutionMethod = "prediction"
)

// SystemState is the exec worker's description of the desktop at
// capture time. All fields are opaque strings; the bridge forwards
// them without interpretation.
type SystemState struct {
	ActiveWindow     string `json:"active_window"`
	MousePosition    string `json:"mouse_position"`
	ScreenResolution string `json:"screen_resolution"`
	Time             string `json:"time"`
}

// SnapshotPayload is the exec worker's snapshot result. Image is
// base64-encoded; ScreenshotID is worker-assigned and must travel to
// the vision worker unchanged.
type SnapshotPayload struct {
	Image        string      `json:"image"`
	ScreenshotID string      `json:"screenshot_id"`
	MimeType     string      `json:"mime_type"`
	Width        int         `json:"width"`
	Height       int         `json:"height"`
	SystemState  SystemState `json:"system_state"`
}

// ExecStatus is the exec worker's status report.
type ExecStatus struct {
	OK           bool   `json:"ok"`
	Python       string `json:"python"`
	Platform     string `json:"platform"`
	OCRAvailable *bool  `json:"ocr_available,omitempty"`
}

// VisionStatus is the vision worker's status report.
type VisionStatus struct {
	OK           bool `json:"ok"`
	OCRAvailable bool `json:"ocr_available"`
	ModelLoaded  bool `json:"model_loaded"`
}

// StatusReport aggregates both workers. Either worker failing fails
// the whole status call; there is no partial report.
type StatusReport struct {
	Exec   ExecStatus   `json:"exec"`
	Vision VisionStatus `json:"vision"`
}

// IngestResult acknowledges a screenshot handoff to the vision worker.
type IngestResult struct {
	ScreenshotID string `json:"screenshot_id"`
}

// ResolveResult is a grounded point on the most recently ingested
// screenshot for the session.
type ResolveResult struct {
	ScreenshotID string `json:"screenshot_id"`
	X            int    `json:"x"`
	Y            int    `json:"y"`
}

// ActResult is the exec worker's verdict on one dispatched action.
// OK=false is a normal outcome, not a transport failure.
type ActResult struct {
	OK      bool       `json:"ok"`
	Kind    ActionKind `json:"kind"`
	Message string     `json:"message,omitempty"`
}

// SnapshotResult is what the bridge hands back to callers: the
// worker-assigned id plus capture metadata and the persisted media
// reference. The raw image bytes are not retained.
type SnapshotResult struct {
	ScreenshotID string      `json:"screenshot_id"`
	MimeType     string      `json:"mime_type"`
	Width        int         `json:"width"`
	Height       int         `json:"height"`
	SystemState  SystemState `json:"system_state"`
	MediaRef     string      `json:"media_ref,omitempty"`
}

// ActOutcome pairs the action verdict with the snapshot taken
// unconditionally after dispatch.
type ActOutcome struct {
	Result   ActResult       `json:"result"`
	Snapshot *SnapshotResult `json:"snapshot,omitempty"`
}

// ActRequest is a caller's high-level action intent. Known fields are
// typed; action-specific extras (text, key, keys, scrollAmount, ...)
// pass through opaquely in Extra and are forwarded to the exec worker
// verbatim.
type ActRequest struct {
	Kind        ActionKind
	X           *int
	Y           *int
	EndX        *int
	EndY        *int
	FindBy      ResolutionMethod
	OCRText     string
	Description string
	ModelName   string
	WaitMs      *int
	Extra       map[string]any
}

// actRequestKnownKeys are the JSON keys lifted into typed fields;
// everything else lands in Extra.
var actRequestKnownKeys = map[string]bool{
	"kind": true, "x": true, "y": true, "endX": true, "endY": true,
	"find_coordinates_by": true, "ocr_text": true, "description": true,
	"model_name": true, "waitMs": true,
}

// UnmarshalJSON splits the flat caller payload into typed fields and
// the opaque Extra remainder.
func (r *ActRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ActRequest{}
	for key, value := range raw {
		var err error
		switch key {
		case "kind":
			err = json.Unmarshal(value, &r.Kind)
		case "x":
			err = json.Unmarshal(value, &r.X)
		case "y":
			err = json.Unmarshal(value, &r.Y)
		case "endX":
			err = json.Unmarshal(value, &r.EndX)
		case "endY":
			err = json.Unmarshal(value, &r.EndY)
		case "find_coordinates_by":
			err = json.Unmarshal(value, &r.FindBy)
		case "ocr_text":
			err = json.Unmarshal(value, &r.OCRText)
		case "description":
			err = json.Unmarshal(value, &r.Description)
		case "model_name":
			err = json.Unmarshal(value, &r.ModelName)
		case "waitMs":
			err = json.Unmarshal(value, &r.WaitMs)
		default:
			var v any
			if err = json.Unmarshal(value, &v); err == nil {
				if r.Extra == nil {
					r.Extra = make(map[string]any)
				}
				r.Extra[key] = v
			}
		}
		if err != nil {
			return fmt.Errorf("act request field %q: %w", key, err)
		}
	}
	return nil
}

// MarshalJSON re-flattens the request, mostly for logging and
// round-trips through the HTTP and MCP surfaces.
func (r ActRequest) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+8)
	for key, value := range r.Extra {
		if !actRequestKnownKeys[key] {
			out[key] = value
		}
	}
	out["kind"] = r.Kind
	if r.X != nil {
		out["x"] = *r.X
	}
	if r.Y != nil {
		out["y"] = *r.Y
	}
	if r.EndX != nil {
		out["endX"] = *r.EndX
	}
	if r.EndY != nil {
		out["endY"] = *r.EndY
	}
	if r.FindBy != "" {
		out["find_coordinates_by"] = r.FindBy
	}
	if r.OCRText != "" {
		out["ocr_text"] = r.OCRText
	}
	if r.Description != "" {
		out["description"] = r.Description
	}
	if r.ModelName != "" {
		out["model_name"] = r.ModelName
	}
	if r.WaitMs != nil {
		out["waitMs"] = *r.WaitMs
	}
	return json.Marshal(out)
}
