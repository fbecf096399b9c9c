// File: internal/mcpserver/tools.go
// MCP tool surface over the desktop bridge. Worker-side failures come
// back as soft tool errors so the client model can read them and
// retry; only transport plumbing errors fail the tool call hard.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskbridge/api/schemas"
	"github.com/xkilldash9x/deskbridge/internal/bridge"
)

// DesktopTools bundles the tool handlers around one bridge.
type DesktopTools struct {
	logger  *zap.Logger
	desktop schemas.Desktop
}

// NewDesktopTools creates the tool set.
func NewDesktopTools(logger *zap.Logger, desktop schemas.Desktop) *DesktopTools {
	return &DesktopTools{logger: logger.Named("mcp"), desktop: desktop}
}

// StatusInput has no fields; status takes no parameters.
type StatusInput struct{}

// StatusOutput reports both workers' health.
type StatusOutput struct {
	Exec   schemas.ExecStatus   `json:"exec"`
	Vision schemas.VisionStatus `json:"vision"`
}

// SnapshotInput scopes a capture request.
type SnapshotInput struct {
	SessionKey string `json:"session_key,omitempty"`
	DelayMs    int    `json:"delay_ms,omitempty"`
}

// SnapshotOutput is the capture metadata; the image itself lands in
// the media store and is referenced by path.
type SnapshotOutput struct {
	ScreenshotID string              `json:"screenshot_id"`
	Width        int                 `json:"width"`
	Height       int                 `json:"height"`
	SystemState  schemas.SystemState `json:"system_state"`
	MediaRef     string              `json:"media_ref,omitempty"`
}

// ActInput is the flat action request plus session scoping.
type ActInput struct {
	SessionKey  string         `json:"session_key,omitempty"`
	Kind        string         `json:"kind"`
	X           *int           `json:"x,omitempty"`
	Y           *int           `json:"y,omitempty"`
	EndX        *int           `json:"endX,omitempty"`
	EndY        *int           `json:"endY,omitempty"`
	FindBy      string         `json:"find_coordinates_by,omitempty"`
	OCRText     string         `json:"ocr_text,omitempty"`
	Description string         `json:"description,omitempty"`
	ModelName   string         `json:"model_name,omitempty"`
	WaitMs      *int           `json:"waitMs,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// ActOutput pairs the action verdict with the post-action capture.
type ActOutput struct {
	OK       bool            `json:"ok"`
	Kind     string          `json:"kind"`
	Message  string          `json:"message,omitempty"`
	Snapshot *SnapshotOutput `json:"snapshot,omitempty"`
}

// Register adds the desktop tools to the server.
func (t *DesktopTools) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "desktop_status",
		Description: `Check that both desktop workers (input/capture and OCR/grounding) are alive.
Example: desktop_status {} → {exec: {ok: true, python: "3.12"}, vision: {ok: true, ocr_available: true}}`,
	}, t.makeStatusHandler())

	mcp.AddTool(server, &mcp.Tool{
		Name: "desktop_snapshot",
		Description: `Capture the screen and prime OCR for later coordinate resolution.
Returns capture metadata; the image file path is in media_ref.
Example: desktop_snapshot {delay_ms: 500}`,
	}, t.makeSnapshotHandler())

	mcp.AddTool(server, &mcp.Tool{
		Name: "desktop_act",
		Description: `Perform one desktop input action and return a fresh screen capture.

Kinds: click, double_click, right_click, move, drag, scroll, type, press, hotkey, wait.
Coordinates come from x/y, or from on-screen text (find_coordinates_by: "ocr" + ocr_text),
or from a visual description (find_coordinates_by: "prediction" + description).

Examples:
  desktop_act {kind: "click", x: 100, y: 200}
  desktop_act {kind: "click", find_coordinates_by: "ocr", ocr_text: "Save"}
  desktop_act {kind: "type", extra: {text: "hello"}}
  desktop_act {kind: "hotkey", extra: {keys: ["ctrl", "s"]}}`,
	}, t.makeActHandler())
}

func (t *DesktopTools) makeStatusHandler() func(context.Context, *mcp.CallToolRequest, StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
		report, err := t.desktop.Status(ctx)
		if err != nil {
			return errorResult(fmt.Sprintf("desktop status failed: %v", err)), StatusOutput{}, nil
		}
		return nil, StatusOutput{Exec: report.Exec, Vision: report.Vision}, nil
	}
}

func (t *DesktopTools) makeSnapshotHandler() func(context.Context, *mcp.CallToolRequest, SnapshotInput) (*mcp.CallToolResult, SnapshotOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SnapshotInput) (*mcp.CallToolResult, SnapshotOutput, error) {
		result, err := t.desktop.Snapshot(ctx, schemas.SnapshotOptions{
			SessionKey: input.SessionKey,
			DelayMs:    input.DelayMs,
		})
		if err != nil {
			return errorResult(fmt.Sprintf("snapshot failed: %v", err)), SnapshotOutput{}, nil
		}
		return nil, snapshotOutput(result), nil
	}
}

func (t *DesktopTools) makeActHandler() func(context.Context, *mcp.CallToolRequest, ActInput) (*mcp.CallToolResult, ActOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ActInput) (*mcp.CallToolResult, ActOutput, error) {
		actReq := schemas.ActRequest{
			Kind:        schemas.ActionKind(input.Kind),
			X:           input.X,
			Y:           input.Y,
			EndX:        input.EndX,
			EndY:        input.EndY,
			FindBy:      schemas.ResolutionMethod(input.FindBy),
			OCRText:     input.OCRText,
			Description: input.Description,
			ModelName:   input.ModelName,
			WaitMs:      input.WaitMs,
			Extra:       input.Extra,
		}

		t.logger.Info("Tool call: desktop_act",
			zap.String("kind", input.Kind),
			zap.String("find_by", input.FindBy))

		outcome, err := t.desktop.Act(ctx, actReq, schemas.ActOptions{SessionKey: input.SessionKey})
		if err != nil {
			var validationErr *bridge.ValidationError
			switch {
			case errors.As(err, &validationErr):
				return errorResult(validationErr.Error()), ActOutput{}, nil
			case errors.Is(err, bridge.ErrNotFound):
				return errorResult(fmt.Sprintf("target not found: %v. Take a desktop_snapshot and verify the text is visible.", err)), ActOutput{}, nil
			default:
				return errorResult(fmt.Sprintf("action failed: %v", err)), ActOutput{}, nil
			}
		}

		output := ActOutput{
			OK:      outcome.Result.OK,
			Kind:    string(outcome.Result.Kind),
			Message: outcome.Result.Message,
		}
		if outcome.Snapshot != nil {
			snap := snapshotOutput(outcome.Snapshot)
			output.Snapshot = &snap
		}
		return nil, output, nil
	}
}

func snapshotOutput(result *schemas.SnapshotResult) SnapshotOutput {
	return SnapshotOutput{
		ScreenshotID: result.ScreenshotID,
		Width:        result.Width,
		Height:       result.Height,
		SystemState:  result.SystemState,
		MediaRef:     result.MediaRef,
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
