// File: internal/bridge/coords.go
package bridge

import "github.com/xkilldash9x/deskbridge/api/schemas"

// point is a resolved screen coordinate in pixels.
type point struct {
	x, y int
}

// normalizeManualTarget applies the coordinate precedence for manual
// requests: explicit x/y always win, and drag falls back to the end
// point when the start point is absent. Returns false when the request
// carries no usable point.
func normalizeManualTarget(req schemas.ActRequest) (point, bool) {
	if req.X != nil && req.Y != nil {
		return point{x: *req.X, y: *req.Y}, true
	}
	if req.Kind == schemas.ActionDrag && req.EndX != nil && req.EndY != nil {
		return point{x: *req.EndX, y: *req.EndY}, true
	}
	return point{}, false
}

// buildActPayload assembles the wire params for the exec worker's act
// method. Resolution-only fields (find_coordinates_by, ocr_text,
// description, model_name) and the normalization inputs endX/endY
// never reach the worker; everything else passes through.
func buildActPayload(req schemas.ActRequest, target *point) map[string]any {
	payload := make(map[string]any, len(req.Extra)+4)
	for key, value := range req.Extra {
		switch key {
		case "kind", "x", "y", "endX", "endY",
			"find_coordinates_by", "ocr_text", "description", "model_name", "waitMs":
			continue
		}
		payload[key] = value
	}

	payload["kind"] = string(req.Kind)
	if target != nil {
		payload["x"] = target.x
		payload["y"] = target.y
	} else {
		// Non-coordinate kinds may still carry an optional point,
		// e.g. scroll anchored under the cursor position.
		if req.X != nil {
			payload["x"] = *req.X
		}
		if req.Y != nil {
			payload["y"] = *req.Y
		}
	}
	if req.WaitMs != nil {
		payload["waitMs"] = *req.WaitMs
	}
	return payload
}
