package schemas_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/deskbridge/api/schemas"
)

func TestActionKind_Classification(t *testing.T) {
	coordinate := []schemas.ActionKind{
		schemas.ActionClick,
		schemas.ActionDoubleClick,
		schemas.ActionRightClick,
		schemas.ActionMove,
		schemas.ActionDrag,
	}
	for _, kind := range coordinate {
		assert.True(t, kind.IsKnown(), "kind %s should be known", kind)
		assert.True(t, kind.NeedsCoordinates(), "kind %s should need coordinates", kind)
	}

	pointless := []schemas.ActionKind{
		schemas.ActionScroll,
		schemas.ActionType,
		schemas.ActionPress,
		schemas.ActionHotkey,
		schemas.ActionWait,
	}
	for _, kind := range pointless {
		assert.True(t, kind.IsKnown(), "kind %s should be known", kind)
		assert.False(t, kind.NeedsCoordinates(), "kind %s should not need coordinates", kind)
	}

	assert.False(t, schemas.ActionKind("teleport").IsKnown())
}

func TestActRequest_UnmarshalJSON_SplitsExtras(t *testing.T) {
	payload := `{
		"kind": "scroll",
		"x": 40,
		"y": 80,
		"find_coordinates_by": "manual",
		"scrollAmount": -3,
		"scrollDirection": "vertical"
	}`

	var req schemas.ActRequest
	require.NoError(t, json.Unmarshal([]byte(payload), &req))

	assert.Equal(t, schemas.ActionScroll, req.Kind)
	require.NotNil(t, req.X)
	require.NotNil(t, req.Y)
	assert.Equal(t, 40, *req.X)
	assert.Equal(t, 80, *req.Y)
	assert.Equal(t, schemas.ResolveManual, req.FindBy)

	wantExtra := map[string]any{
		"scrollAmount":    float64(-3),
		"scrollDirection": "vertical",
	}
	if diff := cmp.Diff(wantExtra, req.Extra); diff != "" {
		t.Errorf("extras mismatch (-want +got):\n%s", diff)
	}
}

func TestActRequest_MarshalJSON_RoundTrip(t *testing.T) {
	x, y := 100, 200
	wait := 250
	req := schemas.ActRequest{
		Kind:    schemas.ActionClick,
		X:       &x,
		Y:       &y,
		FindBy:  schemas.ResolveOCR,
		OCRText: "Submit",
		WaitMs:  &wait,
		Extra:   map[string]any{"button": "left"},
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var back schemas.ActRequest
	require.NoError(t, json.Unmarshal(data, &back))

	assert.Equal(t, req.Kind, back.Kind)
	assert.Equal(t, *req.X, *back.X)
	assert.Equal(t, *req.Y, *back.Y)
	assert.Equal(t, req.FindBy, back.FindBy)
	assert.Equal(t, req.OCRText, back.OCRText)
	assert.Equal(t, *req.WaitMs, *back.WaitMs)
	assert.Equal(t, "left", back.Extra["button"])
}

func TestActRequest_ExtraNeverShadowsKnownFields(t *testing.T) {
	// A known key smuggled through Extra must not override the typed
	// field during marshaling.
	x, y := 1, 2
	req := schemas.ActRequest{
		Kind:  schemas.ActionClick,
		X:     &x,
		Y:     &y,
		Extra: map[string]any{"x": 999, "kind": "drag"},
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, float64(1), flat["x"])
	assert.Equal(t, "click", flat["kind"])
}

func TestRPCResponse_Decode(t *testing.T) {
	line := `{"jsonrpc":"2.0","id":"exec-7","error":{"code":-32603,"message":"Action failed"}}`
	var resp schemas.RPCResponse
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, "exec-7", resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32603, resp.Error.Code)
	assert.Equal(t, "Action failed", resp.Error.Message)
	assert.Nil(t, resp.Result)
}
