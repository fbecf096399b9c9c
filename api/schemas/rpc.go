// File: api/schemas/rpc.go
package schemas

import "encoding/json"

// JSONRPCVersion is the protocol version spoken on every worker line.
const JSONRPCVersion = "2.0"

// RPCRequest is one outgoing frame to a worker process. Exactly one
// request is serialized per line; the ID is assigned by the transport
// that owns the worker and is never reused.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// RPCResponse is one incoming frame from a worker process. Exactly one
// of Result or Error is set on a well-formed response. Frames that
// carry neither, or an unknown ID, are inert.
type RPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      string           `json:"id"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *RPCErrorPayload `json:"error,omitempty"`
}

// RPCErrorPayload is the structured failure a worker reports in place
// of a result.
type RPCErrorPayload struct {
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}
