package session

import (
	"encoding/json"

	"github.com/chromedp/cdproto"
)

// receivedMessageFromTarget is the flattened-mode envelope (spec §4.3.3).
type receivedMessageFromTarget struct {
	Method string `json:"method"`
	Params struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
		TargetID  string `json:"targetId"`
	} `json:"params"`
}

// frame wraps message for delivery to a session, applying flattened framing
// when the session was attached with flatten=true and leaving it verbatim
// otherwise (§4.3.3).
func frame(sess *Session, message []byte) ([]byte, error) {
	if !sess.Flatten {
		return message, nil
	}
	var env receivedMessageFromTarget
	env.Method = cdproto.EventTargetReceivedMessageFromTarget
	env.Params.SessionID = sess.ID
	env.Params.Message = string(message)
	env.Params.TargetID = string(sess.PageID)
	return json.Marshal(env)
}

// inboundRequest is the minimal shape routeRequest needs to parse out of an
// arbitrary CDP command.
type inboundRequest struct {
	ID     json.Number     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcError is the JSON-RPC-shaped error object CDP responses use.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     json.Number     `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

func successResponse(id json.Number, result []byte) []byte {
	raw := result
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	b, _ := json.Marshal(rpcResponse{ID: id, Result: raw})
	return b
}

func errorResponse(id json.Number, code int, message string) []byte {
	b, _ := json.Marshal(rpcResponse{ID: id, Error: &rpcError{Code: code, Message: message}})
	return b
}

// CodeSurfaceUnavailable is the CDP error code used for TargetNotFound,
// SurfaceUnavailable and Timeout (spec §7 taxonomy).
const CodeSurfaceUnavailable = -32000
