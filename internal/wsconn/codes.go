// Package wsconn implements the WebSocket connection manager: one live
// connection per token, heartbeat, per-connection message ratelimit,
// and the custom close-code protocol. Grounded on the teacher's
// internal/websocket package (handler.go's read/write pump split) and
// Common/websocket_extensions.py's close code enum.
package wsconn

import "github.com/gofiber/contrib/websocket"

// Custom close codes, numeric range 4000+.
const (
	CloseTokenExpired     = 4000
	CloseInvalidFrameType = 4001
	CloseInvalidJSON      = 4002
	CloseMissingField     = 4003
	CloseInvalidType      = 4004
	CloseInvalidValue     = 4005
)

// PolicyViolation is the standard WebSocket close code used when the
// per-connection message ratelimit trips.
const PolicyViolation = websocket.ClosePolicyViolation

// ProtocolError carries the close code and reason a dispatcher wants
// the connection torn down with.
type ProtocolError struct {
	Code   int
	Reason string
}

func (e *ProtocolError) Error() string { return e.Reason }

func errMissingField(field string) *ProtocolError {
	return &ProtocolError{Code: CloseMissingField, Reason: "missing field: " + field}
}

func errInvalidType(field string) *ProtocolError {
	return &ProtocolError{Code: CloseInvalidType, Reason: "invalid type for field: " + field}
}

func errInvalidValue(field string) *ProtocolError {
	return &ProtocolError{Code: CloseInvalidValue, Reason: "invalid value for field: " + field}
}

// RequireString extracts a required string field from a parsed
// message, producing the matching protocol close code on failure.
func RequireString(msg map[string]any, field string) (string, *ProtocolError) {
	raw, ok := msg[field]
	if !ok {
		return "", errMissingField(field)
	}
	s, ok := raw.(string)
	if !ok {
		return "", errInvalidType(field)
	}
	return s, nil
}

// RequireInt extracts a required numeric field, accepting JSON's
// float64 decoding and requiring it to be integral.
func RequireInt(msg map[string]any, field string) (int, *ProtocolError) {
	raw, ok := msg[field]
	if !ok {
		return 0, errMissingField(field)
	}
	f, ok := raw.(float64)
	if !ok {
		return 0, errInvalidType(field)
	}
	if f != float64(int(f)) {
		return 0, errInvalidValue(field)
	}
	return int(f), nil
}
