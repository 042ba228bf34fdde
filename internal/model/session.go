package model

import "github.com/google/uuid"

// ResourceKey identifies a resource by its catalogue type and integer
// id. Sessions reference the resource they hold by key rather than by
// pointer, so the resource manager (which owns the cache) is the only
// place that resolves a key back to a live Resource — this keeps
// Session from depending on the resource package and breaks the
// Session↔Resource↔Session cycle the data model would otherwise form.
type ResourceKey struct {
	RType string
	RID   int
}

// ConnectionCloser is the minimal surface a WebSocket connection must
// expose to the session registry's sweeper: enough to force a close
// without the model package importing the websocket transport.
type ConnectionCloser interface {
	Close(code int, reason string) error
}

// Session is a user's identity scoped to one browser/workstation/
// worker, outliving any individual token. It holds at most one
// resource and tracks its live connections keyed by the access key of
// the token each connection was opened under.
type Session struct {
	ID            string
	UserID        int
	State         any
	BoundResource *ResourceKey
	Connections   map[string]ConnectionCloser
}

// NewSession creates a session for userID with a fresh random id. The
// id is a bookkeeping key, not a bearer credential, so it's a UUID
// rather than an opaque key like a token's access/refresh keys.
func NewSession(userID int) *Session {
	return &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Connections: make(map[string]ConnectionCloser),
	}
}

// Connected reports whether the session has any live connection.
func (s *Session) Connected() bool {
	return len(s.Connections) > 0
}

// ToJSON renders the wire representation.
func (s *Session) ToJSON() map[string]any {
	state := s.State
	if state == nil {
		state = map[string]any{}
	}
	return map[string]any{
		"id":    s.ID,
		"state": state,
	}
}
