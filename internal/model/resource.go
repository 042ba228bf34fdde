package model

import "time"

// Resource is the capability contract every concrete resource kind
// implements. The teacher's source composed this from an equality
// mixin, a lifecycle mixin, and a runtime-checkable protocol; here it
// collapses to one interface backed by the shared LockState below, so
// each resource kind is a single concrete type rather than a
// re-derived protocol.
type Resource interface {
	Key() ResourceKey
	Owner() User
	Locked() bool
	BoundSessionID() string
	LastActive() time.Time
	IsIdle(grace time.Duration) bool
	ToJSON(version string) map[string]any

	// SetBound/ClearBound mutate lock state. Only the resource manager
	// calls these; it alone is responsible for keeping the session
	// side of the bidirectional invariant in sync.
	SetBound(sessionID string)
	ClearBound()
}

// LockState holds the lock-related fields shared by every resource
// kind. Resources embed it rather than re-implementing lock state.
// Mutations go through SetBound/ClearBound so a single place holds the
// invariant "locked iff BoundSessionID is non-empty"; the resource
// manager (not LockState itself) is responsible for keeping the
// session side of the bidirectional invariant in sync, and for
// serializing these mutations against concurrent operations on the
// same resource.
type LockState struct {
	boundSessionID string
	lastActive     time.Time
}

func NewLockState() LockState {
	return LockState{lastActive: time.Now().UTC()}
}

func (l *LockState) Locked() bool            { return l.boundSessionID != "" }
func (l *LockState) BoundSessionID() string  { return l.boundSessionID }
func (l *LockState) LastActive() time.Time   { return l.lastActive }

func (l *LockState) SetBound(sessionID string) {
	l.boundSessionID = sessionID
}

func (l *LockState) ClearBound() {
	l.boundSessionID = ""
	l.lastActive = time.Now().UTC()
}

func (l *LockState) IsIdle(grace time.Duration) bool {
	return !l.Locked() && time.Now().UTC().After(l.lastActive.Add(grace))
}
