package model

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// randomURLSafeKey mirrors secrets.token_urlsafe: nBytes of
// cryptographically random data, base64url-encoded without padding.
func randomURLSafeKey(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Token is an access/refresh credential pair bound to a session. Tokens
// hold the session's id rather than a pointer to it, so the registry
// that owns both tables is the only thing that can traverse between
// them — this avoids a Session↔Token reference cycle.
type Token struct {
	ID             string
	SessionID      string
	Access         string
	Refresh        string
	AccessExpires  time.Time
	RefreshExpires time.Time
	KilledAt       *time.Time
}

const tokenKeyBytes = 32

// NewToken mints a fresh token bound to sessionID with both expiries
// set from the given durations.
func NewToken(sessionID string, accessTTL, refreshTTL time.Duration) *Token {
	now := time.Now().UTC()
	return &Token{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Access:         randomURLSafeKey(tokenKeyBytes),
		Refresh:        randomURLSafeKey(tokenKeyBytes),
		AccessExpires:  now.Add(accessTTL),
		RefreshExpires: now.Add(refreshTTL),
	}
}

// Active is true while the token has not been killed and its access
// key has not passed its expiry.
func (t *Token) Active() bool {
	return t.KilledAt == nil && time.Now().UTC().Before(t.AccessExpires)
}

// Expired is true once the token is unusable even for refresh: killed,
// or past its refresh deadline.
func (t *Token) Expired() bool {
	if t.KilledAt != nil {
		return true
	}
	return !time.Now().UTC().Before(t.RefreshExpires)
}

// Kill marks the token dead. Returns false if it was already killed.
func (t *Token) Kill() bool {
	if t.KilledAt != nil {
		return false
	}
	now := time.Now().UTC()
	t.KilledAt = &now
	return true
}

// Renew rotates both keys and both deadlines atomically, preserving
// the token's id. It is a no-op returning false when the token is
// already killed.
func (t *Token) Renew(accessTTL, refreshTTL time.Duration) bool {
	if t.KilledAt != nil {
		return false
	}
	now := time.Now().UTC()
	t.Access = randomURLSafeKey(tokenKeyBytes)
	t.Refresh = randomURLSafeKey(tokenKeyBytes)
	t.AccessExpires = now.Add(accessTTL)
	t.RefreshExpires = now.Add(refreshTTL)
	return true
}

// ToJSON renders the wire representation: datetimes are always
// timezone-aware RFC3339 with microsecond precision.
func (t *Token) ToJSON() map[string]any {
	body := map[string]any{
		"access":          t.Access,
		"refresh":         t.Refresh,
		"access_expires":  t.AccessExpires.Format("2006-01-02T15:04:05.000000Z07:00"),
		"refresh_expires": t.RefreshExpires.Format("2006-01-02T15:04:05.000000Z07:00"),
		"killed":          t.KilledAt != nil,
	}
	if t.KilledAt != nil {
		body["killed_at"] = t.KilledAt.Format("2006-01-02T15:04:05.000000Z07:00")
	}
	return body
}
