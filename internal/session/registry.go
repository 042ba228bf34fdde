// Package session implements the credential lifecycle: the session and
// token registry (login/refresh/logout), its sweeper, and the
// synchronous user-display cache the resource manager's ResourceLocked
// error reads from. Grounded on Server/Content/auth_service.py and
// Common/session.py / Common/token.py.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/doorforge/quotecontrol/internal/errors"
	"github.com/doorforge/quotecontrol/internal/model"
)

// UserRecord is what the user store returns for a username lookup: the
// hydrated user plus its bcrypt password hash, kept separate from
// model.User so the hash never flows past this package.
type UserRecord struct {
	User         model.User
	PasswordHash string
}

// UserStore is the narrow record-fetching surface the registry needs
// from Postgres.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (UserRecord, bool, error)
	GetUser(ctx context.Context, id int) (model.User, error)
}

// dummyHash is compared against on a username miss so failed logins
// for existing and non-existent users take approximately the same
// time — the bcrypt comparison work is the dominant cost either way.
var dummyHash = mustHash("equalize-timing-on-username-miss")

func mustHash(s string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}

// Config is the subset of server tunables the registry needs.
type Config struct {
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	MaxTokensPerUser int
}

// Registry owns the three in-memory tables named in the data model:
// key_to_token, user_to_tokens, and session_id_to_session. Entities
// hold ids into these tables rather than pointers to each other.
type Registry struct {
	mu sync.Mutex

	keyToToken   map[string]*model.Token    // access key AND refresh key -> token
	userToTokens map[int]map[string]*model.Token // user id -> token id -> token
	sessions     map[string]*model.Session  // session id -> session
	displayNames map[int]string             // user id -> display name, populated on login

	users UserStore
	cfg   Config
	log   zerolog.Logger
}

func NewRegistry(users UserStore, cfg Config, log zerolog.Logger) *Registry {
	return &Registry{
		keyToToken:   make(map[string]*model.Token),
		userToTokens: make(map[int]map[string]*model.Token),
		sessions:     make(map[string]*model.Session),
		displayNames: make(map[int]string),
		users:        users,
		cfg:          cfg,
		log:          log,
	}
}

// Login issues a fresh token, reusing sessionID if it's supplied, maps
// to the authenticated user, and isn't already at capacity.
func (r *Registry) Login(ctx context.Context, username, password, sessionID string) (*model.Token, *model.Session, *apperrors.AppError) {
	rec, found, err := r.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, nil, apperrors.WrapError(err, "Failed to look up user")
	}
	if !found {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return nil, nil, apperrors.Unauthorized("Incorrect username/password")
	}
	if cmpErr := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); cmpErr != nil {
		return nil, nil, apperrors.Unauthorized("Incorrect username/password")
	}
	user := rec.User

	r.mu.Lock()
	defer r.mu.Unlock()

	if tokens := r.userToTokens[user.ID]; len(tokens) >= r.cfg.MaxTokensPerUser {
		return nil, nil, apperrors.Unauthorized("Too many unexpired tokens")
	}

	session := r.lookupReusableSessionLocked(sessionID, user.ID)
	if session == nil {
		session = model.NewSession(user.ID)
		r.sessions[session.ID] = session
		r.log.Info().Int("user_id", user.ID).Str("session_id", session.ID).Msg("session issued")
	}

	token := model.NewToken(session.ID, r.cfg.AccessTTL, r.cfg.RefreshTTL)
	r.addTokenLocked(user.ID, token)
	r.displayNames[user.ID] = user.DisplayOrUsername()

	r.log.Info().Int("user_id", user.ID).Str("token_id", token.ID).Msg("token issued")
	return token, session, nil
}

func (r *Registry) lookupReusableSessionLocked(sessionID string, userID int) *model.Session {
	if sessionID == "" {
		return nil
	}
	session, ok := r.sessions[sessionID]
	if !ok || session.UserID != userID {
		return nil
	}
	return session
}

func (r *Registry) addTokenLocked(userID int, token *model.Token) {
	r.keyToToken[token.Access] = token
	r.keyToToken[token.Refresh] = token
	if r.userToTokens[userID] == nil {
		r.userToTokens[userID] = make(map[string]*model.Token)
	}
	r.userToTokens[userID][token.ID] = token
}

func (r *Registry) popTokenKeysLocked(token *model.Token) {
	delete(r.keyToToken, token.Access)
	delete(r.keyToToken, token.Refresh)
}

// Refresh rotates a token's keys and deadlines. The supplied key must
// be the token's current refresh key, not its access key.
func (r *Registry) Refresh(refreshKey string) (*model.Token, *apperrors.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.keyToToken[refreshKey]
	if !ok || token.Refresh != refreshKey || token.Expired() {
		return nil, apperrors.Unauthorized("Invalid refresh token")
	}

	session, ok := r.sessions[token.SessionID]
	if !ok {
		return nil, apperrors.Unauthorized("Invalid refresh token")
	}

	r.popTokenKeysLocked(token)
	if !token.Renew(r.cfg.AccessTTL, r.cfg.RefreshTTL) {
		return nil, apperrors.Unauthorized("Token already killed")
	}
	r.keyToToken[token.Access] = token
	r.keyToToken[token.Refresh] = token

	r.log.Info().Int("user_id", session.UserID).Str("token_id", token.ID).Msg("token renewed")
	return token, nil
}

// Logout kills the token addressed by accessKey. The token remains in
// the tables until the next sweeper tick.
func (r *Registry) Logout(accessKey string) (*model.Token, *apperrors.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.keyToToken[accessKey]
	if !ok || token.Access != accessKey || !token.Active() {
		return nil, apperrors.Unauthorized("Invalid access token")
	}
	token.Kill()

	if session, ok := r.sessions[token.SessionID]; ok {
		r.log.Info().Int("user_id", session.UserID).Str("token_id", token.ID).Msg("token killed")
	}
	return token, nil
}

// ValidateAccess resolves an access key to its live token and session,
// for the auth middleware to attach to the request.
func (r *Registry) ValidateAccess(accessKey string) (*model.Token, *model.Session, *apperrors.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.keyToToken[accessKey]
	if !ok || token.Access != accessKey || !token.Active() {
		return nil, nil, apperrors.Unauthorized("Missing or invalid access token")
	}
	session, ok := r.sessions[token.SessionID]
	if !ok {
		return nil, nil, apperrors.Unauthorized("Missing or invalid access token")
	}
	return token, session, nil
}

// UserIDForAccessKey resolves the user id behind an access key for
// the ratelimit engine's User bucket, independent of whether the token
// is still active — the ratelimit decorator runs before access
// validation in the chain, so this must not reject an expired token,
// only fail to find one.
func (r *Registry) UserIDForAccessKey(accessKey string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.keyToToken[accessKey]
	if !ok || token.Access != accessKey {
		return 0, false
	}
	session, ok := r.sessions[token.SessionID]
	if !ok {
		return 0, false
	}
	return session.UserID, true
}

// SessionByID returns the session with the given id, if tracked.
func (r *Registry) SessionByID(id string) (*model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// DisplayName returns the cached display name for a session's owning
// user, for the resource manager's ResourceLocked error. Implements
// resource.DisplayResolver when bound to a session id.
func (r *Registry) DisplayName(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return ""
	}
	return r.displayNames[session.UserID]
}

// GetUser resolves a user id to a fully hydrated User, for handlers
// that need team/permission data beyond what's cached locally.
func (r *Registry) GetUser(ctx context.Context, id int) (model.User, error) {
	return r.users.GetUser(ctx, id)
}

// HasConnection reports whether sess already has a live connection
// registered under key. Guarded by r.mu like every other access to a
// session's Connections map — the sweeper iterates it under this same
// lock, so callers must never read it directly.
func (r *Registry) HasConnection(sess *model.Session, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := sess.Connections[key]
	return ok
}

// AttachConnection registers conn under key on sess and reports
// whether it won the slot; it returns false without registering
// anything if key is already occupied, leaving the caller to reject
// the connection. Guarded by r.mu for the same reason as HasConnection.
func (r *Registry) AttachConnection(sess *model.Session, key string, conn model.ConnectionCloser) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := sess.Connections[key]; exists {
		return false
	}
	sess.Connections[key] = conn
	return true
}

// DetachConnection removes the connection registered under key on
// sess, if any. Guarded by r.mu for the same reason as HasConnection.
func (r *Registry) DetachConnection(sess *model.Session, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(sess.Connections, key)
}

// ActiveSessionCount and ActiveTokenCount feed the ambient gauges.
func (r *Registry) ActiveSessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) ActiveTokenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	for _, t := range r.keyToToken {
		seen[t.ID] = true
	}
	return len(seen)
}
