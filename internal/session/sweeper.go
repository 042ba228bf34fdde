package session

import (
	"context"
	"sync"
	"time"

	"github.com/doorforge/quotecontrol/internal/model"
)

// ResourceReleaser is the narrow surface the sweeper needs from the
// resource manager: release whatever a disconnected session was
// holding. Keeping this as an interface, rather than importing
// *resource.Manager directly, lets the two packages be wired together
// from main without either importing the other's concrete type.
type ResourceReleaser interface {
	ReleaseByKey(session *model.Session, key model.ResourceKey, unconditional bool) error
}

// releaserFunc adapts a plain function to ResourceReleaser. Converting
// resource.Manager's *apperrors.AppError result into an error is left
// to the function the caller supplies.
type releaserFunc func(session *model.Session, key model.ResourceKey, unconditional bool) error

func (f releaserFunc) ReleaseByKey(session *model.Session, key model.ResourceKey, unconditional bool) error {
	return f(session, key, unconditional)
}

// NewResourceReleaser adapts any function taking ReleaseByKey's
// parameters and returning a plain error into a ResourceReleaser.
func NewResourceReleaser(fn func(session *model.Session, key model.ResourceKey, unconditional bool) error) ResourceReleaser {
	return releaserFunc(fn)
}

// Sweep runs one pass of the sweeper task described in §4.1:
//  1. for each key in key_to_token, if the token is expired: remove
//     both keys, mark its connection (if any, under the access key) for
//     forced close, and discard it from user_to_tokens.
//  2. drop empty token sets.
//  3. close the marked connections concurrently.
//  4. for each session: release its bound resource if connectionless;
//     remove the session if its user has no remaining tokens.
//
// It iterates over snapshots of the key sets so concurrent mutation
// from request handlers is tolerated.
func (r *Registry) Sweep(releaser ResourceReleaser, closeCode int, closeReason string) {
	r.mu.Lock()
	keys := make([]string, 0, len(r.keyToToken))
	for k := range r.keyToToken {
		keys = append(keys, k)
	}

	var toClose []model.ConnectionCloser

	for _, key := range keys {
		token, ok := r.keyToToken[key]
		if !ok || !token.Expired() {
			continue
		}

		r.popTokenKeysLocked(token)

		if session, ok := r.sessions[token.SessionID]; ok {
			if conn, ok := session.Connections[token.Access]; ok {
				toClose = append(toClose, conn)
			}
		}

		if tokens, ok := r.userToTokens[userIDForToken(r, token)]; ok {
			delete(tokens, token.ID)
		}
	}

	for userID, tokens := range r.userToTokens {
		if len(tokens) == 0 {
			delete(r.userToTokens, userID)
		}
	}
	r.mu.Unlock()

	if len(toClose) > 0 {
		var wg sync.WaitGroup
		for _, conn := range toClose {
			wg.Add(1)
			go func(c model.ConnectionCloser) {
				defer wg.Done()
				if err := c.Close(closeCode, closeReason); err != nil {
					r.log.Error().Err(err).Msg("failed to close expired connection")
				}
			}(conn)
		}
		wg.Wait()
	}

	r.mu.Lock()
	sessionIDs := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		sessionIDs = append(sessionIDs, id)
	}
	r.mu.Unlock()

	for _, id := range sessionIDs {
		r.mu.Lock()
		session, ok := r.sessions[id]
		if !ok {
			r.mu.Unlock()
			continue
		}
		connected := session.Connected()
		boundKey := session.BoundResource
		userID := session.UserID
		r.mu.Unlock()

		if !connected && boundKey != nil && releaser != nil {
			if err := releaser.ReleaseByKey(session, *boundKey, true); err != nil {
				r.log.Error().Err(err).Msg("sweeper failed to release resource")
			}
		}

		r.mu.Lock()
		_, stillHasTokens := r.userToTokens[userID]
		if !stillHasTokens {
			delete(r.sessions, id)
			r.log.Info().Int("user_id", userID).Str("session_id", id).Msg("session discarded")
		}
		r.mu.Unlock()
	}
}

func userIDForToken(r *Registry, token *model.Token) int {
	if session, ok := r.sessions[token.SessionID]; ok {
		return session.UserID
	}
	return -1
}

// Run starts the sweeper task on a fixed interval; it blocks until ctx
// is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration, releaser ResourceReleaser, closeCode int, closeReason string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(releaser, closeCode, closeReason)
		}
	}
}
