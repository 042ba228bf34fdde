package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/doorforge/quotecontrol/internal/model"
)

type fakeUserStore struct {
	byUsername map[string]UserRecord
	byID       map[int]model.User
}

func (f *fakeUserStore) GetUserByUsername(ctx context.Context, username string) (UserRecord, bool, error) {
	rec, ok := f.byUsername[username]
	return rec, ok, nil
}

func (f *fakeUserStore) GetUser(ctx context.Context, id int) (model.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return model.User{}, errors.New("not found")
	}
	return u, nil
}

func newTestStore(t *testing.T) *fakeUserStore {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	alice := model.User{ID: 1, Username: "alice", DisplayName: "Alice A."}
	return &fakeUserStore{
		byUsername: map[string]UserRecord{
			"alice": {User: alice, PasswordHash: string(hash)},
		},
		byID: map[int]model.User{1: alice},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	return NewRegistry(newTestStore(t), Config{
		AccessTTL:        time.Hour,
		RefreshTTL:       24 * time.Hour,
		MaxTokensPerUser: 2,
	}, zerolog.Nop())
}

func TestLoginRefreshLogout(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	token, sess, err := r.Login(ctx, "alice", "correct-password", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a session")
	}
	a0, r0 := token.Access, token.Refresh

	renewed, err := r.Refresh(r0)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if renewed.Access == a0 || renewed.Refresh == r0 {
		t.Error("refresh should rotate both keys")
	}
	if renewed.ID != token.ID {
		t.Error("refresh should preserve token id")
	}

	if _, _, verr := r.ValidateAccess(a0); verr == nil {
		t.Error("old access key should no longer validate")
	}

	if _, verr := r.Logout(renewed.Access); verr != nil {
		t.Fatalf("logout: %v", verr)
	}

	if _, _, verr := r.ValidateAccess(renewed.Access); verr == nil {
		t.Error("killed token should not validate")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	r := newTestRegistry(t)
	if _, _, err := r.Login(context.Background(), "alice", "wrong", ""); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestLoginUnknownUsernameTakesTheDummyPath(t *testing.T) {
	r := newTestRegistry(t)
	if _, _, err := r.Login(context.Background(), "ghost", "whatever", ""); err == nil {
		t.Fatal("expected error for unknown username")
	}
}

func TestLoginEnforcesMaxTokensPerUser(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if _, _, err := r.Login(ctx, "alice", "correct-password", ""); err != nil {
		t.Fatalf("login 1: %v", err)
	}
	if _, _, err := r.Login(ctx, "alice", "correct-password", ""); err != nil {
		t.Fatalf("login 2: %v", err)
	}
	if _, _, err := r.Login(ctx, "alice", "correct-password", ""); err == nil {
		t.Fatal("expected third login to hit max tokens per user")
	}
}

func TestLoginReusesSessionIDForSameUser(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, sess1, err := r.Login(ctx, "alice", "correct-password", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	_, sess2, err := r.Login(ctx, "alice", "correct-password", sess1.ID)
	if err != nil {
		t.Fatalf("login with session id: %v", err)
	}
	if sess2.ID != sess1.ID {
		t.Error("expected the same session to be reused")
	}
}

func TestRefreshRejectsAccessKey(t *testing.T) {
	r := newTestRegistry(t)
	token, _, err := r.Login(context.Background(), "alice", "correct-password", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, rerr := r.Refresh(token.Access); rerr == nil {
		t.Error("expected refresh with an access key to fail")
	}
}

func TestSweeperDiscardsExpiredTokensAndSessions(t *testing.T) {
	r := NewRegistry(newTestStore(t), Config{
		AccessTTL:        1 * time.Millisecond,
		RefreshTTL:       1 * time.Millisecond,
		MaxTokensPerUser: 5,
	}, zerolog.Nop())

	_, sess, err := r.Login(context.Background(), "alice", "correct-password", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	r.Sweep(nil, 4000, "token expired")

	if _, ok := r.SessionByID(sess.ID); ok {
		t.Error("expected session to be discarded after sweep")
	}
}
