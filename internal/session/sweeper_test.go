package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/doorforge/quotecontrol/internal/model"
)

func TestSweepReleasesResourceForConnectionlessSession(t *testing.T) {
	r := NewRegistry(newTestStore(t), Config{
		AccessTTL:        1 * time.Millisecond,
		RefreshTTL:       1 * time.Millisecond,
		MaxTokensPerUser: 5,
	}, zerolog.Nop())

	_, sess, err := r.Login(context.Background(), "alice", "correct-password", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	key := model.ResourceKey{RType: "quote", RID: 7}
	sess.BoundResource = &key

	var released bool
	var releasedKey model.ResourceKey
	releaser := NewResourceReleaser(func(s *model.Session, k model.ResourceKey, unconditional bool) error {
		released = true
		releasedKey = k
		if !unconditional {
			t.Error("sweeper should release unconditionally")
		}
		return nil
	})

	time.Sleep(5 * time.Millisecond)
	r.Sweep(releaser, 4000, "token expired")

	if !released {
		t.Fatal("expected the sweeper to release the connectionless session's resource")
	}
	if releasedKey != key {
		t.Errorf("released key = %+v, want %+v", releasedKey, key)
	}
}

type fakeConn struct {
	closed     bool
	closeCode  int
	closeReason string
}

func (f *fakeConn) Close(code int, reason string) error {
	f.closed = true
	f.closeCode = code
	f.closeReason = reason
	return nil
}

func TestSweepForceClosesConnectionOfExpiredToken(t *testing.T) {
	r := NewRegistry(newTestStore(t), Config{
		AccessTTL:        1 * time.Millisecond,
		RefreshTTL:       1 * time.Millisecond,
		MaxTokensPerUser: 5,
	}, zerolog.Nop())

	token, sess, err := r.Login(context.Background(), "alice", "correct-password", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	conn := &fakeConn{}
	sess.Connections[token.Access] = conn

	time.Sleep(5 * time.Millisecond)
	r.Sweep(nil, 4000, "token expired")

	if !conn.closed {
		t.Fatal("expected the connection under the expired token to be force-closed")
	}
	if conn.closeCode != 4000 {
		t.Errorf("closeCode = %d, want 4000", conn.closeCode)
	}
}
