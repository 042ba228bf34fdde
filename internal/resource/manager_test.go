package resource

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/doorforge/quotecontrol/internal/model"
)

func newQuote(id int) *QuoteResource {
	return &QuoteResource{
		LockState: model.NewLockState(),
		id:        id,
		owner:     model.User{ID: 1, Username: "owner"},
	}
}

func TestAcquireReleaseProtocol(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	q := newQuote(7)
	s1 := model.NewSession(10)
	s2 := model.NewSession(11)

	if err := m.Acquire(s1, q, nil); err != nil {
		t.Fatalf("s1 acquire: %v", err)
	}

	if err := m.Acquire(s2, q, nil); err == nil {
		t.Fatal("expected s2 acquire to fail: already locked")
	} else if err.Message != apperrorsMsgLocked() {
		t.Errorf("message = %q", err.Message)
	}

	if err := m.Release(s1, q, false); err != nil {
		t.Fatalf("s1 release: %v", err)
	}

	if err := m.Acquire(s2, q, nil); err != nil {
		t.Fatalf("s2 acquire after release: %v", err)
	}
}

func TestAcquireRejectsSessionAlreadyBound(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	q1 := newQuote(1)
	q2 := newQuote(2)
	s := model.NewSession(10)

	if err := m.Acquire(s, q1, nil); err != nil {
		t.Fatalf("acquire q1: %v", err)
	}
	if err := m.Acquire(s, q2, nil); err == nil {
		t.Fatal("expected session-already-bound error")
	} else if err.Message != apperrorsMsgSessionBound() {
		t.Errorf("message = %q", err.Message)
	}
}

func TestReleaseIsNoopWhenUnlocked(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	q := newQuote(1)
	s := model.NewSession(10)

	if err := m.Release(s, q, false); err != nil {
		t.Fatalf("release unlocked resource should be a no-op, got %v", err)
	}
}

func TestReleaseRejectsWrongSession(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	q := newQuote(1)
	s1 := model.NewSession(10)
	s2 := model.NewSession(11)

	if err := m.Acquire(s1, q, nil); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Release(s2, q, false); err == nil {
		t.Fatal("expected ResourceNotOwned for mismatched session")
	}
	if err := m.Release(s2, q, true); err != nil {
		t.Fatalf("unconditional release should succeed: %v", err)
	}
}

func TestEnsureAcquired(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	q := newQuote(1)
	s1 := model.NewSession(10)
	s2 := model.NewSession(11)

	if err := m.EnsureAcquired(s1, q); err == nil {
		t.Fatal("expected error: not acquired")
	}

	if err := m.Acquire(s1, q, nil); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.EnsureAcquired(s1, q); err != nil {
		t.Errorf("expected success for holder: %v", err)
	}
	if err := m.EnsureAcquired(s2, q); err == nil {
		t.Error("expected error for non-holder")
	}
}

func TestSweepEvictsOnlyIdleUnlockedEntries(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	q1 := newQuote(1)
	q1.LockState = model.NewLockState()

	key := q1.Key()
	m.cache[key] = q1

	q2 := newQuote(2)
	if err := m.Acquire(model.NewSession(10), q2, nil); err != nil {
		t.Fatalf("acquire q2: %v", err)
	}
	m.cache[q2.Key()] = q2

	// Let last_active fall further into the past than the 1ms grace.
	time.Sleep(5 * time.Millisecond)

	evicted := m.Sweep(1 * time.Millisecond)
	if evicted != 1 {
		t.Fatalf("evicted = %d, want 1", evicted)
	}
	if _, ok := m.cache[key]; ok {
		t.Error("expected resource to be evicted from cache")
	}
	if _, ok := m.cache[q2.Key()]; !ok {
		t.Error("expected locked resource to stay in cache")
	}
}

func TestSweepNeverEvictsLockedResource(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	q := newQuote(1)
	s := model.NewSession(1)
	if err := m.Acquire(s, q, nil); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.cache[q.Key()] = q

	time.Sleep(5 * time.Millisecond)
	evicted := m.Sweep(1 * time.Millisecond)
	if evicted != 0 {
		t.Fatalf("locked resource should never be evicted, evicted=%d", evicted)
	}
}

// apperrorsMsgLocked/apperrorsMsgSessionBound mirror the errors
// package's exported MsgResourceLocked/MsgSessionBound strings
// verbatim, trailing period included: these tests compare against the
// raw AppError.Message field, which keeps the period (only ToResponse
// strips it).
func apperrorsMsgLocked() string {
	return "Requested resource is already locked by another session."
}

func apperrorsMsgSessionBound() string {
	return "Requesting session is already bound to a resource."
}
