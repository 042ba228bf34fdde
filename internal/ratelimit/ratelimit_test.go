package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterRoundTrip(t *testing.T) {
	l := NewLimiter(Policy{Limit: 3, Interval: 50 * time.Millisecond, Bucket: BucketIP})

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("1.2.3.4")
		if !ok {
			t.Fatalf("call %d should be allowed", i)
		}
	}

	if ok, retry := l.Allow("1.2.3.4"); ok {
		t.Fatal("4th call within window should be rejected")
	} else if retry != 50*time.Millisecond {
		t.Errorf("retryAfter = %v, want %v", retry, 50*time.Millisecond)
	}

	time.Sleep(60 * time.Millisecond)

	if ok, _ := l.Allow("1.2.3.4"); !ok {
		t.Fatal("call after window elapses should be allowed")
	}
}

func TestLimiterBucketsAreIndependent(t *testing.T) {
	l := NewLimiter(Policy{Limit: 1, Interval: time.Second, Bucket: BucketUser})

	if ok, _ := l.Allow("user-1"); !ok {
		t.Fatal("first call for user-1 should be allowed")
	}
	if ok, _ := l.Allow("user-2"); !ok {
		t.Fatal("first call for user-2 should be allowed (independent bucket)")
	}
	if ok, _ := l.Allow("user-1"); ok {
		t.Fatal("second call for user-1 should be rejected")
	}
}

func TestChainStopsAtFirstRejection(t *testing.T) {
	c := NewChain(
		Policy{Limit: 100, Interval: time.Second, Bucket: BucketIP},
		Policy{Limit: 1, Interval: time.Second, Bucket: BucketRoute},
	)

	source := func(b BucketType) string {
		if b == BucketIP {
			return "1.2.3.4"
		}
		return "login"
	}

	if ok, _ := c.Check(source); !ok {
		t.Fatal("first check should pass both policies")
	}
	if ok, _ := c.Check(source); ok {
		t.Fatal("second check should be rejected by the route policy")
	}
}

func TestChainKeyFallsBackToAnon(t *testing.T) {
	c := NewChain(Policy{Limit: 1, Interval: time.Second, Bucket: BucketUser})
	source := func(b BucketType) string { return "" }

	if ok, _ := c.Check(source); !ok {
		t.Fatal("first anon call should be allowed")
	}
	if ok, _ := c.Check(source); ok {
		t.Fatal("second anon call should share the anon bucket and be rejected")
	}
}
