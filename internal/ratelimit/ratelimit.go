// Package ratelimit implements the sliding-log bucket engine: for a
// derived (policy, key) pair it keeps an ordered list of hit
// timestamps, prunes entries older than the policy's interval, and
// rejects once the pruned count reaches the limit. Grounded on
// Server/Content/decorators.py's ratelimit decorator.
package ratelimit

import (
	"sync"
	"time"
)

// BucketType names where a rate-limit key is derived from.
type BucketType string

const (
	BucketIP    BucketType = "ip"
	BucketUser  BucketType = "user"
	BucketToken BucketType = "token"
	BucketRoute BucketType = "route"
)

// Policy is one rate limit: at most Limit hits per Interval, bucketed
// by Bucket.
type Policy struct {
	Limit    int
	Interval time.Duration
	Bucket   BucketType
}

// Limiter enforces a single Policy, keyed by bucket key, with its own
// hit table shared across every invocation of the handler it's
// attached to.
type Limiter struct {
	policy Policy
	mu     sync.Mutex
	hits   map[string][]time.Time
}

func NewLimiter(policy Policy) *Limiter {
	return &Limiter{policy: policy, hits: make(map[string][]time.Time)}
}

func (l *Limiter) Policy() Policy { return l.policy }

// Allow prunes expired hits for key, and either records a new hit and
// returns (true, 0) or rejects and returns (false, retryAfter).
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hits[key]
	live := hits[:0]
	for _, h := range hits {
		if h.Add(l.policy.Interval).After(now) {
			live = append(live, h)
		}
	}

	if len(live) >= l.policy.Limit {
		l.hits[key] = live
		return false, l.policy.Interval
	}

	live = append(live, now)
	l.hits[key] = live
	return true, 0
}

// KeySource resolves the bucket key for a given bucket type, returning
// "" when the source is missing; Chain.Check substitutes "anon" for an
// empty key. Implemented per-request by the HTTP layer.
type KeySource func(b BucketType) string

// Chain is an ordered stack of policies attached to one handler,
// evaluated outermost first. If any policy rejects, no later policy
// in the chain is consulted.
type Chain struct {
	limiters []*Limiter
}

func NewChain(policies ...Policy) *Chain {
	c := &Chain{}
	for _, p := range policies {
		c.limiters = append(c.limiters, NewLimiter(p))
	}
	return c
}

// Check evaluates every limiter in order, deriving each one's key via
// source. Returns the first rejection, if any.
func (c *Chain) Check(source KeySource) (ok bool, retryAfter time.Duration) {
	for _, l := range c.limiters {
		key := source(l.Policy().Bucket)
		if key == "" {
			key = "anon"
		}
		if allowed, retry := l.Allow(key); !allowed {
			return false, retry
		}
	}
	return true, 0
}
