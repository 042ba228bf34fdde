// Package resource implements the resource lock manager: a catalogue
// of loaders, an in-memory cache keyed by (rtype, rid), the acquire/
// release/ensure_acquired lock protocol, and idle eviction. Grounded
// on Common/resource.py's ResourceMixin, generalized per the design
// notes into one concrete type per resource kind behind a shared
// interface instead of a runtime-checked protocol.
package resource

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/doorforge/quotecontrol/internal/errors"
	"github.com/doorforge/quotecontrol/internal/metrics"
	"github.com/doorforge/quotecontrol/internal/model"
)

// Loader hydrates a resource from its integer id. A loader signals
// that the id doesn't exist by returning an error satisfying
// errors.Is(err, ErrNotFound); Load translates that into a 404, any
// other error into a 500 via the caller's normal error handling.
type Loader func(ctx context.Context, rid int) (model.Resource, error)

// ErrNotFound is the shared loader-defined not-found sentinel. Loaders
// (and the stores behind them) return this, or wrap it, rather than a
// bare driver error, so Load can tell "doesn't exist" apart from an
// upstream failure.
var ErrNotFound = errors.New("resource not found")

// DisplayResolver looks up the display name of the user whose session
// currently holds a lock, for the ResourceLocked error's locked_by
// field. The session registry implements it; this package only
// depends on the function shape, not the registry.
type DisplayResolver func(sessionID string) string

// Manager owns the resource cache and the lock transition methods.
// All mutations are serialized through mu, satisfying "resource
// acquire/release transitions are atomic with respect to other
// resource operations on the same resource: no suspension occurs
// between the check and the state mutation".
type Manager struct {
	mu      sync.Mutex
	cache   map[model.ResourceKey]model.Resource
	catalog map[string]Loader
	log     zerolog.Logger
}

func NewManager(catalog map[string]Loader, log zerolog.Logger) *Manager {
	return &Manager{
		cache:   make(map[model.ResourceKey]model.Resource),
		catalog: catalog,
		log:     log,
	}
}

// Load resolves (rtype, ridStr) to a cached or freshly hydrated
// resource. ridStr that doesn't parse as an integer, or an rtype
// absent from the catalogue, is a 400.
func (m *Manager) Load(ctx context.Context, rtype, ridStr string) (model.Resource, error) {
	loader, ok := m.catalog[rtype]
	if !ok {
		return nil, apperrors.BadRequest("Unknown resource type").WithExtra("resource_type", rtype)
	}

	rid, err := strconv.Atoi(ridStr)
	if err != nil {
		return nil, apperrors.BadRequest("Invalid resource id").WithExtra("resource_id", ridStr)
	}

	key := model.ResourceKey{RType: rtype, RID: rid}

	m.mu.Lock()
	if r, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return r, nil
	}
	m.mu.Unlock()

	r, err := loader(ctx, rid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NotFound("Resource not found").
				WithExtra("resource_type", rtype).WithExtra("resource_id", ridStr)
		}
		return nil, apperrors.WrapError(err, "Failed to load resource")
	}

	m.mu.Lock()
	if existing, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.cache[key] = r
	m.mu.Unlock()

	return r, nil
}

// Acquire implements the lock protocol's acquire transition.
func (m *Manager) Acquire(session *model.Session, r model.Resource, lockedBy DisplayResolver) *apperrors.AppError {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.Locked() {
		display := ""
		if lockedBy != nil {
			display = lockedBy(r.BoundSessionID())
		}
		metrics.ResourceLockConflicts.WithLabelValues("locked").Inc()
		return apperrors.ResourceLocked(display)
	}
	if session.BoundResource != nil {
		metrics.ResourceLockConflicts.WithLabelValues("session_bound").Inc()
		return apperrors.SessionBound(session.ToJSON())
	}

	r.SetBound(session.ID)
	key := r.Key()
	session.BoundResource = &key
	return nil
}

// Release implements the lock protocol's release transition.
// unconditional is used by the sweeper, which releases on behalf of a
// session that has gone connectionless rather than on the caller's
// own say-so.
func (m *Manager) Release(session *model.Session, r model.Resource, unconditional bool) *apperrors.AppError {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !r.Locked() {
		return nil
	}
	if !unconditional && r.BoundSessionID() != session.ID {
		return apperrors.ResourceNotOwned(session.ToJSON())
	}

	r.ClearBound()
	session.BoundResource = nil
	return nil
}

// ReleaseByKey releases the resource addressed by key on behalf of
// session, for callers (the session sweeper) that only have the key a
// session recorded, not the live Resource itself. On a cache miss it
// only clears session.BoundResource: an evicted resource can't still
// be locked.
func (m *Manager) ReleaseByKey(session *model.Session, key model.ResourceKey, unconditional bool) *apperrors.AppError {
	m.mu.Lock()
	r, ok := m.cache[key]
	m.mu.Unlock()
	if !ok {
		session.BoundResource = nil
		return nil
	}
	return m.Release(session, r, unconditional)
}

// EnsureAcquired implements the view endpoint's acquisition check.
func (m *Manager) EnsureAcquired(session *model.Session, r model.Resource) *apperrors.AppError {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !r.Locked() || r.BoundSessionID() != session.ID {
		return apperrors.ResourceNotOwned(session.ToJSON())
	}
	return nil
}

// Sweep evicts idle, unlocked cache entries. It iterates a snapshot so
// concurrent loads during the sweep are tolerated.
func (m *Manager) Sweep(grace time.Duration) int {
	m.mu.Lock()
	snapshot := make([]model.ResourceKey, 0, len(m.cache))
	for k := range m.cache {
		snapshot = append(snapshot, k)
	}
	m.mu.Unlock()

	evicted := 0
	for _, key := range snapshot {
		m.mu.Lock()
		r, ok := m.cache[key]
		if ok && r.IsIdle(grace) {
			delete(m.cache, key)
			evicted++
		}
		m.mu.Unlock()
	}

	if evicted > 0 {
		metrics.ResourceEvictions.Add(float64(evicted))
		m.log.Info().Int("count", evicted).Msg("evicted idle resources from cache")
	}
	return evicted
}

// Run starts the idle-eviction task on a fixed interval. It blocks
// until ctx is cancelled, at which point it returns — the caller
// awaits this to implement the scoped start/stop lifecycle.
func (m *Manager) Run(ctx context.Context, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(grace)
		}
	}
}

// CacheSize reports the current number of cached resources, for
// metrics.
func (m *Manager) CacheSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}
