// Package postgres is the thin record-fetching layer behind
// session.UserStore and resource.QuoteStore. Grounded on the teacher's
// internal/repository package (one struct wrapping *pgxpool.Pool, one
// method per query, pgx.ErrNoRows mapped to a package-level sentinel).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doorforge/quotecontrol/internal/metrics"
	"github.com/doorforge/quotecontrol/internal/model"
	"github.com/doorforge/quotecontrol/internal/resource"
	"github.com/doorforge/quotecontrol/internal/session"
)

// observe times a query by operation name into the ambient DB duration
// histogram. Grounded on the teacher's repository layer, which doesn't
// itself time queries; this follows the metricsMiddleware pattern used
// for HTTP instead.
func observe(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return err
}

// ErrUserNotFound is value-equal to resource.ErrNotFound: when GetUser
// is called from the quote loader's owner lookup, Manager.Load's
// errors.Is check must see it as the same "doesn't exist" sentinel and
// map it to a 404 rather than a 500.
var ErrUserNotFound = resource.ErrNotFound

// Connect opens the pool against dsn, sizing it from the already
// pool_min_conns/pool_max_conns-bearing DSN, and verifies connectivity
// before returning. Grounded on the erauner12-toolbridge-api db.Open
// pattern (parse config, ping, return).
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return pool, nil
}

// Store wraps the connection pool and implements every
// record-fetching interface the domain packages declare
// (session.UserStore, resource.QuoteStore) against the schema named in
// the external interfaces section: users, teams, companies,
// team_permissions, team_assignments, ids.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

var (
	_ session.UserStore  = (*Store)(nil)
	_ resource.QuoteStore = (*Store)(nil)
)

// NextID draws from the monotonic id generator shared across every
// table that needs one.
func (s *Store) NextID(ctx context.Context) (int, error) {
	var id int
	err := observe("next_id", func() error {
		return s.db.QueryRow(ctx, `INSERT INTO ids DEFAULT VALUES RETURNING id`).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: next id: %w", err)
	}
	return id, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (session.UserRecord, bool, error) {
	const q = `
		SELECT id, username, password, display_name, email, autopilot, admin
		FROM users
		WHERE username = $1
	`
	var rec session.UserRecord
	var displayName, email *string
	err := observe("get_user_by_username", func() error {
		return s.db.QueryRow(ctx, q, username).Scan(
			&rec.User.ID, &rec.User.Username, &rec.PasswordHash, &displayName, &email,
			&rec.User.Autopilot, &rec.User.Admin,
		)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return session.UserRecord{}, false, nil
	}
	if err != nil {
		return session.UserRecord{}, false, fmt.Errorf("postgres: get user by username: %w", err)
	}
	if displayName != nil {
		rec.User.DisplayName = *displayName
	}
	if email != nil {
		rec.User.Email = *email
	}

	teams, err := s.GetUserTeams(ctx, rec.User.ID)
	if err != nil {
		return session.UserRecord{}, false, err
	}
	rec.User.Teams = teams

	return rec, true, nil
}

func (s *Store) GetUser(ctx context.Context, id int) (model.User, error) {
	const q = `
		SELECT id, username, display_name, email, autopilot, admin
		FROM users
		WHERE id = $1
	`
	var u model.User
	var displayName, email *string
	err := observe("get_user", func() error {
		return s.db.QueryRow(ctx, q, id).Scan(&u.ID, &u.Username, &displayName, &email, &u.Autopilot, &u.Admin)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("postgres: get user: %w", err)
	}
	if displayName != nil {
		u.DisplayName = *displayName
	}
	if email != nil {
		u.Email = *email
	}

	teams, err := s.GetUserTeams(ctx, u.ID)
	if err != nil {
		return model.User{}, err
	}
	u.Teams = teams
	return u, nil
}

// GetUserTeams hydrates every team a user belongs to, including each
// team's company and its granted permissions.
func (s *Store) GetUserTeams(ctx context.Context, userID int) ([]model.Team, error) {
	const q = `
		SELECT t.id, t.name, t.hierarchy_index, c.id, c.name
		FROM team_assignments ta
		JOIN teams t ON t.id = ta.team_id
		JOIN companies c ON c.id = t.company_id
		WHERE ta.user_id = $1
	`
	start := time.Now()
	rows, err := s.db.Query(ctx, q, userID)
	metrics.DBQueryDuration.WithLabelValues("get_user_teams").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("postgres: get user teams: %w", err)
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		var t model.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.HierarchyIndex, &t.Company.ID, &t.Company.Name); err != nil {
			return nil, fmt.Errorf("postgres: scan team: %w", err)
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get user teams: %w", err)
	}

	for i := range teams {
		perms, err := s.getTeamPermissions(ctx, teams[i].ID)
		if err != nil {
			return nil, err
		}
		teams[i].Permissions = perms
	}
	return teams, nil
}

func (s *Store) getTeamPermissions(ctx context.Context, teamID int) ([]model.Permission, error) {
	const q = `SELECT permission_type, permission_scope FROM team_permissions WHERE team_id = $1`
	start := time.Now()
	rows, err := s.db.Query(ctx, q, teamID)
	metrics.DBQueryDuration.WithLabelValues("get_team_permissions").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("postgres: get team permissions: %w", err)
	}
	defer rows.Close()

	var perms []model.Permission
	for rows.Next() {
		var ptype string
		var scope int
		if err := rows.Scan(&ptype, &scope); err != nil {
			return nil, fmt.Errorf("postgres: scan permission: %w", err)
		}
		perms = append(perms, model.Permission{Type: model.PermissionType(ptype), Scope: model.Scope(scope)})
	}
	return perms, rows.Err()
}

func (s *Store) GetQuote(ctx context.Context, id int) (resource.QuoteRecord, error) {
	const q = `SELECT id, owner_id, title, status FROM quotes WHERE id = $1`
	var rec resource.QuoteRecord
	err := observe("get_quote", func() error {
		return s.db.QueryRow(ctx, q, id).Scan(&rec.ID, &rec.OwnerID, &rec.Title, &rec.Status)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return resource.QuoteRecord{}, resource.ErrQuoteNotFound
	}
	if err != nil {
		return resource.QuoteRecord{}, fmt.Errorf("postgres: get quote: %w", err)
	}
	return rec, nil
}
