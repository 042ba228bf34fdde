package resource

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/doorforge/quotecontrol/internal/model"
)

// QuoteRecord is the row-shaped data a quote loader needs from
// Postgres, independent of how the driver fetches it.
type QuoteRecord struct {
	ID      int
	OwnerID int
	Title   string
	Status  string
}

// QuoteStore is the narrow record-fetching surface the quote loader
// needs. internal/postgres implements it; this package never imports
// a driver directly, per the spec's "thin SQL layer behind a
// record-fetching interface" boundary.
type QuoteStore interface {
	GetQuote(ctx context.Context, id int) (QuoteRecord, error)
	GetUser(ctx context.Context, id int) (model.User, error)
	GetUserTeams(ctx context.Context, userID int) ([]model.Team, error)
}

// ErrQuoteNotFound is the loader-defined not-found error for the quote
// resource kind. It's value-equal to ErrNotFound so Manager.Load's
// errors.Is check maps it to a 404 without this package needing to
// know about the manager's sentinel by any other name.
var ErrQuoteNotFound = ErrNotFound

// QuoteResource is the one concrete resource kind seeded by this
// service: a price quote document with an at-most-one-writer lock.
type QuoteResource struct {
	model.LockState
	id     int
	owner  model.User
	title  string
	status string
}

func (q *QuoteResource) Key() model.ResourceKey { return model.ResourceKey{RType: "quote", RID: q.id} }
func (q *QuoteResource) Owner() model.User      { return q.owner }

func (q *QuoteResource) ToJSON(version string) map[string]any {
	body := map[string]any{
		"id":     q.id,
		"owner":  q.owner.ToJSON(),
		"locked": q.Locked(),
		"title":  q.title,
	}
	if version == "view" {
		body["status"] = q.status
	}
	return body
}

// QuoteLoader fetches the quote row, then the owner's base record and
// team memberships concurrently via errgroup — the two sub-queries
// that don't depend on each other, matching "loaders run their
// sub-queries concurrently".
func QuoteLoader(store QuoteStore) Loader {
	return func(ctx context.Context, rid int) (model.Resource, error) {
		rec, err := store.GetQuote(ctx, rid)
		if err != nil {
			return nil, err
		}

		var owner model.User
		var teams []model.Team

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			u, err := store.GetUser(gctx, rec.OwnerID)
			if err != nil {
				return err
			}
			owner = u
			return nil
		})
		g.Go(func() error {
			t, err := store.GetUserTeams(gctx, rec.OwnerID)
			if err != nil {
				return err
			}
			teams = t
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		owner.Teams = teams

		return &QuoteResource{
			LockState: model.NewLockState(),
			id:        rec.ID,
			owner:     owner,
			title:     rec.Title,
			status:    rec.Status,
		}, nil
	}
}
