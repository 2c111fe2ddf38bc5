package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cartlyhq/cartly-backend/pkg/db/models"
	pkgerrors "github.com/cartlyhq/cartly-backend/pkg/errors"
	"github.com/cartlyhq/cartly-backend/pkg/metrics"
	"github.com/shopspring/decimal"
)

const defaultMaxTxAttempts = 5

// Service exposes cart mutations and reads.
type Service interface {
	Set(ctx context.Context, cartID string, productID int64, quantity int64) error
	Remove(ctx context.Context, cartID string, productID int64) error
	MarkAbandoned(ctx context.Context, cartID string) error
	Items(ctx context.Context, cartID string) (map[int64]LineItem, error)
	TotalPrice(ctx context.Context, cartID string) (decimal.Decimal, error)
}

type mutationStore interface {
	SetItem(ctx context.Context, cartID string, item LineItem, now time.Time) error
	RemoveItem(ctx context.Context, cartID string, productID int64, now time.Time) error
	MarkAbandoned(ctx context.Context, cartID string, now time.Time) error
	Items(ctx context.Context, cartID string) (map[int64]LineItem, error)
	TotalPrice(ctx context.Context, cartID string) (decimal.Decimal, error)
}

type productFinder interface {
	Find(ctx context.Context, id int64) (*models.Product, error)
}

type service struct {
	store         mutationStore
	catalog       productFinder
	cartMetrics   *metrics.CartMetrics
	maxTxAttempts int
	now           func() time.Time
}

// NewService builds the cart service. maxTxAttempts caps optimistic retries
// so sustained contention surfaces as a retryable conflict instead of
// spinning forever.
func NewService(store mutationStore, catalog productFinder, cartMetrics *metrics.CartMetrics, maxTxAttempts int) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("product catalog required")
	}
	if maxTxAttempts <= 0 {
		maxTxAttempts = defaultMaxTxAttempts
	}
	return &service{
		store:         store,
		catalog:       catalog,
		cartMetrics:   cartMetrics,
		maxTxAttempts: maxTxAttempts,
		now:           time.Now,
	}, nil
}

// Set upserts a line item at the given quantity, snapshotting the catalog
// name and price. Re-setting an identical quantity is a harmless no-op
// commit (delta zero).
func (s *service) Set(ctx context.Context, cartID string, productID int64, quantity int64) error {
	if quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero")
	}

	product, err := s.catalog.Find(ctx, productID)
	if err != nil {
		return err
	}

	item := LineItem{
		ID:        product.ID,
		Name:      product.Name,
		Quantity:  quantity,
		UnitPrice: product.Price,
	}

	return s.withTxRetries(ctx, "set", func(now time.Time) error {
		return s.store.SetItem(ctx, cartID, item, now)
	})
}

// Remove drops a line item; the item must exist.
func (s *service) Remove(ctx context.Context, cartID string, productID int64) error {
	err := s.withTxRetries(ctx, "remove", func(now time.Time) error {
		return s.store.RemoveItem(ctx, cartID, productID, now)
	})
	if errors.Is(err, ErrItemMissing) {
		return pkgerrors.New(pkgerrors.CodeNotFound,
			fmt.Sprintf("product %d not found in cart %s", productID, cartID))
	}
	return err
}

// MarkAbandoned transitions the cart out of the active pool. Missing or
// already-abandoned carts only have their activity-index entry pruned.
func (s *service) MarkAbandoned(ctx context.Context, cartID string) error {
	if err := s.store.MarkAbandoned(ctx, cartID, s.now().UTC()); err != nil {
		s.countMutation("mark_abandoned", "error")
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark cart abandoned")
	}
	s.countMutation("mark_abandoned", "committed")
	return nil
}

// Items returns the current line items keyed by product id.
func (s *service) Items(ctx context.Context, cartID string) (map[int64]LineItem, error) {
	items, err := s.store.Items(ctx, cartID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read cart items")
	}
	return items, nil
}

// TotalPrice returns the running total, zero for missing carts.
func (s *service) TotalPrice(ctx context.Context, cartID string) (decimal.Decimal, error) {
	total, err := s.store.TotalPrice(ctx, cartID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read cart total")
	}
	return total, nil
}

// withTxRetries re-runs the whole read-compute-commit cycle on each lost
// WATCH. Only ErrTxConflict is retried: business misses and store failures
// propagate immediately.
func (s *service) withTxRetries(ctx context.Context, op string, mutate func(now time.Time) error) error {
	for attempt := 1; ; attempt++ {
		err := mutate(s.now().UTC())
		switch {
		case err == nil:
			s.countMutation(op, "committed")
			return nil
		case errors.Is(err, ErrTxConflict):
			s.countConflict(op)
			if attempt >= s.maxTxAttempts {
				s.countMutation(op, "conflict")
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err,
					fmt.Sprintf("cart busy after %d attempts", attempt))
			}
		case errors.Is(err, ErrItemMissing):
			s.countMutation(op, "miss")
			return err
		default:
			s.countMutation(op, "error")
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cart store write")
		}
	}
}

func (s *service) countMutation(op, outcome string) {
	s.cartMetrics.IncMutation(op, outcome)
}

func (s *service) countConflict(op string) {
	s.cartMetrics.IncConflict(op)
}
