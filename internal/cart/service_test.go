package cart

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/cartlyhq/cartly-backend/pkg/db/models"
	pkgerrors "github.com/cartlyhq/cartly-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

type fakeCart struct {
	items       map[int64]LineItem
	total       decimal.Decimal
	status      Status
	abandonedAt *int64
	lastUpdated int64
}

// fakeStore mirrors the persisted protocol in memory: upserts move the total
// by delta, every mutation reactivates, mark-abandoned always prunes the
// index entry.
type fakeStore struct {
	carts     map[string]*fakeCart
	index     map[string]int64
	conflicts int
	failWith  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{carts: map[string]*fakeCart{}, index: map[string]int64{}}
}

func (f *fakeStore) cart(cartID string) *fakeCart {
	c, ok := f.carts[cartID]
	if !ok {
		c = &fakeCart{items: map[int64]LineItem{}, total: decimal.Zero, status: StatusActive}
		f.carts[cartID] = c
	}
	return c
}

func (f *fakeStore) SetItem(ctx context.Context, cartID string, item LineItem, now time.Time) error {
	if f.failWith != nil {
		return f.failWith
	}
	if f.conflicts > 0 {
		f.conflicts--
		return ErrTxConflict
	}
	c := f.cart(cartID)
	currentQty := int64(0)
	if existing, ok := c.items[item.ID]; ok {
		currentQty = existing.Quantity
	}
	item.TotalPrice = item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))
	delta := item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity - currentQty))
	c.items[item.ID] = item
	c.total = c.total.Add(delta)
	c.status = StatusActive
	c.abandonedAt = nil
	c.lastUpdated = now.Unix()
	f.index[cartID] = now.Unix()
	return nil
}

func (f *fakeStore) RemoveItem(ctx context.Context, cartID string, productID int64, now time.Time) error {
	if f.failWith != nil {
		return f.failWith
	}
	if f.conflicts > 0 {
		f.conflicts--
		return ErrTxConflict
	}
	c := f.cart(cartID)
	item, ok := c.items[productID]
	if !ok {
		return ErrItemMissing
	}
	delete(c.items, productID)
	c.total = c.total.Sub(item.TotalPrice)
	c.status = StatusActive
	c.abandonedAt = nil
	c.lastUpdated = now.Unix()
	f.index[cartID] = now.Unix()
	return nil
}

func (f *fakeStore) MarkAbandoned(ctx context.Context, cartID string, now time.Time) error {
	if f.failWith != nil {
		return f.failWith
	}
	if c, ok := f.carts[cartID]; ok && c.status != StatusAbandoned {
		ts := now.Unix()
		c.status = StatusAbandoned
		c.abandonedAt = &ts
	}
	delete(f.index, cartID)
	return nil
}

func (f *fakeStore) Items(ctx context.Context, cartID string) (map[int64]LineItem, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := map[int64]LineItem{}
	if c, ok := f.carts[cartID]; ok {
		for id, item := range c.items {
			out[id] = item
		}
	}
	return out, nil
}

func (f *fakeStore) TotalPrice(ctx context.Context, cartID string) (decimal.Decimal, error) {
	if f.failWith != nil {
		return decimal.Zero, f.failWith
	}
	if c, ok := f.carts[cartID]; ok {
		return c.total, nil
	}
	return decimal.Zero, nil
}

type fakeCatalog struct {
	products map[int64]*models.Product
}

func (f *fakeCatalog) Find(ctx context.Context, id int64) (*models.Product, error) {
	product, ok := f.products[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %d not found", id))
	}
	return product, nil
}

func newTestService(t *testing.T, store *fakeStore) Service {
	t.Helper()
	catalog := &fakeCatalog{products: map[int64]*models.Product{
		1: {ID: 1, Name: "Coffee", Price: decimal.RequireFromString("10.00")},
		2: {ID: 2, Name: "Tea", Price: decimal.RequireFromString("2.50")},
	}}
	svc, err := NewService(store, catalog, nil, 3)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestSetRejectsNonPositiveQuantity(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeStore())
	for _, qty := range []int64{0, -3} {
		err := svc.Set(context.Background(), "c1", 1, qty)
		if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("expected validation error for qty %d, got %v", qty, err)
		}
	}
}

func TestSetUnknownProduct(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(t, store)

	err := svc.Set(context.Background(), "c1", 99, 1)
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(store.carts) != 0 {
		t.Fatal("cart must not be created for unknown products")
	}
}

func TestSetSnapshotsCatalogAndTracksTotal(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	if err := svc.Set(ctx, "c1", 1, 3); err != nil {
		t.Fatalf("Set: %v", err)
	}
	total, err := svc.TotalPrice(ctx, "c1")
	if err != nil {
		t.Fatalf("TotalPrice: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("30.00")) {
		t.Fatalf("expected 30.00, got %s", total)
	}

	if err := svc.Set(ctx, "c1", 1, 5); err != nil {
		t.Fatalf("Set update: %v", err)
	}
	total, _ = svc.TotalPrice(ctx, "c1")
	if !total.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("expected 50.00 after quantity bump, got %s", total)
	}

	if err := svc.Remove(ctx, "c1", 1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	total, _ = svc.TotalPrice(ctx, "c1")
	if !total.IsZero() {
		t.Fatalf("expected zero total after removal, got %s", total)
	}
	items, _ := svc.Items(ctx, "c1")
	if len(items) != 0 {
		t.Fatalf("expected empty cart, got %v", items)
	}
}

func TestSetIsIdempotentForIdenticalArgs(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	if err := svc.Set(ctx, "c1", 2, 4); err != nil {
		t.Fatalf("Set: %v", err)
	}
	before, _ := svc.TotalPrice(ctx, "c1")

	if err := svc.Set(ctx, "c1", 2, 4); err != nil {
		t.Fatalf("repeat Set: %v", err)
	}
	after, _ := svc.TotalPrice(ctx, "c1")
	if !before.Equal(after) {
		t.Fatalf("total changed on identical set: %s -> %s", before, after)
	}
	items, _ := svc.Items(ctx, "c1")
	if items[2].Quantity != 4 {
		t.Fatalf("unexpected item state: %+v", items[2])
	}
}

func TestRemoveMissingItemLeavesTotalUntouched(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	if err := svc.Set(ctx, "c1", 1, 2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	before, _ := svc.TotalPrice(ctx, "c1")

	err := svc.Remove(ctx, "c1", 2)
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	after, _ := svc.TotalPrice(ctx, "c1")
	if !before.Equal(after) {
		t.Fatalf("total changed on failed remove: %s -> %s", before, after)
	}
}

func TestMutationReactivatesAbandonedCart(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	if err := svc.Set(ctx, "c1", 1, 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := svc.MarkAbandoned(ctx, "c1"); err != nil {
		t.Fatalf("MarkAbandoned: %v", err)
	}
	if store.carts["c1"].status != StatusAbandoned {
		t.Fatal("expected abandoned status")
	}
	if _, ok := store.index["c1"]; ok {
		t.Fatal("expected index entry pruned")
	}

	if err := svc.Set(ctx, "c1", 1, 2); err != nil {
		t.Fatalf("Set after abandon: %v", err)
	}
	c := store.carts["c1"]
	if c.status != StatusActive {
		t.Fatal("expected reactivated cart")
	}
	if c.abandonedAt != nil {
		t.Fatal("expected abandoned_at cleared")
	}
	if _, ok := store.index["c1"]; !ok {
		t.Fatal("expected index entry restored")
	}
}

func TestMarkAbandonedMissingCartIsNoOp(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.index["ghost"] = 123
	svc := newTestService(t, store)

	if err := svc.MarkAbandoned(context.Background(), "ghost"); err != nil {
		t.Fatalf("MarkAbandoned on missing cart: %v", err)
	}
	if _, ok := store.index["ghost"]; ok {
		t.Fatal("expected stale index entry pruned")
	}
}

func TestConflictRetriesThenCommits(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.conflicts = 2
	svc := newTestService(t, store)

	if err := svc.Set(context.Background(), "c1", 1, 1); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	total, _ := svc.TotalPrice(context.Background(), "c1")
	if !total.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("unexpected total after retried commit: %s", total)
	}
}

func TestConflictExhaustionSurfacesRetryableError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.conflicts = 100
	svc := newTestService(t, store)

	err := svc.Set(context.Background(), "c1", 1, 1)
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict code, got %v", err)
	}
	if !pkgerrors.MetadataFor(pkgerrors.CodeConflict).Retryable {
		t.Fatal("conflict must be retryable")
	}
	// 3 attempts configured in newTestService.
	if store.conflicts != 97 {
		t.Fatalf("expected exactly 3 attempts, %d conflicts left", store.conflicts)
	}
}

func TestStoreFailurePropagatesAsDependency(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failWith = errors.New("connection reset")
	svc := newTestService(t, store)

	if err := svc.Set(context.Background(), "c1", 1, 1); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if err := svc.MarkAbandoned(context.Background(), "c1"); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

// Random mutation sequences must keep the running total equal to the sum of
// the stored line-item totals.
func TestTotalMatchesItemSumUnderRandomSequences(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(20260831))
	store := newFakeStore()
	catalog := &fakeCatalog{products: map[int64]*models.Product{}}
	for id := int64(1); id <= 8; id++ {
		price := decimal.NewFromInt(rng.Int63n(2000)).Div(decimal.NewFromInt(100))
		catalog.products[id] = &models.Product{ID: id, Name: fmt.Sprintf("p%d", id), Price: price}
	}
	svc, err := NewService(store, catalog, nil, 3)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 500; i++ {
		productID := rng.Int63n(8) + 1
		if rng.Intn(4) == 0 {
			err := svc.Remove(ctx, "c1", productID)
			if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				t.Fatalf("Remove: %v", err)
			}
		} else {
			if err := svc.Set(ctx, "c1", productID, rng.Int63n(9)+1); err != nil {
				t.Fatalf("Set: %v", err)
			}
		}

		items, err := svc.Items(ctx, "c1")
		if err != nil {
			t.Fatalf("Items: %v", err)
		}
		sum := decimal.Zero
		for _, item := range items {
			if !item.TotalPrice.Equal(item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))) {
				t.Fatalf("line item total out of sync: %+v", item)
			}
			sum = sum.Add(item.TotalPrice)
		}
		total, err := svc.TotalPrice(ctx, "c1")
		if err != nil {
			t.Fatalf("TotalPrice: %v", err)
		}
		if !total.Equal(sum) {
			t.Fatalf("step %d: total %s != item sum %s", i, total, sum)
		}
	}
}
