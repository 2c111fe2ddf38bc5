package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cartlyhq/cartly-backend/pkg/logger"
)

// fakeActivityIndex serves idle cart ids in batch-sized windows and drops an
// entry whenever the abandoner succeeds, mirroring the index semantics.
type fakeActivityIndex struct {
	idle       map[string]int64
	queries    int
	lastCutoff time.Time
	err        error
}

func (f *fakeActivityIndex) IdleCartIDs(ctx context.Context, cutoff time.Time, limit int64) ([]string, error) {
	f.queries++
	f.lastCutoff = cutoff
	if f.err != nil {
		return nil, f.err
	}
	var batch []string
	for cartID, lastActivity := range f.idle {
		if lastActivity <= cutoff.Unix() && int64(len(batch)) < limit {
			batch = append(batch, cartID)
		}
	}
	return batch, nil
}

type fakeAbandoner struct {
	index  *fakeActivityIndex
	marked []string
	failOn map[string]error
}

func (f *fakeAbandoner) MarkAbandoned(ctx context.Context, cartID string) error {
	if err, ok := f.failOn[cartID]; ok {
		return err
	}
	f.marked = append(f.marked, cartID)
	delete(f.index.idle, cartID)
	return nil
}

func newAbandonedCartsJob(t *testing.T, index *fakeActivityIndex, carts *fakeAbandoner, batchSize int64) *abandonedCartsJob {
	t.Helper()
	jobIface, err := NewAbandonedCartsJob(AbandonedCartsJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "test"}),
		Index:         index,
		Carts:         carts,
		IdleThreshold: 3 * time.Hour,
		BatchSize:     batchSize,
	})
	if err != nil {
		t.Fatalf("NewAbandonedCartsJob: %v", err)
	}
	job, ok := jobIface.(*abandonedCartsJob)
	if !ok {
		t.Fatalf("expected abandonedCartsJob, got %T", jobIface)
	}
	return job
}

func TestAbandonedCartsJobSweepsOnlyIdleCarts(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	index := &fakeActivityIndex{idle: map[string]int64{
		"stale":  now.Add(-4 * time.Hour).Unix(),
		"recent": now.Add(-1 * time.Hour).Unix(),
	}}
	carts := &fakeAbandoner{index: index}
	job := newAbandonedCartsJob(t, index, carts, 500)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	expectedCutoff := now.UTC().Add(-3 * time.Hour)
	if !index.lastCutoff.Equal(expectedCutoff) {
		t.Fatalf("expected cutoff %s, got %s", expectedCutoff, index.lastCutoff)
	}
	if len(carts.marked) != 1 || carts.marked[0] != "stale" {
		t.Fatalf("expected only the stale cart swept, got %v", carts.marked)
	}
	if _, ok := index.idle["recent"]; !ok {
		t.Fatal("recent cart must stay in the index")
	}
}

func TestAbandonedCartsJobDrainsAcrossBatches(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	index := &fakeActivityIndex{idle: map[string]int64{}}
	old := now.Add(-5 * time.Hour).Unix()
	for _, cartID := range []string{"a", "b", "c", "d", "e"} {
		index.idle[cartID] = old
	}
	carts := &fakeAbandoner{index: index}
	job := newAbandonedCartsJob(t, index, carts, 2)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(carts.marked) != 5 {
		t.Fatalf("expected 5 carts swept, got %d: %v", len(carts.marked), carts.marked)
	}
	// 3 full/partial batches plus the empty query that terminates the loop.
	if index.queries != 4 {
		t.Fatalf("expected 4 index queries, got %d", index.queries)
	}
}

func TestAbandonedCartsJobEmptyIndexTerminates(t *testing.T) {
	index := &fakeActivityIndex{idle: map[string]int64{}}
	carts := &fakeAbandoner{index: index}
	job := newAbandonedCartsJob(t, index, carts, 500)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if index.queries != 1 {
		t.Fatalf("expected a single query, got %d", index.queries)
	}
}

func TestAbandonedCartsJobCollectsPerCartErrors(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	old := now.Add(-5 * time.Hour).Unix()
	index := &fakeActivityIndex{idle: map[string]int64{"good": old, "bad": old}}
	carts := &fakeAbandoner{index: index, failOn: map[string]error{"bad": errors.New("boom")}}
	job := newAbandonedCartsJob(t, index, carts, 500)
	job.now = func() time.Time { return now }

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected error for the failed cart")
	}
	if len(carts.marked) != 1 || carts.marked[0] != "good" {
		t.Fatalf("expected the healthy cart swept, got %v", carts.marked)
	}
}

func TestAbandonedCartsJobBailsWhenBatchMakesNoProgress(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	old := now.Add(-5 * time.Hour).Unix()
	index := &fakeActivityIndex{idle: map[string]int64{"stuck": old}}
	carts := &fakeAbandoner{index: index, failOn: map[string]error{"stuck": errors.New("boom")}}
	job := newAbandonedCartsJob(t, index, carts, 500)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if index.queries != 1 {
		t.Fatalf("expected loop to bail after one stuck batch, got %d queries", index.queries)
	}
}

func TestAbandonedCartsJobPropagatesIndexErrors(t *testing.T) {
	index := &fakeActivityIndex{err: errors.New("connection reset")}
	carts := &fakeAbandoner{index: index}
	job := newAbandonedCartsJob(t, index, carts, 500)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
