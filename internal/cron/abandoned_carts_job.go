package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/cartlyhq/cartly-backend/pkg/logger"
	"go.uber.org/multierr"
)

const (
	defaultIdleThreshold = 3 * time.Hour
	defaultSweepBatch    = 500
)

// AbandonedCartsJobParams configure the idle-cart sweep.
type AbandonedCartsJobParams struct {
	Logger        *logger.Logger
	Index         idleCartSource
	Carts         cartAbandoner
	IdleThreshold time.Duration
	BatchSize     int64
}

type idleCartSource interface {
	IdleCartIDs(ctx context.Context, cutoff time.Time, limit int64) ([]string, error)
}

type cartAbandoner interface {
	MarkAbandoned(ctx context.Context, cartID string) error
}

// NewAbandonedCartsJob builds the job that flags carts idle past the
// threshold and drains their activity-index entries.
func NewAbandonedCartsJob(params AbandonedCartsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Index == nil {
		return nil, fmt.Errorf("activity index required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart service required")
	}
	threshold := params.IdleThreshold
	if threshold <= 0 {
		threshold = defaultIdleThreshold
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}
	return &abandonedCartsJob{
		logg:      params.Logger,
		index:     params.Index,
		carts:     params.Carts,
		threshold: threshold,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

type abandonedCartsJob struct {
	logg      *logger.Logger
	index     idleCartSource
	carts     cartAbandoner
	threshold time.Duration
	batchSize int64
	now       func() time.Time
}

func (j *abandonedCartsJob) Name() string { return "abandoned-carts" }

// Run drains the index in batches until a query comes back empty. The cutoff
// is pinned once per run so carts going idle mid-sweep wait for the next one.
// Each successful MarkAbandoned removes the cart from the index, which is
// what moves the batch window forward.
func (j *abandonedCartsJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.threshold)

	var errs []error
	swept := 0
	for {
		batch, err := j.index.IdleCartIDs(ctx, cutoff, j.batchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("query idle carts: %w", err))
			break
		}
		if len(batch) == 0 {
			break
		}

		failed := 0
		for _, cartID := range batch {
			if err := j.carts.MarkAbandoned(ctx, cartID); err != nil {
				failed++
				errs = append(errs, fmt.Errorf("mark cart %s abandoned: %w", cartID, err))
				continue
			}
			swept++
		}
		// Failed carts stay in the index; if nothing in the batch moved,
		// the next query would return the same ids forever.
		if failed == len(batch) {
			break
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"swept": swept, "failed": len(errs)})
	j.logg.Info(logCtx, "abandoned cart sweep complete")
	return multierr.Combine(errs...)
}
