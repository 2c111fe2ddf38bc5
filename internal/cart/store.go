package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisclient "github.com/cartlyhq/cartly-backend/pkg/redis"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ErrTxConflict reports a lost optimistic WATCH: another client wrote the
// cart between our read and our commit. Callers retry the whole mutation.
var ErrTxConflict = errors.New("cart modified concurrently")

// ErrItemMissing reports a remove against a product the cart does not hold.
var ErrItemMissing = errors.New("item not in cart")

// RedisStore owns the persisted cart layout: one hash per cart plus the
// global last-activity index. Every mutation commits as a single MULTI block
// so no partial cart state is ever visible.
type RedisStore struct {
	client *redisclient.Client
	ttl    time.Duration
}

// NewRedisStore builds the store. ttl bounds every cart record's lifetime
// and is refreshed on each mutation.
func NewRedisStore(client *redisclient.Client, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cart ttl must be positive")
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// SetItem upserts one line item under an optimistic transaction. The current
// quantity is read under WATCH so the total-price delta can never be computed
// from a stale line item: any concurrent write to the cart aborts the EXEC
// and surfaces ErrTxConflict.
//
// The total itself moves by HINCRBYFLOAT rather than a rewrite, so two
// non-conflicting commits (e.g. a retry that lost one round) still sum
// correctly instead of clobbering each other.
func (s *RedisStore) SetItem(ctx context.Context, cartID string, item LineItem, now time.Time) error {
	cartKey := s.client.CartKey(cartID)
	field := redisclient.ItemField(item.ID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		currentQty := int64(0)
		raw, err := tx.HGet(ctx, cartKey, field).Result()
		switch {
		case err == nil:
			current, decodeErr := decodeLineItem(raw)
			if decodeErr != nil {
				return decodeErr
			}
			currentQty = current.Quantity
		case !redisclient.IsNil(err):
			return err
		}

		item.TotalPrice = item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))
		delta := item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity - currentQty))

		payload, err := encodeLineItem(item)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, s.client.ProductHintKey(), item.ID)
			pipe.HSet(ctx, cartKey,
				field, payload,
				fieldStatus, string(StatusActive),
				fieldLastUpdatedAt, now.Unix(),
			)
			pipe.HDel(ctx, cartKey, fieldAbandonedAt)
			pipe.ZAdd(ctx, s.client.ActivityIndexKey(), redis.Z{Score: float64(now.Unix()), Member: cartID})
			pipe.HIncrByFloat(ctx, cartKey, fieldTotalPrice, delta.InexactFloat64())
			pipe.Expire(ctx, cartKey, s.ttl)
			return nil
		})
		return err
	}, cartKey)

	if redisclient.IsTxFailed(err) {
		return ErrTxConflict
	}
	return err
}

// RemoveItem deletes one line item under the same optimistic protocol,
// decrementing the running total by the removed item's stored total.
func (s *RedisStore) RemoveItem(ctx context.Context, cartID string, productID int64, now time.Time) error {
	cartKey := s.client.CartKey(cartID)
	field := redisclient.ItemField(productID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, cartKey, field).Result()
		if err != nil {
			if redisclient.IsNil(err) {
				return ErrItemMissing
			}
			return err
		}
		item, err := decodeLineItem(raw)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, cartKey, field)
			pipe.HSet(ctx, cartKey,
				fieldStatus, string(StatusActive),
				fieldLastUpdatedAt, now.Unix(),
			)
			pipe.HDel(ctx, cartKey, fieldAbandonedAt)
			pipe.ZAdd(ctx, s.client.ActivityIndexKey(), redis.Z{Score: float64(now.Unix()), Member: cartID})
			pipe.HIncrByFloat(ctx, cartKey, fieldTotalPrice, item.TotalPrice.Neg().InexactFloat64())
			pipe.Expire(ctx, cartKey, s.ttl)
			return nil
		})
		return err
	}, cartKey)

	if redisclient.IsTxFailed(err) {
		return ErrTxConflict
	}
	return err
}

// MarkAbandoned flips the cart's status and prunes its activity-index entry.
// Missing and already-abandoned carts are no-ops apart from the prune, which
// is what lets the sweeper clear stale index entries. Item fields and the
// running total are never touched.
func (s *RedisStore) MarkAbandoned(ctx context.Context, cartID string, now time.Time) error {
	cartKey := s.client.CartKey(cartID)
	indexKey := s.client.ActivityIndexKey()

	exists, err := s.client.Exists(ctx, cartKey)
	if err != nil {
		return err
	}
	if exists {
		status, err := s.client.HGet(ctx, cartKey, fieldStatus)
		if err != nil && !redisclient.IsNil(err) {
			return err
		}
		if Status(status) != StatusAbandoned {
			if err := s.client.HSet(ctx, cartKey,
				fieldStatus, string(StatusAbandoned),
				fieldAbandonedAt, now.Unix(),
			); err != nil {
				return err
			}
			if err := s.client.Expire(ctx, cartKey, s.ttl); err != nil {
				return err
			}
		}
	}
	return s.client.ZRem(ctx, indexKey, cartID)
}

// Items returns the cart's line items keyed by product id.
func (s *RedisStore) Items(ctx context.Context, cartID string) (map[int64]LineItem, error) {
	fields, err := s.client.HGetAll(ctx, s.client.CartKey(cartID))
	if err != nil {
		return nil, err
	}
	items := make(map[int64]LineItem)
	for field, raw := range fields {
		productID, ok := redisclient.ParseItemField(field)
		if !ok {
			continue
		}
		item, err := decodeLineItem(raw)
		if err != nil {
			return nil, err
		}
		items[productID] = item
	}
	return items, nil
}

// TotalPrice returns the running total, zero for missing carts.
func (s *RedisStore) TotalPrice(ctx context.Context, cartID string) (decimal.Decimal, error) {
	raw, err := s.client.HGet(ctx, s.client.CartKey(cartID), fieldTotalPrice)
	if err != nil {
		if redisclient.IsNil(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	total, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing cart total %q: %w", raw, err)
	}
	return total, nil
}

// Status returns the stored status, defaulting to active for carts that were
// created but never explicitly flagged.
func (s *RedisStore) Status(ctx context.Context, cartID string) (Status, error) {
	raw, err := s.client.HGet(ctx, s.client.CartKey(cartID), fieldStatus)
	if err != nil {
		if redisclient.IsNil(err) {
			return StatusActive, nil
		}
		return StatusActive, err
	}
	return Status(raw), nil
}

// IdleCartIDs returns up to limit cart ids whose last activity is at or
// before cutoff, oldest first.
func (s *RedisStore) IdleCartIDs(ctx context.Context, cutoff time.Time, limit int64) ([]string, error) {
	return s.client.ZRangeByScoreLimit(ctx, s.client.ActivityIndexKey(), 0, cutoff.Unix(), limit)
}
