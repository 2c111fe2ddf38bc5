package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cartlyhq/cartly-backend/pkg/config"
	"github.com/cartlyhq/cartly-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	keyNamespace       = "cartly"
	cartPrefix         = "cart"
	activityIndexName  = "carts:last_activity"
	productHintName    = "products:ids"
	productCachePrefix = "product"
	productListName    = "products:all"
	sweepLockPrefix    = "sweep:lock"

	// itemFieldPrefix namespaces line-item fields inside a cart hash so they
	// never collide with the status/timestamp/total fields.
	itemFieldPrefix = "items:"
)

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	Exists(context.Context, ...string) *redis.IntCmd
	HGet(context.Context, string, string) *redis.StringCmd
	HGetAll(context.Context, string) *redis.MapStringStringCmd
	HExists(context.Context, string, string) *redis.BoolCmd
	HSet(context.Context, string, ...any) *redis.IntCmd
	Expire(context.Context, string, time.Duration) *redis.BoolCmd
	ZRem(context.Context, string, ...any) *redis.IntCmd
	ZRangeByScore(context.Context, string, *redis.ZRangeBy) *redis.StringSliceCmd
	ZScore(context.Context, string, string) *redis.FloatCmd
}

// Client wraps the redis connection helpers needed by the cart platform.
type Client struct {
	store cmdable
	raw   *redis.Client
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// New bootstraps a Redis client with pooling/timeouts and verifies connectivity.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{store: raw, raw: raw}, nil
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL == "" && cfg.Address == "" {
		return nil, errors.New("redis url or address is required")
	}
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// Set stores a string value with an optional TTL.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	return c.store.Set(ctx, key, value, ttl).Err()
}

// Get returns a string value stored at key. Missing keys surface redis.Nil.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.store == nil {
		return "", errors.New("redis client not initialized")
	}
	return c.store.Get(ctx, key).Result()
}

// SetNX sets a value only if the key does not exist yet.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.store == nil {
		return false, errors.New("redis client not initialized")
	}
	return c.store.SetNX(ctx, key, value, ttl).Result()
}

// Del removes the provided keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	_, err := c.store.Del(ctx, keys...).Result()
	return err
}

// Exists reports whether the key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if c.store == nil {
		return false, errors.New("redis client not initialized")
	}
	n, err := c.store.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HGet reads one hash field. Missing fields surface redis.Nil.
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	if c.store == nil {
		return "", errors.New("redis client not initialized")
	}
	return c.store.HGet(ctx, key, field).Result()
}

// HGetAll reads the whole hash.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if c.store == nil {
		return nil, errors.New("redis client not initialized")
	}
	return c.store.HGetAll(ctx, key).Result()
}

// HExists reports whether the hash field is present.
func (c *Client) HExists(ctx context.Context, key, field string) (bool, error) {
	if c.store == nil {
		return false, errors.New("redis client not initialized")
	}
	return c.store.HExists(ctx, key, field).Result()
}

// HSet writes field/value pairs into the hash.
func (c *Client) HSet(ctx context.Context, key string, values ...any) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	return c.store.HSet(ctx, key, values...).Err()
}

// Expire refreshes the key's TTL.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	return c.store.Expire(ctx, key, ttl).Err()
}

// ZRem drops members from the sorted set.
func (c *Client) ZRem(ctx context.Context, key string, members ...any) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	return c.store.ZRem(ctx, key, members...).Err()
}

// ZRangeByScoreLimit returns up to count members with score in [min, max],
// ascending by score.
func (c *Client) ZRangeByScoreLimit(ctx context.Context, key string, min, max int64, count int64) ([]string, error) {
	if c.store == nil {
		return nil, errors.New("redis client not initialized")
	}
	return c.store.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    strconv.FormatInt(min, 10),
		Max:    strconv.FormatInt(max, 10),
		Offset: 0,
		Count:  count,
	}).Result()
}

// ZScore returns the score for a member. Missing members surface redis.Nil.
func (c *Client) ZScore(ctx context.Context, key, member string) (float64, error) {
	if c.store == nil {
		return 0, errors.New("redis client not initialized")
	}
	return c.store.ZScore(ctx, key, member).Result()
}

// Watch runs fn under an optimistic WATCH on keys. When another client
// writes a watched key between the WATCH and the queued EXEC, the
// transaction fails with redis.TxFailedErr and fn's writes are discarded.
func (c *Client) Watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	if c.raw == nil {
		return errors.New("redis client not initialized")
	}
	return c.raw.Watch(ctx, fn, keys...)
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	return c.store.Ping(ctx).Err()
}

// Close shuts down the underlying client if available.
func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

// CartKey returns the hash key holding one cart's record.
func (c *Client) CartKey(cartID string) string {
	return c.buildKey(cartPrefix, cartID)
}

// ActivityIndexKey returns the global last-activity sorted set key.
func (c *Client) ActivityIndexKey() string {
	return c.buildKey(activityIndexName)
}

// ProductHintKey returns the set of product ids known to appear in some cart.
func (c *Client) ProductHintKey() string {
	return c.buildKey(productHintName)
}

// ProductCacheKey returns the cache-aside key for one catalog product.
func (c *Client) ProductCacheKey(productID int64) string {
	return c.buildKey(productCachePrefix, strconv.FormatInt(productID, 10))
}

// ProductListCacheKey returns the cache key for the full catalog listing.
func (c *Client) ProductListCacheKey() string {
	return c.buildKey(productListName)
}

// SweepLockKey returns the lock key guarding sweep-worker cycles.
func (c *Client) SweepLockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return c.buildKey(sweepLockPrefix, env)
}

// ItemField returns the hash field name for one line item.
func ItemField(productID int64) string {
	return itemFieldPrefix + strconv.FormatInt(productID, 10)
}

// ParseItemField extracts the product id from an item hash field name.
func ParseItemField(field string) (int64, bool) {
	raw, found := strings.CutPrefix(field, itemFieldPrefix)
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// IsNil reports whether err is the missing-key/field sentinel.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// IsTxFailed reports whether err is the lost-WATCH sentinel.
func IsTxFailed(err error) bool {
	return errors.Is(err, redis.TxFailedErr)
}

func (c *Client) buildKey(parts ...string) string {
	if len(parts) == 0 {
		return keyNamespace
	}
	clean := []string{keyNamespace}
	for _, part := range parts {
		if part == "" {
			continue
		}
		clean = append(clean, strings.TrimSpace(part))
	}
	return strings.Join(clean, ":")
}
