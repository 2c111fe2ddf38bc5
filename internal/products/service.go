package products

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cartlyhq/cartly-backend/pkg/db/models"
	pkgerrors "github.com/cartlyhq/cartly-backend/pkg/errors"
	"github.com/cartlyhq/cartly-backend/pkg/logger"
	redisclient "github.com/cartlyhq/cartly-backend/pkg/redis"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service exposes catalog reads with a cache-aside layer plus admin writes.
type Service interface {
	Find(ctx context.Context, id int64) (*models.Product, error)
	List(ctx context.Context) ([]models.Product, error)
	Create(ctx context.Context, input ProductInput) (*models.Product, error)
	Update(ctx context.Context, id int64, input ProductInput) (*models.Product, error)
	Delete(ctx context.Context, id int64) error
}

// ProductInput carries the validated payload for catalog writes.
type ProductInput struct {
	Name  string
	Price decimal.Decimal
}

type repository interface {
	FindByID(ctx context.Context, id int64) (*models.Product, error)
	List(ctx context.Context) ([]models.Product, error)
	Create(ctx context.Context, product *models.Product) (*models.Product, error)
	Update(ctx context.Context, product *models.Product) (*models.Product, error)
	Delete(ctx context.Context, id int64) error
}

type cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	ProductCacheKey(productID int64) string
	ProductListCacheKey() string
}

type service struct {
	repo     repository
	cache    cache
	cacheTTL time.Duration
	logg     *logger.Logger
}

// NewService builds a catalog service backed by the provided stack.
func NewService(repo repository, cache cache, cacheTTL time.Duration, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if cache == nil {
		return nil, fmt.Errorf("catalog cache required")
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &service{repo: repo, cache: cache, cacheTTL: cacheTTL, logg: logg}, nil
}

// Find returns one product, reading through the cache. A degraded cache
// never fails the read; the DB stays authoritative.
func (s *service) Find(ctx context.Context, id int64) (*models.Product, error) {
	key := s.cache.ProductCacheKey(id)
	raw, err := s.cache.Get(ctx, key)
	if err == nil {
		var product models.Product
		if jsonErr := json.Unmarshal([]byte(raw), &product); jsonErr == nil {
			return &product, nil
		}
		// Unreadable cache entry: fall through and let the DB result overwrite it.
	} else if !redisclient.IsNil(err) {
		s.warn(ctx, "catalog cache read failed, falling back to db")
	}

	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %d not found", id))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}

	s.fillCache(ctx, key, product)
	return product, nil
}

// List returns every product, cached as one entry.
func (s *service) List(ctx context.Context) ([]models.Product, error) {
	key := s.cache.ProductListCacheKey()
	raw, err := s.cache.Get(ctx, key)
	if err == nil {
		var out []models.Product
		if jsonErr := json.Unmarshal([]byte(raw), &out); jsonErr == nil {
			return out, nil
		}
	} else if !redisclient.IsNil(err) {
		s.warn(ctx, "catalog cache read failed, falling back to db")
	}

	out, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}

	s.fillCache(ctx, key, out)
	return out, nil
}

// Create inserts a product and invalidates the listing cache.
func (s *service) Create(ctx context.Context, input ProductInput) (*models.Product, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	product, err := s.repo.Create(ctx, &models.Product{Name: input.Name, Price: input.Price})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create product")
	}
	s.invalidate(ctx, product.ID)
	return product, nil
}

// Update rewrites a product and invalidates its cache entries.
func (s *service) Update(ctx context.Context, id int64, input ProductInput) (*models.Product, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %d not found", id))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}

	product.Name = input.Name
	product.Price = input.Price
	updated, err := s.repo.Update(ctx, product)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update product")
	}
	s.invalidate(ctx, id)
	return updated, nil
}

// Delete removes a product and invalidates its cache entries.
func (s *service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete product")
	}
	s.invalidate(ctx, id)
	return nil
}

func validateInput(input ProductInput) error {
	if input.Name == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product name is required")
	}
	if input.Price.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "product price cannot be negative")
	}
	return nil
}

func (s *service) fillCache(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
		s.warn(ctx, "catalog cache write failed")
	}
}

// invalidate drops both the per-product and the listing cache entries.
// Best effort: a failed invalidation leaves a stale read for at most the
// cache TTL, and carts snapshot price at mutation time anyway.
func (s *service) invalidate(ctx context.Context, id int64) {
	if err := s.cache.Del(ctx, s.cache.ProductCacheKey(id), s.cache.ProductListCacheKey()); err != nil {
		s.warn(ctx, "catalog cache invalidation failed")
	}
}

func (s *service) warn(ctx context.Context, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(ctx, msg)
}
