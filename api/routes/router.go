package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cartlyhq/cartly-backend/api/controllers"
	cartcontrollers "github.com/cartlyhq/cartly-backend/api/controllers/cart"
	"github.com/cartlyhq/cartly-backend/api/middleware"
	cartsvc "github.com/cartlyhq/cartly-backend/internal/cart"
	"github.com/cartlyhq/cartly-backend/internal/products"
	"github.com/cartlyhq/cartly-backend/pkg/config"
	"github.com/cartlyhq/cartly-backend/pkg/db"
	"github.com/cartlyhq/cartly-backend/pkg/logger"
	"github.com/cartlyhq/cartly-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	productService products.Service,
	cartService cartsvc.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, controllers.ReadinessDeps(dbClient, redisClient)))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartcontrollers.CartFetch(cartService, logg))
			r.Post("/", cartcontrollers.CartSetItem(cartService, logg))
			r.Patch("/add_item", cartcontrollers.CartSetItem(cartService, logg))
			r.Delete("/{productId}", cartcontrollers.CartRemoveItem(cartService, logg))
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", controllers.ProductList(productService, logg))
			r.Post("/", controllers.ProductCreate(productService, logg))
			r.Get("/{productId}", controllers.ProductFetch(productService, logg))
			r.Put("/{productId}", controllers.ProductUpdate(productService, logg))
			r.Delete("/{productId}", controllers.ProductDelete(productService, logg))
		})
	})

	return r
}
