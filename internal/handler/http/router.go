package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shopstate/internal/store"
	"shopstate/pkg/health"
	"shopstate/pkg/middleware"
)

// NewRouter creates a chi router exposing the consumer contract of both
// stores, plus operational endpoints.
func NewRouter(
	cart *store.Cart,
	wishlist *store.Wishlist,
	healthHandler *health.Handler,
	logger *slog.Logger,
	corsCfg middleware.CORSConfig,
	pprofCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("shopstate"))
	r.Use(middleware.Tracing("shopstate"))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(corsCfg))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, pprofCIDRs, logger)

	cartHandler := NewCartHandler(cart, logger)
	wishlistHandler := NewWishlistHandler(wishlist, logger)

	r.Route("/api/v1/cart", func(r chi.Router) {
		// The watch stream lives outside the timeout group: it stays open
		// for the life of the consumer.
		r.Get("/watch", cartHandler.Watch)

		r.Group(func(r chi.Router) {
			r.Use(ContentTypeJSON)
			r.Use(chimw.Timeout(30 * time.Second))

			r.Get("/", cartHandler.Get)
			r.Delete("/", cartHandler.Clear)

			r.Post("/items", cartHandler.AddItem)
			r.Put("/items/{id}", cartHandler.UpdateQuantity)
			r.Delete("/items/{id}", cartHandler.RemoveItem)
		})
	})

	r.Route("/api/v1/wishlist", func(r chi.Router) {
		r.Get("/watch", wishlistHandler.Watch)

		r.Group(func(r chi.Router) {
			r.Use(ContentTypeJSON)
			r.Use(chimw.Timeout(30 * time.Second))

			r.Get("/", wishlistHandler.Get)
			r.Post("/items", wishlistHandler.AddItem)
			r.Delete("/items/{id}", wishlistHandler.RemoveItem)
		})
	})

	return r
}
