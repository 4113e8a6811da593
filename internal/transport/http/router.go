package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"aircast/internal/handler"
	"aircast/internal/httputil"
	ratemw "aircast/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	SubscriptionHandler *handler.SubscriptionHandler
	AirQualityHandler   *handler.AirQualityHandler
}

// NewRouter creates and configures a new Chi router with all route groups
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// Health check endpoint (useful for deployment/monitoring)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})

	// Subscription identity & lifecycle
	r.Post("/subscribe", cfg.SubscriptionHandler.Subscribe)
	r.Put("/subscription/{id}", cfg.SubscriptionHandler.Update)
	r.Delete("/subscription/{id}", cfg.SubscriptionHandler.Delete)
	r.Get("/subscriptions", cfg.SubscriptionHandler.List)

	// Session bootstrap runs the O(n) token scan; keep it rate limited.
	checkLimiter := ratemw.NewRateLimiter(rate.Limit(1), 5)
	r.With(checkLimiter.Middleware).Post("/check-subscription", cfg.SubscriptionHandler.CheckSubscription)

	// Push configuration & operational triggers
	r.Get("/vapid-key", cfg.SubscriptionHandler.VapidKey)
	r.Post("/test-notification", cfg.SubscriptionHandler.TestNotification)
	r.Post("/test/notify/{id}", cfg.SubscriptionHandler.TestNotifyByID)

	// Air quality proxy (upstream key stays server-side)
	r.Route("/air", func(r chi.Router) {
		r.Get("/locations", cfg.AirQualityHandler.SearchLocations)
		r.Get("/locations/{id}", cfg.AirQualityHandler.GetLocation)
	})

	return r
}
