// Package router assembles the HTTP surface: the Traveltek webhook
// intake endpoint, the admin introspection routes, and the usual
// health/metrics endpoints — same middleware chain shape and ordering
// as the teacher's own router.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/traveltek-sync/ingestiond/admin"
	"github.com/traveltek-sync/ingestiond/config"
	gwmw "github.com/traveltek-sync/ingestiond/middleware"
	"github.com/traveltek-sync/ingestiond/observability"
	"github.com/traveltek-sync/ingestiond/webhook"
)

// NewRouter returns a configured chi Router with the full middleware
// chain and every route mounted. metrics may be nil (no /metrics
// route mounted in that case).
func NewRouter(cfg *config.Config, appLogger zerolog.Logger, webhookHandler *webhook.Handler, adminHandler *admin.Handler, metrics *observability.Metrics) http.Handler {
	r := chi.NewRouter()

	// --- Middleware chain (order matters) ---
	// 1. CORS — must be first so preflight responses succeed
	r.Use(gwmw.CORSMiddleware(cfg.CORSOrigins))

	// 2. Security headers
	r.Use(gwmw.SecurityHeadersMiddleware)

	// 2b. Header normalization — strip untrusted headers, force JSON
	// content negotiation, stamp the standard response header.
	r.Use(gwmw.NewHeaderNormalization(appLogger).Handler)

	// 3. Request ID injection (chi built-in)
	r.Use(chimw.RequestID)

	// 4. Panic recovery
	r.Use(chimw.Recoverer)

	// 5. Request logger
	r.Use(mwRequestLogger(appLogger))

	// 6. Body size limit
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	// 7. Request timeout ceiling
	r.Use(gwmw.NewTimeoutMiddleware(appLogger, cfg.RequestTimeout).Handler)

	// --- Health endpoints (no auth required) ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"ingestiond"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"ingestiond"}`))
	})

	// Prometheus metrics endpoint — no auth required
	if metrics != nil {
		r.Get("/metrics", metrics.Handler().ServeHTTP)
	}

	// --- Webhook intake: rate limited by caller IP, no auth. Traveltek
	// calls this anonymously; admission (dedup + pause flag) is the
	// only gate this endpoint has.
	webhookRateLimiter := gwmw.NewRateLimiter(appLogger, cfg.WebhookRateLimitEnabled, cfg.WebhookRateLimitRPM, cfg.WebhookRateLimitBurst)
	r.Route("/api/webhooks/traveltek", func(r chi.Router) {
		r.Use(webhookRateLimiter.Handler)
		r.Post("/cruiseline-pricing-updated", webhookHandler.CruiselinePricingUpdated)
	})

	// --- Admin introspection: single operator bearer token ---
	adminAuth := gwmw.NewAdminAuth(appLogger, cfg.AdminToken)
	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuth.Handler)
		r.Get("/flags", adminHandler.ListFlags)
		r.Post("/flags/{key}", adminHandler.SetFlag)
		r.Get("/pending-syncs", adminHandler.PendingSyncs)
	})

	return r
}

// mwMaxBodySize returns middleware that limits the request body size.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024 // default 1MB
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				http.Error(w, `{"error":"request_too_large","message":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Msg("request completed")
		})
	}
}
