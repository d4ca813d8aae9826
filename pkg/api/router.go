package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/opsim/internal/logger"
	"github.com/marmos91/opsim/pkg/metrics"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//   - Permissive CORS (the simulator is a local development tool)
//
// Routes:
//   - GET  /api/v1/health - Liveness plus simulator summary
//   - GET  /api/v1/profiles - Profile listing
//   - PUT  /api/v1/profiles/active - Profile switch
//   - GET  /api/v1/sessions - Live protocol sessions
//   - GET  /api/v1/traffic - Captured frames (limit, mid, session_id filters)
//   - GET  /api/v1/state - Full domain tree
//   - GET  /api/v1/state/{domain} - Single domain
//   - PUT  /api/v1/state/{domain} - Domain update
//   - POST /api/v1/events/{event_name} - Event injection
//   - GET  /api/v1/scenarios - Scenario listing
//   - POST /api/v1/scenarios/run - Scenario replay
//   - POST /api/v1/reset - State reset
//   - GET  /api/v1/capabilities - Capability matrix
//   - GET  /metrics - Prometheus metrics (when enabled)
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Get("/profiles", h.GetProfiles)
		r.Put("/profiles/active", h.SetActiveProfile)

		r.Get("/sessions", h.GetSessions)
		r.Get("/traffic", h.GetTraffic)

		r.Get("/state", h.GetFullState)
		r.Get("/state/{domain}", h.GetStateDomain)
		r.Put("/state/{domain}", h.PutStateDomain)

		r.Post("/events/{event_name}", h.PostEvent)

		r.Get("/scenarios", h.ListScenarios)
		r.Post("/scenarios/run", h.RunScenario)

		r.Post("/reset", h.Reset)
		r.Get("/capabilities", h.Capabilities)
	})

	if metrics.IsEnabled() {
		r.Get("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP)
	}

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/v1/health", http.StatusTemporaryRedirect)
	})

	return r
}

// corsMiddleware allows cross-origin requests from any origin. The control
// plane is meant to be driven by local tooling and browser dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Health and metrics requests are logged at DEBUG level to reduce noise
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		if isQuietPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}

// isQuietPath returns true for endpoints polled by probes and scrapers.
func isQuietPath(path string) bool {
	return path == "/api/v1/health" || path == "/metrics"
}
