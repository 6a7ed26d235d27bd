package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/hlog"

	"github.com/boolearner/boolearner/pkg/engine"
	"github.com/boolearner/boolearner/pkg/policy"
	"github.com/boolearner/boolearner/pkg/telemetry"
)

// HealthChecker reports whether the backing store can serve requests.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Router wires HTTP routes to the resource coordinator.
type Router struct {
	coordinator *engine.Coordinator
	health      HealthChecker
	policies    *policy.Engine
	tel         *telemetry.Telemetry
	logger      *telemetry.Logger
	validate    *validator.Validate
	corsOrigins []string
}

// Option configures a Router.
type Option func(*Router)

// WithHealthChecker makes /ready probe h.
func WithHealthChecker(h HealthChecker) Option {
	return func(rt *Router) {
		rt.health = h
	}
}

// WithPolicies exposes the loaded admission policies under /api/policies.
func WithPolicies(p *policy.Engine) Option {
	return func(rt *Router) {
		rt.policies = p
	}
}

// WithTelemetry sets the logger and metrics used for access logging.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(rt *Router) {
		if tel != nil {
			rt.tel = tel
		}
	}
}

// WithCORSOrigins sets the allowed CORS origins. The default allows any origin.
// Credentials are only allowed when no origin is the "*" wildcard.
func WithCORSOrigins(origins []string) Option {
	return func(rt *Router) {
		rt.corsOrigins = origins
	}
}

// NewRouter creates a new router instance
func NewRouter(coordinator *engine.Coordinator, opts ...Option) *Router {
	rt := &Router{
		coordinator: coordinator,
		tel:         telemetry.Noop(),
		validate:    validator.New(),
		corsOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger = rt.tel.Logger.NewComponentLogger("api")
	return rt
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(hlog.NewHandler(rt.logger.Zerolog()))
	router.Use(hlog.AccessHandler(rt.logAccess))
	router.Use(chimiddleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !slices.Contains(rt.corsOrigins, "*"),
		MaxAge:           300,
	}))

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	router.Method(http.MethodGet, "/metrics", rt.tel.Metrics.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Route("/resources", func(r chi.Router) {
			r.Post("/", rt.createResource)
			r.Get("/", rt.listResources)
			r.Get("/search", rt.searchResources)
			r.Get("/levels", rt.resourceLevels)
			r.Get("/graph", rt.resourceGraph)
			r.Get("/{id}", rt.getResource)
			r.Put("/{id}", rt.updateResource)
			r.Patch("/{id}/completed", rt.setCompleted)
			r.Delete("/{id}", rt.deleteResource)
		})

		r.Get("/policies", rt.listPolicies)
	})

	return router
}

// logAccess logs each request and counts it by route pattern, so IDs in the
// path don't explode metric cardinality.
func (rt *Router) logAccess(r *http.Request, status, size int, duration time.Duration) {
	route := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		route = rctx.RoutePattern()
	}

	rt.tel.Metrics.RecordHTTPRequest(r.Method, route, status)

	event := hlog.FromRequest(r).Info()
	if status >= http.StatusInternalServerError {
		event = hlog.FromRequest(r).Error()
	}
	event.
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("route", route).
		Int("status", status).
		Int("bytes", size).
		Dur("duration", duration).
		Str("request_id", chimiddleware.GetReqID(r.Context())).
		Msg("HTTP request")
}

func (rt *Router) healthCheck(w http.ResponseWriter, _ *http.Request) {
	rt.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	if rt.health != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		if err := rt.health.HealthCheck(ctx); err != nil {
			rt.logger.WithError(err).Warn("readiness check failed")
			rt.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	rt.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
