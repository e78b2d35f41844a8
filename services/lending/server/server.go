package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"blendrates/observability"
	"blendrates/services/lending/engine"
	"blendrates/services/lendingd/config"
)

// Route patterns, also used as metric labels.
const (
	routeHealth       = "/healthz"
	routeMetrics      = "/metrics"
	routeRates        = "/v1/rates"
	routeValidate     = "/v1/curves/validate"
	routeModifier     = "/v1/reserves/{id}/modifier"
	routeObservations = "/v1/reserves/{id}/observations"
	routeHistory      = "/v1/reserves/{id}/history"
)

// Config wires the server's security policies.
type Config struct {
	ServiceName string
	Auth        config.AuthConfig
	RateLimit   config.RateLimitConfig
}

// Server exposes the rate engine over HTTP.
type Server struct {
	engine  engine.Engine
	logger  *slog.Logger
	auth    *authenticator
	limiter *rateLimiter
	metrics *observability.HTTPMetrics
	name    string
}

// New constructs a new rates HTTP server.
func New(eng engine.Engine, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "lendingd"
	}
	metrics := observability.HTTP()
	return &Server{
		engine:  eng,
		logger:  logger,
		auth:    newAuthenticator(cfg.Auth, logger),
		limiter: newRateLimiter(cfg.RateLimit, metrics),
		metrics: metrics,
		name:    name,
	}
}

// Handler returns the root handler with tracing applied.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.Router(), s.name)
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.recoverer)

	r.With(s.instrument(routeHealth)).Get(routeHealth, s.handleHealth)
	r.Handle(routeMetrics, promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.With(s.instrument(routeRates)).Post(routeRates, s.handleRates)
		r.With(s.instrument(routeValidate)).Post(routeValidate, s.handleValidateCurve)
		r.With(s.instrument(routeModifier)).Get(routeModifier, s.handleGetModifier)
		r.With(s.instrument(routeHistory)).Get(routeHistory, s.handleHistory)
		r.With(s.instrument(routeObservations), s.auth.Middleware).Post(routeObservations, s.handleObserve)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
