// Package controlapi implements the admin REST API of the Bifrost Control
// Plane: CRUD over gray rules and their whitelist entries.
package controlapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/bifrost/internal/cache"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/store"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// DefaultInvalidationTimeout bounds the post-commit invalidation when
// Options leaves it unset.
const DefaultInvalidationTimeout = 2 * time.Second

// Options configures the admin API.
type Options struct {
	// APIKeyHash is the hex SHA-256 of the accepted API key.
	APIKeyHash string

	// SkipAuth disables authentication. Never set it in production.
	SkipAuth bool

	// InvalidationTimeout bounds the invalidation call that follows
	// every committed mutation, retries included.
	InvalidationTimeout time.Duration

	// Logger is the base request logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// API holds the dependencies and the router of the control plane.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	rules       store.RuleRepository
	invalidator cache.Invalidator

	apiKeyHash          string
	skipAuth            bool
	invalidationTimeout time.Duration
	log                 *slog.Logger
}

// NewAPI builds the admin API.
//
// Panics if repo or invalidator is nil, or if opts.APIKeyHash is empty
// while authentication is enabled.
func NewAPI(repo store.RuleRepository, invalidator cache.Invalidator, opts Options) *API {
	validation.AssertNotNilInterface(repo, "rule repository")
	validation.AssertNotNilInterface(invalidator, "invalidator")

	if !opts.SkipAuth && opts.APIKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}
	if opts.InvalidationTimeout <= 0 {
		opts.InvalidationTimeout = DefaultInvalidationTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &API{
		Router:              chi.NewRouter(),
		rules:               repo,
		invalidator:         invalidator,
		apiKeyHash:          opts.APIKeyHash,
		skipAuth:            opts.SkipAuth,
		invalidationTimeout: opts.InvalidationTimeout,
		log:                 opts.Logger,
	}

	a.configureRoutes()
	return a
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(observability.RequestLogger(a.log))
	a.Router.Use(observability.HTTPMetrics(
		observability.ControlPlaneReqDuration,
		observability.ControlPlaneReqTotal,
	))
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", a.handleListRules)
			r.Post("/", a.handleCreateRule)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetRule)
				r.Put("/", a.handleUpdateRule)
				r.Patch("/", a.handleUpdateRule)
				r.Delete("/", a.handleDeleteRule)
				r.Patch("/toggle", a.handleToggleRule)
				r.Get("/whitelist", a.handleListRuleWhitelist)
			})
		})

		r.Route("/whitelist", func(r chi.Router) {
			r.Post("/", a.handleCreateWhitelistEntry)
			r.Post("/batch", a.handleBatchWhitelist)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", a.handleDeleteWhitelistEntry)
				r.Patch("/toggle", a.handleToggleWhitelistEntry)
			})
		})
	})
}

// handleHealthCheck reports that the process is serving HTTP. Dependency
// checks live on the observability listener.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
