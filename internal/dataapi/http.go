// Package dataapi serves gray-release decisions: HTTP for the reverse
// proxy sub-request and the JSON API, gRPC for service callers.
package dataapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/bifrost/internal/decision"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/ruleengine"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// Response headers read by the proxy after the auth sub-request.
const (
	HeaderTarget   = "X-Gray-Target"
	HeaderUpstream = "X-Gray-Upstream"
	HeaderMatched  = "X-Gray-Matched"
	HeaderReason   = "X-Gray-Reason"
)

// FailOpenReason is the X-Gray-Reason of a fail-open auth answer.
const FailOpenReason = "rule store unavailable"

// DefaultRequestTimeout bounds one decision when none is configured.
const DefaultRequestTimeout = time.Second

// maxBodyBytes caps the decide payload.
const maxBodyBytes = 64 << 10

// Decider produces decisions. *decision.Service implements it.
type Decider interface {
	Decide(ctx context.Context, req ruleengine.RequestContext) (decision.Decision, error)
}

// Options tunes the HTTP API.
type Options struct {
	// RequestTimeout is the per-request decision deadline.
	RequestTimeout time.Duration
	// FailOpen makes /auth answer 200 with the stable target when the rule
	// store cannot be consulted, instead of 503.
	FailOpen bool
	// ServiceName is reported by the health endpoint.
	ServiceName string
}

// HTTPAPI holds the decision HTTP routes.
type HTTPAPI struct {
	Router *chi.Mux

	decider Decider
	logger  *slog.Logger
	opts    Options
}

// NewHTTPAPI builds the router. decider is mandatory.
func NewHTTPAPI(decider Decider, log *slog.Logger, opts Options) *HTTPAPI {
	validation.AssertNotNilInterface(decider, "decider")
	if log == nil {
		log = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "bifrost-data"
	}

	a := &HTTPAPI{
		Router:  chi.NewRouter(),
		decider: decider,
		logger:  log,
		opts:    opts,
	}
	a.configureRoutes()
	return a
}

func (a *HTTPAPI) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(observability.RequestLogger(a.logger))
	a.Router.Use(observability.HTTPMetrics(observability.DataPlaneHTTPDuration, observability.DataPlaneHTTPTotal))
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Route("/api/gray", func(r chi.Router) {
		r.Post("/decide", a.handleDecide)
		r.Get("/auth", a.handleAuth)
		r.Get("/health", a.handleHealth)
	})
}

// handleDecide serves POST /api/gray/decide.
func (a *HTTPAPI) handleDecide(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req DecideRequest
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	d, err := a.decide(r.Context(), req.RequestContext())
	if err != nil {
		status, resp := errorStatus(err)
		log.Error("decision failed", slog.String("error", err.Error()))
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toResponse(d))
}

// handleAuth serves the proxy sub-request. The decision is carried in the
// X-Gray-* headers; the status is 200 for both gray and stable outcomes.
func (a *HTTPAPI) handleAuth(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	d, err := a.decide(r.Context(), authRequestContext(r))
	if err != nil {
		if !a.opts.FailOpen {
			log.Error("auth decision failed, rejecting sub-request", slog.String("error", err.Error()))
			_, resp := errorStatus(err)
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, resp)
			return
		}

		log.Warn("auth decision failed, routing to stable", slog.String("error", err.Error()))
		d = decision.Default()
		d.Reason = FailOpenReason
	}

	h := w.Header()
	h.Set(HeaderTarget, d.TargetVersion)
	if d.TargetUpstream != nil {
		h.Set(HeaderUpstream, *d.TargetUpstream)
	}
	if d.MatchedRule != nil {
		h.Set(HeaderMatched, *d.MatchedRule)
	}
	h.Set(HeaderReason, d.Reason)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, AuthResponse{Status: "ok", Decision: toResponse(d)})
}

func (a *HTTPAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, HealthResponse{Status: "healthy", Service: a.opts.ServiceName})
}

func (a *HTTPAPI) decide(ctx context.Context, req ruleengine.RequestContext) (decision.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()
	return a.decider.Decide(ctx, req)
}

// authRequestContext extracts the routing inputs the proxy forwards.
func authRequestContext(r *http.Request) ruleengine.RequestContext {
	path := r.Header.Get("X-Original-URI")
	if path == "" {
		path = r.URL.Path
	}

	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		headers[name] = strings.Join(values, ", ")
	}

	cookies := make(map[string]string)
	for _, c := range r.Cookies() {
		if _, seen := cookies[c.Name]; !seen {
			cookies[c.Name] = c.Value
		}
	}

	return ruleengine.NewRequestContext(r.Header.Get("X-User-Id"), clientIP(r), path, headers, cookies)
}

// clientIP is X-Real-IP, else the first X-Forwarded-For hop, else "".
func clientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	return ""
}

// errorStatus maps a decision error to its HTTP status and body.
func errorStatus(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, decision.ErrTimeout):
		return http.StatusGatewayTimeout, ErrorResponse{Code: "ERR_TIMEOUT", Message: "Decision timed out"}
	case errors.Is(err, decision.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Code: "ERR_STORE_UNAVAILABLE", Message: "Rule store unavailable"}
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrorResponse{Code: "ERR_CANCELED", Message: "Request canceled"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Code: "ERR_INTERNAL", Message: "Decision failed"}
	}
}
