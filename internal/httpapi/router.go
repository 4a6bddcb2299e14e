// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

// Package httpapi exposes the credential flows over JSON/HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/oklog/ulid/v2"

	"github.com/vendorhub/vendorhub/internal/auth"
)

// Service is the subset of auth.Service used by the handlers.
type Service interface {
	Signup(ctx context.Context, in auth.SignupInput) (ulid.ULID, error)
	Login(ctx context.Context, email, password string) (string, error)
	SendEmailVerification(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, token string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	RevokeToken(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (*auth.User, error)
}

var _ Service = (*auth.Service)(nil)

// RequestObserver records served requests.
type RequestObserver interface {
	ObserveRequest(route string, status int, elapsed time.Duration)
}

// Options configures the router middleware.
type Options struct {
	// CORSOrigins are the allowed origins. Empty allows any origin.
	CORSOrigins []string
	// RateLimit is the number of requests per minute per client IP. Zero disables limiting.
	RateLimit int
	// RequestTimeout bounds each request. Zero disables the timeout.
	RequestTimeout time.Duration

	Observer RequestObserver
	Logger   *slog.Logger
}

type handler struct {
	svc    Service
	logger *slog.Logger
}

// NewRouter builds the public API router.
func NewRouter(svc Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: svc, logger: logger}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	if opts.Observer != nil {
		r.Use(observeRequests(opts.Observer))
	}
	r.Use(chimw.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(chimw.Timeout(opts.RequestTimeout))
	}
	if opts.RateLimit > 0 {
		r.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.signup)
		r.Post("/signin", h.signin)
		r.Post("/send-email-verification", h.sendEmailVerification)
		r.Post("/email-verification", h.verifyEmail)
		r.Post("/forgot-password", h.forgotPassword)
		r.Post("/reset-password", h.resetPassword)
		r.Post("/revoke-token", h.revokeToken)
	})
	r.Get("/users/current", h.currentUser)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errorBody{Code: "ROUTE_NOT_FOUND", Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errorBody{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
	})

	return r
}

// routePattern returns the matched chi pattern so metrics labels stay bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func observeRequests(o RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				o.ObserveRequest(routePattern(r), statusOf(ww), time.Since(start))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.InfoContext(r.Context(), "http request",
					"method", r.Method,
					"route", routePattern(r),
					"status", statusOf(ww),
					"duration", time.Since(start),
					"request_id", chimw.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// statusOf reports 200 for handlers that wrote a body without an explicit status.
func statusOf(ww chimw.WrapResponseWriter) int {
	if status := ww.Status(); status != 0 {
		return status
	}
	return http.StatusOK
}
