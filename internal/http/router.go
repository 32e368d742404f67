package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/assistant-calendar/internal/logging"
)

// HealthCheck reports whether a backing dependency is usable.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Meetings *MeetingHandler
	Sessions TokenValidator
	Logger   *slog.Logger
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	Health  HealthCheck
	// Middleware wraps every route after request id, logging and recovery.
	Middleware     []func(http.Handler) http.Handler
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := logging.OrDefault(cfg.Logger)
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(RequestLogger(logger))
	router.Use(middleware.Recoverer)
	for _, mw := range cfg.Middleware {
		if mw != nil {
			router.Use(mw)
		}
	}
	router.Use(middleware.Timeout(timeout))

	router.Get("/healthz", healthHandler(cfg.Health, newResponder(logger)))
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	if cfg.Auth != nil {
		router.Post("/login", cfg.Auth.Login)
		router.Post("/logout", cfg.Auth.Logout)
		router.Post("/password-reset/request", cfg.Auth.RequestPasswordReset)
		router.Post("/password-reset/confirm", cfg.Auth.ConfirmPasswordReset)
	}

	router.Group(func(r chi.Router) {
		if cfg.Sessions != nil {
			r.Use(RequireSession(cfg.Sessions, logger))
		}

		if cfg.Meetings != nil {
			r.Route("/meetings", func(r chi.Router) {
				r.Post("/", cfg.Meetings.Schedule)
				r.Get("/available-slots", cfg.Meetings.AvailableSlots)
				r.Post("/available-slots", cfg.Meetings.AvailableSlots)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", cfg.Meetings.Get)
					r.Post("/cancel", cfg.Meetings.Cancel)
					r.Put("/time", cfg.Meetings.Reschedule)
					r.Post("/start", cfg.Meetings.Start)
					r.Post("/complete", cfg.Meetings.Complete)
					r.Post("/respond", cfg.Meetings.Respond)
				})
			})
			r.Get("/users/{id}/schedule", cfg.Meetings.UserSchedule)
		}

		if cfg.Users != nil {
			r.Get("/users", cfg.Users.List)
			r.Post("/users", cfg.Users.Create)
		}
	})

	return router
}

func healthHandler(check HealthCheck, responder responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				responder.loggerFor(r.Context()).WarnContext(r.Context(), "health check failed", "error", err)
				responder.writeJSON(r.Context(), w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		responder.writeJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

type healthResponse struct {
	Status string `json:"status"`
}
