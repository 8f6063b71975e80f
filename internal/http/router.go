package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gitea.jw6.us/james/washcal/internal/api"
	"gitea.jw6.us/james/washcal/internal/auth"
	"gitea.jw6.us/james/washcal/internal/http/ratelimit"
	"gitea.jw6.us/james/washcal/internal/logging"
	"gitea.jw6.us/james/washcal/internal/metrics"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators NewRouter wires together.
type Deps struct {
	API    *api.Handler
	Health HealthChecker
	Logger *zap.Logger
	// Limiter throttles mutating routes; nil disables throttling.
	Limiter *ratelimit.Limiter
	// Metrics exposes /metrics.
	Metrics bool
}

// NewRouter wires the scheduling API, the calendar feed and the probes.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.AccessLog(logger))
	r.Use(middleware.Recoverer)
	r.Use(overrideMethod)
	r.Use(metrics.Middleware())
	r.Use(auth.IdentifyCaller)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := d.Health.HealthCheck(ctx); err != nil {
			logger.Warn("readiness check failed", zap.Error(err))
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if d.Metrics {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	h := d.API
	limit := func(next http.Handler) http.Handler { return next }
	if d.Limiter != nil {
		limit = d.Limiter.Middleware()
	}

	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)

		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/", h.CreateEvent)
			r.Patch("/{id}", h.PatchEvent)
			r.Put("/{id}", h.ReplaceEvent)
			r.Delete("/{id}", h.DeleteEvent)
			r.Post("/{id}/status", h.TransitionStatus)
		})
	})

	r.With(auth.RequireCaller).Get("/me/appointments", h.MyAppointments)
	r.With(limit).Post("/availability/recurring", h.PublishRecurring)

	r.Route("/calendar", func(r chi.Router) {
		r.Get("/entries", h.CalendarEntries)
		r.Get("/feed.ics", h.Feed)
		// Subscriptions created before the feed was renamed.
		r.Get("/admin.ics", h.Feed)
	})

	return r
}

// overrideMethod lets clients that can only send POST tunnel PUT, PATCH and
// DELETE through X-HTTP-Method-Override or ?_method=.
func overrideMethod(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			m := strings.TrimSpace(r.Header.Get("X-HTTP-Method-Override"))
			if m == "" {
				m = strings.TrimSpace(r.URL.Query().Get("_method"))
			}
			switch strings.ToUpper(m) {
			case http.MethodPut, http.MethodPatch, http.MethodDelete:
				r.Method = strings.ToUpper(m)
			}
		}
		next.ServeHTTP(w, r)
	})
}
