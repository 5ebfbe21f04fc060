/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RealIP, RequestID: client address and per-request ID for tracing
  2. Logger:     Access log
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Timeout:    Request deadline, propagated through the context
  5. Secure:     Security headers (unrolled/secure)
  6. CORS:       Cross-origin requests for the frontend
  7. Rate limit: Per-IP, per minute (httprate)
  8. Metrics:    Request count and latency (Prometheus)

ROUTE GROUPS:
  /metrics         Prometheus scrape endpoint, no auth
  /api/healthz     Liveness, no auth
  /api/*           Everything else, bearer JWT

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
)

// RouterOptions configures the middleware around the handlers.
type RouterOptions struct {
	Auth            *Auth
	CORSOrigins     []string
	RateLimitPerMin int           // zero disables rate limiting
	RequestTimeout  time.Duration // zero means 60s
	Logger          *slog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	})

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if err := secureMiddleware.Process(w, req); err != nil {
				logger.Warn("secure headers blocked request", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))
	if opts.RateLimitPerMin > 0 {
		r.Use(httprate.Limit(opts.RateLimitPerMin, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
	}
	r.Use(h.Metrics.Middleware)

	r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", h.Healthz)

		r.Group(func(r chi.Router) {
			r.Use(opts.Auth.Middleware)

			r.Route("/imports", func(r chi.Router) {
				r.Post("/", h.CreateImport)
				r.Post("/xlsx", h.UploadImport)
				r.Get("/{id}", h.GetImport)
				r.Post("/{id}/apply", h.ApplyImport)
				r.Delete("/{id}", h.DiscardImport)
			})

			r.Route("/periods", func(r chi.Router) {
				r.Get("/", h.ListPeriods)
				r.Get("/{id}", h.GetPeriod)
				r.Post("/{id}/status", h.SetPeriodStatus)
				r.Delete("/{id}", h.DeletePeriod)
			})

			r.Route("/versions/{id}", func(r chi.Router) {
				r.Get("/", h.GetVersion)
				r.Get("/totals", h.GetTotals)
				r.Get("/totals/{worker}", h.GetWorkerTotal)
				r.Get("/edits", h.ListEdits)
				r.Get("/changes", h.ListChanges)
				r.Get("/alarms", h.ListAlarms)
				r.Get("/report.xlsx", h.GetReport)
				r.Post("/recalculate", h.Recalculate)
				r.Post("/orders", h.AddOrder)
			})

			r.Put("/orders/{id}", h.UpdateOrder)
			r.Delete("/orders/{id}", h.DeleteOrder)
			r.Post("/calculations/{id}", h.EditCalculation)
		})
	})

	return r
}
