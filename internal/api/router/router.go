package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/medspa-telehealth/internal/apperr"
	"github.com/wolfman30/medspa-telehealth/internal/artifacts"
	httpmiddleware "github.com/wolfman30/medspa-telehealth/internal/http/middleware"
	"github.com/wolfman30/medspa-telehealth/internal/patientlink"
	"github.com/wolfman30/medspa-telehealth/internal/summary"
	"github.com/wolfman30/medspa-telehealth/internal/telehealth"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	SessionHandler     *telehealth.Handler
	ArtifactHandler    *artifacts.Handler
	SummaryHandler     *summary.Handler
	PatientLinkHandler *patientlink.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Auth replaces the JWT middleware; tests use it to inject callers.
	Auth              func(http.Handler) http.Handler
	AuthJWTSecret     string
	PatientLinkSecret string

	// SummaryLimiter throttles summary generation per caller (optional).
	SummaryLimiter *httpmiddleware.RateLimiter

	// HealthChecks are probed by /health; any failure reports 503.
	HealthChecks map[string]func(context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks, logger))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	auth := cfg.Auth
	if auth == nil {
		auth = httpmiddleware.CallerJWT(cfg.AuthJWTSecret, cfg.PatientLinkSecret, logger)
	}

	r.Group(func(protected chi.Router) {
		protected.Use(auth)

		if h := cfg.SessionHandler; h != nil {
			protected.Post("/sessions", h.Create)
			protected.Get("/appointments/{id}/session", h.GetByAppointment)
			protected.Route("/sessions/{id}", func(s chi.Router) {
				s.Get("/", h.Get)
				s.Get("/events", h.Watch)
				s.Post("/join", h.Join)
				s.Post("/activate", h.Activate)
				s.Post("/end", h.End)
				s.Post("/cancel", h.Cancel)
				s.Post("/consent", h.Consent)

				if a := cfg.ArtifactHandler; a != nil {
					s.Post("/transcript", a.AppendTranscript)
					s.Post("/chat", a.PostChat)
					s.Put("/notes", a.PutNotes)
				}
				if sh := cfg.SummaryHandler; sh != nil {
					generate := http.Handler(http.HandlerFunc(sh.Generate))
					if cfg.SummaryLimiter != nil {
						generate = httpmiddleware.CallerRateLimit(cfg.SummaryLimiter, logger)(generate)
					}
					s.Method(http.MethodPost, "/summary", generate)
					s.Get("/summary", sh.Status)
				}
			})
		}
		if cfg.PatientLinkHandler != nil {
			protected.Post("/appointments/{id}/patient-link", cfg.PatientLinkHandler.Issue)
		}
	})

	return r
}

func healthHandler(checks map[string]func(context.Context) error, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		resp := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("health check failed", "check", name, "error", err)
				resp[name] = "unavailable"
				resp["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp[name] = "ok"
		}
		apperr.WriteJSON(w, status, resp)
	}
}
