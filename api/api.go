// Package api exposes the authentication core over HTTP: the account and
// MFA flows under /auth, and the operational security surface (key
// rotation, SIEM dashboard, monitoring) under /security.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/awnumar/memguard"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"

	"github.com/patrickcsouzadev/todo-app/anomaly"
	"github.com/patrickcsouzadev/todo-app/audit"
	"github.com/patrickcsouzadev/todo-app/auth"
	"github.com/patrickcsouzadev/todo-app/keystore"
	"github.com/patrickcsouzadev/todo-app/siem"
	"github.com/patrickcsouzadev/todo-app/storage"
)

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies needed by the REST handlers.
type API struct {
	auth     *auth.Service
	keys     *keystore.Service
	audit    *audit.Logger
	detector *anomaly.Detector
	siem     *siem.Service
	repo     storage.Repository
	log      *slog.Logger

	// Operational secrets live in memguard enclaves so they are
	// encrypted at rest in process memory.
	cronSecret   *memguard.Enclave
	deploySecret *memguard.Enclave
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger. If not set, a default JSON
// logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.log = logger
	}
}

// WithCronSecret sets the bearer secret accepted on /security endpoints.
// The plaintext is sealed into an enclave and the argument is not retained.
func WithCronSecret(secret string) Option {
	return func(a *API) {
		if secret != "" {
			a.cronSecret = memguard.NewEnclave([]byte(secret))
		}
	}
}

// WithDeploySecret sets the bearer secret accepted on /security/deploy.
func WithDeploySecret(secret string) Option {
	return func(a *API) {
		if secret != "" {
			a.deploySecret = memguard.NewEnclave([]byte(secret))
		}
	}
}

// New creates a new API instance.
func New(authSvc *auth.Service, keys *keystore.Service, auditLog *audit.Logger, detector *anomaly.Detector, siemSvc *siem.Service, repo storage.Repository, opts ...Option) *API {
	a := &API{
		auth:     authSvc,
		keys:     keys,
		audit:    auditLog,
		detector: detector,
		siem:     siemSvc,
		repo:     repo,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/redoc",
	}, nil))

	r.Route("/auth", func(r chi.Router) {
		r.Use(a.RateTracking)
		r.Post("/register", a.Register)
		r.Post("/login", a.Login)
		r.Post("/logout", a.Logout)
		r.Get("/confirm", a.ConfirmEmail)
		r.Post("/request-reset", a.RequestPasswordReset)
		r.Post("/reset", a.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(a.RequireSession)
			r.Get("/me", a.Me)
			r.Post("/mfa/setup", a.SetupMFA)
			r.Post("/mfa/verify", a.VerifyMFA)
			r.Post("/mfa/disable", a.DisableMFA)
		})
	})

	r.Route("/security", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(a.RequireCronSecret)
			r.Post("/init", a.SecurityInit)
			r.Post("/rotate", a.RotateKeys)
			r.Get("/keys", a.ListSigningKeys)
			r.Get("/events", a.ListSecurityEvents)
			r.Post("/events/resolve", a.ResolveSecurityEvents)
			r.Get("/dashboard", a.SecurityDashboard)
			r.Get("/stats", a.SecurityStats)
			r.Get("/trends", a.SecurityTrends)
			r.Post("/monitor", a.SecurityMonitor)
			r.Post("/correlate", a.RunCorrelation)
			r.Post("/cleanup", a.SecurityCleanup)
		})
		r.With(a.RequireDeploySecret).Post("/deploy", a.DeployComplete)
	})

	return r
}
