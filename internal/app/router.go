package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/team-kenya/harambee/internal/admin"
	"github.com/team-kenya/harambee/internal/auth"
	"github.com/team-kenya/harambee/internal/authn"
	"github.com/team-kenya/harambee/internal/authz"
	"github.com/team-kenya/harambee/internal/csrf"
	"github.com/team-kenya/harambee/internal/notify"
	"github.com/team-kenya/harambee/internal/observability"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Config  *Config
	Authn   authn.Middleware
	Authz   authz.Middleware
	Guard   *csrf.Guard
	CSRF    csrf.Config
	Auth    *auth.Handler
	Notify  *notify.Handler
	Admin   *admin.Handler
	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with Harambee defaults. Public auth
// endpoints carry no session; everything else sits behind RequireAuth plus
// the CSRF guard.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Authn.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			// Tighter limit on the unauthenticated endpoints; the per-email
			// OTP cooldown still applies underneath.
			r.Group(func(r chi.Router) {
				r.Use(httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
				params.Auth.MountPublicRoutes(r)
			})
			r.Group(func(r chi.Router) {
				r.Use(params.Authn.RequireAuth)
				r.Use(csrf.Middleware(params.Guard, params.CSRF, params.Authn.Logger, params.Metrics))
				params.Auth.MountProtectedRoutes(r)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(params.Authn.RequireAuth)
			r.Use(csrf.Middleware(params.Guard, params.CSRF, params.Authn.Logger, params.Metrics))

			r.Route("/notifications", params.Notify.MountRoutes)
			r.Route("/admin", func(r chi.Router) {
				params.Admin.MountRoutes(r, params.Authz)
			})
		})
	})

	return r
}
