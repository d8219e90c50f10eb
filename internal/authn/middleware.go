package authn

import (
	"log/slog"
	"net/http"

	"github.com/team-kenya/harambee/internal/observability"
	"github.com/team-kenya/harambee/internal/platform/httpx"
	"github.com/team-kenya/harambee/internal/principal"
)

// Middleware resolves the request principal and stores it in context.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// RequireAuth rejects requests without a verifiable access token. The error
// kind is logged and counted but never echoed to the caller.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.Resolver.Resolve(r)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Warn("authentication failed",
					slog.String("path", r.URL.Path),
					slog.String("reason", Reason(err)))
			}
			m.Metrics.AuthDecision("resolve", "deny", Reason(err))
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		m.Metrics.AuthDecision("resolve", "allow", "")
		ctx := principal.ContextWith(r.Context(), p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Resolve attaches the principal when one is present but lets anonymous
// requests through. Used on mixed routers where public endpoints share the
// middleware chain with protected ones.
func (m Middleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, err := m.Resolver.Resolve(r); err == nil {
			r = r.WithContext(principal.ContextWith(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}
