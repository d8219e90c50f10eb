package authz

import (
	"log/slog"
	"net/http"

	"github.com/team-kenya/harambee/internal/observability"
	"github.com/team-kenya/harambee/internal/platform/httpx"
	"github.com/team-kenya/harambee/internal/principal"
)

// Middleware wires the role gate into chi route declarations.
type Middleware struct {
	Gate    *Gate
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// RequireRoles allows only the listed roles (plus whatever the hierarchy
// implies) through to the handler.
func (m Middleware) RequireRoles(allowed ...principal.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := principal.FromContext(r.Context())
			if p == nil {
				m.Metrics.AuthDecision("authorize", "deny", "no_principal")
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			if err := m.Gate.Authorize(p, allowed...); err != nil {
				m.deny(w, r, p)
				return
			}
			m.Metrics.AuthDecision("authorize", "allow", "")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOperation gates a route by operation class, honouring the
// acting-role exemptions for impersonated sessions.
func (m Middleware) RequireOperation(class string, allowed ...principal.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := principal.FromContext(r.Context())
			if p == nil {
				m.Metrics.AuthDecision("authorize", "deny", "no_principal")
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			if err := m.Gate.AuthorizeOperation(p, class, allowed...); err != nil {
				m.deny(w, r, p)
				return
			}
			m.Metrics.AuthDecision("authorize", "allow", "")
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, p *principal.Principal) {
	if m.Logger != nil {
		m.Logger.Warn("authorization denied",
			slog.String("path", r.URL.Path),
			slog.String("role", string(p.Role)),
			slog.Bool("impersonated", p.Impersonated()))
	}
	m.Metrics.AuthDecision("authorize", "deny", "role_denied")
	httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
}
