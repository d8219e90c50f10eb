package csrf

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/team-kenya/harambee/internal/observability"
	"github.com/team-kenya/harambee/internal/platform/httpx"
	"github.com/team-kenya/harambee/internal/principal"
)

// HeaderName is the request header carrying the candidate token.
const HeaderName = "X-CSRF-Token"

// Config declares which requests the guard protects.
type Config struct {
	// Methods defaults to the mutating verbs.
	Methods []string
	// ExcludedPaths lists public endpoints that carry no session, e.g. the
	// OTP request endpoint. An entry ending in "/*" matches by prefix.
	ExcludedPaths []string
}

// DefaultMethods are the verbs that change state.
func DefaultMethods() []string {
	return []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
}

func (c Config) protects(method string) bool {
	methods := c.Methods
	if len(methods) == 0 {
		methods = DefaultMethods()
	}
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (c Config) excluded(path string) bool {
	for _, p := range c.ExcludedPaths {
		if strings.HasSuffix(p, "/*") {
			if strings.HasPrefix(path, strings.TrimSuffix(p, "/*")) {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

// Middleware verifies the anti-forgery token on protected requests. It must
// run after principal resolution; without a resolved session it fails closed.
func Middleware(guard *Guard, cfg Config, logger *slog.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.protects(r.Method) || cfg.excluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			p := principal.FromContext(r.Context())
			if p == nil || p.SessionID == "" {
				metrics.AuthDecision("csrf", "deny", "no_session")
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
				return
			}
			if err := guard.Verify(r.Context(), p.SessionID, r.Header.Get(HeaderName)); err != nil {
				if logger != nil {
					logger.Warn("csrf validation failed",
						slog.String("path", r.URL.Path),
						slog.Any("error", err))
				}
				metrics.AuthDecision("csrf", "deny", reason(err))
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
				return
			}
			metrics.AuthDecision("csrf", "allow", "")
			next.ServeHTTP(w, r)
		})
	}
}

func reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTokenMissing):
		return "missing"
	case errors.Is(err, ErrTokenMismatch):
		return "mismatch"
	default:
		return "store_unavailable"
	}
}
