package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/team-kenya/harambee/internal/admin"
	"github.com/team-kenya/harambee/internal/app"
	"github.com/team-kenya/harambee/internal/auth"
	"github.com/team-kenya/harambee/internal/authn"
	"github.com/team-kenya/harambee/internal/authz"
	"github.com/team-kenya/harambee/internal/csrf"
	"github.com/team-kenya/harambee/internal/identity"
	"github.com/team-kenya/harambee/internal/impersonate"
	"github.com/team-kenya/harambee/internal/notify"
	"github.com/team-kenya/harambee/internal/observability"
	"github.com/team-kenya/harambee/internal/otp"
	"github.com/team-kenya/harambee/internal/principal"
	"github.com/team-kenya/harambee/internal/token"
	_ "github.com/team-kenya/harambee/testing"
)

type captureQueue struct {
	mu   sync.Mutex
	body []string
}

func (q *captureQueue) EnqueueNotificationEmail(_ context.Context, _, _, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.body = append(q.body, body)
	return nil
}

func (q *captureQueue) lastCode(t *testing.T) string {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	require.NotEmpty(t, q.body)
	return q.body[len(q.body)-1]
}

type stubNotifyRepo struct{}

func (stubNotifyRepo) Create(context.Context, *notify.Notification) error { return nil }
func (stubNotifyRepo) ListForUser(context.Context, string, bool, int, int) ([]notify.Notification, error) {
	return nil, nil
}
func (stubNotifyRepo) MarkRead(context.Context, string, string) error { return notify.ErrNotFound }
func (stubNotifyRepo) MarkAllRead(context.Context, string) (int64, error) {
	return 0, nil
}

type env struct {
	server *httptest.Server
	queue  *captureQueue
	repo   *identity.MemoryRepository
	mr     *miniredis.Miniredis
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	keys, err := token.NewKeyset("router-secret")
	require.NoError(t, err)
	codec := token.NewCodec(keys, 15*time.Minute, 24*time.Hour)

	repo := identity.NewMemoryRepository()
	store := identity.NewService(repo, time.Second)
	guard := csrf.NewGuard(client, time.Hour)
	codes := otp.NewService(client)
	metrics := observability.NewMetrics()

	impersonator := impersonate.NewService(client, store, guard, nil, logger, time.Hour)
	resolver := authn.NewResolver(codec, store, impersonator)
	queue := &captureQueue{}

	authService := auth.NewService(codec, resolver, store, codes, guard, queue, nil, impersonator, logger)

	router := app.NewRouter(app.RouterParams{
		Config: &app.Config{AppRequestTimeout: 5 * time.Second},
		Authn:  authn.Middleware{Resolver: resolver, Logger: logger, Metrics: metrics},
		Authz:  authz.Middleware{Gate: authz.NewGate(), Logger: logger, Metrics: metrics},
		Guard:  guard,
		CSRF: csrf.Config{
			ExcludedPaths: []string{"/api/auth/signup", "/api/auth/request-otp", "/api/auth/verify-otp", "/api/auth/refresh"},
		},
		Auth:    auth.NewHandler(logger, authService),
		Notify:  notify.NewHandler(logger, notify.NewService(stubNotifyRepo{}, queue, logger)),
		Admin:   admin.NewHandler(logger, store, impersonator, nil, nil),
		Metrics: metrics,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &env{server: server, queue: queue, repo: repo, mr: mr}
}

func (e *env) postJSON(t *testing.T, path string, payload any, decorate func(*http.Request)) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if decorate != nil {
		decorate(req)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return res
}

type sessionPayload struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	CSRFToken    string `json:"csrfToken"`
	User         struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
}

func (e *env) signupAndLogin(t *testing.T, email string) sessionPayload {
	t.Helper()
	res := e.postJSON(t, "/api/auth/signup", map[string]string{
		"email": email, "firstName": "Jane", "lastName": "Wanjiku", "school": "Alliance High",
	}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	res.Body.Close()

	res = e.postJSON(t, "/api/auth/verify-otp", map[string]string{
		"email": email, "code": e.queue.lastCode(t),
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	defer res.Body.Close()

	var session sessionPayload
	require.NoError(t, json.NewDecoder(res.Body).Decode(&session))
	return session
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	res, err := http.Get(e.server.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestLoginFlowOverHTTP(t *testing.T) {
	e := newEnv(t)
	session := e.signupAndLogin(t, "jane@example.com")
	require.NotEmpty(t, session.AccessToken)
	require.Equal(t, "STUDENT", session.User.Role)

	// /me with the bearer token.
	req, err := http.NewRequest(http.MethodGet, e.server.URL+"/api/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	// Without it.
	res2, err := http.Get(e.server.URL + "/api/auth/me")
	require.NoError(t, err)
	defer res2.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res2.StatusCode)
}

func TestLogoutRequiresCSRF(t *testing.T) {
	e := newEnv(t)
	session := e.signupAndLogin(t, "jane@example.com")

	// Authenticated but without the CSRF header.
	res := e.postJSON(t, "/api/auth/logout", map[string]string{}, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	})
	res.Body.Close()
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	// With it.
	res = e.postJSON(t, "/api/auth/logout", map[string]string{}, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+session.AccessToken)
		req.Header.Set(csrf.HeaderName, session.CSRFToken)
	})
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRefreshOverHTTP(t *testing.T) {
	e := newEnv(t)
	session := e.signupAndLogin(t, "jane@example.com")

	res := e.postJSON(t, "/api/auth/refresh", map[string]string{"refreshToken": session.RefreshToken}, nil)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var next sessionPayload
	require.NoError(t, json.NewDecoder(res.Body).Decode(&next))
	require.NotEqual(t, session.RefreshToken, next.RefreshToken)

	// The replaced token is dead.
	res2 := e.postJSON(t, "/api/auth/refresh", map[string]string{"refreshToken": session.RefreshToken}, nil)
	res2.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res2.StatusCode)
}

func TestAdminSurfaceGatedOverHTTP(t *testing.T) {
	e := newEnv(t)
	session := e.signupAndLogin(t, "jane@example.com")

	req, err := http.NewRequest(http.MethodGet, e.server.URL+"/api/admin/users", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	// Promote and refresh: the new access token passes the gate.
	require.NoError(t, e.repo.SetRole(context.Background(), session.User.ID, principal.RoleAdmin))
	resRefresh := e.postJSON(t, "/api/auth/refresh", map[string]string{"refreshToken": session.RefreshToken}, nil)
	defer resRefresh.Body.Close()
	require.Equal(t, http.StatusOK, resRefresh.StatusCode)
	var next sessionPayload
	require.NoError(t, json.NewDecoder(resRefresh.Body).Decode(&next))

	req, err = http.NewRequest(http.MethodGet, e.server.URL+"/api/admin/users", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+next.AccessToken)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}
