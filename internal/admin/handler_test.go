package admin_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/team-kenya/harambee/internal/admin"
	"github.com/team-kenya/harambee/internal/authz"
	"github.com/team-kenya/harambee/internal/csrf"
	"github.com/team-kenya/harambee/internal/identity"
	"github.com/team-kenya/harambee/internal/impersonate"
	"github.com/team-kenya/harambee/internal/observability"
	"github.com/team-kenya/harambee/internal/principal"
	_ "github.com/team-kenya/harambee/testing"
)

type fixture struct {
	repo   *identity.MemoryRepository
	router chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	guard := csrf.NewGuard(client, time.Hour)

	repo := identity.NewMemoryRepository()
	store := identity.NewService(repo, time.Second)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	imps := impersonate.NewService(client, store, guard, nil, logger, time.Hour)

	handler := admin.NewHandler(logger, store, imps, nil, nil)
	gate := authz.Middleware{Gate: authz.NewGate(), Logger: logger, Metrics: observability.NewMetrics()}

	r := chi.NewRouter()
	r.Route("/admin", func(r chi.Router) {
		handler.MountRoutes(r, gate)
	})
	return &fixture{repo: repo, router: r}
}

func (f *fixture) addUser(t *testing.T, id string, role principal.Role, active bool) {
	t.Helper()
	require.NoError(t, f.repo.Create(context.Background(), &identity.User{
		ID: id, Email: id + "@example.com", Role: role, IsActive: active,
	}))
}

func (f *fixture) do(req *http.Request, id string, role principal.Role) *httptest.ResponseRecorder {
	p := &principal.Principal{ID: id, Role: role, SessionID: "sess-" + id}
	req = req.WithContext(principal.ContextWith(req.Context(), p))
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	return res
}

func TestListUsersRoleGate(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "student-1", principal.RoleStudent, true)

	res := f.do(httptest.NewRequest(http.MethodGet, "/admin/users", nil), "student-1", principal.RoleStudent)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = f.do(httptest.NewRequest(http.MethodGet, "/admin/users", nil), "mentor-1", principal.RoleMentor)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = f.do(httptest.NewRequest(http.MethodGet, "/admin/users", nil), "admin-1", principal.RoleAdmin)
	require.Equal(t, http.StatusOK, res.Code)

	// SUPER_ADMIN passes the ADMIN gate via the hierarchy.
	res = f.do(httptest.NewRequest(http.MethodGet, "/admin/users", nil), "root-1", principal.RoleSuperAdmin)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestSuspendAndRestore(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "student-1", principal.RoleStudent, true)

	res := f.do(httptest.NewRequest(http.MethodPost, "/admin/users/student-1/suspend", nil), "admin-1", principal.RoleAdmin)
	require.Equal(t, http.StatusOK, res.Code)

	user, err := f.repo.FindByID(context.Background(), "student-1")
	require.NoError(t, err)
	require.False(t, user.IsActive)

	res = f.do(httptest.NewRequest(http.MethodPost, "/admin/users/student-1/restore", nil), "admin-1", principal.RoleAdmin)
	require.Equal(t, http.StatusOK, res.Code)

	user, err = f.repo.FindByID(context.Background(), "student-1")
	require.NoError(t, err)
	require.True(t, user.IsActive)

	// Admins cannot suspend themselves.
	res = f.do(httptest.NewRequest(http.MethodPost, "/admin/users/admin-1/suspend", nil), "admin-1", principal.RoleAdmin)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestChangeRoleRequiresActingSuperAdmin(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "student-1", principal.RoleStudent, true)

	body := strings.NewReader(`{"role":"MENTOR"}`)
	res := f.do(httptest.NewRequest(http.MethodPost, "/admin/users/student-1/role", body), "admin-1", principal.RoleAdmin)
	require.Equal(t, http.StatusForbidden, res.Code)

	body = strings.NewReader(`{"role":"MENTOR"}`)
	res = f.do(httptest.NewRequest(http.MethodPost, "/admin/users/student-1/role", body), "root-1", principal.RoleSuperAdmin)
	require.Equal(t, http.StatusOK, res.Code)

	user, err := f.repo.FindByID(context.Background(), "student-1")
	require.NoError(t, err)
	require.Equal(t, principal.RoleMentor, user.Role)

	// The gate decides on the acting identity: a super admin stays authorized
	// mid-impersonation even though the effective role is STUDENT.
	req := httptest.NewRequest(http.MethodPost, "/admin/users/student-1/role", strings.NewReader(`{"role":"ALUMNI"}`))
	p := &principal.Principal{
		ID: "student-1", Role: principal.RoleStudent, SessionID: "sess-root-1",
		Impersonator: &principal.Actor{ID: "root-1", Role: principal.RoleSuperAdmin},
	}
	req = req.WithContext(principal.ContextWith(req.Context(), p))
	res = httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestChangeRoleRejectsUnknownRole(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "student-1", principal.RoleStudent, true)

	body := strings.NewReader(`{"role":"ROOT"}`)
	res := f.do(httptest.NewRequest(http.MethodPost, "/admin/users/student-1/role", body), "root-1", principal.RoleSuperAdmin)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestImpersonationEndpoints(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "student-1", principal.RoleStudent, true)

	// Plain admins get the collapsed forbidden answer.
	res := f.do(httptest.NewRequest(http.MethodPost, "/admin/users/student-1/impersonate", nil), "admin-1", principal.RoleAdmin)
	require.Equal(t, http.StatusForbidden, res.Code)

	// So does a super admin aiming at a nonexistent target.
	res = f.do(httptest.NewRequest(http.MethodPost, "/admin/users/ghost/impersonate", nil), "root-1", principal.RoleSuperAdmin)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = f.do(httptest.NewRequest(http.MethodPost, "/admin/users/student-1/impersonate", nil), "root-1", principal.RoleSuperAdmin)
	require.Equal(t, http.StatusOK, res.Code)
	var started struct {
		CSRFToken     string `json:"csrfToken"`
		Impersonating struct {
			ID string `json:"id"`
		} `json:"impersonating"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &started))
	require.Equal(t, "student-1", started.Impersonating.ID)
	require.NotEmpty(t, started.CSRFToken)

	// Nesting on the same session conflicts.
	res = f.do(httptest.NewRequest(http.MethodPost, "/admin/users/student-1/impersonate", nil), "root-1", principal.RoleSuperAdmin)
	require.Equal(t, http.StatusConflict, res.Code)

	res = f.do(httptest.NewRequest(http.MethodPost, "/admin/impersonation/stop", nil), "root-1", principal.RoleSuperAdmin)
	require.Equal(t, http.StatusOK, res.Code)
	var stopped struct {
		CSRFToken string `json:"csrfToken"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &stopped))
	require.NotEqual(t, started.CSRFToken, stopped.CSRFToken)

	// Stopping twice is a client error, not a conflict.
	res = f.do(httptest.NewRequest(http.MethodPost, "/admin/impersonation/stop", nil), "root-1", principal.RoleSuperAdmin)
	require.Equal(t, http.StatusBadRequest, res.Code)
}
