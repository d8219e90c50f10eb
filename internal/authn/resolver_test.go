package authn_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/team-kenya/harambee/internal/authn"
	"github.com/team-kenya/harambee/internal/identity"
	"github.com/team-kenya/harambee/internal/principal"
	"github.com/team-kenya/harambee/internal/token"
	_ "github.com/team-kenya/harambee/testing"
)

type markerStub struct {
	imp *principal.Impersonation
	err error
}

func (m markerStub) Marker(context.Context, string) (*principal.Impersonation, error) {
	return m.imp, m.err
}

func newCodec(t *testing.T) *token.Codec {
	t.Helper()
	keys, err := token.NewKeyset("resolver-secret")
	require.NoError(t, err)
	return token.NewCodec(keys, 15*time.Minute, 24*time.Hour)
}

func bearerRequest(raw string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if raw != "" {
		req.Header.Set("Authorization", "Bearer "+raw)
	}
	return req
}

func TestResolveMissingToken(t *testing.T) {
	codec := newCodec(t)
	resolver := authn.NewResolver(codec, identity.NewService(identity.NewMemoryRepository(), time.Second), nil)

	_, err := resolver.Resolve(bearerRequest(""))
	require.ErrorIs(t, err, authn.ErrMissingToken)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Basic abc123")
	_, err = resolver.Resolve(req)
	require.ErrorIs(t, err, authn.ErrMissingToken)
}

func TestResolveAccessToken(t *testing.T) {
	codec := newCodec(t)
	resolver := authn.NewResolver(codec, identity.NewService(identity.NewMemoryRepository(), time.Second), markerStub{})

	raw, err := codec.Issue("user-1", principal.RoleMentor, "sess-1", token.KindAccess)
	require.NoError(t, err)

	p, err := resolver.Resolve(bearerRequest(raw))
	require.NoError(t, err)
	require.Equal(t, "user-1", p.ID)
	require.Equal(t, principal.RoleMentor, p.Role)
	require.Equal(t, "sess-1", p.SessionID)
	require.False(t, p.Impersonated())
}

func TestResolveRejectsRefreshTokenOnAccessPath(t *testing.T) {
	codec := newCodec(t)
	resolver := authn.NewResolver(codec, identity.NewService(identity.NewMemoryRepository(), time.Second), nil)

	refresh, err := codec.Issue("user-1", principal.RoleStudent, "sess-1", token.KindRefresh)
	require.NoError(t, err)

	_, err = resolver.Resolve(bearerRequest(refresh))
	require.ErrorIs(t, err, token.ErrMalformed)
}

func TestResolveSwapsToImpersonationTarget(t *testing.T) {
	codec := newCodec(t)
	imps := markerStub{imp: &principal.Impersonation{
		Actor:  principal.Actor{ID: "admin-1", Role: principal.RoleSuperAdmin},
		Target: principal.Actor{ID: "student-1", Role: principal.RoleStudent},
	}}
	resolver := authn.NewResolver(codec, identity.NewService(identity.NewMemoryRepository(), time.Second), imps)

	raw, err := codec.Issue("admin-1", principal.RoleSuperAdmin, "sess-1", token.KindAccess)
	require.NoError(t, err)

	p, err := resolver.Resolve(bearerRequest(raw))
	require.NoError(t, err)
	require.Equal(t, "student-1", p.ID)
	require.Equal(t, principal.RoleStudent, p.Role)
	require.True(t, p.Impersonated())
	require.Equal(t, "admin-1", p.ActingID())
	require.Equal(t, principal.RoleSuperAdmin, p.ActingRole())
}

func TestResolveFailsClosedOnMarkerStore(t *testing.T) {
	codec := newCodec(t)
	imps := markerStub{err: errors.New("redis: connection refused")}
	resolver := authn.NewResolver(codec, identity.NewService(identity.NewMemoryRepository(), time.Second), imps)

	raw, err := codec.Issue("admin-1", principal.RoleSuperAdmin, "sess-1", token.KindAccess)
	require.NoError(t, err)

	_, err = resolver.Resolve(bearerRequest(raw))
	require.ErrorIs(t, err, authn.ErrStoreUnavailable)
}

func TestResolveRefreshStoreRoleWins(t *testing.T) {
	codec := newCodec(t)
	repo := identity.NewMemoryRepository()
	require.NoError(t, repo.Create(context.Background(), &identity.User{
		ID: "user-1", Email: "jane@example.com", Role: principal.RoleMentor, IsActive: true,
	}))
	resolver := authn.NewResolver(codec, identity.NewService(repo, time.Second), nil)

	// Token still carries the stale STUDENT role.
	raw, err := codec.Issue("user-1", principal.RoleStudent, "sess-1", token.KindRefresh)
	require.NoError(t, err)

	p, user, err := resolver.ResolveRefresh(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, principal.RoleMentor, p.Role)
	require.Equal(t, principal.RoleMentor, user.Role)
	require.Equal(t, "sess-1", p.SessionID)
}

func TestResolveRefreshDeniesDisabledPrincipal(t *testing.T) {
	codec := newCodec(t)
	repo := identity.NewMemoryRepository()
	require.NoError(t, repo.Create(context.Background(), &identity.User{
		ID: "user-1", Email: "jane@example.com", Role: principal.RoleStudent, IsActive: false,
	}))
	resolver := authn.NewResolver(codec, identity.NewService(repo, time.Second), nil)

	raw, err := codec.Issue("user-1", principal.RoleStudent, "sess-1", token.KindRefresh)
	require.NoError(t, err)

	_, _, err = resolver.ResolveRefresh(context.Background(), raw)
	require.ErrorIs(t, err, authn.ErrPrincipalDisabled)

	// Unknown subjects collapse into the same denial.
	raw, err = codec.Issue("ghost", principal.RoleStudent, "sess-2", token.KindRefresh)
	require.NoError(t, err)
	_, _, err = resolver.ResolveRefresh(context.Background(), raw)
	require.ErrorIs(t, err, authn.ErrPrincipalDisabled)
}

func TestResolveRefreshFailsClosedOnStoreError(t *testing.T) {
	codec := newCodec(t)
	resolver := authn.NewResolver(codec, identity.NewService(failingRepo{identity.NewMemoryRepository()}, time.Second), nil)

	raw, err := codec.Issue("user-1", principal.RoleStudent, "sess-1", token.KindRefresh)
	require.NoError(t, err)

	_, _, err = resolver.ResolveRefresh(context.Background(), raw)
	require.ErrorIs(t, err, authn.ErrStoreUnavailable)
}

func TestReasonLabels(t *testing.T) {
	require.Equal(t, "missing_token", authn.Reason(authn.ErrMissingToken))
	require.Equal(t, "expired", authn.Reason(token.ErrExpired))
	require.Equal(t, "bad_signature", authn.Reason(token.ErrBadSignature))
	require.Equal(t, "principal_disabled", authn.Reason(authn.ErrPrincipalDisabled))
	require.Equal(t, "store_unavailable", authn.Reason(errors.New("boom")))
	require.Equal(t, "", authn.Reason(nil))
}

type failingRepo struct {
	*identity.MemoryRepository
}

func (failingRepo) FindByID(context.Context, string) (*identity.User, error) {
	return nil, errors.New("pg: connection refused")
}
