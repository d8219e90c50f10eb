// Package authn turns inbound requests into resolved principals.
package authn

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/team-kenya/harambee/internal/identity"
	"github.com/team-kenya/harambee/internal/principal"
	"github.com/team-kenya/harambee/internal/token"
)

// Resolution failures beyond the codec's own. Every failure path returns a
// typed error; no access is granted on partial information.
var (
	// ErrMissingToken indicates the Authorization header is absent or not a
	// bearer credential.
	ErrMissingToken = errors.New("authn: missing token")
	// ErrPrincipalDisabled indicates the authoritative store no longer backs
	// this principal (deleted or suspended account).
	ErrPrincipalDisabled = errors.New("authn: principal disabled")
	// ErrStoreUnavailable indicates the authoritative lookup failed or timed
	// out. Always a denial, never a fallback to the token's cached role.
	ErrStoreUnavailable = errors.New("authn: store unavailable")
	// ErrAborted indicates the caller abandoned the request mid-resolution.
	ErrAborted = errors.New("authn: aborted")
)

// ImpersonationSource reports the active impersonation marker for a session,
// or nil when the session runs normally.
type ImpersonationSource interface {
	Marker(ctx context.Context, sessionID string) (*principal.Impersonation, error)
}

// Resolver extracts a bearer token, verifies it, and builds the request
// principal. Access-token checks trust the embedded role; refresh-grade
// operations re-derive it from the identity store.
type Resolver struct {
	codec *token.Codec
	store *identity.Service
	imps  ImpersonationSource
}

// NewResolver constructs a Resolver. The impersonation source may be nil in
// deployments without the admin surface.
func NewResolver(codec *token.Codec, store *identity.Service, imps ImpersonationSource) *Resolver {
	return &Resolver{codec: codec, store: store, imps: imps}
}

// Resolve authenticates a request from its Authorization header.
func (r *Resolver) Resolve(req *http.Request) (*principal.Principal, error) {
	raw, err := BearerToken(req)
	if err != nil {
		return nil, err
	}
	id, err := r.codec.Verify(raw, token.KindAccess)
	if err != nil {
		return nil, err
	}
	p := &principal.Principal{
		ID:        id.Subject,
		Role:      id.Role,
		SessionID: id.SessionID,
		IssuedAt:  id.IssuedAt,
		ExpiresAt: id.ExpiresAt,
	}
	if r.imps != nil && p.SessionID != "" {
		imp, err := r.imps.Marker(req.Context(), p.SessionID)
		if err != nil {
			return nil, mapStoreErr(req.Context(), err)
		}
		if imp != nil {
			// The session runs as the target; the super admin stays on the
			// record as the acting identity.
			p.ID = imp.Target.ID
			p.Role = imp.Target.Role
			p.Impersonator = &imp.Actor
		}
	}
	return p, nil
}

// ResolveRefresh verifies a refresh token and re-derives the principal from
// the authoritative store, so a demotion or suspension takes effect no later
// than the next refresh.
func (r *Resolver) ResolveRefresh(ctx context.Context, rawRefresh string) (*principal.Principal, *identity.User, error) {
	id, err := r.codec.Verify(rawRefresh, token.KindRefresh)
	if err != nil {
		return nil, nil, err
	}
	user, err := r.store.Lookup(ctx, id.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, nil, ErrPrincipalDisabled
		}
		return nil, nil, mapStoreErr(ctx, err)
	}
	if !user.IsActive {
		return nil, nil, ErrPrincipalDisabled
	}
	p := &principal.Principal{
		ID:        user.ID,
		Role:      user.Role, // the store wins over the token's embedded role
		SessionID: id.SessionID,
		IssuedAt:  id.IssuedAt,
		ExpiresAt: id.ExpiresAt,
	}
	return p, user, nil
}

// BearerToken extracts the raw credential from the Authorization header.
func BearerToken(req *http.Request) (string, error) {
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return "", ErrMissingToken
	}
	raw := strings.TrimSpace(header[len("bearer "):])
	if raw == "" {
		return "", ErrMissingToken
	}
	return raw, nil
}

// Reason maps a resolution error to a short label for logs and metrics. The
// label is internal; callers of the HTTP surface only ever see a generic
// unauthorized response.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, token.ErrMalformed):
		return "malformed"
	case errors.Is(err, token.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, ErrPrincipalDisabled):
		return "principal_disabled"
	case errors.Is(err, ErrAborted):
		return "aborted"
	default:
		return "store_unavailable"
	}
}

func mapStoreErr(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ErrAborted
	}
	return ErrStoreUnavailable
}
