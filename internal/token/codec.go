// Package token signs and verifies the bearer tokens used by the dashboard.
package token

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/team-kenya/harambee/internal/principal"
)

const issuer = "harambee"

// Kind distinguishes short-lived access tokens from long-lived refresh tokens.
type Kind string

const (
	// KindAccess marks tokens presented on every request.
	KindAccess Kind = "access"
	// KindRefresh marks tokens exchanged for a fresh pair.
	KindRefresh Kind = "refresh"
)

// Verification failures. No claim is trusted unless Verify returns nil error.
var (
	// ErrMalformed indicates the token's structural parts cannot be parsed,
	// or the token is not a valid credential for the requested kind.
	ErrMalformed = errors.New("token: malformed")
	// ErrBadSignature indicates no accepted key validates the signature.
	ErrBadSignature = errors.New("token: bad signature")
	// ErrExpired indicates a well-signed token past its expiry.
	ErrExpired = errors.New("token: expired")
)

// Claims is the JWT payload carried by both token kinds.
type Claims struct {
	Role      string `json:"role"`
	Kind      string `json:"kind"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Identity is the verified content of a token.
type Identity struct {
	Subject   string
	Role      principal.Role
	SessionID string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec issues and verifies signed tokens. Verification is pure and safe for
// concurrent use; the keyset is swapped atomically on rotation so no request
// observes a partially updated key list.
type Codec struct {
	keys       atomic.Pointer[Keyset]
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewCodec constructs a Codec around an initial keyset.
func NewCodec(keys *Keyset, accessTTL, refreshTTL time.Duration) *Codec {
	c := &Codec{accessTTL: accessTTL, refreshTTL: refreshTTL}
	c.keys.Store(keys)
	return c
}

// Rotate replaces the keyset. In-flight verifications keep the set they
// loaded; new ones see the replacement.
func (c *Codec) Rotate(keys *Keyset) {
	if keys != nil {
		c.keys.Store(keys)
	}
}

// TTL returns the configured lifetime for a token kind.
func (c *Codec) TTL(kind Kind) time.Duration {
	if kind == KindRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Issue signs a token for the subject. Stateless: nothing is persisted.
func (c *Codec) Issue(subject string, role principal.Role, sessionID string, kind Kind) (string, error) {
	if subject == "" {
		return "", errors.New("token: subject required")
	}
	if !role.Known() {
		return "", errors.New("token: unknown role")
	}
	now := time.Now().UTC()
	claims := Claims{
		Role:      string(role),
		Kind:      string(kind),
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.TTL(kind))),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.keys.Load().SigningKey())
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Verify checks the token against every accepted key and returns its verified
// content. Errors are limited to ErrMalformed, ErrBadSignature and ErrExpired.
func (c *Codec) Verify(raw string, kind Kind) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)

	var claims *Claims
	verified := false
	for _, key := range c.keys.Load().VerifyKeys() {
		parsed, err := parser.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err != nil {
			switch {
			case errors.Is(err, jwt.ErrTokenMalformed):
				return nil, ErrMalformed
			case errors.Is(err, jwt.ErrTokenSignatureInvalid):
				continue // retired key may still match
			case errors.Is(err, jwt.ErrTokenExpired):
				return nil, ErrExpired
			default:
				return nil, ErrMalformed
			}
		}
		if parsed.Valid {
			claims = parsed.Claims.(*Claims)
			verified = true
			break
		}
	}
	if !verified {
		return nil, ErrBadSignature
	}

	if Kind(claims.Kind) != kind {
		return nil, ErrMalformed
	}
	role, ok := principal.ParseRole(claims.Role)
	if !ok {
		return nil, ErrMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrMalformed
	}

	id := &Identity{
		Subject:   claims.Subject,
		Role:      role,
		SessionID: claims.SessionID,
		Kind:      kind,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	return id, nil
}
