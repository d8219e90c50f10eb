// Package csrf issues and verifies the per-session anti-forgery tokens
// required on mutating requests.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBytes is the entropy of an issued token before encoding.
const tokenBytes = 32

var (
	// ErrTokenMissing occurs when the request or the session carries no token.
	ErrTokenMissing = errors.New("csrf: token missing")
	// ErrTokenMismatch occurs when the supplied token does not match.
	ErrTokenMismatch = errors.New("csrf: token mismatch")
)

// Guard stores one live token per session in Redis. Issuing a new token
// invalidates the previous one.
type Guard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGuard constructs a Guard. The TTL should match the session lifetime.
func NewGuard(client *redis.Client, ttl time.Duration) *Guard {
	return &Guard{client: client, ttl: ttl}
}

// Issue generates a fresh token for the session, replacing any previous one.
func (g *Guard) Issue(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("csrf: session id required")
	}
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	if err := g.client.Set(ctx, g.key(sessionID), token, g.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Token returns the session's live token, issuing one if none exists yet.
func (g *Guard) Token(ctx context.Context, sessionID string) (string, error) {
	token, err := g.client.Get(ctx, g.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return g.Issue(ctx, sessionID)
		}
		return "", err
	}
	return token, nil
}

// Rotate replaces the session token. Called on privilege transitions such as
// impersonation start and stop.
func (g *Guard) Rotate(ctx context.Context, sessionID string) (string, error) {
	return g.Issue(ctx, sessionID)
}

// Drop removes the session token at session end.
func (g *Guard) Drop(ctx context.Context, sessionID string) error {
	err := g.client.Del(ctx, g.key(sessionID)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Verify compares the candidate against the session's stored token. A missing
// or empty candidate fails closed. Comparison runs over fixed-length digests
// so its duration is independent of where the first mismatching byte occurs.
func (g *Guard) Verify(ctx context.Context, sessionID, candidate string) error {
	if candidate == "" {
		return ErrTokenMissing
	}
	expected, err := g.client.Get(ctx, g.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrTokenMissing
		}
		return err
	}
	if !equalConstantTime(candidate, expected) {
		return ErrTokenMismatch
	}
	return nil
}

func equalConstantTime(a, b string) bool {
	da := sha256.Sum256([]byte(a))
	db := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(da[:], db[:]) == 1
}

func (g *Guard) key(sessionID string) string {
	return "csrf:" + sessionID
}
