// Package otp implements the one-time-code login flow: codes are random,
// stored only as bcrypt hashes, and rate limited per email.
package otp

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// Flow limits, matching the product's login policy.
const (
	CodeLength      = 6
	CodeExpiry      = 10 * time.Minute
	MaxAttempts     = 5
	RequestCooldown = time.Minute
	MaxPerHour      = 5
)

var (
	// ErrInvalidCode covers wrong, expired and never-issued codes alike.
	ErrInvalidCode = errors.New("otp: invalid code")
	// ErrTooManyAttempts locks the code after repeated failures.
	ErrTooManyAttempts = errors.New("otp: too many attempts")
	// ErrCooldown rejects a request inside the per-email cooldown window.
	ErrCooldown = errors.New("otp: request cooldown")
	// ErrQuotaExceeded rejects a request over the hourly per-email quota.
	ErrQuotaExceeded = errors.New("otp: hourly quota exceeded")
)

// Service issues and verifies one-time codes backed by Redis.
type Service struct {
	client *redis.Client
}

// NewService constructs a Service.
func NewService(client *redis.Client) *Service {
	return &Service{client: client}
}

// Issue generates a code for the email and returns it for delivery. Only the
// bcrypt hash is stored; issuing replaces any previous live code.
func (s *Service) Issue(ctx context.Context, email string) (string, error) {
	email = normalize(email)

	if err := s.client.Get(ctx, key("cooldown", email)).Err(); err == nil {
		return "", ErrCooldown
	} else if !errors.Is(err, redis.Nil) {
		return "", err
	}

	count, err := s.client.Incr(ctx, key("quota", email)).Result()
	if err != nil {
		return "", err
	}
	if count == 1 {
		_ = s.client.Expire(ctx, key("quota", email), time.Hour).Err()
	}
	if count > MaxPerHour {
		return "", ErrQuotaExceeded
	}

	code, err := generateCode()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key("code", email), string(hash), CodeExpiry)
	pipe.Del(ctx, key("attempts", email))
	pipe.Set(ctx, key("cooldown", email), "1", RequestCooldown)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return code, nil
}

// Verify checks a candidate code. The code is consumed on success and locked
// after MaxAttempts failures. Failures are indistinguishable to the caller.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	email = normalize(email)
	code = strings.TrimSpace(code)
	if len(code) != CodeLength {
		return ErrInvalidCode
	}

	attempts, err := s.client.Incr(ctx, key("attempts", email)).Result()
	if err != nil {
		return err
	}
	if attempts == 1 {
		_ = s.client.Expire(ctx, key("attempts", email), CodeExpiry).Err()
	}
	if attempts > MaxAttempts {
		_ = s.client.Del(ctx, key("code", email)).Err()
		return ErrTooManyAttempts
	}

	hash, err := s.client.Get(ctx, key("code", email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrInvalidCode
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		return ErrInvalidCode
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key("code", email))
	pipe.Del(ctx, key("attempts", email))
	_, err = pipe.Exec(ctx)
	return err
}

func generateCode() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(buf[:]) % 1000000
	return fmt.Sprintf("%06d", n), nil
}

func key(kind, email string) string {
	return "otp:" + kind + ":" + email
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
