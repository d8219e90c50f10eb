// Package identity is the authoritative store for user accounts and their
// login sessions. The auth core consults it at refresh time and at
// impersonation start; access-token checks deliberately do not touch it.
package identity

import (
	"errors"
	"time"

	"github.com/team-kenya/harambee/internal/principal"
)

var (
	// ErrNotFound indicates the user or session does not exist.
	ErrNotFound = errors.New("identity: not found")
	// ErrDuplicateEmail indicates a signup collision.
	ErrDuplicateEmail = errors.New("identity: email already registered")
)

// User represents an account row.
type User struct {
	ID            string
	Email         string
	FirstName     string
	LastName      string
	School        string
	Role          principal.Role
	IsActive      bool
	EmailVerified bool
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Session is the persisted record behind a refresh token. The session id is
// embedded in issued tokens; invalidating the row revokes the whole session.
type Session struct {
	ID          string
	UserID      string
	RefreshHash string
	IP          string
	UserAgent   string
	ExpiresAt   time.Time
	IsValid     bool
	CreatedAt   time.Time
}
