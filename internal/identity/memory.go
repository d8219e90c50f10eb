package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/team-kenya/harambee/internal/principal"
)

// MemoryRepository is an in-memory Repository used by tests and local tooling.
type MemoryRepository struct {
	mu       sync.RWMutex
	users    map[string]*User
	sessions map[string]*Session
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[string]*User),
		sessions: make(map[string]*Session),
	}
}

// FindByID fetches a user by id.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

// FindByEmail fetches a user by normalised email.
func (r *MemoryRepository) FindByEmail(_ context.Context, email string) (*User, error) {
	email = normalizeEmail(email)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if normalizeEmail(user.Email) == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

// Create inserts a new account.
func (r *MemoryRepository) Create(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return ErrDuplicateEmail
		}
	}
	clone := *user
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	clone.UpdatedAt = clone.CreatedAt
	r.users[clone.ID] = &clone
	return nil
}

// SetActive suspends or restores an account.
func (r *MemoryRepository) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	user.IsActive = active
	user.UpdatedAt = time.Now().UTC()
	return nil
}

// SetRole changes an account's role.
func (r *MemoryRepository) SetRole(_ context.Context, id string, role principal.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	user.Role = role
	user.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkEmailVerified flags the account.
func (r *MemoryRepository) MarkEmailVerified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		user.EmailVerified = true
	}
	return nil
}

// TouchLogin records the last login time.
func (r *MemoryRepository) TouchLogin(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		now := time.Now().UTC()
		user.LastLoginAt = &now
	}
	return nil
}

// List returns users ordered by creation time, newest first.
func (r *MemoryRepository) List(_ context.Context, limit, offset int) ([]User, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]User, 0, len(r.users))
	for _, user := range r.users {
		all = append(all, *user)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CreateSession persists a session.
func (r *MemoryRepository) CreateSession(_ context.Context, sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *sess
	clone.IsValid = true
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	r.sessions[clone.ID] = &clone
	return nil
}

// GetSession fetches a session.
func (r *MemoryRepository) GetSession(_ context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *sess
	return &clone, nil
}

// UpdateSessionRefreshHash stores a rotated refresh hash.
func (r *MemoryRepository) UpdateSessionRefreshHash(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.RefreshHash = hash
	return nil
}

// InvalidateSession revokes a session.
func (r *MemoryRepository) InvalidateSession(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		sess.IsValid = false
	}
	return nil
}

// DeleteExpiredSessions removes sessions past expiry.
func (r *MemoryRepository) DeleteExpiredSessions(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, sess := range r.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

var _ Repository = (*MemoryRepository)(nil)
