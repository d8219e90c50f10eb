package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/team-kenya/harambee/internal/principal"
)

// Repository defines persistence operations for the identity module.
type Repository interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, user *User) error
	SetActive(ctx context.Context, id string, active bool) error
	SetRole(ctx context.Context, id string, role principal.Role) error
	MarkEmailVerified(ctx context.Context, id string) error
	TouchLogin(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]User, error)

	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSessionRefreshHash(ctx context.Context, id, hash string) error
	InvalidateSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, first_name, last_name, school, role, is_active, email_verified, last_login_at, created_at, updated_at`

// FindByID fetches a user by primary key.
func (r *PGRepository) FindByID(ctx context.Context, id string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// FindByEmail fetches a user by normalised email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email))
	return scanUser(row)
}

// Create inserts a new account. Email collisions map to ErrDuplicateEmail.
func (r *PGRepository) Create(ctx context.Context, user *User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, email, first_name, last_name, school, role, is_active, email_verified, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`,
		user.ID, normalizeEmail(user.Email), user.FirstName, user.LastName, user.School,
		string(user.Role), user.IsActive, user.EmailVerified)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// SetActive suspends or restores an account.
func (r *PGRepository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRole changes an account's role. Takes effect on the next refresh; access
// tokens are short-lived precisely to bound that staleness window.
func (r *PGRepository) SetRole(ctx context.Context, id string, role principal.Role) error {
	if !role.Known() {
		return errors.New("identity: unknown role")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, id, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEmailVerified flags the account after its first redeemed code.
func (r *PGRepository) MarkEmailVerified(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// TouchLogin records the last successful login time.
func (r *PGRepository) TouchLogin(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	return err
}

// List returns users ordered by creation time, newest first.
func (r *PGRepository) List(ctx context.Context, limit, offset int) ([]User, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// CreateSession persists a login session for auditing and revocation.
func (r *PGRepository) CreateSession(ctx context.Context, sess *Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, refresh_hash, ip, user_agent, expires_at, is_valid, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW())`,
		sess.ID, sess.UserID, sess.RefreshHash, sess.IP, sess.UserAgent, sess.ExpiresAt.UTC())
	return err
}

// GetSession fetches a session row.
func (r *PGRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, refresh_hash, ip, user_agent, expires_at, is_valid, created_at
		 FROM sessions WHERE id = $1`, id).
		Scan(&sess.ID, &sess.UserID, &sess.RefreshHash, &sess.IP, &sess.UserAgent,
			&sess.ExpiresAt, &sess.IsValid, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// UpdateSessionRefreshHash stores the hash of a newly rotated refresh token.
func (r *PGRepository) UpdateSessionRefreshHash(ctx context.Context, id, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sessions SET refresh_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InvalidateSession revokes a session.
func (r *PGRepository) InvalidateSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET is_valid = FALSE WHERE id = $1`, id)
	return err
}

// DeleteExpiredSessions removes rows past their expiry. Run by the worker.
func (r *PGRepository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var role string
	err := row.Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.School,
		&role, &user.IsActive, &user.EmailVerified, &user.LastLoginAt,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	user.Role, _ = principal.ParseRole(role)
	return &user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ Repository = (*PGRepository)(nil)
