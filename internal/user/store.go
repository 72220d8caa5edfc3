package user

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSessionTTL matches the Max-Age of the session cookie.
const DefaultSessionTTL = 7 * 24 * time.Hour

// Store provides database operations for users and sessions.
type Store struct {
	pool       *pgxpool.Pool
	sessionTTL time.Duration
}

// NewStore creates a new user store backed by the given connection pool.
// A non-positive ttl falls back to DefaultSessionTTL.
func NewStore(pool *pgxpool.Pool, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Store{pool: pool, sessionTTL: ttl}
}

const userColumns = `id, discord_id, username, email, avatar, created_at`

// Resolve upserts a user keyed on discord_id and returns the row. The
// single INSERT ... ON CONFLICT statement makes concurrent first logins
// for the same identity converge on one row without locking.
func (s *Store) Resolve(ctx context.Context, in ResolveInput) (*User, error) {
	u := &User{}
	var email, avatar *string
	if in.Email != "" {
		email = &in.Email
	}
	if in.Avatar != "" {
		avatar = &in.Avatar
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (discord_id, username, email, avatar)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (discord_id) DO UPDATE
		 SET username = EXCLUDED.username,
		     email = COALESCE(EXCLUDED.email, users.email),
		     avatar = COALESCE(EXCLUDED.avatar, users.avatar)
		 RETURNING `+userColumns,
		in.DiscordID, in.Username, email, avatar,
	).Scan(&u.ID, &u.DiscordID, &u.Username, &u.Email, &u.Avatar, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("resolving user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	u := &User{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.DiscordID, &u.Username, &u.Email, &u.Avatar, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting user by id: %w", err)
	}
	return u, nil
}

// CreateSession creates a new session for the given user. It returns the
// opaque plaintext token (to be sent to the client) and the stored session.
func (s *Store) CreateSession(ctx context.Context, userID string) (string, *Session, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, fmt.Errorf("generating session token: %w", err)
	}
	plaintext := hex.EncodeToString(b)
	tokenHash := hashToken(plaintext)

	now := time.Now()
	expiresAt := now.Add(s.sessionTTL)

	sess := &Session{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (token_hash, user_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING token_hash, user_id, created_at, expires_at`,
		tokenHash, userID, now, expiresAt,
	).Scan(&sess.TokenHash, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("creating session: %w", err)
	}

	return plaintext, sess, nil
}

// GetSessionUser looks up a session by its plaintext token and returns the
// associated user. Returns an error if the session is expired or not found.
func (s *Store) GetSessionUser(ctx context.Context, plaintext string) (*User, error) {
	tokenHash := hashToken(plaintext)

	u := &User{}
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.discord_id, u.username, u.email, u.avatar, u.created_at
		 FROM sessions s JOIN users u ON s.user_id = u.id
		 WHERE s.token_hash = $1 AND s.expires_at > now()`,
		tokenHash,
	).Scan(&u.ID, &u.DiscordID, &u.Username, &u.Email, &u.Avatar, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting session user: %w", err)
	}
	return u, nil
}

// DeleteSession removes a session by its plaintext token. Deleting a
// session that no longer exists is a no-op.
func (s *Store) DeleteSession(ctx context.Context, plaintext string) error {
	tokenHash := hashToken(plaintext)
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CleanExpiredSessions deletes all sessions that have expired.
func (s *Store) CleanExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleaning expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func hashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
