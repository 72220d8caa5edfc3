package community

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for communities and memberships.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new community store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const communityColumns = `id, name, join_code, owner_id, pfp, created_at`

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// fkViolation is the Postgres error code for a foreign key failure.
const fkViolation = "23503"

// IsUniqueViolation reports whether err is a unique-constraint failure,
// optionally on a specific named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	return isPgViolation(err, uniqueViolation, constraint)
}

// IsForeignKeyViolation reports whether err is a foreign-key failure,
// optionally on a specific named constraint.
func IsForeignKeyViolation(err error, constraint string) bool {
	return isPgViolation(err, fkViolation, constraint)
}

func isPgViolation(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != code {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Create inserts a community and its accepted owner membership in one
// transaction, so a community is never visible without an owner.
func (s *Store) Create(ctx context.Context, name, joinCode, ownerID string, pfp *string) (*Community, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	c := &Community{}
	err = tx.QueryRow(ctx,
		`INSERT INTO communities (name, join_code, owner_id, pfp)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+communityColumns,
		name, joinCode, ownerID, pfp,
	).Scan(&c.ID, &c.Name, &c.JoinCode, &c.OwnerID, &c.Pfp, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating community: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO memberships (community_id, user_id, role, status, responded_at)
		 VALUES ($1, $2, 'owner', 'accepted', now())`,
		c.ID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("creating owner membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing community: %w", err)
	}
	return c, nil
}

// GetByID retrieves a community by primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Community, error) {
	c := &Community{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+communityColumns+` FROM communities WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.JoinCode, &c.OwnerID, &c.Pfp, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting community by id: %w", err)
	}
	return c, nil
}

// GetByJoinCode retrieves a community by its join code.
func (s *Store) GetByJoinCode(ctx context.Context, code string) (*Community, error) {
	c := &Community{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+communityColumns+` FROM communities WHERE join_code = $1`, code,
	).Scan(&c.ID, &c.Name, &c.JoinCode, &c.OwnerID, &c.Pfp, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting community by join code: %w", err)
	}
	return c, nil
}

const membershipColumns = `community_id, user_id, role, status, invited_by, created_at, responded_at`

// GetMembership retrieves the membership row for (communityID, userID).
func (s *Store) GetMembership(ctx context.Context, communityID, userID string) (*Membership, error) {
	m := &Membership{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE community_id = $1 AND user_id = $2`,
		communityID, userID,
	).Scan(&m.CommunityID, &m.UserID, &m.Role, &m.Status, &m.InvitedBy, &m.CreatedAt, &m.RespondedAt)
	if err != nil {
		return nil, fmt.Errorf("getting membership: %w", err)
	}
	return m, nil
}

// CreateInvite inserts a pending membership for the invitee. A prior
// denied row is reset to pending; a pending or accepted row is left
// untouched and reported as not created.
func (s *Store) CreateInvite(ctx context.Context, communityID, inviteeID, invitedBy string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO memberships (community_id, user_id, role, status, invited_by)
		 VALUES ($1, $2, 'member', 'pending', $3)
		 ON CONFLICT (community_id, user_id) DO UPDATE
		 SET status = 'pending', invited_by = EXCLUDED.invited_by, responded_at = NULL
		 WHERE memberships.status = 'denied'`,
		communityID, inviteeID, invitedBy,
	)
	if err != nil {
		return false, fmt.Errorf("creating invite: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RespondToInvite transitions a pending membership to accepted or
// denied. Returns pgx.ErrNoRows when no pending invite exists.
func (s *Store) RespondToInvite(ctx context.Context, communityID, userID string, status Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memberships SET status = $3, responded_at = now()
		 WHERE community_id = $1 AND user_id = $2 AND status = 'pending'`,
		communityID, userID, status,
	)
	if err != nil {
		return fmt.Errorf("responding to invite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpsertAcceptedMember makes the user an accepted member, creating the
// row or promoting an existing pending/denied one. Idempotent: calling
// it for an already accepted member changes nothing.
func (s *Store) UpsertAcceptedMember(ctx context.Context, communityID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memberships (community_id, user_id, role, status, responded_at)
		 VALUES ($1, $2, 'member', 'accepted', now())
		 ON CONFLICT (community_id, user_id) DO UPDATE
		 SET status = 'accepted',
		     responded_at = COALESCE(memberships.responded_at, now())`,
		communityID, userID,
	)
	if err != nil {
		return fmt.Errorf("upserting accepted member: %w", err)
	}
	return nil
}

// UpdateMemberRole changes a member's role. Returns pgx.ErrNoRows when
// no accepted membership exists.
func (s *Store) UpdateMemberRole(ctx context.Context, communityID, userID string, role Role) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memberships SET role = $3
		 WHERE community_id = $1 AND user_id = $2 AND status = 'accepted'`,
		communityID, userID, role,
	)
	if err != nil {
		return fmt.Errorf("updating member role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteMembership removes a membership row. Reports whether a row was
// actually deleted.
func (s *Store) DeleteMembership(ctx context.Context, communityID, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memberships WHERE community_id = $1 AND user_id = $2`,
		communityID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("deleting membership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListForUser returns the communities the user is an accepted member
// of, newest first, each with the user's own role.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*UserCommunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.name, c.join_code, c.owner_id, c.pfp, c.created_at, m.role, m.status
		 FROM communities c JOIN memberships m ON m.community_id = c.id
		 WHERE m.user_id = $1 AND m.status = 'accepted'
		 ORDER BY c.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing communities for user: %w", err)
	}
	defer rows.Close()

	var out []*UserCommunity
	for rows.Next() {
		uc := &UserCommunity{}
		if err := rows.Scan(&uc.ID, &uc.Name, &uc.JoinCode, &uc.OwnerID, &uc.Pfp, &uc.CreatedAt, &uc.Role, &uc.Status); err != nil {
			return nil, fmt.Errorf("scanning community row: %w", err)
		}
		out = append(out, uc)
	}
	return out, rows.Err()
}

// ListMembers returns every membership in the community joined with the
// member's profile, owners and admins first.
func (s *Store) ListMembers(ctx context.Context, communityID string) ([]*Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.community_id, m.user_id, m.role, m.status, m.invited_by, m.created_at, m.responded_at,
		        u.username, u.avatar
		 FROM memberships m JOIN users u ON u.id = m.user_id
		 WHERE m.community_id = $1
		 ORDER BY CASE m.role WHEN 'owner' THEN 0 WHEN 'admin' THEN 1 ELSE 2 END, m.created_at`,
		communityID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var out []*Member
	for rows.Next() {
		m := &Member{}
		if err := rows.Scan(&m.CommunityID, &m.UserID, &m.Role, &m.Status, &m.InvitedBy, &m.CreatedAt, &m.RespondedAt, &m.Username, &m.Avatar); err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListPendingInvites returns the user's pending invites joined with the
// inviting community, newest first.
func (s *Store) ListPendingInvites(ctx context.Context, userID string) ([]*Invite, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.community_id, c.name, c.pfp, m.invited_by, m.created_at
		 FROM memberships m JOIN communities c ON c.id = m.community_id
		 WHERE m.user_id = $1 AND m.status = 'pending'
		 ORDER BY m.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending invites: %w", err)
	}
	defer rows.Close()

	var out []*Invite
	for rows.Next() {
		inv := &Invite{}
		if err := rows.Scan(&inv.CommunityID, &inv.CommunityName, &inv.CommunityPfp, &inv.InvitedBy, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning invite row: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
