package train

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for trains and claims.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new train store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const trainColumns = `id, community_id, code, description, direction, yard, created_at, updated_at`

// Create inserts a new train and returns the created record.
func (s *Store) Create(ctx context.Context, communityID string, in CreateTrainInput) (*Train, error) {
	t := &Train{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO trains (community_id, code, description, direction, yard)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+trainColumns,
		communityID, in.Code, in.Description, in.Direction, in.Yard,
	).Scan(&t.ID, &t.CommunityID, &t.Code, &t.Description, &t.Direction, &t.Yard, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating train: %w", err)
	}
	return t, nil
}

// GetByID retrieves a train by its primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Train, error) {
	t := &Train{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+trainColumns+` FROM trains WHERE id = $1`, id,
	).Scan(&t.ID, &t.CommunityID, &t.Code, &t.Description, &t.Direction, &t.Yard, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting train by id: %w", err)
	}
	return t, nil
}

// Update performs a partial update on the train with the given id.
func (s *Store) Update(ctx context.Context, id string, in UpdateTrainInput) (*Train, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	if in.Code != nil {
		setClauses = append(setClauses, fmt.Sprintf("code = $%d", argIdx))
		args = append(args, *in.Code)
		argIdx++
	}
	if in.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", argIdx))
		args = append(args, *in.Description)
		argIdx++
	}
	if in.Direction != nil {
		setClauses = append(setClauses, fmt.Sprintf("direction = $%d", argIdx))
		args = append(args, *in.Direction)
		argIdx++
	}
	if in.Yard != nil {
		setClauses = append(setClauses, fmt.Sprintf("yard = $%d", argIdx))
		args = append(args, *in.Yard)
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.GetByID(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")

	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE trains SET %s WHERE id = $%d RETURNING `+trainColumns,
		strings.Join(setClauses, ", "), argIdx,
	)

	t := &Train{}
	err := s.pool.QueryRow(ctx, query, args...).
		Scan(&t.ID, &t.CommunityID, &t.Code, &t.Description, &t.Direction, &t.Yard, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("updating train: %w", err)
	}
	return t, nil
}

// Delete removes a train by id. Claims go with it via ON DELETE CASCADE.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM trains WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting train: %w", err)
	}
	return nil
}

// ListByCommunity returns the community's trains newest first, each
// joined with its current claims.
func (s *Store) ListByCommunity(ctx context.Context, communityID string) ([]*TrainWithClaims, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+trainColumns+` FROM trains
		 WHERE community_id = $1 ORDER BY created_at DESC`,
		communityID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing trains: %w", err)
	}
	defer rows.Close()

	var trains []*TrainWithClaims
	byID := map[string]*TrainWithClaims{}
	for rows.Next() {
		t := &TrainWithClaims{Claims: []Claim{}}
		if err := rows.Scan(&t.ID, &t.CommunityID, &t.Code, &t.Description, &t.Direction, &t.Yard, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning train row: %w", err)
		}
		trains = append(trains, t)
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating train rows: %w", err)
	}
	if len(trains) == 0 {
		return trains, nil
	}

	claimRows, err := s.pool.Query(ctx,
		`SELECT cl.train_id, cl.role_label, cl.user_id, u.username, cl.claimed_at
		 FROM claims cl
		 JOIN trains t ON t.id = cl.train_id
		 JOIN users u ON u.id = cl.user_id
		 WHERE t.community_id = $1
		 ORDER BY cl.claimed_at`,
		communityID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing claims: %w", err)
	}
	defer claimRows.Close()

	for claimRows.Next() {
		var c Claim
		if err := claimRows.Scan(&c.TrainID, &c.RoleLabel, &c.UserID, &c.Username, &c.ClaimedAt); err != nil {
			return nil, fmt.Errorf("scanning claim row: %w", err)
		}
		if t, ok := byID[c.TrainID]; ok {
			t.Claims = append(t.Claims, c)
		}
	}
	return trains, claimRows.Err()
}

// InsertClaim inserts a claim for an open slot. Reports false when the
// slot is already held: the check and the insert are one statement, so
// two concurrent claims on the same slot yield exactly one true.
func (s *Store) InsertClaim(ctx context.Context, trainID, roleLabel, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO claims (train_id, role_label, user_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (train_id, role_label) DO NOTHING`,
		trainID, roleLabel, userID,
	)
	if err != nil {
		return false, fmt.Errorf("inserting claim: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetClaim retrieves the current claim for a slot, if any.
func (s *Store) GetClaim(ctx context.Context, trainID, roleLabel string) (*Claim, error) {
	c := &Claim{}
	err := s.pool.QueryRow(ctx,
		`SELECT train_id, role_label, user_id, claimed_at
		 FROM claims WHERE train_id = $1 AND role_label = $2`,
		trainID, roleLabel,
	).Scan(&c.TrainID, &c.RoleLabel, &c.UserID, &c.ClaimedAt)
	if err != nil {
		return nil, fmt.Errorf("getting claim: %w", err)
	}
	return c, nil
}

// DeleteClaim removes a slot's claim. When claimantID is non-empty the
// delete only applies if that user still holds the slot, so a racing
// reassign cannot be clobbered.
func (s *Store) DeleteClaim(ctx context.Context, trainID, roleLabel, claimantID string) (bool, error) {
	var tag pgconn.CommandTag
	var err error
	if claimantID == "" {
		tag, err = s.pool.Exec(ctx,
			`DELETE FROM claims WHERE train_id = $1 AND role_label = $2`,
			trainID, roleLabel,
		)
	} else {
		tag, err = s.pool.Exec(ctx,
			`DELETE FROM claims WHERE train_id = $1 AND role_label = $2 AND user_id = $3`,
			trainID, roleLabel, claimantID,
		)
	}
	if err != nil {
		return false, fmt.Errorf("deleting claim: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReplaceClaim atomically installs userID as the slot's holder,
// overwriting any existing claim. Admin reassignment only.
func (s *Store) ReplaceClaim(ctx context.Context, trainID, roleLabel, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO claims (train_id, role_label, user_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (train_id, role_label) DO UPDATE
		 SET user_id = EXCLUDED.user_id, claimed_at = now()`,
		trainID, roleLabel, userID,
	)
	if err != nil {
		return fmt.Errorf("replacing claim: %w", err)
	}
	return nil
}
