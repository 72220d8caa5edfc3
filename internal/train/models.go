package train

import "time"

// Train is a unit of work scoped to one community, with claimable crew
// slots identified by role label.
type Train struct {
	ID          string    `json:"id"`
	CommunityID string    `json:"community_id"`
	Code        string    `json:"code"`
	Description *string   `json:"description,omitempty"`
	Direction   *string   `json:"direction,omitempty"`
	Yard        *string   `json:"yard,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Claim is one user's occupation of one role slot on one train. The
// (train_id, role_label) pair is the primary key: a slot has at most
// one holder.
type Claim struct {
	TrainID   string    `json:"train_id"`
	RoleLabel string    `json:"role_label"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// TrainWithClaims is a train joined with its current claims, as served
// to the dashboard.
type TrainWithClaims struct {
	Train
	Claims []Claim `json:"claims"`
}

// CreateTrainInput carries the fields for a new train.
type CreateTrainInput struct {
	Code        string  `json:"code"`
	Description *string `json:"description"`
	Direction   *string `json:"direction"`
	Yard        *string `json:"yard"`
}

// UpdateTrainInput carries a partial update; nil fields are untouched.
type UpdateTrainInput struct {
	Code        *string `json:"code"`
	Description *string `json:"description"`
	Direction   *string `json:"direction"`
	Yard        *string `json:"yard"`
}
