package community

import "time"

// Role is a member's role within a community.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Status is the invitation sub-state of a membership row.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDenied   Status = "denied"
)

// CanAdminister reports whether the role may manage the community
// (invite, remove members, create and edit trains).
func (r Role) CanAdminister() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Community is a named group joinable by invite or by its join code.
type Community struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	JoinCode  string    `json:"join_code"`
	OwnerID   string    `json:"owner_id"`
	Pfp       *string   `json:"pfp,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership is a user's relationship to one community. At most one row
// exists per (community, user) pair.
type Membership struct {
	CommunityID string     `json:"community_id"`
	UserID      string     `json:"user_id"`
	Role        Role       `json:"role"`
	Status      Status     `json:"status"`
	InvitedBy   *string    `json:"invited_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// Accepted reports whether the membership grants access.
func (m *Membership) Accepted() bool {
	return m.Status == StatusAccepted
}

// UserCommunity is a community joined with the caller's own membership,
// as returned by ListForUser.
type UserCommunity struct {
	Community
	Role   Role   `json:"role"`
	Status Status `json:"status"`
}

// Member is a membership joined with the member's profile, as returned
// by ListMembers.
type Member struct {
	Membership
	Username string  `json:"username"`
	Avatar   *string `json:"avatar,omitempty"`
}

// Invite is a pending membership as seen by the invited user.
type Invite struct {
	CommunityID   string    `json:"community_id"`
	CommunityName string    `json:"community_name"`
	CommunityPfp  *string   `json:"community_pfp,omitempty"`
	InvitedBy     *string   `json:"invited_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
