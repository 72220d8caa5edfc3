package community

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/James-May-Coding/myrail-network/internal/realtime"
	"github.com/jackc/pgx/v5"
)

// Errors returned by the Service layer.
var (
	ErrForbidden      = errors.New("not allowed")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrNameRequired   = errors.New("name is required")
	ErrCodeRequired   = errors.New("join code is required")
	ErrOwnerImmutable = errors.New("the owner's membership cannot be changed")
	ErrRoleInvalid    = errors.New("role must be admin or member")
)

// joinCodeAlphabet matches the upper-case base36 codes the dashboard
// has always displayed.
const joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// joinCodeLen is the length of generated join codes.
const joinCodeLen = 6

// joinCodeAttempts bounds retries when a generated code collides.
const joinCodeAttempts = 5

// Ledger is the persistence interface the Service drives. *Store is the
// production implementation; tests substitute fakes.
type Ledger interface {
	Create(ctx context.Context, name, joinCode, ownerID string, pfp *string) (*Community, error)
	GetByID(ctx context.Context, id string) (*Community, error)
	GetByJoinCode(ctx context.Context, code string) (*Community, error)
	GetMembership(ctx context.Context, communityID, userID string) (*Membership, error)
	CreateInvite(ctx context.Context, communityID, inviteeID, invitedBy string) (bool, error)
	RespondToInvite(ctx context.Context, communityID, userID string, status Status) error
	UpsertAcceptedMember(ctx context.Context, communityID, userID string) error
	UpdateMemberRole(ctx context.Context, communityID, userID string, role Role) error
	DeleteMembership(ctx context.Context, communityID, userID string) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]*UserCommunity, error)
	ListMembers(ctx context.Context, communityID string) ([]*Member, error)
	ListPendingInvites(ctx context.Context, userID string) ([]*Invite, error)
}

// Service enforces the membership rules on top of a Ledger.
type Service struct {
	ledger   Ledger
	notifier realtime.Notifier
}

// NewService creates a new membership service. A nil notifier disables
// change notifications.
func NewService(ledger Ledger, notifier realtime.Notifier) *Service {
	if notifier == nil {
		notifier = realtime.NopNotifier{}
	}
	return &Service{ledger: ledger, notifier: notifier}
}

// CreateCommunity creates a community owned by ownerID. Join code
// generation retries a bounded number of times on collision.
func (s *Service) CreateCommunity(ctx context.Context, ownerID, name string, pfp *string) (*Community, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}

	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		code, err := generateJoinCode()
		if err != nil {
			return nil, err
		}
		c, err := s.ledger.Create(ctx, name, code, ownerID, pfp)
		if err != nil {
			if IsUniqueViolation(err, "communities_join_code_key") {
				continue
			}
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("join code generation exhausted after %d attempts: %w", joinCodeAttempts, ErrConflict)
}

// Invite creates a pending invite for inviteeID. Only an accepted
// owner or admin may invite. A prior denied invite is re-issued; a
// pending or accepted membership conflicts.
func (s *Service) Invite(ctx context.Context, actorID, communityID, inviteeID string) error {
	if err := s.requireAdmin(ctx, communityID, actorID); err != nil {
		return err
	}

	created, err := s.ledger.CreateInvite(ctx, communityID, inviteeID, actorID)
	if err != nil {
		// The memberships insert references the invitee by FK; an
		// unknown user surfaces as an absent entity, not a 500.
		if IsForeignKeyViolation(err, "memberships_user_id_fkey") {
			return fmt.Errorf("no such user: %w", ErrNotFound)
		}
		return err
	}
	if !created {
		return fmt.Errorf("user already invited or a member: %w", ErrConflict)
	}

	s.notifier.Publish(realtime.NewEvent(realtime.EventInviteCreated, communityID, map[string]any{
		"invitee_id": inviteeID,
		"invited_by": actorID,
	}))
	return nil
}

// RespondToInvite accepts or denies the caller's pending invite.
func (s *Service) RespondToInvite(ctx context.Context, userID, communityID string, accept bool) error {
	status := StatusDenied
	if accept {
		status = StatusAccepted
	}

	err := s.ledger.RespondToInvite(ctx, communityID, userID, status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("no pending invite: %w", ErrNotFound)
		}
		return err
	}

	s.notifier.Publish(realtime.NewEvent(realtime.EventInviteResponded, communityID, map[string]any{
		"user_id": userID,
		"status":  status,
	}))
	if accept {
		s.notifier.Publish(realtime.NewEvent(realtime.EventMemberJoined, communityID, map[string]any{
			"user_id": userID,
		}))
	}
	return nil
}

// JoinByCode makes the caller an accepted member of the community with
// the given join code. Idempotent: joining twice is a no-op success.
func (s *Service) JoinByCode(ctx context.Context, userID, code string) (*Community, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrCodeRequired
	}

	c, err := s.ledger.GetByJoinCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no community with that code: %w", ErrNotFound)
		}
		return nil, err
	}

	if err := s.ledger.UpsertAcceptedMember(ctx, c.ID, userID); err != nil {
		return nil, err
	}

	s.notifier.Publish(realtime.NewEvent(realtime.EventMemberJoined, c.ID, map[string]any{
		"user_id": userID,
	}))
	return c, nil
}

// ListForUser returns the caller's accepted communities with roles.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*UserCommunity, error) {
	return s.ledger.ListForUser(ctx, userID)
}

// ListMembers returns all memberships of a community. The caller must
// be an accepted member.
func (s *Service) ListMembers(ctx context.Context, actorID, communityID string) ([]*Member, error) {
	if err := s.requireMember(ctx, communityID, actorID); err != nil {
		return nil, err
	}
	return s.ledger.ListMembers(ctx, communityID)
}

// ListPendingInvites returns the caller's pending invites.
func (s *Service) ListPendingInvites(ctx context.Context, userID string) ([]*Invite, error) {
	return s.ledger.ListPendingInvites(ctx, userID)
}

// UpdateMemberRole promotes or demotes a member between admin and
// member. The owner's row is immutable.
func (s *Service) UpdateMemberRole(ctx context.Context, actorID, communityID, targetID string, role Role) error {
	if role != RoleAdmin && role != RoleMember {
		return ErrRoleInvalid
	}
	if err := s.requireAdmin(ctx, communityID, actorID); err != nil {
		return err
	}

	target, err := s.ledger.GetMembership(ctx, communityID, targetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("no such member: %w", ErrNotFound)
		}
		return err
	}
	if target.Role == RoleOwner {
		return fmt.Errorf("%w: %w", ErrForbidden, ErrOwnerImmutable)
	}

	if err := s.ledger.UpdateMemberRole(ctx, communityID, targetID, role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("no such member: %w", ErrNotFound)
		}
		return err
	}

	s.notifier.Publish(realtime.NewEvent(realtime.EventMemberRole, communityID, map[string]any{
		"user_id": targetID,
		"role":    role,
	}))
	return nil
}

// RemoveMember deletes a membership. A member may remove themselves
// (leave); removing anyone else requires owner/admin. The owner cannot
// be removed and cannot leave.
func (s *Service) RemoveMember(ctx context.Context, actorID, communityID, targetID string) error {
	if actorID != targetID {
		if err := s.requireAdmin(ctx, communityID, actorID); err != nil {
			return err
		}
	}

	target, err := s.ledger.GetMembership(ctx, communityID, targetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("no such member: %w", ErrNotFound)
		}
		return err
	}
	if target.Role == RoleOwner {
		return fmt.Errorf("%w: %w", ErrForbidden, ErrOwnerImmutable)
	}

	deleted, err := s.ledger.DeleteMembership(ctx, communityID, targetID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("no such member: %w", ErrNotFound)
	}

	s.notifier.Publish(realtime.NewEvent(realtime.EventMemberRemoved, communityID, map[string]any{
		"user_id":    targetID,
		"removed_by": actorID,
	}))
	return nil
}

// RequireMembership returns the actor's accepted membership, or
// ErrForbidden. Used by other services (and the realtime endpoint) to
// gate community-scoped access.
func (s *Service) RequireMembership(ctx context.Context, communityID, userID string) (*Membership, error) {
	m, err := s.ledger.GetMembership(ctx, communityID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("not a member: %w", ErrForbidden)
		}
		return nil, err
	}
	if !m.Accepted() {
		return nil, fmt.Errorf("membership not accepted: %w", ErrForbidden)
	}
	return m, nil
}

func (s *Service) requireMember(ctx context.Context, communityID, userID string) error {
	_, err := s.RequireMembership(ctx, communityID, userID)
	return err
}

func (s *Service) requireAdmin(ctx context.Context, communityID, userID string) error {
	m, err := s.RequireMembership(ctx, communityID, userID)
	if err != nil {
		return err
	}
	if !m.Role.CanAdminister() {
		return fmt.Errorf("owner or admin role required: %w", ErrForbidden)
	}
	return nil
}

// generateJoinCode produces a short upper-case alphanumeric code.
func generateJoinCode() (string, error) {
	b := make([]byte, joinCodeLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating join code: %w", err)
	}
	out := make([]byte, joinCodeLen)
	for i, v := range b {
		out[i] = joinCodeAlphabet[int(v)%len(joinCodeAlphabet)]
	}
	return string(out), nil
}
