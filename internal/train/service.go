package train

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/James-May-Coding/myrail-network/internal/community"
	"github.com/James-May-Coding/myrail-network/internal/realtime"
	"github.com/jackc/pgx/v5"
)

// Errors returned by the Service layer.
var (
	ErrForbidden         = errors.New("not allowed")
	ErrNotFound          = errors.New("train not found")
	ErrSlotTaken         = errors.New("role already claimed")
	ErrCodeRequired      = errors.New("train code is required")
	ErrCodeTaken         = errors.New("train code already exists in this community")
	ErrRoleLabelInvalid  = errors.New("role label must be a short lowercase token")
	ErrClaimantNotMember = errors.New("claimant must be an accepted member of the community")
)

// roleLabelPattern bounds claimable role labels ("engineer",
// "conductor", "e", "c", ...).
var roleLabelPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

// Board is the persistence interface the Service drives. *Store is the
// production implementation; tests substitute fakes.
type Board interface {
	Create(ctx context.Context, communityID string, in CreateTrainInput) (*Train, error)
	GetByID(ctx context.Context, id string) (*Train, error)
	Update(ctx context.Context, id string, in UpdateTrainInput) (*Train, error)
	Delete(ctx context.Context, id string) error
	ListByCommunity(ctx context.Context, communityID string) ([]*TrainWithClaims, error)
	InsertClaim(ctx context.Context, trainID, roleLabel, userID string) (bool, error)
	GetClaim(ctx context.Context, trainID, roleLabel string) (*Claim, error)
	DeleteClaim(ctx context.Context, trainID, roleLabel, claimantID string) (bool, error)
	ReplaceClaim(ctx context.Context, trainID, roleLabel, userID string) error
}

// MembershipSource resolves a user's accepted membership in a
// community. community.Service is the production implementation.
type MembershipSource interface {
	RequireMembership(ctx context.Context, communityID, userID string) (*community.Membership, error)
}

// Service enforces job-board authorization and claim arbitration on
// top of a Board.
type Service struct {
	board    Board
	members  MembershipSource
	notifier realtime.Notifier
}

// NewService creates a new train service. A nil notifier disables
// change notifications.
func NewService(board Board, members MembershipSource, notifier realtime.Notifier) *Service {
	if notifier == nil {
		notifier = realtime.NopNotifier{}
	}
	return &Service{board: board, members: members, notifier: notifier}
}

// CreateTrain creates a train in the community. Owner/admin only.
func (s *Service) CreateTrain(ctx context.Context, actorID, communityID string, in CreateTrainInput) (*Train, error) {
	in.Code = strings.TrimSpace(in.Code)
	if in.Code == "" {
		return nil, ErrCodeRequired
	}
	if err := s.requireAdmin(ctx, communityID, actorID); err != nil {
		return nil, err
	}

	t, err := s.board.Create(ctx, communityID, in)
	if err != nil {
		if community.IsUniqueViolation(err, "trains_community_id_code_key") {
			return nil, ErrCodeTaken
		}
		return nil, err
	}

	s.notifier.Publish(realtime.NewEvent(realtime.EventTrainCreated, communityID, map[string]any{
		"train_id": t.ID,
		"code":     t.Code,
	}))
	return t, nil
}

// UpdateTrain applies a partial update. Owner/admin only; trains in
// communities the actor has no membership in read as absent.
func (s *Service) UpdateTrain(ctx context.Context, actorID, trainID string, in UpdateTrainInput) (*Train, error) {
	t, err := s.administrableTrain(ctx, actorID, trainID)
	if err != nil {
		return nil, err
	}
	if in.Code != nil {
		code := strings.TrimSpace(*in.Code)
		if code == "" {
			return nil, ErrCodeRequired
		}
		in.Code = &code
	}

	updated, err := s.board.Update(ctx, trainID, in)
	if err != nil {
		if community.IsUniqueViolation(err, "trains_community_id_code_key") {
			return nil, ErrCodeTaken
		}
		return nil, err
	}

	s.notifier.Publish(realtime.NewEvent(realtime.EventTrainUpdated, t.CommunityID, map[string]any{
		"train_id": t.ID,
	}))
	return updated, nil
}

// DeleteTrain removes a train and its claims. Owner/admin only.
func (s *Service) DeleteTrain(ctx context.Context, actorID, trainID string) error {
	t, err := s.administrableTrain(ctx, actorID, trainID)
	if err != nil {
		return err
	}
	if err := s.board.Delete(ctx, trainID); err != nil {
		return err
	}

	s.notifier.Publish(realtime.NewEvent(realtime.EventTrainDeleted, t.CommunityID, map[string]any{
		"train_id": t.ID,
	}))
	return nil
}

// ListTrains returns the community's trains with their claims. Any
// accepted member may read.
func (s *Service) ListTrains(ctx context.Context, actorID, communityID string) ([]*TrainWithClaims, error) {
	if _, err := s.members.RequireMembership(ctx, communityID, actorID); err != nil {
		return nil, err
	}
	return s.board.ListByCommunity(ctx, communityID)
}

// Claim takes an open role slot for the actor. The slot check and the
// insert are a single atomic statement in the Board: of two concurrent
// claims on the same open slot, exactly one succeeds and the other
// gets ErrSlotTaken.
func (s *Service) Claim(ctx context.Context, actorID, trainID, roleLabel string) (*Claim, error) {
	label, err := normalizeRoleLabel(roleLabel)
	if err != nil {
		return nil, err
	}

	t, err := s.memberTrain(ctx, actorID, trainID)
	if err != nil {
		return nil, err
	}

	inserted, err := s.board.InsertClaim(ctx, trainID, label, actorID)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, fmt.Errorf("slot %q on train %s: %w", label, t.Code, ErrSlotTaken)
	}

	s.notifier.Publish(realtime.NewEvent(realtime.EventClaimChanged, t.CommunityID, map[string]any{
		"train_id":   trainID,
		"role_label": label,
		"user_id":    actorID,
	}))
	return s.board.GetClaim(ctx, trainID, label)
}

// Unclaim releases a role slot. The current claimant may release their
// own claim; owners/admins may release anyone's. Releasing an empty
// slot is a no-op success.
func (s *Service) Unclaim(ctx context.Context, actorID, trainID, roleLabel string) error {
	label, err := normalizeRoleLabel(roleLabel)
	if err != nil {
		return err
	}

	t, err := s.board.GetByID(ctx, trainID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	m, err := s.members.RequireMembership(ctx, t.CommunityID, actorID)
	if err != nil {
		return err
	}

	if m.Role.CanAdminister() {
		deleted, err := s.board.DeleteClaim(ctx, trainID, label, "")
		if err != nil {
			return err
		}
		if deleted {
			s.publishClaimChange(t, label, nil)
		}
		return nil
	}

	cl, err := s.board.GetClaim(ctx, trainID, label)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil // nothing to release
		}
		return err
	}
	if cl.UserID != actorID {
		return fmt.Errorf("only the claimant or an admin may release this slot: %w", ErrForbidden)
	}

	// Guarded by claimant id so a racing reassign is never clobbered.
	deleted, err := s.board.DeleteClaim(ctx, trainID, label, actorID)
	if err != nil {
		return err
	}
	if deleted {
		s.publishClaimChange(t, label, nil)
	}
	return nil
}

// Reassign atomically installs newUserID as the slot's holder,
// replacing any existing claim. Owner/admin only; the new claimant
// must be an accepted member.
func (s *Service) Reassign(ctx context.Context, actorID, trainID, roleLabel, newUserID string) (*Claim, error) {
	label, err := normalizeRoleLabel(roleLabel)
	if err != nil {
		return nil, err
	}

	t, err := s.board.GetByID(ctx, trainID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	m, err := s.members.RequireMembership(ctx, t.CommunityID, actorID)
	if err != nil {
		return nil, err
	}
	if !m.Role.CanAdminister() {
		return nil, fmt.Errorf("owner or admin role required: %w", ErrForbidden)
	}

	if _, err := s.members.RequireMembership(ctx, t.CommunityID, newUserID); err != nil {
		if errors.Is(err, community.ErrForbidden) {
			return nil, ErrClaimantNotMember
		}
		return nil, err
	}

	if err := s.board.ReplaceClaim(ctx, trainID, label, newUserID); err != nil {
		return nil, err
	}

	s.publishClaimChange(t, label, &newUserID)
	return s.board.GetClaim(ctx, trainID, label)
}

func (s *Service) publishClaimChange(t *Train, label string, userID *string) {
	payload := map[string]any{
		"train_id":   t.ID,
		"role_label": label,
	}
	if userID != nil {
		payload["user_id"] = *userID
	}
	s.notifier.Publish(realtime.NewEvent(realtime.EventClaimChanged, t.CommunityID, payload))
}

// memberTrain loads a train and requires the actor to be an accepted
// member of its community.
func (s *Service) memberTrain(ctx context.Context, actorID, trainID string) (*Train, error) {
	t, err := s.board.GetByID(ctx, trainID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if _, err := s.members.RequireMembership(ctx, t.CommunityID, actorID); err != nil {
		return nil, err
	}
	return t, nil
}

// administrableTrain loads a train and requires owner/admin rights over
// its community. Trains in communities the actor does not belong to at
// all read as absent, so existence is not leaked.
func (s *Service) administrableTrain(ctx context.Context, actorID, trainID string) (*Train, error) {
	t, err := s.board.GetByID(ctx, trainID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	m, err := s.members.RequireMembership(ctx, t.CommunityID, actorID)
	if err != nil {
		if errors.Is(err, community.ErrForbidden) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !m.Role.CanAdminister() {
		return nil, fmt.Errorf("owner or admin role required: %w", ErrForbidden)
	}
	return t, nil
}

func (s *Service) requireAdmin(ctx context.Context, communityID, actorID string) error {
	m, err := s.members.RequireMembership(ctx, communityID, actorID)
	if err != nil {
		return err
	}
	if !m.Role.CanAdminister() {
		return fmt.Errorf("owner or admin role required: %w", ErrForbidden)
	}
	return nil
}

func normalizeRoleLabel(label string) (string, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	if !roleLabelPattern.MatchString(label) {
		return "", ErrRoleLabelInvalid
	}
	return label, nil
}
