package train

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/James-May-Coding/myrail-network/internal/community"
	"github.com/James-May-Coding/myrail-network/internal/realtime"
)

// fakeBoard is an in-memory Board. InsertClaim and ReplaceClaim mirror
// the atomicity of the real store's single-statement upserts.
type fakeBoard struct {
	mu     sync.Mutex
	trains map[string]*Train
	claims map[string]*Claim // key: trainID + "/" + roleLabel
	nextID int
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{
		trains: make(map[string]*Train),
		claims: make(map[string]*Claim),
	}
}

func claimKey(trainID, roleLabel string) string {
	return trainID + "/" + roleLabel
}

func (f *fakeBoard) Create(ctx context.Context, communityID string, in CreateTrainInput) (*Train, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.trains {
		if t.CommunityID == communityID && t.Code == in.Code {
			return nil, errors.New("duplicate train code")
		}
	}
	f.nextID++
	t := &Train{
		ID:          fmt.Sprintf("t%d", f.nextID),
		CommunityID: communityID,
		Code:        in.Code,
		Description: in.Description,
		Direction:   in.Direction,
		Yard:        in.Yard,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	f.trains[t.ID] = t
	return t, nil
}

func (f *fakeBoard) GetByID(ctx context.Context, id string) (*Train, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trains[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (f *fakeBoard) Update(ctx context.Context, id string, in UpdateTrainInput) (*Train, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trains[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if in.Code != nil {
		t.Code = *in.Code
	}
	if in.Description != nil {
		t.Description = in.Description
	}
	if in.Direction != nil {
		t.Direction = in.Direction
	}
	if in.Yard != nil {
		t.Yard = in.Yard
	}
	t.UpdatedAt = time.Now()
	cp := *t
	return &cp, nil
}

func (f *fakeBoard) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.trains, id)
	for k, c := range f.claims {
		if c.TrainID == id {
			delete(f.claims, k)
		}
	}
	return nil
}

func (f *fakeBoard) ListByCommunity(ctx context.Context, communityID string) ([]*TrainWithClaims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*TrainWithClaims
	for _, t := range f.trains {
		if t.CommunityID != communityID {
			continue
		}
		tw := &TrainWithClaims{Train: *t, Claims: []Claim{}}
		for _, c := range f.claims {
			if c.TrainID == t.ID {
				tw.Claims = append(tw.Claims, *c)
			}
		}
		out = append(out, tw)
	}
	return out, nil
}

func (f *fakeBoard) InsertClaim(ctx context.Context, trainID, roleLabel, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := claimKey(trainID, roleLabel)
	if _, ok := f.claims[key]; ok {
		return false, nil
	}
	f.claims[key] = &Claim{
		TrainID:   trainID,
		RoleLabel: roleLabel,
		UserID:    userID,
		ClaimedAt: time.Now(),
	}
	return true, nil
}

func (f *fakeBoard) GetClaim(ctx context.Context, trainID, roleLabel string) (*Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[claimKey(trainID, roleLabel)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (f *fakeBoard) DeleteClaim(ctx context.Context, trainID, roleLabel, claimantID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := claimKey(trainID, roleLabel)
	c, ok := f.claims[key]
	if !ok {
		return false, nil
	}
	if claimantID != "" && c.UserID != claimantID {
		return false, nil
	}
	delete(f.claims, key)
	return true, nil
}

func (f *fakeBoard) ReplaceClaim(ctx context.Context, trainID, roleLabel, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims[claimKey(trainID, roleLabel)] = &Claim{
		TrainID:   trainID,
		RoleLabel: roleLabel,
		UserID:    userID,
		ClaimedAt: time.Now(),
	}
	return nil
}

// fakeMembers maps communityID/userID to a role; absence means no
// membership at all.
type fakeMembers struct {
	roles map[string]community.Role // key: communityID + "/" + userID
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{roles: make(map[string]community.Role)}
}

func (f *fakeMembers) set(communityID, userID string, role community.Role) {
	f.roles[communityID+"/"+userID] = role
}

func (f *fakeMembers) RequireMembership(ctx context.Context, communityID, userID string) (*community.Membership, error) {
	role, ok := f.roles[communityID+"/"+userID]
	if !ok {
		return nil, fmt.Errorf("not a member: %w", community.ErrForbidden)
	}
	return &community.Membership{
		CommunityID: communityID,
		UserID:      userID,
		Role:        role,
		Status:      community.StatusAccepted,
	}, nil
}

func newTestService() (*Service, *fakeBoard, *fakeMembers) {
	board := newFakeBoard()
	members := newFakeMembers()
	return NewService(board, members, nil), board, members
}

// seedCommunity registers an owner, an admin, and two plain members.
func seedCommunity(members *fakeMembers, communityID string) {
	members.set(communityID, "owner", community.RoleOwner)
	members.set(communityID, "admin", community.RoleAdmin)
	members.set(communityID, "m1", community.RoleMember)
	members.set(communityID, "m2", community.RoleMember)
}

func mustCreateTrain(t *testing.T, svc *Service, actorID, communityID, code string) *Train {
	t.Helper()
	tr, err := svc.CreateTrain(context.Background(), actorID, communityID, CreateTrainInput{Code: code})
	if err != nil {
		t.Fatalf("CreateTrain(%s): %v", code, err)
	}
	return tr
}

func TestCreateTrain(t *testing.T) {
	svc, _, members := newTestService()
	seedCommunity(members, "c1")
	ctx := context.Background()

	tr := mustCreateTrain(t, svc, "admin", "c1", "CSX-Q410")
	if tr.CommunityID != "c1" || tr.Code != "CSX-Q410" {
		t.Errorf("unexpected train: %+v", tr)
	}

	// Plain members cannot create trains.
	if _, err := svc.CreateTrain(ctx, "m1", "c1", CreateTrainInput{Code: "NS-21M"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	// Empty code is a validation error.
	if _, err := svc.CreateTrain(ctx, "admin", "c1", CreateTrainInput{Code: "  "}); !errors.Is(err, ErrCodeRequired) {
		t.Errorf("expected ErrCodeRequired, got %v", err)
	}
}

func TestUpdateAndDeleteTrainAuthorization(t *testing.T) {
	svc, _, members := newTestService()
	seedCommunity(members, "c1")
	ctx := context.Background()

	tr := mustCreateTrain(t, svc, "owner", "c1", "AMTK-49")
	desc := "Lake Shore Limited"

	// Admin can update.
	updated, err := svc.UpdateTrain(ctx, "admin", tr.ID, UpdateTrainInput{Description: &desc})
	if err != nil {
		t.Fatalf("UpdateTrain: %v", err)
	}
	if updated.Description == nil || *updated.Description != desc {
		t.Errorf("expected description %q, got %v", desc, updated.Description)
	}

	// A plain member is forbidden.
	if _, err := svc.UpdateTrain(ctx, "m1", tr.ID, UpdateTrainInput{Description: &desc}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for member update, got %v", err)
	}

	// A stranger reads the train as absent.
	if _, err := svc.UpdateTrain(ctx, "stranger", tr.ID, UpdateTrainInput{Description: &desc}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for stranger, got %v", err)
	}

	if err := svc.DeleteTrain(ctx, "m1", tr.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for member delete, got %v", err)
	}
	if err := svc.DeleteTrain(ctx, "owner", tr.ID); err != nil {
		t.Fatalf("DeleteTrain: %v", err)
	}
	if _, err := svc.UpdateTrain(ctx, "owner", tr.ID, UpdateTrainInput{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListTrains(t *testing.T) {
	svc, _, members := newTestService()
	seedCommunity(members, "c1")
	ctx := context.Background()

	mustCreateTrain(t, svc, "owner", "c1", "CSX-Q410")
	mustCreateTrain(t, svc, "owner", "c1", "NS-21M")

	list, err := svc.ListTrains(ctx, "m1", "c1")
	if err != nil {
		t.Fatalf("ListTrains: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 trains, got %d", len(list))
	}

	if _, err := svc.ListTrains(ctx, "stranger", "c1"); !errors.Is(err, community.ErrForbidden) {
		t.Errorf("expected forbidden for stranger, got %v", err)
	}
}

func TestClaim(t *testing.T) {
	svc, _, members := newTestService()
	seedCommunity(members, "c1")
	ctx := context.Background()

	tr := mustCreateTrain(t, svc, "owner", "c1", "CSX-Q410")

	cl, err := svc.Claim(ctx, "m1", tr.ID, "Engineer")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if cl.UserID != "m1" || cl.RoleLabel != "engineer" {
		t.Errorf("unexpected claim: %+v", cl)
	}

	// The slot is now taken.
	if _, err := svc.Claim(ctx, "m2", tr.ID, "engineer"); !errors.Is(err, ErrSlotTaken) {
		t.Errorf("expected ErrSlotTaken, got %v", err)
	}

	// A different slot on the same train is open.
	if _, err := svc.Claim(ctx, "m2", tr.ID, "conductor"); err != nil {
		t.Errorf("expected conductor claim to succeed, got %v", err)
	}

	// Non-members cannot claim.
	if _, err := svc.Claim(ctx, "stranger", tr.ID, "brakeman"); !errors.Is(err, community.ErrForbidden) {
		t.Errorf("expected forbidden for stranger, got %v", err)
	}

	// Bad labels are rejected before any store access.
	for _, label := range []string{"", "Engineer One", "0start", "way-too-long-way-too-long-way-too-long"} {
		if _, err := svc.Claim(ctx, "m1", tr.ID, label); !errors.Is(err, ErrRoleLabelInvalid) {
			t.Errorf("label %q: expected ErrRoleLabelInvalid, got %v", label, err)
		}
	}
}

func TestClaimConcurrent(t *testing.T) {
	svc, _, members := newTestService()
	seedCommunity(members, "c1")
	ctx := context.Background()

	tr := mustCreateTrain(t, svc, "owner", "c1", "NS-21M")

	const claimants = 8
	for i := 0; i < claimants; i++ {
		members.set("c1", fmt.Sprintf("u%d", i), community.RoleMember)
	}

	var wg sync.WaitGroup
	errs := make([]error, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Claim(ctx, fmt.Sprintf("u%d", i), tr.ID, "engineer")
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotTaken):
		default:
			t.Errorf("claimant %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", wins)
	}
}

func TestUnclaim(t *testing.T) {
	svc, board, members := newTestService()
	seedCommunity(members, "c1")
	ctx := context.Background()

	tr := mustCreateTrain(t, svc, "owner", "c1", "AMTK-49")
	if _, err := svc.Claim(ctx, "m1", tr.ID, "engineer"); err != nil {
		t.Fatal(err)
	}

	// Another member cannot release someone else's claim.
	if err := svc.Unclaim(ctx, "m2", tr.ID, "engineer"); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	// The claimant can release, and the slot reopens.
	if err := svc.Unclaim(ctx, "m1", tr.ID, "engineer"); err != nil {
		t.Fatalf("Unclaim: %v", err)
	}
	if _, err := board.GetClaim(ctx, tr.ID, "engineer"); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("expected claim gone, got %v", err)
	}
	if _, err := svc.Claim(ctx, "m2", tr.ID, "engineer"); err != nil {
		t.Errorf("expected reopened slot to be claimable, got %v", err)
	}

	// Releasing an empty slot is a no-op success.
	if err := svc.Unclaim(ctx, "m1", tr.ID, "conductor"); err != nil {
		t.Errorf("expected no-op release, got %v", err)
	}

	// Admins can release anyone's claim.
	if err := svc.Unclaim(ctx, "admin", tr.ID, "engineer"); err != nil {
		t.Fatalf("admin Unclaim: %v", err)
	}
	if _, err := board.GetClaim(ctx, tr.ID, "engineer"); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("expected claim gone after admin release, got %v", err)
	}
}

func TestReassign(t *testing.T) {
	svc, _, members := newTestService()
	seedCommunity(members, "c1")
	ctx := context.Background()

	tr := mustCreateTrain(t, svc, "owner", "c1", "CSX-Q410")
	if _, err := svc.Claim(ctx, "m1", tr.ID, "conductor"); err != nil {
		t.Fatal(err)
	}

	// Admin moves the slot to another member, replacing the holder.
	cl, err := svc.Reassign(ctx, "admin", tr.ID, "conductor", "m2")
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if cl.UserID != "m2" {
		t.Errorf("expected claim held by m2, got %s", cl.UserID)
	}

	// Reassign also fills an empty slot.
	cl, err = svc.Reassign(ctx, "owner", tr.ID, "engineer", "m1")
	if err != nil {
		t.Fatalf("Reassign empty slot: %v", err)
	}
	if cl.UserID != "m1" {
		t.Errorf("expected claim held by m1, got %s", cl.UserID)
	}

	// Plain members cannot reassign.
	if _, err := svc.Reassign(ctx, "m1", tr.ID, "conductor", "m1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	// The new claimant must be an accepted member.
	if _, err := svc.Reassign(ctx, "admin", tr.ID, "conductor", "stranger"); !errors.Is(err, ErrClaimantNotMember) {
		t.Errorf("expected ErrClaimantNotMember, got %v", err)
	}
}

func TestClaimChangeEvents(t *testing.T) {
	board := newFakeBoard()
	members := newFakeMembers()
	notifier := &recordingNotifier{}
	svc := NewService(board, members, notifier)
	seedCommunity(members, "c1")
	ctx := context.Background()

	tr := mustCreateTrain(t, svc, "owner", "c1", "NS-21M")
	if _, err := svc.Claim(ctx, "m1", tr.ID, "engineer"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Unclaim(ctx, "m1", tr.ID, "engineer"); err != nil {
		t.Fatal(err)
	}

	var claimEvents int
	for _, ev := range notifier.all() {
		if ev.Type == realtime.EventClaimChanged {
			claimEvents++
			if ev.CommunityID != "c1" {
				t.Errorf("expected community c1, got %s", ev.CommunityID)
			}
		}
	}
	if claimEvents != 2 {
		t.Errorf("expected 2 claim_changed events, got %d", claimEvents)
	}
}

// recordingNotifier captures published events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (n *recordingNotifier) Publish(ev realtime.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) all() []realtime.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]realtime.Event, len(n.events))
	copy(out, n.events)
	return out
}
