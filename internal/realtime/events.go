package realtime

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of change being broadcast.
type EventType string

const (
	EventCommunityUpdated EventType = "community_updated"
	EventMemberJoined     EventType = "member_joined"
	EventMemberRemoved    EventType = "member_removed"
	EventMemberRole       EventType = "member_role_updated"
	EventInviteCreated    EventType = "invite_created"
	EventInviteResponded  EventType = "invite_responded"
	EventTrainCreated     EventType = "train_created"
	EventTrainUpdated     EventType = "train_updated"
	EventTrainDeleted     EventType = "train_deleted"
	EventClaimChanged     EventType = "claim_changed"
)

// Event is a change notification scoped to one community. Delivery is
// best-effort; clients reconcile through a full read, so an event is
// never the source of truth.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	CommunityID string         `json:"community_id"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewEvent builds an event with a fresh id and timestamp.
func NewEvent(t EventType, communityID string, payload map[string]any) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        t,
		CommunityID: communityID,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	}
}

// Notifier is the delivery-agnostic change notification interface the
// core services publish through.
type Notifier interface {
	Publish(Event)
}

// NopNotifier discards all events. Used in tests and when the realtime
// hub is disabled.
type NopNotifier struct{}

func (NopNotifier) Publish(Event) {}
