package model

import "time"

// UserEventKind classifies an event on the user-scoped pubsub streams.
type UserEventKind string

const (
	EventDropProgress UserEventKind = "drop-progress"
	EventDropClaim    UserEventKind = "drop-claim"
	EventNotification UserEventKind = "notification"
)

// UserEvent is a classified message from one of the two user-scoped
// topics. Kind selects which of the payload fields are meaningful.
type UserEvent struct {
	Kind        UserEventKind `json:"kind"`
	At          time.Time     `json:"at"`
	Topic       string        `json:"topic"`
	MessageType string        `json:"message_type"`

	// drop-progress / drop-claim
	DropID              string `json:"drop_id,omitempty"`
	DropInstanceID      string `json:"drop_instance_id,omitempty"`
	CurrentProgressMin  int    `json:"current_progress_min,omitempty"`
	RequiredProgressMin int    `json:"required_progress_min,omitempty"`

	// notification
	NotificationType string `json:"notification_type,omitempty"`
}
