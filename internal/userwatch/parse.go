// Package userwatch follows the two user-scoped pubsub topics for one
// authenticated account: drop progress/claims and onsite notifications.
package userwatch

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dropscout/dropscout/internal/model"
	"github.com/dropscout/dropscout/internal/pubsub"
)

type dropMessage struct {
	Type string `json:"type"`
	Data struct {
		DropID              string `json:"drop_id"`
		DropInstanceID      string `json:"drop_instance_id"`
		CurrentProgressMin  int    `json:"current_progress_min"`
		RequiredProgressMin int    `json:"required_progress_min"`
	} `json:"data"`
}

type notificationMessage struct {
	Type string `json:"type"`
	Data struct {
		Notification struct {
			Type string `json:"type"`
		} `json:"notification"`
	} `json:"data"`
}

// ParseEvent classifies one raw pubsub message from a user-scoped
// topic. It returns nil for anything unrecognized, malformed, or
// filtered by the notification allow-list. Pure; no watcher state.
func ParseEvent(topic, rawMessage string, allowedNotificationTypes []string) *model.UserEvent {
	switch {
	case strings.HasPrefix(topic, pubsub.TopicDropEventsPrefix):
		var msg dropMessage
		if err := json.Unmarshal([]byte(rawMessage), &msg); err != nil {
			return nil
		}
		switch msg.Type {
		case "drop-progress":
			return &model.UserEvent{
				Kind:                model.EventDropProgress,
				At:                  time.Now(),
				Topic:               topic,
				MessageType:         msg.Type,
				DropID:              msg.Data.DropID,
				CurrentProgressMin:  msg.Data.CurrentProgressMin,
				RequiredProgressMin: msg.Data.RequiredProgressMin,
			}
		case "drop-claim":
			return &model.UserEvent{
				Kind:           model.EventDropClaim,
				At:             time.Now(),
				Topic:          topic,
				MessageType:    msg.Type,
				DropID:         msg.Data.DropID,
				DropInstanceID: msg.Data.DropInstanceID,
			}
		}
		return nil

	case strings.HasPrefix(topic, pubsub.TopicNotificationsPrefix):
		var msg notificationMessage
		if err := json.Unmarshal([]byte(rawMessage), &msg); err != nil {
			return nil
		}
		if msg.Type != "create-notification" {
			return nil
		}
		notifType := msg.Data.Notification.Type
		for _, allowed := range allowedNotificationTypes {
			if notifType == allowed {
				return &model.UserEvent{
					Kind:             model.EventNotification,
					At:               time.Now(),
					Topic:            topic,
					MessageType:      msg.Type,
					NotificationType: notifType,
				}
			}
		}
		return nil
	}

	return nil
}
