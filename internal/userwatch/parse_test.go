package userwatch

import (
	"testing"

	"github.com/dropscout/dropscout/internal/model"
)

var allowList = []string{"user_drop_reward_reminder_notification"}

func TestParseEventDropProgress(t *testing.T) {
	raw := `{"type":"drop-progress","data":{"drop_id":"d1","current_progress_min":15,"required_progress_min":30}}`

	ev := ParseEvent("user-drop-events.123", raw, allowList)
	if ev == nil {
		t.Fatal("expected an event")
	}
	if ev.Kind != model.EventDropProgress {
		t.Errorf("unexpected kind %s", ev.Kind)
	}
	if ev.DropID != "d1" || ev.CurrentProgressMin != 15 || ev.RequiredProgressMin != 30 {
		t.Errorf("unexpected payload: %+v", ev)
	}
	if ev.At.IsZero() {
		t.Error("event timestamp missing")
	}
}

func TestParseEventDropClaim(t *testing.T) {
	raw := `{"type":"drop-claim","data":{"drop_id":"d1","drop_instance_id":"i1"}}`

	ev := ParseEvent("user-drop-events.123", raw, allowList)
	if ev == nil {
		t.Fatal("expected an event")
	}
	if ev.Kind != model.EventDropClaim {
		t.Errorf("unexpected kind %s", ev.Kind)
	}
	if ev.DropID != "d1" || ev.DropInstanceID != "i1" {
		t.Errorf("unexpected payload: %+v", ev)
	}
}

func TestParseEventNotificationAllowed(t *testing.T) {
	raw := `{"type":"create-notification","data":{"notification":{"type":"user_drop_reward_reminder_notification"}}}`

	ev := ParseEvent("onsite-notifications.123", raw, allowList)
	if ev == nil {
		t.Fatal("expected an event")
	}
	if ev.Kind != model.EventNotification {
		t.Errorf("unexpected kind %s", ev.Kind)
	}
	if ev.NotificationType != "user_drop_reward_reminder_notification" {
		t.Errorf("unexpected notification type %q", ev.NotificationType)
	}
}

func TestParseEventNotificationFiltered(t *testing.T) {
	raw := `{"type":"create-notification","data":{"notification":{"type":"friend_request"}}}`

	if ev := ParseEvent("onsite-notifications.123", raw, allowList); ev != nil {
		t.Errorf("expected filtered notification, got %+v", ev)
	}
}

func TestParseEventUnrecognized(t *testing.T) {
	cases := []struct {
		name  string
		topic string
		raw   string
	}{
		{"unknown topic", "video-playback-by-id.1", `{"type":"drop-claim"}`},
		{"unknown drop type", "user-drop-events.1", `{"type":"drop-expired"}`},
		{"non-create notification", "onsite-notifications.1", `{"type":"update-summary"}`},
		{"malformed drop payload", "user-drop-events.1", `not json`},
		{"malformed notification payload", "onsite-notifications.1", `{`},
	}

	for _, tc := range cases {
		if ev := ParseEvent(tc.topic, tc.raw, allowList); ev != nil {
			t.Errorf("%s: expected nil, got %+v", tc.name, ev)
		}
	}
}
