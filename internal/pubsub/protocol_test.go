package pubsub

import (
	"encoding/json"
	"testing"
)

func TestBatchTopics(t *testing.T) {
	if got := BatchTopics(nil); got != nil {
		t.Errorf("expected nil batches for empty input, got %v", got)
	}

	topics := make([]string, 120)
	for i := range topics {
		topics[i] = "video-playback-by-id.x"
	}

	batches := BatchTopics(topics)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[0]) != 50 || len(batches[1]) != 50 || len(batches[2]) != 20 {
		t.Errorf("unexpected batch sizes: %d/%d/%d",
			len(batches[0]), len(batches[1]), len(batches[2]))
	}
}

func TestBatchTopicsExactCeiling(t *testing.T) {
	topics := make([]string, TopicsPerConnection)
	batches := BatchTopics(topics)
	if len(batches) != 1 {
		t.Errorf("expected a single batch at the ceiling, got %d", len(batches))
	}
}

func TestListenRequestNonces(t *testing.T) {
	a := ListenRequest([]string{"topic"}, "tok")
	b := ListenRequest([]string{"topic"}, "tok")

	if a.Type != TypeListen {
		t.Errorf("expected LISTEN, got %s", a.Type)
	}
	if a.Nonce == "" || a.Nonce == b.Nonce {
		t.Error("expected distinct non-empty nonces")
	}
	if a.Data.AuthToken != "tok" {
		t.Errorf("unexpected auth token %q", a.Data.AuthToken)
	}
}

func TestParseFrame(t *testing.T) {
	raw := []byte(`{"type":"MESSAGE","data":{"topic":"video-playback-by-id.123","message":"{\"type\":\"stream-up\"}"}}`)

	resp, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Type != TypeMessage {
		t.Errorf("expected MESSAGE, got %s", resp.Type)
	}

	md, err := ParseMessageData(resp.Data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if md.Topic != "video-playback-by-id.123" {
		t.Errorf("unexpected topic %q", md.Topic)
	}

	var inner map[string]any
	if err := json.Unmarshal([]byte(md.Message), &inner); err != nil {
		t.Fatalf("message payload should be JSON: %v", err)
	}
	if inner["type"] != "stream-up" {
		t.Errorf("unexpected inner type %v", inner["type"])
	}
}

func TestParseFrameMalformed(t *testing.T) {
	if _, err := ParseFrame([]byte("not json")); err == nil {
		t.Error("expected error for malformed frame")
	}
	if _, err := ParseMessageData(json.RawMessage(`"string"`)); err == nil {
		t.Error("expected error for malformed message data")
	}
}

func TestTopicNames(t *testing.T) {
	if got := PlaybackTopic("42"); got != "video-playback-by-id.42" {
		t.Errorf("unexpected playback topic %q", got)
	}
	if got := DropEventsTopic("42"); got != "user-drop-events.42" {
		t.Errorf("unexpected drop events topic %q", got)
	}
	if got := NotificationsTopic("42"); got != "onsite-notifications.42" {
		t.Errorf("unexpected notifications topic %q", got)
	}
}
