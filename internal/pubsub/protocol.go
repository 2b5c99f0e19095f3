// Package pubsub implements the client side of the realtime topic
// service: JSON text frames over a persistent WebSocket, with topic
// subscriptions batched under the service's per-connection ceiling.
package pubsub

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Frame types understood by the topic service.
const (
	TypePing      = "PING"
	TypePong      = "PONG"
	TypeListen    = "LISTEN"
	TypeUnlisten  = "UNLISTEN"
	TypeMessage   = "MESSAGE"
	TypeResponse  = "RESPONSE"
	TypeReconnect = "RECONNECT"
)

// TopicsPerConnection is the service-imposed ceiling on topics carried
// by a single socket. It also bounds the topic count per LISTEN frame.
const TopicsPerConnection = 50

// Topic name prefixes.
const (
	TopicPlaybackPrefix      = "video-playback-by-id."
	TopicDropEventsPrefix    = "user-drop-events."
	TopicNotificationsPrefix = "onsite-notifications."
)

// PlaybackTopic returns the viewer/online telemetry topic for a channel.
func PlaybackTopic(channelID string) string {
	return TopicPlaybackPrefix + channelID
}

// DropEventsTopic returns the drop event topic for a user.
func DropEventsTopic(userID string) string {
	return TopicDropEventsPrefix + userID
}

// NotificationsTopic returns the onsite notification topic for a user.
func NotificationsTopic(userID string) string {
	return TopicNotificationsPrefix + userID
}

// Request is a client-to-service frame.
type Request struct {
	Type  string       `json:"type"`
	Nonce string       `json:"nonce,omitempty"`
	Data  *RequestData `json:"data,omitempty"`
}

// RequestData carries the topics and auth token for LISTEN/UNLISTEN.
type RequestData struct {
	Topics    []string `json:"topics"`
	AuthToken string   `json:"auth_token"`
}

// Response is a service-to-client frame. For MESSAGE frames Data holds
// a MessageData payload.
type Response struct {
	Type  string          `json:"type"`
	Nonce string          `json:"nonce,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessageData is the payload of a MESSAGE frame. Message is itself
// JSON-encoded and topic-specific.
type MessageData struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// ListenRequest builds a LISTEN frame with a fresh nonce.
func ListenRequest(topics []string, authToken string) Request {
	return Request{
		Type:  TypeListen,
		Nonce: uuid.NewString(),
		Data:  &RequestData{Topics: topics, AuthToken: authToken},
	}
}

// UnlistenRequest builds an UNLISTEN frame with a fresh nonce.
func UnlistenRequest(topics []string, authToken string) Request {
	return Request{
		Type:  TypeUnlisten,
		Nonce: uuid.NewString(),
		Data:  &RequestData{Topics: topics, AuthToken: authToken},
	}
}

// PingRequest builds a keepalive PING frame.
func PingRequest() Request {
	return Request{Type: TypePing}
}

// ParseFrame decodes a raw inbound frame.
func ParseFrame(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	return resp, nil
}

// ParseMessageData decodes the Data field of a MESSAGE frame.
func ParseMessageData(raw json.RawMessage) (MessageData, error) {
	var md MessageData
	if err := json.Unmarshal(raw, &md); err != nil {
		return MessageData{}, fmt.Errorf("unmarshal message data: %w", err)
	}
	return md, nil
}

// BatchTopics splits a topic list into chunks no larger than
// TopicsPerConnection, the maximum the service accepts per frame.
func BatchTopics(topics []string) [][]string {
	if len(topics) == 0 {
		return nil
	}
	var batches [][]string
	for len(topics) > TopicsPerConnection {
		batches = append(batches, topics[:TopicsPerConnection])
		topics = topics[TopicsPerConnection:]
	}
	return append(batches, topics)
}
