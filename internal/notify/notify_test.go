package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dropscout/dropscout/internal/config"
	"github.com/dropscout/dropscout/internal/model"
)

func TestSendDropClaim(t *testing.T) {
	var gotPath, gotTitle, gotTags, gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		gotTags = r.Header.Get("Tags")
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(config.NotifyConfig{
		Enabled:  true,
		Server:   server.URL,
		Topic:    "drops",
		Token:    "secret",
		Priority: "default",
		Tags:     "dropscout",
	}, logger)

	err := client.SendDropClaim(context.Background(), model.UserEvent{
		Kind:           model.EventDropClaim,
		At:             time.Now(),
		DropID:         "d1",
		DropInstanceID: "i1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/drops" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotTitle != "Drop ready to claim" {
		t.Errorf("unexpected title %q", gotTitle)
	}
	if !strings.Contains(gotTags, "tada") {
		t.Errorf("expected tada tag, got %q", gotTags)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if !strings.Contains(gotBody, "d1") || !strings.Contains(gotBody, "i1") {
		t.Errorf("body missing drop ids: %q", gotBody)
	}
}

func TestSendFallbackHighPriority(t *testing.T) {
	var gotPriority, gotTags string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPriority = r.Header.Get("Priority")
		gotTags = r.Header.Get("Tags")
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(config.NotifyConfig{
		Enabled:  true,
		Server:   server.URL,
		Topic:    "drops",
		Priority: "default",
		Tags:     "dropscout",
	}, logger)

	if err := client.SendFallback(context.Background(), time.Now().Add(30*time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPriority != "high" {
		t.Errorf("expected high priority for degradation, got %q", gotPriority)
	}
	if !strings.Contains(gotTags, "warning") {
		t.Errorf("expected warning tag, got %q", gotTags)
	}
}

func TestSendFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(config.NotifyConfig{
		Enabled: true,
		Server:  server.URL,
		Topic:   "drops",
	}, logger)

	if err := client.SendFallback(context.Background(), time.Now()); err == nil {
		t.Error("expected error for non-2xx response")
	}
}

func TestNewDisabledReturnsNoop(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	n := New(config.NotifyConfig{Enabled: false}, logger)
	if _, ok := n.(*NoopNotifier); !ok {
		t.Errorf("expected NoopNotifier, got %T", n)
	}

	if err := n.SendDropClaim(context.Background(), model.UserEvent{}); err != nil {
		t.Errorf("noop should never fail: %v", err)
	}
	if err := n.SendFallback(context.Background(), time.Now()); err != nil {
		t.Errorf("noop should never fail: %v", err)
	}
}
