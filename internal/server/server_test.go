package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dropscout/dropscout/internal/model"
	"github.com/dropscout/dropscout/internal/tracker"
)

type staticSource struct {
	channels []model.ChannelInfo
}

func (s *staticSource) GetChannelsForGame(context.Context, string) ([]model.ChannelInfo, error) {
	return s.channels, nil
}

func newTestRouter(t *testing.T) (http.Handler, *tracker.Tracker) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	source := &staticSource{channels: []model.ChannelInfo{
		{ID: "1", Login: "one", DisplayName: "One", ViewerCount: 100},
	}}
	trk := tracker.New(source, tracker.Options{
		Mode:                    tracker.ModePolling,
		FallbackRefreshInterval: time.Hour,
	}, logger)
	t.Cleanup(trk.Close)
	return NewRouter(trk, logger), trk
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var st tracker.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if st.Mode != tracker.ModePolling {
		t.Errorf("unexpected mode %q", st.Mode)
	}
	if st.EffectiveMode != tracker.ModePolling {
		t.Errorf("unexpected effective mode %q", st.EffectiveMode)
	}
	if st.TopicLimit <= 0 {
		t.Errorf("expected positive topic limit, got %d", st.TopicLimit)
	}
}

func TestChannelsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/channels?game=Rust", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Game     string              `json:"game"`
		Channels []model.ChannelInfo `json:"channels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Game != "Rust" {
		t.Errorf("unexpected game %q", resp.Game)
	}
	if len(resp.Channels) != 1 || resp.Channels[0].ID != "1" {
		t.Errorf("unexpected channels: %+v", resp.Channels)
	}
}

func TestChannelsEndpointMissingGame(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/channels", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
