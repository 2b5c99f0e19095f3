package tracker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dropscout/dropscout/internal/model"
)

// seedTracker loads one game into a polling tracker so playback handlers
// have an index to work against.
func seedTracker(t *testing.T, opts Options, channels ...model.ChannelInfo) (*Tracker, *fakeSource) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	source := newFakeSource()
	source.set("Rust", channels)

	if opts.Mode == "" {
		opts.Mode = ModePolling
	}
	trk := New(source, opts, logger)
	t.Cleanup(trk.Close)

	if _, err := trk.GetChannelsForGame(context.Background(), "Rust"); err != nil {
		t.Fatalf("seeding failed: %v", err)
	}
	return trk, source
}

// playback injects one playback payload the way a shard read loop would.
func playback(trk *Tracker, channelID, payload string) {
	trk.mu.Lock()
	trk.handlePlaybackLocked(channelID, []byte(payload))
	em := trk.drainLocked()
	trk.mu.Unlock()
	trk.deliver(em)
}

func snapshotIDs(trk *Tracker, game string) []string {
	trk.mu.Lock()
	defer trk.mu.Unlock()
	entry, ok := trk.games[game]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(entry.channels))
	for _, c := range entry.channels {
		ids = append(ids, c.ID)
	}
	return ids
}

func indexed(trk *Tracker, channelID string) bool {
	trk.mu.Lock()
	defer trk.mu.Unlock()
	_, ok := trk.channelGames[channelID]
	return ok
}

func TestStreamDownRemovesFromList(t *testing.T) {
	trk, _ := seedTracker(t, Options{FallbackRefreshInterval: time.Hour},
		ch("1", 100), ch("2", 50))

	events := make(chan model.DiffEvent, 4)
	trk.OnDiff(func(ev model.DiffEvent) { events <- ev })

	playback(trk, "1", `{"type":"stream-down"}`)

	select {
	case ev := <-events:
		if ev.Reason != model.ReasonStreamDown || ev.Source != model.SourceRealtime {
			t.Errorf("unexpected event metadata: %+v", ev)
		}
		if len(ev.RemovedIDs) != 1 || ev.RemovedIDs[0] != "1" {
			t.Errorf("unexpected removed ids: %v", ev.RemovedIDs)
		}
	case <-time.After(time.Second):
		t.Fatal("stream-down diff never delivered")
	}

	ids := snapshotIDs(trk, "Rust")
	if len(ids) != 1 || ids[0] != "2" {
		t.Errorf("unexpected remaining channels: %v", ids)
	}

	// Within the grace period the channel stays indexed.
	if !indexed(trk, "1") {
		t.Error("channel left the index before the grace period elapsed")
	}
}

func TestOfflineGraceExpiryDropsChannel(t *testing.T) {
	trk, _ := seedTracker(t, Options{
		FallbackRefreshInterval: time.Hour,
		OfflineGrace:            20 * time.Millisecond,
	}, ch("1", 100), ch("2", 50))

	playback(trk, "1", `{"type":"stream-down"}`)

	waitFor(t, 2*time.Second, func() bool {
		return !indexed(trk, "1")
	}, "channel never left the index after the grace period")

	trk.mu.Lock()
	_, desired := trk.desiredSet["1"]
	trk.mu.Unlock()
	if desired {
		t.Error("dropped channel still in the desired topic set")
	}
}

func TestStreamUpRestoresChannel(t *testing.T) {
	trk, _ := seedTracker(t, Options{
		FallbackRefreshInterval: time.Hour,
		OfflineGrace:            time.Hour,
	}, ch("1", 100), ch("2", 50))

	playback(trk, "1", `{"type":"stream-down"}`)
	playback(trk, "1", `{"type":"stream-up"}`)

	ids := snapshotIDs(trk, "Rust")
	if len(ids) != 2 {
		t.Fatalf("expected channel restored, got %v", ids)
	}

	trk.mu.Lock()
	_, pending := trk.offlinePending["1"]
	trk.mu.Unlock()
	if pending {
		t.Error("offline marker survived a stream-up")
	}
}

func TestFreshSnapshotClearsOfflineMarker(t *testing.T) {
	trk, source := seedTracker(t, Options{
		FallbackRefreshInterval: time.Nanosecond,
		OfflineGrace:            50 * time.Millisecond,
	}, ch("1", 100))

	playback(trk, "1", `{"type":"stream-down"}`)

	// A fresh fetch listing the channel voids the pending removal.
	source.set("Rust", []model.ChannelInfo{ch("1", 100)})
	if _, err := trk.GetChannelsForGame(context.Background(), "Rust"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if !indexed(trk, "1") {
		t.Error("grace timer removed a channel a fresh snapshot had restored")
	}
}

func TestViewerCountSynonyms(t *testing.T) {
	payloads := []string{
		`{"type":"viewcount","viewers":10}`,
		`{"type":"viewcount","viewer_count":20}`,
		`{"type":"viewcount","viewcount":30}`,
		`{"type":"viewcount","count":40}`,
	}

	for i, payload := range payloads {
		trk, _ := seedTracker(t, Options{FallbackRefreshInterval: time.Hour}, ch("1", 5))

		playback(trk, "1", payload)

		trk.mu.Lock()
		got := trk.channelDetails["1"].ViewerCount
		trk.mu.Unlock()
		want := (i + 1) * 10
		if got != want {
			t.Errorf("payload %d: viewer count %d, want %d", i, got, want)
		}
	}
}

func TestViewerUpdateIgnored(t *testing.T) {
	trk, _ := seedTracker(t, Options{FallbackRefreshInterval: time.Hour}, ch("1", 5))

	events := make(chan model.DiffEvent, 4)
	trk.OnDiff(func(ev model.DiffEvent) { events <- ev })

	// Negative counts, unknown channels, and junk payloads all no-op.
	playback(trk, "1", `{"type":"viewcount","viewers":-3}`)
	playback(trk, "1", `{"type":"viewcount"}`)
	playback(trk, "unknown", `{"type":"viewcount","viewers":50}`)
	playback(trk, "1", `not json at all`)

	select {
	case ev := <-events:
		t.Errorf("unexpected diff delivered: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	trk.mu.Lock()
	got := trk.channelDetails["1"].ViewerCount
	trk.mu.Unlock()
	if got != 5 {
		t.Errorf("viewer count changed to %d", got)
	}
}

func TestViewerUpdateEqualValueNoDiff(t *testing.T) {
	trk, _ := seedTracker(t, Options{FallbackRefreshInterval: time.Hour}, ch("1", 5))

	events := make(chan model.DiffEvent, 4)
	trk.OnDiff(func(ev model.DiffEvent) { events <- ev })

	playback(trk, "1", `{"type":"viewcount","viewers":5}`)

	select {
	case ev := <-events:
		t.Errorf("diff delivered for unchanged viewer count: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
