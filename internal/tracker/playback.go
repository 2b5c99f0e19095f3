package tracker

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/dropscout/dropscout/internal/model"
)

// viewerFields are the field names the service has been observed to use
// for viewer telemetry, in lookup order.
var viewerFields = []string{"viewers", "viewer_count", "viewcount", "count"}

// handlePlaybackLocked applies one realtime playback message for a
// channel. Malformed or unrecognized payloads are dropped without
// error; the periodic refresh corrects any drift.
func (t *Tracker) handlePlaybackLocked(channelID string, payload []byte) {
	games := t.channelGames[channelID]
	if len(games) == 0 {
		return
	}

	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.logger.Debug("dropping malformed playback payload",
			zap.String("channel", channelID), zap.Error(err))
		return
	}

	msgType, _ := m["type"].(string)
	switch msgType {
	case "stream-down":
		t.handleStreamDownLocked(channelID, games)
	case "stream-up":
		t.handleStreamUpLocked(channelID, games)
	default:
		viewers, ok := extractViewerCount(m)
		if !ok {
			return
		}
		t.handleViewersLocked(channelID, games, viewers)
	}
}

// handleStreamDownLocked removes the channel from every associated
// game's list but keeps it in the index for the grace period, in case
// it comes straight back.
func (t *Tracker) handleStreamDownLocked(channelID string, games map[string]struct{}) {
	for game := range games {
		entry, ok := t.games[game]
		if !ok {
			continue
		}
		filtered := entry.channels[:0]
		removed := false
		for _, c := range entry.channels {
			if c.ID == channelID {
				removed = true
				continue
			}
			filtered = append(filtered, c)
		}
		if removed {
			entry.channels = filtered
			t.queueDiffLocked(game, model.SourceRealtime, model.ReasonStreamDown,
				Delta{RemovedIDs: []string{channelID}})
		}
	}

	markedAt := time.Now()
	t.offlinePending[channelID] = markedAt
	time.AfterFunc(t.opts.OfflineGrace, func() {
		t.offlineGraceExpired(channelID, markedAt)
	})
	t.logger.Debug("stream down", zap.String("channel", channelID))
}

// offlineGraceExpired fully removes a channel that never came back
// within the grace period. A fresh stream-up or snapshot clears or
// renews the marker, which voids this timer.
func (t *Tracker) offlineGraceExpired(channelID string, markedAt time.Time) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	ts, ok := t.offlinePending[channelID]
	if !ok || !ts.Equal(markedAt) {
		t.mu.Unlock()
		return
	}

	t.logger.Debug("offline grace expired, unsubscribing channel",
		zap.String("channel", channelID))
	t.dropChannelLocked(channelID)
	t.recomputeDesiredLocked()
	t.reconcileLocked()
	em := t.drainLocked()
	t.mu.Unlock()
	t.deliver(em)
}

// handleStreamUpLocked restores the channel into every associated
// game's list from cached details. Without details there is nothing to
// resynthesize; the next fetch picks the channel up.
func (t *Tracker) handleStreamUpLocked(channelID string, games map[string]struct{}) {
	delete(t.offlinePending, channelID)

	det, ok := t.channelDetails[channelID]
	if !ok {
		return
	}
	for game := range games {
		entry, ok := t.games[game]
		if !ok {
			continue
		}
		if containsChannel(entry.channels, channelID) {
			continue
		}
		entry.channels = append(entry.channels, det)
		t.queueDiffLocked(game, model.SourceRealtime, model.ReasonStreamUp,
			Delta{Added: []model.ChannelInfo{det}})
	}
	t.logger.Debug("stream up", zap.String("channel", channelID))
}

// handleViewersLocked applies a viewer-count update wherever the value
// actually changed.
func (t *Tracker) handleViewersLocked(channelID string, games map[string]struct{}, viewers int) {
	det, ok := t.channelDetails[channelID]
	if !ok || det.ViewerCount == viewers {
		return
	}
	det.ViewerCount = viewers
	t.channelDetails[channelID] = det

	for game := range games {
		entry, ok := t.games[game]
		if !ok {
			continue
		}
		for i := range entry.channels {
			if entry.channels[i].ID != channelID {
				continue
			}
			if entry.channels[i].ViewerCount != viewers {
				entry.channels[i].ViewerCount = viewers
				t.queueDiffLocked(game, model.SourceRealtime, model.ReasonViewers,
					Delta{Updated: []model.ChannelInfo{entry.channels[i]}})
			}
			break
		}
	}
}

func extractViewerCount(m map[string]any) (int, bool) {
	for _, f := range viewerFields {
		v, ok := m[f]
		if !ok {
			continue
		}
		if n, ok := v.(float64); ok && n >= 0 {
			return int(n), true
		}
	}
	return 0, false
}

func containsChannel(channels []model.ChannelInfo, id string) bool {
	for _, c := range channels {
		if c.ID == id {
			return true
		}
	}
	return false
}
