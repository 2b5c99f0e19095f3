package tracker

import (
	"time"

	"go.uber.org/zap"

	"github.com/dropscout/dropscout/internal/model"
)

// The cross-reference index is a small bidirectional graph: per-game
// snapshots on one side, channel id -> games on the other. Both sides
// are always mutated together through the helpers in this file.

// applySnapshotLocked installs a fresh fetch result for a game: swaps
// the snapshot, reindexes, stages the snapshot diff, and reconciles
// subscriptions. Returns a caller-safe clone of the new list.
func (t *Tracker) applySnapshotLocked(game string, channels []model.ChannelInfo) []model.ChannelInfo {
	entry, ok := t.games[game]
	if !ok {
		entry = &gameEntry{}
		t.games[game] = entry
	}
	prev := entry.channels

	next := model.CloneChannels(channels)
	entry.channels = next
	entry.refreshedAt = time.Now()

	nextIDs := make(map[string]struct{}, len(next))
	for _, c := range next {
		nextIDs[c.ID] = struct{}{}
		t.indexAddLocked(game, c.ID)
		t.channelDetails[c.ID] = c
		// A channel present in a fresh snapshot is live again, no
		// matter what a stale stream-down said.
		delete(t.offlinePending, c.ID)
	}
	for _, c := range prev {
		if _, ok := nextIDs[c.ID]; !ok {
			t.indexRemoveLocked(game, c.ID)
		}
	}

	t.queueDiffLocked(game, model.SourceFetch, model.ReasonSnapshot, Diff(prev, next))
	t.recomputeDesiredLocked()
	t.reconcileLocked()

	return model.CloneChannels(next)
}

// indexAddLocked records that a game currently shows a channel.
func (t *Tracker) indexAddLocked(game, channelID string) {
	games, ok := t.channelGames[channelID]
	if !ok {
		games = make(map[string]struct{})
		t.channelGames[channelID] = games
	}
	games[game] = struct{}{}
}

// indexRemoveLocked removes a game from a channel's reverse index. When
// the last game goes away the channel is dropped entirely, including
// its cached details and offline marker.
func (t *Tracker) indexRemoveLocked(game, channelID string) {
	games, ok := t.channelGames[channelID]
	if !ok {
		return
	}
	delete(games, game)
	if len(games) == 0 {
		t.dropChannelLocked(channelID)
	}
}

// dropChannelLocked erases every trace of a channel from the index.
func (t *Tracker) dropChannelLocked(channelID string) {
	delete(t.channelGames, channelID)
	delete(t.channelDetails, channelID)
	delete(t.offlinePending, channelID)
	t.logger.Debug("channel dropped from index", zap.String("channel", channelID))
}
