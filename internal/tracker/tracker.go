// Package tracker keeps a near-real-time view of which channels are
// live for each watched game. It layers a snapshot cache and a
// game/channel cross-reference index under a sharded pubsub
// subscription pool, degrades to periodic polling when the realtime
// service is unusable, and emits minimal diffs to listeners.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropscout/dropscout/internal/model"
	"github.com/dropscout/dropscout/internal/pubsub"
)

// Tracker modes. Hybrid prefers realtime with polling as a fallback;
// polling never opens sockets.
const (
	ModeRealtime = "realtime"
	ModePolling  = "polling"
	ModeHybrid   = "hybrid"
)

// capWarnInterval rate-limits the "more candidates than topic slots"
// warning, which otherwise fires on every recomputation.
const capWarnInterval = 60 * time.Second

// ErrDisposed is returned by calls made after Close.
var ErrDisposed = errors.New("tracker disposed")

// ChannelSource fetches the current live channel list for a game. The
// production implementation is helix.Client; tests inject fakes.
type ChannelSource interface {
	GetChannelsForGame(ctx context.Context, game string) ([]model.ChannelInfo, error)
}

// Options configures a Tracker. Zero fields take defaults.
type Options struct {
	Mode       string
	PubSubURL  string
	AuthToken  string
	MaxSockets int

	// MaxTrackedTopics is the global subscription cap. Must not exceed
	// MaxSockets * pubsub.TopicsPerConnection.
	MaxTrackedTopics int

	RefreshInterval         time.Duration // snapshot freshness window in realtime mode
	FallbackRefreshInterval time.Duration // shorter window while polling

	FallbackAfterReconnectAttempts int
	FallbackCooldown               time.Duration
	OfflineGrace                   time.Duration

	BackoffBase  time.Duration // reconnect backoff base, shrunk in tests
	PingInterval time.Duration
	DialTimeout  time.Duration

	// FallbackHook, if set, is invoked (on its own goroutine) whenever
	// the tracker enters polling fallback.
	FallbackHook func(until time.Time)
}

func (o *Options) withDefaults() {
	if o.Mode == "" {
		o.Mode = ModeHybrid
	}
	if o.MaxSockets <= 0 {
		o.MaxSockets = 3
	}
	if o.MaxTrackedTopics <= 0 {
		o.MaxTrackedTopics = 120
	}
	if max := o.MaxSockets * pubsub.TopicsPerConnection; o.MaxTrackedTopics > max {
		o.MaxTrackedTopics = max
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 2 * time.Minute
	}
	if o.FallbackRefreshInterval <= 0 {
		o.FallbackRefreshInterval = 30 * time.Second
	}
	if o.FallbackAfterReconnectAttempts <= 0 {
		o.FallbackAfterReconnectAttempts = 8
	}
	if o.FallbackCooldown <= 0 {
		o.FallbackCooldown = 30 * time.Minute
	}
	if o.OfflineGrace <= 0 {
		o.OfflineGrace = 3 * time.Minute
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = pubsub.DefaultBackoffBase
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 15 * time.Second
	}
}

// gameEntry is the cached snapshot for one game.
type gameEntry struct {
	channels    []model.ChannelInfo
	refreshedAt time.Time
}

// Tracker is safe for concurrent use. All state lives behind mu; socket
// read loops and timers funnel their mutations through it, and diff
// events queued during a mutation are delivered after the lock is
// released so listeners may call back into the tracker.
type Tracker struct {
	opts   Options
	source ChannelSource
	logger *zap.Logger

	mu       sync.Mutex
	disposed bool

	games          map[string]*gameEntry
	channelGames   map[string]map[string]struct{} // channel id -> games showing it
	channelDetails map[string]model.ChannelInfo
	offlinePending map[string]time.Time

	desired    []string // ranked best-first, capped at MaxTrackedTopics
	desiredSet map[string]struct{}
	shards     []*shard

	fallbackUntil time.Time
	fallbackTimer *time.Timer
	lastCapWarn   time.Time

	listeners      map[int]func(model.DiffEvent)
	nextListenerID int
	pending        []model.DiffEvent

	requests          int
	failures          int
	reconnectAttempts int
	lastErrorMessage  string
}

// New creates a Tracker. No sockets are opened until the first game is
// queried; everything is built lazily and torn down by Close.
func New(source ChannelSource, opts Options, logger *zap.Logger) *Tracker {
	opts.withDefaults()

	t := &Tracker{
		opts:           opts,
		source:         source,
		logger:         logger,
		games:          make(map[string]*gameEntry),
		channelGames:   make(map[string]map[string]struct{}),
		channelDetails: make(map[string]model.ChannelInfo),
		offlinePending: make(map[string]time.Time),
		desiredSet:     make(map[string]struct{}),
		listeners:      make(map[int]func(model.DiffEvent)),
	}
	for i := 0; i < opts.MaxSockets; i++ {
		t.shards = append(t.shards, newShard(i))
	}
	return t
}

// GetChannelsForGame returns the live channels for a game. A snapshot
// younger than the active refresh window is served from cache without
// touching the network; otherwise the channel source is awaited. When
// the source fails and a stale snapshot exists, the stale copy is
// served and the failure recorded in status.
func (t *Tracker) GetChannelsForGame(ctx context.Context, game string) ([]model.ChannelInfo, error) {
	if game == "" {
		return nil, errors.New("game name must not be empty")
	}

	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return nil, ErrDisposed
	}
	t.maybeExitFallbackLocked()

	if entry, ok := t.games[game]; ok && time.Since(entry.refreshedAt) < t.refreshWindowLocked() {
		snapshot := model.CloneChannels(entry.channels)
		// Ranking depends on relative game recency, so a cache hit
		// still recomputes the desired topic set.
		t.recomputeDesiredLocked()
		t.reconcileLocked()
		em := t.drainLocked()
		t.mu.Unlock()
		t.deliver(em)
		return snapshot, nil
	}
	t.mu.Unlock()

	channels, err := t.source.GetChannelsForGame(ctx, game)

	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return nil, ErrDisposed
	}
	t.requests++
	if err != nil {
		t.failures++
		t.lastErrorMessage = err.Error()
		if entry, ok := t.games[game]; ok {
			stale := model.CloneChannels(entry.channels)
			t.recomputeDesiredLocked()
			t.reconcileLocked()
			em := t.drainLocked()
			t.mu.Unlock()
			t.logger.Warn("channel source failed, serving stale snapshot",
				zap.String("game", game), zap.Error(err))
			t.deliver(em)
			return stale, nil
		}
		t.mu.Unlock()
		return nil, fmt.Errorf("fetching channels for %q: %w", game, err)
	}

	snapshot := t.applySnapshotLocked(game, channels)
	em := t.drainLocked()
	t.mu.Unlock()
	t.deliver(em)
	return snapshot, nil
}

// OnDiff registers a listener for channel list deltas and returns its
// disposer. Listeners are invoked synchronously by the mutating
// handler; a panicking listener is recovered and logged.
func (t *Tracker) OnDiff(listener func(model.DiffEvent)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextListenerID
	t.nextListenerID++
	t.listeners[id] = listener

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Close tears down all sockets and timers. Idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	if t.fallbackTimer != nil {
		t.fallbackTimer.Stop()
		t.fallbackTimer = nil
	}
	for _, s := range t.shards {
		t.disconnectShardLocked(s)
	}
	t.listeners = make(map[int]func(model.DiffEvent))
	t.pending = nil
	t.mu.Unlock()

	t.logger.Info("tracker disposed")
}

// recomputeDesiredLocked ranks every indexed channel id and keeps the
// top MaxTrackedTopics as the desired topic set.
func (t *Tracker) recomputeDesiredLocked() {
	cands := make([]candidate, 0, len(t.channelGames))
	for id, games := range t.channelGames {
		var recency time.Time
		for g := range games {
			if e, ok := t.games[g]; ok && e.refreshedAt.After(recency) {
				recency = e.refreshedAt
			}
		}
		_, offline := t.offlinePending[id]
		det := t.channelDetails[id]
		cands = append(cands, candidate{
			id:             id,
			recency:        recency,
			offlinePending: offline,
			subscribed:     t.isSubscribedLocked(id),
			viewers:        det.ViewerCount,
			displayName:    det.DisplayName,
		})
	}

	ranked := rankCandidates(cands)
	if len(ranked) > t.opts.MaxTrackedTopics {
		if time.Since(t.lastCapWarn) >= capWarnInterval {
			t.lastCapWarn = time.Now()
			t.logger.Warn("more candidate channels than topic slots",
				zap.Int("candidates", len(ranked)),
				zap.Int("limit", t.opts.MaxTrackedTopics))
		}
		ranked = ranked[:t.opts.MaxTrackedTopics]
	}

	t.desired = ranked
	t.desiredSet = make(map[string]struct{}, len(ranked))
	for _, id := range ranked {
		t.desiredSet[id] = struct{}{}
	}
}

func (t *Tracker) isSubscribedLocked(id string) bool {
	for _, s := range t.shards {
		if _, ok := s.subscribed[id]; ok {
			return true
		}
	}
	return false
}

// queueDiffLocked stages a diff event for delivery after the lock is
// released. Empty deltas are never emitted.
func (t *Tracker) queueDiffLocked(game string, source model.DiffSource, reason model.DiffReason, d Delta) {
	if d.Empty() {
		return
	}
	t.pending = append(t.pending, model.DiffEvent{
		Game:       game,
		At:         time.Now(),
		Source:     source,
		Reason:     reason,
		Added:      d.Added,
		RemovedIDs: d.RemovedIDs,
		Updated:    d.Updated,
	})
}

// emission pairs staged events with a snapshot of the listener set.
type emission struct {
	events    []model.DiffEvent
	listeners []func(model.DiffEvent)
}

func (t *Tracker) drainLocked() emission {
	if len(t.pending) == 0 {
		return emission{}
	}
	ev := t.pending
	t.pending = nil

	ls := make([]func(model.DiffEvent), 0, len(t.listeners))
	for _, l := range t.listeners {
		ls = append(ls, l)
	}
	return emission{events: ev, listeners: ls}
}

func (t *Tracker) deliver(e emission) {
	for _, ev := range e.events {
		for _, l := range e.listeners {
			t.safeNotify(l, ev)
		}
	}
}

// safeNotify keeps one bad observer from breaking the pipeline.
func (t *Tracker) safeNotify(l func(model.DiffEvent), ev model.DiffEvent) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("diff listener panicked", zap.Any("panic", r))
		}
	}()
	l(ev)
}
