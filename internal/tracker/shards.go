package tracker

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dropscout/dropscout/internal/pubsub"
)

type shardState int

const (
	shardDisconnected shardState = iota
	shardConnecting
	shardConnected
)

func (s shardState) String() string {
	switch s {
	case shardConnecting:
		return "connecting"
	case shardConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// shard is one socket in the pool together with the topics it carries.
// epoch invalidates callbacks from dead sessions: every dial and every
// teardown bumps it, and callbacks from an older epoch are ignored.
type shard struct {
	id    int
	state shardState
	epoch uint64
	conn  *pubsub.Conn

	assigned   map[string]struct{} // channel ids this shard should carry
	subscribed map[string]struct{} // channel ids currently on the wire

	attempts       int
	reconnectTimer *time.Timer
}

func newShard(id int) *shard {
	return &shard{
		id:         id,
		assigned:   make(map[string]struct{}),
		subscribed: make(map[string]struct{}),
	}
}

// assignTopics distributes desired channel ids across shardCount shards
// with at most capacity ids each. Ids keep their previous shard when it
// is still active and has room; everything else lands on
// hash(id) mod shardCount with linear probing. Ids that fit nowhere are
// dropped until the next recomputation. Pure.
func assignTopics(desired []string, prev map[string]int, shardCount, capacity int) [][]string {
	if shardCount <= 0 {
		return nil
	}

	plans := make([][]string, shardCount)
	load := make([]int, shardCount)
	placed := make(map[string]struct{}, len(desired))

	// Stability pass: existing placements win.
	for _, id := range desired {
		if idx, ok := prev[id]; ok && idx < shardCount && load[idx] < capacity {
			plans[idx] = append(plans[idx], id)
			load[idx]++
			placed[id] = struct{}{}
		}
	}

	// Placement pass for everything new or displaced.
	for _, id := range desired {
		if _, ok := placed[id]; ok {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(id))
		start := int(h.Sum32() % uint32(shardCount))
		for off := 0; off < shardCount; off++ {
			idx := (start + off) % shardCount
			if load[idx] < capacity {
				plans[idx] = append(plans[idx], id)
				load[idx]++
				break
			}
		}
	}

	return plans
}

// reconcileLocked drives every shard toward the desired topic set:
// spins up the needed shard count, tears down the rest, and issues
// subscribe/unsubscribe batches on the connected ones.
func (t *Tracker) reconcileLocked() {
	if t.disposed {
		return
	}
	if t.effectiveModeLocked() == ModePolling {
		for _, s := range t.shards {
			t.disconnectShardLocked(s)
			s.assigned = make(map[string]struct{})
		}
		return
	}

	active := 0
	if n := len(t.desired); n > 0 {
		active = (n + pubsub.TopicsPerConnection - 1) / pubsub.TopicsPerConnection
		if active > len(t.shards) {
			active = len(t.shards)
		}
	}

	prev := make(map[string]int)
	for i, s := range t.shards {
		for id := range s.assigned {
			prev[id] = i
		}
	}
	plans := assignTopics(t.desired, prev, active, pubsub.TopicsPerConnection)

	for i, s := range t.shards {
		if i >= active {
			t.disconnectShardLocked(s)
			s.assigned = make(map[string]struct{})
			continue
		}

		s.assigned = make(map[string]struct{}, len(plans[i]))
		for _, id := range plans[i] {
			s.assigned[id] = struct{}{}
		}

		switch s.state {
		case shardDisconnected:
			if s.reconnectTimer == nil {
				t.startConnectLocked(s)
			}
		case shardConnected:
			t.syncShardLocked(s)
		}
		// connecting: full subscribe happens on open
	}
}

func (t *Tracker) startConnectLocked(s *shard) {
	s.epoch++
	s.state = shardConnecting
	epoch := s.epoch
	t.logger.Debug("shard connecting", zap.Int("shard", s.id))
	go t.dialShard(s, epoch)
}

// dialShard runs without the tracker lock; it reacquires it to publish
// the result and is a no-op if the shard moved on in the meantime.
func (t *Tracker) dialShard(s *shard, epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), t.opts.DialTimeout)
	defer cancel()

	conn, err := pubsub.Dial(ctx, t.opts.PubSubURL, t.opts.PingInterval, t.logger,
		func(r pubsub.Response) { t.handleShardFrame(s, epoch, r) },
		func(cerr error) { t.handleShardClosed(s, epoch, cerr) },
	)

	t.mu.Lock()
	if t.disposed || s.epoch != epoch {
		t.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		s.state = shardDisconnected
		t.lastErrorMessage = err.Error()
		t.logger.Warn("shard dial failed", zap.Int("shard", s.id), zap.Error(err))
		t.scheduleReconnectLocked(s)
		t.mu.Unlock()
		return
	}

	if t.fallbackActiveLocked() {
		s.epoch++
		s.state = shardDisconnected
		t.mu.Unlock()
		conn.Close()
		return
	}

	s.conn = conn
	s.state = shardConnected
	s.attempts = 0
	s.subscribed = make(map[string]struct{})
	t.logger.Info("shard connected", zap.Int("shard", s.id), zap.Int("topics", len(s.assigned)))
	t.syncShardLocked(s)
	t.mu.Unlock()
}

// handleShardClosed runs when a shard's socket session ends, expected
// or not.
func (t *Tracker) handleShardClosed(s *shard, epoch uint64, err error) {
	t.mu.Lock()
	if t.disposed || s.epoch != epoch {
		t.mu.Unlock()
		return
	}

	s.epoch++
	s.conn = nil
	s.state = shardDisconnected
	s.subscribed = make(map[string]struct{})
	if err != nil {
		t.lastErrorMessage = err.Error()
		t.logger.Debug("shard closed", zap.Int("shard", s.id), zap.Error(err))
	}

	if t.fallbackActiveLocked() || t.effectiveModeLocked() == ModePolling {
		t.mu.Unlock()
		return
	}
	t.scheduleReconnectLocked(s)
	t.mu.Unlock()
}

// handleShardFrame classifies one inbound frame. Frames the tracker
// does not recognize are ignored.
func (t *Tracker) handleShardFrame(s *shard, epoch uint64, r pubsub.Response) {
	t.mu.Lock()
	if t.disposed || s.epoch != epoch {
		t.mu.Unlock()
		return
	}

	switch r.Type {
	case pubsub.TypePong:
		// Health bookkeeping lives in the conn.
		t.mu.Unlock()

	case pubsub.TypeReconnect:
		t.logger.Info("service requested reconnect", zap.Int("shard", s.id))
		conn := s.conn
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}

	case pubsub.TypeResponse:
		if r.Error == "" {
			t.mu.Unlock()
			return
		}
		t.failures++
		t.lastErrorMessage = r.Error
		if isUpstreamRejection(r.Error) {
			t.logger.Warn("upstream rejected the connection, entering fallback",
				zap.Int("shard", s.id), zap.String("error", r.Error))
			t.enterFallbackLocked("upstream rejection: " + r.Error)
		} else {
			t.logger.Warn("subscribe request failed",
				zap.Int("shard", s.id), zap.String("error", r.Error))
		}
		t.mu.Unlock()

	case pubsub.TypeMessage:
		md, err := pubsub.ParseMessageData(r.Data)
		if err != nil {
			t.logger.Debug("dropping malformed message frame", zap.Error(err))
			t.mu.Unlock()
			return
		}
		if strings.HasPrefix(md.Topic, pubsub.TopicPlaybackPrefix) {
			channelID := strings.TrimPrefix(md.Topic, pubsub.TopicPlaybackPrefix)
			t.handlePlaybackLocked(channelID, []byte(md.Message))
		}
		em := t.drainLocked()
		t.mu.Unlock()
		t.deliver(em)

	default:
		t.mu.Unlock()
	}
}

// scheduleReconnectLocked arms the backoff timer for a dead shard, or
// drops the whole tracker into polling fallback once the shard has
// burned through its attempt budget.
func (t *Tracker) scheduleReconnectLocked(s *shard) {
	s.attempts++
	t.reconnectAttempts++

	if s.attempts >= t.opts.FallbackAfterReconnectAttempts {
		t.logger.Warn("shard exhausted reconnect attempts, entering fallback",
			zap.Int("shard", s.id), zap.Int("attempts", s.attempts))
		t.enterFallbackLocked("reconnect attempts exhausted")
		return
	}

	delay := pubsub.ReconnectDelay(s.attempts, t.opts.BackoffBase)
	t.logger.Debug("scheduling shard reconnect",
		zap.Int("shard", s.id), zap.Int("attempt", s.attempts), zap.Duration("delay", delay))

	s.reconnectTimer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		s.reconnectTimer = nil
		if t.disposed || t.fallbackActiveLocked() ||
			t.effectiveModeLocked() == ModePolling || s.state != shardDisconnected {
			t.mu.Unlock()
			return
		}
		t.startConnectLocked(s)
		t.mu.Unlock()
	})
}

// syncShardLocked brings a connected shard's wire subscriptions in line
// with its assignment, batching at the per-frame topic ceiling.
func (t *Tracker) syncShardLocked(s *shard) {
	if s.conn == nil {
		return
	}

	var toSub, toUnsub []string
	for id := range s.assigned {
		if _, ok := s.subscribed[id]; !ok {
			toSub = append(toSub, id)
		}
	}
	for id := range s.subscribed {
		if _, ok := s.assigned[id]; !ok {
			toUnsub = append(toUnsub, id)
		}
	}
	sort.Strings(toSub)
	sort.Strings(toUnsub)

	for _, batch := range pubsub.BatchTopics(playbackTopics(toUnsub)) {
		if err := s.conn.Send(pubsub.UnlistenRequest(batch, t.opts.AuthToken)); err != nil {
			t.lastErrorMessage = err.Error()
			t.logger.Warn("unlisten failed", zap.Int("shard", s.id), zap.Error(err))
		}
	}
	for _, batch := range pubsub.BatchTopics(playbackTopics(toSub)) {
		if err := s.conn.Send(pubsub.ListenRequest(batch, t.opts.AuthToken)); err != nil {
			t.lastErrorMessage = err.Error()
			t.logger.Warn("listen failed", zap.Int("shard", s.id), zap.Error(err))
		}
	}

	s.subscribed = make(map[string]struct{}, len(s.assigned))
	for id := range s.assigned {
		s.subscribed[id] = struct{}{}
	}
}

// disconnectShardLocked tears a shard down without scheduling a
// reconnect. The epoch bump silences the session's late callbacks.
func (t *Tracker) disconnectShardLocked(s *shard) {
	s.epoch++
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.state = shardDisconnected
	s.subscribed = make(map[string]struct{})
	s.attempts = 0
}

func playbackTopics(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	topics := make([]string, len(ids))
	for i, id := range ids {
		topics[i] = pubsub.PlaybackTopic(id)
	}
	return topics
}
