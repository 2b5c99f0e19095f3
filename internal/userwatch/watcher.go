package userwatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropscout/dropscout/internal/model"
	"github.com/dropscout/dropscout/internal/pubsub"
)

// AuthFunc resolves the user id and access token for the watched
// account, typically by hitting the token-validation endpoint.
type AuthFunc func(ctx context.Context) (userID, token string, err error)

// Options configures a Watcher. Zero fields take defaults.
type Options struct {
	PubSubURL                string
	AuthSyncInterval         time.Duration
	AllowedNotificationTypes []string
	BackoffBase              time.Duration
	PingInterval             time.Duration
	DialTimeout              time.Duration
}

func (o *Options) withDefaults() {
	if o.AuthSyncInterval <= 0 {
		o.AuthSyncInterval = 20 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = pubsub.DefaultBackoffBase
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 15 * time.Second
	}
}

// Watcher maintains one socket subscribed to the account's drop event
// and notification topics. There is no polling fallback here; when the
// connection dies it retries with backoff, forever. Token rotation
// (seen on the auth sync cadence) forces a reconnect.
type Watcher struct {
	opts   Options
	auth   AuthFunc
	logger *zap.Logger

	mu       sync.Mutex
	disposed bool
	userID   string
	token    string

	connected      bool
	connecting     bool
	epoch          uint64
	conn           *pubsub.Conn
	attempts       int
	reconnectTimer *time.Timer

	listeners      map[int]func(model.UserEvent)
	nextListenerID int

	stop     chan struct{}
	stopOnce sync.Once
}

func New(auth AuthFunc, opts Options, logger *zap.Logger) *Watcher {
	opts.withDefaults()
	return &Watcher{
		opts:      opts,
		auth:      auth,
		logger:    logger,
		listeners: make(map[int]func(model.UserEvent)),
		stop:      make(chan struct{}),
	}
}

// Start launches the auth sync loop, which also drives the initial
// connection once credentials resolve.
func (w *Watcher) Start() {
	go w.run()
}

// OnEvent registers a listener for classified user events and returns
// its disposer.
func (w *Watcher) OnEvent(listener func(model.UserEvent)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextListenerID
	w.nextListenerID++
	w.listeners[id] = listener

	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

// Close stops the watcher. Idempotent.
func (w *Watcher) Close() {
	w.stopOnce.Do(func() { close(w.stop) })

	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.disposed = true
	w.epoch++
	if w.reconnectTimer != nil {
		w.reconnectTimer.Stop()
		w.reconnectTimer = nil
	}
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.listeners = make(map[int]func(model.UserEvent))
	w.mu.Unlock()

	w.logger.Info("user watcher disposed")
}

func (w *Watcher) run() {
	w.syncAuth()
	ticker := time.NewTicker(w.opts.AuthSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.syncAuth()
		}
	}
}

// syncAuth refreshes the resolved credentials. Failures are retried on
// the next tick; they are never fatal.
func (w *Watcher) syncAuth() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userID, token, err := w.auth(ctx)
	if err != nil {
		w.logger.Warn("auth resolution failed", zap.Error(err))
		return
	}

	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}

	changed := (userID != w.userID || token != w.token) && w.userID != ""
	w.userID = userID
	w.token = token

	if changed && w.conn != nil {
		w.logger.Info("credentials changed, reconnecting", zap.String("user", userID))
		conn := w.conn
		w.epoch++
		w.conn = nil
		w.connected = false
		conn.Close()
	}

	if !w.connected && !w.connecting && w.reconnectTimer == nil && w.userID != "" {
		w.startConnectLocked()
	}
	w.mu.Unlock()
}

func (w *Watcher) startConnectLocked() {
	w.epoch++
	w.connecting = true
	epoch := w.epoch
	go w.dial(epoch)
}

func (w *Watcher) dial(epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.DialTimeout)
	defer cancel()

	conn, err := pubsub.Dial(ctx, w.opts.PubSubURL, w.opts.PingInterval, w.logger,
		func(r pubsub.Response) { w.handleFrame(epoch, r) },
		func(cerr error) { w.handleClosed(epoch, cerr) },
	)

	w.mu.Lock()
	// The dial attempt is over either way. Clearing the flag must not
	// depend on the epoch check: a session that dies the instant it
	// opens advances the epoch from its close callback, and leaving
	// connecting set would wedge every future reconnect path.
	w.connecting = false
	if w.disposed || w.epoch != epoch {
		w.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		w.logger.Warn("user watcher dial failed", zap.Error(err))
		w.scheduleReconnectLocked()
		w.mu.Unlock()
		return
	}

	w.conn = conn
	w.connected = true
	w.attempts = 0
	topics := []string{
		pubsub.DropEventsTopic(w.userID),
		pubsub.NotificationsTopic(w.userID),
	}
	if sendErr := conn.Send(pubsub.ListenRequest(topics, w.token)); sendErr != nil {
		w.logger.Warn("user watcher listen failed", zap.Error(sendErr))
	}
	w.logger.Info("user watcher connected", zap.String("user", w.userID))
	w.mu.Unlock()
}

func (w *Watcher) handleClosed(epoch uint64, err error) {
	w.mu.Lock()
	if w.disposed || w.epoch != epoch {
		w.mu.Unlock()
		return
	}
	w.epoch++
	w.conn = nil
	w.connected = false
	if err != nil {
		w.logger.Debug("user watcher connection closed", zap.Error(err))
	}
	w.scheduleReconnectLocked()
	w.mu.Unlock()
}

func (w *Watcher) handleFrame(epoch uint64, r pubsub.Response) {
	w.mu.Lock()
	if w.disposed || w.epoch != epoch {
		w.mu.Unlock()
		return
	}

	switch r.Type {
	case pubsub.TypeReconnect:
		w.logger.Info("service requested reconnect")
		conn := w.conn
		w.mu.Unlock()
		if conn != nil {
			conn.Close()
		}

	case pubsub.TypeResponse:
		if r.Error != "" {
			w.logger.Warn("user topic subscribe failed", zap.String("error", r.Error))
		}
		w.mu.Unlock()

	case pubsub.TypeMessage:
		md, err := pubsub.ParseMessageData(r.Data)
		if err != nil {
			w.logger.Debug("dropping malformed message frame", zap.Error(err))
			w.mu.Unlock()
			return
		}
		ev := ParseEvent(md.Topic, md.Message, w.opts.AllowedNotificationTypes)
		if ev == nil {
			w.mu.Unlock()
			return
		}
		ls := make([]func(model.UserEvent), 0, len(w.listeners))
		for _, l := range w.listeners {
			ls = append(ls, l)
		}
		w.mu.Unlock()
		for _, l := range ls {
			w.safeNotify(l, *ev)
		}

	default:
		w.mu.Unlock()
	}
}

func (w *Watcher) scheduleReconnectLocked() {
	w.attempts++
	delay := pubsub.ReconnectDelay(w.attempts, w.opts.BackoffBase)
	w.logger.Debug("scheduling user watcher reconnect",
		zap.Int("attempt", w.attempts), zap.Duration("delay", delay))

	w.reconnectTimer = time.AfterFunc(delay, func() {
		w.mu.Lock()
		w.reconnectTimer = nil
		if w.disposed || w.connected || w.connecting || w.userID == "" {
			w.mu.Unlock()
			return
		}
		w.startConnectLocked()
		w.mu.Unlock()
	})
}

func (w *Watcher) safeNotify(l func(model.UserEvent), ev model.UserEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("user event listener panicked", zap.Any("panic", r))
		}
	}()
	l(ev)
}
