package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a frame to the service.
	writeWait = 10 * time.Second

	// Maximum frame size accepted from the service.
	maxMessageSize = 512 * 1024 // 512KB

	// DefaultPingInterval is the keepalive cadence. The service drops
	// connections that stay silent for around five minutes.
	DefaultPingInterval = 3 * time.Minute
)

// Conn is one live socket session against the topic service. Frames are
// delivered to onFrame from a single goroutine, in arrival order. When
// the session ends for any reason onClose fires exactly once.
type Conn struct {
	ws           *websocket.Conn
	logger       *zap.Logger
	onFrame      func(Response)
	onClose      func(error)
	pingInterval time.Duration

	writeMu      sync.Mutex
	done         chan struct{}
	closeOnce    sync.Once
	awaitingPong atomic.Bool
}

// Dial opens a socket session and starts its read and keepalive loops.
// pingInterval <= 0 selects DefaultPingInterval.
func Dial(ctx context.Context, url string, pingInterval time.Duration, logger *zap.Logger, onFrame func(Response), onClose func(error)) (*Conn, error) {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(maxMessageSize)

	c := &Conn{
		ws:           ws,
		logger:       logger,
		onFrame:      onFrame,
		onClose:      onClose,
		pingInterval: pingInterval,
		done:         make(chan struct{}),
	}

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// Send writes a frame to the service. Safe for concurrent use.
func (c *Conn) Send(req Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(req)
}

// Close tears down the session. Idempotent; the onClose callback still
// fires (once) via the read loop.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// readLoop delivers inbound frames until the socket dies. Non-JSON
// frames are dropped; they are a service bug, not ours.
func (c *Conn) readLoop() {
	var readErr error
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}

		resp, err := ParseFrame(data)
		if err != nil {
			c.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}

		if resp.Type == TypePong {
			c.awaitingPong.Store(false)
		}
		c.onFrame(resp)
	}

	c.Close()
	if c.onClose != nil {
		c.onClose(readErr)
	}
}

// pingLoop sends keepalive pings. A ping that is never answered before
// the next tick means the session is dead even if TCP disagrees.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.awaitingPong.Load() {
				c.logger.Debug("pong overdue, closing session")
				c.Close()
				return
			}
			c.awaitingPong.Store(true)
			if err := c.Send(PingRequest()); err != nil {
				c.Close()
				return
			}
		}
	}
}
