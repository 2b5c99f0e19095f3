// Package notify pushes drop lifecycle notifications through ntfy.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dropscout/dropscout/internal/config"
	"github.com/dropscout/dropscout/internal/model"
)

// Notifier is the interface for sending drop notifications.
type Notifier interface {
	SendDropClaim(ctx context.Context, ev model.UserEvent) error
	SendFallback(ctx context.Context, until time.Time) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     config.NotifyConfig
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg config.NotifyConfig, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// SendDropClaim announces that a drop became claimable.
func (c *Client) SendDropClaim(ctx context.Context, ev model.UserEvent) error {
	title := "Drop ready to claim"
	message := FormatDropClaimMessage(ev)
	tags := c.config.Tags + ",tada"

	return c.send(ctx, title, message, tags, c.config.Priority)
}

// SendFallback announces that the tracker lost its realtime feed and
// switched to polling.
func (c *Client) SendFallback(ctx context.Context, until time.Time) error {
	title := "Tracker degraded to polling"
	message := FormatFallbackMessage(until)
	tags := c.config.Tags + ",warning"
	priority := "high" // Override to high priority for degradation

	return c.send(ctx, title, message, tags, priority)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// SendDropClaim is a no-op.
func (n *NoopNotifier) SendDropClaim(_ context.Context, _ model.UserEvent) error {
	return nil
}

// SendFallback is a no-op.
func (n *NoopNotifier) SendFallback(_ context.Context, _ time.Time) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg config.NotifyConfig, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
