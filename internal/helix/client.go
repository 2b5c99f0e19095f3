// Package helix is the thin HTTP client for the upstream channel API:
// live channel lists per game and OAuth token validation. It is
// deliberately dumb; all caching and prioritization lives in tracker.
package helix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dropscout/dropscout/internal/model"
)

// Client talks to the channel API with a shared rate limiter, since the
// upstream enforces a token-bucket quota across all request kinds.
type Client struct {
	httpClient *http.Client
	apiURL     string
	authURL    string
	clientID   string
	token      string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

// Identity is the result of a token validation call.
type Identity struct {
	UserID string `json:"user_id"`
	Login  string `json:"login"`
}

type streamsResponse struct {
	Data []struct {
		ID           string `json:"id"`
		UserID       string `json:"user_id"`
		UserLogin    string `json:"user_login"`
		UserName     string `json:"user_name"`
		GameName     string `json:"game_name"`
		Title        string `json:"title"`
		ViewerCount  int    `json:"viewer_count"`
		Language     string `json:"language"`
		ThumbnailURL string `json:"thumbnail_url"`
	} `json:"data"`
}

func NewClient(apiURL, authURL, clientID, token string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		apiURL:     apiURL,
		authURL:    authURL,
		clientID:   clientID,
		token:      token,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// GetChannelsForGame returns the currently live, drops-eligible channels
// for a game. Empty results are normal and not an error.
func (c *Client) GetChannelsForGame(ctx context.Context, game string) ([]model.ChannelInfo, error) {
	reqURL := fmt.Sprintf("%s/streams?game_name=%s&first=100", c.apiURL, url.QueryEscape(game))

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var resp streamsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding streams response: %w", err)
	}

	channels := make([]model.ChannelInfo, 0, len(resp.Data))
	for _, s := range resp.Data {
		channels = append(channels, model.ChannelInfo{
			ID:          s.UserID,
			Login:       s.UserLogin,
			DisplayName: s.UserName,
			StreamID:    s.ID,
			Title:       s.Title,
			ViewerCount: s.ViewerCount,
			Language:    s.Language,
			Thumbnail:   s.ThumbnailURL,
			Game:        s.GameName,
		})
	}
	return channels, nil
}

// ValidateToken resolves the identity behind the configured token. The
// user watcher calls this on its sync cadence to notice token rotation.
func (c *Client) ValidateToken(ctx context.Context) (Identity, string, error) {
	body, err := c.get(ctx, c.authURL+"/oauth2/validate")
	if err != nil {
		return Identity{}, "", err
	}

	var ident Identity
	if err := json.Unmarshal(body, &ident); err != nil {
		return Identity{}, "", fmt.Errorf("decoding validate response: %w", err)
	}
	return ident, c.token, nil
}

// get performs one rate-limited GET with an exponential-delay retry
// loop: retry on 429 and 5xx, fail fast on everything else.
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	c.logger.Debug("requesting", zap.String("url", reqURL))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Client-Id", c.clientID)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, ErrUnauthorized

		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound

		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue

		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue

		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
