// Package refresh exchanges a session token for a fresh one.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.pilab.hu/standhub/domain"
	serrors "go.pilab.hu/standhub/errors"
	"go.pilab.hu/standhub/internal/httpx"
	"go.pilab.hu/standhub/internal/metrics"
	"go.pilab.hu/standhub/log"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second

	refreshPath = "/refresh-auth-token"
	logoutPath  = "/logout"
)

// Config configures a Client.
type Config struct {
	BaseURL      string
	MaxRetries   int // retries after the first attempt
	InitialDelay time.Duration
	HTTPClient   httpx.Doer
	Sleep        SleepFunc
	Logger       log.Logger
	Metrics      *metrics.Metrics
}

// Client calls the refresh endpoint with bounded exponential backoff.
type Client struct {
	url     string
	logout  string
	http    httpx.Doer
	delays  []time.Duration
	sleep   SleepFunc
	logger  log.Logger
	metrics *metrics.Metrics
}

type refreshResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"` // epoch milliseconds
	UserID    string `json:"userId"`
}

// New creates a Client. A negative MaxRetries disables retries; zero values
// of MaxRetries and InitialDelay use the defaults.
func New(cfg Config) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	initialDelay := cfg.InitialDelay
	if initialDelay <= 0 {
		initialDelay = DefaultInitialDelay
	}

	c := &Client{
		url:     httpx.Join(cfg.BaseURL, refreshPath),
		logout:  httpx.Join(cfg.BaseURL, logoutPath),
		http:    cfg.HTTPClient,
		delays:  Schedule(maxRetries, initialDelay),
		sleep:   cfg.Sleep,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if c.http == nil {
		c.http = httpx.NewClient(15 * time.Second)
	}
	if c.sleep == nil {
		c.sleep = Sleep
	}
	if c.logger == nil {
		c.logger = log.NewNop()
	}
	return c
}

// RefreshToken exchanges currentToken for a new record.
//
// A 401 fails immediately with an error matching serrors.ErrUnauthorized.
// Any other failure, including a response without token or expiresAt, is
// retried; once retries are exhausted the error matches
// serrors.ErrRefreshFailed and never ErrUnauthorized.
func (c *Client) RefreshToken(ctx context.Context, currentToken string) (*domain.TokenRecord, error) {
	if currentToken == "" {
		return nil, fmt.Errorf("%w: %w", serrors.ErrRefreshFailed, serrors.ErrNoSession)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		rec, err := c.attempt(ctx, currentToken)
		if err == nil {
			c.metrics.Refresh(metrics.OutcomeSuccess)
			return rec, nil
		}
		if errors.Is(err, serrors.ErrUnauthorized) {
			c.metrics.Refresh(metrics.OutcomeUnauthorized)
			return nil, err
		}
		lastErr = err

		if attempt >= len(c.delays) {
			break
		}
		delay := c.delays[attempt]
		c.logger.Warn(ctx, "Token refresh attempt failed, retrying", map[string]interface{}{
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		if err := c.sleep(ctx, delay); err != nil {
			c.metrics.Refresh(metrics.OutcomeFailure)
			return nil, fmt.Errorf("%w: %w", serrors.ErrRefreshFailed, err)
		}
	}

	c.metrics.Refresh(metrics.OutcomeFailure)
	return nil, fmt.Errorf("%w after %d attempts: %w", serrors.ErrRefreshFailed, len(c.delays)+1, lastErr)
}

func (c *Client) attempt(ctx context.Context, token string) (*domain.TokenRecord, error) {
	resp, err := httpx.PostJSON(ctx, c.http, c.url, token, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized {
		return nil, fmt.Errorf("refresh rejected: %w", resp.Err())
	}
	if !resp.OK() {
		return nil, resp.Err()
	}

	var body refreshResponse
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	if body.Token == "" || body.ExpiresAt <= 0 {
		return nil, fmt.Errorf("%w: refresh response without token or expiresAt", serrors.ErrInvalidResponse)
	}
	return &domain.TokenRecord{
		Token:     body.Token,
		ExpiresAt: time.UnixMilli(body.ExpiresAt),
		UserID:    body.UserID,
	}, nil
}

// Revoke asks the identity provider to end the session of token. A 401
// means the session was already gone and is not an error. Revoke is not
// retried.
func (c *Client) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	resp, err := httpx.PostJSON(ctx, c.http, c.logout, token, nil)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if resp.OK() || resp.Unauthorized() {
		return nil
	}
	return fmt.Errorf("revoke session: %w", resp.Err())
}
