// Package sso moves a session across domains with single-use exchange tokens.
//
// The source domain asks for an exchange token bound to a target domain and
// hands it over (usually in a redirect). The target domain redeems it once
// for a session token record of its own.
package sso

import (
	"context"
	"fmt"
	"time"

	"go.pilab.hu/standhub/domain"
	serrors "go.pilab.hu/standhub/errors"
	"go.pilab.hu/standhub/internal/httpx"
	"go.pilab.hu/standhub/log"
)

const (
	createPath = "/create-sso-token"
	verifyPath = "/verify-sso-token"
)

// ExchangeToken is a short-lived single-use token for one target domain.
type ExchangeToken struct {
	Token        string
	TargetDomain string
	ExpiresAt    time.Time
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	HTTPClient httpx.Doer
	Logger     log.Logger
}

// Client calls the exchange endpoints.
type Client struct {
	baseURL string
	http    httpx.Doer
	logger  log.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	c := &Client{baseURL: cfg.BaseURL, http: cfg.HTTPClient, logger: cfg.Logger}
	if c.http == nil {
		c.http = httpx.NewClient(15 * time.Second)
	}
	if c.logger == nil {
		c.logger = log.NewNop()
	}
	return c
}

type createRequest struct {
	TargetDomain string `json:"targetDomain"`
}

type createResponse struct {
	SSOToken  string `json:"ssoToken"`
	ExpiresAt int64  `json:"expiresAt"`
}

// CreateExchangeToken asks for an exchange token for targetDomain on behalf
// of sessionToken.
func (c *Client) CreateExchangeToken(ctx context.Context, sessionToken, targetDomain string) (*ExchangeToken, error) {
	if sessionToken == "" {
		return nil, fmt.Errorf("create sso token: %w", serrors.ErrNoSession)
	}
	if targetDomain == "" {
		return nil, fmt.Errorf("create sso token: %w: empty target domain", serrors.ErrInvalidArgument)
	}

	resp, err := httpx.PostJSON(ctx, c.http, httpx.Join(c.baseURL, createPath), sessionToken, createRequest{TargetDomain: targetDomain})
	if err != nil {
		return nil, fmt.Errorf("create sso token: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("create sso token: %w", resp.Err())
	}

	var body createResponse
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("create sso token: %w", err)
	}
	if body.SSOToken == "" {
		return nil, fmt.Errorf("create sso token: %w: missing ssoToken", serrors.ErrInvalidResponse)
	}

	c.logger.Debug(ctx, "SSO exchange token created", map[string]interface{}{"target_domain": targetDomain})
	return &ExchangeToken{
		Token:        body.SSOToken,
		TargetDomain: targetDomain,
		ExpiresAt:    time.UnixMilli(body.ExpiresAt),
	}, nil
}

type verifyRequest struct {
	SSOToken string `json:"ssoToken"`
}

type verifyResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
	UserID    string `json:"userId"`
}

// RedeemExchangeToken trades an exchange token for a session record. An
// unknown, expired or already used token fails with an error matching
// serrors.ErrUnauthorized.
func (c *Client) RedeemExchangeToken(ctx context.Context, exchangeToken string) (*domain.TokenRecord, error) {
	if exchangeToken == "" {
		return nil, fmt.Errorf("redeem sso token: %w: empty token", serrors.ErrInvalidArgument)
	}

	resp, err := httpx.PostJSON(ctx, c.http, httpx.Join(c.baseURL, verifyPath), "", verifyRequest{SSOToken: exchangeToken})
	if err != nil {
		return nil, fmt.Errorf("redeem sso token: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("redeem sso token: %w", resp.Err())
	}

	var body verifyResponse
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("redeem sso token: %w", err)
	}
	if body.Token == "" || body.ExpiresAt <= 0 {
		return nil, fmt.Errorf("redeem sso token: %w: missing token or expiresAt", serrors.ErrInvalidResponse)
	}
	return &domain.TokenRecord{
		Token:     body.Token,
		ExpiresAt: time.UnixMilli(body.ExpiresAt),
		UserID:    body.UserID,
	}, nil
}
