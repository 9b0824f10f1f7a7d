// Package standhub wires the client session stack: token storage, the
// refresh and credits clients, SSO exchange and the background auth service.
//
// A Session is owned by the application root and passed to the components
// that need it. There is no package level instance.
package standhub

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.pilab.hu/standhub/authsvc"
	"go.pilab.hu/standhub/config"
	"go.pilab.hu/standhub/credits"
	"go.pilab.hu/standhub/domain"
	serrors "go.pilab.hu/standhub/errors"
	"go.pilab.hu/standhub/internal/httpx"
	"go.pilab.hu/standhub/internal/metrics"
	"go.pilab.hu/standhub/log"
	"go.pilab.hu/standhub/refresh"
	"go.pilab.hu/standhub/sso"
	"go.pilab.hu/standhub/tokenstore"
	redisstore "go.pilab.hu/standhub/tokenstore/redis"
)

// Session holds the client components built from one ClientConfig.
type Session struct {
	Store   *tokenstore.Storage
	Refresh *refresh.Client
	Credits *credits.Client
	SSO     *sso.Client
	Auth    *authsvc.Service

	logger log.Logger
}

// NewSession builds the stack. reg may be nil to skip metric registration.
func NewSession(cfg *config.ClientConfig, logger log.Logger, reg prometheus.Registerer) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNop()
	}

	backend, err := OpenBackend(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New(reg)
	httpClient := httpx.NewClient(cfg.HTTPTimeout)

	store := tokenstore.New(backend, tokenstore.Options{
		RefreshThreshold:   cfg.RefreshThreshold,
		MinRefreshInterval: cfg.MinRefreshInterval,
		Logger:             logger.With(map[string]interface{}{"component": "tokenstore"}),
	})

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		// refresh.New reads zero as the default; a configured zero disables retries.
		maxRetries = -1
	}
	refresher := refresh.New(refresh.Config{
		BaseURL:      cfg.APIBaseURL,
		MaxRetries:   maxRetries,
		InitialDelay: cfg.InitialDelay,
		HTTPClient:   httpClient,
		Logger:       logger.With(map[string]interface{}{"component": "refresh"}),
		Metrics:      m,
	})
	api := credits.New(credits.Config{
		BaseURL:    cfg.APIBaseURL,
		HTTPClient: httpClient,
		Logger:     logger.With(map[string]interface{}{"component": "credits"}),
		Metrics:    m,
	})
	exchange := sso.New(sso.Config{
		BaseURL:    cfg.APIBaseURL,
		HTTPClient: httpClient,
		Logger:     logger.With(map[string]interface{}{"component": "sso"}),
	})
	svc := authsvc.New(store, refresher, api, authsvc.Config{
		CheckInterval: cfg.CheckInterval,
		Logger:        logger.With(map[string]interface{}{"component": "authsvc"}),
		Metrics:       m,
	})

	return &Session{
		Store:   store,
		Refresh: refresher,
		Credits: api,
		SSO:     exchange,
		Auth:    svc,
		logger:  logger,
	}, nil
}

// OpenBackend opens the token storage backend named by cfg.
func OpenBackend(cfg *config.ClientConfig) (tokenstore.Backend, error) {
	switch cfg.StoreBackend {
	case config.StoreBolt:
		b, err := tokenstore.NewBoltBackend(cfg.TokenStorePath)
		if err != nil {
			return nil, fmt.Errorf("open token store: %w", err)
		}
		return b, nil
	case config.StoreMemory:
		return tokenstore.NewMemoryBackend(), nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return redisstore.NewBackend(client, cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", serrors.ErrInvalidArgument, cfg.StoreBackend)
	}
}

// Login stores rec as the current session and starts the background auth
// service with ctx.
func (s *Session) Login(ctx context.Context, rec domain.TokenRecord) error {
	if err := s.Store.Save(ctx, rec); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	s.Auth.Reset()
	s.logger.Info(ctx, "Logged in", map[string]interface{}{"user_id": rec.UserID})
	s.Auth.Start(ctx)
	return nil
}

// Redeem trades an SSO exchange token for a session and logs in with it.
func (s *Session) Redeem(ctx context.Context, exchangeToken string) (*domain.TokenRecord, error) {
	rec, err := s.SSO.RedeemExchangeToken(ctx, exchangeToken)
	if err != nil {
		return nil, err
	}
	if err := s.Login(ctx, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Token returns the stored bearer token or serrors.ErrNoSession.
func (s *Session) Token(ctx context.Context) (string, error) {
	token, ok := s.Store.GetToken(ctx)
	if !ok {
		return "", serrors.ErrNoSession
	}
	return token, nil
}

// Logout stops the auth service and waits, bounded by ctx, for a check
// already in flight, so a token it refreshes is revoked and cleared too. The
// session is then revoked remotely on a best effort basis and local storage
// is cleared either way. If ctx ends before the check finishes the error
// says so, since a late refresh may still store a token.
func (s *Session) Logout(ctx context.Context) error {
	s.Auth.Stop()

	var waitErr error
	select {
	case <-s.Auth.Done():
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	if token, ok := s.Store.GetToken(ctx); ok {
		if err := s.Refresh.Revoke(ctx, token); err != nil {
			s.logger.Warn(ctx, "Remote logout failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if err := s.Store.ClearTokenStorage(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if waitErr != nil {
		return fmt.Errorf("logout: waiting for background check: %w", waitErr)
	}
	s.logger.Info(ctx, "Logged out")
	return nil
}

// Close stops the auth service and closes the storage backend.
func (s *Session) Close() error {
	s.Auth.Stop()
	if err := s.Store.Close(); err != nil {
		return fmt.Errorf("close token store: %w", err)
	}
	return nil
}
