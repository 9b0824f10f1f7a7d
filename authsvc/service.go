// Package authsvc runs the background session coordinator.
//
// A Service periodically refreshes the stored token when it nears expiry,
// probes the credits API to verify the session is alive, and tears the
// session down when the identity provider reports it unauthorized. Loss of
// authentication is reported once per run through OnAuthLost subscribers.
package authsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.pilab.hu/standhub/domain"
	serrors "go.pilab.hu/standhub/errors"
	"go.pilab.hu/standhub/internal/metrics"
	"go.pilab.hu/standhub/internal/observer"
	"go.pilab.hu/standhub/log"
)

// DefaultCheckInterval is the period between background checks.
const DefaultCheckInterval = 3 * time.Minute

// TokenStore is the part of tokenstore.Storage the service uses.
type TokenStore interface {
	GetToken(ctx context.Context) (string, bool)
	Save(ctx context.Context, rec domain.TokenRecord) error
	ShouldRefreshToken(ctx context.Context) bool
	CanRefreshNow(ctx context.Context) bool
	HasExpired(ctx context.Context) bool
	MarkRefreshAttempt(ctx context.Context) error
	ClearTokenStorage(ctx context.Context) error
}

// Refresher exchanges a token for a fresh one.
type Refresher interface {
	RefreshToken(ctx context.Context, currentToken string) (*domain.TokenRecord, error)
}

// CreditsAPI is the liveness probe and the source of unauthorized broadcasts.
type CreditsAPI interface {
	CheckBalance(ctx context.Context, token string) (*domain.Balance, error)
	OnUnauthorized(fn func()) func()
}

// Config configures a Service.
type Config struct {
	CheckInterval time.Duration
	Logger        log.Logger
	Metrics       *metrics.Metrics
}

// Service is the background auth coordinator. It is created stopped.
type Service struct {
	store     TokenStore
	refresher Refresher
	api       CreditsAPI
	interval  time.Duration
	logger    log.Logger
	metrics   *metrics.Metrics

	authLost  observer.List[error]
	refreshed observer.List[domain.TokenRecord]

	mu          sync.Mutex
	running     bool
	lost        bool
	stop        chan struct{}
	done        chan struct{}
	unsubscribe func()
}

// New creates a stopped Service.
func New(store TokenStore, refresher Refresher, api CreditsAPI, cfg Config) *Service {
	s := &Service{
		store:     store,
		refresher: refresher,
		api:       api,
		interval:  cfg.CheckInterval,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if s.interval <= 0 {
		s.interval = DefaultCheckInterval
	}
	if s.logger == nil {
		s.logger = log.NewNop()
	}

	s.authLost.OnPanic(s.logPanic("auth lost"))
	s.refreshed.OnPanic(s.logPanic("token refreshed"))
	return s
}

func (s *Service) logPanic(event string) func(any) {
	return func(r any) {
		s.logger.Error(context.Background(), "Subscriber panicked", fmt.Errorf("%v", r),
			map[string]interface{}{"event": event})
	}
}

// OnAuthLost registers fn to run when the session is declared lost. fn
// receives the cause, which matches serrors.ErrUnauthorized or
// serrors.ErrTokenExpired.
func (s *Service) OnAuthLost(fn func(cause error)) func() {
	return s.authLost.Subscribe(fn)
}

// OnTokenRefreshed registers fn to run after a refreshed token was stored.
func (s *Service) OnTokenRefreshed(fn func(rec domain.TokenRecord)) func() {
	return s.refreshed.Subscribe(fn)
}

// Start subscribes to unauthorized broadcasts and launches the periodic
// check loop, running the first check right away. Calling Start on a
// running service does nothing. Work done by the loop uses ctx; cancelling
// it stops the service.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.lost = false
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.unsubscribe = s.api.OnUnauthorized(func() {
		s.handleAuthLost(ctx, serrors.ErrUnauthorized)
	})

	s.logger.Info(ctx, "Background auth service started", map[string]interface{}{
		"check_interval": s.interval.String(),
	})
	go s.loop(ctx, s.stop, s.done)
}

// Stop cancels the timer and the unauthorized subscription. It does not wait
// for a check that is already running; use Done for that. Requests already
// in flight complete and a refreshed token they return is still stored.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Running reports whether the check loop is scheduled.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Done returns a channel closed when the current loop has exited.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

func (s *Service) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx, stop)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			if s.stop == stop {
				s.stopLocked()
			}
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.tick(ctx, stop)
		}
	}
}

func (s *Service) tick(ctx context.Context, stop <-chan struct{}) {
	select {
	case <-stop:
		return
	default:
	}
	s.PerformChecks(ctx)
}

// PerformChecks runs one cycle: refresh when due, then probe liveness.
// Transient failures are logged and left to the next cycle.
func (s *Service) PerformChecks(ctx context.Context) {
	token, ok := s.store.GetToken(ctx)
	if !ok {
		return
	}
	if s.store.HasExpired(ctx) {
		s.handleAuthLost(ctx, serrors.ErrTokenExpired)
		return
	}

	if s.store.ShouldRefreshToken(ctx) && s.store.CanRefreshNow(ctx) {
		next, lost := s.refresh(ctx, token)
		if lost {
			return
		}
		if next != "" {
			token = next
		}
	}

	s.probe(ctx, token)
}

// VerifyNow runs the liveness probe outside the timer cadence.
func (s *Service) VerifyNow(ctx context.Context) {
	token, ok := s.store.GetToken(ctx)
	if !ok {
		return
	}
	s.probe(ctx, token)
}

func (s *Service) refresh(ctx context.Context, token string) (string, bool) {
	if err := s.store.MarkRefreshAttempt(ctx); err != nil {
		s.logger.Warn(ctx, "Failed to record refresh attempt", map[string]interface{}{"error": err.Error()})
	}

	rec, err := s.refresher.RefreshToken(ctx, token)
	switch {
	case serrors.IsUnauthorized(err):
		s.handleAuthLost(ctx, err)
		return "", true
	case err != nil:
		s.logger.Warn(ctx, "Token refresh failed, retrying next cycle", map[string]interface{}{"error": err.Error()})
		return "", false
	}

	if err := s.store.Save(ctx, *rec); err != nil {
		s.logger.Error(ctx, "Failed to store refreshed token", err)
		return "", false
	}
	s.logger.Info(ctx, "Session token refreshed", map[string]interface{}{
		"user_id":    rec.UserID,
		"expires_at": rec.ExpiresAt,
	})
	s.refreshed.Notify(*rec)
	return rec.Token, false
}

func (s *Service) probe(ctx context.Context, token string) {
	_, err := s.api.CheckBalance(ctx, token)
	switch {
	case err == nil:
	case serrors.IsUnauthorized(err):
		// The broadcast normally got here first; this covers probes made
		// while no subscription is active.
		s.handleAuthLost(ctx, err)
	default:
		s.logger.Warn(ctx, "Liveness check failed", map[string]interface{}{"error": err.Error()})
	}
}

// handleAuthLost tears the session down once per run.
func (s *Service) handleAuthLost(ctx context.Context, cause error) {
	s.mu.Lock()
	if s.lost {
		s.mu.Unlock()
		return
	}
	s.lost = true
	s.stopLocked()
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if err := s.store.ClearTokenStorage(ctx); err != nil {
		s.logger.Error(ctx, "Failed to clear session token", err)
	}
	s.metrics.AuthLost()
	s.logger.Warn(ctx, "Authentication lost", map[string]interface{}{"cause": cause.Error()})
	s.authLost.Notify(cause)
}

// Reset re-arms auth-lost handling for a new session without starting the
// loop. Start does the same.
func (s *Service) Reset() {
	s.mu.Lock()
	s.lost = false
	s.mu.Unlock()
}
