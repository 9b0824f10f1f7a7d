package standhub_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/standhub"
	"go.pilab.hu/standhub/config"
	"go.pilab.hu/standhub/credits"
	"go.pilab.hu/standhub/domain"
	serrors "go.pilab.hu/standhub/errors"
	"go.pilab.hu/standhub/internal/gateway"
	"go.pilab.hu/standhub/internal/metrics"
)

var secret = []byte("end-to-end-secret-end-to-end-secret")

type stack struct {
	issuer  *gateway.Issuer
	ledger  *gateway.Ledger
	session *standhub.Session
}

func newStack(t *testing.T, seed int) *stack {
	return newWrappedStack(t, seed, func(h http.Handler) http.Handler { return h })
}

// newWrappedStack lets a test intercept requests before the gateway sees them.
func newWrappedStack(t *testing.T, seed int, wrap func(http.Handler) http.Handler) *stack {
	t.Helper()
	issuer := gateway.NewIssuer(secret, time.Hour, nil)
	ledger := gateway.NewLedger(seed, time.Minute, nil)
	server := httptest.NewServer(wrap(gateway.NewServer(gateway.Options{
		Issuer:   issuer,
		Ledger:   ledger,
		Exchange: gateway.NewExchangeStore(time.Minute),
		Metrics:  metrics.New(prometheus.NewRegistry()),
	})))
	t.Cleanup(server.Close)

	cfg := &config.ClientConfig{
		APIBaseURL:         server.URL,
		StoreBackend:       config.StoreMemory,
		CheckInterval:      time.Hour,
		RefreshThreshold:   10 * time.Minute,
		MinRefreshInterval: 5 * time.Minute,
		MaxRetries:         0,
		InitialDelay:       time.Millisecond,
		HTTPTimeout:        5 * time.Second,
	}
	session, err := standhub.NewSession(cfg, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return &stack{issuer: issuer, ledger: ledger, session: session}
}

func (s *stack) login(t *testing.T, userID string) string {
	t.Helper()
	token, expiresAt, err := s.issuer.Issue(userID)
	require.NoError(t, err)
	require.NoError(t, s.session.Login(context.Background(), domain.TokenRecord{Token: token, ExpiresAt: expiresAt, UserID: userID}))
	return token
}

func TestSession_SpendAgainstGateway(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, 10)
	token := s.login(t, "user-1")

	result, err := credits.Spend(ctx, s.session.Credits, token, domain.ServiceStandRender, 4, func(context.Context) (string, error) {
		return "https://cdn/stand.glb", nil
	})
	require.NoError(t, err)
	assert.True(t, result.Committed)

	bal, err := s.session.Credits.CheckBalance(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 6, bal.Balance)
	assert.Equal(t, 0, bal.ReservedTokens)

	res, err := s.session.Credits.CommitReservation(ctx, token, result.Reservation.ReservationID, "again")
	require.NoError(t, err)
	assert.False(t, res.Success, "already committed reservation is reported, not retried")
}

func TestSession_ShortBalanceSkipsGeneration(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, 2)
	token := s.login(t, "user-1")

	generated := false
	result, err := credits.Spend(ctx, s.session.Credits, token, domain.ServiceImageGeneration, 5, func(context.Context) (string, error) {
		generated = true
		return "", nil
	})
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, 2, result.Reservation.AvailableBalance)
	assert.Equal(t, 5, result.Reservation.Required)
}

func TestSession_FailedGenerationRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, 10)
	token := s.login(t, "user-1")

	_, err := credits.Spend(ctx, s.session.Credits, token, domain.ServiceImageGeneration, 3, func(context.Context) (string, error) {
		return "", errors.New("model overloaded")
	})
	require.Error(t, err)

	assert.Equal(t, 10, s.ledger.Balance("user-1").Balance)
	assert.True(t, s.ledger.Audit().Clean())
}

func TestSession_RevokedSessionIsTornDown(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, 10)
	token := s.login(t, "user-1")
	require.True(t, s.session.Auth.Running())

	var lost atomic.Int32
	s.session.Auth.OnAuthLost(func(cause error) {
		assert.ErrorIs(t, cause, serrors.ErrUnauthorized)
		lost.Add(1)
	})

	claims, err := s.issuer.Verify(token)
	require.NoError(t, err)
	s.issuer.Revoke(claims)

	s.session.Auth.VerifyNow(ctx)

	require.Eventually(t, func() bool { return lost.Load() == 1 }, time.Second, 5*time.Millisecond)
	<-s.session.Auth.Done()
	assert.Equal(t, int32(1), lost.Load())
	assert.False(t, s.session.Auth.Running())
	_, err = s.session.Token(ctx)
	assert.ErrorIs(t, err, serrors.ErrNoSession)
}

func TestSession_BackgroundRefresh(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, 10)

	short := gateway.NewIssuer(secret, 5*time.Minute, nil)
	token, expiresAt, err := short.Issue("user-1")
	require.NoError(t, err)

	refreshed := make(chan domain.TokenRecord, 1)
	s.session.Auth.OnTokenRefreshed(func(rec domain.TokenRecord) { refreshed <- rec })
	require.NoError(t, s.session.Login(ctx, domain.TokenRecord{Token: token, ExpiresAt: expiresAt, UserID: "user-1"}))

	select {
	case rec := <-refreshed:
		assert.NotEqual(t, token, rec.Token)
		assert.True(t, rec.ExpiresAt.After(expiresAt))
		stored, err := s.session.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, rec.Token, stored)
	case <-time.After(3 * time.Second):
		t.Fatal("token was not refreshed by the first check")
	}
}

func TestSession_Logout(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, 10)
	token := s.login(t, "user-1")

	require.NoError(t, s.session.Logout(ctx))

	assert.False(t, s.session.Auth.Running())
	_, err := s.session.Token(ctx)
	assert.ErrorIs(t, err, serrors.ErrNoSession)
	_, err = s.issuer.Verify(token)
	assert.ErrorIs(t, err, serrors.ErrUnauthorized, "logout revokes the token on the gateway")
}

func TestSession_LogoutWaitsForInFlightRefresh(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }

	s := newWrappedStack(t, 10, func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/refresh-auth-token" {
				close(entered)
				<-release
			}
			h.ServeHTTP(w, r)
		})
	})
	// Registered after the server so it runs before server.Close waits on the handler.
	t.Cleanup(unblock)

	var fresh atomic.Value
	s.session.Auth.OnTokenRefreshed(func(rec domain.TokenRecord) { fresh.Store(rec.Token) })

	short := gateway.NewIssuer(secret, 5*time.Minute, nil)
	token, expiresAt, err := short.Issue("user-1")
	require.NoError(t, err)
	require.NoError(t, s.session.Login(ctx, domain.TokenRecord{Token: token, ExpiresAt: expiresAt, UserID: "user-1"}))

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("refresh did not start")
	}

	logoutErr := make(chan error, 1)
	go func() { logoutErr <- s.session.Logout(ctx) }()

	assert.Never(t, func() bool { return len(logoutErr) > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"logout returns only after the running check")
	unblock()

	select {
	case err := <-logoutErr:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("logout did not return")
	}

	_, err = s.session.Token(ctx)
	assert.ErrorIs(t, err, serrors.ErrNoSession)

	next, ok := fresh.Load().(string)
	require.True(t, ok, "the in-flight refresh completed")
	_, err = s.issuer.Verify(next)
	assert.ErrorIs(t, err, serrors.ErrUnauthorized, "the token refreshed during logout is revoked")
}

func TestSession_LogoutBoundedByContext(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once

	s := newWrappedStack(t, 10, func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/refresh-auth-token" {
				close(entered)
				<-release
			}
			h.ServeHTTP(w, r)
		})
	})
	t.Cleanup(func() { releaseOnce.Do(func() { close(release) }) })

	short := gateway.NewIssuer(secret, 5*time.Minute, nil)
	token, expiresAt, err := short.Issue("user-1")
	require.NoError(t, err)
	require.NoError(t, s.session.Login(context.Background(), domain.TokenRecord{Token: token, ExpiresAt: expiresAt, UserID: "user-1"}))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = s.session.Logout(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = s.session.Token(context.Background())
	assert.ErrorIs(t, err, serrors.ErrNoSession, "local storage is cleared even when the wait times out")
}

func TestSession_OldTokenSurvivesBackgroundRefresh(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, 10)

	short := gateway.NewIssuer(secret, 5*time.Minute, nil)
	old, expiresAt, err := short.Issue("user-1")
	require.NoError(t, err)

	var lost atomic.Int32
	s.session.Auth.OnAuthLost(func(error) { lost.Add(1) })
	refreshed := make(chan domain.TokenRecord, 1)
	s.session.Auth.OnTokenRefreshed(func(rec domain.TokenRecord) { refreshed <- rec })
	require.NoError(t, s.session.Login(ctx, domain.TokenRecord{Token: old, ExpiresAt: expiresAt, UserID: "user-1"}))

	var rec domain.TokenRecord
	select {
	case rec = <-refreshed:
	case <-time.After(3 * time.Second):
		t.Fatal("token was not refreshed by the first check")
	}

	again, err := s.session.Refresh.RefreshToken(ctx, old)
	require.NoError(t, err, "a redundant refresh with the old token is accepted")
	assert.Equal(t, rec.Token, again.Token)

	_, err = s.session.Credits.CheckBalance(ctx, old)
	require.NoError(t, err)

	assert.Equal(t, int32(0), lost.Load())
	stored, err := s.session.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.Token, stored)
}

func TestSession_SSORedeem(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, 10)
	token := s.login(t, "user-1")

	exchange, err := s.session.SSO.CreateExchangeToken(ctx, token, "shop.example.com")
	require.NoError(t, err)

	target := newStack(t, 10)
	_, err = target.session.Redeem(ctx, exchange.Token)
	assert.ErrorIs(t, err, serrors.ErrUnauthorized, "exchange tokens belong to the gateway that issued them")

	rec, err := s.session.Redeem(ctx, exchange.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", rec.UserID)
	stored, err := s.session.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.Token, stored)
}

func TestNewSession_RejectsInvalidConfig(t *testing.T) {
	_, err := standhub.NewSession(&config.ClientConfig{StoreBackend: "nope"}, nil, nil)
	assert.Error(t, err)
}
