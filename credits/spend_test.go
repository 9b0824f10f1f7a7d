package credits

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/standhub/domain"
)

type MockReserver struct {
	mock.Mock
}

func (m *MockReserver) ReserveTokens(ctx context.Context, token string, serviceType domain.ServiceType, amount int) (*domain.ReserveResult, error) {
	args := m.Called(ctx, token, serviceType, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReserveResult), args.Error(1)
}

func (m *MockReserver) CommitReservation(ctx context.Context, token, reservationID, resultURL string) (*domain.ResolveResult, error) {
	args := m.Called(ctx, token, reservationID, resultURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ResolveResult), args.Error(1)
}

func (m *MockReserver) RollbackReservation(ctx context.Context, token, reservationID, reason string) (*domain.ResolveResult, error) {
	args := m.Called(ctx, token, reservationID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ResolveResult), args.Error(1)
}

func TestSpend_CommitsOnSuccess(t *testing.T) {
	api := new(MockReserver)
	api.On("ReserveTokens", mock.Anything, "tok", domain.ServiceStandRender, 5).
		Return(&domain.ReserveResult{Success: true, ReservationID: "res-1", NewBalance: 15}, nil).Once()
	api.On("CommitReservation", mock.Anything, "tok", "res-1", "https://cdn/r.png").
		Return(&domain.ResolveResult{Success: true, NewBalance: 15}, nil).Once()

	result, err := Spend(context.Background(), api, "tok", domain.ServiceStandRender, 5, func(context.Context) (string, error) {
		return "https://cdn/r.png", nil
	})
	require.NoError(t, err)
	assert.True(t, result.Committed)
	assert.False(t, result.RolledBack)
	assert.Equal(t, "https://cdn/r.png", result.ResultURL)
	api.AssertExpectations(t)
	api.AssertNotCalled(t, "RollbackReservation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSpend_InsufficientBalanceSkipsGeneration(t *testing.T) {
	api := new(MockReserver)
	api.On("ReserveTokens", mock.Anything, "tok", domain.ServiceImageGeneration, 5).
		Return(&domain.ReserveResult{Success: false, Error: "insufficient balance", AvailableBalance: 2, Required: 5}, nil).Once()

	generated := false
	result, err := Spend(context.Background(), api, "tok", domain.ServiceImageGeneration, 5, func(context.Context) (string, error) {
		generated = true
		return "", nil
	})
	require.NoError(t, err)
	assert.False(t, generated)
	assert.True(t, result.Reservation.Insufficient())
	assert.False(t, result.Committed)
	api.AssertNotCalled(t, "CommitReservation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	api.AssertNotCalled(t, "RollbackReservation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSpend_RollsBackOnGenerationError(t *testing.T) {
	api := new(MockReserver)
	api.On("ReserveTokens", mock.Anything, "tok", domain.ServiceImageGeneration, 2).
		Return(&domain.ReserveResult{Success: true, ReservationID: "res-2"}, nil).Once()
	api.On("RollbackReservation", mock.Anything, "tok", "res-2", "model timeout").
		Return(&domain.ResolveResult{Success: true, NewBalance: 10}, nil).Once()

	genErr := errors.New("model timeout")
	result, err := Spend(context.Background(), api, "tok", domain.ServiceImageGeneration, 2, func(context.Context) (string, error) {
		return "", genErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, genErr)
	assert.True(t, result.RolledBack)
	assert.False(t, result.Committed)
	api.AssertExpectations(t)
	api.AssertNotCalled(t, "CommitReservation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSpend_RollsBackWithCancelledContext(t *testing.T) {
	api := new(MockReserver)
	api.On("ReserveTokens", mock.Anything, "tok", domain.ServiceImageGeneration, 1).
		Return(&domain.ReserveResult{Success: true, ReservationID: "res-3"}, nil).Once()
	api.On("RollbackReservation", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), "tok", "res-3", context.Canceled.Error()).
		Return(&domain.ResolveResult{Success: true}, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := Spend(ctx, api, "tok", domain.ServiceImageGeneration, 1, func(ctx context.Context) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	api.AssertExpectations(t)
}

func TestSpend_RollsBackOnPanic(t *testing.T) {
	api := new(MockReserver)
	api.On("ReserveTokens", mock.Anything, "tok", domain.ServiceTextGeneration, 1).
		Return(&domain.ReserveResult{Success: true, ReservationID: "res-4"}, nil).Once()
	api.On("RollbackReservation", mock.Anything, "tok", "res-4", "generation panicked: boom").
		Return(&domain.ResolveResult{Success: true}, nil).Once()

	assert.PanicsWithValue(t, "boom", func() {
		_, _ = Spend(context.Background(), api, "tok", domain.ServiceTextGeneration, 1, func(context.Context) (string, error) {
			panic("boom")
		})
	})
	api.AssertExpectations(t)
}

func TestSpend_ReserveErrorIsReturned(t *testing.T) {
	api := new(MockReserver)
	api.On("ReserveTokens", mock.Anything, "tok", domain.ServiceTextGeneration, 1).
		Return(nil, errors.New("network down")).Once()

	result, err := Spend(context.Background(), api, "tok", domain.ServiceTextGeneration, 1, func(context.Context) (string, error) {
		t.Fatal("generate must not run")
		return "", nil
	})
	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestSpend_CommitFailureNamesReservation(t *testing.T) {
	api := new(MockReserver)
	api.On("ReserveTokens", mock.Anything, "tok", domain.ServiceStandRender, 3).
		Return(&domain.ReserveResult{Success: true, ReservationID: "res-7"}, nil).Once()
	netErr := errors.New("connection reset")
	api.On("CommitReservation", mock.Anything, "tok", "res-7", "https://cdn/s.glb").
		Return(nil, netErr).Once()

	result, err := Spend(context.Background(), api, "tok", domain.ServiceStandRender, 3, func(context.Context) (string, error) {
		return "https://cdn/s.glb", nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, netErr)

	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.Equal(t, "commit", resolveErr.Op)
	assert.Equal(t, "res-7", resolveErr.ReservationID)
	assert.Contains(t, err.Error(), "res-7")
	assert.False(t, result.Committed)
	assert.Equal(t, "https://cdn/s.glb", result.ResultURL)
	api.AssertExpectations(t)
}

func TestSpend_RollbackFailureNamesReservation(t *testing.T) {
	api := new(MockReserver)
	api.On("ReserveTokens", mock.Anything, "tok", domain.ServiceImageGeneration, 2).
		Return(&domain.ReserveResult{Success: true, ReservationID: "res-8"}, nil).Once()
	api.On("RollbackReservation", mock.Anything, "tok", "res-8", "model timeout").
		Return(nil, errors.New("connection reset")).Once()

	genErr := errors.New("model timeout")
	result, err := Spend(context.Background(), api, "tok", domain.ServiceImageGeneration, 2, func(context.Context) (string, error) {
		return "", genErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, genErr)

	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.Equal(t, "rollback", resolveErr.Op)
	assert.Equal(t, "res-8", resolveErr.ReservationID)
	assert.False(t, result.RolledBack)
	api.AssertExpectations(t)
}
