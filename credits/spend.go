package credits

import (
	"context"
	"fmt"

	"go.pilab.hu/standhub/domain"
)

// GenerateFunc performs the paid work and returns the artifact URL.
type GenerateFunc func(ctx context.Context) (resultURL string, err error)

// Reserver is the part of Client that Spend drives.
type Reserver interface {
	ReserveTokens(ctx context.Context, token string, serviceType domain.ServiceType, amount int) (*domain.ReserveResult, error)
	CommitReservation(ctx context.Context, token, reservationID, resultURL string) (*domain.ResolveResult, error)
	RollbackReservation(ctx context.Context, token, reservationID, reason string) (*domain.ResolveResult, error)
}

// SpendResult reports what Spend did.
type SpendResult struct {
	Reservation *domain.ReserveResult
	ResultURL   string
	Committed   bool
	RolledBack  bool
	Resolution  *domain.ResolveResult
}

// ResolveError is returned when a commit or rollback request fails, leaving
// the reservation unresolved on the server until its TTL sweep.
type ResolveError struct {
	Op            string // "commit" or "rollback"
	ReservationID string
	Err           error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("%s reservation %s: %v", e.Op, e.ReservationID, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Spend reserves amount credits, runs generate and resolves the reservation
// exactly once: commit on success, rollback on error or panic. When the
// balance is too low generate is not called and the result carries the
// shortfall with a nil error.
func Spend(ctx context.Context, api Reserver, token string, serviceType domain.ServiceType, amount int, generate GenerateFunc) (result *SpendResult, err error) {
	reserved, err := api.ReserveTokens(ctx, token, serviceType, amount)
	if err != nil {
		return nil, err
	}
	result = &SpendResult{Reservation: reserved}
	if !reserved.Success {
		return result, nil
	}

	resolved := false
	defer func() {
		if r := recover(); r != nil {
			if !resolved {
				// The caller's context may be what abandoned the work.
				_, _ = api.RollbackReservation(context.WithoutCancel(ctx), token, reserved.ReservationID, fmt.Sprintf("generation panicked: %v", r))
			}
			panic(r)
		}
	}()

	url, genErr := generate(ctx)
	if genErr != nil {
		resolved = true
		res, rbErr := api.RollbackReservation(context.WithoutCancel(ctx), token, reserved.ReservationID, genErr.Error())
		result.RolledBack = rbErr == nil
		result.Resolution = res
		if rbErr != nil {
			return result, fmt.Errorf("generation failed: %w (%w)", genErr,
				&ResolveError{Op: "rollback", ReservationID: reserved.ReservationID, Err: rbErr})
		}
		return result, fmt.Errorf("generation failed: %w", genErr)
	}

	resolved = true
	result.ResultURL = url
	res, err := api.CommitReservation(ctx, token, reserved.ReservationID, url)
	if err != nil {
		return result, &ResolveError{Op: "commit", ReservationID: reserved.ReservationID, Err: err}
	}
	result.Committed = res.Success
	result.Resolution = res
	return result, nil
}
