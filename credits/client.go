// Package credits wraps the balance and reservation endpoints of the AI
// generation credit system.
//
// Every call inspects the response status. On 401 the client broadcasts to
// the subscribers registered with OnUnauthorized before returning an error
// matching serrors.ErrUnauthorized, so any layer can react to a lost session
// without the client knowing about it.
package credits

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.pilab.hu/standhub/domain"
	serrors "go.pilab.hu/standhub/errors"
	"go.pilab.hu/standhub/internal/httpx"
	"go.pilab.hu/standhub/internal/metrics"
	"go.pilab.hu/standhub/internal/observer"
	"go.pilab.hu/standhub/log"
)

const (
	balancePath  = "/get-user-balance"
	reservePath  = "/reserve-tokens"
	commitPath   = "/commit-reservation"
	rollbackPath = "/rollback-reservation"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	HTTPClient httpx.Doer
	Logger     log.Logger
	Metrics    *metrics.Metrics
}

// Client is the typed credits API client. It keeps no local state besides
// the unauthorized subscribers.
type Client struct {
	baseURL      string
	http         httpx.Doer
	logger       log.Logger
	metrics      *metrics.Metrics
	unauthorized observer.List[struct{}]
}

// New creates a Client.
func New(cfg Config) *Client {
	c := &Client{
		baseURL: cfg.BaseURL,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if c.http == nil {
		c.http = httpx.NewClient(15 * time.Second)
	}
	if c.logger == nil {
		c.logger = log.NewNop()
	}
	c.unauthorized.OnPanic(func(r any) {
		c.logger.Error(context.Background(), "Unauthorized subscriber panicked", fmt.Errorf("%v", r))
	})
	return c
}

// OnUnauthorized registers fn to run whenever a call receives 401. The
// returned function removes the subscription.
func (c *Client) OnUnauthorized(fn func()) func() {
	return c.unauthorized.Subscribe(func(struct{}) { fn() })
}

func (c *Client) notifyUnauthorized(ctx context.Context, path string) {
	c.logger.Warn(ctx, "Session rejected by credits API", map[string]interface{}{"endpoint": path})
	c.metrics.Unauthorized()
	c.unauthorized.Notify(struct{}{})
}

// CheckBalance returns the balance of the token's account.
func (c *Client) CheckBalance(ctx context.Context, token string) (*domain.Balance, error) {
	var out domain.Balance
	if err := c.call(ctx, balancePath, token, nil, &out, false); err != nil {
		return nil, fmt.Errorf("check balance: %w", err)
	}
	return &out, nil
}

type reserveRequest struct {
	ServiceType domain.ServiceType `json:"serviceType"`
	Amount      int                `json:"amount"`
}

// ReserveTokens places a tentative debit of amount credits. Insufficient
// balance is not an error: the result has Success false with
// AvailableBalance and Required filled in.
func (c *Client) ReserveTokens(ctx context.Context, token string, serviceType domain.ServiceType, amount int) (*domain.ReserveResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reserve tokens: %w: amount must be positive", serrors.ErrInvalidArgument)
	}
	if serviceType == "" {
		return nil, fmt.Errorf("reserve tokens: %w: empty service type", serrors.ErrInvalidArgument)
	}

	var out domain.ReserveResult
	err := c.call(ctx, reservePath, token, reserveRequest{ServiceType: serviceType, Amount: amount}, &out, true)
	if err != nil {
		c.metrics.Reservation("reserve", outcomeOf(err))
		return nil, fmt.Errorf("reserve tokens: %w", err)
	}
	if out.Success && out.ReservationID == "" {
		c.metrics.Reservation("reserve", metrics.OutcomeFailure)
		return nil, fmt.Errorf("reserve tokens: %w: missing reservationId", serrors.ErrInvalidResponse)
	}
	c.metrics.Reservation("reserve", resultOutcome(out.Success))
	return &out, nil
}

type commitRequest struct {
	ReservationID string `json:"reservationId"`
	ResultURL     string `json:"resultUrl"`
}

// CommitReservation finalizes the debit and attaches the generated artifact.
// A reservation the server reports as already resolved yields Success false
// and no error; the call is never retried.
func (c *Client) CommitReservation(ctx context.Context, token, reservationID, resultURL string) (*domain.ResolveResult, error) {
	if reservationID == "" {
		return nil, fmt.Errorf("commit reservation: %w: empty reservation id", serrors.ErrInvalidArgument)
	}
	return c.resolve(ctx, "commit", commitPath, token, commitRequest{ReservationID: reservationID, ResultURL: resultURL})
}

type rollbackRequest struct {
	ReservationID string `json:"reservationId"`
	Reason        string `json:"reason,omitempty"`
}

// RollbackReservation reverses the tentative debit. Rolling back a resolved
// reservation yields Success false and no error.
func (c *Client) RollbackReservation(ctx context.Context, token, reservationID, reason string) (*domain.ResolveResult, error) {
	if reservationID == "" {
		return nil, fmt.Errorf("rollback reservation: %w: empty reservation id", serrors.ErrInvalidArgument)
	}
	return c.resolve(ctx, "rollback", rollbackPath, token, rollbackRequest{ReservationID: reservationID, Reason: reason})
}

func (c *Client) resolve(ctx context.Context, operation, path, token string, payload interface{}) (*domain.ResolveResult, error) {
	var out domain.ResolveResult
	if err := c.call(ctx, path, token, payload, &out, true); err != nil {
		c.metrics.Reservation(operation, outcomeOf(err))
		return nil, fmt.Errorf("%s reservation: %w", operation, err)
	}
	c.metrics.Reservation(operation, resultOutcome(out.Success))
	return &out, nil
}

// call posts payload and decodes the response into out. With allowRejection
// set, 4xx bodies of the form {"success":false,...} are decoded instead of
// turned into errors.
func (c *Client) call(ctx context.Context, path, token string, payload, out interface{}, allowRejection bool) error {
	if token == "" {
		return serrors.ErrNoSession
	}

	resp, err := httpx.PostJSON(ctx, c.http, httpx.Join(c.baseURL, path), token, payload)
	if err != nil {
		return err
	}

	switch {
	case resp.Unauthorized():
		c.notifyUnauthorized(ctx, path)
		return resp.Err()
	case resp.OK():
		return resp.Decode(out)
	case allowRejection && isRejection(resp):
		return resp.Decode(out)
	default:
		return resp.Err()
	}
}

// isRejection recognizes a structured business refusal (conflict, payment
// required, unprocessable) as opposed to a failure of the call.
func isRejection(resp *httpx.Response) bool {
	switch resp.Status {
	case http.StatusConflict, http.StatusPaymentRequired, http.StatusUnprocessableEntity, http.StatusNotFound:
		return strings.Contains(string(resp.Body), `"success"`)
	}
	return false
}

func outcomeOf(err error) string {
	if serrors.IsUnauthorized(err) {
		return metrics.OutcomeUnauthorized
	}
	return metrics.OutcomeFailure
}

func resultOutcome(success bool) string {
	if success {
		return metrics.OutcomeSuccess
	}
	return metrics.OutcomeRejected
}
