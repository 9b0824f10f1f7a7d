package gateway

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.pilab.hu/standhub/domain"
	serrors "go.pilab.hu/standhub/errors"
)

var (
	// ErrReservationNotFound is returned for unknown reservations and for
	// reservations owned by another user.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrAlreadyResolved is returned when a reservation left the reserved state.
	ErrAlreadyResolved = errors.New("reservation already resolved")
)

// Generation is a record of paid work reported by a generation service.
type Generation struct {
	ID            string             `json:"id"`
	UserID        string             `json:"userId"`
	ReservationID string             `json:"reservationId"`
	ServiceType   domain.ServiceType `json:"serviceType"`
	ResultURL     string             `json:"resultUrl,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// AuditReport lists reservation defects.
type AuditReport struct {
	StaleReservations   []domain.Reservation `json:"staleReservations"`
	OrphanedGenerations []Generation         `json:"orphanedGenerations"`
}

// Clean reports whether the audit found nothing.
func (r AuditReport) Clean() bool {
	return len(r.StaleReservations) == 0 && len(r.OrphanedGenerations) == 0
}

type account struct {
	total    int
	reserved int
	plan     string
	premium  bool
}

func (a *account) available() int {
	return a.total - a.reserved
}

// Ledger keeps balances and reservations in memory. New accounts are seeded
// with a fixed balance on first use.
type Ledger struct {
	seed int
	ttl  time.Duration
	now  func() time.Time

	mu           sync.Mutex
	accounts     map[string]*account
	reservations map[string]*domain.Reservation
	generations  []Generation
}

// NewLedger creates a Ledger whose reservations expire after ttl.
func NewLedger(seed int, ttl time.Duration, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		seed:         seed,
		ttl:          ttl,
		now:          now,
		accounts:     make(map[string]*account),
		reservations: make(map[string]*domain.Reservation),
	}
}

func (l *Ledger) accountLocked(userID string) *account {
	a, ok := l.accounts[userID]
	if !ok {
		a = &account{total: l.seed, plan: "free"}
		l.accounts[userID] = a
	}
	return a
}

// Credit adds amount credits to the account of userID.
func (l *Ledger) Credit(userID string, amount int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accountLocked(userID).total += amount
}

// SetPlan sets the subscription plan of userID.
func (l *Ledger) SetPlan(userID, plan string, premium bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.accountLocked(userID)
	a.plan = plan
	a.premium = premium
}

// Balance returns the balance of userID.
func (l *Ledger) Balance(userID string) domain.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.accountLocked(userID)
	return domain.Balance{
		Balance:          a.available(),
		TotalBalance:     a.total,
		ReservedTokens:   a.reserved,
		SubscriptionPlan: a.plan,
		IsPremium:        a.premium,
	}
}

// Reserve places a tentative debit. A short balance is reported in the
// result, not as an error.
func (l *Ledger) Reserve(userID string, serviceType domain.ServiceType, amount int) (domain.ReserveResult, error) {
	if amount <= 0 || serviceType == "" {
		return domain.ReserveResult{}, fmt.Errorf("%w: serviceType and a positive amount are required", serrors.ErrInvalidArgument)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.accountLocked(userID)
	if a.available() < amount {
		return domain.ReserveResult{
			Success:          false,
			Error:            "insufficient balance",
			AvailableBalance: a.available(),
			Required:         amount,
		}, nil
	}

	now := l.now()
	r := &domain.Reservation{
		ID:          uuid.NewString(),
		UserID:      userID,
		ServiceType: serviceType,
		Amount:      amount,
		State:       domain.ReservationReserved,
		CreatedAt:   now,
		ExpiresAt:   now.Add(l.ttl),
	}
	l.reservations[r.ID] = r
	a.reserved += amount

	return domain.ReserveResult{Success: true, ReservationID: r.ID, NewBalance: a.available()}, nil
}

// Commit finalizes the debit of a reservation.
func (l *Ledger) Commit(userID, reservationID, resultURL string) (domain.ResolveResult, error) {
	return l.resolve(userID, reservationID, func(a *account, r *domain.Reservation) {
		a.total -= r.Amount
		r.State = domain.ReservationCommitted
		r.ResultURL = resultURL
	})
}

// Rollback reverses the debit of a reservation.
func (l *Ledger) Rollback(userID, reservationID, reason string) (domain.ResolveResult, error) {
	return l.resolve(userID, reservationID, func(_ *account, r *domain.Reservation) {
		r.State = domain.ReservationRolledBack
		r.Reason = reason
	})
}

func (l *Ledger) resolve(userID, reservationID string, apply func(*account, *domain.Reservation)) (domain.ResolveResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok || r.UserID != userID {
		return domain.ResolveResult{Success: false, Error: ErrReservationNotFound.Error()}, ErrReservationNotFound
	}

	a := l.accountLocked(userID)
	now := l.now()
	if r.State == domain.ReservationReserved && now.After(r.ExpiresAt) {
		l.expireLocked(r, now)
	}
	if r.State.Resolved() {
		return domain.ResolveResult{
			Success:    false,
			NewBalance: a.available(),
			Error:      fmt.Sprintf("reservation already %s", r.State),
		}, ErrAlreadyResolved
	}

	a.reserved -= r.Amount
	apply(a, r)
	r.ResolvedAt = now
	return domain.ResolveResult{Success: true, NewBalance: a.available()}, nil
}

func (l *Ledger) expireLocked(r *domain.Reservation, now time.Time) {
	l.accountLocked(r.UserID).reserved -= r.Amount
	r.State = domain.ReservationExpired
	r.Reason = "expired"
	r.ResolvedAt = now
}

// Sweep expires reservations left in the reserved state past their expiry
// and refunds them. It returns the number expired.
func (l *Ledger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for _, r := range l.reservations {
		if r.State == domain.ReservationReserved && now.After(r.ExpiresAt) {
			l.expireLocked(r, now)
			n++
		}
	}
	return n
}

// Reservation returns a copy of the reservation with id.
func (l *Ledger) Reservation(id string) (domain.Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.reservations[id]
	if !ok {
		return domain.Reservation{}, false
	}
	return *r, true
}

// RecordGeneration stores a generation event reported for reservationID.
func (l *Ledger) RecordGeneration(userID, reservationID string, serviceType domain.ServiceType, resultURL string) Generation {
	l.mu.Lock()
	defer l.mu.Unlock()

	g := Generation{
		ID:            uuid.NewString(),
		UserID:        userID,
		ReservationID: reservationID,
		ServiceType:   serviceType,
		ResultURL:     resultURL,
		CreatedAt:     l.now(),
	}
	l.generations = append(l.generations, g)
	return g
}

// Audit reports reservations still reserved past their expiry and
// generations whose reservation is missing or was resolved without a commit.
// Generations whose reservation is still pending are not reported.
func (l *Ledger) Audit() AuditReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	report := AuditReport{
		StaleReservations:   []domain.Reservation{},
		OrphanedGenerations: []Generation{},
	}
	for _, r := range l.reservations {
		if r.State == domain.ReservationReserved && now.After(r.ExpiresAt) {
			report.StaleReservations = append(report.StaleReservations, *r)
		}
	}
	sort.Slice(report.StaleReservations, func(i, j int) bool {
		return report.StaleReservations[i].CreatedAt.Before(report.StaleReservations[j].CreatedAt)
	})

	for _, g := range l.generations {
		r, ok := l.reservations[g.ReservationID]
		switch {
		case !ok, r.UserID != g.UserID:
			report.OrphanedGenerations = append(report.OrphanedGenerations, g)
		case r.State == domain.ReservationReserved:
		case r.State != domain.ReservationCommitted:
			report.OrphanedGenerations = append(report.OrphanedGenerations, g)
		}
	}
	return report
}
