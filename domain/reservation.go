package domain

import "time"

// ServiceType names the AI generation service a reservation pays for.
type ServiceType string

const (
	ServiceImageGeneration ServiceType = "image_generation"
	ServiceStandRender     ServiceType = "stand_render"
	ServiceTextGeneration  ServiceType = "text_generation"
)

// ReservationState is the lifecycle state of a reservation.
type ReservationState string

const (
	ReservationReserved   ReservationState = "reserved"
	ReservationCommitted  ReservationState = "committed"
	ReservationRolledBack ReservationState = "rolled_back"
	ReservationExpired    ReservationState = "expired"
)

// Resolved reports whether the reservation left the reserved state.
func (s ReservationState) Resolved() bool {
	return s != ReservationReserved
}

// Reservation is a tentative debit against a balance.
type Reservation struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId"`
	ServiceType ServiceType      `json:"serviceType"`
	Amount      int              `json:"amount"`
	State       ReservationState `json:"state"`
	ResultURL   string           `json:"resultUrl,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	ResolvedAt  time.Time        `json:"resolvedAt,omitempty"`
}

// ReserveResult is the outcome of a reserve call. A false Success with
// AvailableBalance and Required set means the balance was too low.
type ReserveResult struct {
	Success          bool   `json:"success"`
	ReservationID    string `json:"reservationId,omitempty"`
	NewBalance       int    `json:"newBalance"`
	Error            string `json:"error,omitempty"`
	AvailableBalance int    `json:"availableBalance,omitempty"`
	Required         int    `json:"required,omitempty"`
}

// Insufficient reports whether the reservation was refused for lack of credits.
func (r ReserveResult) Insufficient() bool {
	return !r.Success && r.Required > 0
}

// ResolveResult is the outcome of a commit or rollback call.
type ResolveResult struct {
	Success    bool   `json:"success"`
	NewBalance int    `json:"newBalance"`
	Error      string `json:"error,omitempty"`
}
