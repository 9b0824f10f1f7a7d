package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Refresh and reservation outcome label values.
const (
	OutcomeSuccess      = "success"
	OutcomeUnauthorized = "unauthorized"
	OutcomeFailure      = "failure"
	OutcomeRejected     = "rejected"
)

// Metrics groups the counters of the client stack and the gateway.
// A nil *Metrics records nothing.
type Metrics struct {
	RefreshTotal      *prometheus.CounterVec
	AuthLostTotal     prometheus.Counter
	UnauthorizedTotal prometheus.Counter
	ReservationTotal  *prometheus.CounterVec
	SweptTotal        prometheus.Counter
}

// New creates the metrics and registers them with reg when it is not nil.
// Registration failures are logged, not returned.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "standhub_token_refresh_total",
			Help: "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		AuthLostTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "standhub_auth_lost_total",
			Help: "Sessions torn down after the identity provider rejected them.",
		}),
		UnauthorizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "standhub_unauthorized_responses_total",
			Help: "Unauthorized responses observed by the credits client.",
		}),
		ReservationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "standhub_reservation_operations_total",
			Help: "Reserve, commit and rollback calls by outcome.",
		}, []string{"operation", "outcome"}),
		SweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "standhub_reservations_expired_total",
			Help: "Reservations expired by the gateway sweeper.",
		}),
	}

	if reg == nil {
		return m
	}
	for _, c := range []prometheus.Collector{m.RefreshTotal, m.AuthLostTotal, m.UnauthorizedTotal, m.ReservationTotal, m.SweptTotal} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
	return m
}

func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AuthLost() {
	if m == nil {
		return
	}
	m.AuthLostTotal.Inc()
}

func (m *Metrics) Unauthorized() {
	if m == nil {
		return
	}
	m.UnauthorizedTotal.Inc()
}

func (m *Metrics) Reservation(operation, outcome string) {
	if m == nil {
		return
	}
	m.ReservationTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SweptTotal.Add(float64(n))
}
