// Package gateway is a reference implementation of the credits and identity
// endpoints the client stack talks to. It keeps everything in memory and is
// meant for development and end-to-end tests.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.pilab.hu/standhub/internal/audit"
	"go.pilab.hu/standhub/internal/metrics"
	"go.pilab.hu/standhub/internal/tracing"
)

// Options configures a Server.
type Options struct {
	Issuer        *Issuer
	Ledger        *Ledger
	Exchange      *ExchangeStore
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer // serves /metrics when set
	Audit         *audit.Logger       // nil discards audit events
	Tracing       bool
	SweepInterval time.Duration
}

// Server serves the gateway API.
type Server struct {
	issuer   *Issuer
	ledger   *Ledger
	exchange *ExchangeStore
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	audit    *audit.Logger
	interval time.Duration
	echo     *echo.Echo
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	s := &Server{
		issuer:   opts.Issuer,
		ledger:   opts.Ledger,
		exchange: opts.Exchange,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		audit:    opts.Audit,
		interval: opts.SweepInterval,
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if opts.Tracing {
		e.Use(tracing.Middleware)
	}
	e.Use(requestLogger)
	s.registerRoutes(e)
	s.echo = e
	return s
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Sweep expires stale reservations and prunes expired tokens.
func (s *Server) Sweep() int {
	n := s.ledger.Sweep()
	s.issuer.Prune()
	s.exchange.Prune()
	s.metrics.Swept(n)
	if n > 0 {
		log.Info().Int("expired", n).Msg("Expired stale reservations")
		s.audit.Log(audit.Event{Action: audit.ActionExpire, Amount: n, Success: true})
	}
	return n
}

// Run listens on addr and sweeps periodically until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.sweepLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Gateway listening")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	log.Info().Msg("Shutting down gateway")
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
