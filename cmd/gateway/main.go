// Command gateway runs the reference credits gateway for local development.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.pilab.hu/standhub/config"
	"go.pilab.hu/standhub/internal/audit"
	"go.pilab.hu/standhub/internal/gateway"
	"go.pilab.hu/standhub/internal/metrics"
	"go.pilab.hu/standhub/internal/tracing"
)

var (
	cfgFile string
	cfg     *config.GatewayConfig
)

var rootCmd = &cobra.Command{
	Use:           "gateway",
	Short:         "Reference credits and identity gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadGatewayConfig(cfgFile)
		if err != nil {
			return err
		}
		setupLogging(cfg.LogLevel, cfg.LogPretty)
		return nil
	},
}

func setupLogging(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the gateway API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		if cfg.Tracing {
			tp, err := tracing.Init("standhub-gateway", os.Stderr)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() {
				if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
					log.Error().Err(err).Msg("Failed to shut down tracer provider")
				}
			}()
		}

		auditOut, closeAudit, err := openAuditLog(cfg.AuditLog)
		if err != nil {
			return err
		}
		defer closeAudit()

		srv := gateway.NewServer(gateway.Options{
			Audit:         audit.New(auditOut),
			Tracing:       cfg.Tracing,
			Issuer:        gateway.NewIssuer([]byte(cfg.JWTSecret), cfg.SessionTTL, nil),
			Ledger:        gateway.NewLedger(cfg.SeedBalance, cfg.ReservationTTL, nil),
			Exchange:      gateway.NewExchangeStore(cfg.SSOTokenTTL),
			Metrics:       metrics.New(reg),
			Gatherer:      reg,
			SweepInterval: cfg.SweepInterval,
		})
		return srv.Run(ctx, cfg.HTTPAddr)
	},
}

func openAuditLog(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

var tokenUser string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a session token signed with the configured secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, expiresAt, err := gateway.NewIssuer([]byte(cfg.JWTSecret), cfg.SessionTTL, nil).Issue(tokenUser)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "standctl login --token %s --expires-at %d --user %s\n", token, expiresAt.UnixMilli(), tokenUser)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./gateway.yaml or $HOME/.standhub/gateway.yaml)")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(serveCmd, tokenCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("gateway failed")
		os.Exit(1)
	}
}
