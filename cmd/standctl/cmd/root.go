package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.pilab.hu/standhub"
	"go.pilab.hu/standhub/config"
	"go.pilab.hu/standhub/log"
)

var (
	cfgFile   string
	appLogger log.Logger
	session   *standhub.Session
)

var rootCmd = &cobra.Command{
	Use:           "standctl",
	Short:         "standctl manages the local session and credits of a stand designer account",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClientConfig(cfgFile)
		if err != nil {
			return err
		}
		appLogger = log.NewZerologAdapter(log.ParseLevel(cfg.LogLevel), cfg.LogPretty)

		session, err = standhub.NewSession(cfg, appLogger, nil)
		if err != nil {
			appLogger.Error(cmd.Context(), "Failed to open session", err)
			return err
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if session == nil {
			return nil
		}
		return session.Close()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if appLogger != nil {
			appLogger.Error(context.Background(), "standctl failed", err)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		if session != nil {
			_ = session.Close()
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./standhub.yaml or $HOME/.standhub/standhub.yaml)")
}

// currentToken returns the stored token or an error telling the user to log in.
func currentToken(cmd *cobra.Command) (string, error) {
	token, err := session.Token(cmd.Context())
	if err != nil {
		return "", fmt.Errorf("not logged in, run 'standctl login' first: %w", err)
	}
	return token, nil
}
