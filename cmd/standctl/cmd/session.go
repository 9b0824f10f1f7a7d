package cmd

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.pilab.hu/standhub/domain"
)

var (
	loginToken     string
	loginExpiresAt string
	loginUser      string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a session token issued by the identity provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		expiresAt, err := parseExpiry(loginExpiresAt)
		if err != nil {
			return err
		}
		rec := domain.TokenRecord{Token: loginToken, ExpiresAt: expiresAt, UserID: loginUser}
		if err := session.Store.Save(cmd.Context(), rec); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s, token expires %s\n", loginUser, expiresAt.Format(time.RFC3339))
		return nil
	},
}

// parseExpiry accepts RFC 3339 timestamps and epoch milliseconds.
func parseExpiry(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, fmt.Errorf("invalid --expires-at %q: want RFC 3339 or epoch milliseconds", value)
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the session and clear local token storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := session.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rec, ok := session.Store.Record(ctx)
		out := cmd.OutOrStdout()
		if !ok {
			fmt.Fprintln(out, "Not logged in")
			return nil
		}

		left := time.Until(rec.ExpiresAt).Round(time.Second)
		fmt.Fprintf(out, "User:       %s\n", rec.UserID)
		fmt.Fprintf(out, "Expires at: %s (%s)\n", rec.ExpiresAt.Format(time.RFC3339), left)
		switch {
		case session.Store.HasExpired(ctx):
			fmt.Fprintln(out, "State:      expired, log in again")
		case session.Store.ShouldRefreshToken(ctx):
			fmt.Fprintln(out, "State:      due for refresh")
		default:
			fmt.Fprintln(out, "State:      valid")
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the session fresh until interrupted or the session is lost",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if _, err := currentToken(cmd); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		lost := make(chan error, 1)
		session.Auth.OnAuthLost(func(cause error) {
			select {
			case lost <- cause:
			default:
			}
		})
		session.Auth.OnTokenRefreshed(func(rec domain.TokenRecord) {
			fmt.Fprintf(out, "Token refreshed, expires %s\n", rec.ExpiresAt.Format(time.RFC3339))
		})

		session.Auth.Start(ctx)
		defer session.Auth.Stop()
		fmt.Fprintln(out, "Watching session, press Ctrl+C to stop")

		select {
		case cause := <-lost:
			return fmt.Errorf("session lost: %w", cause)
		case <-ctx.Done():
			fmt.Fprintln(out, "Stopped")
			return nil
		}
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "session token")
	loginCmd.Flags().StringVar(&loginExpiresAt, "expires-at", "", "token expiry, RFC 3339 or epoch milliseconds")
	loginCmd.Flags().StringVar(&loginUser, "user", "", "user id owning the token")
	_ = loginCmd.MarkFlagRequired("token")
	_ = loginCmd.MarkFlagRequired("expires-at")

	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd, watchCmd)
}
