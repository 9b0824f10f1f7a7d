package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var ssoCmd = &cobra.Command{
	Use:   "sso",
	Short: "Move the session to another domain",
}

var ssoCreateCmd = &cobra.Command{
	Use:   "create <target-domain>",
	Short: "Create a single-use exchange token for a target domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := currentToken(cmd)
		if err != nil {
			return err
		}
		xchg, err := session.SSO.CreateExchangeToken(cmd.Context(), token, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", xchg.Token)
		fmt.Fprintf(cmd.ErrOrStderr(), "Valid for %s on %s\n", time.Until(xchg.ExpiresAt).Round(time.Second), xchg.TargetDomain)
		return nil
	},
}

var ssoRedeemCmd = &cobra.Command{
	Use:   "redeem <exchange-token>",
	Short: "Redeem an exchange token and store the resulting session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := session.SSO.RedeemExchangeToken(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := session.Store.Save(cmd.Context(), *rec); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s, token expires %s\n", rec.UserID, rec.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	ssoCmd.AddCommand(ssoCreateCmd, ssoRedeemCmd)
	rootCmd.AddCommand(ssoCmd)
}
