package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.pilab.hu/standhub/domain"
)

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the credit balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := currentToken(cmd)
		if err != nil {
			return err
		}
		bal, err := session.Credits.CheckBalance(cmd.Context(), token)
		if err != nil {
			return err
		}
		return printJSON(cmd, bal)
	},
}

var (
	reserveService string
	reserveAmount  int
	commitURL      string
	rollbackReason string
)

var reserveCmd = &cobra.Command{
	Use:   "reserve",
	Short: "Reserve credits for a generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := currentToken(cmd)
		if err != nil {
			return err
		}
		res, err := session.Credits.ReserveTokens(cmd.Context(), token, domain.ServiceType(reserveService), reserveAmount)
		if err != nil {
			return err
		}
		if res.Insufficient() {
			fmt.Fprintf(cmd.ErrOrStderr(), "Insufficient balance: %d available, %d required\n", res.AvailableBalance, res.Required)
		}
		return printJSON(cmd, res)
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit <reservation-id>",
	Short: "Commit a reservation with the generated result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := currentToken(cmd)
		if err != nil {
			return err
		}
		res, err := session.Credits.CommitReservation(cmd.Context(), token, args[0], commitURL)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <reservation-id>",
	Short: "Roll back a reservation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := currentToken(cmd)
		if err != nil {
			return err
		}
		res, err := session.Credits.RollbackReservation(cmd.Context(), token, args[0], rollbackReason)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func init() {
	reserveCmd.Flags().StringVar(&reserveService, "service", string(domain.ServiceImageGeneration), "service type to pay for")
	reserveCmd.Flags().IntVar(&reserveAmount, "amount", 1, "credits to reserve")
	commitCmd.Flags().StringVar(&commitURL, "result-url", "", "URL of the generated artifact")
	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "cancelled", "why the generation was abandoned")

	rootCmd.AddCommand(balanceCmd, reserveCmd, commitCmd, rollbackCmd)
}
