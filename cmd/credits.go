package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"quickgpt/internal/repository"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and top up credit balances",
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Add credits to a user's balance",
	RunE:  runCreditsGrant,
}

var creditsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a user's credit balance",
	RunE:  runCreditsShow,
}

func init() {
	rootCmd.AddCommand(creditsCmd)
	creditsCmd.AddCommand(creditsGrantCmd, creditsShowCmd)

	creditsGrantCmd.Flags().String("user", "", "user id")
	creditsGrantCmd.Flags().Int64("amount", 0, "credits to add (positive)")
	_ = creditsGrantCmd.MarkFlagRequired("user")
	_ = creditsGrantCmd.MarkFlagRequired("amount")

	creditsShowCmd.Flags().String("user", "", "user id")
	_ = creditsShowCmd.MarkFlagRequired("user")
}

func runCreditsGrant(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	amount, _ := cmd.Flags().GetInt64("amount")

	users, closeFn, err := openUserRepo()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := cmd.Context()
	if err := users.Grant(ctx, userID, amount); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("user %s not found", userID)
		case errors.Is(err, repository.ErrInvalidAmount):
			return fmt.Errorf("amount must be positive, got %d", amount)
		}
		return fmt.Errorf("failed to grant credits: %w", err)
	}

	balance, err := users.Balance(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "granted %d credits to %s, balance is now %d\n", amount, userID, balance)
	return nil
}

func runCreditsShow(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")

	users, closeFn, err := openUserRepo()
	if err != nil {
		return err
	}
	defer closeFn()

	balance, err := users.Balance(cmd.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("user %s not found", userID)
		}
		return fmt.Errorf("failed to read balance: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits\n", userID, balance)
	return nil
}
