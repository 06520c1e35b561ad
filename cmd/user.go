package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"quickgpt/internal/model"
	"quickgpt/internal/pkg/id"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user with an initial credit balance",
	RunE:  runUserCreate,
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)

	flags := userCreateCmd.Flags()
	flags.String("name", "", "user display name")
	flags.String("email", "", "user email (unique)")
	flags.Int64("credits", model.DefaultUserCredits, "initial credits")
	_ = userCreateCmd.MarkFlagRequired("name")
	_ = userCreateCmd.MarkFlagRequired("email")
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	email, _ := cmd.Flags().GetString("email")
	credits, _ := cmd.Flags().GetInt64("credits")
	if credits < 0 {
		return fmt.Errorf("credits must not be negative")
	}

	users, closeFn, err := openUserRepo()
	if err != nil {
		return err
	}
	defer closeFn()

	user := &model.User{
		ID:      id.New(),
		Name:    name,
		Email:   email,
		Credits: credits,
	}
	if err := users.Create(cmd.Context(), user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s) with %d credits\n", user.ID, user.Email, user.Credits)
	return nil
}
