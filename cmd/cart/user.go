package main

import (
	"fmt"

	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/cartsync/cart/internal/ui"
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:     "user",
	GroupID: "groups",
	Short:   "Manage user profiles",
}

var userAddCmd = &cobra.Command{
	Use:   "add EMAIL",
	Short: "Create or update the acting user's profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser()
		if err != nil {
			return err
		}
		be, closeFn, err := openBackend()
		if err != nil {
			return err
		}
		defer closeFn()

		name, _ := cmd.Flags().GetString("name")
		p := schema.UserProfile{ID: user, Email: args[0], FullName: name}
		if err := be.UpsertUserProfile(cmd.Context(), p); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Saved profile for %s\n", ui.RenderPass("✓"), p.DisplayName())
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		be, closeFn, err := openBackend()
		if err != nil {
			return err
		}
		defer closeFn()

		users, err := be.ListUsers(cmd.Context())
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", u.Email, u.FullName, ui.RenderMuted(u.ID))
		}
		return nil
	},
}

func init() {
	userAddCmd.Flags().String("name", "", "Full name")
	userCmd.AddCommand(userAddCmd, userListCmd)
	rootCmd.AddCommand(userCmd)
}
