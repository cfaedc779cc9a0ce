package main

import (
	"fmt"
	"os"

	"github.com/cartsync/cart/internal/cart/session"
	"github.com/cartsync/cart/internal/cart/store"
	"github.com/cartsync/cart/internal/ui"
	"github.com/spf13/cobra"
)

var groupCmd = &cobra.Command{
	Use:     "group",
	GroupID: "groups",
	Short:   "Create, join and manage groups",
	Long: `A group owns one shopping list. Everyone who knows a group's ID can
join it; share the ID with the people you shop with.`,
}

// withDirectory opens the backend for a command that needs a user.
func withDirectory(fn func(dir store.Directory, user string) error) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	be, closeFn, err := openBackend()
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(be, user)
}

var groupCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a group and make it the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDirectory(func(dir store.Directory, user string) error {
			g, err := dir.CreateGroup(cmd.Context(), args[0], user)
			if err != nil {
				return err
			}
			if err := session.Open(cfg.Session.Path).Remember(user, g.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created %s\n", ui.RenderPass("✓"), g.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "   Share this ID to invite others: %s\n", ui.RenderAccent(g.ID))
			return nil
		})
	},
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your groups, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDirectory(func(dir store.Directory, user string) error {
			groups, err := dir.ListUserGroups(cmd.Context(), user)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s No groups yet; run 'cart group setup'\n", ui.RenderWarn("⚠"))
				return nil
			}
			last, _ := session.Open(cfg.Session.Path).LastGroup(user)
			for _, g := range groups {
				marker := " "
				if g.ID == last {
					marker = ui.RenderAccent("*")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", marker, g.Name, ui.RenderMuted(g.ID))
			}
			return nil
		})
	},
}

var groupJoinCmd = &cobra.Command{
	Use:   "join GROUP_ID",
	Short: "Join a group by its ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDirectory(func(dir store.Directory, user string) error {
			if err := dir.JoinGroup(cmd.Context(), args[0], user); err != nil {
				return err
			}
			g, err := dir.GetGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := session.Open(cfg.Session.Path).Remember(user, g.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Joined %s\n", ui.RenderPass("✓"), g.Name)
			return nil
		})
	},
}

var groupMembersCmd = &cobra.Command{
	Use:   "members",
	Short: "List the active group's members",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDirectory(func(dir store.Directory, user string) error {
			g, err := resolveGroup(cmd, dir, user)
			if err != nil {
				return err
			}
			members, err := dir.ListMembers(cmd.Context(), g.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", ui.RenderBadge(g.Name))
			for _, m := range members {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", m.UserID, ui.RenderMuted(string(m.Role)))
			}
			return nil
		})
	},
}

var groupAddMemberCmd = &cobra.Command{
	Use:   "add-member USER_ID",
	Short: "Add a user to the active group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDirectory(func(dir store.Directory, user string) error {
			g, err := resolveGroup(cmd, dir, user)
			if err != nil {
				return err
			}
			if err := dir.AddMember(cmd.Context(), g.ID, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Added %s to %s\n", ui.RenderPass("✓"), args[0], g.Name)
			return nil
		})
	},
}

var groupRemoveMemberCmd = &cobra.Command{
	Use:   "remove-member USER_ID",
	Short: "Remove a user from the active group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDirectory(func(dir store.Directory, user string) error {
			g, err := resolveGroup(cmd, dir, user)
			if err != nil {
				return err
			}
			if err := dir.RemoveMember(cmd.Context(), g.ID, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s from %s\n", ui.RenderPass("✓"), args[0], g.Name)
			return nil
		})
	},
}

var groupSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively create or join a group",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !ui.IsTerminal(os.Stdin) {
			return fmt.Errorf("%w: use 'cart group create' or 'cart group join'", ui.ErrNotInteractive)
		}
		choice, err := ui.PromptGroupSetup()
		if err != nil {
			return err
		}
		if choice.Create {
			return groupCreateCmd.RunE(cmd, []string{choice.Name})
		}
		return groupJoinCmd.RunE(cmd, []string{choice.GroupID})
	},
}

var groupUseCmd = &cobra.Command{
	Use:   "use GROUP_ID",
	Short: "Make a group the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDirectory(func(dir store.Directory, user string) error {
			groups, err := dir.ListUserGroups(cmd.Context(), user)
			if err != nil {
				return err
			}
			for _, g := range groups {
				if g.ID == args[0] {
					if err := session.Open(cfg.Session.Path).Remember(user, g.ID); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s Now using %s\n", ui.RenderPass("✓"), g.Name)
					return nil
				}
			}
			return fmt.Errorf("not a member of group %s", args[0])
		})
	},
}

func init() {
	groupCmd.AddCommand(groupCreateCmd, groupListCmd, groupJoinCmd, groupMembersCmd,
		groupAddMemberCmd, groupRemoveMemberCmd, groupSetupCmd, groupUseCmd)
	rootCmd.AddCommand(groupCmd)
}
