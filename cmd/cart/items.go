package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cartsync/cart/internal/cart/reconcile"
	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/cartsync/cart/internal/ui"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
)

var itemsCmd = &cobra.Command{
	Use:     "items",
	GroupID: "list",
	Short:   "Show and change the shopping list",
}

var itemsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the list, items to buy first",
	Long: `Show the active group's list. Items still to buy come first, newest
first, followed by completed items.

--since accepts a duration ("2h") or a natural expression ("yesterday",
"last monday").`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, err := openList(cmd)
		if err != nil {
			return err
		}
		defer lc.close()

		items, err := lc.backend.FetchItems(cmd.Context(), lc.group.ID)
		if err != nil {
			return err
		}
		items = reconcile.Sorted(items)

		if since, _ := cmd.Flags().GetString("since"); since != "" {
			cutoff, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			items = createdSince(items, cutoff)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}
		fmt.Fprint(cmd.OutOrStdout(), ui.RenderList(lc.group.Name, items))
		return nil
	},
}

var itemsAddCmd = &cobra.Command{
	Use:   "add NAME...",
	Short: "Add items; icon and category are picked from the name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, err := openList(cmd)
		if err != nil {
			return err
		}
		defer lc.close()

		r, err := lc.reconciler(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer r.Close()

		var errs []error
		for _, name := range args {
			it, err := r.AddItem(cmd.Context(), name)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Added %s %s\n", ui.RenderPass("✓"), it.Icon, it.Name)
		}
		return errors.Join(errs...)
	},
}

var itemsToggleCmd = &cobra.Command{
	Use:   "toggle ITEM",
	Short: "Mark an item bought, or not bought",
	Long:  `Flip an item's completion. ITEM is an item ID or name.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, err := openList(cmd)
		if err != nil {
			return err
		}
		defer lc.close()

		r, err := lc.reconciler(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer r.Close()

		it, err := findItem(r, args[0])
		if err != nil {
			return err
		}
		if err := r.ToggleItem(cmd.Context(), it.ID); err != nil {
			return err
		}
		state := "to buy"
		if !it.Completed {
			state = "bought"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s marked %s\n", ui.RenderPass("✓"), it.Name, state)
		return nil
	},
}

var itemsRmCmd = &cobra.Command{
	Use:     "rm ITEM",
	Aliases: []string{"delete"},
	Short:   "Remove an item",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, err := openList(cmd)
		if err != nil {
			return err
		}
		defer lc.close()

		r, err := lc.reconciler(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer r.Close()

		it, err := findItem(r, args[0])
		if err != nil {
			return err
		}
		if err := r.DeleteItem(cmd.Context(), it.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s\n", ui.RenderPass("✓"), it.Name)
		return nil
	},
}

var itemsClearCompletedCmd = &cobra.Command{
	Use:   "clear-completed",
	Short: "Remove every bought item",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, err := openList(cmd)
		if err != nil {
			return err
		}
		defer lc.close()

		r, err := lc.reconciler(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer r.Close()

		before := len(r.Snapshot())
		if err := r.ClearCompleted(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %d bought items\n", ui.RenderPass("✓"), before-len(r.Snapshot()))
		return nil
	},
}

var itemsClearAllCmd = &cobra.Command{
	Use:   "clear-all",
	Short: "Remove every item",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, err := openList(cmd)
		if err != nil {
			return err
		}
		defer lc.close()

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			if !ui.IsTerminal(os.Stdin) {
				return fmt.Errorf("%w: pass --yes to clear the list", ui.ErrNotInteractive)
			}
			ok, err := ui.Confirm(fmt.Sprintf("Remove every item from %s?", lc.group.Name))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing removed")
				return nil
			}
		}

		r, err := lc.reconciler(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer r.Close()

		if err := r.ClearAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Cleared %s\n", ui.RenderPass("✓"), lc.group.Name)
		return nil
	},
}

// findItem resolves ref as an item ID, then as a name.
func findItem(r *reconcile.Reconciler, ref string) (schema.Item, error) {
	for _, it := range r.Snapshot() {
		if it.ID == ref {
			return it, nil
		}
	}
	if it, ok := r.FindByName(ref); ok {
		return it, nil
	}
	return schema.Item{}, fmt.Errorf("%w: %s", reconcile.ErrUnknownItem, ref)
}

// parseSince turns a duration or natural time expression into a cutoff.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	res, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", s, err)
	}
	if res == nil {
		return time.Time{}, fmt.Errorf("unrecognized --since value %q", s)
	}
	return res.Time, nil
}

func createdSince(items []schema.Item, cutoff time.Time) []schema.Item {
	out := make([]schema.Item, 0, len(items))
	for _, it := range items {
		if !it.CreatedAt.Before(cutoff) {
			out = append(out, it)
		}
	}
	return out
}

func init() {
	itemsListCmd.Flags().String("since", "", "Only items added since this time")
	itemsListCmd.Flags().Bool("json", false, "Output JSON")
	itemsClearAllCmd.Flags().BoolP("yes", "y", false, "Skip confirmation")

	itemsCmd.AddCommand(itemsListCmd, itemsAddCmd, itemsToggleCmd, itemsRmCmd,
		itemsClearCompletedCmd, itemsClearAllCmd)
	rootCmd.AddCommand(itemsCmd)
}
