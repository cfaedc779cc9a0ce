package main

import (
	"fmt"
	"time"

	"github.com/cartsync/cart/internal/cart/reconcile"
	"github.com/cartsync/cart/internal/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// reconnectInterval is how often watch retries a dropped change stream.
const reconnectInterval = 5 * time.Second

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "list",
	Short:   "Show the list and follow changes as they happen",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, err := openList(cmd)
		if err != nil {
			return err
		}
		defer lc.close()

		out := cmd.OutOrStdout()
		r := reconcile.New(lc.backend, reconcile.Session{UserID: lc.user}, &reconcile.Config{
			Logger: logger,
			Notifier: reconcile.NotifierFunc(func(err error) {
				fmt.Fprintf(out, "%s %v\n", ui.RenderFail("✗"), err)
			}),
		})
		defer r.Close()

		if err := r.Activate(cmd.Context(), lc.group.ID); err != nil {
			if !reconcile.IsRetryable(err) || reconcile.IsFetchFailure(err) {
				return err
			}
			fmt.Fprintf(out, "%s Live updates unavailable, retrying: %v\n", ui.RenderWarn("⚠"), err)
		}

		ticker := time.NewTicker(reconnectInterval)
		defer ticker.Stop()

		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case <-r.Changed():
				fmt.Fprint(out, ui.RenderList(lc.group.Name, r.Items()))
			case <-ticker.C:
				if r.Live() {
					continue
				}
				if err := r.Refresh(cmd.Context()); err != nil {
					logger.Debug("refresh failed", zap.Error(err))
					continue
				}
				fmt.Fprintf(out, "%s Reconnected\n", ui.RenderPass("✓"))
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
