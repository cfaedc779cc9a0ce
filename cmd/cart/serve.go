package main

import (
	"fmt"

	"github.com/cartsync/cart/internal/cart/daemon"
	"github.com/cartsync/cart/internal/cart/server"
	"github.com/cartsync/cart/internal/cart/store"
	"github.com/cartsync/cart/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Serve the HTTP API and realtime change streams",
	Long: `Serve the local database over HTTP.

Clients call the JSON API under /groups and /items, and follow a group's
changes over a WebSocket at /ws?group=ID. Requests identify their user
with the X-Cart-User header.

Unless --no-inbox is given, batch files dropped into the inbox directory
are added to their group's list as well.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		st := store.New(database, nil, logger)
		defer st.Hub().Close()

		srv := server.New(st, &server.Config{Port: cfg.Server.Port, Logger: logger})

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			return srv.Run(ctx)
		})

		if noInbox, _ := cmd.Flags().GetBool("no-inbox"); !noInbox {
			d, err := newInboxDaemon(cmd, st)
			if err != nil {
				return err
			}
			defer func() { _ = d.Stop() }()
			g.Go(func() error {
				return d.Start(ctx)
			})
			fmt.Fprintf(cmd.OutOrStdout(), "%s Watching inbox %s\n", ui.RenderAccent("📥"), d.Dir())
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Serving on port %d (Ctrl+C to stop)\n", ui.RenderAccent("🛒"), cfg.Server.Port)
		return g.Wait()
	},
}

// newInboxDaemon creates a daemon for the configured inbox that reports
// each batch on the command's output.
func newInboxDaemon(cmd *cobra.Command, adder daemon.Adder) (*daemon.Daemon, error) {
	out := cmd.OutOrStdout()
	return daemon.New(adder, cfg.Inbox.Dir, &daemon.Config{
		DebounceInterval: cfg.Inbox.Debounce,
		Logger:           logger,
		OnResult: func(r daemon.Result) {
			switch {
			case r.Err != nil:
				fmt.Fprintf(out, "%s %s: %v\n", ui.RenderFail("✗"), r.Path, r.Err)
			case r.Failed > 0:
				fmt.Fprintf(out, "%s %s: added %d, %d will be retried\n", ui.RenderWarn("⚠"), r.Path, r.Added, r.Failed)
			default:
				fmt.Fprintf(out, "%s %s: added %d items\n", ui.RenderPass("✓"), r.Path, r.Added)
			}
		},
	})
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "server",
	Short:   "Add items from batch files dropped into the inbox",
	Long: `Watch the inbox directory for JSON or YAML batch files:

  group_id: 4f1c...
  items:
    - milk
    - name: bread
      category: Bakery

Each item is added to the group and the file is removed. Files that cannot
be parsed are renamed with a .rejected suffix.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		be, closeFn, err := openBackend()
		if err != nil {
			return err
		}
		defer closeFn()

		d, err := newInboxDaemon(cmd, be)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Watching inbox %s (Ctrl+C to stop)\n", ui.RenderAccent("📥"), d.Dir())
		return d.Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8787, "Port to listen on")
	serveCmd.Flags().String("inbox", "", "Inbox directory for batch files")
	serveCmd.Flags().Bool("no-inbox", false, "Do not watch the inbox")
	daemonCmd.Flags().String("inbox", "", "Inbox directory for batch files")

	rootCmd.AddCommand(serveCmd, daemonCmd)
}
