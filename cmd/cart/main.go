// Command cart manages shared shopping lists.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cartsync/cart/internal/config"
	"github.com/cartsync/cart/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	configFile string
	verbose    bool

	cfg    *config.Config
	logger = zap.NewNop()
)

// configKeys maps command-line flags to the config keys they override.
var configKeys = map[string]string{
	"db":        "db.path",
	"url":       "server.url",
	"user":      "user.id",
	"log-level": "log.level",
	"port":      "server.port",
	"inbox":     "inbox.dir",
}

var rootCmd = &cobra.Command{
	Use:   "cart",
	Short: "Shared shopping lists with realtime sync",
	Long: `cart keeps a shopping list shared by a group of people in sync.

Commands work against a local database by default. Set server.url (or
--url) to talk to a 'cart serve' instance instead.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configFile, configFlags(cmd))
		if err != nil {
			return err
		}
		l, err := logging.New(logging.Options{
			Level:     c.Log.Level,
			File:      c.Log.File,
			MaxSizeMB: c.Log.MaxSizeMB,
			Console:   verbose,
		})
		if err != nil {
			return err
		}
		cfg, logger = c, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "list", Title: "Shopping list:"},
		&cobra.Group{ID: "groups", Title: "Groups and users:"},
		&cobra.Group{ID: "server", Title: "Server and data:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/cart/cart.yaml)")
	pf.String("db", "", "Database path")
	pf.String("url", "", "Server URL; overrides the local database")
	pf.StringP("user", "u", "", "Acting user ID")
	pf.StringP("group", "g", "", "Group ID (default: last used group)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Log to stderr")
}

// configFlags returns the flags the user set, renamed to their config
// keys so config.Load can bind them.
func configFlags(cmd *cobra.Command) *pflag.FlagSet {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := configKeys[f.Name]
		if !ok || !f.Changed {
			return
		}
		bound := *f
		bound.Name = key
		bound.Shorthand = ""
		fs.AddFlag(&bound)
	})
	return fs
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
