package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/cartsync/cart/internal/cart/client"
	"github.com/cartsync/cart/internal/cart/db"
	"github.com/cartsync/cart/internal/cart/reconcile"
	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/cartsync/cart/internal/cart/session"
	"github.com/cartsync/cart/internal/cart/store"
	"github.com/spf13/cobra"
)

// backend is everything the commands need from a store. The local store
// and the HTTP client both provide it.
type backend interface {
	reconcile.Store
	store.Directory
	ImportItems(ctx context.Context, groupID string, items []schema.Item) (int, error)
}

var (
	_ backend = (*store.Local)(nil)
	_ backend = (*client.Client)(nil)
)

// openBackend connects to server.url when set, otherwise opens the local
// database. The returned func releases it.
func openBackend() (backend, func(), error) {
	if cfg.Server.URL != "" {
		c, err := client.New(cfg.Server.URL, cfg.User.ID, &client.Config{Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	}

	database, err := openDatabase()
	if err != nil {
		return nil, nil, err
	}
	return store.New(database, nil, logger), func() { _ = database.Close() }, nil
}

func openDatabase() (*db.DB, error) {
	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return database, nil
}

func requireUser() (string, error) {
	if cfg.User.ID == "" {
		return "", errors.New("no user: set user.id in the config, CART_USER_ID, or pass --user")
	}
	return cfg.User.ID, nil
}

// resolveGroup returns the group named by --group, or the user's last used
// group.
func resolveGroup(cmd *cobra.Command, dir store.Directory, userID string) (schema.Group, error) {
	ctx := cmd.Context()
	if id, _ := cmd.Flags().GetString("group"); id != "" {
		return dir.GetGroup(ctx, id)
	}

	g, err := session.Open(cfg.Session.Path).Resolve(ctx, dir, userID)
	if errors.Is(err, session.ErrNoGroups) {
		return schema.Group{}, fmt.Errorf("%w: run 'cart group setup' to create or join one", err)
	}
	return g, err
}

// listContext bundles what list commands share.
type listContext struct {
	backend backend
	user    string
	group   schema.Group
	close   func()
}

func openList(cmd *cobra.Command) (*listContext, error) {
	user, err := requireUser()
	if err != nil {
		return nil, err
	}
	be, closeFn, err := openBackend()
	if err != nil {
		return nil, err
	}
	g, err := resolveGroup(cmd, be, user)
	if err != nil {
		closeFn()
		return nil, err
	}
	return &listContext{backend: be, user: user, group: g, close: closeFn}, nil
}

// reconciler returns a reconciler bound to the list's group and seeded
// from the store.
func (lc *listContext) reconciler(ctx context.Context, config *reconcile.Config) (*reconcile.Reconciler, error) {
	if config == nil {
		config = &reconcile.Config{}
	}
	config.Logger = logger
	r := reconcile.New(lc.backend, reconcile.Session{UserID: lc.user, GroupID: lc.group.ID}, config)
	if _, err := r.Seed(ctx); err != nil {
		return nil, err
	}
	return r, nil
}
