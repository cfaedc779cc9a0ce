package reconcile

import (
	"context"

	"github.com/cartsync/cart/internal/cart/feed"
	"github.com/cartsync/cart/internal/cart/schema"
)

// Store is the remote item store the reconciler confirms its optimistic
// changes against.
type Store interface {
	// FetchItems returns all items of a group, newest first.
	FetchItems(ctx context.Context, groupID string) ([]schema.Item, error)

	// AddItem creates an item. The store assigns the ID and timestamp.
	AddItem(ctx context.Context, groupID, name, icon, category string) (schema.Item, error)

	SetCompleted(ctx context.Context, id string, completed bool) error
	DeleteItem(ctx context.Context, id string) error
	DeleteCompleted(ctx context.Context, groupID string) error
	DeleteAll(ctx context.Context, groupID string) error

	// Subscribe opens the group's change stream.
	Subscribe(ctx context.Context, groupID string) (feed.Subscription, error)
}

// Session identifies who is using the reconciler and which group is active.
type Session struct {
	UserID  string
	GroupID string
}

// Notifier surfaces failures that need the user's attention.
type Notifier interface {
	Alert(err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(err error)

// Alert implements Notifier.
func (f NotifierFunc) Alert(err error) { f(err) }
