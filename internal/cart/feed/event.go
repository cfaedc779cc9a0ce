// Package feed provides the per-group change stream that pushes item
// inserts, updates and deletes to every subscribed client.
package feed

import (
	"errors"
	"time"

	"github.com/cartsync/cart/internal/cart/schema"
)

// Kind is the type of change carried by an Event.
type Kind string

const (
	// KindInsert indicates an item was created.
	KindInsert Kind = "INSERT"

	// KindUpdate indicates an item's fields changed.
	KindUpdate Kind = "UPDATE"

	// KindDelete indicates an item was removed.
	KindDelete Kind = "DELETE"
)

// IsValid reports whether k is a known change kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindInsert, KindUpdate, KindDelete:
		return true
	}
	return false
}

// Event is a single change to a group's item list.
//
// Item holds the new row for inserts and updates. For deletes only ID is
// meaningful.
type Event struct {
	Kind    Kind        `json:"type"`
	GroupID string      `json:"group_id"`
	ID      string      `json:"id"`
	Item    schema.Item `json:"new,omitempty"`
	At      time.Time   `json:"at"`
}

// Inserted builds an insert event for item.
func Inserted(item schema.Item) Event {
	return Event{Kind: KindInsert, GroupID: item.GroupID, ID: item.ID, Item: item, At: time.Now()}
}

// Updated builds an update event for item.
func Updated(item schema.Item) Event {
	return Event{Kind: KindUpdate, GroupID: item.GroupID, ID: item.ID, Item: item, At: time.Now()}
}

// Deleted builds a delete event for the item id in groupID.
func Deleted(groupID, id string) Event {
	return Event{Kind: KindDelete, GroupID: groupID, ID: id, At: time.Now()}
}

// ErrDropped is reported by Subscription.Err when the feed closed the
// subscription itself, either because the consumer fell behind or because
// the underlying connection was lost. Events may have been missed.
var ErrDropped = errors.New("change feed dropped subscription")

// Subscription is a cancellable stream of change events for one group.
type Subscription interface {
	// Events returns the channel events are delivered on. It is closed when
	// the subscription ends for any reason.
	Events() <-chan Event

	// Unsubscribe cancels the subscription. Calling it more than once is
	// safe and has no further effect.
	Unsubscribe()

	// Err returns nil while the subscription is open or after Unsubscribe,
	// and ErrDropped (possibly wrapped) if the feed ended it.
	Err() error
}
