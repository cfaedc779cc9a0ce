// Package schema provides the data structures shared by the cart store,
// the realtime feed and the reconciler.
package schema

import (
	"fmt"
	"strings"
	"time"
)

// MaxNameLength bounds item and group names.
const MaxNameLength = 200

// Item is a single entry on a group's shopping list.
//
// Pending is local-only state: it marks an item that was inserted
// optimistically and has not been acknowledged by the store yet. It is never
// serialized or persisted.
type Item struct {
	ID        string    `json:"id" yaml:"id"`
	GroupID   string    `json:"group_id" yaml:"group_id"`
	Name      string    `json:"name" yaml:"name"`
	Completed bool      `json:"is_completed" yaml:"is_completed"`
	Icon      string    `json:"icon" yaml:"icon"`
	Category  string    `json:"category" yaml:"category"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	Pending bool `json:"-" yaml:"-"`
}

// Validate checks if the Item has valid field values.
func (i *Item) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("id is required")
	}
	if i.GroupID == "" {
		return fmt.Errorf("group_id is required")
	}
	if err := ValidateName(i.Name); err != nil {
		return err
	}
	if i.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// ValidateName checks a user-entered item or group name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name must be %d characters or less (got %d)", MaxNameLength, len(name))
	}
	return nil
}

// Timestamp truncates t to the millisecond precision used for ordering.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
