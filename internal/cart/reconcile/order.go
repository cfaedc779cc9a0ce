package reconcile

import (
	"slices"

	"github.com/cartsync/cart/internal/cart/schema"
)

// Sorted returns a copy of items in display order: incomplete before
// completed, newest first within each. The sort is stable so items with
// equal keys keep their stored order.
func Sorted(items []schema.Item) []schema.Item {
	out := slices.Clone(items)
	slices.SortStableFunc(out, compareItems)
	return out
}

func compareItems(a, b schema.Item) int {
	if a.Completed != b.Completed {
		if a.Completed {
			return 1
		}
		return -1
	}
	return b.CreatedAt.Compare(a.CreatedAt)
}

func indexOf(items []schema.Item, id string) int {
	return slices.IndexFunc(items, func(it schema.Item) bool { return it.ID == id })
}

func without(items []schema.Item, id string) []schema.Item {
	return slices.DeleteFunc(items, func(it schema.Item) bool { return it.ID == id })
}
