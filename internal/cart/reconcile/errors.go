package reconcile

import "errors"

// Errors returned by Reconciler operations.
//
// Remote failures are wrapped so both the kind and the cause are visible:
//
//	if errors.Is(err, reconcile.ErrWrite) {
//	    // the optimistic change has already been reverted
//	}
var (
	// ErrFetch is returned when the initial load of a group's items fails.
	// The cache keeps its previous contents.
	ErrFetch = errors.New("fetch failed")

	// ErrWrite is returned when a mutating remote call fails. The matching
	// optimistic change has been reverted by the time it is returned.
	ErrWrite = errors.New("write failed")

	// ErrSubscription is reported when the change feed cannot be opened or
	// drops. Realtime updates stop until Refresh is called.
	ErrSubscription = errors.New("change subscription failed")

	// ErrNoGroup is returned when an operation needs an active group.
	ErrNoGroup = errors.New("no active group")

	// ErrStaleEpoch is returned when a remote response arrives after the
	// group it was issued for has been deactivated. The response is
	// discarded and the cache is not touched.
	ErrStaleEpoch = errors.New("response belongs to a previous group activation")

	// ErrUnknownItem is returned when an action names an item that is not
	// in the cache.
	ErrUnknownItem = errors.New("item not in list")
)

// IsWriteFailure reports whether err is a rejected mutation whose local
// effect has been undone.
func IsWriteFailure(err error) bool {
	return errors.Is(err, ErrWrite)
}

// IsFetchFailure reports whether err came from loading a group's items.
func IsFetchFailure(err error) bool {
	return errors.Is(err, ErrFetch)
}

// IsRetryable returns true if repeating the operation, or calling Refresh,
// may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Transport problems are usually transient
	if errors.Is(err, ErrFetch) || errors.Is(err, ErrWrite) {
		return true
	}

	// Refresh reopens the feed
	if errors.Is(err, ErrSubscription) {
		return true
	}

	return false
}
