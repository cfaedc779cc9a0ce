package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cartsync/cart/internal/cart/feed"
	"github.com/cartsync/cart/internal/cart/schema"
)

var errBoom = errors.New("boom")

// fakeStore is an in-memory Store whose failures and latency are scripted
// by the test.
type fakeStore struct {
	mu    sync.Mutex
	items map[string][]schema.Item // group -> newest first
	seq   int
	hub   *feed.Hub

	failFetch     error
	failAdd       error
	failSet       error
	failDelete    error
	failClear     error
	failSubscribe error

	// addGate, when set, blocks AddItem until it is closed.
	addGate chan struct{}
	// muted suppresses change events.
	muted bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items: make(map[string][]schema.Item),
		hub:   feed.NewHub(nil),
	}
}

func (f *fakeStore) seed(group string, items ...schema.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range items {
		items[i].GroupID = group
	}
	f.items[group] = append(f.items[group], items...)
}

func (f *fakeStore) publish(ev feed.Event) {
	f.mu.Lock()
	hub, muted := f.hub, f.muted
	f.mu.Unlock()
	if !muted {
		hub.Publish(ev)
	}
}

func (f *fakeStore) currentHub() *feed.Hub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hub
}

// dropFeed ends every open subscription with feed.ErrDropped and installs
// a fresh hub for later subscribers.
func (f *fakeStore) dropFeed() {
	f.mu.Lock()
	old := f.hub
	f.hub = feed.NewHub(nil)
	f.mu.Unlock()
	old.Close()
}

func (f *fakeStore) FetchItems(_ context.Context, groupID string) ([]schema.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFetch != nil {
		return nil, f.failFetch
	}
	return slices.Clone(f.items[groupID]), nil
}

func (f *fakeStore) AddItem(ctx context.Context, groupID, name, icon, category string) (schema.Item, error) {
	f.mu.Lock()
	gate := f.addGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return schema.Item{}, ctx.Err()
		}
	}

	f.mu.Lock()
	if f.failAdd != nil {
		f.mu.Unlock()
		return schema.Item{}, f.failAdd
	}
	f.seq++
	item := schema.Item{
		ID:        fmt.Sprintf("srv-%d", f.seq),
		GroupID:   groupID,
		Name:      name,
		Icon:      icon,
		Category:  category,
		CreatedAt: time.UnixMilli(int64(1000 + f.seq)).UTC(),
	}
	f.items[groupID] = append([]schema.Item{item}, f.items[groupID]...)
	f.mu.Unlock()

	f.publish(feed.Inserted(item))
	return item, nil
}

func (f *fakeStore) SetCompleted(_ context.Context, id string, completed bool) error {
	f.mu.Lock()
	if f.failSet != nil {
		f.mu.Unlock()
		return f.failSet
	}
	for g, items := range f.items {
		if i := indexOf(items, id); i >= 0 {
			items[i].Completed = completed
			item := items[i]
			f.items[g] = items
			f.mu.Unlock()
			f.publish(feed.Updated(item))
			return nil
		}
	}
	f.mu.Unlock()
	return fmt.Errorf("item %s: not found", id)
}

func (f *fakeStore) DeleteItem(_ context.Context, id string) error {
	f.mu.Lock()
	if f.failDelete != nil {
		f.mu.Unlock()
		return f.failDelete
	}
	for g, items := range f.items {
		if indexOf(items, id) >= 0 {
			f.items[g] = without(items, id)
			f.mu.Unlock()
			f.publish(feed.Deleted(g, id))
			return nil
		}
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) clear(groupID string, keep func(schema.Item) bool) error {
	f.mu.Lock()
	if f.failClear != nil {
		f.mu.Unlock()
		return f.failClear
	}
	var kept []schema.Item
	var gone []string
	for _, it := range f.items[groupID] {
		if keep(it) {
			kept = append(kept, it)
		} else {
			gone = append(gone, it.ID)
		}
	}
	f.items[groupID] = kept
	f.mu.Unlock()

	for _, id := range gone {
		f.publish(feed.Deleted(groupID, id))
	}
	return nil
}

func (f *fakeStore) DeleteCompleted(_ context.Context, groupID string) error {
	return f.clear(groupID, func(it schema.Item) bool { return !it.Completed })
}

func (f *fakeStore) DeleteAll(_ context.Context, groupID string) error {
	return f.clear(groupID, func(schema.Item) bool { return false })
}

func (f *fakeStore) Subscribe(_ context.Context, groupID string) (feed.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubscribe != nil {
		return nil, f.failSubscribe
	}
	return f.hub.Subscribe(groupID), nil
}

func (f *fakeStore) set(fn func(f *fakeStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}
