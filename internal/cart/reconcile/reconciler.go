// Package reconcile keeps a client's copy of a group's shopping list
// consistent while three sources write to it: the initial fetch, the
// user's optimistic edits, and change events pushed by the store.
//
// Every user action is applied to the cache first and confirmed against
// the store afterwards. A failed confirmation restores the state captured
// before the action. Pushed events are keyed by item ID, so an insert that
// is already present (typically the echo of this client's own add) is
// ignored, and updates or deletes of unknown IDs are no-ops.
//
// Each group activation starts a new epoch. Responses to calls issued in an
// earlier epoch are dropped so a slow reply cannot leak into another
// group's list.
package reconcile

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cartsync/cart/internal/cart/classify"
	"github.com/cartsync/cart/internal/cart/feed"
	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TempIDPrefix marks identifiers assigned locally to unconfirmed items.
const TempIDPrefix = "tmp-"

// Config holds optional reconciler collaborators.
type Config struct {
	// Classifier derives icons and categories (default: classify.Default)
	Classifier classify.Classifier

	// Notifier receives failures the user must see (default: none)
	Notifier Notifier

	// Logger for reconciler activity (default: no-op)
	Logger *zap.Logger

	// Now is the clock for optimistic timestamps (default: time.Now)
	Now func() time.Time

	// NewTempID generates identifiers for optimistic items
	NewTempID func() string
}

// Reconciler owns the local item cache for one client.
type Reconciler struct {
	store      Store
	classifier classify.Classifier
	notifier   Notifier
	logger     *zap.Logger
	now        func() time.Time
	newTempID  func() string

	mu      sync.Mutex
	session Session
	epoch   uint64
	items   []schema.Item // storage order; sorting happens on read
	sub     feed.Subscription
	pumped  chan struct{}
	live    bool

	seeds   int                 // fetches in flight for this epoch
	replay  []feed.Event        // events applied while a fetch was in flight
	deleted map[string]struct{} // IDs removed by delete events this epoch

	changed chan struct{}
}

// New creates a reconciler for session. It does not touch the store until
// Activate is called.
func New(store Store, session Session, config *Config) *Reconciler {
	if config == nil {
		config = &Config{}
	}
	r := &Reconciler{
		store:      store,
		classifier: config.Classifier,
		notifier:   config.Notifier,
		logger:     config.Logger,
		now:        config.Now,
		newTempID:  config.NewTempID,
		session:    session,
		items:      []schema.Item{},
		deleted:    map[string]struct{}{},
		changed:    make(chan struct{}, 1),
	}
	if r.classifier == nil {
		r.classifier = classify.Default
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("reconcile")
	if r.now == nil {
		r.now = time.Now
	}
	if r.newTempID == nil {
		r.newTempID = func() string { return TempIDPrefix + uuid.NewString() }
	}
	return r
}

// Session returns the current session.
func (r *Reconciler) Session() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Changed returns a channel that receives a value after the cache changes.
// Notifications coalesce: one receive may cover several changes.
func (r *Reconciler) Changed() <-chan struct{} {
	return r.changed
}

// Live reports whether the change subscription is open.
func (r *Reconciler) Live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Items returns the cache in display order.
func (r *Reconciler) Items() []schema.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Sorted(r.items)
}

// Snapshot returns the cache in storage order.
func (r *Reconciler) Snapshot() []schema.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.items)
}

// ActiveCount returns the number of incomplete items.
func (r *Reconciler) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if !it.Completed {
			n++
		}
	}
	return n
}

// Activate switches to groupID: the previous subscription is cancelled, a
// new epoch begins, the cache is cleared and then seeded, and a change
// subscription is opened.
//
// A fetch failure is returned wrapped in ErrFetch. A subscription failure
// is returned wrapped in ErrSubscription after a successful seed; the list
// is usable but will not update until Refresh.
func (r *Reconciler) Activate(ctx context.Context, groupID string) error {
	if groupID == "" {
		return ErrNoGroup
	}
	r.stopPump()

	r.mu.Lock()
	r.epoch++
	r.session.GroupID = groupID
	r.items = []schema.Item{}
	r.live = false
	r.resetEpochLocked()
	user := r.session.UserID
	r.mu.Unlock()
	r.signal()

	r.logger.Info("group activated", zap.String("group", groupID), zap.String("user", user))

	subErr := r.subscribe(ctx)
	if _, err := r.Seed(ctx); err != nil {
		return err
	}
	return subErr
}

// Leave deactivates the current group: the subscription is cancelled and
// the cache is emptied. Responses to calls still in flight are discarded.
func (r *Reconciler) Leave() {
	r.stopPump()

	r.mu.Lock()
	r.epoch++
	r.session.GroupID = ""
	r.items = []schema.Item{}
	r.live = false
	r.resetEpochLocked()
	r.mu.Unlock()
	r.signal()
}

func (r *Reconciler) resetEpochLocked() {
	r.seeds = 0
	r.replay = nil
	r.deleted = map[string]struct{}{}
}

// Close cancels the change subscription and waits for its pump to exit.
// The cache remains readable.
func (r *Reconciler) Close() {
	r.stopPump()
}

// Refresh re-seeds the cache and reopens the subscription if it dropped.
func (r *Reconciler) Refresh(ctx context.Context) error {
	var subErr error
	if !r.Live() {
		r.stopPump()
		subErr = r.subscribe(ctx)
	}
	if _, err := r.Seed(ctx); err != nil {
		return err
	}
	return subErr
}

// Seed replaces the cache with the store's current items for the active
// group. Seeding is a full replacement, never a merge. Change events that
// arrive while the fetch is in flight are applied again on top of the
// fetched items, so a write committed during the fetch is not lost. On
// failure the cache is left as it was.
func (r *Reconciler) Seed(ctx context.Context) ([]schema.Item, error) {
	r.mu.Lock()
	group, epoch := r.session.GroupID, r.epoch
	if group != "" {
		r.seeds++
	}
	r.mu.Unlock()

	if group == "" {
		return nil, ErrNoGroup
	}

	fetched, err := r.store.FetchItems(ctx, group)
	if err != nil {
		r.mu.Lock()
		if r.epoch == epoch {
			r.seedDoneLocked()
		}
		r.mu.Unlock()
		r.logger.Warn("seed failed", zap.String("group", group), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	items := make([]schema.Item, len(fetched))
	for i, it := range fetched {
		it.Pending = false
		items[i] = it
	}

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		r.logger.Debug("discarding stale seed", zap.String("group", group))
		return nil, ErrStaleEpoch
	}
	r.items = items
	for _, ev := range r.replay {
		r.applyLocked(ev)
	}
	r.seedDoneLocked()
	out := Sorted(r.items)
	r.mu.Unlock()
	r.signal()

	r.logger.Debug("seeded", zap.String("group", group), zap.Int("items", len(out)))
	return out, nil
}

func (r *Reconciler) seedDoneLocked() {
	r.seeds--
	if r.seeds <= 0 {
		r.seeds = 0
		r.replay = nil
	}
}

// AddOptimistic inserts an unconfirmed item named name at the head of the
// cache and returns it. The caller tracks it by its temporary ID.
func (r *Reconciler) AddOptimistic(name string) schema.Item {
	item, _, _ := r.addOptimistic(name)
	return item
}

func (r *Reconciler) addOptimistic(name string) (schema.Item, uint64, string) {
	name = strings.TrimSpace(name)
	item := schema.Item{
		ID:        r.newTempID(),
		Name:      name,
		Icon:      r.classifier.Icon(name),
		Category:  r.classifier.Category(name),
		CreatedAt: schema.Timestamp(r.now()),
		Pending:   true,
	}

	r.mu.Lock()
	item.GroupID = r.session.GroupID
	r.items = append([]schema.Item{item}, r.items...)
	epoch, group := r.epoch, r.session.GroupID
	r.mu.Unlock()
	r.signal()

	return item, epoch, group
}

// ConfirmAdd swaps the temporary item for the store's record, keeping its
// list position. It is a no-op if the temporary item is gone.
//
// If the store's insert event already delivered the confirmed ID, that
// copy is folded into the temporary item's slot so the ID stays unique.
// If a delete event for the confirmed ID has already been applied, the
// temporary item is dropped instead.
func (r *Reconciler) ConfirmAdd(tempID string, confirmed schema.Item) {
	r.mu.Lock()
	ok := r.confirmAddLocked(tempID, confirmed)
	r.mu.Unlock()
	if ok {
		r.signal()
	}
}

func (r *Reconciler) confirmAddLocked(tempID string, confirmed schema.Item) bool {
	i := indexOf(r.items, tempID)
	if i < 0 {
		return false
	}

	if _, gone := r.deleted[confirmed.ID]; gone {
		delete(r.deleted, confirmed.ID)
		r.items = slices.Delete(r.items, i, i+1)
		return true
	}

	if j := indexOf(r.items, confirmed.ID); j >= 0 && j != i {
		echoed := r.items[j]
		echoed.Pending = false
		r.items[i] = echoed
		r.items = slices.Delete(r.items, j, j+1)
		return true
	}

	it := r.items[i]
	it.ID = confirmed.ID
	it.CreatedAt = confirmed.CreatedAt
	if confirmed.GroupID != "" {
		it.GroupID = confirmed.GroupID
	}
	it.Pending = false
	r.items[i] = it
	return true
}

// RejectAdd removes a temporary item whose creation failed.
func (r *Reconciler) RejectAdd(tempID string) {
	r.mu.Lock()
	n := len(r.items)
	r.items = without(r.items, tempID)
	removed := len(r.items) != n
	r.mu.Unlock()
	if removed {
		r.signal()
	}
}

// ToggleOptimistic flips an item's completion flag and returns the value
// it had before. ok is false if the item is not cached.
func (r *Reconciler) ToggleOptimistic(id string) (previous bool, ok bool) {
	r.mu.Lock()
	i := indexOf(r.items, id)
	if i >= 0 {
		previous = r.items[i].Completed
		r.items[i].Completed = !previous
	}
	r.mu.Unlock()

	if i < 0 {
		return false, false
	}
	r.signal()
	return previous, true
}

// RevertToggle sets an item's completion flag back to previous.
func (r *Reconciler) RevertToggle(id string, previous bool) {
	r.mu.Lock()
	i := indexOf(r.items, id)
	if i >= 0 {
		r.items[i].Completed = previous
	}
	r.mu.Unlock()
	if i >= 0 {
		r.signal()
	}
}

// RemoveOptimistic removes an item and returns the cache as it was before,
// for RestoreOnFailure. ok is false if the item is not cached.
func (r *Reconciler) RemoveOptimistic(id string) (snapshot []schema.Item, ok bool) {
	r.mu.Lock()
	if indexOf(r.items, id) < 0 {
		r.mu.Unlock()
		return nil, false
	}
	snapshot = slices.Clone(r.items)
	r.items = without(r.items, id)
	r.mu.Unlock()

	r.signal()
	return snapshot, true
}

// RestoreOnFailure replaces the whole cache with snapshot.
func (r *Reconciler) RestoreOnFailure(snapshot []schema.Item) {
	r.mu.Lock()
	r.items = slices.Clone(snapshot)
	r.mu.Unlock()
	r.signal()
}

// ApplyRemoteEvent merges a pushed change into the cache. Events for other
// groups are ignored.
func (r *Reconciler) ApplyRemoteEvent(ev feed.Event) {
	r.mu.Lock()
	changed := r.applyLocked(ev)
	r.mu.Unlock()
	if changed {
		r.signal()
	}
}

func (r *Reconciler) applyLocked(ev feed.Event) bool {
	if ev.GroupID != "" && ev.GroupID != r.session.GroupID {
		return false
	}

	switch ev.Kind {
	case feed.KindInsert:
		if indexOf(r.items, ev.Item.ID) >= 0 {
			return false
		}
		item := ev.Item
		item.Pending = false
		r.items = append([]schema.Item{item}, r.items...)
		return true

	case feed.KindUpdate:
		i := indexOf(r.items, ev.Item.ID)
		if i < 0 {
			return false
		}
		it := r.items[i]
		it.Name = ev.Item.Name
		it.Completed = ev.Item.Completed
		it.Icon = ev.Item.Icon
		it.Category = ev.Item.Category
		it.CreatedAt = ev.Item.CreatedAt
		r.items[i] = it
		return true

	case feed.KindDelete:
		r.deleted[ev.ID] = struct{}{}
		n := len(r.items)
		r.items = without(r.items, ev.ID)
		return len(r.items) != n
	}

	r.logger.Warn("ignoring unknown event", zap.String("kind", string(ev.Kind)))
	return false
}

// subscribe opens the change feed for the active group and starts the
// pump that applies its events.
func (r *Reconciler) subscribe(ctx context.Context) error {
	r.mu.Lock()
	group, epoch := r.session.GroupID, r.epoch
	r.mu.Unlock()

	sub, err := r.store.Subscribe(ctx, group)
	if err != nil {
		r.logger.Warn("subscribe failed", zap.String("group", group), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrSubscription, err)
	}

	done := make(chan struct{})

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		sub.Unsubscribe()
		return ErrStaleEpoch
	}
	r.sub, r.pumped, r.live = sub, done, true
	r.mu.Unlock()

	go r.pump(sub, epoch, done)
	return nil
}

func (r *Reconciler) pump(sub feed.Subscription, epoch uint64, done chan struct{}) {
	defer close(done)

	for ev := range sub.Events() {
		r.mu.Lock()
		current := r.epoch == epoch
		if current && r.seeds > 0 {
			r.replay = append(r.replay, ev)
		}
		changed := current && r.applyLocked(ev)
		r.mu.Unlock()
		if changed {
			r.signal()
		}
	}

	if err := sub.Err(); err != nil {
		r.mu.Lock()
		current := r.epoch == epoch
		if current {
			r.live = false
		}
		r.mu.Unlock()
		if current {
			r.logger.Warn("realtime updates lost", zap.Error(fmt.Errorf("%w: %w", ErrSubscription, err)))
			r.signal()
		}
	}
}

// stopPump cancels the current subscription and waits for its pump.
func (r *Reconciler) stopPump() {
	r.mu.Lock()
	sub, done := r.sub, r.pumped
	r.sub, r.pumped, r.live = nil, nil, false
	r.mu.Unlock()

	if sub == nil {
		return
	}
	sub.Unsubscribe()
	<-done
}

func (r *Reconciler) signal() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func (r *Reconciler) alert(err error) {
	if r.notifier != nil {
		r.notifier.Alert(err)
	}
}

// isCurrent reports whether epoch is still the active one.
func (r *Reconciler) isCurrent(epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch == epoch
}
