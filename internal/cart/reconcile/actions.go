package reconcile

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/cartsync/cart/internal/cart/schema"
	"go.uber.org/zap"
)

// mutation is one optimistic action: apply changes the cache, call confirms
// it remotely, and revert undoes apply when call fails. A nil revert
// restores the snapshot taken before apply.
type mutation struct {
	op     string
	apply  func(items []schema.Item) ([]schema.Item, bool)
	call   func(ctx context.Context, groupID string) error
	revert func(snapshot []schema.Item)
}

// run applies m optimistically, issues the remote call and reverts on
// failure. Failures are logged, not alerted.
func (r *Reconciler) run(ctx context.Context, m mutation) error {
	r.mu.Lock()
	group, epoch := r.session.GroupID, r.epoch
	if group == "" {
		r.mu.Unlock()
		return ErrNoGroup
	}
	snapshot := slices.Clone(r.items)
	next, ok := m.apply(slices.Clone(r.items))
	if !ok {
		r.mu.Unlock()
		return ErrUnknownItem
	}
	r.items = next
	r.mu.Unlock()
	r.signal()

	err := m.call(ctx, group)
	if err == nil {
		return nil
	}
	werr := fmt.Errorf("%w: %s: %w", ErrWrite, m.op, err)

	if !r.isCurrent(epoch) {
		r.logger.Debug("discarding stale failure", zap.String("op", m.op), zap.Error(err))
		return werr
	}

	if m.revert != nil {
		m.revert(snapshot)
	} else {
		r.RestoreOnFailure(snapshot)
	}
	r.logger.Warn("reverted optimistic change", zap.String("op", m.op), zap.String("group", group), zap.Error(err))
	return werr
}

// AddItem adds name to the active group's list. The item appears at once as
// pending and is confirmed or removed when the store answers. A failure is
// also sent to the Notifier.
func (r *Reconciler) AddItem(ctx context.Context, name string) (schema.Item, error) {
	if err := schema.ValidateName(name); err != nil {
		return schema.Item{}, err
	}
	if r.Session().GroupID == "" {
		return schema.Item{}, ErrNoGroup
	}

	temp, epoch, group := r.addOptimistic(name)

	created, err := r.store.AddItem(ctx, group, temp.Name, temp.Icon, temp.Category)

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		r.logger.Debug("discarding stale add", zap.String("name", temp.Name))
		return schema.Item{}, ErrStaleEpoch
	}
	if err != nil {
		r.items = without(r.items, temp.ID)
		r.mu.Unlock()
		r.signal()

		werr := fmt.Errorf("%w: add %q: %w", ErrWrite, temp.Name, err)
		r.logger.Warn("add failed", zap.String("group", group), zap.Error(err))
		r.alert(werr)
		return schema.Item{}, werr
	}
	confirmed := r.confirmAddLocked(temp.ID, created)
	r.mu.Unlock()

	if confirmed {
		r.signal()
	}
	out := temp
	out.ID, out.CreatedAt, out.GroupID, out.Pending = created.ID, created.CreatedAt, group, false
	return out, nil
}

// ToggleItem flips an item's completion flag, reverting just that flag if
// the store rejects the change.
func (r *Reconciler) ToggleItem(ctx context.Context, id string) error {
	var previous bool
	return r.run(ctx, mutation{
		op: "toggle",
		apply: func(items []schema.Item) ([]schema.Item, bool) {
			i := indexOf(items, id)
			if i < 0 {
				return nil, false
			}
			previous = items[i].Completed
			items[i].Completed = !previous
			return items, true
		},
		call: func(ctx context.Context, _ string) error {
			return r.store.SetCompleted(ctx, id, !previous)
		},
		revert: func([]schema.Item) {
			r.RevertToggle(id, previous)
		},
	})
}

// DeleteItem removes an item, restoring the previous list on failure.
func (r *Reconciler) DeleteItem(ctx context.Context, id string) error {
	return r.run(ctx, mutation{
		op: "delete",
		apply: func(items []schema.Item) ([]schema.Item, bool) {
			if indexOf(items, id) < 0 {
				return nil, false
			}
			return without(items, id), true
		},
		call: func(ctx context.Context, _ string) error {
			return r.store.DeleteItem(ctx, id)
		},
	})
}

// ClearCompleted removes every completed item.
func (r *Reconciler) ClearCompleted(ctx context.Context) error {
	return r.run(ctx, mutation{
		op: "clear completed",
		apply: func(items []schema.Item) ([]schema.Item, bool) {
			return slices.DeleteFunc(items, func(it schema.Item) bool { return it.Completed }), true
		},
		call: r.store.DeleteCompleted,
	})
}

// ClearAll removes every item.
func (r *Reconciler) ClearAll(ctx context.Context) error {
	return r.run(ctx, mutation{
		op: "clear all",
		apply: func([]schema.Item) ([]schema.Item, bool) {
			return []schema.Item{}, true
		},
		call: r.store.DeleteAll,
	})
}

// FindByName returns the first cached item whose name matches name
// case-insensitively, in display order.
func (r *Reconciler) FindByName(name string) (schema.Item, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, it := range r.Items() {
		if strings.ToLower(it.Name) == want {
			return it, true
		}
	}
	return schema.Item{}, false
}
