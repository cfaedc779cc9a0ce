package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cartsync/cart/internal/cart/db"
	"github.com/cartsync/cart/internal/cart/feed"
	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Local {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "cart.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.InitSchema())

	s := New(database, nil, nil)
	t.Cleanup(s.Hub().Close)
	return s
}

func next(t *testing.T, sub feed.Subscription) feed.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return feed.Event{}
	}
}

func TestWritesArePublished(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	group, err := s.CreateGroup(ctx, "Home", "alice")
	require.NoError(t, err)

	sub, err := s.Subscribe(ctx, group.ID)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	item, err := s.AddItem(ctx, group.ID, "milk", "🥛", "Dairy")
	require.NoError(t, err)

	ev := next(t, sub)
	assert.Equal(t, feed.KindInsert, ev.Kind)
	assert.Equal(t, item.ID, ev.Item.ID)

	require.NoError(t, s.SetCompleted(ctx, item.ID, true))
	ev = next(t, sub)
	assert.Equal(t, feed.KindUpdate, ev.Kind)
	assert.True(t, ev.Item.Completed)

	require.NoError(t, s.DeleteCompleted(ctx, group.ID))
	ev = next(t, sub)
	assert.Equal(t, feed.KindDelete, ev.Kind)
	assert.Equal(t, item.ID, ev.ID)

	// Deleting again is a silent no-op.
	require.NoError(t, s.DeleteItem(ctx, item.ID))
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeleteAllPublishesEveryID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	group, _ := s.CreateGroup(ctx, "Home", "alice")

	a, _ := s.AddItem(ctx, group.ID, "a", "", "")
	b, _ := s.AddItem(ctx, group.ID, "b", "", "")

	sub, err := s.Subscribe(ctx, group.ID)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, s.DeleteAll(ctx, group.ID))
	got := map[string]bool{next(t, sub).ID: true, next(t, sub).ID: true}
	assert.Equal(t, map[string]bool{a.ID: true, b.ID: true}, got)

	items, err := s.FetchItems(ctx, group.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSubscribeUnknownGroup(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Subscribe(context.Background(), "missing")
	assert.True(t, errors.Is(err, db.ErrGroupNotFound))
}

func TestWriteFailuresAreWrapped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.AddItem(ctx, "missing", "milk", "", "")
	assert.ErrorIs(t, err, db.ErrGroupNotFound)

	err = s.SetCompleted(ctx, "missing", true)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestImportItems(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	group, _ := s.CreateGroup(ctx, "Home", "alice")
	existing, _ := s.AddItem(ctx, group.ID, "eggs", "", "")

	sub, err := s.Subscribe(ctx, group.ID)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n, err := s.ImportItems(ctx, group.ID, []schema.Item{
		{ID: "imp-1", Name: "flour", CreatedAt: created},
		{ID: existing.ID, Name: "eggs", Completed: true, CreatedAt: existing.CreatedAt},
		{ID: "", Name: "invalid"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, feed.KindInsert, next(t, sub).Kind)
	assert.Equal(t, feed.KindUpdate, next(t, sub).Kind)

	items, err := s.FetchItems(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestImportItemsIntoAnotherGroup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	home, _ := s.CreateGroup(ctx, "Home", "alice")
	cabin, _ := s.CreateGroup(ctx, "Cabin", "alice")
	milk, err := s.AddItem(ctx, home.ID, "milk", "🥛", "Dairy")
	require.NoError(t, err)

	sub, err := s.Subscribe(ctx, cabin.ID)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	exported, err := s.FetchItems(ctx, home.ID)
	require.NoError(t, err)

	n, err := s.ImportItems(ctx, cabin.ID, exported)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev := next(t, sub)
	assert.Equal(t, feed.KindInsert, ev.Kind)
	assert.Equal(t, cabin.ID, ev.Item.GroupID)
	assert.NotEqual(t, milk.ID, ev.Item.ID)

	copied, err := s.FetchItems(ctx, cabin.ID)
	require.NoError(t, err)
	require.Len(t, copied, 1)
	assert.Equal(t, ev.Item.ID, copied[0].ID)
	assert.Equal(t, "milk", copied[0].Name)
	assert.True(t, copied[0].CreatedAt.Equal(ev.Item.CreatedAt))

	original, err := s.FetchItems(ctx, home.ID)
	require.NoError(t, err)
	require.Len(t, original, 1)
	assert.Equal(t, milk.ID, original[0].ID)

	// Importing the same export again updates the copy in place.
	exported[0].Completed = true
	n, err = s.ImportItems(ctx, cabin.ID, exported)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev = next(t, sub)
	assert.Equal(t, feed.KindUpdate, ev.Kind)
	assert.Equal(t, copied[0].ID, ev.Item.ID)

	copied, err = s.FetchItems(ctx, cabin.ID)
	require.NoError(t, err)
	require.Len(t, copied, 1)
	assert.True(t, copied[0].Completed)
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	group, err := s.CreateGroup(ctx, "Home", "alice")
	require.NoError(t, err)
	require.NoError(t, s.JoinGroup(ctx, group.ID, "bob"))
	assert.ErrorIs(t, s.AddMember(ctx, group.ID, "bob"), db.ErrAlreadyMember)

	members, err := s.ListMembers(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, schema.RoleOwner, members[0].Role)

	groups, err := s.ListUserGroups(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, groups, 1)

	require.NoError(t, s.RemoveMember(ctx, group.ID, "bob"))
	assert.ErrorIs(t, s.RemoveMember(ctx, group.ID, "alice"), db.ErrOwnerRemoval)

	require.NoError(t, s.UpsertUserProfile(ctx, schema.UserProfile{ID: "alice", Email: "alice@example.com"}))
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
