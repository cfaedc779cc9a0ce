package feed

import (
	"errors"
	"testing"
	"time"

	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func recv(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHubPublishIsScopedByGroup(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	a := hub.Subscribe("g1")
	b := hub.Subscribe("g2")
	defer a.Unsubscribe()
	defer b.Unsubscribe()

	item := schema.Item{ID: "i1", GroupID: "g1", Name: "milk"}
	hub.Publish(Inserted(item))

	ev := recv(t, a)
	assert.Equal(t, KindInsert, ev.Kind)
	assert.Equal(t, "i1", ev.ID)
	assert.Equal(t, "milk", ev.Item.Name)

	select {
	case ev := <-b.Events():
		t.Fatalf("g2 subscriber received %+v", ev)
	default:
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	sub := hub.Subscribe("g")
	require.Equal(t, 1, hub.SubscriberCount("g"))

	sub.Unsubscribe()
	sub.Unsubscribe()

	assert.Equal(t, 0, hub.SubscriberCount("g"))
	assert.NoError(t, sub.Err())

	_, ok := <-sub.Events()
	assert.False(t, ok, "events channel should be closed")

	// Publishing after unsubscribe must not panic.
	hub.Publish(Deleted("g", "x"))
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(&HubConfig{Buffer: 1})
	defer hub.Close()

	sub := hub.Subscribe("g")
	hub.Publish(Deleted("g", "a"))
	hub.Publish(Deleted("g", "b"))

	assert.Equal(t, "a", recv(t, sub).ID)
	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.True(t, errors.Is(sub.Err(), ErrDropped))

	sub.Unsubscribe()
	assert.True(t, errors.Is(sub.Err(), ErrDropped), "unsubscribe after drop keeps the drop error")
}

func TestCloseDropsSubscribers(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe("g")
	hub.Close()
	hub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), ErrDropped)

	late := hub.Subscribe("g")
	_, ok = <-late.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, late.Err(), ErrDropped)
	late.Unsubscribe()
}

func TestKindIsValid(t *testing.T) {
	for _, k := range []Kind{KindInsert, KindUpdate, KindDelete} {
		assert.True(t, k.IsValid(), k)
	}
	assert.False(t, Kind("TRUNCATE").IsValid())
}
