package feed

import (
	"sync"

	"go.uber.org/zap"
)

// HubConfig holds hub configuration.
type HubConfig struct {
	// Buffer is the per-subscriber channel size (default: 64)
	Buffer int

	// Logger for hub activity (default: no-op)
	Logger *zap.Logger
}

// DefaultHubConfig returns sensible defaults.
func DefaultHubConfig() *HubConfig {
	return &HubConfig{
		Buffer: 64,
		Logger: zap.NewNop(),
	}
}

// Hub fans change events out to subscribers keyed by group.
//
// Publish never blocks: a subscriber whose buffer is full is dropped and
// sees ErrDropped, so it knows to re-seed instead of silently diverging.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*hubSub]struct{}
	closed bool

	buffer int
	logger *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(config *HubConfig) *Hub {
	if config == nil {
		config = DefaultHubConfig()
	}
	if config.Buffer <= 0 {
		config.Buffer = 64
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[*hubSub]struct{}),
		buffer: config.Buffer,
		logger: config.Logger.Named("feed"),
	}
}

// Subscribe opens a subscription for groupID. Subscribing to a closed hub
// returns a subscription that is already dropped.
func (h *Hub) Subscribe(groupID string) Subscription {
	sub := &hubSub{
		hub:   h,
		group: groupID,
		ch:    make(chan Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.err = ErrDropped
		sub.done = true
		close(sub.ch)
		return sub
	}

	set, ok := h.subs[groupID]
	if !ok {
		set = make(map[*hubSub]struct{})
		h.subs[groupID] = set
	}
	set[sub] = struct{}{}

	h.logger.Debug("subscriber added", zap.String("group", groupID), zap.Int("subscribers", len(set)))
	return sub
}

// Publish delivers ev to every subscriber of ev.GroupID.
func (h *Hub) Publish(ev Event) {
	var slow []*hubSub

	h.mu.RLock()
	for sub := range h.subs[ev.GroupID] {
		select {
		case sub.ch <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.Warn("subscriber buffer full, dropping subscription",
			zap.String("group", ev.GroupID))
		h.remove(sub, ErrDropped)
	}
}

// SubscriberCount returns the number of open subscriptions for groupID.
func (h *Hub) SubscriberCount(groupID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[groupID])
}

// Close ends every subscription with ErrDropped. Later subscriptions are
// dropped immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for group, set := range h.subs {
		for sub := range set {
			sub.finishLocked(ErrDropped)
		}
		delete(h.subs, group)
	}
}

func (h *Hub) remove(sub *hubSub, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[sub.group]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.group)
		}
	}
	sub.finishLocked(err)
}

// hubSub is a Subscription served by a Hub. Its fields after ch are
// guarded by hub.mu.
type hubSub struct {
	hub   *Hub
	group string
	ch    chan Event

	done bool
	err  error
}

func (s *hubSub) Events() <-chan Event { return s.ch }

func (s *hubSub) Unsubscribe() { s.hub.remove(s, nil) }

func (s *hubSub) Err() error {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.err
}

func (s *hubSub) finishLocked(err error) {
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.ch)
}
