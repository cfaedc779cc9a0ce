package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cartsync/cart/internal/cart/feed"
	"github.com/cartsync/cart/internal/cart/server"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// readyTimeout bounds the wait for the server to confirm a subscription.
const readyTimeout = 10 * time.Second

// Subscribe opens a group's change stream. It returns once the server has
// confirmed the subscription, so changes made afterwards are delivered.
func (c *Client) Subscribe(ctx context.Context, groupID string) (feed.Subscription, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"group": {groupID}}.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{
		HTTPHeader: http.Header{server.HeaderUser: {c.user}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	msg, err := readMessage(dialCtx, conn)
	if err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if msg.Type != server.MessageTypeReady {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("failed to open stream: unexpected %q message", msg.Type)
	}

	sub := &stream{
		conn:   conn,
		ch:     make(chan feed.Event, 64),
		done:   make(chan struct{}),
		logger: c.logger.With(zap.String("group", groupID)),
	}
	go sub.readLoop()
	return sub, nil
}

func readMessage(ctx context.Context, conn *websocket.Conn) (server.Message, error) {
	var msg server.Message
	_, data, err := conn.Read(ctx)
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("invalid message: %w", err)
	}
	return msg, nil
}

// stream is a Subscription over a WebSocket connection.
type stream struct {
	conn   *websocket.Conn
	ch     chan feed.Event
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger

	mu        sync.Mutex
	err       error
	cancelled bool
}

func (s *stream) Events() <-chan feed.Event { return s.ch }

func (s *stream) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
	})
}

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// readLoop decodes change messages until the connection ends. Losing the
// connection without Unsubscribe is reported as feed.ErrDropped.
func (s *stream) readLoop() {
	defer close(s.ch)

	for {
		msg, err := readMessage(context.Background(), s.conn)
		if err != nil {
			s.finish(err)
			return
		}

		switch msg.Type {
		case server.MessageTypeChange:
			var ev feed.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				s.logger.Warn("skipping malformed event", zap.Error(err))
				continue
			}
			select {
			case s.ch <- ev:
			case <-s.done:
			}

		case server.MessageTypeDropped:
			s.logger.Warn("server dropped subscription")

		default:
			s.logger.Debug("ignoring message", zap.String("type", string(msg.Type)))
		}
	}
}

func (s *stream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.err = fmt.Errorf("%w: %w", feed.ErrDropped, err)
	_ = s.conn.CloseNow()
}
