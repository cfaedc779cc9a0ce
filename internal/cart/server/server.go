// Package server exposes a cart store over HTTP.
//
// Items, groups and members are served as a JSON REST API. Each group's
// change feed is streamed to WebSocket clients on /ws?group=<id>, so every
// member sees the inserts, updates and deletes made by the others.
//
// The acting user is taken from the X-Cart-User header. Group-scoped routes
// require that user to be a member of the group.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cartsync/cart/internal/cart/feed"
	"github.com/cartsync/cart/internal/cart/store"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// HeaderUser carries the acting user's ID.
const HeaderUser = "X-Cart-User"

// MessageType defines the type of stream message
type MessageType string

const (
	// MessageTypeReady is sent once the group subscription is open. Changes
	// made after it is received are guaranteed to be streamed.
	MessageTypeReady MessageType = "ready"

	// MessageTypeChange carries a feed.Event
	MessageTypeChange MessageType = "change"

	// MessageTypeDropped is sent before the server closes a stream whose
	// subscription fell behind. The client must re-seed.
	MessageTypeDropped MessageType = "dropped"
)

// Message is one frame on the change stream.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReadyData is the payload of a ready message.
type ReadyData struct {
	GroupID string `json:"group_id"`
}

// Server serves a store over HTTP and WebSocket.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	handler  http.Handler
	origins  []string

	store *store.Local

	// WebSocket client management
	clients   map[*websocket.Conn]feed.Subscription
	clientsMu sync.Mutex
	closed    bool

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on; 0 picks a free port (default: 8787)
	Port int

	// OriginPatterns accepted for browser WebSocket clients (default: any)
	OriginPatterns []string

	// Logger for server activity (default: no-op)
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:           8787,
		OriginPatterns: []string{"*"},
		Logger:         zap.NewNop(),
	}
}

// New creates a server for st.
func New(st *store.Local, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if len(config.OriginPatterns) == 0 {
		config.OriginPatterns = []string{"*"}
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:    fmt.Sprintf(":%d", config.Port),
		origins: config.OriginPatterns,
		store:   st,
		clients: make(map[*websocket.Conn]feed.Subscription),
		ctx:     ctx,
		cancel:  cancel,
		logger:  config.Logger.Named("server"),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the server's HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", zap.Error(err))
		}
	}()

	return nil
}

// Run starts the server and blocks until ctx is cancelled, then stops it.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Stop closes every stream and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping")

	s.cancel()

	s.clientsMu.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.clientsMu.Unlock()

	for _, conn := range conns {
		s.removeClient(conn, websocket.StatusGoingAway, "server shutting down")
	}

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.server.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("server shutdown error: %w", serr)
		}
	}

	s.wg.Wait()
	s.logger.Info("stopped")
	return err
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected stream clients
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// handleWebSocket streams a group's changes until either side closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	if group == "" {
		writeError(w, badRequest("group is required"))
		return
	}
	user := userFrom(r)
	if err := s.authorize(r.Context(), group, user); err != nil {
		writeError(w, err)
		return
	}

	sub, err := s.store.Subscribe(r.Context(), group)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		sub.Unsubscribe()
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if !s.addClient(conn, sub) {
		sub.Unsubscribe()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.logger.Debug("stream opened", zap.String("group", group), zap.String("user", user))

	ready, _ := json.Marshal(ReadyData{GroupID: group})
	if err := s.send(conn, Message{Type: MessageTypeReady, Data: ready}); err != nil {
		s.removeClient(conn, websocket.StatusInternalError, "")
		return
	}

	s.streamLoop(conn, sub)
}

// streamLoop forwards subscription events to conn. Incoming frames are
// discarded; a read error means the peer went away.
func (s *Server) streamLoop(conn *websocket.Conn, sub feed.Subscription) {
	ctx := conn.CloseRead(s.ctx)

	for {
		select {
		case <-ctx.Done():
			s.removeClient(conn, websocket.StatusNormalClosure, "")
			return

		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Err() != nil {
					_ = s.send(conn, Message{Type: MessageTypeDropped})
					s.removeClient(conn, websocket.StatusTryAgainLater, "subscription dropped")
				} else {
					s.removeClient(conn, websocket.StatusNormalClosure, "")
				}
				return
			}

			msg, err := changeMessage(ev)
			if err != nil {
				s.logger.Warn("failed to marshal event", zap.Error(err))
				continue
			}
			if err := s.send(conn, msg); err != nil {
				s.logger.Debug("failed to send to client", zap.Error(err))
				s.removeClient(conn, websocket.StatusInternalError, "")
				return
			}
		}
	}
}

func (s *Server) send(conn *websocket.Conn, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) addClient(conn *websocket.Conn, sub feed.Subscription) bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.closed {
		return false
	}
	s.clients[conn] = sub
	return true
}

// removeClient unsubscribes and closes conn. It is safe to call more than
// once for the same connection.
func (s *Server) removeClient(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	s.clientsMu.Lock()
	sub, exists := s.clients[conn]
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	sub.Unsubscribe()
	_ = conn.Close(code, reason)
	s.logger.Debug("stream closed", zap.Int("clients", count))
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
