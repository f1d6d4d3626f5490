package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/marketbus/internal/broker"
	"github.com/rickgao/marketbus/internal/event"
	"github.com/rickgao/marketbus/internal/subscriber"
)

const (
	writeTimeout     = 10 * time.Second
	initialQueueSize = 64
	maxQueueSize     = 4096
)

// Config holds WebSocket server settings.
type Config struct {
	ID                string
	ListenAddr        string // empty means no listener; serve via Handler()
	AuthToken         string // empty disables auth
	HeartbeatInterval time.Duration
	Channels          []string // channels relayed to clients; defaults to all core channels
}

// Server fans bus events out to WebSocket clients.
type Server struct {
	subscriber.Base
	cfg      Config
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[string]*client

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// client is one connected WebSocket peer.
type client struct {
	id      string
	conn    *websocket.Conn
	queue   *sendQueue
	writeMu sync.Mutex

	mu     sync.RWMutex
	authed bool
	subs   map[string]bool
}

func (c *client) subscribedTo(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authed && c.subs[channel]
}

// subscriptions returns the client's current subscription set, sorted.
func (c *client) subscriptions() []string {
	c.mu.RLock()
	subs := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		subs = append(subs, ch)
	}
	c.mu.RUnlock()
	sort.Strings(subs)
	return subs
}

// Command frames sent by clients.
type command struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// NewServer creates the WebSocket fan-out server.
func NewServer(cfg Config, b broker.Broker, logger *slog.Logger) *Server {
	if len(cfg.Channels) == 0 {
		cfg.Channels = event.CoreChannels()
	}
	return &Server{
		Base: subscriber.NewBase(cfg.ID, cfg.Channels, b, logger),
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Handler returns the upgrade handler. Useful for embedding the server
// under an existing mux; Start uses it when ListenAddr is set.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// Start subscribes to the bus and, when configured, begins listening.
func (s *Server) Start(ctx context.Context) error {
	started, err := s.StartSubscriptions(ctx, s.OnMessage)
	if err != nil {
		return fmt.Errorf("start websocket %s: %w", s.ID(), err)
	}
	if !started {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.cfg.ListenAddr != "" {
		s.httpServer = &http.Server{
			Addr:    s.cfg.ListenAddr,
			Handler: s.Handler(),
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.Logger().Error("websocket listener failed", "id", s.ID(), "error", err)
				s.MarkStopped()
			}
		}()
		s.Logger().Info("websocket server listening", "id", s.ID(), "addr", s.cfg.ListenAddr)
	}

	if s.cfg.HeartbeatInterval > 0 {
		s.wg.Add(1)
		go s.heartbeatLoop()
	}
	return nil
}

// Stop disconnects every client and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.StopSubscriptions() {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Logger().Warn("websocket shutdown failed", "id", s.ID(), "error", err)
		}
	}

	s.clientsMu.Lock()
	for _, c := range s.clients {
		c.queue.Close()
		c.conn.Close()
	}
	s.clients = make(map[string]*client)
	s.clientsMu.Unlock()

	s.wg.Wait()
	return nil
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// OnMessage wraps the event in a data envelope and enqueues it to every
// client subscribed to the channel. A client that cannot accept the frame
// is removed; the rest are unaffected.
func (s *Server) OnMessage(channel string, ev event.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.CountError()
		return
	}
	frame, err := json.Marshal(map[string]any{
		"type":      "data",
		"channel":   channel,
		"data":      json.RawMessage(payload),
		"timestamp": time.Now().UnixMicro(),
	})
	if err != nil {
		s.CountError()
		return
	}

	s.clientsMu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.subscribedTo(channel) {
			targets = append(targets, c)
		}
	}
	s.clientsMu.RUnlock()

	for _, c := range targets {
		if !c.queue.Send(frame) {
			s.Logger().Warn("client send queue rejected frame, removing client",
				"id", s.ID(),
				"client_id", c.id,
			)
			s.removeClient(c)
		}
	}
	s.CountProcessed()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger().Warn("websocket upgrade failed", "id", s.ID(), "error", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		queue:  newSendQueue(initialQueueSize, maxQueueSize),
		authed: s.cfg.AuthToken == "",
		subs:   make(map[string]bool, len(s.cfg.Channels)),
	}
	// Clients start subscribed to everything the server relays.
	for _, ch := range s.cfg.Channels {
		c.subs[ch] = true
	}

	s.clientsMu.Lock()
	s.clients[c.id] = c
	s.clientsMu.Unlock()

	s.Logger().Info("client connected", "id", s.ID(), "client_id", c.id)

	s.wg.Add(2)
	go s.writeLoop(c)
	go s.readLoop(c)

	if c.authed {
		s.sendWelcome(c)
	}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	_, present := s.clients[c.id]
	delete(s.clients, c.id)
	s.clientsMu.Unlock()

	if present {
		c.queue.Close()
		c.conn.Close()
		s.Logger().Info("client disconnected", "id", s.ID(), "client_id", c.id)
	}
}

// writeLoop drains the client's queue onto the wire.
func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()

	for {
		frame, ok := c.queue.Receive()
		if !ok {
			return
		}

		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := c.conn.WriteMessage(websocket.TextMessage, frame)
		c.writeMu.Unlock()

		if err != nil {
			s.removeClient(c)
			return
		}
	}
}

// readLoop parses client commands until the connection drops.
func (s *Server) readLoop(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.sendError(c, "malformed command")
			continue
		}

		c.mu.RLock()
		authed := c.authed
		c.mu.RUnlock()

		if !authed {
			// First frame must authenticate; anything else closes the
			// connection.
			if cmd.Type != "auth" || cmd.Token != s.cfg.AuthToken {
				s.sendError(c, "authentication required")
				return
			}
			c.mu.Lock()
			c.authed = true
			c.mu.Unlock()
			s.sendWelcome(c)
			continue
		}

		s.handleCommand(c, cmd)
	}
}

func (s *Server) handleCommand(c *client, cmd command) {
	switch cmd.Type {
	case "subscribe":
		if !s.relayedChannel(cmd.Channel) {
			s.sendError(c, fmt.Sprintf("unknown channel %q", cmd.Channel))
			return
		}
		c.mu.Lock()
		c.subs[cmd.Channel] = true
		c.mu.Unlock()
		s.sendFrame(c, map[string]any{
			"type":      "subscribed",
			"channel":   cmd.Channel,
			"timestamp": time.Now().UnixMicro(),
		})

	case "unsubscribe":
		c.mu.Lock()
		delete(c.subs, cmd.Channel)
		c.mu.Unlock()
		s.sendFrame(c, map[string]any{
			"type":      "unsubscribed",
			"channel":   cmd.Channel,
			"timestamp": time.Now().UnixMicro(),
		})

	case "ping":
		s.sendFrame(c, map[string]any{"type": "pong", "timestamp": time.Now().UnixMicro()})

	case "get_channels":
		s.sendFrame(c, map[string]any{
			"type":      "channels",
			"channels":  c.subscriptions(),
			"timestamp": time.Now().UnixMicro(),
		})

	case "auth":
		// Already authenticated; harmless.

	default:
		s.sendError(c, fmt.Sprintf("unknown command %q", cmd.Type))
	}
}

func (s *Server) relayedChannel(channel string) bool {
	for _, ch := range s.cfg.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

func (s *Server) sendWelcome(c *client) {
	s.sendFrame(c, map[string]any{
		"type":                "welcome",
		"server_id":           s.ID(),
		"subscribed_channels": c.subscriptions(),
		"timestamp":           time.Now().UnixMicro(),
	})
}

func (s *Server) sendError(c *client, msg string) {
	s.sendFrame(c, map[string]any{"type": "error", "message": msg})
}

func (s *Server) sendFrame(c *client, frame map[string]any) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if !c.queue.Send(data) {
		s.removeClient(c)
	}
}

// heartbeatLoop broadcasts a heartbeat frame so idle clients can tell the
// stream is alive.
func (s *Server) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			frame, err := json.Marshal(map[string]any{
				"type":           "heartbeat",
				"timestamp":      time.Now().UnixMicro(),
				"active_clients": s.ClientCount(),
			})
			if err != nil {
				continue
			}

			s.clientsMu.RLock()
			targets := make([]*client, 0, len(s.clients))
			for _, c := range s.clients {
				targets = append(targets, c)
			}
			s.clientsMu.RUnlock()

			for _, c := range targets {
				if !c.queue.Send(frame) {
					s.removeClient(c)
				}
			}
		}
	}
}
