// Package realtime implements the WebSocket push client: it receives server
// events, keeps the connection alive with application-level pings, and
// reconnects with jittered exponential backoff.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Config configures the realtime client.
type Config struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *Config) defaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// State represents the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Envelope is the wire format for server-to-client events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a client-to-server message.
type Command struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	RequestID string `json:"requestId,omitempty"`
}

// Handler receives server events. Handlers run on their own goroutine.
type Handler func(eventType string, payload json.RawMessage)

// Client is a WebSocket realtime client with auto-reconnect and heartbeat.
type Client struct {
	baseURL string
	cfg     Config
	logger  *zap.Logger
	recon   *reconnector

	mu               sync.Mutex
	conn             *websocket.Conn
	state            State
	intentionalClose bool
	cancel           context.CancelFunc
	pingSeq          int

	handlerMu      sync.RWMutex
	handlers       map[string][]Handler
	onConnected    []func()
	onDisconnected []func(reason string)
}

// New creates a realtime client for the given API base URL.
func New(baseURL string, cfg Config, logger *zap.Logger) *Client {
	cfg.defaults()
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		cfg:      cfg,
		logger:   logger,
		recon:    newReconnector(cfg),
		state:    StateDisconnected,
		handlers: make(map[string][]Handler),
	}
}

// On registers a handler for a server event type.
func (c *Client) On(eventType string, h Handler) {
	c.handlerMu.Lock()
	c.handlers[eventType] = append(c.handlers[eventType], h)
	c.handlerMu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (c *Client) OnConnected(h func()) {
	c.handlerMu.Lock()
	c.onConnected = append(c.onConnected, h)
	c.handlerMu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (c *Client) OnDisconnected(h func(reason string)) {
	c.handlerMu.Lock()
	c.onDisconnected = append(c.onDisconnected, h)
	c.handlerMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the server and waits for the authenticated handshake before
// starting the read and heartbeat loops. Connecting while already connected
// is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.intentionalClose = false
	c.mu.Unlock()

	wsURL := strings.Replace(c.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + c.cfg.Token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	// The server's first frame must be the authenticated envelope.
	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		c.setState(StateDisconnected)
		return fmt.Errorf("read auth message: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != "authenticated" {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		c.setState(StateDisconnected)
		return fmt.Errorf("expected authenticated envelope, got %q", env.Type)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.cancel = cancel
	c.mu.Unlock()
	c.recon.markConnected()

	c.logger.Info("realtime connected")
	c.dispatch(env)
	c.emitConnected()

	go c.readLoop(connCtx, conn)
	go c.heartbeatLoop(connCtx)
	return nil
}

// Disconnect gracefully closes the connection and suppresses reconnects.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.emitDisconnected("client disconnect")
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Send writes a command over the connection.
func (c *Client) Send(ctx context.Context, cmd *Command) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// JoinConversation subscribes to a conversation's push events.
func (c *Client) JoinConversation(ctx context.Context, conversationID string) error {
	return c.Send(ctx, &Command{
		Type:    "conversation.join",
		Payload: map[string]string{"conversationId": conversationID},
	})
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			if !intentional {
				c.state = StateDisconnected
				c.conn = nil
			}
			c.mu.Unlock()
			if intentional {
				return
			}

			c.logger.Warn("realtime connection lost", zap.Error(err))
			c.emitDisconnected(err.Error())
			if c.cfg.AutoReconnect {
				go c.reconnectLoop()
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.State() != StateConnected {
				return
			}
			c.mu.Lock()
			c.pingSeq++
			requestID := fmt.Sprintf("ping-%d", c.pingSeq)
			c.mu.Unlock()

			err := c.Send(ctx, &Command{
				Type:      "ping",
				Payload:   map[string]string{"requestId": requestID},
				RequestID: requestID,
			})
			if err != nil {
				// Force close so the read loop observes the failure and
				// drives the reconnect path.
				c.mu.Lock()
				conn := c.conn
				c.mu.Unlock()
				if conn != nil {
					_ = conn.Close(websocket.StatusGoingAway, "heartbeat failed")
				}
				return
			}
		}
	}
}

func (c *Client) reconnectLoop() {
	for c.recon.shouldReconnect() {
		c.mu.Lock()
		if c.intentionalClose {
			c.mu.Unlock()
			return
		}
		c.state = StateReconnecting
		c.mu.Unlock()

		delay := c.recon.nextDelay()
		c.logger.Info("realtime reconnecting",
			zap.Int("attempt", c.recon.attempt),
			zap.Duration("delay", delay))
		time.Sleep(delay)

		err := c.Connect(context.Background())
		if err == nil {
			return
		}
		c.logger.Warn("realtime reconnect failed", zap.Error(err))
	}
	c.setState(StateDisconnected)
	c.logger.Error("realtime reconnect attempts exhausted")
}

func (c *Client) dispatch(env Envelope) {
	c.handlerMu.RLock()
	handlers := append([]Handler{}, c.handlers[env.Type]...)
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		go h(env.Type, env.Payload)
	}
}

func (c *Client) emitConnected() {
	c.handlerMu.RLock()
	handlers := append([]func(){}, c.onConnected...)
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (c *Client) emitDisconnected(reason string) {
	c.handlerMu.RLock()
	handlers := append([]func(string){}, c.onDisconnected...)
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		go h(reason)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// reconnector tracks backoff across reconnect attempts. The attempt counter
// resets once a connection has stayed up for a full stability window.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

const stabilityWindow = 60 * time.Second

func newReconnector(cfg Config) *reconnector {
	return &reconnector{
		baseDelay:   cfg.ReconnectBaseDelay,
		maxDelay:    cfg.ReconnectMaxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > stabilityWindow {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
