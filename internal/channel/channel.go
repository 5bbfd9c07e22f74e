// Package channel maintains the authenticated push-notification connection
// to the service. It delivers named events to registered handlers in arrival
// order and reconnects automatically when the connection drops.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"hookscope/internal/httpcontract"
	"hookscope/internal/session"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
)

// ErrNoCredential is returned when Connect is called without a stored session.
var ErrNoCredential = errors.New("no credential available")

// ErrAuthFailed is returned when the service rejects the authenticate message.
var ErrAuthFailed = errors.New("channel authentication failed")

// Handler receives the raw payload of a named event.
type Handler func(data json.RawMessage)

// StateFunc observes connection lifecycle transitions. The event argument is
// one of "connect", "authenticated", "disconnect", "connect_error".
type StateFunc func(event string, err error)

// Frame is the wire format of channel messages in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Options tune the channel. Zero values fall back to the documented defaults.
type Options struct {
	AuthTimeout       time.Duration // default 10s
	ReconnectAttempts int           // default 5
	ReconnectDelay    time.Duration // default 1s, grows linearly per attempt
	ReconnectCap      time.Duration // default 5s
	OnState           StateFunc
}

func (o *Options) withDefaults() {
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 10 * time.Second
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.ReconnectCap <= 0 {
		o.ReconnectCap = 5 * time.Second
	}
}

// Channel owns a single connection per authenticated session. Handlers are
// dispatched sequentially from one read loop, so events for a given
// connection are processed strictly in arrival order.
type Channel struct {
	url      string
	sessions session.Provider
	opts     Options

	mu            sync.Mutex
	conn          *websocket.Conn
	handlers      map[string]Handler
	connected     bool
	authenticated bool
	closed        bool
	generation    int
	cancelRead    context.CancelFunc
}

// New creates a disconnected channel. Call Connect to establish it.
func New(wsURL string, sessions session.Provider, opts Options) *Channel {
	opts.withDefaults()
	return &Channel{
		url:      wsURL,
		sessions: sessions,
		opts:     opts,
		handlers: make(map[string]Handler),
	}
}

// Connect dials the service and performs the two-step authentication
// handshake. Any prior connection is torn down first; there is never more
// than one live connection per channel.
func (c *Channel) Connect(ctx context.Context) error {
	token, ok := c.sessions.Credential()
	if !ok {
		return ErrNoCredential
	}

	c.teardown(websocket.StatusNormalClosure, "reconnecting")

	conn, err := c.dialAndAuthenticate(ctx, token)
	if err != nil {
		c.notify("connect_error", err)
		return err
	}

	c.mu.Lock()
	prev := c.conn
	prevCancel := c.cancelRead
	c.conn = conn
	c.connected = true
	c.authenticated = true
	c.closed = false
	c.generation++
	gen := c.generation
	readCtx, cancel := context.WithCancel(context.Background())
	c.cancelRead = cancel
	c.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	if prev != nil {
		prev.Close(websocket.StatusNormalClosure, "superseded")
	}

	c.notify("authenticated", nil)
	go c.readLoop(readCtx, conn, gen)
	return nil
}

// dialAndAuthenticate opens the websocket and runs the application-level
// handshake: send "authenticate" with the credential, wait for the
// "authenticated" acknowledgment. A failure acknowledgment closes the
// connection immediately rather than leaving it silently unauthenticated.
func (c *Channel) dialAndAuthenticate(ctx context.Context, token string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	c.notify("connect", nil)

	authCtx, cancel := context.WithTimeout(ctx, c.opts.AuthTimeout)
	defer cancel()

	tokenJSON, _ := json.Marshal(token)
	frame, _ := json.Marshal(Frame{Event: httpcontract.EventAuthenticate, Data: tokenJSON})
	if err := conn.Write(authCtx, websocket.MessageText, frame); err != nil {
		conn.Close(websocket.StatusInternalError, "auth write failed")
		return nil, fmt.Errorf("failed to send authenticate: %w", err)
	}

	// Read until the acknowledgment arrives; the server may interleave other
	// events but must not deliver data before acknowledging.
	for {
		_, msg, err := conn.Read(authCtx)
		if err != nil {
			conn.Close(websocket.StatusPolicyViolation, "auth timeout")
			return nil, fmt.Errorf("authentication not acknowledged: %w", err)
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			log.Warn("Dropping malformed frame during handshake", "error", err)
			continue
		}
		if f.Event != httpcontract.EventAuthenticated {
			continue
		}

		var ack httpcontract.AuthAck
		if err := json.Unmarshal(f.Data, &ack); err != nil || ack.Status != httpcontract.AuthOK {
			conn.Close(websocket.StatusPolicyViolation, "authentication failed")
			if ack.Message != "" {
				return nil, fmt.Errorf("%w: %s", ErrAuthFailed, ack.Message)
			}
			return nil, ErrAuthFailed
		}
		return conn, nil
	}
}

// readLoop reads frames and dispatches handlers until the connection fails
// or the channel is closed. On failure it runs the bounded reconnect policy.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if c.stale(gen) {
				return
			}
			c.markDisconnected()
			c.notify("disconnect", err)
			log.Warn("Channel connection lost", "error", err)
			c.reconnect(gen)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Channel) dispatch(msg []byte) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		log.Warn("Dropping malformed channel frame", "error", err)
		return
	}
	if f.Event == "" {
		log.Warn("Dropping channel frame without event name")
		return
	}

	c.mu.Lock()
	h := c.handlers[f.Event]
	c.mu.Unlock()

	if h == nil {
		log.Debug("No handler for channel event", "event", f.Event)
		return
	}
	h(f.Data)
}

// reconnect retries the connection with linearly growing delay. After the
// configured number of attempts the channel gives up and stays disconnected
// until Connect is called again.
func (c *Channel) reconnect(gen int) {
	token, ok := c.sessions.Credential()
	if !ok {
		log.Warn("Not reconnecting: credential no longer available")
		return
	}

	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		if c.stale(gen) {
			return
		}

		delay := time.Duration(attempt) * c.opts.ReconnectDelay
		if delay > c.opts.ReconnectCap {
			delay = c.opts.ReconnectCap
		}
		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.AuthTimeout)
		conn, err := c.dialAndAuthenticate(ctx, token)
		cancel()
		if err != nil {
			c.notify("connect_error", err)
			log.Warn("Reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		if c.closed || gen != c.generation {
			c.mu.Unlock()
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		prev := c.conn
		c.conn = conn
		c.connected = true
		c.authenticated = true
		readCtx, cancelRead := context.WithCancel(context.Background())
		c.cancelRead = cancelRead
		c.mu.Unlock()

		if prev != nil {
			prev.Close(websocket.StatusInternalError, "superseded")
		}

		c.notify("authenticated", nil)
		log.Info("Channel reconnected", "attempt", attempt)
		go c.readLoop(readCtx, conn, gen)
		return
	}

	log.Error("Channel gave up reconnecting", "attempts", c.opts.ReconnectAttempts)
}

// On registers the handler for a named event, replacing any previous handler
// for that name. At most one handler is active per event.
func (c *Channel) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

// Off removes the handler for a named event. Safe to call when none is set.
func (c *Channel) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// Connected reports whether the channel currently holds a live,
// authenticated connection.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.authenticated
}

// Close tears down the connection and disables reconnection.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.teardown(websocket.StatusNormalClosure, "")
	return nil
}

// teardown closes the current connection and advances the generation, so the
// old read loop and any reconnect attempt it started see themselves as
// superseded immediately rather than treating the close as an ordinary drop.
func (c *Channel) teardown(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancelRead
	c.conn = nil
	c.cancelRead = nil
	c.connected = false
	c.authenticated = false
	c.generation++
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(code, reason)
	}
}

func (c *Channel) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.authenticated = false
	c.mu.Unlock()
}

// stale reports whether this read loop belongs to a superseded connection.
func (c *Channel) stale(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || gen != c.generation
}

func (c *Channel) notify(event string, err error) {
	if c.opts.OnState != nil {
		c.opts.OnState(event, err)
	}
}
