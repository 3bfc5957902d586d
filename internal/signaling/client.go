package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tutorlink/rtc/internal/util"
)

// reconnectDelay is the fixed backoff between reconnection attempts
// after an unexpected close.
const defaultReconnectDelay = 5 * time.Second

// Client is the persistent signaling channel of one local user. It
// dispatches every inbound message to the handler registered for its
// type and transparently reconnects after an unexpected close.
//
// Handlers must be installed with Handle before Connect is called;
// registrations after Connect are rejected, because messages may already
// be arriving and would race the registration.
type Client struct {
	userID   string
	relayURL string

	reconnectDelay time.Duration

	mu        sync.Mutex
	handlers  map[MessageType]func(Message)
	onConnect func()
	conn      *websocket.Conn
	connected bool
	started   bool
	closed    bool
}

// NewClient prepares a client for the given user. No network activity
// happens until Connect.
func NewClient(relayURL, userID string) *Client {
	return &Client{
		userID:         userID,
		relayURL:       relayURL,
		reconnectDelay: defaultReconnectDelay,
		handlers:       make(map[MessageType]func(Message)),
	}
}

// Handle registers the handler for one message type. The last
// registration for a type wins. Calling Handle after Connect is a no-op
// with a warning.
func (c *Client) Handle(t MessageType, fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		util.LogWarning("signaling: handler for %q registered after connect, ignored", t)
		return
	}
	c.handlers[t] = fn
}

// OnConnect registers a callback invoked after every successful connect,
// including reconnects. Same registration rules as Handle.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		util.LogWarning("signaling: OnConnect registered after connect, ignored")
		return
	}
	c.onConnect = fn
}

// Connect opens the WebSocket to the relay and starts the read loop.
// It returns once the connection is established, so by the time the
// caller regains control every registered handler is live.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("signaling: already connected")
	}
	c.started = true
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.adopt(conn)
	return nil
}

// dial performs a single WebSocket dial to the relay's /ws endpoint.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL := fmt.Sprintf("%s/ws?user=%s", c.relayURL, url.QueryEscape(c.userID))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return conn, nil
}

// adopt installs a freshly dialed connection and starts its read loop.
func (c *Client) adopt(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	fn := c.onConnect
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	go c.readLoop(conn)
}

// readLoop dispatches inbound messages until the connection dies, then
// hands over to the reconnect loop unless the close was deliberate.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.connected = false
			closed := c.closed
			c.mu.Unlock()

			if closed {
				return
			}
			util.LogWarning("signaling: connection lost: %v", err)
			go c.reconnect()
			return
		}

		c.mu.Lock()
		fn := c.handlers[msg.Type]
		c.mu.Unlock()

		if fn == nil {
			util.LogDebug("signaling: no handler for %q, dropped", msg.Type)
			continue
		}
		fn(msg)
	}
}

// reconnect redials with a fixed backoff until it succeeds or the client
// is closed.
func (c *Client) reconnect() {
	for {
		time.Sleep(c.reconnectDelay)

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		conn, err := c.dial(context.Background())
		if err != nil {
			util.LogWarning("signaling: reconnect failed: %v", err)
			continue
		}
		util.LogInfo("signaling: reconnected")
		c.adopt(conn)
		return
	}
}

// ErrNotConnected reports a write attempted while the channel is down.
// Only SendStrict returns it; Send swallows the condition.
var ErrNotConnected = errors.New("signaling: not connected")

// Send writes a message to the relay. Sends are best-effort against a
// transient channel: while disconnected Send is a silent no-op returning
// nil. Write errors are returned.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	return c.conn.WriteJSON(msg)
}

// SendStrict writes a message to the relay, failing with ErrNotConnected
// while the channel is down. The connection check and the write happen
// under one lock, so a nil return means the message reached the socket;
// the ICE flush relies on that to keep undelivered candidates queued.
func (c *Client) SendStrict(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(msg)
}

// IsConnected reports whether the channel is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears the channel down deliberately: no reconnection is
// attempted and all handlers are cleared.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	c.handlers = make(map[MessageType]func(Message))
	c.onConnect = nil
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
