package presence

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/austinwade/sitechat/auth"
	"github.com/austinwade/sitechat/globals"
	"github.com/austinwade/sitechat/types"
	"github.com/gorilla/websocket"
)

const (
	activityTimeout  = 2 * time.Minute
	pongTimeout      = 30 * time.Second
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Handler receives decoded channel events and connection state changes. All
// callbacks are invoked from the client's read goroutine.
type Handler interface {
	OnConnectionStateChange(state types.ConnectionState)
	OnEvent(evt *types.Event)
}

// Client wraps a single realtime connection. It holds at most one active
// presence-channel subscription and translates low-level connection events
// into handler callbacks. All methods are safe for concurrent use.
type Client struct {
	url        string
	authorizer auth.Authorizer
	handler    Handler

	mu sync.Mutex
	// writeMu serializes frame writes: control frames from callers and pongs
	// from the read goroutine share one connection
	writeMu  sync.Mutex
	conn     *websocket.Conn
	socketId string
	member   types.Member
	channel  string
	state    types.ConnectionState

	// generation counter: bumped on every connect/teardown so callbacks from
	// a torn-down connection's read loop are discarded
	gen int
}

func NewClient(url string, authorizer auth.Authorizer, handler Handler) *Client {
	return &Client{
		url:        url,
		authorizer: authorizer,
		handler:    handler,
		state:      types.ConnectionDisconnected,
	}
}

// State returns the current connection state.
func (c *Client) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SocketId returns the server-assigned socket id of the current connection.
func (c *Client) SocketId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketId
}

// Connect opens the transport connection as the given member. It is
// idempotent: an existing connection is torn down cleanly first, so changing
// the identity never leaks listeners. Authentication failures are returned to
// the caller and leave the client in the errored state - they are not retried
// here.
func (c *Client) Connect(member types.Member) error {
	c.mu.Lock()
	c.teardownLocked()
	c.member = member
	c.gen++
	gen := c.gen
	c.setStateLocked(types.ConnectionConnecting)
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		c.failConnect(gen, err)
		return fmt.Errorf("could not connect: %w", err)
	}

	// the first frame is the handshake carrying our socket id
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		c.failConnect(gen, err)
		return fmt.Errorf("no connection handshake: %w", err)
	}
	evt, err := decodeRaw(raw)
	if err != nil || evt.Kind != types.WireEventConnectionEstablished {
		conn.Close()
		c.failConnect(gen, err)
		return fmt.Errorf("unexpected handshake frame")
	}

	c.mu.Lock()
	if gen != c.gen {
		// torn down while we were dialing
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("connection superseded")
	}
	c.conn = conn
	c.socketId = evt.Connection.SocketId
	c.setStateLocked(types.ConnectionConnected)
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(activityTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(activityTimeout))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(pongTimeout))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	go c.readLoop(conn, gen)
	return nil
}

// SubscribeToRoom subscribes to a room's presence channel, releasing the
// previous subscription first. Channel authorization happens on every call,
// tokens are never reused across attempts. Re-subscribing to the current room
// is safe: channel state is rebuilt from the succeeded event.
func (c *Client) SubscribeToRoom(roomId string) error {
	c.mu.Lock()
	if c.state != types.ConnectionConnected || c.conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	conn := c.conn
	socketId := c.socketId
	member := c.member
	prev := c.channel
	c.mu.Unlock()

	channel := "presence-" + roomId
	if prev != "" {
		if err := c.writeFrame(conn, types.WireEventUnsubscribe, types.UnsubscribeFrame{Channel: prev}); err != nil {
			globals.AppLogger.Warn("could not unsubscribe previous channel", "channel", prev, "error", err)
		}
	}

	token, err := c.authorizer.Authorize(socketId, channel, member)
	if err != nil {
		return fmt.Errorf("channel authorization failed: %w", err)
	}
	frame := types.SubscribeFrame{Channel: channel, Auth: token, Member: member}
	if err := c.writeFrame(conn, types.WireEventSubscribe, frame); err != nil {
		return fmt.Errorf("could not subscribe: %w", err)
	}

	c.mu.Lock()
	c.channel = channel
	c.mu.Unlock()
	return nil
}

// Disconnect tears the connection down: the subscription is released, no
// callbacks fire afterwards and the state becomes disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.setStateLocked(types.ConnectionDisconnected)
}

// teardownLocked releases the current connection and bumps the generation so
// the old read loop goes quiet. Callers hold c.mu.
func (c *Client) teardownLocked() {
	if c.conn != nil {
		if c.channel != "" {
			_ = c.writeFrame(c.conn, types.WireEventUnsubscribe, types.UnsubscribeFrame{Channel: c.channel})
		}
		c.conn.Close()
		c.conn = nil
	}
	c.channel = ""
	c.socketId = ""
	c.gen++
}

func (c *Client) setStateLocked(state types.ConnectionState) {
	if c.state == state {
		return
	}
	c.state = state
	if c.handler != nil {
		go c.handler.OnConnectionStateChange(state)
	}
}

// failConnect marks a failed connect attempt as errored unless the attempt
// was already superseded.
func (c *Client) failConnect(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	globals.AppLogger.Error("connection failed", "error", err)
	c.setStateLocked(types.ConnectionErrored)
}

func (c *Client) writeFrame(conn *websocket.Conn, event string, payload interface{}) error {
	data, err := types.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if gen != c.gen {
				// this connection was torn down on purpose, stay quiet
				c.mu.Unlock()
				return
			}
			c.conn = nil
			c.channel = ""
			c.setStateLocked(types.ConnectionDisconnected)
			c.mu.Unlock()
			globals.AppLogger.Info("transport lost", "error", err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(activityTimeout))

		evt, err := decodeRaw(raw)
		if err != nil {
			// malformed payloads are rejected, not trusted
			globals.AppLogger.Error("dropping malformed event", "error", err)
			continue
		}
		if evt.Kind == types.WireEventSubscriptionError {
			// scoped to the channel, the connection stays up
			globals.AppLogger.Error("subscription error", "channel", evt.SubError.Channel, "reason", evt.SubError.Reason)
		}
		c.mu.Lock()
		stale := gen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}
		if c.handler != nil {
			c.handler.OnEvent(evt)
		}
	}
}

func decodeRaw(raw []byte) (*types.Event, error) {
	message := types.WebsocketMessage{}
	if err := json.Unmarshal(raw, &message); err != nil {
		return nil, fmt.Errorf("could not unmarshal ws message: %w", err)
	}
	return types.DecodeEvent(message)
}
