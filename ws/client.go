package ws

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/austinwade/sitechat/auth"
	"github.com/austinwade/sitechat/config"
	"github.com/austinwade/sitechat/globals"
	"github.com/austinwade/sitechat/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
)

const (
	maxMessageSize  = 4096
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 1000
)

// HubLookup resolves a room id to its hub, or nil if the room does not exist.
type HubLookup func(roomId string) *Hub

// Client is a middleman between the websocket connection and the hubs. A
// client is subscribed to at most one presence channel at a time.
type Client struct {
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	socketId string
	member   types.Member
	hub      *Hub // current subscription, nil if none
	lookup   HubLookup
	authCfg  config.AuthConfig

	// closed by the read loop when the connection is gone; the Send channel
	// itself is never closed, writers may race with teardown
	doneChan chan struct{}
}

func NewClient(conn *websocket.Conn, lookup HubLookup, authCfg config.AuthConfig) *Client {
	return &Client{
		conn:     conn,
		Send:     make(chan []byte, sendChannelSize),
		socketId: uuid.NewString(),
		lookup:   lookup,
		authCfg:  authCfg,
		doneChan: make(chan struct{}),
	}
}

func (c *Client) SocketId() string {
	return c.socketId
}

// Serve sends the connection handshake and runs the read and write pumps. It
// returns when the connection is gone; the current subscription, if any, is
// released before returning.
func (c *Client) Serve() {
	data, err := types.EncodeEvent(types.WireEventConnectionEstablished, types.ConnectionInfo{SocketId: c.socketId})
	if err != nil {
		globals.AppLogger.Error("could not marshal handshake", "error", err)
		return
	}
	c.Send <- data
	go c.writeLoop()
	c.readLoop()
}

func (c *Client) enqueue(data []byte) {
	select {
	case c.Send <- data:
	default:
		globals.AppLogger.Warn("send buffer full, dropping event", "socket", c.socketId)
	}
}

// readLoop pumps messages from the websocket connection to the hubs.
//
// The application runs readLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readLoop() {
	defer func() {
		c.unsubscribe()
		c.conn.Close()
		close(c.doneChan)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				globals.AppLogger.Info("ws closed unexpected", "error", err)
			}
			return
		}

		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			globals.AppLogger.Error("could not unmarshal ws message", "error", err)
			return
		}

		switch message.Event {
		case types.WireEventSubscribe:
			frameMap := make(map[string]interface{})
			if err := json.Unmarshal(message.Data, &frameMap); err != nil {
				globals.AppLogger.Error("could not unmarshal subscribe frame", "error", err)
				return
			}
			frame := types.SubscribeFrame{}
			if err := mapstructure.WeakDecode(frameMap, &frame); err != nil {
				globals.AppLogger.Error("could not decode subscribe frame", "error", err)
				return
			}
			c.handleSubscribe(frame)

		case types.WireEventUnsubscribe:
			c.unsubscribe()
		}
	}
}

func (c *Client) handleSubscribe(frame types.SubscribeFrame) {
	roomId := strings.TrimPrefix(frame.Channel, "presence-")
	hub := c.lookup(roomId)
	if hub == nil || roomId == frame.Channel {
		c.sendSubscriptionError(frame.Channel, "unknown channel")
		return
	}
	if !auth.Verify(frame.Auth, c.authCfg.AppKey, c.authCfg.AppSecret, c.socketId, frame.Channel, frame.Member) {
		c.sendSubscriptionError(frame.Channel, "authorization failed")
		return
	}
	// one active subscription per connection
	c.unsubscribe()
	c.member = frame.Member
	c.hub = hub
	hub.Register <- c
}

func (c *Client) unsubscribe() {
	if c.hub != nil {
		c.hub.Unregister <- c
		c.hub = nil
	}
}

func (c *Client) sendSubscriptionError(channel, reason string) {
	data, err := types.EncodeEvent(types.WireEventSubscriptionError, types.SubscriptionError{Channel: channel, Reason: reason})
	if err != nil {
		globals.AppLogger.Error("could not marshal subscription error", "error", err)
		return
	}
	c.enqueue(data)
}

// writeLoop pumps messages from the hubs to the websocket connection.
//
// A goroutine running writeLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				globals.AppLogger.Info("could not send ping message, exiting write loop")
				return
			}

		case <-c.doneChan:
			return
		}
	}
}
