package ws

import (
	"sync"

	"github.com/austinwade/sitechat/globals"
	"github.com/austinwade/sitechat/types"
)

const (
	broadcastChannelSize = 1000
)

// ChannelName returns the presence channel name of a room.
func ChannelName(roomId string) string {
	return "presence-" + roomId
}

// Hub is the presence channel of one room. It tracks membership and fans out
// message and member events to all subscribed clients. There is one hub per
// room.
type Hub struct {
	roomId string

	// subscribed clients
	clients map[*Client]struct{}

	// BroadcastMessage fans a stored message out to every subscriber,
	// including the sender - clients render through the echo only.
	BroadcastMessage chan *types.Message

	// Register a new client to the hub.
	Register chan *Client

	// Unregister a client from the hub.
	Unregister chan *Client

	// mutex for manipulating the clients
	sync.RWMutex
}

func NewHub(roomId string) *Hub {
	return &Hub{
		roomId:           roomId,
		clients:          make(map[*Client]struct{}),
		BroadcastMessage: make(chan *types.Message, broadcastChannelSize),
		Register:         make(chan *Client),
		Unregister:       make(chan *Client),
	}
}

func (h *Hub) RoomId() string {
	return h.roomId
}

// NoClients returns the number of clients subscribed.
func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

// Snapshot builds the full membership snapshot sent on subscription success.
func (h *Hub) Snapshot() types.MembershipSnapshot {
	h.RLock()
	defer h.RUnlock()
	members := make([]types.Member, 0, len(h.clients))
	for client := range h.clients {
		members = append(members, client.member)
	}
	return types.MembershipSnapshot{Count: len(members), Members: members}
}

// Run is the main hub event loop handling register, unregister and broadcast events.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.Lock()
			h.clients[client] = struct{}{}
			h.Unlock()
			// the new subscriber gets the full snapshot, everyone else an increment
			h.sendToClient(client, types.WireEventSubscriptionSucceeded, h.Snapshot())
			h.broadcast(types.WireEventMemberAdded, client.member, client)
			globals.AppLogger.Debug("client subscribed", "room", h.roomId, "member", client.member.Id)

		case client := <-h.Unregister:
			h.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.Unlock()
				h.broadcast(types.WireEventMemberRemoved, client.member, nil)
				globals.AppLogger.Debug("client unsubscribed", "room", h.roomId, "member", client.member.Id)
			} else {
				h.Unlock()
			}

		case message := <-h.BroadcastMessage:
			h.broadcast(types.WireEventNewMessage, message, nil)
		}
	}
}

func (h *Hub) broadcast(event string, payload interface{}, except *Client) {
	data, err := types.EncodeEvent(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.RLock()
	defer h.RUnlock()
	for client := range h.clients {
		if client == except {
			continue
		}
		client.enqueue(data)
	}
}

func (h *Hub) sendToClient(client *Client, event string, payload interface{}) {
	data, err := types.EncodeEvent(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.RLock()
	defer h.RUnlock()
	if _, ok := h.clients[client]; ok {
		client.enqueue(data)
	}
}
