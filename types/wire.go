package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	// channel events, server to client
	WireEventNewMessage            = "new-message"
	WireEventSubscriptionSucceeded = "subscription-succeeded"
	WireEventSubscriptionError     = "subscription-error"
	WireEventMemberAdded           = "member-added"
	WireEventMemberRemoved         = "member-removed"

	// connection handshake, server to client
	WireEventConnectionEstablished = "connection-established"

	// control frames, client to server
	WireEventSubscribe   = "subscribe"
	WireEventUnsubscribe = "unsubscribe"
)

// JSON-serialized WebsocketMessage is what is actually sent via the websocket connection.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SubscribeFrame asks the hub to join a presence channel. Auth is the signed
// authorization token issued for this socket and channel, it is requested anew
// on every subscribe attempt.
type SubscribeFrame struct {
	Channel string `json:"channel" mapstructure:"channel"`
	Auth    string `json:"auth" mapstructure:"auth"`
	Member  Member `json:"member" mapstructure:"member"`
}

// UnsubscribeFrame leaves a presence channel.
type UnsubscribeFrame struct {
	Channel string `json:"channel" mapstructure:"channel"`
}

// ConnectionInfo is the handshake payload: the server-assigned socket id the
// client needs for channel authorization.
type ConnectionInfo struct {
	SocketId string `json:"socket_id" mapstructure:"socket_id"`
}

// SubscriptionError reports a failed subscribe attempt, scoped to one channel.
type SubscriptionError struct {
	Channel string `json:"channel" mapstructure:"channel"`
	Reason  string `json:"reason" mapstructure:"reason"`
}

// Event is the decoded form of one inbound channel event. Exactly one of the
// payload fields is set, according to Kind.
type Event struct {
	Kind       string
	Message    *Message
	Snapshot   *MembershipSnapshot
	Member     *Member
	Connection *ConnectionInfo
	SubError   *SubscriptionError
}

// DecodeEvent validates and decodes a raw websocket message into an Event.
// Payloads of unknown shape are rejected rather than trusted.
func DecodeEvent(raw WebsocketMessage) (*Event, error) {
	payload := make(map[string]interface{})
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, &payload); err != nil {
			return nil, fmt.Errorf("could not unmarshal %s payload: %w", raw.Event, err)
		}
	}
	evt := &Event{Kind: raw.Event}
	switch raw.Event {
	case WireEventNewMessage:
		msg := Message{}
		if err := mapstructure.WeakDecode(payload, &msg); err != nil {
			return nil, fmt.Errorf("could not decode message event: %w", err)
		}
		if msg.Id == "" || msg.RoomId == "" {
			return nil, fmt.Errorf("message event without id or room")
		}
		if ts, ok := payload["created_at"].(string); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				msg.CreatedAt = parsed
			}
		}
		evt.Message = &msg

	case WireEventSubscriptionSucceeded:
		snap := MembershipSnapshot{}
		if err := mapstructure.WeakDecode(payload, &snap); err != nil {
			return nil, fmt.Errorf("could not decode membership snapshot: %w", err)
		}
		if snap.Count < 0 {
			snap.Count = 0
		}
		evt.Snapshot = &snap

	case WireEventConnectionEstablished:
		info := ConnectionInfo{}
		if err := mapstructure.WeakDecode(payload, &info); err != nil {
			return nil, fmt.Errorf("could not decode connection info: %w", err)
		}
		if info.SocketId == "" {
			return nil, fmt.Errorf("connection event without socket id")
		}
		evt.Connection = &info

	case WireEventSubscriptionError:
		subErr := SubscriptionError{}
		if err := mapstructure.WeakDecode(payload, &subErr); err != nil {
			return nil, fmt.Errorf("could not decode subscription error: %w", err)
		}
		evt.SubError = &subErr

	case WireEventMemberAdded, WireEventMemberRemoved:
		member := Member{}
		if err := mapstructure.WeakDecode(payload, &member); err != nil {
			return nil, fmt.Errorf("could not decode member event: %w", err)
		}
		if member.Id == "" {
			return nil, fmt.Errorf("member event without id")
		}
		evt.Member = &member

	default:
		return nil, fmt.Errorf("unknown event %q", raw.Event)
	}
	return evt, nil
}

// EncodeEvent wraps an event payload into the wire envelope.
func EncodeEvent(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{Event: event, Data: data})
}
