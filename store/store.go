package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/austinwade/sitechat/types"
)

// Store is the room/message store as consumed by the session controller:
// list rooms, load a room's history, append a message.
type Store interface {
	ListRooms() ([]*types.Room, error)
	GetHistory(roomId string) ([]*types.Message, error)
	AppendMessage(draft types.MessageDraft) (*types.Message, error)
}

// HTTPStore talks to the site's REST API.
type HTTPStore struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPStore) ListRooms() ([]*types.Room, error) {
	resp, err := s.Client.Get(s.BaseURL + "/api/rooms")
	if err != nil {
		return nil, fmt.Errorf("could not fetch rooms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("room list request failed: %s", resp.Status)
	}
	rooms := make([]*types.Room, 0)
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("could not decode room list: %w", err)
	}
	return rooms, nil
}

func (s *HTTPStore) GetHistory(roomId string) ([]*types.Message, error) {
	resp, err := s.Client.Get(s.BaseURL + "/api/rooms/" + roomId + "/messages")
	if err != nil {
		return nil, fmt.Errorf("could not fetch history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request failed: %s", resp.Status)
	}
	messages := make([]*types.Message, 0)
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("could not decode history: %w", err)
	}
	return messages, nil
}

func (s *HTTPStore) AppendMessage(draft types.MessageDraft) (*types.Message, error) {
	body, err := json.Marshal(draft)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Post(s.BaseURL+"/api/rooms/"+draft.RoomId+"/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("send request failed: %s", resp.Status)
	}
	msg := types.Message{}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("could not decode stored message: %w", err)
	}
	return &msg, nil
}
