package store

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/austinwade/sitechat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStoreRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]*types.Room{{Id: "general", Name: "General", MessageCount: 2}})
	})
	mux.HandleFunc("/api/rooms/general/messages", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode([]*types.Message{{Id: "m1", RoomId: "general", Content: "hello"}})
		case http.MethodPost:
			draft := types.MessageDraft{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&draft))
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(types.Message{Id: "m2", RoomId: draft.RoomId, Content: draft.Content})
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s := NewHTTPStore(server.URL)

	rooms, err := s.ListRooms()
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, int64(2), rooms[0].MessageCount)

	messages, err := s.GetHistory("general")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "m1", messages[0].Id)

	stored, err := s.AppendMessage(types.MessageDraft{RoomId: "general", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "m2", stored.Id)
}

func TestHTTPStoreErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	s := NewHTTPStore(server.URL)
	_, err := s.ListRooms()
	assert.Error(t, err)
	_, err = s.GetHistory("general")
	assert.Error(t, err)
	_, err = s.AppendMessage(types.MessageDraft{RoomId: "general"})
	assert.Error(t, err)
}
