package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/austinwade/sitechat/auth"
	"github.com/austinwade/sitechat/config"
	"github.com/austinwade/sitechat/filter"
	"github.com/austinwade/sitechat/persistence"
	"github.com/austinwade/sitechat/types"
	"github.com/austinwade/sitechat/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*API, *ws.Hub) {
	t.Helper()
	cfg := &config.Config{PersistenceConfig: config.PersistenceConfig{Type: "buntdb", DSN: ":memory:"}}
	persister, err := persistence.NewPersister(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { persister.Close() })
	require.NoError(t, persister.StoreRoom(types.Room{Id: "general", Name: "General"}))

	hub := ws.NewHub("general")
	go hub.Run()
	lookup := func(roomId string) *ws.Hub {
		if roomId == "general" {
			return hub
		}
		return nil
	}
	authCfg := config.AuthConfig{AppKey: "key", AppSecret: "secret"}
	api := New(persister, filter.New(config.FilterConfig{}), lookup, authCfg, config.ChatConfig{})
	return api, hub
}

func TestListRooms(t *testing.T) {
	api, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	rooms := make([]*types.Room, 0)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, "general", rooms[0].Id)
}

func postMessage(t *testing.T, api *API, room string, draft types.MessageDraft) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(draft)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/rooms/"+room+"/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	return rec
}

func TestAppendMessageAndHistory(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := postMessage(t, api, "general", types.MessageDraft{
		AuthorId: "u1", AuthorName: "Alice", Content: "hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	stored := types.Message{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.NotEmpty(t, stored.Id)
	assert.Equal(t, "general", stored.RoomId)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/general/messages", nil)
	hrec := httptest.NewRecorder()
	api.Router().ServeHTTP(hrec, req)
	require.Equal(t, http.StatusOK, hrec.Code)
	messages := make([]*types.Message, 0)
	require.NoError(t, json.Unmarshal(hrec.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, stored.Id, messages[0].Id)
}

func TestAppendMessageValidation(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := postMessage(t, api, "general", types.MessageDraft{AuthorId: "u1", Content: "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = postMessage(t, api, "general", types.MessageDraft{AuthorId: "u1", AuthorName: "Austin", Content: "hi"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = postMessage(t, api, "general", types.MessageDraft{Content: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppendMessageSanitizes(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := postMessage(t, api, "general", types.MessageDraft{AuthorId: "u1", AuthorName: "Alice", Content: "well shit happens"})
	require.Equal(t, http.StatusCreated, rec.Code)
	stored := types.Message{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, "well **** happens", stored.Content)
}

func TestAuthorizeChannel(t *testing.T) {
	api, _ := newTestAPI(t)

	body, err := json.Marshal(auth.AuthRequest{
		SocketId: "s-1",
		Channel:  "presence-general",
		Member:   types.Member{Id: "u1", DisplayName: "Alice"},
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/auth", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := auth.AuthResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, auth.Verify(resp.Auth, "key", "secret", "s-1", "presence-general", types.Member{Id: "u1", DisplayName: "Alice"}))
}

func TestAuthorizeChannelRefusesReservedName(t *testing.T) {
	api, _ := newTestAPI(t)

	body, err := json.Marshal(auth.AuthRequest{
		SocketId: "s-1",
		Channel:  "presence-general",
		Member:   types.Member{Id: "u1", DisplayName: " austin "},
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/auth", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAppendMessageUnknownRoom(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := postMessage(t, api, "nowhere", types.MessageDraft{AuthorId: "u1", Content: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
