package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/austinwade/sitechat/auth"
	"github.com/austinwade/sitechat/config"
	"github.com/austinwade/sitechat/filter"
	"github.com/austinwade/sitechat/globals"
	"github.com/austinwade/sitechat/persistence"
	"github.com/austinwade/sitechat/types"
	"github.com/austinwade/sitechat/ws"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// API serves the room/message store endpoints, channel authorization and the
// websocket entry point of the presence hubs.
type API struct {
	persister persistence.Persister
	filter    *filter.Filter
	lookup    ws.HubLookup
	authCfg   config.AuthConfig
	chatCfg   config.ChatConfig
}

func New(persister persistence.Persister, f *filter.Filter, lookup ws.HubLookup, authCfg config.AuthConfig, chatCfg config.ChatConfig) *API {
	return &API{
		persister: persister,
		filter:    f,
		lookup:    lookup,
		authCfg:   authCfg,
		chatCfg:   chatCfg,
	}
}

func (a *API) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/api/rooms", a.listRooms).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/{room:[a-z][a-z0-9_-]+}/messages", a.listMessages).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/{room:[a-z][a-z0-9_-]+}/messages", a.appendMessage).Methods(http.MethodPost)
	router.HandleFunc("/api/chat/auth", a.authorizeChannel).Methods(http.MethodPost)
	router.HandleFunc("/chat", a.websocketHandler).Methods(http.MethodGet)
	return router
}

func (a *API) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.persister.GetRooms()
	if err != nil {
		globals.AppLogger.Error("could not list rooms", "error", err)
		http.Error(w, "could not list rooms", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["room"]
	messages, err := a.persister.GetMessageHistory(roomId, a.chatCfg.History())
	if err != nil {
		globals.AppLogger.Error("could not load history", "room", roomId, "error", err)
		http.Error(w, "could not load history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// appendMessage validates, sanitizes and persists a message, then fans it out
// over the room's presence channel. The response carries the stored message
// with its authoritative id; the realtime echo is the only path into client
// message lists.
func (a *API) appendMessage(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["room"]
	draft := types.MessageDraft{}
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	draft.RoomId = roomId
	if draft.AuthorId == "" {
		http.Error(w, "author id required", http.StatusBadRequest)
		return
	}
	// defense in depth: clients validate too, the server decides
	if err := a.filter.ValidateNickname(draft.AuthorName, filter.ContextChat); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err := a.filter.ValidateMessage(draft.Content); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	draft.Content = a.filter.Sanitize(draft.Content)

	room := types.Room{Id: roomId}
	if err := a.persister.GetRoom(&room); err != nil {
		http.Error(w, "unknown room", http.StatusNotFound)
		return
	}
	stored, err := a.persister.AppendMessage(draft)
	if err != nil {
		globals.AppLogger.Error("could not append message", "room", roomId, "error", err)
		http.Error(w, "could not store message", http.StatusInternalServerError)
		return
	}
	if hub := a.lookup(roomId); hub != nil {
		hub.BroadcastMessage <- stored
	}
	writeJSON(w, http.StatusCreated, stored)
}

// authorizeChannel signs a presence-channel token for the requesting socket.
// Reserved and profane display names are refused here as well, so a client
// cannot join presence under a name the filter would reject.
func (a *API) authorizeChannel(w http.ResponseWriter, r *http.Request) {
	req := auth.AuthRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := a.filter.ValidateNickname(req.Member.DisplayName, filter.ContextChat); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	token, err := auth.Sign(a.authCfg.AppKey, a.authCfg.AppSecret, req.SocketId, req.Channel, req.Member)
	if err != nil {
		http.Error(w, "could not sign", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, auth.AuthResponse{Auth: token})
}

func (a *API) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}
	client := ws.NewClient(conn, a.lookup, a.authCfg)
	globals.AppLogger.Debug("new socket", "socket", client.SocketId())
	client.Serve()
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		globals.AppLogger.Error("could not write response", "error", err)
	}
}
