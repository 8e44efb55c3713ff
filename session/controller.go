package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/austinwade/sitechat/config"
	"github.com/austinwade/sitechat/filter"
	"github.com/austinwade/sitechat/globals"
	"github.com/austinwade/sitechat/identity"
	"github.com/austinwade/sitechat/store"
	"github.com/austinwade/sitechat/types"
	lru "github.com/hashicorp/golang-lru"
	"github.com/robfig/cron/v3"
)

const countedIdsCacheSize = 512

// RealtimeClient is the presence channel client as the controller consumes
// it. The controller owns the single connection and its single active
// subscription exclusively, nothing else may subscribe.
type RealtimeClient interface {
	Connect(member types.Member) error
	SubscribeToRoom(roomId string) error
	Disconnect()
	State() types.ConnectionState
}

// Controller orchestrates room discovery, history loading, message sending
// with validation, and maintains the deduplicated message list and the online
// membership view. It is the only mutator of that state; callbacks from the
// realtime transport, timers and HTTP completions interleave on different
// goroutines, so everything is guarded by one mutex.
type Controller struct {
	chatCfg config.ChatConfig

	store      store.Store
	filter     *filter.Filter
	realtime   RealtimeClient
	identStore *identity.Store

	mu            sync.Mutex
	ident         types.Identity
	rooms         []*types.Room
	currentRoomId string
	messages      []*types.Message
	messageById   map[string]struct{}
	members       map[string]types.Member
	onlineCount   int
	notice        string

	// message ids whose messageCount bump already happened, so the echo of an
	// optimistically counted send does not count twice
	countedIds *lru.ARCCache

	noticeTimer   *time.Timer
	debounceTimer *time.Timer
	pendingText   string

	healthCheck *cron.Cron
	closed      bool
}

func NewController(chatCfg config.ChatConfig, st store.Store, f *filter.Filter, rt RealtimeClient, ident types.Identity, identStore *identity.Store) (*Controller, error) {
	counted, err := lru.NewARC(countedIdsCacheSize)
	if err != nil {
		return nil, err
	}
	return &Controller{
		chatCfg:     chatCfg,
		store:       st,
		filter:      f,
		realtime:    rt,
		identStore:  identStore,
		ident:       ident,
		rooms:       make([]*types.Room, 0),
		messages:    make([]*types.Message, 0),
		messageById: make(map[string]struct{}),
		members:     make(map[string]types.Member),
		countedIds:  counted,
	}, nil
}

// Start connects the realtime transport and begins the periodic health check,
// the sole automatic remediation for transport-level drops.
func (c *Controller) Start() error {
	c.mu.Lock()
	member := c.memberLocked()
	spec := c.chatCfg.HealthCheck()
	c.mu.Unlock()

	if err := c.realtime.Connect(member); err != nil {
		globals.AppLogger.Error("initial connect failed", "error", err)
	}

	runner := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := runner.AddFunc(spec, c.healthCheckTick); err != nil {
		return fmt.Errorf("invalid health check spec: %w", err)
	}
	runner.Start()
	c.mu.Lock()
	c.healthCheck = runner
	c.mu.Unlock()
	return nil
}

// Close tears the session down: timers stopped, subscription and connection
// released. No callbacks fire afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.healthCheck != nil {
		c.healthCheck.Stop()
		c.healthCheck = nil
	}
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
		c.noticeTimer = nil
	}
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	c.mu.Unlock()
	c.realtime.Disconnect()
}

func (c *Controller) healthCheckTick() {
	c.mu.Lock()
	if c.closed || c.ident.UserId == "" {
		c.mu.Unlock()
		return
	}
	member := c.memberLocked()
	c.mu.Unlock()
	if c.realtime.State() != types.ConnectionDisconnected {
		return
	}
	globals.AppLogger.Info("health check: reconnecting")
	if err := c.realtime.Connect(member); err != nil {
		globals.AppLogger.Error("reconnect failed", "error", err)
	}
}

func (c *Controller) memberLocked() types.Member {
	return types.Member{Id: c.ident.UserId, DisplayName: c.ident.DisplayName}
}

// LoadRooms fetches the room list and replaces it wholesale. If no room is
// selected yet, the first room returned becomes current. On failure the list
// is left empty rather than stale, and no automatic retry happens.
func (c *Controller) LoadRooms() error {
	rooms, err := c.store.ListRooms()
	if err != nil {
		c.mu.Lock()
		c.rooms = make([]*types.Room, 0)
		c.mu.Unlock()
		c.setNotice("could not load rooms")
		globals.AppLogger.Error("could not load rooms", "error", err)
		return err
	}
	c.mu.Lock()
	c.rooms = rooms
	firstRoom := ""
	if c.currentRoomId == "" && len(rooms) > 0 {
		firstRoom = rooms[0].Id
	}
	c.mu.Unlock()
	if firstRoom != "" {
		c.SelectRoom(firstRoom)
	}
	return nil
}

// SelectRoom makes a room current. If the connection is already up the
// subscription switches immediately; otherwise it is deferred to the
// connected callback, which subscribes to whatever room is current by then.
// Either way the subscription happens exactly once per connect-then-select
// ordering. History is loaded in the background, the stale-response guard in
// LoadHistory keeps a slow fetch from leaking into another room.
func (c *Controller) SelectRoom(roomId string) {
	c.mu.Lock()
	c.currentRoomId = roomId
	c.messages = make([]*types.Message, 0)
	c.messageById = make(map[string]struct{})
	c.members = make(map[string]types.Member)
	c.onlineCount = 0
	c.mu.Unlock()

	if c.realtime.State() == types.ConnectionConnected {
		if err := c.realtime.SubscribeToRoom(roomId); err != nil {
			globals.AppLogger.Error("could not subscribe", "room", roomId, "error", err)
		}
	}
	go func() {
		if err := c.LoadHistory(roomId); err != nil {
			globals.AppLogger.Error("could not load history", "room", roomId, "error", err)
		}
	}()
}

// LoadHistory fetches the persisted messages of a room and replaces the
// in-memory list wholesale - the authoritative baseline realtime appends are
// deduplicated against. A response for a room that is no longer current is
// discarded.
func (c *Controller) LoadHistory(roomId string) error {
	messages, err := c.store.GetHistory(roomId)
	if err != nil {
		c.mu.Lock()
		if c.currentRoomId == roomId {
			c.messages = make([]*types.Message, 0)
			c.messageById = make(map[string]struct{})
		}
		c.mu.Unlock()
		c.setNotice("could not load messages")
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentRoomId != roomId {
		// the user switched rooms while this fetch was in flight
		return nil
	}
	arrived := c.messages // realtime appends that raced the fetch
	c.messages = make([]*types.Message, 0, len(messages))
	c.messageById = make(map[string]struct{}, len(messages))
	for _, msg := range messages {
		if _, ok := c.messageById[msg.Id]; ok {
			continue
		}
		c.messages = append(c.messages, msg)
		c.messageById[msg.Id] = struct{}{}
	}
	// the baseline wins on duplicates, arrivals it does not know yet are kept
	for _, msg := range arrived {
		if _, ok := c.messageById[msg.Id]; ok {
			continue
		}
		c.messages = append(c.messages, msg)
		c.messageById[msg.Id] = struct{}{}
	}
	return nil
}

// Send submits message text through the validated send pipeline. Rapid
// repeated calls within the debounce window collapse to a single underlying
// send attempt carrying the latest text.
func (c *Controller) Send(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pendingText = text
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(c.chatCfg.DebounceWindow(), c.firePendingSend)
}

func (c *Controller) firePendingSend() {
	c.mu.Lock()
	text := c.pendingText
	c.pendingText = ""
	c.debounceTimer = nil
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.sendNow(text)
}

// sendNow runs the pipeline: empty check, connectivity check, content
// validation, sanitization, persist. The message is not appended here - it
// comes back through the channel echo, so every client renders through one
// code path with one ordering source.
func (c *Controller) sendNow(text string) {
	if strings.TrimSpace(text) == "" {
		// empty input is a silent no-op
		return
	}
	if err := c.filter.ValidateMessage(text); err != nil {
		c.setNotice(err.Error())
		return
	}
	if c.realtime.State() != types.ConnectionConnected {
		// no queueing, no retry - the user sends again once reconnected
		c.setNotice("not connected - try again in a moment")
		return
	}

	c.mu.Lock()
	draft := types.MessageDraft{
		RoomId:     c.currentRoomId,
		AuthorId:   c.ident.UserId,
		AuthorName: c.ident.DisplayName,
		Content:    c.filter.Sanitize(text),
	}
	c.mu.Unlock()
	if draft.RoomId == "" {
		c.setNotice("no room selected")
		return
	}

	stored, err := c.store.AppendMessage(draft)
	if err != nil {
		// input stays with the caller for resubmission, counters untouched
		c.setNotice("could not send message")
		globals.AppLogger.Error("could not send message", "error", err)
		return
	}

	// optimistic: only the counter, never the message itself
	c.mu.Lock()
	c.countedIds.Add(stored.Id, struct{}{})
	c.bumpRoomCountLocked(stored.RoomId)
	c.mu.Unlock()
}

// OnConnectionStateChange implements presence.Handler. On (re)connect the
// current room is re-subscribed and its history re-fetched, which reconciles
// any echo dropped while the transport was down.
func (c *Controller) OnConnectionStateChange(state types.ConnectionState) {
	c.mu.Lock()
	roomId := c.currentRoomId
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	globals.AppLogger.Info("connection state", "state", state.String())
	if state == types.ConnectionConnected && roomId != "" {
		if err := c.realtime.SubscribeToRoom(roomId); err != nil {
			globals.AppLogger.Error("could not subscribe", "room", roomId, "error", err)
		}
		go func() {
			if err := c.LoadHistory(roomId); err != nil {
				globals.AppLogger.Error("could not reload history", "room", roomId, "error", err)
			}
		}()
	}
}

// OnEvent implements presence.Handler.
func (c *Controller) OnEvent(evt *types.Event) {
	switch evt.Kind {
	case types.WireEventNewMessage:
		c.onNewMessage(evt.Message)
	case types.WireEventSubscriptionSucceeded:
		c.onMembershipSnapshot(evt.Snapshot)
	case types.WireEventMemberAdded:
		c.onMemberAdded(evt.Member)
	case types.WireEventMemberRemoved:
		c.onMemberRemoved(evt.Member)
	}
}

// onNewMessage deduplicates by id against the in-memory list of the active
// room and appends if new. The room's message counter is bumped regardless of
// which room the message belongs to, unless this send was already counted
// optimistically.
func (c *Controller) onNewMessage(msg *types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.RoomId == c.currentRoomId {
		if _, ok := c.messageById[msg.Id]; !ok {
			c.messages = append(c.messages, msg)
			c.messageById[msg.Id] = struct{}{}
		}
	}
	if _, counted := c.countedIds.Get(msg.Id); !counted {
		c.countedIds.Add(msg.Id, struct{}{})
		c.bumpRoomCountLocked(msg.RoomId)
	}
}

func (c *Controller) bumpRoomCountLocked(roomId string) {
	for _, room := range c.rooms {
		if room.Id == roomId {
			room.MessageCount++
			return
		}
	}
}

func (c *Controller) onMembershipSnapshot(snap *types.MembershipSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members = make(map[string]types.Member, len(snap.Members))
	for _, m := range snap.Members {
		c.members[m.Id] = m
	}
	c.onlineCount = snap.Count
	if c.onlineCount < 0 {
		c.onlineCount = 0
	}
}

func (c *Controller) onMemberAdded(member *types.Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[member.Id]; !ok {
		c.members[member.Id] = *member
		c.onlineCount++
	}
}

func (c *Controller) onMemberRemoved(member *types.Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[member.Id]; ok {
		delete(c.members, member.Id)
		c.onlineCount--
	}
	if c.onlineCount < 0 {
		c.onlineCount = 0
	}
}

// ValidateDraft re-runs content validation for realtime feedback on every
// keystroke. The same rules run again at submit time.
func (c *Controller) ValidateDraft(text string) error {
	return c.filter.ValidateMessage(text)
}

// SetDisplayName validates and persists a new nickname, then reconnects so
// the presence identity changes without leaking listeners.
func (c *Controller) SetDisplayName(name string) error {
	if err := c.filter.ValidateNickname(name, filter.ContextChat); err != nil {
		return err
	}
	c.mu.Lock()
	c.ident.DisplayName = name
	ident := c.ident
	member := c.memberLocked()
	c.mu.Unlock()
	if c.identStore != nil {
		if err := c.identStore.Save(ident); err != nil {
			globals.AppLogger.Error("could not persist identity", "error", err)
		}
	}
	return c.realtime.Connect(member)
}

func (c *Controller) setNotice(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notice = text
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
	}
	c.noticeTimer = time.AfterFunc(c.chatCfg.NoticeClearDelay(), func() {
		c.mu.Lock()
		c.notice = ""
		c.noticeTimer = nil
		c.mu.Unlock()
	})
}

// Notice returns the current transient user notice, empty if none.
func (c *Controller) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice
}

func (c *Controller) Identity() types.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ident
}

func (c *Controller) CurrentRoomId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRoomId
}

// Rooms returns a copy of the room list.
func (c *Controller) Rooms() []*types.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]*types.Room, len(c.rooms))
	copy(rooms, c.rooms)
	return rooms
}

// RoomMessageCount returns the denormalized counter of one room.
func (c *Controller) RoomMessageCount(roomId string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, room := range c.rooms {
		if room.Id == roomId {
			return room.MessageCount
		}
	}
	return 0
}

// Messages returns a copy of the active room's message list, in delivery order.
func (c *Controller) Messages() []*types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	messages := make([]*types.Message, len(c.messages))
	copy(messages, c.messages)
	return messages
}

// OnlineCount returns the presence channel's member count, never negative.
func (c *Controller) OnlineCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onlineCount
}

// OnlineMembers returns the current membership view.
func (c *Controller) OnlineMembers() []types.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	members := make([]types.Member, 0, len(c.members))
	for _, m := range c.members {
		members = append(members, m)
	}
	return members
}
