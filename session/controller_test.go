package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/austinwade/sitechat/config"
	"github.com/austinwade/sitechat/filter"
	"github.com/austinwade/sitechat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu        sync.Mutex
	rooms    []*types.Room
	roomsErr error
	history  map[string][]*types.Message

	// historyGate, when set, blocks GetHistory for the given room until released
	historyGate map[string]chan struct{}

	appended []types.MessageDraft
	appendId int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		history:     make(map[string][]*types.Message),
		historyGate: make(map[string]chan struct{}),
	}
}

func (s *fakeStore) ListRooms() ([]*types.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomsErr != nil {
		return nil, s.roomsErr
	}
	return s.rooms, nil
}

func (s *fakeStore) GetHistory(roomId string) ([]*types.Message, error) {
	s.mu.Lock()
	gate := s.historyGate[roomId]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history[roomId], nil
}

func (s *fakeStore) AppendMessage(draft types.MessageDraft) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, draft)
	s.appendId++
	return &types.Message{
		Id:         fmt.Sprintf("m%d", s.appendId),
		RoomId:     draft.RoomId,
		AuthorId:   draft.AuthorId,
		AuthorName: draft.AuthorName,
		Content:    draft.Content,
		CreatedAt:  time.Now(),
	}, nil
}

func (s *fakeStore) appendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appended)
}

type fakeRealtime struct {
	mu          sync.Mutex
	state       types.ConnectionState
	connects    int
	subscribes  []string
	disconnects int
}

func (f *fakeRealtime) Connect(member types.Member) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.state = types.ConnectionConnected
	return nil
}

func (f *fakeRealtime) SubscribeToRoom(roomId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, roomId)
	return nil
}

func (f *fakeRealtime) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = types.ConnectionDisconnected
}

func (f *fakeRealtime) State() types.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRealtime) setState(state types.ConnectionState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

func (f *fakeRealtime) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func newTestController(t *testing.T, st *fakeStore, rt *fakeRealtime) *Controller {
	t.Helper()
	cfg := config.ChatConfig{DebounceWindowMs: 20, NoticeClearDelayMs: 50}
	f := filter.New(config.FilterConfig{})
	ident := types.Identity{UserId: "u-local", DisplayName: "Visitor"}
	c, err := NewController(cfg, st, f, rt, ident, nil)
	require.NoError(t, err)
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDedupInvariant(t *testing.T) {
	st := newFakeStore()
	rt := &fakeRealtime{state: types.ConnectionConnected}
	c := newTestController(t, st, rt)
	c.SelectRoom("general")
	waitFor(t, func() bool { return len(c.Messages()) == 0 && c.CurrentRoomId() == "general" })

	msg := &types.Message{Id: "m1", RoomId: "general", AuthorId: "a", Content: "hello"}
	c.OnEvent(&types.Event{Kind: types.WireEventNewMessage, Message: msg})
	c.OnEvent(&types.Event{Kind: types.WireEventNewMessage, Message: msg})
	c.OnEvent(&types.Event{Kind: types.WireEventNewMessage, Message: msg})

	messages := c.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "m1", messages[0].Id)
}

func TestDedupAgainstHistoryBaseline(t *testing.T) {
	st := newFakeStore()
	st.history["general"] = []*types.Message{
		{Id: "m1", RoomId: "general", Content: "old"},
	}
	rt := &fakeRealtime{state: types.ConnectionConnected}
	c := newTestController(t, st, rt)
	c.SelectRoom("general")
	waitFor(t, func() bool { return len(c.Messages()) == 1 })

	// redundant delivery of a message already in the baseline
	c.OnEvent(&types.Event{Kind: types.WireEventNewMessage, Message: st.history["general"][0]})
	assert.Len(t, c.Messages(), 1)
}

func TestHistoryKeepsRacingRealtimeArrivals(t *testing.T) {
	st := newFakeStore()
	gate := make(chan struct{})
	st.historyGate["general"] = gate
	st.history["general"] = []*types.Message{
		{Id: "m1", RoomId: "general", Content: "old"},
	}
	rt := &fakeRealtime{state: types.ConnectionConnected}
	c := newTestController(t, st, rt)

	c.SelectRoom("general") // history fetch blocks on the gate
	c.OnEvent(&types.Event{Kind: types.WireEventNewMessage, Message: &types.Message{
		Id: "m2", RoomId: "general", Content: "live",
	}})
	close(gate)

	waitFor(t, func() bool { return len(c.Messages()) == 2 })
	messages := c.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].Id)
	assert.Equal(t, "m2", messages[1].Id)
}

func TestRoomSwitchIsolation(t *testing.T) {
	st := newFakeStore()
	gate := make(chan struct{})
	st.historyGate["a"] = gate
	st.history["a"] = []*types.Message{{Id: "a1", RoomId: "a", Content: "stale"}}
	st.history["b"] = []*types.Message{{Id: "b1", RoomId: "b", Content: "fresh"}}
	rt := &fakeRealtime{state: types.ConnectionConnected}
	c := newTestController(t, st, rt)

	c.SelectRoom("a") // history fetch for a blocks on the gate
	c.SelectRoom("b")
	waitFor(t, func() bool { return len(c.Messages()) == 1 })
	require.Equal(t, "b1", c.Messages()[0].Id)

	close(gate) // the slow fetch for a resolves now
	time.Sleep(50 * time.Millisecond)

	// b's list must not have been overwritten by a's stale data
	messages := c.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "b1", messages[0].Id)
}

func TestDebounceCollapsesRapidSends(t *testing.T) {
	st := newFakeStore()
	rt := &fakeRealtime{state: types.ConnectionConnected}
	c := newTestController(t, st, rt)
	c.SelectRoom("general")

	for i := 0; i < 5; i++ {
		c.Send("hello")
	}
	waitFor(t, func() bool { return st.appendCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, st.appendCount())
}

func TestSendEmptyIsNoOp(t *testing.T) {
	st := newFakeStore()
	rt := &fakeRealtime{state: types.ConnectionConnected}
	c := newTestController(t, st, rt)
	c.SelectRoom("general")

	c.Send("   ")
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, st.appendCount())
	assert.Empty(t, c.Notice())
}

func TestSendWhileDisconnected(t *testing.T) {
	st := newFakeStore()
	rt := &fakeRealtime{state: types.ConnectionDisconnected}
	c := newTestController(t, st, rt)
	c.SelectRoom("general")

	c.Send("hello")
	waitFor(t, func() bool { return c.Notice() != "" })
	assert.Equal(t, 0, st.appendCount())

	// the notice auto-clears, nothing was queued for retry
	waitFor(t, func() bool { return c.Notice() == "" })
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, st.appendCount())
}

func TestSendProfanityRejected(t *testing.T) {
	st := newFakeStore()
	rt := &fakeRealtime{state: types.ConnectionConnected}
	c := newTestController(t, st, rt)
	c.SelectRoom("general")

	c.Send("well shit")
	waitFor(t, func() bool { return c.Notice() != "" })
	assert.Equal(t, 0, st.appendCount())
}

func TestEchoIsTheOnlyAppendPath(t *testing.T) {
	st := newFakeStore()
	rt := &fakeRealtime{state: types.ConnectionConnected}
	c := newTestController(t, st, rt)
	st.mu.Lock()
	st.rooms = []*types.Room{{Id: "general", Name: "General"}}
	st.mu.Unlock()
	require.NoError(t, c.LoadRooms())
	waitFor(t, func() bool { return c.CurrentRoomId() == "general" })

	c.Send("hello")
	waitFor(t, func() bool { return st.appendCount() == 1 })

	// persisted but not yet echoed: list is empty, counter already bumped
	assert.Empty(t, c.Messages())
	waitFor(t, func() bool { return c.RoomMessageCount("general") == 1 })

	// the echo arrives; exactly one list entry, counter not bumped twice
	c.OnEvent(&types.Event{Kind: types.WireEventNewMessage, Message: &types.Message{
		Id: "m1", RoomId: "general", AuthorId: "u-local", Content: "hello",
	}})
	require.Len(t, c.Messages(), 1)
	assert.Equal(t, int64(1), c.RoomMessageCount("general"))
}

func TestCounterBumpForInactiveRoom(t *testing.T) {
	st := newFakeStore()
	st.rooms = []*types.Room{{Id: "general"}, {Id: "random"}}
	rt := &fakeRealtime{state: types.ConnectionConnected}
	c := newTestController(t, st, rt)
	require.NoError(t, c.LoadRooms())
	waitFor(t, func() bool { return c.CurrentRoomId() == "general" })

	c.OnEvent(&types.Event{Kind: types.WireEventNewMessage, Message: &types.Message{
		Id: "x1", RoomId: "random", AuthorId: "b", Content: "elsewhere",
	}})

	// not in the active room's list, but its counter moved
	assert.Empty(t, c.Messages())
	assert.Equal(t, int64(0), c.RoomMessageCount("general"))
	assert.Equal(t, int64(1), c.RoomMessageCount("random"))
}

func TestLoadRoomsFailureLeavesEmptyList(t *testing.T) {
	st := newFakeStore()
	st.rooms = []*types.Room{{Id: "general"}}
	st.roomsErr = fmt.Errorf("boom")
	rt := &fakeRealtime{state: types.ConnectionConnected}
	c := newTestController(t, st, rt)

	require.Error(t, c.LoadRooms())
	assert.Empty(t, c.Rooms())
	assert.NotEmpty(t, c.Notice())
}

func TestSelectRoomSubscribesWhenConnected(t *testing.T) {
	st := newFakeStore()
	rt := &fakeRealtime{state: types.ConnectionConnected}
	c := newTestController(t, st, rt)

	c.SelectRoom("general")
	rt.mu.Lock()
	defer rt.mu.Unlock()
	assert.Equal(t, []string{"general"}, rt.subscribes)
}

func TestSelectRoomDefersSubscriptionUntilConnected(t *testing.T) {
	st := newFakeStore()
	rt := &fakeRealtime{state: types.ConnectionDisconnected}
	c := newTestController(t, st, rt)

	c.SelectRoom("general")
	rt.mu.Lock()
	assert.Empty(t, rt.subscribes)
	rt.mu.Unlock()

	// the connected callback picks up whatever room is current
	rt.setState(types.ConnectionConnected)
	c.OnConnectionStateChange(types.ConnectionConnected)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	assert.Equal(t, []string{"general"}, rt.subscribes)
}

func TestHealthCheckReconnectsOnce(t *testing.T) {
	st := newFakeStore()
	rt := &fakeRealtime{state: types.ConnectionDisconnected}
	c := newTestController(t, st, rt)

	c.healthCheckTick()
	assert.Equal(t, 1, rt.connectCount())

	// connected now, the next tick is a no-op
	c.healthCheckTick()
	assert.Equal(t, 1, rt.connectCount())
}

func TestHealthCheckRequiresIdentity(t *testing.T) {
	st := newFakeStore()
	rt := &fakeRealtime{state: types.ConnectionDisconnected}
	c := newTestController(t, st, rt)
	c.mu.Lock()
	c.ident = types.Identity{}
	c.mu.Unlock()

	c.healthCheckTick()
	assert.Equal(t, 0, rt.connectCount())
}

func TestMembershipArithmetic(t *testing.T) {
	st := newFakeStore()
	rt := &fakeRealtime{state: types.ConnectionConnected}
	c := newTestController(t, st, rt)
	c.SelectRoom("general")

	c.OnEvent(&types.Event{Kind: types.WireEventSubscriptionSucceeded, Snapshot: &types.MembershipSnapshot{
		Count: 3,
		Members: []types.Member{
			{Id: "a"}, {Id: "b"}, {Id: "c"},
		},
	}})
	assert.Equal(t, 3, c.OnlineCount())

	c.OnEvent(&types.Event{Kind: types.WireEventMemberRemoved, Member: &types.Member{Id: "c"}})
	c.OnEvent(&types.Event{Kind: types.WireEventMemberAdded, Member: &types.Member{Id: "d"}})
	assert.Equal(t, 3, c.OnlineCount())

	// spurious extra removals never drive the count negative
	for _, id := range []string{"a", "b", "d", "d", "x", "y", "z"} {
		c.OnEvent(&types.Event{Kind: types.WireEventMemberRemoved, Member: &types.Member{Id: id}})
	}
	assert.Equal(t, 0, c.OnlineCount())
}

func TestSetDisplayNameValidatesAndReconnects(t *testing.T) {
	st := newFakeStore()
	rt := &fakeRealtime{state: types.ConnectionConnected}
	c := newTestController(t, st, rt)

	require.Error(t, c.SetDisplayName("Austin"))
	assert.Equal(t, 0, rt.connectCount())

	require.NoError(t, c.SetDisplayName("Alice"))
	assert.Equal(t, 1, rt.connectCount())
	assert.Equal(t, "Alice", c.Identity().DisplayName)
}

func TestCloseStopsPendingSend(t *testing.T) {
	st := newFakeStore()
	rt := &fakeRealtime{state: types.ConnectionConnected}
	c := newTestController(t, st, rt)
	c.SelectRoom("general")

	c.Send("hello")
	c.Close()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, st.appendCount())
	assert.Equal(t, 1, rt.disconnects)
}
