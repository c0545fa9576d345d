package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/bspark23/chatsphere-pro/internal/auth"
	"github.com/bspark23/chatsphere-pro/internal/bridge"
	"github.com/bspark23/chatsphere-pro/internal/db"
	"github.com/bspark23/chatsphere-pro/internal/event"
	"github.com/bspark23/chatsphere-pro/internal/model"
)

// ----------------------------------------------------------------------------
// fakes
// ----------------------------------------------------------------------------

type fakeMessages struct {
	mu         sync.Mutex
	inserted   []model.Message
	markedRead [][]string
	failInsert bool
}

func (f *fakeMessages) InsertMessage(_ context.Context, msg *model.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failInsert {
		return "", errors.New("store unavailable")
	}

	msg.ID = primitive.NewObjectID()
	msg.CreatedAt = time.Now().UTC()
	f.inserted = append(f.inserted, *msg)
	return msg.ID.Hex(), nil
}

func (f *fakeMessages) MarkRead(_ context.Context, messageIDs []string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, messageIDs)
	return nil
}

func (f *fakeMessages) RoomMessages(_ context.Context, _ event.RoomID, _ string, _ int64) (*db.PaginatedResult[model.Message], error) {
	return &db.PaginatedResult[model.Message]{}, nil
}

func (f *fakeMessages) insertedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

type fakeUsers struct {
	mu        sync.Mutex
	statuses  []string
	offlineAt []time.Time
}

func (f *fakeUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	return &model.User{Username: "user-" + id}, nil
}

func (f *fakeUsers) SetStatus(_ context.Context, _ string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeUsers) SetOffline(_ context.Context, _ string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offlineAt = append(f.offlineAt, lastSeen)
	return nil
}

func (f *fakeUsers) offlineCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offlineAt)
}

// ----------------------------------------------------------------------------
// helpers
// ----------------------------------------------------------------------------

func newTestHub(t *testing.T) (*Hub, *fakeMessages, *fakeUsers) {
	t.Helper()

	b := bridge.NewLocal()
	messages := &fakeMessages{}
	users := &fakeUsers{}

	presence := NewPresenceTracker(users, b, zap.NewNop())
	h := NewHub(messages, presence, b, nil, zap.NewNop())
	require.NoError(t, b.Start(context.Background(), h))

	t.Cleanup(h.Stop)
	return h, messages, users
}

// newTestClient builds a registered client without a real websocket
// connection; delivery is observed on the egress channel directly.
func newTestClient(h *Hub, identity auth.Identity) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ID:         identity.ID + "-" + primitive.NewObjectID().Hex(),
		identity:   identity,
		hub:        h,
		egress:     make(chan event.WsEvent, sendBufSize),
		rooms:      make(map[string]event.RoomID),
		ctx:        ctx,
		cancel:     cancel,
		connClosed: make(chan struct{}),
	}
	c.connClosedOnce.Do(func() { close(c.connClosed) })
	return c
}

func connect(h *Hub, userID, username string) *Client {
	c := newTestClient(h, auth.Identity{ID: userID, Username: username})
	h.addClient(c)
	return c
}

func drain(c *Client) {
	for {
		select {
		case <-c.egress:
		default:
			return
		}
	}
}

func recv(t *testing.T, c *Client) event.WsEvent {
	t.Helper()
	select {
	case ev := <-c.egress:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return event.WsEvent{}
	}
}

func recvKind(t *testing.T, c *Client, kind event.Kind) event.WsEvent {
	t.Helper()
	ev := recv(t, c)
	require.Equal(t, kind, ev.Kind)
	return ev
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.egress:
		t.Fatalf("client %s unexpectedly received %s", c.ID, ev.Kind)
	default:
	}
}

func decode[T any](t *testing.T, ev event.WsEvent) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(ev.Payload, &out))
	return out
}

func clientEvent(t *testing.T, kind event.Kind, payload any) event.WsEvent {
	t.Helper()
	ev, err := event.New(kind, payload)
	require.NoError(t, err)
	return ev
}

// ----------------------------------------------------------------------------
// registry
// ----------------------------------------------------------------------------

func TestRegisterAutoJoinsPersonalRoom(t *testing.T) {
	h, _, users := newTestHub(t)

	c := connect(h, "alice", "Alice")

	members := h.roomMembers(event.Direct("alice"))
	require.Len(t, members, 1)
	assert.Equal(t, c.ID, members[0].ID)

	users.mu.Lock()
	defer users.mu.Unlock()
	assert.Equal(t, []string{event.StatusOnline}, users.statuses)
}

func TestJoinRoomIdempotent(t *testing.T) {
	h, _, _ := newTestHub(t)

	c := connect(h, "alice", "Alice")
	room := event.Group("g1")

	h.JoinRoom(c, room)
	h.JoinRoom(c, room)

	assert.Len(t, h.roomMembers(room), 1)
	assert.Len(t, c.joinedRooms(), 2) // personal room + g1
}

func TestLeaveRoomNonMemberNoop(t *testing.T) {
	h, _, _ := newTestHub(t)

	c := connect(h, "alice", "Alice")

	h.LeaveRoom(c, event.Group("never-joined"))

	// personal room membership is untouched
	assert.Len(t, h.roomMembers(event.Direct("alice")), 1)
}

func TestRoomIsolation(t *testing.T) {
	h, _, _ := newTestHub(t)

	member := connect(h, "alice", "Alice")
	outsider := connect(h, "bob", "Bob")
	h.JoinRoom(member, event.Group("g1"))
	drain(member)
	drain(outsider)

	ev := clientEvent(t, event.KindNewMessage, map[string]string{"content": "secret"})
	h.Deliver(event.Group("g1"), ev)

	recvKind(t, member, event.KindNewMessage)
	assertSilent(t, outsider)
}

func TestDeregisterExactlyOnce(t *testing.T) {
	h, _, users := newTestHub(t)

	c := connect(h, "alice", "Alice")
	h.JoinRoom(c, event.Group("g1"))

	h.removeClient(c)
	h.removeClient(c) // duplicate teardown paths collapse to one

	assert.Equal(t, 1, users.offlineCount())
	assert.Empty(t, h.roomMembers(event.Direct("alice")))
	assert.Empty(t, h.roomMembers(event.Group("g1")))
}

func TestDeliverDropsClosedClient(t *testing.T) {
	h, _, users := newTestHub(t)

	c := connect(h, "alice", "Alice")
	drain(c)
	c.Close()

	h.Deliver(event.Direct("alice"), clientEvent(t, event.KindNewMessage, map[string]string{"content": "x"}))

	// the run loop picks the failed client off the unregister queue
	require.Eventually(t, func() bool {
		return users.offlineCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// ----------------------------------------------------------------------------
// presence
// ----------------------------------------------------------------------------

func TestPresenceBroadcastReachesEveryConnection(t *testing.T) {
	h, _, _ := newTestHub(t)

	observer := connect(h, "alice", "Alice")
	drain(observer)

	connect(h, "bob", "Bob")

	ev := recvKind(t, observer, event.KindUserStatus)
	status := decode[event.UserStatusPayload](t, ev)
	assert.Equal(t, "bob", status.UserID)
	assert.Equal(t, event.StatusOnline, status.Status)
}

func TestSecondDeviceKeepsIdentityOnline(t *testing.T) {
	h, _, users := newTestHub(t)

	before := time.Now().UTC()
	first := connect(h, "alice", "Alice")
	second := connect(h, "alice", "Alice")

	users.mu.Lock()
	assert.Equal(t, []string{event.StatusOnline}, users.statuses, "second device must not re-announce online")
	users.mu.Unlock()

	h.removeClient(first)
	assert.Equal(t, 0, users.offlineCount(), "identity still has a live connection")
	assert.True(t, h.presence.Online("alice"))

	h.removeClient(second)
	require.Equal(t, 1, users.offlineCount(), "offline exactly once")
	assert.False(t, h.presence.Online("alice"))

	users.mu.Lock()
	defer users.mu.Unlock()
	assert.False(t, users.offlineAt[0].Before(before), "last-seen must not precede the disconnect")
}

// ----------------------------------------------------------------------------
// routing
// ----------------------------------------------------------------------------

func TestGroupMessageFanoutPreservesOrder(t *testing.T) {
	h, messages, _ := newTestHub(t)

	alice := connect(h, "alice", "Alice")
	bob := connect(h, "bob", "Bob")
	h.handleEvent(clientEvent(t, event.KindJoinGroup, event.GroupPayload{GroupID: "g1"}), alice)
	h.handleEvent(clientEvent(t, event.KindJoinGroup, event.GroupPayload{GroupID: "g1"}), bob)
	drain(alice)
	drain(bob)

	for _, content := range []string{"hi", "how are you", "bye"} {
		h.handleEvent(clientEvent(t, event.KindSendMessage, event.SendMessagePayload{
			Content:  content,
			ChatType: event.ChatTypeGroup,
			Group:    "g1",
		}), alice)
	}

	for _, want := range []string{"hi", "how are you", "bye"} {
		got := decode[model.Message](t, recvKind(t, bob, event.KindNewMessage))
		assert.Equal(t, want, got.Content)
		assert.Equal(t, "alice", got.SenderID)
	}

	// the sender is a room member too
	first := decode[model.Message](t, recvKind(t, alice, event.KindNewMessage))
	assert.Equal(t, "hi", first.Content)

	assert.Equal(t, 3, messages.insertedCount())
}

func TestDirectMessageReachesEveryRecipientConnection(t *testing.T) {
	h, _, _ := newTestHub(t)

	alice := connect(h, "alice", "Alice")
	bobPhone := connect(h, "bob", "Bob")
	bobLaptop := connect(h, "bob", "Bob")
	drain(alice)
	drain(bobPhone)
	drain(bobLaptop)

	h.handleEvent(clientEvent(t, event.KindSendMessage, event.SendMessagePayload{
		Content:   "direct hello",
		ChatType:  event.ChatTypeDirect,
		Recipient: "bob",
	}), alice)

	for _, c := range []*Client{bobPhone, bobLaptop} {
		msg := decode[model.Message](t, recvKind(t, c, event.KindNewMessage))
		assert.Equal(t, "direct hello", msg.Content)
		assert.Equal(t, "alice", msg.SenderID)
	}

	// the sender's own connections get a copy through its personal room
	msg := decode[model.Message](t, recvKind(t, alice, event.KindNewMessage))
	assert.Equal(t, "direct hello", msg.Content)
}

func TestPersistFailureAcksSenderOnly(t *testing.T) {
	h, messages, _ := newTestHub(t)
	messages.failInsert = true

	alice := connect(h, "alice", "Alice")
	bob := connect(h, "bob", "Bob")
	drain(alice)
	drain(bob)

	h.handleEvent(clientEvent(t, event.KindSendMessage, event.SendMessagePayload{
		Content:   "doomed",
		ChatType:  event.ChatTypeDirect,
		Recipient: "bob",
	}), alice)

	errEv := decode[event.ErrorPayload](t, recvKind(t, alice, event.KindError))
	assert.Equal(t, "persist_failed", errEv.Code)
	assertSilent(t, bob)
}

func TestTypingRelayedNotPersisted(t *testing.T) {
	h, messages, _ := newTestHub(t)

	alice := connect(h, "alice", "Alice")
	bob := connect(h, "bob", "Bob")
	drain(alice)
	drain(bob)

	h.handleEvent(clientEvent(t, event.KindTyping, event.TypingPayload{
		ChatType:  event.ChatTypeDirect,
		Recipient: "bob",
		IsTyping:  true,
	}), alice)

	typing := decode[event.UserTypingPayload](t, recvKind(t, bob, event.KindUserTyping))
	assert.Equal(t, "alice", typing.UserID)
	assert.Equal(t, "Alice", typing.Username)
	assert.True(t, typing.IsTyping)

	assert.Equal(t, 0, messages.insertedCount())
}

func TestMarkReadRelaysReceipt(t *testing.T) {
	h, messages, _ := newTestHub(t)

	alice := connect(h, "alice", "Alice")
	bob := connect(h, "bob", "Bob")
	h.handleEvent(clientEvent(t, event.KindJoinGroup, event.GroupPayload{GroupID: "g1"}), alice)
	h.handleEvent(clientEvent(t, event.KindJoinGroup, event.GroupPayload{GroupID: "g1"}), bob)
	drain(alice)
	drain(bob)

	h.handleEvent(clientEvent(t, event.KindMarkRead, event.MarkReadPayload{
		MessageIDs: []string{"m1", "m2"},
		Room:       event.Group("g1").Key(),
	}), bob)

	read := decode[event.MessagesReadPayload](t, recvKind(t, alice, event.KindMessagesRead))
	assert.Equal(t, []string{"m1", "m2"}, read.MessageIDs)
	assert.Equal(t, "bob", read.UserID)

	messages.mu.Lock()
	defer messages.mu.Unlock()
	require.Len(t, messages.markedRead, 1)
	assert.Equal(t, []string{"m1", "m2"}, messages.markedRead[0])
}

func TestMarkReadRejectsBroadcastRoom(t *testing.T) {
	h, messages, _ := newTestHub(t)

	alice := connect(h, "alice", "Alice")
	observer := connect(h, "bob", "Bob")
	drain(alice)
	drain(observer)

	h.handleEvent(clientEvent(t, event.KindMarkRead, event.MarkReadPayload{
		MessageIDs: []string{"m1"},
		Room:       event.Broadcast().Key(),
	}), alice)

	errEv := decode[event.ErrorPayload](t, recvKind(t, alice, event.KindError))
	assert.Equal(t, "bad_payload", errEv.Code)
	assertSilent(t, observer)

	messages.mu.Lock()
	defer messages.mu.Unlock()
	assert.Empty(t, messages.markedRead)
}

func TestMalformedPayloadAnswersSenderOnly(t *testing.T) {
	h, _, _ := newTestHub(t)

	alice := connect(h, "alice", "Alice")
	bob := connect(h, "bob", "Bob")
	drain(alice)
	drain(bob)

	h.handleEvent(event.WsEvent{Kind: event.KindSendMessage, Payload: []byte(`{not json`)}, alice)

	errEv := decode[event.ErrorPayload](t, recvKind(t, alice, event.KindError))
	assert.Equal(t, "bad_payload", errEv.Code)
	assertSilent(t, bob)
}

func TestUnknownKindAnswersWithError(t *testing.T) {
	h, _, _ := newTestHub(t)

	alice := connect(h, "alice", "Alice")
	drain(alice)

	h.handleEvent(event.WsEvent{Kind: "made-up", Payload: []byte(`{}`)}, alice)

	errEv := decode[event.ErrorPayload](t, recvKind(t, alice, event.KindError))
	assert.Equal(t, "unknown_event", errEv.Code)
}

// ----------------------------------------------------------------------------
// signaling
// ----------------------------------------------------------------------------

func TestCallSignalOpaqueRelay(t *testing.T) {
	h, _, _ := newTestHub(t)

	alice := connect(h, "alice", "Alice")
	bob := connect(h, "bob", "Bob")
	drain(alice)
	drain(bob)

	signal := json.RawMessage(`{"sdp":"v=0 o=- 46117 2","candidates":[1,2,3]}`)

	h.handleEvent(clientEvent(t, event.KindCallInitiate, event.CallSignalPayload{
		To:       "bob",
		Signal:   signal,
		CallType: event.CallTypeVideo,
	}), alice)

	incoming := decode[event.IncomingCallPayload](t, recvKind(t, bob, event.KindIncomingCall))
	assert.Equal(t, "alice", incoming.From)
	assert.Equal(t, "Alice", incoming.Username)
	assert.Equal(t, event.CallTypeVideo, incoming.CallType)
	assert.JSONEq(t, string(signal), string(incoming.Signal), "signal must pass through unmodified")

	// answer flows back over the same path
	h.handleEvent(clientEvent(t, event.KindCallAccept, event.CallSignalPayload{
		To:     "alice",
		Signal: json.RawMessage(`{"sdp":"answer"}`),
	}), bob)

	accepted := decode[event.CallAcceptedPayload](t, recvKind(t, alice, event.KindCallAccepted))
	assert.Equal(t, "bob", accepted.From)
	assert.JSONEq(t, `{"sdp":"answer"}`, string(accepted.Signal))

	h.handleEvent(clientEvent(t, event.KindCallEnd, event.CallSignalPayload{To: "bob"}), alice)
	ended := decode[event.CallEndedPayload](t, recvKind(t, bob, event.KindCallEnded))
	assert.Equal(t, "alice", ended.From)
}

func TestCallSignalRequiresTarget(t *testing.T) {
	h, _, _ := newTestHub(t)

	alice := connect(h, "alice", "Alice")
	drain(alice)

	h.handleEvent(clientEvent(t, event.KindCallInitiate, event.CallSignalPayload{CallType: event.CallTypeAudio}), alice)

	errEv := decode[event.ErrorPayload](t, recvKind(t, alice, event.KindError))
	assert.Equal(t, "bad_payload", errEv.Code)
}

func TestCallToUnreachableTargetIsSilent(t *testing.T) {
	h, _, _ := newTestHub(t)

	alice := connect(h, "alice", "Alice")
	drain(alice)

	// nobody named carol anywhere; the caller gets no error and applies
	// its own ring timeout
	h.handleEvent(clientEvent(t, event.KindCallInitiate, event.CallSignalPayload{
		To:       "carol",
		CallType: event.CallTypeAudio,
	}), alice)

	assertSilent(t, alice)
}

// ----------------------------------------------------------------------------
// teardown
// ----------------------------------------------------------------------------

func TestStopIsIdempotent(t *testing.T) {
	b := bridge.NewLocal()
	presence := NewPresenceTracker(&fakeUsers{}, b, zap.NewNop())
	h := NewHub(&fakeMessages{}, presence, b, nil, zap.NewNop())
	require.NoError(t, b.Start(context.Background(), h))

	connect(h, "alice", "Alice")

	// the shutdown sequence and the container teardown both stop the hub
	h.Stop()
	h.Stop()
}

func TestConcurrentTrySendAndCloseDoNotRace(t *testing.T) {
	h, _, _ := newTestHub(t)

	for i := 0; i < 50; i++ {
		c := connect(h, "alice", "Alice")
		ev := clientEvent(t, event.KindNewMessage, map[string]string{"content": "x"})

		var wg sync.WaitGroup
		for s := 0; s < 4; s++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					c.trySend(ev, time.Millisecond)
				}
			}()
		}
		c.Close()
		wg.Wait()

		assert.False(t, c.trySend(ev, time.Millisecond), "closed client must refuse sends")
		h.removeClient(c)
	}
}
