package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/connectly/internal/model"
	"github.com/connectly/internal/presence"
	"github.com/connectly/internal/storage"
	"github.com/connectly/internal/storage/memory"
)

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestHub(opts Options) (*Hub, *presence.Registry) {
	reg := presence.NewRegistry(memory.New())
	return NewHub(reg, opts), reg
}

// connect registers a connection without a socket; frames are read from c.send.
func connect(t *testing.T, h *Hub, userID string) *Client {
	t.Helper()
	c := NewClient(h, nil, userID)
	require.NoError(t, h.Register(context.Background(), c))
	return c
}

func recv(t *testing.T, c *Client) received {
	t.Helper()
	select {
	case data := <-c.send:
		var r received
		require.NoError(t, json.Unmarshal(data, &r))
		return r
	case <-time.After(time.Second):
		t.Fatalf("no frame for user=%s", c.userID)
		return received{}
	}
}

func expectNone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected frame for user=%s: %s", c.userID, data)
	default:
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func onlineIDs(t *testing.T, r received) []string {
	t.Helper()
	require.Equal(t, string(model.EventPresenceList), r.Event)
	var ids []string
	require.NoError(t, json.Unmarshal(r.Data, &ids))
	return ids
}

func TestJoinBlankRoomIsNoop(t *testing.T) {
	req := require.New(t)
	h, _ := newTestHub(Options{})
	c := connect(t, h, "u1")

	req.False(h.Join(c, "   "))
	req.False(h.Join(c, ""))
	req.False(h.Leave(c, " "))
	req.Equal(0, h.RoomSize(""))
	req.Equal(1, h.RoomSize(model.UserRoom("u1")), "personal room is joined on register")

	req.True(h.Join(c, " c1 "))
	req.Equal(1, h.RoomSize("c1"))
}

func TestEmitReachesOnlySubscribersAtCallTime(t *testing.T) {
	req := require.New(t)
	h, _ := newTestHub(Options{})
	a := connect(t, h, "u1")
	b := connect(t, h, "u2")
	drain(a)
	drain(b)

	h.Join(a, "c1")
	h.Emit("c1", model.EventTyping, model.Typing{ChatID: "c1", UserID: "u1"})
	req.Equal(string(model.EventTyping), recv(t, a).Event)

	h.Join(b, "c1")
	expectNone(t, b)

	h.Emit("c1", model.EventChatSeen, model.ChatSeen{ChatID: "c1", UserID: "u2"})
	req.Equal(string(model.EventChatSeen), recv(t, a).Event)
	req.Equal(string(model.EventChatSeen), recv(t, b).Event)

	h.Leave(b, "c1")
	h.Emit("c1", model.EventChatSeen, model.ChatSeen{ChatID: "c1", UserID: "u2"})
	recv(t, a)
	expectNone(t, b)
}

func TestEmitExceptSkipsOriginConnection(t *testing.T) {
	h, _ := newTestHub(Options{})
	a1 := connect(t, h, "u1")
	a2 := connect(t, h, "u1")
	b := connect(t, h, "u2")
	for _, c := range []*Client{a1, a2, b} {
		drain(c)
		h.Join(c, "c1")
	}

	h.EmitExcept("c1", a1.id, model.EventTyping, model.Typing{ChatID: "c1", UserID: "u1", IsTyping: true})
	expectNone(t, a1)
	recv(t, a2)
	r := recv(t, b)

	var payload model.Typing
	require.NoError(t, json.Unmarshal(r.Data, &payload))
	require.Equal(t, model.Typing{ChatID: "c1", UserID: "u1", IsTyping: true}, payload)
}

func TestPresenceBroadcastsOnlyOnTransitions(t *testing.T) {
	req := require.New(t)
	h, reg := newTestHub(Options{})
	observer := connect(t, h, "obs")
	req.Equal([]string{"obs"}, onlineIDs(t, recv(t, observer)))

	first := connect(t, h, "u1")
	req.Equal([]string{"obs", "u1"}, onlineIDs(t, recv(t, observer)))
	req.Equal([]string{"obs", "u1"}, onlineIDs(t, recv(t, first)))

	second := connect(t, h, "u1")
	expectNone(t, observer)
	req.Equal([]string{"obs", "u1"}, onlineIDs(t, recv(t, second)), "late connection gets the current set")

	h.Unregister(first)
	expectNone(t, observer)
	req.True(reg.IsOnline(context.Background(), "u1"))

	h.Unregister(second)
	req.Equal([]string{"obs"}, onlineIDs(t, recv(t, observer)))
	req.False(reg.IsOnline(context.Background(), "u1"))

	h.Unregister(second)
	expectNone(t, observer)
}

func TestPresenceFramesEndOnFinalState(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h, reg := newTestHub(Options{SendBuffer: 1024})
	observer := connect(t, h, "obs")
	drain(observer)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(h, nil, "u1")
			if err := h.Register(ctx, c); err != nil {
				t.Error(err)
				return
			}
			if i%10 != 0 {
				h.Unregister(c)
			}
		}()
	}
	wg.Wait()

	var last []string
	for len(observer.send) > 0 {
		last = onlineIDs(t, recv(t, observer))
	}
	want, err := reg.ListOnline(ctx)
	req.NoError(err)
	req.Equal([]string{"obs", "u1"}, want)
	req.Equal(want, last, "last presence frame must match the online set")
}

type flakyStore struct {
	storage.PresenceStore
	failIncr bool
}

func (f *flakyStore) Incr(ctx context.Context, userID string) (int64, error) {
	if f.failIncr {
		return 0, errors.New("redis: connection refused")
	}
	return f.PresenceStore.Incr(ctx, userID)
}

func TestRegisterRejectsWhenPresenceFails(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := &flakyStore{PresenceStore: memory.New()}
	reg := presence.NewRegistry(store)
	h := NewHub(reg, Options{})
	observer := connect(t, h, "obs")
	drain(observer)

	store.failIncr = true
	c := NewClient(h, nil, "u1")
	req.ErrorIs(h.Register(ctx, c), ErrPresenceFailed)
	req.Equal(1, h.ConnectionCount())
	req.Equal(0, h.RoomSize(model.UserRoom("u1")))

	h.Unregister(c)
	expectNone(t, observer)
	online, err := reg.ListOnline(ctx)
	req.NoError(err)
	req.Equal([]string{"obs"}, online)
}

func TestUnregisterLeavesEveryRoom(t *testing.T) {
	req := require.New(t)
	h, _ := newTestHub(Options{})
	c := connect(t, h, "u1")
	h.Join(c, "c1")
	h.Join(c, "c2")

	h.Unregister(c)
	req.Equal(0, h.RoomSize("c1"))
	req.Equal(0, h.RoomSize("c2"))
	req.Equal(0, h.RoomSize(model.UserRoom("u1")))
	req.Equal(0, h.ConnectionCount())
	req.False(h.Join(c, "c3"))
}

func TestSlowClientIsDisconnected(t *testing.T) {
	h, _ := newTestHub(Options{SendBuffer: 1})
	slow := connect(t, h, "u1") // presence frame fills the buffer
	h.Join(slow, "c1")

	h.Emit("c1", model.EventChatSeen, model.ChatSeen{ChatID: "c1", UserID: "u2"})
	select {
	case <-slow.done:
	case <-time.After(time.Second):
		t.Fatal("slow client was not closed")
	}
}

func TestConnectionLimit(t *testing.T) {
	req := require.New(t)
	h, reg := newTestHub(Options{MaxConns: 1})
	connect(t, h, "u1")
	req.True(h.Full())

	err := h.Register(context.Background(), NewClient(h, nil, "u2"))
	req.ErrorIs(err, ErrTooManyConnections)
	req.False(reg.IsOnline(context.Background(), "u2"))
}

type typingCall struct {
	chatID, userID, exclude string
	isTyping                bool
}

type fakeCommands struct {
	mu      sync.Mutex
	typing  []typingCall
	seen    []string
	members map[string]bool
}

func (f *fakeCommands) SetTyping(chatID, userID string, isTyping bool, exclude string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typingCall{chatID, userID, exclude, isTyping})
}

func (f *fakeCommands) MarkSeen(_ context.Context, chatID, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, chatID+"/"+userID)
	return 0, nil
}

func (f *fakeCommands) IsMember(_ context.Context, chatID, _ string) (bool, error) {
	return f.members[chatID], nil
}

func TestHandleFrameDispatchesCommands(t *testing.T) {
	req := require.New(t)
	h, _ := newTestHub(Options{})
	cmds := &fakeCommands{}
	h.SetCommandHandlers(cmds, cmds, cmds)
	c := connect(t, h, "u1")
	ctx := context.Background()

	h.HandleFrame(ctx, c, []byte(`{"event":"join_chat","data":" c1 "}`))
	h.HandleFrame(ctx, c, []byte(`{"event":"join_chat","data":{"chatId":"c2"}}`))
	h.HandleFrame(ctx, c, []byte(`{"event":"join_chat","data":"   "}`))
	req.Equal(1, h.RoomSize("c1"))
	req.Equal(1, h.RoomSize("c2"))

	h.HandleFrame(ctx, c, []byte(`{"event":"leave_chat","data":"c2"}`))
	req.Equal(0, h.RoomSize("c2"))

	h.HandleFrame(ctx, c, []byte(`{"event":"join_chat","data":"user:u2"}`))
	h.HandleFrame(ctx, c, []byte(`{"event":"leave_chat","data":"user:u1"}`))
	req.Equal(0, h.RoomSize(model.UserRoom("u2")), "personal rooms cannot be joined")
	req.Equal(1, h.RoomSize(model.UserRoom("u1")), "personal room cannot be left")

	h.HandleFrame(ctx, c, []byte(`{"event":"typing","data":{"chatId":"c1","isTyping":true}}`))
	h.HandleFrame(ctx, c, []byte(`{"event":"chat:seen","data":{"chatId":"c1"}}`))
	h.HandleFrame(ctx, c, []byte(`not json`))
	h.HandleFrame(ctx, c, []byte(`{"event":"dance","data":1}`))

	req.Equal([]typingCall{{chatID: "c1", userID: "u1", exclude: c.id, isTyping: true}}, cmds.typing)
	req.Equal([]string{"c1/u1"}, cmds.seen)
}

func TestVerifyJoinMembership(t *testing.T) {
	req := require.New(t)
	h, _ := newTestHub(Options{VerifyJoinMembership: true})
	cmds := &fakeCommands{members: map[string]bool{"mine": true}}
	h.SetCommandHandlers(cmds, cmds, cmds)
	c := connect(t, h, "u1")
	ctx := context.Background()

	h.HandleFrame(ctx, c, []byte(`{"event":"join_chat","data":"mine"}`))
	h.HandleFrame(ctx, c, []byte(`{"event":"join_chat","data":"theirs"}`))
	req.Equal(1, h.RoomSize("mine"))
	req.Equal(0, h.RoomSize("theirs"))

	h.HandleFrame(ctx, c, []byte(`{"event":"typing","data":{"chatId":"theirs","isTyping":true}}`))
	req.Empty(cmds.typing)
}

func TestRunShutdownClosesEverything(t *testing.T) {
	req := require.New(t)
	h, reg := newTestHub(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	a := connect(t, h, "u1")
	b := connect(t, h, "u2")
	cancel()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	for _, c := range []*Client{a, b} {
		select {
		case <-c.done:
		default:
			t.Fatalf("client %s still open", c.userID)
		}
	}
	online, err := reg.ListOnline(context.Background())
	req.NoError(err)
	req.Empty(online)
	req.ErrorIs(h.Register(context.Background(), NewClient(h, nil, "u3")), ErrHubClosed)
}
