package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/connectly/internal/apperr"
	"github.com/connectly/internal/mocks"
	"github.com/connectly/internal/model"
	"github.com/connectly/internal/testkit"
)

type lifecycleFixture struct {
	store *testkit.Store
	bus   *mocks.MockBroadcaster
	lc    *MessageLifecycle
	at    time.Time
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := testkit.NewStore()
	store.AddUser("u1", "Alice", "alice@example.com")
	store.AddUser("u2", "Bob", "bob@example.com")
	store.AddUser("u3", "Eve", "eve@example.com")
	store.AddChat("c1", "u1", "u2")

	f := &lifecycleFixture{
		store: store,
		bus:   mocks.NewMockBroadcaster(ctrl),
		at:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.lc = NewMessageLifecycle(store, f.bus, nil)
	f.lc.clock = func() time.Time { return f.at }
	return f
}

// send creates a message from sender, accepting the new_message broadcast.
func (f *lifecycleFixture) send(t *testing.T, sender, text string) *model.Message {
	t.Helper()
	f.bus.EXPECT().Emit("c1", model.EventNewMessage, gomock.Any()).Times(1)
	msg, err := f.lc.Create(context.Background(), "c1", sender, text, nil)
	require.NoError(t, err)
	return msg
}

func TestCreateBroadcastsPersistedRecord(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	ctx := context.Background()

	var emitted any
	f.bus.EXPECT().Emit("c1", model.EventNewMessage, gomock.Any()).
		Do(func(_ string, _ model.EventType, payload any) { emitted = payload }).
		Times(1)

	msg, err := f.lc.Create(ctx, " c1 ", "u1", "  hello  ", nil)
	req.NoError(err)
	req.Equal("hello", msg.Text)

	stored, err := f.store.GetMessage(ctx, msg.ID)
	req.NoError(err)
	want, _ := json.Marshal(stored)
	got, _ := json.Marshal(emitted)
	req.JSONEq(string(want), string(got))

	chat, _ := f.store.GetChat(ctx, "c1")
	req.NotNil(chat.LastMessageID)
	req.Equal(msg.ID, *chat.LastMessageID)
	req.True(chat.UpdatedAt.Equal(f.at))
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name        string
		chatID      string
		sender      string
		text        string
		attachments []model.Attachment
		kind        error
	}{
		{"empty message", "c1", "u1", "   ", nil, apperr.ErrValidation},
		{"attachment without url", "c1", "u1", "", []model.Attachment{{Name: "a.png", Type: "image/png"}}, apperr.ErrValidation},
		{"attachment without name", "c1", "u1", "hi", []model.Attachment{{URL: "/uploads/x", Type: "image/png"}}, apperr.ErrValidation},
		{"blank chat id", " ", "u1", "hi", nil, apperr.ErrValidation},
		{"unknown chat", "nope", "u1", "hi", nil, apperr.ErrNotFound},
		{"not a member", "c1", "u3", "hi", nil, apperr.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLifecycleFixture(t)
			_, err := f.lc.Create(context.Background(), tt.chatID, tt.sender, tt.text, tt.attachments)
			require.ErrorIs(t, err, tt.kind)
			msgs, _ := f.store.ListMessages(context.Background(), "c1")
			require.Empty(t, msgs)
		})
	}
}

func TestCreateWithAttachmentOnly(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	f.bus.EXPECT().Emit("c1", model.EventNewMessage, gomock.Any()).Times(1)

	att := model.Attachment{URL: "/uploads/1.png", Name: "cat.png", Type: "image/png", Size: 42}
	msg, err := f.lc.Create(context.Background(), "c1", "u1", "", []model.Attachment{att})
	req.NoError(err)
	req.Equal("", msg.Text)
	req.Equal([]model.Attachment{att}, msg.Attachments)
}

func TestEditByNonSenderIsForbidden(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	ctx := context.Background()
	msg := f.send(t, "u1", "hi")

	_, err := f.lc.Edit(ctx, msg.ID, "u2", "hacked")
	req.ErrorIs(err, apperr.ErrForbidden)

	stored, _ := f.store.GetMessage(ctx, msg.ID)
	req.Equal("hi", stored.Text)
	req.Nil(stored.EditedAt)
}

func TestEditBroadcastsUpdate(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	ctx := context.Background()
	msg := f.send(t, "u1", "hi")

	f.at = f.at.Add(time.Minute)
	f.bus.EXPECT().Emit("c1", model.EventMessageUpdated, model.MessageUpdated{
		ChatID: "c1", MessageID: msg.ID, Text: "hi there", EditedAt: f.at,
	}).Times(1)

	edited, err := f.lc.Edit(ctx, msg.ID, "u1", " hi there ")
	req.NoError(err)
	req.Equal("hi there", edited.Text)

	_, err = f.lc.Edit(ctx, msg.ID, "u1", "   ")
	req.ErrorIs(err, apperr.ErrValidation)

	_, err = f.lc.Edit(ctx, "missing", "u1", "x")
	req.ErrorIs(err, apperr.ErrNotFound)
}

func TestDeleteTwiceConflicts(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	ctx := context.Background()
	msg := f.send(t, "u1", "secret")

	f.bus.EXPECT().Emit("c1", model.EventMessageDeleted, model.MessageDeleted{
		ChatID: "c1", MessageID: msg.ID, IsDeleted: true, DeletedAt: f.at,
	}).Times(1)

	deleted, err := f.lc.Delete(ctx, msg.ID, "u1")
	req.NoError(err)
	req.True(deleted.IsDeleted)
	req.Empty(deleted.Text)

	_, err = f.lc.Delete(ctx, msg.ID, "u1")
	req.ErrorIs(err, apperr.ErrConflict)

	_, err = f.lc.Edit(ctx, msg.ID, "u1", "back")
	req.ErrorIs(err, apperr.ErrConflict)

	stored, _ := f.store.GetMessage(ctx, msg.ID)
	req.True(stored.IsDeleted)
	req.Equal("", stored.Text)
	req.Empty(stored.Attachments)
	req.Nil(stored.EditedAt)
}

func TestMarkSeenIsIdempotentAndAlwaysEmits(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	ctx := context.Background()
	m1 := f.send(t, "u1", "one")
	m2 := f.send(t, "u1", "two")
	own := f.send(t, "u2", "mine")

	f.bus.EXPECT().Emit("c1", model.EventChatSeen, model.ChatSeen{ChatID: "c1", UserID: "u2"}).Times(2)

	n, err := f.lc.MarkSeen(ctx, "c1", "u2")
	req.NoError(err)
	req.EqualValues(2, n)

	n, err = f.lc.MarkSeen(ctx, "c1", "u2")
	req.NoError(err)
	req.Zero(n)

	for _, id := range []string{m1.ID, m2.ID} {
		stored, _ := f.store.GetMessage(ctx, id)
		req.Equal([]string{"u2"}, stored.SeenBy)
	}
	stored, _ := f.store.GetMessage(ctx, own.ID)
	req.Empty(stored.SeenBy, "sender never appears in its own seen_by")

	_, err = f.lc.MarkSeen(ctx, "c1", "u3")
	req.ErrorIs(err, apperr.ErrForbidden)
	_, err = f.lc.MarkSeen(ctx, "missing", "u2")
	req.ErrorIs(err, apperr.ErrNotFound)
}

func TestStoreFailureEmitsNothing(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	msg := f.send(t, "u1", "hi")

	f.store.FailWrites = errors.New("connection reset")
	_, err := f.lc.Create(context.Background(), "c1", "u1", "again", nil)
	req.Error(err)
	req.Equal(apperr.KindInternal, apperr.KindOf(err))

	_, err = f.lc.Delete(context.Background(), msg.ID, "u1")
	req.Error(err)
	// the mock controller fails the test on any unexpected Emit
}

func TestHardDeleteRepointsLastMessage(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	ctx := context.Background()
	first := f.send(t, "u1", "first")
	f.at = f.at.Add(time.Second)
	second := f.send(t, "u1", "second")

	f.bus.EXPECT().Emit("c1", model.EventMessageDeleted, gomock.Any()).Times(1)

	req.ErrorIs(f.lc.HardDelete(ctx, second.ID, "u2"), apperr.ErrForbidden)
	req.NoError(f.lc.HardDelete(ctx, second.ID, "u1"))
	req.ErrorIs(f.lc.HardDelete(ctx, second.ID, "u1"), apperr.ErrNotFound)

	chat, _ := f.store.GetChat(ctx, "c1")
	req.NotNil(chat.LastMessageID)
	req.Equal(first.ID, *chat.LastMessageID)
}

func TestChatUpdatedAtNeverMovesBack(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	ctx := context.Background()
	msg := f.send(t, "u1", "hi")
	latest := f.at

	f.at = f.at.Add(-time.Hour)
	f.bus.EXPECT().Emit("c1", model.EventMessageUpdated, gomock.Any()).Times(1)
	_, err := f.lc.Edit(ctx, msg.ID, "u1", "edited")
	req.NoError(err)

	chat, _ := f.store.GetChat(ctx, "c1")
	req.True(chat.UpdatedAt.Equal(latest))
}

type notifierFunc func(ctx context.Context, chat model.Chat, msg model.Message)

func (f notifierFunc) MessageCreated(ctx context.Context, chat model.Chat, msg model.Message) {
	f(ctx, chat, msg)
}

func TestCreateNotifiesOffRequestPath(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	got := make(chan model.Message, 1)
	f.lc.notifier = notifierFunc(func(_ context.Context, _ model.Chat, msg model.Message) { got <- msg })

	msg := f.send(t, "u1", "ping")
	select {
	case n := <-got:
		req.Equal(msg.ID, n.ID)
	case <-time.After(time.Second):
		req.Fail("notifier was not called")
	}
}

func TestNotifierRunsWithDeadlineAndIsAwaited(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	release := make(chan struct{})
	var hasDeadline bool
	f.lc.notifier = notifierFunc(func(ctx context.Context, _ model.Chat, _ model.Message) {
		_, hasDeadline = ctx.Deadline()
		<-release
	})
	f.send(t, "u1", "ping")

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req.ErrorIs(f.lc.Wait(short), context.DeadlineExceeded)

	close(release)
	req.NoError(f.lc.Wait(context.Background()))
	req.True(hasDeadline)
}

func TestChatTouchFailureLeavesMessagesUntouched(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	ctx := context.Background()
	msg := f.send(t, "u1", "hi")
	before, _ := f.store.GetChat(ctx, "c1")

	f.at = f.at.Add(time.Minute)
	f.store.FailChatTouch = errors.New("connection reset")

	_, err := f.lc.Create(ctx, "c1", "u1", "again", nil)
	req.Error(err)
	msgs, _ := f.store.ListMessages(ctx, "c1")
	req.Len(msgs, 1)

	_, err = f.lc.Edit(ctx, msg.ID, "u1", "edited")
	req.Error(err)
	_, err = f.lc.Delete(ctx, msg.ID, "u1")
	req.Error(err)
	req.Error(f.lc.HardDelete(ctx, msg.ID, "u1"))

	stored, err := f.store.GetMessage(ctx, msg.ID)
	req.NoError(err)
	req.Equal("hi", stored.Text)
	req.Nil(stored.EditedAt)
	req.False(stored.IsDeleted)
	after, _ := f.store.GetChat(ctx, "c1")
	req.Equal(before, after)

	// a retry once the store recovers applies exactly once
	f.store.FailChatTouch = nil
	f.bus.EXPECT().Emit("c1", model.EventMessageDeleted, gomock.Any()).Times(1)
	_, err = f.lc.Delete(ctx, msg.ID, "u1")
	req.NoError(err)
}
