package push

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/require"

	"github.com/connectly/internal/model"
)

type memSubs struct {
	mu   sync.Mutex
	subs map[string][]Subscription
}

func (m *memSubs) ListByUser(_ context.Context, userID string) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Subscription(nil), m.subs[userID]...), nil
}

func (m *memSubs) Delete(_ context.Context, userID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.subs[userID][:0]
	for _, s := range m.subs[userID] {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	m.subs[userID] = kept
	return nil
}

type onlineSet map[string]bool

func (o onlineSet) IsOnline(_ context.Context, userID string) bool { return o[userID] }

type sent struct {
	endpoint string
	payload  Payload
}

func newTestNotifier(online onlineSet, status int) (*Notifier, *memSubs, *[]sent) {
	store := &memSubs{subs: map[string][]Subscription{
		"u2": {
			{Endpoint: "https://push.example/live", Keys: Keys{P256dh: "p", Auth: "a"}},
			{Endpoint: "https://push.example/gone", Keys: Keys{P256dh: "p", Auth: "a"}},
		},
	}}
	n := NewNotifier(store, online, &VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}, "mailto:ops@example.com")
	var out []sent
	n.send = func(_ context.Context, body []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
		var p Payload
		_ = json.Unmarshal(body, &p)
		out = append(out, sent{endpoint: sub.Endpoint, payload: p})
		code := status
		if strings.HasSuffix(sub.Endpoint, "/gone") {
			code = http.StatusGone
		}
		return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	return n, store, &out
}

func TestMessageCreatedNotifiesOfflinePeer(t *testing.T) {
	req := require.New(t)
	n, store, out := newTestNotifier(onlineSet{}, http.StatusCreated)
	chat := model.Chat{ID: "c1", Members: model.PairOf("u1", "u2")}
	msg := model.Message{ID: "m1", ChatID: "c1", SenderID: "u1", Text: "hello"}

	n.MessageCreated(context.Background(), chat, msg)

	req.Len(*out, 2)
	req.Equal("hello", (*out)[0].payload.Body)
	req.Equal("c1", (*out)[0].payload.Data["chatId"])

	left, _ := store.ListByUser(context.Background(), "u2")
	req.Len(left, 1, "gone subscription is removed")
	req.Equal("https://push.example/live", left[0].Endpoint)
}

func TestMessageCreatedSkipsOnlinePeer(t *testing.T) {
	n, _, out := newTestNotifier(onlineSet{"u2": true}, http.StatusCreated)
	chat := model.Chat{ID: "c1", Members: model.PairOf("u1", "u2")}
	n.MessageCreated(context.Background(), chat, model.Message{ChatID: "c1", SenderID: "u1", Text: "hi"})
	require.Empty(t, *out)
}

func TestDisabledNotifierIsNoop(t *testing.T) {
	n := NewNotifier(&memSubs{}, onlineSet{}, nil, "")
	require.False(t, n.Enabled())
	n.MessageCreated(context.Background(), model.Chat{Members: model.PairOf("a", "b")}, model.Message{SenderID: "a"})
}

func TestPreview(t *testing.T) {
	require.Equal(t, "📎 cat.png", preview(model.Message{Attachments: []model.Attachment{{Name: "cat.png"}}}))
	long := strings.Repeat("я", previewLen+5)
	require.Equal(t, strings.Repeat("я", previewLen)+"…", preview(model.Message{Text: long}))
}
