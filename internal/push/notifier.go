package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/connectly/internal/logger"
	"github.com/connectly/internal/model"
)

// Subscription: подписка из браузера (PushManager.subscribe()).
type Subscription struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     Keys   `json:"keys" validate:"required"`
}

type Keys struct {
	P256dh string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}

// SubscriptionStore: хранилище подписок (repository.PushSubscriptionRepository).
type SubscriptionStore interface {
	ListByUser(ctx context.Context, userID string) ([]Subscription, error)
	Delete(ctx context.Context, userID, endpoint string) error
}

// OnlineChecker: пользователю с открытым сокетом пуш не нужен.
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID string) bool
}

type sendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// Payload: то, что получает service worker.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

const (
	notifyTimeout = 10 * time.Second
	previewLen    = 120
)

// Notifier отправляет Web Push офлайн-участникам чата о новых сообщениях.
type Notifier struct {
	store  SubscriptionStore
	online OnlineChecker
	opts   *webpush.Options
	send   sendFunc
}

// NewNotifier создаёт отправителя. keys == nil: пуши отключены, Notifier ничего не делает.
func NewNotifier(store SubscriptionStore, online OnlineChecker, keys *VAPIDKeys, subject string) *Notifier {
	n := &Notifier{store: store, online: online, send: webpush.SendNotificationWithContext}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		n.opts = &webpush.Options{
			Subscriber:      subject,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return n
}

func (n *Notifier) Enabled() bool { return n.opts != nil }

// MessageCreated уведомляет собеседника отправителя, если он не в сети.
func (n *Notifier) MessageCreated(ctx context.Context, chat model.Chat, msg model.Message) {
	if !n.Enabled() {
		return
	}
	peer := chat.Peer(msg.SenderID)
	if peer == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if n.online != nil && n.online.IsOnline(ctx, peer) {
		return
	}
	n.Notify(ctx, peer, Payload{
		Title: "New message",
		Body:  preview(msg),
		Data:  map[string]string{"chatId": msg.ChatID, "messageId": msg.ID},
	})
}

// Notify отправляет пуш на все подписки пользователя; протухшие (404/410) удаляются.
func (n *Notifier) Notify(ctx context.Context, userID string, p Payload) {
	if !n.Enabled() {
		return
	}
	subs, err := n.store.ListByUser(ctx, userID)
	if err != nil {
		logger.Errorf("push list subscriptions user=%s: %v", userID, err)
		return
	}
	body, err := json.Marshal(p)
	if err != nil {
		logger.Errorf("push encode: %v", err)
		return
	}
	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := n.send(ctx, body, wpSub, n.opts)
		if err != nil {
			logger.Errorf("push send %s: %v", sub.Endpoint[:min(50, len(sub.Endpoint))], err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			if err := n.store.Delete(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push remove stale subscription user=%s: %v", userID, err)
			}
		}
	}
}

func preview(msg model.Message) string {
	if msg.Text == "" {
		if len(msg.Attachments) > 0 {
			return "📎 " + msg.Attachments[0].Name
		}
		return ""
	}
	r := []rune(msg.Text)
	if len(r) > previewLen {
		return string(r[:previewLen]) + "…"
	}
	return msg.Text
}
