package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/connectly/internal/logger"
	"github.com/connectly/internal/model"
	"github.com/connectly/internal/presence"
)

var (
	ErrTooManyConnections = errors.New("connection limit reached")
	ErrHubClosed          = errors.New("hub is shut down")
	ErrPresenceFailed     = errors.New("presence unavailable")
)

const storeTimeout = 5 * time.Second

// TypingRelay forwards typing indicators; implemented by service.TypingCoordinator.
type TypingRelay interface {
	SetTyping(chatID, userID string, isTyping bool, excludeConnID string)
}

// SeenMarker records seen receipts; implemented by service.MessageLifecycle.
type SeenMarker interface {
	MarkSeen(ctx context.Context, chatID, callerID string) (int64, error)
}

// MembershipChecker gates join_chat when VerifyJoinMembership is on.
type MembershipChecker interface {
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}

type Options struct {
	MaxConns       int
	SendBuffer     int
	PongWait       time.Duration
	MaxMessageSize int64
	// VerifyJoinMembership rejects join_chat and typing for chats the user is not a member of.
	VerifyJoinMembership bool
}

func (o Options) withDefaults() Options {
	if o.MaxConns <= 0 {
		o.MaxConns = 10000
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	return o
}

// Hub is the room manager and event broadcaster of one process.
// rooms maps a room id (chat id or user id) to its connections; joined is the
// reverse index used for teardown. Both are guarded by mu; no I/O happens under it.
//
// presenceMu orders presence changes: the counter update, the online snapshot
// and the enqueue of its frame happen as one step, so the last presence:list a
// client receives matches the final online set. Lock order is presenceMu, then mu.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	joined map[*Client]map[string]struct{}
	closed bool

	presenceMu sync.Mutex

	opts     Options
	presence *presence.Registry
	typing   TypingRelay
	seen     SeenMarker
	members  MembershipChecker
	done     chan struct{}
}

func NewHub(reg *presence.Registry, opts Options) *Hub {
	return &Hub{
		rooms:    make(map[string]map[*Client]struct{}),
		joined:   make(map[*Client]map[string]struct{}),
		opts:     opts.withDefaults(),
		presence: reg,
		done:     make(chan struct{}),
	}
}

// SetCommandHandlers wires the services that handle client commands.
// The hub is built first because those services broadcast through it.
func (h *Hub) SetCommandHandlers(typing TypingRelay, seen SeenMarker, members MembershipChecker) {
	h.typing = typing
	h.seen = seen
	h.members = members
}

// Run blocks until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	<-ctx.Done()
	h.shutdown()
}

// Done is closed once shutdown has completed.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	h.closed = true
	allClients := make([]*Client, 0, len(h.joined))
	for c := range h.joined {
		allClients = append(allClients, c)
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.joined = make(map[*Client]map[string]struct{})
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	h.presenceMu.Lock()
	for _, c := range allClients {
		if !c.counted {
			continue
		}
		if _, err := h.presence.Disconnect(ctx, c.userID); err != nil {
			logger.Errorf("ws shutdown presence user=%s: %v", c.userID, err)
		}
	}
	h.presenceMu.Unlock()
	for _, c := range allClients {
		c.Wait()
	}
	logger.Infof("ws hub stopped, closed %d connections", len(allClients))
}

// Full reports whether a new connection would be rejected.
func (h *Hub) Full() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed || len(h.joined) >= h.opts.MaxConns
}

// Register admits c: joins its personal room and marks the user online.
// The first connection of a user announces the new online set to everyone;
// later connections only receive the current set. If presence cannot be
// recorded the client is taken out again and ErrPresenceFailed is returned.
func (h *Hub) Register(ctx context.Context, c *Client) error {
	defer logger.DeferLogDuration("ws.Register", time.Now())()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	if len(h.joined) >= h.opts.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.opts.MaxConns, c.userID)
		return ErrTooManyConnections
	}
	h.joined[c] = make(map[string]struct{}, 4)
	h.joinLocked(c, model.UserRoom(c.userID))
	h.mu.Unlock()

	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	becameOnline, err := h.presence.Connect(ctx, c.userID)
	if err != nil {
		logger.Errorf("ws presence connect user=%s: %v", c.userID, err)
		h.detach(c)
		return ErrPresenceFailed
	}
	c.counted = true
	h.mu.RLock()
	_, admitted := h.joined[c]
	h.mu.RUnlock()
	if !admitted {
		// shut down while connecting
		if _, err := h.presence.Disconnect(ctx, c.userID); err != nil {
			logger.Errorf("ws presence disconnect user=%s: %v", c.userID, err)
		}
		c.counted = false
		return ErrHubClosed
	}
	if becameOnline {
		h.broadcastPresence(ctx)
	} else {
		h.sendPresenceTo(ctx, c)
	}
	return nil
}

// Unregister removes c from every room and releases its presence slot.
// Idempotent: only the first call for a registered client has an effect.
func (h *Hub) Unregister(c *Client) {
	if !h.detach(c) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	// a connection whose Register failed holds no slot
	if !c.counted {
		return
	}
	becameOffline, err := h.presence.Disconnect(ctx, c.userID)
	if err != nil {
		logger.Errorf("ws presence disconnect user=%s: %v", c.userID, err)
		return
	}
	if becameOffline {
		h.broadcastPresence(ctx)
	}
}

// detach removes c from every room. It reports false if c was not registered.
func (h *Hub) detach(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.joined[c]
	if !ok {
		return false
	}
	for room := range rooms {
		h.removeFromRoomLocked(c, room)
	}
	delete(h.joined, c)
	return true
}

// Join subscribes c to room. A blank id or an unregistered client is a no-op.
func (h *Hub) Join(c *Client, room string) bool {
	room = strings.TrimSpace(room)
	if room == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.joined[c]; !ok {
		return false
	}
	h.joinLocked(c, room)
	return true
}

func (h *Hub) Leave(c *Client, room string) bool {
	room = strings.TrimSpace(room)
	if room == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.joined[c][room]; !ok {
		return false
	}
	h.removeFromRoomLocked(c, room)
	delete(h.joined[c], room)
	return true
}

func (h *Hub) joinLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.joined[c][room] = struct{}{}
}

func (h *Hub) removeFromRoomLocked(c *Client, room string) {
	members := h.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) inRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.joined[c][room]
	return ok
}

// RoomSize returns the number of connections currently in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.joined)
}

// Emit delivers event to every connection subscribed to room at call time.
func (h *Hub) Emit(room string, event model.EventType, payload any) {
	h.emit(room, "", event, payload)
}

// EmitExcept is Emit without the connection identified by excludeConnID.
func (h *Hub) EmitExcept(room, excludeConnID string, event model.EventType, payload any) {
	h.emit(room, excludeConnID, event, payload)
}

// EmitAll delivers event to every connection of this process.
func (h *Hub) EmitAll(event model.EventType, payload any) {
	data, err := encodeFrame(event, payload)
	if err != nil {
		logger.Errorf("ws encode %s: %v", event, err)
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.joined))
	for c := range h.joined {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, data)
	}
}

func (h *Hub) emit(room, excludeConnID string, event model.EventType, payload any) {
	defer logger.DeferLogDuration("ws.Emit", time.Now())()
	data, err := encodeFrame(event, payload)
	if err != nil {
		logger.Errorf("ws encode %s: %v", event, err)
		return
	}
	h.mu.RLock()
	members := h.rooms[strings.TrimSpace(room)]
	targets := make([]*Client, 0, len(members))
	for c := range members {
		if c.id != excludeConnID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, data)
	}
}

func (h *Hub) sendToClient(c *Client, data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Warnf("ws send buffer full, closing slow client user=%s conn=%s", c.userID, c.id)
		c.Close()
	}
}

func (h *Hub) onlineFrame(ctx context.Context) ([]byte, bool) {
	ids, err := h.presence.ListOnline(ctx)
	if err != nil {
		logger.Errorf("ws presence list: %v", err)
		return nil, false
	}
	data, err := encodeFrame(model.EventPresenceList, ids)
	if err != nil {
		logger.Errorf("ws encode presence: %v", err)
		return nil, false
	}
	return data, true
}

func (h *Hub) broadcastPresence(ctx context.Context) {
	ids, err := h.presence.ListOnline(ctx)
	if err != nil {
		logger.Errorf("ws presence list: %v", err)
		return
	}
	h.EmitAll(model.EventPresenceList, ids)
}

func (h *Hub) sendPresenceTo(ctx context.Context, c *Client) {
	if data, ok := h.onlineFrame(ctx); ok {
		h.sendToClient(c, data)
	}
}

// HandleFrame dispatches one client command. Commands are fire-and-forget:
// malformed or unknown frames are logged and dropped.
func (h *Hub) HandleFrame(ctx context.Context, c *Client, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		logger.Warnf("ws malformed frame user=%s: %v", c.userID, err)
		return
	}
	switch f.Event {
	case CmdJoinChat:
		h.handleJoin(ctx, c, chatIDFrom(f.Data))
	case CmdLeaveChat:
		if room := chatIDFrom(f.Data); !strings.HasPrefix(room, model.UserRoomPrefix) {
			h.Leave(c, room)
		}
	case CmdTyping:
		h.handleTyping(c, f.Data)
	case CmdChatSeen:
		h.handleSeen(ctx, c, chatIDFrom(f.Data))
	default:
		logger.Warnf("ws unknown event %q user=%s", f.Event, c.userID)
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, chatID string) {
	if chatID == "" {
		return
	}
	if strings.HasPrefix(chatID, model.UserRoomPrefix) {
		logger.Warnf("ws join of personal room %q rejected user=%s", chatID, c.userID)
		return
	}
	if h.opts.VerifyJoinMembership && h.members != nil {
		ctx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		ok, err := h.members.IsMember(ctx, chatID, c.userID)
		if err != nil {
			logger.Errorf("ws join membership chat=%s user=%s: %v", chatID, c.userID, err)
			return
		}
		if !ok {
			logger.Warnf("ws join rejected chat=%s user=%s: not a member", chatID, c.userID)
			return
		}
	}
	h.Join(c, chatID)
}

func (h *Hub) handleTyping(c *Client, data json.RawMessage) {
	var cmd TypingCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		logger.Warnf("ws bad typing payload user=%s: %v", c.userID, err)
		return
	}
	cmd.ChatID = strings.TrimSpace(cmd.ChatID)
	if cmd.ChatID == "" || h.typing == nil {
		return
	}
	if h.opts.VerifyJoinMembership && !h.inRoom(c, cmd.ChatID) {
		return
	}
	h.typing.SetTyping(cmd.ChatID, c.userID, cmd.IsTyping, c.id)
}

func (h *Hub) handleSeen(ctx context.Context, c *Client, chatID string) {
	if chatID == "" || h.seen == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if _, err := h.seen.MarkSeen(ctx, chatID, c.userID); err != nil {
		logger.Warnf("ws chat:seen chat=%s user=%s: %v", chatID, c.userID, err)
	}
}
