package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/connectly/internal/logger"
)

// TokenVerifier turns a credential token into a user id.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// bearerProtocol is the subprotocol browsers use to pass a token: "bearer, <token>".
const bearerProtocol = "bearer"

// Gate authenticates a connection attempt before the protocol upgrade and
// admits it into the hub. A rejected attempt never touches rooms or presence.
type Gate struct {
	verifier TokenVerifier
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewGate(verifier TokenVerifier, hub *Hub, checkOrigin func(r *http.Request) bool) *Gate {
	return &Gate{
		verifier: verifier,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{bearerProtocol},
			CheckOrigin:     checkOrigin,
		},
	}
}

// TokenFromRequest looks for the token in the "token" query parameter, then the
// Authorization header, then the Sec-WebSocket-Protocol header.
func TokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	protocols := websocket.Subprotocols(r)
	if len(protocols) >= 2 && strings.EqualFold(protocols[0], bearerProtocol) {
		return protocols[1]
	}
	return ""
}

func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := TokenFromRequest(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	userID, err := g.verifier.Verify(r.Context(), token)
	if err != nil || userID == "" {
		logger.Warnf("ws handshake rejected from %s: %v", r.RemoteAddr, err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if g.hub.Full() {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade user=%s: %v", userID, err)
		return
	}

	client := NewClient(g.hub, conn, userID)
	regCtx, regCancel := context.WithTimeout(context.Background(), storeTimeout)
	err = g.hub.Register(regCtx, client)
	regCancel()
	if err != nil {
		code := websocket.CloseTryAgainLater
		if errors.Is(err, ErrHubClosed) {
			code = websocket.CloseGoingAway
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()), time.Now().Add(writeWait))
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx, cancel)
	logger.Debugf("ws connected user=%s conn=%s", userID, client.id)
}
