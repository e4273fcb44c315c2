package main

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ymazrouei/souqstream/server/broker"
	"github.com/ymazrouei/souqstream/server/connection"
	"github.com/ymazrouei/souqstream/server/middleware"
)

const (
	// wsWriteWait bounds a single socket write so a dead peer cannot block
	// its write pump forever.
	wsWriteWait = 5 * time.Second

	// wsReadWait is the socket-level read deadline, refreshed on every
	// inbound frame. Deliberately longer than the heartbeat timeout: the
	// application-level ping sweep is the primary eviction mechanism, the
	// read deadline is the transport backstop.
	wsReadWait = 2 * time.Minute

	wsMaxMessageSize = 8 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks belong to the upstream gateway, same as identity.
		return true
	},
}

// wsTransport adapts a gorilla conn to the connection.Transport interface.
// Send is only ever called from the connection's write pump, so no write
// lock is needed.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(f connection.Frame) error {
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteJSON(f)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// inboundFrame is what peers send over the socket.
type inboundFrame struct {
	Action         string          `json:"action"` // subscribe, unsubscribe, ping, disconnect
	ChannelID      string          `json:"channel_id,omitempty"`
	Filters        []broker.Filter `json:"filters,omitempty"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
}

// handleWS upgrades the request and runs the connection's read loop. The
// user identity arrives already resolved (header or query param via the
// identity middleware).
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	connID := uuid.NewString()
	a.manager.Add(connID, userID, &wsTransport{conn: conn})
	log.Printf("ws: connection %s opened for user %s", connID, userID)

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsReadWait))

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error on %s: %v", connID, err)
			}
			a.manager.Remove(connID)
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadWait))

		switch frame.Action {
		case "subscribe":
			if _, err := a.manager.HandleSubscribe(connID, frame.ChannelID, frame.Filters); err != nil {
				log.Printf("ws: subscribe on %s rejected: %v", connID, err)
			}
		case "unsubscribe":
			a.manager.HandleUnsubscribe(connID, frame.SubscriptionID)
		case "ping":
			a.manager.HandlePing(connID)
		case "disconnect":
			a.manager.Remove(connID)
			return
		default:
			log.Printf("ws: unknown action %q on %s", frame.Action, connID)
		}
	}
}
