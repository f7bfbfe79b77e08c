package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"main/internal/hub"
)

const wsWriteTimeout = 10 * time.Second

// WSUpgrader accepts observer connections and feeds subscriptions to
// the hub.
type WSUpgrader struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

// NewWSUpgrader builds the websocket endpoint handler.
func NewWSUpgrader(h *hub.Hub) *WSUpgrader {
	return &WSUpgrader{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Observers are read-only dashboards; any origin may attach.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// subscribeMessage is the only inbound frame the endpoint understands.
type subscribeMessage struct {
	Type    string `json:"type"`
	OrderID string `json:"orderId"`
}

func (u *WSUpgrader) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warnf("websocket upgrade failed, err: %+v", err)
		return
	}

	connID := uuid.NewString()
	u.hub.Register(connID, newConnTransport(conn))
	defer u.hub.Unregister(connID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg subscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "subscribe" && msg.OrderID != "" {
			u.hub.Subscribe(connID, msg.OrderID)
		}
	}
}

// connTransport adapts a gorilla connection to the hub's Transport.
// Writes are serialized; gorilla allows at most one concurrent writer.
type connTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newConnTransport(conn *websocket.Conn) *connTransport {
	return &connTransport{conn: conn}
}

func (t *connTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *connTransport) Close() error {
	return t.conn.Close()
}
