// Package hub fans order status updates out to subscribed observers.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/model"
)

// Transport is one live observer connection. Send must be safe to call
// from multiple worker slots; implementations own any per-connection
// write serialization.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// StatusUpdate is the wire message pushed on every order transition.
type StatusUpdate struct {
	Type      string       `json:"type"`
	OrderID   string       `json:"orderId"`
	Status    model.Status `json:"status"`
	Order     *model.Order `json:"order"`
	Timestamp string       `json:"timestamp"`
}

const messageTypeStatusUpdate = "status_update"

// Hub keeps the observer registry and the per-order subscription
// index. One mutex guards all three maps so subscribe/publish pairs
// can never reorder against each other.
type Hub struct {
	mu       sync.Mutex
	conns    map[string]Transport
	subs     map[string]map[string]struct{} // orderID -> connIDs
	connSubs map[string]map[string]struct{} // connID -> orderIDs

	onSend func(delivered bool)
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		conns:    make(map[string]Transport),
		subs:     make(map[string]map[string]struct{}),
		connSubs: make(map[string]map[string]struct{}),
	}
}

// OnSend installs a delivery callback used for metrics. Must be set
// before the hub is shared.
func (h *Hub) OnSend(fn func(delivered bool)) {
	h.onSend = fn
}

// Register adds an observer connection. Safe to call concurrently with
// publishes in flight.
func (h *Hub) Register(connID string, transport Transport) {
	h.mu.Lock()
	h.conns[connID] = transport
	h.mu.Unlock()
}

// Subscribe adds the connection to the order's subscriber set. The
// connection does not need to be registered yet; a subscription for an
// unknown connection is simply never delivered to.
func (h *Hub) Subscribe(connID, orderID string) {
	h.mu.Lock()
	if h.subs[orderID] == nil {
		h.subs[orderID] = make(map[string]struct{})
	}
	h.subs[orderID][connID] = struct{}{}
	if h.connSubs[connID] == nil {
		h.connSubs[connID] = make(map[string]struct{})
	}
	h.connSubs[connID][orderID] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes the connection from the registry and from every
// order it subscribed to. Idempotent; invoked on transport close or
// error.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	transport := h.conns[connID]
	delete(h.conns, connID)
	for orderID := range h.connSubs[connID] {
		if set := h.subs[orderID]; set != nil {
			delete(set, connID)
			if len(set) == 0 {
				delete(h.subs, orderID)
			}
		}
	}
	delete(h.connSubs, connID)
	h.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
}

// Observers returns the number of registered connections.
func (h *Hub) Observers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Subscribers returns the number of connections subscribed to the
// order id.
func (h *Hub) Subscribers(orderID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[orderID])
}

// Publish sends a status_update for the order snapshot to every
// subscribed, still-registered connection. Sends happen outside the
// lock; a connection that errors is unregistered as a side effect and
// never blocks delivery to the others.
func (h *Hub) Publish(order *model.Order) {
	msg := StatusUpdate{
		Type:      messageTypeStatusUpdate,
		OrderID:   order.ID,
		Status:    order.Status,
		Order:     order,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logs.Errorf("marshal status update for order %s, err: %+v", order.ID, err)
		return
	}

	type target struct {
		connID    string
		transport Transport
	}
	h.mu.Lock()
	targets := make([]target, 0, len(h.subs[order.ID]))
	for connID := range h.subs[order.ID] {
		if transport, ok := h.conns[connID]; ok {
			targets = append(targets, target{connID: connID, transport: transport})
		}
	}
	h.mu.Unlock()

	for _, tgt := range targets {
		if err := tgt.transport.Send(data); err != nil {
			logs.Warnf("drop observer %s, err: %+v", tgt.connID, err)
			h.Unregister(tgt.connID)
			if h.onSend != nil {
				h.onSend(false)
			}
			continue
		}
		if h.onSend != nil {
			h.onSend(true)
		}
	}
}
