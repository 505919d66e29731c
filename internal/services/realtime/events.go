package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the closed set of application events listeners can
// register for. Wire names never leave this package.
type EventType string

const (
	EventConnection         EventType = "connection"
	EventOrderCreated       EventType = "order-created"
	EventOrderUpdated       EventType = "order-updated"
	EventOrderStatusChanged EventType = "order-status-changed"
	EventTableStatusChanged EventType = "table-status-changed"
	EventKitchenOrderReady  EventType = "kitchen-order-ready"
	EventInventoryLowStock  EventType = "inventory-low-stock"
	EventPaymentCompleted   EventType = "payment-completed"
)

// wireNames maps events to the names used on the event channel.
// EventConnection is local and has no wire name.
var wireNames = map[EventType]string{
	EventOrderCreated:       "order:created",
	EventOrderUpdated:       "order:updated",
	EventOrderStatusChanged: "order:status_changed",
	EventTableStatusChanged: "table:status_changed",
	EventKitchenOrderReady:  "kitchen:order_ready",
	EventInventoryLowStock:  "inventory:low_stock",
	EventPaymentCompleted:   "payment:completed",
}

var eventsByWireName = func() map[string]EventType {
	m := make(map[string]EventType, len(wireNames))
	for ev, name := range wireNames {
		m[name] = ev
	}
	return m
}()

// PingName is the wire name of the terminal heartbeat
const PingName = "ping"

// WireName returns the channel name for ev
func WireName(ev EventType) (string, bool) {
	name, ok := wireNames[ev]
	return name, ok
}

// EventForWireName translates an inbound wire name. Unknown names are
// reported as not ok and must be dropped.
func EventForWireName(name string) (EventType, bool) {
	ev, ok := eventsByWireName[name]
	return ev, ok
}

// Valid reports whether ev is one of the known event types
func (ev EventType) Valid() bool {
	if ev == EventConnection {
		return true
	}
	_, ok := wireNames[ev]
	return ok
}

// Connection statuses carried by EventConnection
const (
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusReconnecting = "reconnecting"
	StatusDisconnected = "disconnected"
	StatusFailed       = "failed"
)

// ConnectionEvent describes a hub state transition or a failed attempt
type ConnectionEvent struct {
	Status   string `json:"status"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Event is what listeners receive
type Event struct {
	Type       EventType
	Payload    json.RawMessage
	Connection *ConnectionEvent
	ReceivedAt time.Time
}

// Decode unmarshals the event payload into v
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Handler processes one event. A returned error is logged by the hub.
type Handler func(Event) error

// ListenerID identifies a registration for Off
type ListenerID uint64
