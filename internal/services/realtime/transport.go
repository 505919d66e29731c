package realtime

import (
	"context"
	"encoding/json"
)

// Handshake is the identity a terminal presents when opening a session
type Handshake struct {
	Token      string
	OutletID   string
	StaffID    string
	ClientType string
}

// Message is a named payload on the event channel
type Message struct {
	Name string
	Body json.RawMessage
}

// Transport opens sessions on the event channel. A Dial is a single
// attempt; retrying is the hub's job.
type Transport interface {
	Dial(ctx context.Context, hs Handshake) (Session, error)
}

// Session is one live connection.
type Session interface {
	// Messages delivers inbound messages in arrival order. It is closed
	// when the connection drops or the session is closed.
	Messages() <-chan Message
	// Subscribe starts delivery of the given wire names.
	Subscribe(names ...string) error
	Publish(ctx context.Context, msg Message) error
	Close() error
}
