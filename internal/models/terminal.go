package models

import (
	"time"
)

// TerminalStatus represents the liveness a terminal reports in its heartbeat
type TerminalStatus string

const (
	TerminalOnline  TerminalStatus = "online"
	TerminalOffline TerminalStatus = "offline"
)

// HeartbeatMessage is the liveness ping a connected terminal publishes
type HeartbeatMessage struct {
	OutletID      string         `json:"outlet_id"`
	StaffID       string         `json:"staff_id"`
	ClientType    string         `json:"client_type"`
	Status        TerminalStatus `json:"status"`
	PendingOrders int            `json:"pending_orders"`
	Timestamp     time.Time      `json:"timestamp"`
}

// IsStale reports whether a heartbeat is older than two intervals, the
// point at which the backend should treat the terminal as gone.
func (h HeartbeatMessage) IsStale(now time.Time, interval time.Duration) bool {
	if h.Status == TerminalOffline {
		return true
	}
	return now.Sub(h.Timestamp) > 2*interval
}

// TerminalStatusResponse is one row of the backend's terminal overview
type TerminalStatusResponse struct {
	OutletID      string         `json:"outlet_id"`
	StaffID       string         `json:"staff_id"`
	ClientType    string         `json:"client_type"`
	Status        TerminalStatus `json:"status"`
	PendingOrders int            `json:"pending_orders"`
	LastSeen      time.Time      `json:"last_seen"`
}
