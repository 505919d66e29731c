// Package realtime is the terminal's live event hub. It owns one session
// on the event channel, reconnects with a bounded retry policy and
// dispatches inbound messages to typed listeners.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"pos-terminal/internal/logger"
	"pos-terminal/internal/metrics"
	"pos-terminal/internal/models"
)

const publishTimeout = 5 * time.Second

// State is the hub's connection state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

var allStates = []string{
	string(StateDisconnected),
	string(StateConnecting),
	string(StateConnected),
	string(StateReconnecting),
}

// Options configures identity, retry policy and heartbeat
type Options struct {
	Token             string
	ClientType        string
	HeartbeatInterval time.Duration
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	// PendingCount feeds the pending order count into heartbeats
	PendingCount func() int
}

func (o Options) withDefaults() Options {
	if o.ClientType == "" {
		o.ClientType = "pos"
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	return o
}

// backoff returns the wait before the n-th retry: BaseDelay doubled per
// retry and capped at MaxDelay.
func (o Options) backoff(n int) time.Duration {
	d := o.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= o.MaxDelay {
			return o.MaxDelay
		}
	}
	if d > o.MaxDelay {
		return o.MaxDelay
	}
	return d
}

type listener struct {
	id      ListenerID
	handler Handler
}

// Hub is safe for concurrent use. Listeners run one at a time on the
// hub's reader goroutine and must not call Disconnect or Cleanup.
type Hub struct {
	transport Transport
	opts      Options
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu         sync.Mutex
	state      State
	handshake  Handshake
	session    Session
	subscribed map[string]bool
	cancel     context.CancelFunc
	done       chan struct{}
	listeners  map[EventType][]listener
	nextID     ListenerID
}

func NewHub(transport Transport, opts Options, log *logger.Logger, m *metrics.Metrics) *Hub {
	h := &Hub{
		transport:  transport,
		opts:       opts.withDefaults(),
		logger:     log,
		metrics:    m,
		now:        time.Now,
		state:      StateDisconnected,
		subscribed: map[string]bool{},
		listeners:  map[EventType][]listener{},
	}
	m.HubState(string(StateDisconnected), allStates)
	return h
}

func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Hub) Connected() bool {
	return h.State() == StateConnected
}

// Connect starts the connection loop in the background. It is a logged
// no-op unless the hub is disconnected.
func (h *Hub) Connect(outletID, staffID string) {
	h.mu.Lock()
	if h.state != StateDisconnected {
		state := h.state
		h.mu.Unlock()
		h.logger.Warn("hub_connect_ignored", "Connect called while hub is active", "", map[string]interface{}{
			"state": state,
		})
		return
	}

	// A loop that gave up has exited but still holds its context.
	if h.cancel != nil {
		h.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.handshake = Handshake{
		Token:      h.opts.Token,
		OutletID:   outletID,
		StaffID:    staffID,
		ClientType: h.opts.ClientType,
	}
	h.cancel = cancel
	h.done = done
	h.setStateLocked(StateConnecting)
	h.mu.Unlock()

	go h.run(ctx, done)
}

// Disconnect stops the connection loop, the heartbeat and closes the
// session. Listeners stay registered. Safe to call repeatedly.
func (h *Hub) Disconnect() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	prev := h.state
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	h.mu.Lock()
	h.setStateLocked(StateDisconnected)
	h.mu.Unlock()

	if prev != StateDisconnected {
		h.logger.Info("hub_disconnected", "Event hub disconnected", "", nil)
		h.emitConnection(ConnectionEvent{Status: StatusDisconnected})
	}
}

// Cleanup disconnects and detaches every listener. Safe to call
// repeatedly.
func (h *Hub) Cleanup() {
	h.Disconnect()

	h.mu.Lock()
	h.listeners = map[EventType][]listener{}
	h.mu.Unlock()
}

// On registers fn for ev and returns an id for Off. If the hub is
// connected and nobody listened to ev before, its wire name is bound
// right away.
func (h *Hub) On(ev EventType, fn Handler) ListenerID {
	if !ev.Valid() || fn == nil {
		h.logger.Warn("hub_listener_rejected", "Ignoring listener for unknown event", "", map[string]interface{}{
			"event": ev,
		})
		return 0
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.listeners[ev] = append(h.listeners[ev], listener{id: id, handler: fn})

	var session Session
	name, hasWire := wireNames[ev]
	if hasWire && h.session != nil && !h.subscribed[name] {
		h.subscribed[name] = true
		session = h.session
	}
	h.mu.Unlock()

	if session != nil {
		if err := session.Subscribe(name); err != nil {
			h.logger.Error("hub_subscribe_failed", "Failed to subscribe to event", "", err, map[string]interface{}{
				"event": ev,
			})
			h.mu.Lock()
			if h.session == session {
				delete(h.subscribed, name)
			}
			h.mu.Unlock()
		}
	}
	return id
}

// Off removes a listener. It reports whether id was registered for ev.
func (h *Hub) Off(ev EventType, id ListenerID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ls := h.listeners[ev]
	for i, l := range ls {
		if l.id == id {
			h.listeners[ev] = append(ls[:i:i], ls[i+1:]...)
			return true
		}
	}
	return false
}

// NotifyOrderCreated announces an accepted order. Like every notifier it
// is best effort and does nothing unless connected.
func (h *Hub) NotifyOrderCreated(orderID string, order models.Order) {
	h.publish(EventOrderCreated, models.OrderCreatedMessage{
		OrderID:   orderID,
		ClientRef: order.ClientRef,
		OutletID:  order.OutletID,
		TableID:   order.TableID,
		Items:     order.Items,
		Total:     order.Total,
		CreatedBy: order.StaffID,
		Timestamp: h.now().UTC(),
	})
}

func (h *Hub) NotifyOrderStatusChange(orderID, oldStatus, newStatus string) {
	h.publish(EventOrderStatusChanged,
		models.CreateStatusUpdateMessage(orderID, oldStatus, newStatus, h.staffID(), nil))
}

func (h *Hub) NotifyTableStatusChange(tableID, status string) {
	h.publish(EventTableStatusChanged, models.TableStatusMessage{
		TableID:   tableID,
		Status:    status,
		ChangedBy: h.staffID(),
		Timestamp: h.now().UTC(),
	})
}

func (h *Hub) NotifyPaymentCompleted(orderID string, method models.PaymentMethod, amount float64) {
	h.publish(EventPaymentCompleted, models.PaymentCompletedMessage{
		OrderID:   orderID,
		Method:    method,
		Amount:    amount,
		Timestamp: h.now().UTC(),
	})
}

func (h *Hub) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	h.emitConnection(ConnectionEvent{Status: StatusConnecting})

	reconnecting := false
	for {
		session, attempts, err := h.dial(ctx, reconnecting)
		if ctx.Err() != nil {
			if session != nil {
				_ = session.Close()
			}
			return
		}
		if err != nil {
			h.giveUp(attempts, err)
			return
		}

		h.serve(ctx, session)
		if ctx.Err() != nil {
			return
		}

		reconnecting = true
		h.mu.Lock()
		h.setStateLocked(StateReconnecting)
		h.mu.Unlock()
		h.emitConnection(ConnectionEvent{Status: StatusReconnecting})
	}
}

// dial makes up to MaxAttempts attempts. A first connect tries at once;
// a reconnect waits before its first attempt too.
func (h *Hub) dial(ctx context.Context, reconnecting bool) (Session, int, error) {
	h.mu.Lock()
	hs := h.handshake
	h.mu.Unlock()

	waits := 0
	var lastErr error
	for attempt := 1; attempt <= h.opts.MaxAttempts; attempt++ {
		if reconnecting || attempt > 1 {
			waits++
			if !sleep(ctx, h.opts.backoff(waits)) {
				return nil, attempt - 1, ctx.Err()
			}
		}
		if reconnecting {
			h.metrics.HubReconnect()
		}

		session, err := h.transport.Dial(ctx, hs)
		if err == nil {
			return session, attempt, nil
		}
		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}

		lastErr = err
		status := string(h.State())
		h.logger.Warn("hub_dial_failed", "Event channel connection attempt failed", "", map[string]interface{}{
			"attempt":      attempt,
			"max_attempts": h.opts.MaxAttempts,
			"error":        err.Error(),
		})
		h.emitConnection(ConnectionEvent{Status: status, Attempts: attempt, Error: err.Error()})
	}
	return nil, h.opts.MaxAttempts, lastErr
}

func (h *Hub) giveUp(attempts int, err error) {
	h.mu.Lock()
	h.setStateLocked(StateDisconnected)
	h.mu.Unlock()

	h.logger.Error("hub_gave_up", fmt.Sprintf("Giving up on event channel after %d attempts", attempts), "", err, nil)
	h.emitConnection(ConnectionEvent{Status: StatusFailed, Attempts: attempts, Error: err.Error()})
}

// serve runs one session until it drops or ctx ends
func (h *Hub) serve(ctx context.Context, session Session) {
	h.mu.Lock()
	h.session = session
	h.subscribed = map[string]bool{}
	var names []string
	for ev, ls := range h.listeners {
		if name, ok := wireNames[ev]; ok && len(ls) > 0 {
			names = append(names, name)
			h.subscribed[name] = true
		}
	}
	h.mu.Unlock()

	// Bind before reporting connected so listeners see every event from
	// the first connected notification on.
	if len(names) > 0 {
		if err := session.Subscribe(names...); err != nil {
			h.logger.Error("hub_subscribe_failed", "Failed to bind events on connect", "", err, map[string]interface{}{
				"events": names,
			})
		}
	}

	h.mu.Lock()
	h.setStateLocked(StateConnected)
	h.mu.Unlock()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go h.heartbeat(hbCtx, session, hbDone)

	defer func() {
		stopHeartbeat()
		<-hbDone
		h.mu.Lock()
		h.session = nil
		h.subscribed = map[string]bool{}
		h.mu.Unlock()
		_ = session.Close()
	}()

	h.logger.Info("hub_connected", "Connected to event channel", "", map[string]interface{}{
		"events": names,
	})
	h.emitConnection(ConnectionEvent{Status: StatusConnected})

	msgs := session.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				h.logger.Warn("hub_connection_lost", "Event channel connection lost", "", nil)
				return
			}
			h.dispatchMessage(msg)
		}
	}
}

func (h *Hub) heartbeat(ctx context.Context, session Session, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sendHeartbeat(ctx, session)
		}
	}
}

func (h *Hub) sendHeartbeat(ctx context.Context, session Session) {
	h.mu.Lock()
	hs := h.handshake
	h.mu.Unlock()

	pending := 0
	if h.opts.PendingCount != nil {
		pending = h.opts.PendingCount()
	}
	body, err := json.Marshal(models.HeartbeatMessage{
		OutletID:      hs.OutletID,
		StaffID:       hs.StaffID,
		ClientType:    hs.ClientType,
		Status:        models.TerminalOnline,
		PendingOrders: pending,
		Timestamp:     h.now().UTC(),
	})
	if err != nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := session.Publish(pubCtx, Message{Name: PingName, Body: body}); err != nil {
		h.logger.Debug("hub_heartbeat_failed", "Heartbeat not sent", "", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (h *Hub) publish(ev EventType, payload any) {
	name := wireNames[ev]

	h.mu.Lock()
	session := h.session
	connected := h.state == StateConnected
	h.mu.Unlock()

	if !connected || session == nil {
		h.logger.Debug("hub_notify_skipped", "Not connected, dropping notification", "", map[string]interface{}{
			"event": ev,
		})
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("hub_notify_failed", "Failed to encode notification", "", err, map[string]interface{}{
			"event": ev,
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := session.Publish(ctx, Message{Name: name, Body: body}); err != nil {
		h.logger.Error("hub_notify_failed", "Failed to publish notification", "", err, map[string]interface{}{
			"event": ev,
		})
	}
}

func (h *Hub) dispatchMessage(msg Message) {
	ev, ok := EventForWireName(msg.Name)
	if !ok {
		h.logger.Debug("hub_unknown_message", "Dropping message with unknown name", "", map[string]interface{}{
			"name": msg.Name,
		})
		return
	}
	h.metrics.EventReceived(string(ev))
	h.dispatch(Event{Type: ev, Payload: msg.Body, ReceivedAt: h.now()})
}

func (h *Hub) emitConnection(ce ConnectionEvent) {
	payload, _ := json.Marshal(ce)
	h.dispatch(Event{
		Type:       EventConnection,
		Payload:    payload,
		Connection: &ce,
		ReceivedAt: h.now(),
	})
}

// dispatch runs every listener for e.Type in registration order. One
// listener failing never stops the rest.
func (h *Hub) dispatch(e Event) {
	h.mu.Lock()
	ls := append([]listener(nil), h.listeners[e.Type]...)
	h.mu.Unlock()

	for _, l := range ls {
		if err := invoke(l.handler, e); err != nil {
			h.metrics.ListenerError(string(e.Type))
			h.logger.Error("hub_listener_failed", "Event listener failed", "", err, map[string]interface{}{
				"event":       e.Type,
				"listener_id": l.id,
			})
		}
	}
}

func invoke(fn Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn(e)
}

func (h *Hub) setStateLocked(s State) {
	h.state = s
	h.metrics.HubState(string(s), allStates)
}

func (h *Hub) staffID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handshake.StaffID
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
