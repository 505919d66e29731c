// Package notification turns kitchen, table and stock events from the
// event hub into lines the staff can read.
package notification

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"pos-terminal/internal/logger"
	"pos-terminal/internal/models"
	"pos-terminal/internal/services/realtime"
)

// Registrar is the listener side of the event hub
type Registrar interface {
	On(ev realtime.EventType, fn realtime.Handler) realtime.ListenerID
	Off(ev realtime.EventType, id realtime.ListenerID) bool
}

type registration struct {
	event realtime.EventType
	id    realtime.ListenerID
}

// Listener prints notifications for the events it is registered on
type Listener struct {
	logger *logger.Logger

	mu            sync.Mutex
	out           io.Writer
	registrations []registration
}

func NewListener(log *logger.Logger) *Listener {
	return NewListenerWithWriter(log, os.Stdout)
}

func NewListenerWithWriter(log *logger.Logger, out io.Writer) *Listener {
	return &Listener{logger: log, out: out}
}

// Register attaches the listener to hub
func (l *Listener) Register(hub Registrar) {
	handlers := map[realtime.EventType]realtime.Handler{
		realtime.EventKitchenOrderReady:  l.handleStatusUpdate,
		realtime.EventOrderStatusChanged: l.handleStatusUpdate,
		realtime.EventTableStatusChanged: l.handleTableStatus,
		realtime.EventInventoryLowStock:  l.handleLowStock,
	}
	order := []realtime.EventType{
		realtime.EventKitchenOrderReady,
		realtime.EventOrderStatusChanged,
		realtime.EventTableStatusChanged,
		realtime.EventInventoryLowStock,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range order {
		id := hub.On(ev, handlers[ev])
		l.registrations = append(l.registrations, registration{event: ev, id: id})
	}
}

// Unregister detaches everything Register attached
func (l *Listener) Unregister(hub Registrar) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.registrations {
		hub.Off(r.event, r.id)
	}
	l.registrations = nil
}

func (l *Listener) handleStatusUpdate(e realtime.Event) error {
	var update models.StatusUpdateMessage
	if err := e.Decode(&update); err != nil {
		return err
	}
	if e.Type == realtime.EventKitchenOrderReady && update.NewStatus == "" {
		update.NewStatus = "ready"
	}
	l.display(e.Type, formatStatusUpdate(&update), map[string]interface{}{
		"order_id":   update.OrderID,
		"old_status": update.OldStatus,
		"new_status": update.NewStatus,
		"changed_by": update.ChangedBy,
	})
	return nil
}

func (l *Listener) handleTableStatus(e realtime.Event) error {
	var msg models.TableStatusMessage
	if err := e.Decode(&msg); err != nil {
		return err
	}
	line := fmt.Sprintf("🪑 [%s] Table %s is now %s.", stamp(msg.Timestamp), msg.TableID, msg.Status)
	l.display(e.Type, line, map[string]interface{}{
		"table_id": msg.TableID,
		"status":   msg.Status,
	})
	return nil
}

func (l *Listener) handleLowStock(e realtime.Event) error {
	var msg models.LowStockMessage
	if err := e.Decode(&msg); err != nil {
		return err
	}
	line := fmt.Sprintf("⚠️ [%s] %s is running low: %d left (threshold %d).",
		stamp(msg.Timestamp), msg.Name, msg.Remaining, msg.Threshold)
	l.display(e.Type, line, map[string]interface{}{
		"item_id":   msg.ItemID,
		"remaining": msg.Remaining,
	})
	return nil
}

func (l *Listener) display(ev realtime.EventType, line string, fields map[string]interface{}) {
	l.mu.Lock()
	fmt.Fprintln(l.out, line)
	l.mu.Unlock()

	fields["event"] = ev
	l.logger.Info("notification_displayed", line, "", fields)
}

// formatStatusUpdate creates a human-readable line for an order status
// change
func formatStatusUpdate(u *models.StatusUpdateMessage) string {
	ts := stamp(u.Timestamp)

	switch u.NewStatus {
	case "cooking":
		if u.EstimatedCompletion != nil {
			return fmt.Sprintf("🍳 [%s] Order %s is being prepared by %s. Estimated completion: %s",
				ts, u.OrderID, u.ChangedBy, u.EstimatedCompletion.Format("15:04:05"))
		}
		return fmt.Sprintf("🍳 [%s] Order %s is being prepared by %s.", ts, u.OrderID, u.ChangedBy)
	case "ready":
		return fmt.Sprintf("✅ [%s] Order %s is ready to serve.", ts, u.OrderID)
	case "served", "completed":
		return fmt.Sprintf("🎉 [%s] Order %s has been served.", ts, u.OrderID)
	case "cancelled":
		return fmt.Sprintf("❌ [%s] Order %s has been cancelled.", ts, u.OrderID)
	default:
		return fmt.Sprintf("📋 [%s] Order %s status changed from '%s' to '%s' by %s.",
			ts, u.OrderID, u.OldStatus, u.NewStatus, u.ChangedBy)
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format("2006-01-02 15:04:05")
}
