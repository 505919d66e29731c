// Package offline keeps checked-out orders that could not reach the
// backend and drains them once the terminal is back online.
package offline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pos-terminal/internal/logger"
	"pos-terminal/internal/models"
	"pos-terminal/internal/storage"
)

const (
	pendingIDPrefix = "offline_"
	persistTimeout  = 5 * time.Second
)

// Queue is the durable, insertion-ordered list of pending orders. The
// whole list is rewritten on every change.
type Queue struct {
	mu     sync.Mutex
	orders []models.PendingOrder

	store  storage.Store
	key    string
	logger *logger.Logger
	now    func() time.Time
}

func NewQueue(store storage.Store, log *logger.Logger, outletID string) *Queue {
	return &Queue{
		orders: []models.PendingOrder{},
		store:  store,
		key:    storage.Key(outletID, "pending-orders"),
		logger: log,
		now:    time.Now,
	}
}

// Load replaces the in-memory queue with the persisted one. Missing,
// unreadable or corrupt data leaves an empty queue, which is then
// written back so the record always exists.
func (q *Queue) Load(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var stored []models.PendingOrder
	found, err := storage.LoadJSON(ctx, q.store, q.key, &stored)
	switch {
	case err != nil:
		q.logger.Error("pending_load_failed", "Stored pending orders unreadable, starting with empty queue", "", err, nil)
		q.orders = []models.PendingOrder{}
		q.persist()
	case !found || stored == nil:
		q.orders = []models.PendingOrder{}
		q.persist()
	default:
		q.orders = stored
	}

	if len(q.orders) > 0 {
		q.logger.Info("pending_loaded", "Loaded pending orders", "", map[string]interface{}{
			"count": len(q.orders),
		})
	}
	return len(q.orders)
}

// AddPendingOrder stamps order as a pending record and appends it. The
// record exists in memory even when the persist fails.
func (q *Queue) AddPendingOrder(order models.Order) models.PendingOrder {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := models.PendingOrder{
		ID:        pendingIDPrefix + uuid.NewString(),
		Order:     order.Clone(),
		Timestamp: q.now().UTC(),
		Status:    models.StatusPendingSync,
	}
	q.orders = append(q.orders, pending)
	q.persist()

	q.logger.Info("pending_added", "Order queued for sync", "", map[string]interface{}{
		"pending_id": pending.ID,
		"client_ref": order.ClientRef,
		"total":      order.Total,
		"queued":     len(q.orders),
	})
	return cloneRecord(pending)
}

// RemovePendingOrder drops the record with id. It reports whether a
// record was removed.
func (q *Queue) RemovePendingOrder(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := make([]models.PendingOrder, 0, len(q.orders))
	for _, p := range q.orders {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(q.orders) {
		return false
	}
	q.orders = kept
	q.persist()
	return true
}

// List returns a copy of the queue in insertion order
func (q *Queue) List() []models.PendingOrder {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.PendingOrder, len(q.orders))
	for i, p := range q.orders {
		out[i] = cloneRecord(p)
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.orders)
}

func (q *Queue) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := storage.SaveJSON(ctx, q.store, q.key, q.orders); err != nil {
		q.logger.Error("pending_persist_failed", "Failed to persist pending orders", "", err, map[string]interface{}{
			"queued": len(q.orders),
		})
	}
}

func cloneRecord(p models.PendingOrder) models.PendingOrder {
	p.Order = p.Order.Clone()
	return p
}
