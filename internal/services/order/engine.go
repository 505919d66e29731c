package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pos-terminal/internal/logger"
	"pos-terminal/internal/models"
	"pos-terminal/internal/storage"
)

const persistTimeout = 5 * time.Second

// Engine owns the terminal's single live order. Every mutation recomputes
// totals and issues a write-through persist before it returns; a failed
// persist is logged and the in-memory order stays authoritative.
type Engine struct {
	mu    sync.Mutex
	order models.Order

	store    storage.Store
	key      string
	taxRate  float64
	outletID string
	staffID  string
	logger   *logger.Logger
}

// Options configures an Engine
type Options struct {
	OutletID string
	StaffID  string
	TaxRate  float64
}

// NewEngine creates an engine holding an empty draft. Call Restore to
// pick up an order persisted by a previous session.
func NewEngine(store storage.Store, log *logger.Logger, opts Options) *Engine {
	e := &Engine{
		store:    store,
		key:      storage.Key(opts.OutletID, "order"),
		taxRate:  opts.TaxRate,
		outletID: opts.OutletID,
		staffID:  opts.StaffID,
		logger:   log,
	}
	e.order = e.emptyOrder()
	return e
}

// Restore loads the persisted order, if any. Derived money fields in the
// stored copy are ignored and recomputed from its items.
func (e *Engine) Restore(ctx context.Context) models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stored models.Order
	found, err := storage.LoadJSON(ctx, e.store, e.key, &stored)
	if err != nil {
		e.logger.Error("order_restore_failed", "Stored order unreadable, starting empty", "", err, nil)
		e.order = e.emptyOrder()
		return e.order.Clone()
	}
	if !found {
		e.order = e.emptyOrder()
		return e.order.Clone()
	}

	restored := e.emptyOrder()
	restored.TableID = stored.TableID
	restored.Discount = stored.Discount
	restored.Items = normalizeItems(stored.Items)
	restored.Recalculate(e.taxRate)
	e.order = restored

	e.logger.Info("order_restored", "Restored order from previous session", "", map[string]interface{}{
		"items": len(restored.Items),
		"total": restored.Total,
	})
	return e.order.Clone()
}

// Snapshot returns an immutable copy of the live order
func (e *Engine) Snapshot() models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Clone()
}

// AddItem increments the quantity of an existing line or appends a new
// line with quantity 1.
func (e *Engine) AddItem(item models.MenuItem) models.Order {
	return e.mutate("item_added", func(o *models.Order) bool {
		if item.ID == "" {
			return false
		}
		for i := range o.Items {
			if o.Items[i].ID == item.ID {
				o.Items[i].Quantity++
				return true
			}
		}
		o.Items = append(o.Items, models.LineItem{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: 1,
		})
		return true
	})
}

// RemoveItem deletes the line for itemID. Unknown ids are ignored.
func (e *Engine) RemoveItem(itemID string) models.Order {
	return e.mutate("item_removed", func(o *models.Order) bool {
		return removeLine(o, itemID)
	})
}

// UpdateQuantity sets the quantity of a line, clamped at zero. Zero
// removes the line.
func (e *Engine) UpdateQuantity(itemID string, quantity int) models.Order {
	return e.mutate("quantity_updated", func(o *models.Order) bool {
		if quantity <= 0 {
			return removeLine(o, itemID)
		}
		for i := range o.Items {
			if o.Items[i].ID == itemID {
				o.Items[i].Quantity = quantity
				return true
			}
		}
		return false
	})
}

// SetTable assigns the order to a table; nil clears the assignment.
func (e *Engine) SetTable(tableID *string) models.Order {
	return e.mutate("table_set", func(o *models.Order) bool {
		if tableID == nil || *tableID == "" {
			o.TableID = nil
			return true
		}
		id := *tableID
		o.TableID = &id
		return true
	})
}

// ApplyDiscount records a flat discount. It is clamped to the order's
// gross on every recompute.
func (e *Engine) ApplyDiscount(amount float64) models.Order {
	return e.mutate("discount_applied", func(o *models.Order) bool {
		if amount < 0 {
			amount = 0
		}
		o.Discount = amount
		return true
	})
}

// Clear resets the live order and deletes the persisted copy so nothing
// stale is restored on the next start. The returned snapshot is the order
// as it was, marked cleared.
func (e *Engine) Clear() models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	cleared := e.order.Clone()
	cleared.Status = models.StatusCleared
	e.reset()

	e.logger.Debug("order_cleared", "Order cleared", "", map[string]interface{}{
		"items": len(cleared.Items),
		"total": cleared.Total,
	})
	return cleared
}

// Take hands the live order to checkout and starts an empty one in the
// same critical section, so edits made afterwards belong to the next
// order. check runs under the lock; if it fails nothing changes.
func (e *Engine) Take(check func(models.Order) error) (models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	taken := e.order.Clone()
	if check != nil {
		if err := check(taken); err != nil {
			return models.Order{}, err
		}
	}
	e.reset()

	e.logger.Debug("order_taken", "Order handed to checkout", "", map[string]interface{}{
		"items": len(taken.Items),
		"total": taken.Total,
	})
	return taken, nil
}

// Reinstate puts a taken order back as the live order. It only does so
// while the live order is untouched; once the cashier has started the
// next order it returns false and leaves that order alone.
func (e *Engine) Reinstate(o models.Order) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.order.Items) > 0 || e.order.TableID != nil || e.order.Discount > 0 {
		return false
	}

	restored := o.Clone()
	restored.ID = nil
	restored.ClientRef = ""
	restored.Payment = nil
	restored.Status = models.StatusDraft
	restored.OutletID = e.outletID
	restored.StaffID = e.staffID
	restored.Recalculate(e.taxRate)
	e.order = restored
	e.persist("reinstate")
	return true
}

// mutate applies fn under the lock. fn reports whether it changed
// anything; unchanged orders are neither recomputed nor persisted.
func (e *Engine) mutate(action string, fn func(o *models.Order) bool) models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !fn(&e.order) {
		return e.order.Clone()
	}
	e.order.Recalculate(e.taxRate)
	e.persist(action)
	return e.order.Clone()
}

func (e *Engine) persist(action string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := storage.SaveJSON(ctx, e.store, e.key, e.order); err != nil {
		e.logger.Error("order_persist_failed", fmt.Sprintf("Failed to persist order after %s", action), "", err, nil)
	}
}

// reset starts an empty order and drops the stored copy. Callers hold mu.
func (e *Engine) reset() {
	e.order = e.emptyOrder()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.store.Delete(ctx, e.key); err != nil {
		e.logger.Error("order_persist_failed", "Failed to delete stored order", "", err, nil)
	}
}

func (e *Engine) emptyOrder() models.Order {
	o := models.NewOrder()
	o.OutletID = e.outletID
	o.StaffID = e.staffID
	return o
}

func removeLine(o *models.Order, itemID string) bool {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			o.Items = append(o.Items[:i], o.Items[i+1:]...)
			return true
		}
	}
	return false
}

// normalizeItems merges duplicate ids and drops non-positive quantities,
// keeping first-seen order. Stored data from older builds may violate
// either rule.
func normalizeItems(items []models.LineItem) []models.LineItem {
	out := make([]models.LineItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if item.ID == "" || item.Quantity <= 0 {
			continue
		}
		if i, ok := index[item.ID]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[item.ID] = len(out)
		out = append(out, item)
	}
	return out
}
