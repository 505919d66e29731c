package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pos-terminal/internal/models"
)

type memoryRepo struct {
	mu        sync.Mutex
	orders    map[string]models.AcceptedOrder
	items     map[string][]models.LineItem
	terminals map[string]models.HeartbeatMessage
	seq       int
	failWith  error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders:    make(map[string]models.AcceptedOrder),
		items:     make(map[string][]models.LineItem),
		terminals: make(map[string]models.HeartbeatMessage),
	}
}

func (r *memoryRepo) CreateOrder(_ context.Context, order models.Order, clientRef string, now time.Time) (*models.AcceptedOrder, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, false, r.failWith
	}
	if existing, ok := r.orders[clientRef]; ok {
		return &existing, false, nil
	}
	r.seq++
	accepted := models.AcceptedOrder{
		ID:        formatOrderNumber(now, r.seq),
		ClientRef: clientRef,
		Total:     order.Total,
		Status:    "received",
		CreatedAt: now,
	}
	r.orders[clientRef] = accepted
	r.items[clientRef] = order.Items
	return &accepted, true, nil
}

func (r *memoryRepo) UpsertTerminal(_ context.Context, hb models.HeartbeatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.terminals[hb.OutletID+"/"+hb.StaffID] = hb
	return nil
}

func (r *memoryRepo) ListTerminals(_ context.Context) ([]models.HeartbeatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	out := make([]models.HeartbeatMessage, 0, len(r.terminals))
	for _, hb := range r.terminals {
		out = append(out, hb)
	}
	return out, nil
}

func (r *memoryRepo) Ping(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failWith
}

func (r *memoryRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type published struct {
	outletID string
	name     string
	message  interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *fakePublisher) PublishEvent(_ context.Context, outletID, name string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{outletID: outletID, name: name, message: message})
	return nil
}

func (p *fakePublisher) Events() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

var errDown = errors.New("database down")

func validOrder() models.Order {
	table := "table-4"
	o := models.NewOrder()
	o.OutletID = "outlet-1"
	o.StaffID = "staff-1"
	o.TableID = &table
	o.Items = []models.LineItem{
		{ID: "burger", Name: "Burger", Price: 10.00, Quantity: 2},
		{ID: "soda", Name: "Soda", Price: 2.50, Quantity: 1},
	}
	o.Recalculate(0.10)
	o.Payment = &models.Payment{Method: models.PaymentCash, Tendered: 30}
	return o
}

func clientRef(n int) string {
	return fmt.Sprintf("3f1c7a52-0000-4000-8000-%012d", n)
}
