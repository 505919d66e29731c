package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the local lifecycle of the terminal's order
type OrderStatus string

const (
	StatusDraft   OrderStatus = "draft"
	StatusCleared OrderStatus = "cleared"
)

// PendingStatus is the synchronization state of a queued order
type PendingStatus string

const StatusPendingSync PendingStatus = "pending_sync"

// PaymentMethod represents how the customer pays
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentMobile PaymentMethod = "mobile"
)

// Valid reports whether m is a known payment method
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMobile:
		return true
	}
	return false
}

// MenuItem is the externally-owned catalogue entry a cashier taps
type MenuItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Category string  `json:"category,omitempty"`
}

// LineItem represents an item in an order
type LineItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Payment is the tender chosen at checkout
type Payment struct {
	Method   PaymentMethod `json:"method"`
	Tendered float64       `json:"tendered,omitempty"`
}

// Order is the terminal's single live order. Money fields are derived
// from Items and are recomputed on every mutation.
type Order struct {
	ID        *string     `json:"id"`
	ClientRef string      `json:"client_ref,omitempty"`
	OutletID  string      `json:"outlet_id,omitempty"`
	StaffID   string      `json:"staff_id,omitempty"`
	TableID   *string     `json:"table_id"`
	Items     []LineItem  `json:"items"`
	Subtotal  float64     `json:"subtotal"`
	Tax       float64     `json:"tax"`
	Discount  float64     `json:"discount"`
	Total     float64     `json:"total"`
	Status    OrderStatus `json:"status"`
	Payment   *Payment    `json:"payment,omitempty"`
}

// NewOrder returns the empty draft order
func NewOrder() Order {
	return Order{
		Items:  []LineItem{},
		Status: StatusDraft,
	}
}

// Clone returns a deep copy so callers never share slices or pointers
// with the owner of the original.
func (o Order) Clone() Order {
	c := o
	c.Items = make([]LineItem, len(o.Items))
	copy(c.Items, o.Items)
	if o.ID != nil {
		id := *o.ID
		c.ID = &id
	}
	if o.TableID != nil {
		table := *o.TableID
		c.TableID = &table
	}
	if o.Payment != nil {
		p := *o.Payment
		c.Payment = &p
	}
	return c
}

// ItemCount returns the total number of units across all lines
func (o Order) ItemCount() int {
	n := 0
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}

// Recalculate derives subtotal, tax, discount and total from Items.
// Each step is rounded half-up to cents on its own, never from unrounded
// intermediates.
func (o *Order) Recalculate(taxRate float64) {
	subtotal := decimal.Zero
	for _, item := range o.Items {
		line := decimal.NewFromFloat(item.Price).Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(line)
	}
	subtotal = RoundCents(subtotal)
	tax := RoundCents(subtotal.Mul(decimal.NewFromFloat(taxRate)))

	discount := decimal.NewFromFloat(o.Discount)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if ceiling := subtotal.Add(tax); discount.GreaterThan(ceiling) {
		discount = ceiling
	}
	discount = RoundCents(discount)

	total := RoundCents(subtotal.Add(tax).Sub(discount))

	o.Subtotal = subtotal.InexactFloat64()
	o.Tax = tax.InexactFloat64()
	o.Discount = discount.InexactFloat64()
	o.Total = total.InexactFloat64()
}

// RoundCents rounds to two decimal places, half away from zero. Money in
// this package is never negative, so that is round-half-up.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Change returns the cash to hand back for a cash payment
func (o Order) Change() float64 {
	if o.Payment == nil || o.Payment.Method != PaymentCash {
		return 0
	}
	change := decimal.NewFromFloat(o.Payment.Tendered).Sub(decimal.NewFromFloat(o.Total))
	if change.IsNegative() {
		return 0
	}
	return RoundCents(change).InexactFloat64()
}

// PendingOrder is an order snapshot waiting to be synchronized
type PendingOrder struct {
	ID        string        `json:"id"`
	Order     Order         `json:"order"`
	Timestamp time.Time     `json:"timestamp"`
	Status    PendingStatus `json:"status"`
}

// AcceptedOrder is the backend's confirmation of a submitted order
type AcceptedOrder struct {
	ID        string    `json:"id"`
	ClientRef string    `json:"client_ref"`
	Total     float64   `json:"total"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
