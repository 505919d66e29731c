package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecalculate(t *testing.T) {
	tests := []struct {
		name     string
		items    []LineItem
		discount float64
		subtotal float64
		tax      float64
		total    float64
	}{
		{
			name:     "empty order",
			items:    nil,
			subtotal: 0, tax: 0, total: 0,
		},
		{
			name:     "two of the same item",
			items:    []LineItem{{ID: "item-1", Price: 10.00, Quantity: 2}},
			subtotal: 20.00, tax: 2.00, total: 22.00,
		},
		{
			name:     "tax rounds half up",
			items:    []LineItem{{ID: "a", Price: 0.05, Quantity: 1}},
			subtotal: 0.05, tax: 0.01, total: 0.06,
		},
		{
			name: "float sums do not leak into cents",
			items: []LineItem{
				{ID: "a", Price: 0.10, Quantity: 1},
				{ID: "b", Price: 0.20, Quantity: 1},
			},
			subtotal: 0.30, tax: 0.03, total: 0.33,
		},
		{
			name:     "tax rounded from rounded subtotal",
			items:    []LineItem{{ID: "a", Price: 3.35, Quantity: 3}},
			subtotal: 10.05, tax: 1.01, total: 11.06,
		},
		{
			name:     "discount applied after tax",
			items:    []LineItem{{ID: "a", Price: 10.99, Quantity: 1}},
			discount: 1.00,
			subtotal: 10.99, tax: 1.10, total: 11.09,
		},
		{
			name:     "discount clamped to gross",
			items:    []LineItem{{ID: "a", Price: 5.00, Quantity: 1}},
			discount: 100,
			subtotal: 5.00, tax: 0.50, total: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrder()
			o.Items = tt.items
			o.Discount = tt.discount
			o.Recalculate(0.10)

			assert.Equal(t, tt.subtotal, o.Subtotal)
			assert.Equal(t, tt.tax, o.Tax)
			assert.Equal(t, tt.total, o.Total)
		})
	}
}

func TestClone_DoesNotShareState(t *testing.T) {
	table := "table-1"
	o := NewOrder()
	o.TableID = &table
	o.Items = append(o.Items, LineItem{ID: "a", Price: 1, Quantity: 1})

	c := o.Clone()
	c.Items[0].Quantity = 5
	*c.TableID = "table-2"

	assert.Equal(t, 1, o.Items[0].Quantity)
	assert.Equal(t, "table-1", *o.TableID)
}

func TestChange(t *testing.T) {
	o := NewOrder()
	o.Total = 22.00
	o.Payment = &Payment{Method: PaymentCash, Tendered: 50}
	assert.Equal(t, 28.00, o.Change())

	o.Payment = &Payment{Method: PaymentCard}
	assert.Equal(t, 0.0, o.Change())
}

func TestPaymentMethodValid(t *testing.T) {
	assert.True(t, PaymentCash.Valid())
	assert.True(t, PaymentCard.Valid())
	assert.False(t, PaymentMethod("cheque").Valid())
}
