package checkout

import (
	"fmt"

	"github.com/shopspring/decimal"

	"pos-terminal/internal/models"
)

// ValidationError is a user-facing checkout failure. Nothing changed when
// one is returned.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ValidateCheckout checks an order snapshot and the chosen payment before
// any side effect.
func ValidateCheckout(order models.Order, payment models.Payment) error {
	if err := validateItems(order.Items); err != nil {
		return err
	}
	if err := validateTable(order.TableID); err != nil {
		return err
	}
	return validatePayment(payment, order.Total)
}

func validateItems(items []models.LineItem) error {
	if len(items) == 0 {
		return &ValidationError{
			Field:   "items",
			Message: "order has no items",
		}
	}
	for i, item := range items {
		if item.Quantity <= 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("items[%d].quantity", i),
				Message: "item quantity must be greater than 0",
			}
		}
		if item.Price < 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("items[%d].price", i),
				Message: "item price must not be negative",
			}
		}
	}
	return nil
}

func validateTable(tableID *string) error {
	if tableID == nil || *tableID == "" {
		return &ValidationError{
			Field:   "table_id",
			Message: "a table must be assigned before checkout",
		}
	}
	return nil
}

func validatePayment(payment models.Payment, total float64) error {
	if payment.Method == "" {
		return &ValidationError{
			Field:   "payment.method",
			Message: "payment method is required",
		}
	}
	if !payment.Method.Valid() {
		return &ValidationError{
			Field:   "payment.method",
			Message: "invalid payment method",
		}
	}
	if payment.Method != models.PaymentCash {
		return nil
	}

	tendered := decimal.NewFromFloat(payment.Tendered)
	due := decimal.NewFromFloat(total)
	if tendered.LessThan(due) {
		return &ValidationError{
			Field:   "payment.tendered",
			Message: fmt.Sprintf("cash tendered %s is less than total %s", tendered.StringFixed(2), due.StringFixed(2)),
		}
	}
	return nil
}
