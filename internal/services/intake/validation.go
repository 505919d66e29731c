package intake

import (
	"fmt"
	"math"

	"pos-terminal/internal/models"
)

const (
	maxItems        = 50
	maxItemQuantity = 99
	maxItemPrice    = 9999.99
	maxClientRefLen = 64
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateOrder checks a submitted order against the intake rules. The
// totals are recomputed with taxRate and must match what the terminal sent.
func ValidateOrder(order models.Order, clientRef string, taxRate float64) error {
	if err := validateClientRef(clientRef); err != nil {
		return err
	}

	if order.OutletID == "" {
		return ValidationError{Field: "outlet_id", Message: "outlet id is required"}
	}

	if order.TableID == nil || *order.TableID == "" {
		return ValidationError{Field: "table_id", Message: "table is required"}
	}

	if err := validateItems(order.Items); err != nil {
		return err
	}

	if order.Payment != nil && !order.Payment.Method.Valid() {
		return ValidationError{Field: "payment.method", Message: "invalid payment method"}
	}

	return validateTotals(order, taxRate)
}

func validateClientRef(ref string) error {
	if ref == "" {
		return ValidationError{Field: "client_ref", Message: "idempotency key is required"}
	}
	if len(ref) > maxClientRefLen {
		return ValidationError{
			Field:   "client_ref",
			Message: fmt.Sprintf("idempotency key must be at most %d characters", maxClientRefLen),
		}
	}
	return nil
}

func validateItems(items []models.LineItem) error {
	if len(items) == 0 {
		return ValidationError{Field: "items", Message: "items cannot be empty"}
	}

	if len(items) > maxItems {
		return ValidationError{
			Field:   "items",
			Message: fmt.Sprintf("a maximum of %d items is allowed", maxItems),
		}
	}

	seen := make(map[string]bool, len(items))
	for i, item := range items {
		if err := validateItem(item, i); err != nil {
			return err
		}
		if seen[item.ID] {
			return ValidationError{
				Field:   fmt.Sprintf("items[%d].id", i),
				Message: "duplicate item",
			}
		}
		seen[item.ID] = true
	}
	return nil
}

func validateItem(item models.LineItem, index int) error {
	if item.ID == "" {
		return ValidationError{
			Field:   fmt.Sprintf("items[%d].id", index),
			Message: "item id is required",
		}
	}

	if item.Name == "" || len(item.Name) > 100 {
		return ValidationError{
			Field:   fmt.Sprintf("items[%d].name", index),
			Message: "item name must be 1-100 characters",
		}
	}

	if item.Quantity < 1 || item.Quantity > maxItemQuantity {
		return ValidationError{
			Field:   fmt.Sprintf("items[%d].quantity", index),
			Message: fmt.Sprintf("quantity must be between 1 and %d", maxItemQuantity),
		}
	}

	if item.Price < 0 || item.Price > maxItemPrice {
		return ValidationError{
			Field:   fmt.Sprintf("items[%d].price", index),
			Message: fmt.Sprintf("price must be between 0 and %.2f", maxItemPrice),
		}
	}
	return nil
}

func validateTotals(order models.Order, taxRate float64) error {
	expected := order.Clone()
	expected.Recalculate(taxRate)

	if !sameCents(expected.Subtotal, order.Subtotal) {
		return ValidationError{Field: "subtotal", Message: "subtotal does not match items"}
	}
	if !sameCents(expected.Tax, order.Tax) {
		return ValidationError{Field: "tax", Message: "tax does not match subtotal"}
	}
	if !sameCents(expected.Total, order.Total) {
		return ValidationError{Field: "total", Message: "total does not match items"}
	}
	return nil
}

func sameCents(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}
