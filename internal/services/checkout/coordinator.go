// Package checkout turns the live order into a submitted or queued order
// and leaves the terminal ready for the next customer.
package checkout

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"

	"pos-terminal/internal/logger"
	"pos-terminal/internal/metrics"
	"pos-terminal/internal/models"
	"pos-terminal/internal/remote"
)

// Engine is the part of the order engine checkout needs
type Engine interface {
	Take(check func(models.Order) error) (models.Order, error)
	Reinstate(order models.Order) bool
}

type Submitter interface {
	SubmitOrder(ctx context.Context, order models.Order, key string) (*models.AcceptedOrder, error)
}

type Queue interface {
	AddPendingOrder(order models.Order) models.PendingOrder
	Len() int
}

// Notifier is the live notification side of the event hub
type Notifier interface {
	NotifyOrderCreated(orderID string, order models.Order)
	NotifyPaymentCompleted(orderID string, method models.PaymentMethod, amount float64)
}

type Connectivity interface {
	Online() bool
}

// ErrInProgress is wrapped by the ValidationError returned to a second
// concurrent checkout
var ErrInProgress = errors.New("checkout already in progress")

// Outcome says where a checked-out order went
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeQueued    Outcome = "queued"
)

type Result struct {
	Outcome   Outcome      `json:"outcome"`
	OrderID   string       `json:"order_id,omitempty"`
	PendingID string       `json:"pending_id,omitempty"`
	ClientRef string       `json:"client_ref"`
	Total     float64      `json:"total"`
	Change    float64      `json:"change"`
	Order     models.Order `json:"order"`
}

type Coordinator struct {
	engine    Engine
	submitter Submitter
	queue     Queue
	notifier  Notifier
	online    Connectivity
	logger    *logger.Logger
	metrics   *metrics.Metrics

	inFlight atomic.Bool
}

func NewCoordinator(engine Engine, submitter Submitter, queue Queue, notifier Notifier, online Connectivity, log *logger.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		engine:    engine,
		submitter: submitter,
		queue:     queue,
		notifier:  notifier,
		online:    online,
		logger:    log,
		metrics:   m,
	}
}

// InFlight reports whether a checkout is running. Cart edits made
// meanwhile go to the next order.
func (c *Coordinator) InFlight() bool {
	return c.inFlight.Load()
}

// Checkout validates the live order and either submits it or queues it.
// The order is taken out of the engine before any network wait, so the
// cashier can start the next order at once. Only validation failures,
// including a backend rejection, are returned; a network failure falls
// back to the offline queue.
func (c *Coordinator) Checkout(ctx context.Context, payment models.Payment) (*Result, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, &ValidationError{Field: "order", Message: ErrInProgress.Error(), Err: ErrInProgress}
	}
	defer c.inFlight.Store(false)

	requestID := logger.GenerateRequestID()
	order, err := c.engine.Take(func(o models.Order) error {
		return ValidateCheckout(o, payment)
	})
	if err != nil {
		c.metrics.Checkout("invalid")
		c.logger.Debug("checkout_invalid", "Checkout pre-condition failed", requestID, map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	p := payment
	order.Payment = &p
	order.ClientRef = uuid.NewString()

	if c.online.Online() {
		accepted, err := c.submitter.SubmitOrder(ctx, order, order.ClientRef)
		switch {
		case err == nil:
			return c.completeSubmitted(requestID, order, accepted), nil
		case errors.Is(err, remote.ErrRejected):
			c.metrics.Checkout("rejected")
			c.handBack(requestID, order, err)
			return nil, &ValidationError{Field: "order", Message: err.Error(), Err: err}
		default:
			c.logger.Warn("checkout_submit_failed", "Submission failed, queueing order", requestID, map[string]interface{}{
				"client_ref": order.ClientRef,
				"error":      err.Error(),
			})
		}
	}

	return c.completeQueued(requestID, order), nil
}

// handBack returns a rejected order to the cart so the cashier can fix it.
// If the next order was already started it is kept, and the rejected one
// only survives in the log.
func (c *Coordinator) handBack(requestID string, order models.Order, cause error) {
	fields := map[string]interface{}{
		"client_ref": order.ClientRef,
		"error":      cause.Error(),
		"items":      order.ItemCount(),
		"total":      order.Total,
	}
	if c.engine.Reinstate(order) {
		c.logger.Warn("checkout_rejected", "Backend rejected order, returned to cart", requestID, fields)
		return
	}
	c.logger.Warn("checkout_rejected_discarded", "Backend rejected order, cart already holds the next order", requestID, fields)
}

func (c *Coordinator) completeSubmitted(requestID string, order models.Order, accepted *models.AcceptedOrder) *Result {
	orderID := ""
	if accepted != nil {
		orderID = accepted.ID
		order.ID = &orderID
	}
	c.notifier.NotifyOrderCreated(orderID, order)
	c.notifier.NotifyPaymentCompleted(orderID, order.Payment.Method, order.Total)
	c.metrics.Checkout(string(OutcomeSubmitted))

	c.logger.Info("checkout_submitted", "Order submitted", requestID, map[string]interface{}{
		"order_id":   orderID,
		"client_ref": order.ClientRef,
		"total":      order.Total,
	})
	return &Result{
		Outcome:   OutcomeSubmitted,
		OrderID:   orderID,
		ClientRef: order.ClientRef,
		Total:     order.Total,
		Change:    order.Change(),
		Order:     order,
	}
}

func (c *Coordinator) completeQueued(requestID string, order models.Order) *Result {
	pending := c.queue.AddPendingOrder(order)

	c.metrics.Checkout(string(OutcomeQueued))
	c.metrics.SetPendingOrders(c.queue.Len())
	c.logger.Info("checkout_queued", "Order queued for sync", requestID, map[string]interface{}{
		"pending_id": pending.ID,
		"client_ref": order.ClientRef,
		"total":      order.Total,
	})
	return &Result{
		Outcome:   OutcomeQueued,
		PendingID: pending.ID,
		ClientRef: order.ClientRef,
		Total:     order.Total,
		Change:    order.Change(),
		Order:     order,
	}
}
