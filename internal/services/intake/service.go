// Package intake is the backend endpoint terminals submit orders to.
package intake

import (
	"context"
	"fmt"
	"time"

	"pos-terminal/internal/logger"
	"pos-terminal/internal/models"
	"pos-terminal/internal/services/realtime"
)

// EventPublisher sends an event to an outlet's event stream
type EventPublisher interface {
	PublishEvent(ctx context.Context, outletID, name string, message interface{}) error
}

// Service accepts orders exactly once per client ref
type Service struct {
	repo              Repository
	publisher         EventPublisher
	logger            *logger.Logger
	taxRate           float64
	heartbeatInterval time.Duration
	now               func() time.Time
}

// NewService creates the intake service. publisher may be nil, in which
// case accepted orders are stored but not announced.
func NewService(repo Repository, publisher EventPublisher, log *logger.Logger, taxRate float64, heartbeatInterval time.Duration) *Service {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	return &Service{
		repo:              repo,
		publisher:         publisher,
		logger:            log,
		taxRate:           taxRate,
		heartbeatInterval: heartbeatInterval,
		now:               time.Now,
	}
}

// CreateOrder validates and stores order. A replayed clientRef returns the
// first acceptance with created=false and publishes nothing.
func (s *Service) CreateOrder(ctx context.Context, order models.Order, clientRef, requestID string) (*models.AcceptedOrder, bool, error) {
	if err := ValidateOrder(order, clientRef, s.taxRate); err != nil {
		return nil, false, err
	}

	now := s.now()
	accepted, created, err := s.repo.CreateOrder(ctx, order, clientRef, now)
	if err != nil {
		s.logger.Error("db_transaction_failed", "Failed to store order", requestID, err, map[string]interface{}{
			"client_ref": clientRef,
			"outlet_id":  order.OutletID,
		})
		return nil, false, fmt.Errorf("store order: %w", err)
	}

	if !created {
		s.logger.Info("order_replayed", "Order already accepted, returning original", requestID, map[string]interface{}{
			"client_ref": clientRef,
			"order_id":   accepted.ID,
		})
		return accepted, false, nil
	}

	s.logger.Info("order_accepted", "Order accepted", requestID, map[string]interface{}{
		"client_ref": clientRef,
		"order_id":   accepted.ID,
		"outlet_id":  order.OutletID,
		"total":      accepted.Total,
	})

	s.announce(ctx, order, accepted, requestID)
	return accepted, true, nil
}

// announce publishes order:created. The order is already stored, so a
// publish failure is logged and not returned.
func (s *Service) announce(ctx context.Context, order models.Order, accepted *models.AcceptedOrder, requestID string) {
	if s.publisher == nil {
		return
	}

	msg := models.OrderCreatedMessage{
		OrderID:   accepted.ID,
		ClientRef: accepted.ClientRef,
		OutletID:  order.OutletID,
		TableID:   order.TableID,
		Items:     order.Items,
		Total:     accepted.Total,
		CreatedBy: order.StaffID,
		Timestamp: accepted.CreatedAt,
	}
	name, _ := realtime.WireName(realtime.EventOrderCreated)
	if err := s.publisher.PublishEvent(ctx, order.OutletID, name, msg); err != nil {
		s.logger.Error("rabbitmq_publish_failed", "Failed to announce order", requestID, err, map[string]interface{}{
			"order_id": accepted.ID,
		})
	}
}

// RecordHeartbeat stores the latest liveness report of a terminal
func (s *Service) RecordHeartbeat(ctx context.Context, hb models.HeartbeatMessage) error {
	if hb.Timestamp.IsZero() {
		hb.Timestamp = s.now().UTC()
	}
	if hb.Status == "" {
		hb.Status = models.TerminalOnline
	}
	return s.repo.UpsertTerminal(ctx, hb)
}

// TerminalStatuses lists known terminals, reporting stale ones as offline
func (s *Service) TerminalStatuses(ctx context.Context, requestID string) ([]models.TerminalStatusResponse, error) {
	terminals, err := s.repo.ListTerminals(ctx)
	if err != nil {
		s.logger.Error("db_query_failed", "Failed to query terminals", requestID, err, nil)
		return nil, fmt.Errorf("database error: %w", err)
	}

	now := s.now()
	statuses := make([]models.TerminalStatusResponse, 0, len(terminals))
	for _, hb := range terminals {
		status := hb.Status
		if hb.IsStale(now, s.heartbeatInterval) {
			status = models.TerminalOffline
		}
		statuses = append(statuses, models.TerminalStatusResponse{
			OutletID:      hb.OutletID,
			StaffID:       hb.StaffID,
			ClientType:    hb.ClientType,
			Status:        status,
			PendingOrders: hb.PendingOrders,
			LastSeen:      hb.Timestamp,
		})
	}
	return statuses, nil
}

// HealthCheck checks the health of dependencies
func (s *Service) HealthCheck(ctx context.Context) bool {
	if err := s.repo.Ping(ctx); err != nil {
		s.logger.Error("health_check_failed", "Database ping failed", "", err, nil)
		return false
	}
	return true
}
