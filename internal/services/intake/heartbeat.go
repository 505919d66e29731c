package intake

import (
	"context"
	"fmt"
	"strings"

	"pos-terminal/internal/messaging"
	"pos-terminal/internal/models"
)

// HandleHeartbeat is the messaging.MessageHandler for terminal pings. The
// outlet falls back to the routing key when the body omits it.
func (s *Service) HandleHeartbeat(ctx context.Context, routingKey string, body []byte) error {
	var hb models.HeartbeatMessage
	if err := messaging.ParseMessage(body, &hb); err != nil {
		return err
	}

	if hb.OutletID == "" {
		hb.OutletID = outletFromRoutingKey(routingKey)
	}
	if hb.OutletID == "" || hb.StaffID == "" {
		return fmt.Errorf("%w: heartbeat without outlet or staff", messaging.ErrMalformed)
	}

	if err := s.RecordHeartbeat(ctx, hb); err != nil {
		return err
	}

	s.logger.Debug("heartbeat_recorded", "Terminal heartbeat recorded", "", map[string]interface{}{
		"outlet_id":      hb.OutletID,
		"staff_id":       hb.StaffID,
		"pending_orders": hb.PendingOrders,
	})
	return nil
}

// outletFromRoutingKey extracts <outlet> from outlet.<outlet>.<name>
func outletFromRoutingKey(key string) string {
	parts := strings.SplitN(key, ".", 3)
	if len(parts) != 3 || parts[0] != "outlet" {
		return ""
	}
	return parts[1]
}
