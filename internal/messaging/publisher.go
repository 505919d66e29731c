package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"pos-terminal/internal/logger"
)

// Publisher publishes outlet events from backend services
type Publisher struct {
	conn   *Connection
	logger *logger.Logger
}

func NewPublisher(conn *Connection, log *logger.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: log,
	}
}

// PublishEvent sends message as JSON to the outlet's event stream under
// the wire name name.
func (p *Publisher) PublishEvent(ctx context.Context, outletID, name string, message interface{}) error {
	if p.conn.IsClosed() {
		if err := p.conn.Reconnect(); err != nil {
			return fmt.Errorf("failed to reconnect: %w", err)
		}
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	routingKey := RoutingKey(outletID, name)
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Type:         name,
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err = p.conn.Channel().PublishWithContext(ctx, EventsExchange, routingKey, false, false, publishing)
	if err != nil {
		p.logger.Error("message_publish_failed",
			fmt.Sprintf("Failed to publish %s", name),
			"", err, map[string]interface{}{
				"exchange":    EventsExchange,
				"routing_key": routingKey,
			})
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("message_published",
		fmt.Sprintf("Published %s", name),
		"", map[string]interface{}{
			"routing_key":  routingKey,
			"message_size": len(body),
		})
	return nil
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}
