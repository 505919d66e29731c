package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"pos-terminal/internal/logger"
)

const (
	// EventsExchange carries every outlet event. Routing keys are
	// outlet.<outlet_id>.<event name>.
	EventsExchange = "pos_events"

	// HeartbeatQueue collects terminal pings for the intake service
	HeartbeatQueue = "terminal_heartbeats"
)

// RoutingKey returns the routing key for an event published by or for an
// outlet.
func RoutingKey(outletID, name string) string {
	return "outlet." + outletID + "." + name
}

// Connection wraps a RabbitMQ connection and channel used by the backend
// services. It retries the initial dial and can reconnect on demand.
type Connection struct {
	mu         sync.Mutex
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	logger     *logger.Logger
	url        string
	maxRetries int
	retryDelay time.Duration
}

// Dial connects to url with up to maxRetries attempts, waiting a little
// longer after each failure.
func Dial(url string, log *logger.Logger, maxRetries int) (*Connection, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	c := &Connection{
		logger:     log,
		url:        url,
		maxRetries: maxRetries,
		retryDelay: 2 * time.Second,
	}
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to establish initial connection: %w", err)
	}
	return c, nil
}

func (c *Connection) connect() error {
	var err error
	for i := 0; i < c.maxRetries; i++ {
		if err = c.open(); err == nil {
			return nil
		}
		if i < c.maxRetries-1 {
			wait := time.Duration(i+1) * c.retryDelay
			c.logger.Error("rabbitmq_connection_failed",
				fmt.Sprintf("Failed to connect to RabbitMQ, retrying in %v", wait),
				"startup", err, nil)
			time.Sleep(wait)
		}
	}
	return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", c.maxRetries, err)
}

func (c *Connection) open() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := declareEventsExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()
	return nil
}

func declareEventsExchange(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		EventsExchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare %s exchange: %w", EventsExchange, err)
	}
	return nil
}

// DeclareHeartbeatQueue declares the durable heartbeat queue and binds it
// to pings from every outlet.
func (c *Connection) DeclareHeartbeatQueue() error {
	ch := c.Channel()
	_, err := ch.QueueDeclare(
		HeartbeatQueue, // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		amqp091.Table{
			"x-message-ttl": 120000, // older pings are useless
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", HeartbeatQueue, err)
	}

	key := RoutingKey("*", "ping")
	if err := ch.QueueBind(HeartbeatQueue, key, EventsExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s with routing key %s: %w", HeartbeatQueue, key, err)
	}
	return nil
}

// Channel returns the current channel
func (c *Connection) Channel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Connection) closeLocked() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == nil || c.conn.IsClosed()
}

// Reconnect drops the current connection and dials again
func (c *Connection) Reconnect() error {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
	return c.connect()
}
