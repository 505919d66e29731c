package messaging

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"pos-terminal/internal/config"
	"pos-terminal/internal/logger"
	"pos-terminal/internal/services/realtime"
)

const dialTimeout = 10 * time.Second

// Transport opens event hub sessions on RabbitMQ. Each Dial is exactly
// one attempt.
type Transport struct {
	cfg    config.RabbitMQConfig
	logger *logger.Logger
}

func NewTransport(cfg config.RabbitMQConfig, log *logger.Logger) *Transport {
	return &Transport{cfg: cfg, logger: log}
}

// sessionURL builds the broker URL. The terminal's session token is the
// password; the configured password is only a fallback.
func (t *Transport) sessionURL(hs realtime.Handshake) string {
	password := hs.Token
	if password == "" {
		password = t.cfg.Password
	}
	vhost := t.cfg.VHost
	if vhost == "/" {
		vhost = ""
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(t.cfg.User, password),
		Host:   fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port),
		Path:   "/" + vhost,
	}
	return u.String()
}

// Dial connects, declares the exchange and an exclusive queue for this
// terminal, and starts consuming it.
func (t *Transport) Dial(ctx context.Context, hs realtime.Handshake) (realtime.Session, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := amqp091.DialConfig(t.sessionURL(hs), amqp091.Config{
		Heartbeat: 10 * time.Second,
		Properties: amqp091.Table{
			"connection_name": fmt.Sprintf("%s-%s-%s", hs.ClientType, hs.OutletID, hs.StaffID),
			"outlet_id":       hs.OutletID,
			"staff_id":        hs.StaffID,
			"client_type":     hs.ClientType,
		},
		Dial: func(network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareEventsExchange(ch); err != nil {
		conn.Close()
		return nil, err
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare session queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("consume session queue: %w", err)
	}

	s := &session{
		conn:     conn,
		channel:  ch,
		queue:    q.Name,
		outletID: hs.OutletID,
		origin:   uuid.NewString(),
		msgs:     make(chan realtime.Message),
		closing:  make(chan struct{}),
		logger:   t.logger,
	}
	go s.forward(deliveries)

	t.logger.Debug("transport_session_opened", "Opened event channel session", "", map[string]interface{}{
		"queue":     q.Name,
		"outlet_id": hs.OutletID,
	})
	return s, nil
}

type session struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	queue    string
	outletID string
	// origin tags this session's publishes so their echoes can be dropped
	origin string

	msgs      chan realtime.Message
	closing   chan struct{}
	closeOnce sync.Once
	logger    *logger.Logger
}

func (s *session) Messages() <-chan realtime.Message {
	return s.msgs
}

// forward translates deliveries until the broker closes the channel or
// the session is closed.
func (s *session) forward(deliveries <-chan amqp091.Delivery) {
	defer close(s.msgs)

	for d := range deliveries {
		msg, ok := s.translate(d)
		if !ok {
			continue
		}
		select {
		case s.msgs <- msg:
		case <-s.closing:
			return
		}
	}
}

// translate maps a delivery to a hub message. The session's own publishes
// come back on its bindings and are dropped; other terminals of the
// outlet still receive them.
func (s *session) translate(d amqp091.Delivery) (realtime.Message, bool) {
	if d.AppId != "" && d.AppId == s.origin {
		return realtime.Message{}, false
	}
	name := strings.TrimPrefix(d.RoutingKey, RoutingKey(s.outletID, ""))
	return realtime.Message{Name: name, Body: d.Body}, true
}

func (s *session) Subscribe(names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range names {
		key := RoutingKey(s.outletID, name)
		if err := s.channel.QueueBind(s.queue, key, EventsExchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func (s *session) Publish(ctx context.Context, msg realtime.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.channel.PublishWithContext(ctx, EventsExchange, RoutingKey(s.outletID, msg.Name), false, false,
		amqp091.Publishing{
			ContentType: "application/json",
			AppId:       s.origin,
			Type:        msg.Name,
			Body:        msg.Body,
			Timestamp:   time.Now(),
		})
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Name, err)
	}
	return nil
}

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		// Closing the connection closes the channel and the deliveries.
		err = s.conn.Close()
		if err == amqp091.ErrClosed {
			err = nil
		}
	})
	return err
}
