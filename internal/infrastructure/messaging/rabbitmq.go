package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/slotline/courtqueue/internal/infrastructure/logging"
)

const (
	// Per-subscriber relay buffer. A subscriber whose buffer is full has
	// events dropped; after maxConsecutiveDrops in a row the subscription
	// is closed so the listener reconnects instead of starving silently.
	subscriberBuffer    = 64
	maxConsecutiveDrops = 256
)

// RabbitMQ is the process-wide broker handle: one connection and one
// publish channel, dialed in main and closed on shutdown. Subscriptions
// get their own channels off the shared connection.
type RabbitMQ struct {
	conn     *amqp.Connection
	Channel  *amqp.Channel
	exchange string
	logger   logging.Logger

	// OnDrop is invoked once per event dropped for a slow subscriber.
	OnDrop func()
}

func NewRabbitMQ(uri, exchange string, logger logging.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %v", err)
	}

	// Fanout: every bound queue sees every event, no addressing.
	if err := ch.ExchangeDeclare(
		exchange, // name
		"fanout", // kind
		true,     // durable
		false,    // auto-delete
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %v", exchange, err)
	}

	rmq := &RabbitMQ{
		conn:     conn,
		Channel:  ch,
		exchange: exchange,
		logger:   logger,
	}

	return rmq, nil
}

// IsClosed reports whether the underlying connection has been lost.
func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		r.Channel.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}

// PublishMessage hands one serialized event to the fanout exchange. No
// persistence, no confirms: zero bound queues means the event is gone.
func (r *RabbitMQ) PublishMessage(ctx context.Context, body []byte) error {
	return r.Channel.PublishWithContext(ctx,
		r.exchange, // exchange
		"",         // routing key (ignored by fanout)
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		},
	)
}

// DeclareDurableQueue declares queueName as durable and binds it to the
// broadcast exchange. Used by the audit worker; the queue outlives
// disconnects and replays what the worker missed.
func (r *RabbitMQ) DeclareDurableQueue(queueName string) error {
	q, err := r.Channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %v", queueName, err)
	}

	if err := r.Channel.QueueBind(
		q.Name,     // queue name
		"",         // routing key
		r.exchange, // exchange
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind queue %s: %v", queueName, err)
	}

	return nil
}

// ConsumeMessages runs handler for every delivery on queueName until ctx is
// done or the channel closes. Handler errors reject the delivery without
// requeueing.
func (r *RabbitMQ) ConsumeMessages(ctx context.Context, queueName string, handler func(ctx context.Context, msg amqp.Delivery) error) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to create consumer channel: %v", err)
	}
	defer ch.Close()

	deliveries, err := ch.Consume(
		queueName, // queue
		"",        // consumer tag
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %v", queueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consumer channel for %s closed", queueName)
			}

			if err := handler(ctx, msg); err != nil {
				r.logger.Error(logging.RabbitMQ, logging.Worker, "failed to handle message", map[logging.ExtraKey]any{
					logging.ErrorMessage: err.Error(),
				})
				_ = msg.Nack(false, false)
				continue
			}

			_ = msg.Ack(false)
		}
	}
}

// Subscription is one listener's ephemeral binding to the broadcast
// exchange. It dies with the listener; nothing is replayed.
type Subscription interface {
	Events() <-chan []byte
	Close()
}

type broadcastSubscription struct {
	events    chan []byte
	ch        *amqp.Channel
	closeOnce sync.Once
}

func (s *broadcastSubscription) Events() <-chan []byte {
	return s.events
}

func (s *broadcastSubscription) Close() {
	s.closeOnce.Do(func() {
		// Closing the channel ends the delivery stream; the relay
		// goroutine then closes the events chan.
		_ = s.ch.Close()
	})
}

// SubscribeBroadcast binds a server-named, exclusive, auto-delete queue to
// the broadcast exchange on a dedicated channel and relays deliveries into
// a bounded buffer. Events that arrive while the buffer is full are
// dropped; after maxConsecutiveDrops in a row the subscription shuts down.
func (r *RabbitMQ) SubscribeBroadcast(ctx context.Context, clientID string) (Subscription, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriber channel: %v", err)
	}

	q, err := ch.QueueDeclare(
		"",    // name (server-generated)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare subscriber queue: %v", err)
	}

	if err := ch.QueueBind(q.Name, "", r.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind subscriber queue: %v", err)
	}

	deliveries, err := ch.Consume(
		q.Name,   // queue
		clientID, // consumer tag
		true,     // auto-ack: at-most-once is the contract here
		true,     // exclusive
		false,    // no-local
		false,    // no-wait
		nil,      // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume subscriber queue: %v", err)
	}

	sub := &broadcastSubscription{
		events: make(chan []byte, subscriberBuffer),
		ch:     ch,
	}

	go func() {
		defer close(sub.events)
		defer sub.Close()
		r.relay(ctx, clientID, deliveries, sub.events)
	}()

	return sub, nil
}

// relay pumps deliveries into events until ctx is done, the delivery
// stream closes, or the subscriber falls maxConsecutiveDrops behind. A
// successful send resets the drop counter, so only a sustained stall ends
// the subscription.
func (r *RabbitMQ) relay(ctx context.Context, clientID string, deliveries <-chan amqp.Delivery, events chan<- []byte) {
	drops := 0
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}

			select {
			case events <- msg.Body:
				drops = 0
			default:
				drops++
				if r.OnDrop != nil {
					r.OnDrop()
				}
				r.logger.Warn(logging.RabbitMQ, logging.Bridge, "dropping event for slow subscriber", map[logging.ExtraKey]any{
					"client_id": clientID,
					"drops":     drops,
				})
				if drops >= maxConsecutiveDrops {
					r.logger.Warn(logging.RabbitMQ, logging.Bridge, "closing subscription after sustained overflow", map[logging.ExtraKey]any{
						"client_id": clientID,
					})
					return
				}
			}
		}
	}
}
