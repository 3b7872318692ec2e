package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const DefaultAMQPExchange = "ledger.changes"

// AMQP broadcasts change signals through a fanout exchange. Each instance
// consumes from its own exclusive, auto-deleted queue.
type AMQP struct {
	*dispatcher
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	queue    string
	logger   *slog.Logger
	pubMu    sync.Mutex
	wg       sync.WaitGroup
}

var _ Notifier = (*AMQP)(nil)

func NewAMQP(url, exchange string, logger *slog.Logger) (*AMQP, error) {
	if exchange == "" {
		exchange = DefaultAMQPExchange
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	n := &AMQP{
		dispatcher: newDispatcher(),
		conn:       conn,
		channel:    channel,
		exchange:   exchange,
		logger:     logger,
	}

	deliveries, err := n.setup()
	if err != nil {
		n.channel.Close()
		n.conn.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	n.wg.Add(1)
	go n.consume(deliveries)

	return n, nil
}

func (n *AMQP) setup() (<-chan amqp091.Delivery, error) {
	err := n.channel.ExchangeDeclare(
		n.exchange, // name
		"fanout",   // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := n.channel.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	n.queue = q.Name

	if err := n.channel.QueueBind(q.Name, "", n.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	// change signals are idempotent, so auto-ack is enough
	deliveries, err := n.channel.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("start consuming: %w", err)
	}
	return deliveries, nil
}

func (n *AMQP) consume(deliveries <-chan amqp091.Delivery) {
	defer n.wg.Done()

	for delivery := range deliveries {
		ledgerKey, err := decodeChange(delivery.Body)
		if err != nil {
			n.logger.Warn("dropping malformed change message", "queue", n.queue, "error", err)
			continue
		}
		n.dispatch(ledgerKey)
	}
}

func (n *AMQP) Publish(ctx context.Context, ledgerKey string) error {
	if n.isClosed() {
		return ErrClosed
	}

	body, err := encodeChange(ledgerKey)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// amqp091 channels are not safe for concurrent publishing
	n.pubMu.Lock()
	defer n.pubMu.Unlock()

	err = n.channel.PublishWithContext(
		ctx,
		n.exchange, // exchange
		"",         // routing key, ignored by fanout
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (n *AMQP) Subscribe(handler Handler) func() {
	return n.add(handler)
}

func (n *AMQP) Close() error {
	if !n.close() {
		return nil
	}
	n.channel.Close()
	err := n.conn.Close()
	n.wg.Wait()
	return err
}
