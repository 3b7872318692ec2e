package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisChannel = "ledger_changes"

// Redis publishes change signals on a pub/sub channel so that every instance
// sharing the database sees writes made by the others.
type Redis struct {
	*dispatcher
	rdb     *redis.Client
	channel string
	pubsub  *redis.PubSub
	logger  *slog.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ Notifier = (*Redis)(nil)

// NewRedis subscribes to channel and starts the listener goroutine.
func NewRedis(ctx context.Context, rdb *redis.Client, channel string, logger *slog.Logger) (*Redis, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}

	pubsub := rdb.Subscribe(ctx, channel)

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	n := &Redis{
		dispatcher: newDispatcher(),
		rdb:        rdb,
		channel:    channel,
		pubsub:     pubsub,
		logger:     logger,
		cancel:     cancel,
	}

	n.wg.Add(1)
	go n.listen(listenCtx)

	logger.Info("subscribed to ledger change channel", "channel", channel)
	return n, nil
}

func (n *Redis) listen(ctx context.Context) {
	defer n.wg.Done()
	ch := n.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg == nil {
				continue
			}

			ledgerKey, err := decodeChange([]byte(msg.Payload))
			if err != nil {
				n.logger.Warn("dropping malformed change message", "channel", n.channel, "error", err)
				continue
			}
			n.dispatch(ledgerKey)
		}
	}
}

func (n *Redis) Publish(ctx context.Context, ledgerKey string) error {
	if n.isClosed() {
		return ErrClosed
	}

	body, err := encodeChange(ledgerKey)
	if err != nil {
		return err
	}

	if err := n.rdb.Publish(ctx, n.channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish ledger change: %w", err)
	}
	return nil
}

func (n *Redis) Subscribe(handler Handler) func() {
	return n.add(handler)
}

func (n *Redis) Close() error {
	if !n.close() {
		return nil
	}
	n.cancel()
	err := n.pubsub.Close()
	n.wg.Wait()
	return err
}
