package ledgerstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"savings-tracker/internal/notify"
)

// core carries what both backends share: the root they serve, id
// generation, subscriptions and the closed flag.
type core struct {
	root         string
	ids          *idGenerator
	hub          *hub
	notifier     notify.Notifier
	ownsNotifier bool
	logger       *slog.Logger
	closed       atomic.Bool
}

func newCore(root string, notifier notify.Notifier, logger *slog.Logger, read readFunc) *core {
	if logger == nil {
		logger = slog.Default()
	}
	c := &core{
		root:   root,
		ids:    newIDGenerator(),
		logger: logger.With("component", "ledgerstore"),
	}
	if notifier == nil {
		notifier = notify.NewLocal()
		c.ownsNotifier = true
	}
	c.notifier = notifier
	c.hub = newHub(notifier, read, c.logger)
	return c
}

func (c *core) check(p Path, kinds ...Kind) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if p.Root != c.root {
		return fmt.Errorf("%w: root %q is not served by this store", ErrInvalidPath, p.Root)
	}
	return expectKind(p, kinds...)
}

func (c *core) checkBatch(updates []Update) ([]Path, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	for _, u := range updates {
		if u.Path.Root != c.root {
			return nil, fmt.Errorf("%w: root %q is not served by this store", ErrInvalidPath, u.Path.Root)
		}
	}
	return checkUpdates(updates)
}

func (c *core) Subscribe(ctx context.Context, ledger Path, onChange func(Snapshot)) (Subscription, error) {
	if err := c.check(ledger, KindLedger); err != nil {
		return nil, err
	}
	return c.hub.subscribe(ctx, ledger, onChange)
}

// Subscribers reports live subscriptions.
func (c *core) Subscribers() int {
	return c.hub.count()
}

func (c *core) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.hub.close()
	if c.ownsNotifier {
		return c.notifier.Close()
	}
	return nil
}
