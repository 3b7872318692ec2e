package notify

import "context"

// Local delivers notifications synchronously inside one process.
type Local struct {
	*dispatcher
}

var _ Notifier = (*Local)(nil)

func NewLocal() *Local {
	return &Local{dispatcher: newDispatcher()}
}

func (l *Local) Publish(ctx context.Context, ledgerKey string) error {
	if l.isClosed() {
		return ErrClosed
	}
	l.dispatch(ledgerKey)
	return nil
}

func (l *Local) Subscribe(handler Handler) func() {
	return l.add(handler)
}

func (l *Local) Close() error {
	l.close()
	return nil
}
