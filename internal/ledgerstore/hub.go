package ledgerstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"savings-tracker/internal/notify"
)

type readFunc func(ctx context.Context, ledger Path) (Snapshot, error)

// hub turns change notifications into snapshot callbacks. Each subscription
// owns one goroutine and a one-slot signal channel, so bursts of changes
// coalesce into a single re-read and publishers never wait on consumers.
type hub struct {
	mu         sync.Mutex
	subs       map[string]map[*subscription]struct{}
	closed     bool
	notifier   notify.Notifier
	stopListen func()
	read       readFunc
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func newHub(notifier notify.Notifier, read readFunc, logger *slog.Logger) *hub {
	h := &hub{
		subs:     make(map[string]map[*subscription]struct{}),
		notifier: notifier,
		read:     read,
		logger:   logger,
	}
	h.stopListen = notifier.Subscribe(h.signal)
	return h
}

func (h *hub) signal(ledgerKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[ledgerKey] {
		s.poke()
	}
}

// publish announces committed changes. It runs detached from the caller's
// cancellation since the write already happened.
func (h *hub) publish(ctx context.Context, ledgers ...Path) {
	ctx = context.WithoutCancel(ctx)
	for _, ledger := range ledgers {
		if err := h.notifier.Publish(ctx, ledger.Key()); err != nil && !errors.Is(err, notify.ErrClosed) {
			h.logger.WarnContext(ctx, "failed to publish ledger change", "ledger", ledger.Key(), "error", err)
		}
	}
}

func (h *hub) subscribe(ctx context.Context, ledger Path, onChange func(Snapshot)) (Subscription, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		hub:      h,
		ledger:   ledger,
		onChange: onChange,
		signal:   make(chan struct{}, 1),
		ctx:      subCtx,
		cancel:   cancel,
	}
	key := ledger.Key()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*subscription]struct{})
	}
	h.subs[key][s] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	// initial delivery of the current state
	s.poke()
	go s.run()

	return s, nil
}

func (h *hub) remove(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := s.ledger.Key()
	delete(h.subs[key], s)
	if len(h.subs[key]) == 0 {
		delete(h.subs, key)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

func (h *hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for s := range set {
			s.Cancel()
		}
	}
	h.mu.Unlock()

	h.stopListen()
	h.wg.Wait()
}

type subscription struct {
	hub      *hub
	ledger   Path
	onChange func(Snapshot)
	signal   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
}

func (s *subscription) poke() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) Cancel() {
	s.once.Do(s.cancel)
}

func (s *subscription) run() {
	defer s.hub.wg.Done()
	defer s.hub.remove(s)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.signal:
			snap, err := s.hub.read(s.ctx, s.ledger)
			if s.ctx.Err() != nil {
				return
			}
			if err != nil {
				s.hub.logger.Warn("failed to read ledger for subscriber", "ledger", s.ledger.Key(), "error", err)
				continue
			}
			s.onChange(snap)
		}
	}
}
