// Package notify fans out "ledger changed" signals between store writers and
// ledger subscribers, in-process or across instances.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrClosed = errors.New("notifier is closed")

// Handler receives the key of a ledger whose subtree changed.
type Handler func(ledgerKey string)

type Notifier interface {
	Publish(ctx context.Context, ledgerKey string) error
	Subscribe(handler Handler) (cancel func())
	Close() error
}

// ChangeMessage is the wire payload for the broker-backed notifiers.
type ChangeMessage struct {
	Ledger    string    `json:"ledger"`
	Timestamp time.Time `json:"timestamp"`
}

func encodeChange(ledgerKey string) ([]byte, error) {
	body, err := json.Marshal(ChangeMessage{Ledger: ledgerKey, Timestamp: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal change message: %w", err)
	}
	return body, nil
}

func decodeChange(body []byte) (string, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", fmt.Errorf("unmarshal change message: %w", err)
	}
	if msg.Ledger == "" {
		return "", errors.New("change message without ledger key")
	}
	return msg.Ledger, nil
}

// dispatcher is the handler registry shared by every backend.
type dispatcher struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	closed   bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[int]Handler)}
}

func (d *dispatcher) add(handler Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return func() {}
	}

	id := d.nextID
	d.nextID++
	d.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.handlers, id)
			d.mu.Unlock()
		})
	}
}

func (d *dispatcher) dispatch(ledgerKey string) {
	d.mu.RLock()
	handlers := make([]Handler, 0, len(d.handlers))
	for _, h := range d.handlers {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		h(ledgerKey)
	}
}

func (d *dispatcher) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// close drops all handlers. It reports false if already closed.
func (d *dispatcher) close() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	d.closed = true
	d.handlers = make(map[int]Handler)
	return true
}
