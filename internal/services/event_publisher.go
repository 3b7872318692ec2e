package services

import (
	"context"
	"fmt"
	"time"

	"savings-tracker/internal/events"
	"savings-tracker/internal/models"
)

const eventStreamService = "event_stream"

// ResilientPublisher puts a circuit breaker and a per-event timeout in front
// of a downstream publisher so a slow broker cannot stall ledger writes.
type ResilientPublisher struct {
	next    EventPublisherInterface
	breaker CircuitBreakerInterface
	metrics MetricsRecorderInterface
	timeout time.Duration
}

func NewResilientPublisher(
	next EventPublisherInterface,
	config CircuitBreakerConfig,
	timeout time.Duration,
	metrics MetricsRecorderInterface,
	audit AuditLoggerInterface,
) EventPublisherInterface {
	config.OnStateChange = func(from, to models.CircuitBreakerState) {
		metrics.RecordGauge("circuit_breaker.state", float64(to), map[string]string{"service": eventStreamService})
		audit.LogCircuitBreakerStateChange(context.Background(), eventStreamService, from.String(), to.String())
	}

	return &ResilientPublisher{
		next:    next,
		breaker: NewCircuitBreaker(config),
		metrics: metrics,
		timeout: timeout,
	}
}

func (p *ResilientPublisher) Publish(ctx context.Context, event events.LedgerEvent) error {
	if p.breaker.IsOpen() {
		p.count("skipped")
		return fmt.Errorf("publish %s: %w", event.Type, ErrCircuitBreakerOpen)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.next.Publish(ctx, event); err != nil {
		p.breaker.RecordFailure()
		p.count("failed")
		return err
	}

	p.breaker.RecordSuccess()
	p.count("success")
	return nil
}

func (p *ResilientPublisher) Close() error {
	return p.next.Close()
}

func (p *ResilientPublisher) count(status string) {
	p.metrics.IncrementCounter("ledger.event.published", map[string]string{"status": status})
}
