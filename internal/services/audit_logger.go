package services

import (
	"context"
	"log/slog"
	"time"

	"savings-tracker/internal/models"

	"github.com/shopspring/decimal"
)

type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) AuditLoggerInterface {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger: logger,
	}
}

func (al *AuditLogger) LogLedgerMutation(ctx context.Context, operation, userID, transactionID string, delta decimal.Decimal) {
	al.logger.InfoContext(ctx, "ledger mutation",
		slog.String("event_type", "ledger_mutation"),
		slog.String("operation", operation),
		slog.String("user_id", userID),
		slog.String("transaction_id", transactionID),
		slog.String("delta", delta.String()),
		slog.Time("timestamp", time.Now()),
		slog.String("correlation_id", getCorrelationID(ctx)),
	)
}

// LogPartialFailure records a mutation that left total_savings out of step
// with the transaction list. Reconcile repairs it.
func (al *AuditLogger) LogPartialFailure(ctx context.Context, operation, userID, transactionID string, err error) {
	al.logger.ErrorContext(ctx, "ledger partially updated",
		slog.String("event_type", "ledger_partial_failure"),
		slog.String("operation", operation),
		slog.String("user_id", userID),
		slog.String("transaction_id", transactionID),
		slog.String("error", err.Error()),
		slog.Time("timestamp", time.Now()),
		slog.String("correlation_id", getCorrelationID(ctx)),
	)
}

func (al *AuditLogger) LogVersionConflict(ctx context.Context, userID, transactionID string, expectedVersion int64) {
	al.logger.WarnContext(ctx, "optimistic lock conflict",
		slog.String("event_type", "optimistic_lock_conflict"),
		slog.String("user_id", userID),
		slog.String("transaction_id", transactionID),
		slog.Int64("expected_version", expectedVersion),
		slog.Time("timestamp", time.Now()),
		slog.String("correlation_id", getCorrelationID(ctx)),
	)
}

func (al *AuditLogger) LogReconciled(ctx context.Context, userID string, before, after decimal.Decimal) {
	al.logger.WarnContext(ctx, "ledger total reconciled",
		slog.String("event_type", "ledger_reconciled"),
		slog.String("user_id", userID),
		slog.String("old_total", before.String()),
		slog.String("new_total", after.String()),
		slog.Time("timestamp", time.Now()),
		slog.String("correlation_id", getCorrelationID(ctx)),
	)
}

func (al *AuditLogger) LogCircuitBreakerStateChange(ctx context.Context, service string, oldState, newState string) {
	al.logger.WarnContext(ctx, "circuit breaker state change",
		slog.String("event_type", "circuit_breaker_state_change"),
		slog.String("service", service),
		slog.String("old_state", oldState),
		slog.String("new_state", newState),
		slog.Time("timestamp", time.Now()),
		slog.String("correlation_id", getCorrelationID(ctx)),
	)
}

func (al *AuditLogger) LogAuthEvent(ctx context.Context, event models.AuthEvent) {
	attrs := []slog.Attr{
		slog.String("event_type", "auth_"+event.Type),
		slog.String("ip_address", event.IPAddress),
		slog.String("user_agent", event.UserAgent),
		slog.Time("timestamp", time.Now()),
		slog.String("correlation_id", getCorrelationID(ctx)),
	}

	if event.UserID != nil {
		attrs = append(attrs, slog.String("user_id", event.UserID.String()))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", event.Email))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}

	level := slog.LevelInfo
	if event.IsFailure() {
		level = slog.LevelWarn
	}

	al.logger.LogAttrs(ctx, level, "authentication event", attrs...)
}

type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	RequestIDKey     contextKey = "request_id"
)

func getCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	if correlationID, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return correlationID
	}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}

	return ""
}
