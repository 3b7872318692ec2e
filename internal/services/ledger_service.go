package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"savings-tracker/internal/events"
	"savings-tracker/internal/ledgerstore"
	"savings-tracker/internal/models"
	"savings-tracker/internal/session"
	"savings-tracker/internal/validation"

	"github.com/shopspring/decimal"
)

const (
	OperationSetTarget         = "set_target"
	OperationAddTransaction    = "add_transaction"
	OperationEditTransaction   = "edit_transaction"
	OperationDeleteTransaction = "delete_transaction"
	OperationSubscribe         = "subscribe"
	OperationSnapshot          = "snapshot"
	OperationReconcile         = "reconcile"
)

// TransactionInput is a transaction as the user enters it: a positive
// magnitude plus a type. The stored amount is signed from the type.
type TransactionInput struct {
	Description string          `json:"description" validate:"not_blank"`
	Amount      decimal.Decimal `json:"amount" validate:"positive_amount"`
	Date        string          `json:"date" validate:"calendar_date"`
	Type        string          `json:"type" validate:"transaction_type"`
}

func (in TransactionInput) record() models.LedgerTransaction {
	return models.LedgerTransaction{
		Description: strings.TrimSpace(in.Description),
		Amount:      models.SignedAmount(in.Amount, in.Type),
		Date:        in.Date,
		Type:        in.Type,
	}
}

type editOptions struct {
	expectedVersion *int64
}

// EditOption tunes EditTransaction and DeleteTransaction.
type EditOption func(*editOptions)

// WithExpectedVersion applies the change only if the stored record is still
// at version v. Otherwise the call fails with ErrVersionConflict and changes
// nothing.
func WithExpectedVersion(v int64) EditOption {
	return func(o *editOptions) {
		o.expectedVersion = &v
	}
}

func collectEditOptions(opts []EditOption) editOptions {
	var o editOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type ReconcileResult struct {
	UserID    string          `json:"userId"`
	Before    decimal.Decimal `json:"before"`
	After     decimal.Decimal `json:"after"`
	Drift     decimal.Decimal `json:"drift"`
	Corrected bool            `json:"corrected"`
}

type LedgerService struct {
	store     ledgerstore.Store
	root      string
	publisher EventPublisherInterface
	metrics   MetricsRecorderInterface
	audit     AuditLoggerInterface
	validator *validation.Validator
	logger    *slog.Logger
	now       func() time.Time

	activeSubscriptions atomic.Int64
}

// NewLedgerService wires the maintainer. publisher may be nil when the
// mutation stream is disabled.
func NewLedgerService(
	store ledgerstore.Store,
	root string,
	publisher EventPublisherInterface,
	metrics MetricsRecorderInterface,
	audit AuditLoggerInterface,
	logger *slog.Logger,
) LedgerServiceInterface {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{
		store:     store,
		root:      root,
		publisher: publisher,
		metrics:   metrics,
		audit:     audit,
		validator: validation.GetValidator(),
		logger:    logger.With("component", "ledger_service"),
		now:       time.Now,
	}
}

func (s *LedgerService) SetTarget(ctx context.Context, gate session.Gate, target decimal.Decimal) (err error) {
	defer s.observe(OperationSetTarget, time.Now(), &err)

	scope, err := session.Resolve(gate, s.root)
	if err != nil {
		return err
	}

	if target.IsNegative() {
		return &ValidationError{Field: "target", Reason: "must not be negative"}
	}
	if !validation.FitsAmountScale(target) {
		return &ValidationError{Field: "target", Reason: "must have at most 2 decimal places"}
	}

	if err := s.store.Write(ctx, scope.Ledger.Target(), ledgerstore.ValueNode(target)); err != nil {
		return storeError("set target", err)
	}

	s.audit.LogLedgerMutation(ctx, OperationSetTarget, scope.Identity.UserID, "", decimal.Zero)
	s.publish(ctx, events.LedgerEvent{
		Type:   events.TypeTargetSet,
		UserID: scope.Identity.UserID,
		Amount: &target,
		Delta:  decimal.Zero,
	})

	return nil
}

// AddTransaction appends the record, then increments total_savings by its
// signed amount. The two steps are not atomic: when the increment fails the
// record stays and a partial *StoreError carrying its id is returned.
func (s *LedgerService) AddTransaction(ctx context.Context, gate session.Gate, input TransactionInput) (id string, err error) {
	defer s.observe(OperationAddTransaction, time.Now(), &err)

	scope, err := session.Resolve(gate, s.root)
	if err != nil {
		return "", err
	}

	if err := s.validateInput(input); err != nil {
		return "", err
	}

	record := input.record()

	id, err = s.store.Append(ctx, scope.Ledger.Transactions(), ledgerstore.TransactionNode(record))
	if err != nil {
		return "", storeError("add transaction", err)
	}

	if err := s.store.IncrementAtomic(ctx, scope.Ledger.TotalSavings(), record.Amount); err != nil {
		s.audit.LogPartialFailure(ctx, OperationAddTransaction, scope.Identity.UserID, id, err)
		return id, partialError("add transaction", id, err)
	}

	s.audit.LogLedgerMutation(ctx, OperationAddTransaction, scope.Identity.UserID, id, record.Amount)
	s.publish(ctx, events.LedgerEvent{
		Type:          events.TypeTransactionAdded,
		UserID:        scope.Identity.UserID,
		TransactionID: id,
		Amount:        &record.Amount,
		Delta:         record.Amount,
	})

	return id, nil
}

// EditTransaction replaces a record and moves total_savings by the change in
// its signed amount, in one atomic multi-path update. The old amount comes
// from a read that may be stale unless WithExpectedVersion is given.
func (s *LedgerService) EditTransaction(ctx context.Context, gate session.Gate, id string, input TransactionInput, opts ...EditOption) (err error) {
	defer s.observe(OperationEditTransaction, time.Now(), &err)

	scope, err := session.Resolve(gate, s.root)
	if err != nil {
		return err
	}

	if err := s.validateInput(input); err != nil {
		return err
	}

	old, err := s.readTransaction(ctx, scope, id)
	if err != nil {
		return err
	}

	o := collectEditOptions(opts)
	record := input.record()
	delta := record.Amount.Sub(old.Amount)
	path := scope.Ledger.Transaction(id)

	set := ledgerstore.SetUpdate(path, ledgerstore.TransactionNode(record))
	if o.expectedVersion != nil {
		set = set.IfVersion(*o.expectedVersion)
	}

	err = s.store.MultiUpdate(ctx, []ledgerstore.Update{
		set,
		ledgerstore.IncrementUpdate(scope.Ledger.TotalSavings(), delta),
	})
	if err != nil {
		return s.conditionalError(ctx, "edit transaction", scope, id, o, err)
	}

	s.audit.LogLedgerMutation(ctx, OperationEditTransaction, scope.Identity.UserID, id, delta)
	s.publish(ctx, events.LedgerEvent{
		Type:          events.TypeTransactionEdited,
		UserID:        scope.Identity.UserID,
		TransactionID: id,
		Amount:        &record.Amount,
		Delta:         delta,
	})

	return nil
}

// DeleteTransaction removes a record and decrements total_savings by its
// signed amount. Without an expected version this is two steps and a failed
// decrement yields a partial *StoreError; with one, both land atomically.
func (s *LedgerService) DeleteTransaction(ctx context.Context, gate session.Gate, id string, opts ...EditOption) (err error) {
	defer s.observe(OperationDeleteTransaction, time.Now(), &err)

	scope, err := session.Resolve(gate, s.root)
	if err != nil {
		return err
	}

	old, err := s.readTransaction(ctx, scope, id)
	if err != nil {
		return err
	}

	o := collectEditOptions(opts)
	path := scope.Ledger.Transaction(id)
	delta := old.Amount.Neg()

	if o.expectedVersion != nil {
		err = s.store.MultiUpdate(ctx, []ledgerstore.Update{
			ledgerstore.RemoveUpdate(path).IfVersion(*o.expectedVersion),
			ledgerstore.IncrementUpdate(scope.Ledger.TotalSavings(), delta),
		})
		if err != nil {
			return s.conditionalError(ctx, "delete transaction", scope, id, o, err)
		}
	} else {
		if err := s.store.Delete(ctx, path); err != nil {
			return storeError("delete transaction", err)
		}
		if err := s.store.IncrementAtomic(ctx, scope.Ledger.TotalSavings(), delta); err != nil {
			s.audit.LogPartialFailure(ctx, OperationDeleteTransaction, scope.Identity.UserID, id, err)
			return partialError("delete transaction", id, err)
		}
	}

	s.audit.LogLedgerMutation(ctx, OperationDeleteTransaction, scope.Identity.UserID, id, delta)
	s.publish(ctx, events.LedgerEvent{
		Type:          events.TypeTransactionDeleted,
		UserID:        scope.Identity.UserID,
		TransactionID: id,
		Delta:         delta,
	})

	return nil
}

// SubscribeLedger streams snapshots of the caller's ledger: once right away,
// then after every change. The subscription also ends when the gate's
// identity drops or switches to another user.
func (s *LedgerService) SubscribeLedger(ctx context.Context, gate session.Gate, onChange func(ledgerstore.Snapshot)) (sub ledgerstore.Subscription, err error) {
	defer s.observe(OperationSubscribe, time.Now(), &err)

	scope, err := session.Resolve(gate, s.root)
	if err != nil {
		return nil, err
	}

	inner, err := s.store.Subscribe(ctx, scope.Ledger, onChange)
	if err != nil {
		return nil, storeError("subscribe", err)
	}

	ls := &ledgerSubscription{inner: inner, release: s.releaseSubscription}
	s.metrics.RecordGauge("ledger.subscriptions.active", float64(s.activeSubscriptions.Add(1)), nil)

	ls.stopWatch = gate.OnIdentityChange(func(id session.Identity, ok bool) {
		if !ok || id.UserID != scope.Identity.UserID {
			ls.Cancel()
		}
	})
	ls.stopAfter = context.AfterFunc(ctx, ls.Cancel)

	// the identity may have dropped before the watcher was registered
	if _, err := session.Resolve(gate, s.root); err != nil {
		ls.Cancel()
	}

	return ls, nil
}

func (s *LedgerService) releaseSubscription() {
	s.metrics.RecordGauge("ledger.subscriptions.active", float64(s.activeSubscriptions.Add(-1)), nil)
}

type ledgerSubscription struct {
	inner     ledgerstore.Subscription
	release   func()
	stopWatch func()
	stopAfter func() bool
	once      sync.Once
}

func (l *ledgerSubscription) Cancel() {
	l.once.Do(func() {
		l.inner.Cancel()
		if l.stopWatch != nil {
			l.stopWatch()
		}
		if l.stopAfter != nil {
			l.stopAfter()
		}
		l.release()
	})
}

// Snapshot reads the caller's whole ledger once.
func (s *LedgerService) Snapshot(ctx context.Context, gate session.Gate) (snap ledgerstore.Snapshot, err error) {
	defer s.observe(OperationSnapshot, time.Now(), &err)

	scope, err := session.Resolve(gate, s.root)
	if err != nil {
		return ledgerstore.Snapshot{}, err
	}

	snap, err = s.store.ReadOnce(ctx, scope.Ledger)
	if err != nil {
		return ledgerstore.Snapshot{}, storeError("read ledger", err)
	}
	return snap, nil
}

// Reconcile recomputes total_savings from the transaction list and writes it
// back when the cached value drifted.
func (s *LedgerService) Reconcile(ctx context.Context, gate session.Gate) (result *ReconcileResult, err error) {
	defer s.observe(OperationReconcile, time.Now(), &err)

	scope, err := session.Resolve(gate, s.root)
	if err != nil {
		return nil, err
	}

	snap, err := s.store.ReadOnce(ctx, scope.Ledger)
	if err != nil {
		return nil, storeError("reconcile", err)
	}

	sum := snap.Sum()
	result = &ReconcileResult{
		UserID: scope.Identity.UserID,
		Before: snap.TotalSavings,
		After:  sum,
		Drift:  sum.Sub(snap.TotalSavings),
	}

	drift, _ := result.Drift.Abs().Float64()
	s.metrics.RecordGauge("ledger.reconcile.drift", drift, map[string]string{"user_id": scope.Identity.UserID})

	if result.Drift.IsZero() {
		result.After = snap.TotalSavings
		return result, nil
	}

	if err := s.store.Write(ctx, scope.Ledger.TotalSavings(), ledgerstore.ValueNode(sum)); err != nil {
		return nil, storeError("reconcile", err)
	}
	result.Corrected = true

	s.audit.LogReconciled(ctx, scope.Identity.UserID, snap.TotalSavings, sum)
	s.publish(ctx, events.LedgerEvent{
		Type:   events.TypeLedgerReconciled,
		UserID: scope.Identity.UserID,
		Amount: &sum,
		Delta:  result.Drift,
	})

	return result, nil
}

func (s *LedgerService) validateInput(input TransactionInput) error {
	if err := s.validator.Struct(input); err != nil {
		return toValidationError(err)
	}
	return nil
}

func (s *LedgerService) readTransaction(ctx context.Context, scope session.Scope, id string) (models.LedgerTransaction, error) {
	if id == "" {
		return models.LedgerTransaction{}, &ValidationError{Field: "id", Reason: "must not be empty"}
	}

	node, ok, err := s.store.Read(ctx, scope.Ledger.Transaction(id))
	if errors.Is(err, ledgerstore.ErrInvalidPath) {
		return models.LedgerTransaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return models.LedgerTransaction{}, storeError("read transaction", err)
	}
	if !ok || node.Transaction == nil {
		return models.LedgerTransaction{}, ErrTransactionNotFound
	}
	return *node.Transaction, nil
}

func (s *LedgerService) conditionalError(ctx context.Context, op string, scope session.Scope, id string, o editOptions, err error) error {
	switch {
	case errors.Is(err, ledgerstore.ErrVersionConflict):
		if o.expectedVersion != nil {
			s.audit.LogVersionConflict(ctx, scope.Identity.UserID, id, *o.expectedVersion)
		}
		return ErrVersionConflict
	case errors.Is(err, ledgerstore.ErrNotFound):
		return ErrTransactionNotFound
	default:
		return storeError(op, err)
	}
}

// publish never fails the operation; the stream is best effort.
func (s *LedgerService) publish(ctx context.Context, event events.LedgerEvent) {
	if s.publisher == nil {
		return
	}
	event.OccurredAt = s.now().UTC()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish ledger event",
			slog.String("event_type", event.Type),
			slog.String("user_id", event.UserID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LedgerService) observe(operation string, start time.Time, errp *error) {
	s.metrics.IncrementCounter("ledger.operation", map[string]string{
		"operation": operation,
		"status":    operationStatus(*errp),
	})
	s.metrics.RecordProcessingTime("ledger.operation", time.Since(start))
}

func operationStatus(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, ErrNoIdentity):
		return "unauthenticated"
	case errors.Is(err, ErrVersionConflict):
		return "conflict"
	case errors.Is(err, ledgerstore.ErrNotFound):
		return "not_found"
	case IsPartial(err):
		return "partial"
	default:
		return "failed"
	}
}
