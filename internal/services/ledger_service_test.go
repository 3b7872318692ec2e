package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"savings-tracker/internal/database"
	"savings-tracker/internal/events"
	"savings-tracker/internal/ledgerstore"
	"savings-tracker/internal/models"
	"savings-tracker/internal/services/service_mocks"
	"savings-tracker/internal/session"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

const testRoot = "savings"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyStore fails the chosen store calls and passes everything else through.
type flakyStore struct {
	ledgerstore.Store
	incrementErr error
	multiErr     error
	readErr      error

	mu     sync.Mutex
	writes int
}

func (f *flakyStore) Write(ctx context.Context, p ledgerstore.Path, node ledgerstore.Node) error {
	f.mu.Lock()
	f.writes++
	f.mu.Unlock()
	return f.Store.Write(ctx, p, node)
}

func (f *flakyStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *flakyStore) IncrementAtomic(ctx context.Context, p ledgerstore.Path, delta decimal.Decimal) error {
	if f.incrementErr != nil {
		return f.incrementErr
	}
	return f.Store.IncrementAtomic(ctx, p, delta)
}

func (f *flakyStore) MultiUpdate(ctx context.Context, updates []ledgerstore.Update) error {
	if f.multiErr != nil {
		return f.multiErr
	}
	return f.Store.MultiUpdate(ctx, updates)
}

func (f *flakyStore) ReadOnce(ctx context.Context, ledger ledgerstore.Path) (ledgerstore.Snapshot, error) {
	if f.readErr != nil {
		return ledgerstore.Snapshot{}, f.readErr
	}
	return f.Store.ReadOnce(ctx, ledger)
}

type LedgerServiceTestSuite struct {
	suite.Suite
	newStore  func(t *testing.T) ledgerstore.Store
	ctx       context.Context
	ctrl      *gomock.Controller
	store     *flakyStore
	metrics   *service_mocks.MockMetricsRecorderInterface
	audit     *service_mocks.MockAuditLoggerInterface
	publisher *service_mocks.MockEventPublisherInterface
	service   LedgerServiceInterface
	userID    string
	gate      session.Gate
}

func (s *LedgerServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.store = &flakyStore{Store: s.newStore(s.T())}
	s.metrics = service_mocks.NewMockMetricsRecorderInterface(s.ctrl)
	s.audit = service_mocks.NewMockAuditLoggerInterface(s.ctrl)
	s.publisher = service_mocks.NewMockEventPublisherInterface(s.ctrl)

	s.metrics.EXPECT().IncrementCounter(gomock.Any(), gomock.Any()).AnyTimes()
	s.metrics.EXPECT().RecordProcessingTime(gomock.Any(), gomock.Any()).AnyTimes()
	s.metrics.EXPECT().RecordGauge(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	s.audit.EXPECT().LogLedgerMutation(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	s.service = NewLedgerService(s.store, testRoot, s.publisher, s.metrics, s.audit, discardLogger())
	s.userID = gofakeit.UUID()
	s.gate = session.Fixed(session.Identity{UserID: s.userID})
}

func (s *LedgerServiceTestSuite) TearDownTest() {
	s.store.Close()
	s.ctrl.Finish()
}

func TestLedgerServiceMemoryStore(t *testing.T) {
	suite.Run(t, &LedgerServiceTestSuite{
		newStore: func(t *testing.T) ledgerstore.Store {
			return ledgerstore.NewMemoryStore(testRoot, nil, discardLogger())
		},
	})
}

func TestLedgerServiceGormStore(t *testing.T) {
	suite.Run(t, &LedgerServiceTestSuite{
		newStore: func(t *testing.T) ledgerstore.Store {
			return ledgerstore.NewGormStore(database.SetupTestDB(t).DB, testRoot, nil, discardLogger())
		},
	})
}

func input(txType string, amount int64, date string) TransactionInput {
	return TransactionInput{
		Description: gofakeit.Sentence(3),
		Amount:      decimal.NewFromInt(amount),
		Date:        date,
		Type:        txType,
	}
}

func (s *LedgerServiceTestSuite) snapshot() ledgerstore.Snapshot {
	snap, err := s.service.Snapshot(s.ctx, s.gate)
	s.Require().NoError(err)
	return snap
}

func (s *LedgerServiceTestSuite) assertConsistent() {
	snap := s.snapshot()
	s.True(snap.TotalSavings.Equal(snap.Sum()), "total %s != sum %s", snap.TotalSavings, snap.Sum())
}

func (s *LedgerServiceTestSuite) TestSetTarget() {
	s.Require().NoError(s.service.SetTarget(s.ctx, s.gate, decimal.NewFromInt(10000000)))
	s.True(s.snapshot().Target.Equal(decimal.NewFromInt(10000000)))

	s.Require().NoError(s.service.SetTarget(s.ctx, s.gate, decimal.Zero))
	s.True(s.snapshot().Target.IsZero())
}

func (s *LedgerServiceTestSuite) TestSetTarget_IsIdempotent() {
	s.Require().NoError(s.service.SetTarget(s.ctx, s.gate, decimal.NewFromInt(100)))
	once := s.snapshot()

	s.Require().NoError(s.service.SetTarget(s.ctx, s.gate, decimal.NewFromInt(100)))
	twice := s.snapshot()

	s.True(twice.Target.Equal(once.Target))
	s.True(twice.Target.Equal(decimal.NewFromInt(100)))
	s.True(twice.TotalSavings.Equal(once.TotalSavings))
}

func (s *LedgerServiceTestSuite) TestSetTarget_RejectsNegative() {
	s.Require().NoError(s.service.SetTarget(s.ctx, s.gate, decimal.NewFromInt(2000000)))
	writes := s.store.writeCount()

	err := s.service.SetTarget(s.ctx, s.gate, decimal.NewFromInt(-5))

	var verr *ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Equal("target", verr.Field)
	s.Equal(writes, s.store.writeCount())
	s.True(s.snapshot().Target.Equal(decimal.NewFromInt(2000000)))
}

func (s *LedgerServiceTestSuite) TestSetTarget_RejectsSubCentPrecision() {
	err := s.service.SetTarget(s.ctx, s.gate, decimal.RequireFromString("1500000.005"))

	var verr *ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Equal("target", verr.Field)
	s.Zero(s.store.writeCount())
}

func (s *LedgerServiceTestSuite) TestAddTransaction_DepositAndWithdrawal() {
	depositID, err := s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 500000, "2024-03-01"))
	s.Require().NoError(err)
	withdrawalID, err := s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeWithdrawal, 150000, "2024-03-02"))
	s.Require().NoError(err)
	s.NotEqual(depositID, withdrawalID)

	snap := s.snapshot()
	s.True(snap.TotalSavings.Equal(decimal.NewFromInt(350000)))

	withdrawal, ok := snap.Find(withdrawalID)
	s.Require().True(ok)
	s.True(withdrawal.Amount.Equal(decimal.NewFromInt(-150000)))
	s.Equal(models.TransactionTypeWithdrawal, withdrawal.Type)
	s.assertConsistent()
}

func (s *LedgerServiceTestSuite) TestAddTransaction_RejectsSubCentAmounts() {
	for i := 0; i < 3; i++ {
		in := input(models.TransactionTypeDeposit, 0, "2024-03-01")
		in.Amount = decimal.RequireFromString("0.004")

		_, err := s.service.AddTransaction(s.ctx, s.gate, in)

		var verr *ValidationError
		s.Require().ErrorAs(err, &verr)
		s.Equal("amount", verr.Field)
	}

	snap := s.snapshot()
	s.Empty(snap.Transactions)
	s.True(snap.TotalSavings.IsZero())
}

func (s *LedgerServiceTestSuite) TestAddTransaction_CentsSurviveRoundTrip() {
	for _, amount := range []string{"0.01", "0.10", "12500.55"} {
		in := input(models.TransactionTypeDeposit, 0, "2024-03-01")
		in.Amount = decimal.RequireFromString(amount)
		_, err := s.service.AddTransaction(s.ctx, s.gate, in)
		s.Require().NoError(err)
	}

	snap := s.snapshot()
	s.True(snap.TotalSavings.Equal(decimal.RequireFromString("12500.66")), snap.TotalSavings.String())
	for _, tx := range snap.Transactions {
		s.True(tx.Amount.IsPositive())
	}
	s.assertConsistent()
}

func (s *LedgerServiceTestSuite) TestAddTransaction_OrderDoesNotChangeTotal() {
	a := input(models.TransactionTypeDeposit, 450000, "2024-02-01")
	b := input(models.TransactionTypeWithdrawal, 125000, "2024-02-03")

	_, err := s.service.AddTransaction(s.ctx, s.gate, a)
	s.Require().NoError(err)
	_, err = s.service.AddTransaction(s.ctx, s.gate, b)
	s.Require().NoError(err)

	reversed := session.Fixed(session.Identity{UserID: gofakeit.UUID()})
	_, err = s.service.AddTransaction(s.ctx, reversed, b)
	s.Require().NoError(err)
	_, err = s.service.AddTransaction(s.ctx, reversed, a)
	s.Require().NoError(err)

	abSnap := s.snapshot()
	baSnap, err := s.service.Snapshot(s.ctx, reversed)
	s.Require().NoError(err)

	s.True(abSnap.TotalSavings.Equal(decimal.NewFromInt(325000)), abSnap.TotalSavings.String())
	s.True(baSnap.TotalSavings.Equal(abSnap.TotalSavings), baSnap.TotalSavings.String())
}

func (s *LedgerServiceTestSuite) TestAddEditDelete_WeddingFundSequence() {
	gift := TransactionInput{Description: "Gift", Amount: decimal.NewFromInt(500000), Date: "2024-01-01", Type: models.TransactionTypeDeposit}
	giftID, err := s.service.AddTransaction(s.ctx, s.gate, gift)
	s.Require().NoError(err)

	snap := s.snapshot()
	s.True(snap.TotalSavings.Equal(decimal.NewFromInt(500000)), snap.TotalSavings.String())
	s.Require().Len(snap.Transactions, 1)
	s.True(snap.Transactions[0].Amount.Equal(decimal.NewFromInt(500000)))

	venue := TransactionInput{Description: "Venue", Amount: decimal.NewFromInt(200000), Date: "2024-01-05", Type: models.TransactionTypeWithdrawal}
	venueID, err := s.service.AddTransaction(s.ctx, s.gate, venue)
	s.Require().NoError(err)
	s.True(s.snapshot().TotalSavings.Equal(decimal.NewFromInt(300000)))

	gift.Amount = decimal.NewFromInt(700000)
	s.Require().NoError(s.service.EditTransaction(s.ctx, s.gate, giftID, gift))
	s.True(s.snapshot().TotalSavings.Equal(decimal.NewFromInt(500000)))

	s.Require().NoError(s.service.DeleteTransaction(s.ctx, s.gate, venueID))
	snap = s.snapshot()
	s.True(snap.TotalSavings.Equal(decimal.NewFromInt(700000)), snap.TotalSavings.String())
	s.Len(snap.Transactions, 1)
	s.assertConsistent()
}

func (s *LedgerServiceTestSuite) TestSnapshot_OrdersTransactionsByDate() {
	_, err := s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 300000, "2024-06-01"))
	s.Require().NoError(err)
	backdated, err := s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 100000, "2024-01-10"))
	s.Require().NoError(err)

	rec := &snapshotRecorder{}
	sub, err := s.service.SubscribeLedger(s.ctx, s.gate, rec.record)
	s.Require().NoError(err)
	defer sub.Cancel()
	s.Eventually(func() bool { return rec.count() >= 1 }, time.Second, 10*time.Millisecond)

	pushed := rec.last()
	s.Require().Len(pushed.Transactions, 2)
	s.Equal(backdated, pushed.Transactions[0].ID)
	s.Equal("2024-06-01", pushed.Transactions[1].Date)
	s.Equal(backdated, s.snapshot().Transactions[0].ID)
}

func (s *LedgerServiceTestSuite) TestAddTransaction_TrimsDescription() {
	in := input(models.TransactionTypeDeposit, 1000, "2024-03-01")
	in.Description = "  gaji bulan maret  "

	id, err := s.service.AddTransaction(s.ctx, s.gate, in)
	s.Require().NoError(err)

	tx, _ := s.snapshot().Find(id)
	s.Equal("gaji bulan maret", tx.Description)
}

func (s *LedgerServiceTestSuite) TestAddTransaction_ValidationTouchesNothing() {
	cases := map[string]TransactionInput{
		"amount":      input(models.TransactionTypeDeposit, 0, "2024-03-01"),
		"type":        input("transfer", 1000, "2024-03-01"),
		"date":        input(models.TransactionTypeDeposit, 1000, "01/03/2024"),
		"description": {Description: "   ", Amount: decimal.NewFromInt(1), Date: "2024-03-01", Type: models.TransactionTypeDeposit},
	}

	for field, in := range cases {
		_, err := s.service.AddTransaction(s.ctx, s.gate, in)

		var verr *ValidationError
		s.Require().ErrorAs(err, &verr, field)
		s.Equal(field, verr.Field)
	}

	snap := s.snapshot()
	s.Empty(snap.Transactions)
	s.True(snap.TotalSavings.IsZero())
}

func (s *LedgerServiceTestSuite) TestAddTransaction_IncrementFailureIsPartial() {
	s.store.incrementErr = errors.New("backend unavailable")
	s.audit.EXPECT().LogPartialFailure(gomock.Any(), OperationAddTransaction, s.userID, gomock.Any(), gomock.Any()).Times(1)

	id, err := s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 1000, "2024-03-01"))

	s.Require().Error(err)
	s.True(IsPartial(err))
	s.NotEmpty(id)

	var se *StoreError
	s.Require().ErrorAs(err, &se)
	s.Equal(id, se.TransactionID)

	s.store.incrementErr = nil
	snap := s.snapshot()
	_, ok := snap.Find(id)
	s.True(ok)
	s.True(snap.TotalSavings.IsZero())
}

func (s *LedgerServiceTestSuite) TestEditTransaction_AppliesDelta() {
	id, err := s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 100000, "2024-03-01"))
	s.Require().NoError(err)
	_, err = s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 40000, "2024-03-02"))
	s.Require().NoError(err)

	s.Require().NoError(s.service.EditTransaction(s.ctx, s.gate, id, input(models.TransactionTypeWithdrawal, 25000, "2024-03-05")))

	snap := s.snapshot()
	s.True(snap.TotalSavings.Equal(decimal.NewFromInt(15000)))
	tx, _ := snap.Find(id)
	s.Equal("2024-03-05", tx.Date)
	s.True(tx.Amount.Equal(decimal.NewFromInt(-25000)))
	s.assertConsistent()
}

func (s *LedgerServiceTestSuite) TestEditTransaction_NotFound() {
	err := s.service.EditTransaction(s.ctx, s.gate, "missing", input(models.TransactionTypeDeposit, 1, "2024-03-01"))
	s.ErrorIs(err, ErrTransactionNotFound)
	s.ErrorIs(err, ledgerstore.ErrNotFound)
}

func (s *LedgerServiceTestSuite) TestEditTransaction_ExpectedVersion() {
	id, err := s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 1000, "2024-03-01"))
	s.Require().NoError(err)
	tx, _ := s.snapshot().Find(id)

	s.Require().NoError(s.service.EditTransaction(s.ctx, s.gate, id, input(models.TransactionTypeDeposit, 2000, "2024-03-01"), WithExpectedVersion(tx.Version)))

	s.audit.EXPECT().LogVersionConflict(gomock.Any(), s.userID, id, tx.Version).Times(1)
	err = s.service.EditTransaction(s.ctx, s.gate, id, input(models.TransactionTypeDeposit, 9000, "2024-03-01"), WithExpectedVersion(tx.Version))
	s.ErrorIs(err, ErrVersionConflict)

	snap := s.snapshot()
	s.True(snap.TotalSavings.Equal(decimal.NewFromInt(2000)))
	s.assertConsistent()
}

func (s *LedgerServiceTestSuite) TestEditTransaction_StoreFailureLeavesLedgerUnchanged() {
	id, err := s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 1000, "2024-03-01"))
	s.Require().NoError(err)

	s.store.multiErr = errors.New("write rejected")
	err = s.service.EditTransaction(s.ctx, s.gate, id, input(models.TransactionTypeDeposit, 5000, "2024-03-01"))
	s.store.multiErr = nil

	var se *StoreError
	s.Require().ErrorAs(err, &se)
	s.False(se.Partial)
	s.True(s.snapshot().TotalSavings.Equal(decimal.NewFromInt(1000)))
}

func (s *LedgerServiceTestSuite) TestDeleteTransaction() {
	id, err := s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeWithdrawal, 3000, "2024-03-01"))
	s.Require().NoError(err)
	_, err = s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 10000, "2024-03-01"))
	s.Require().NoError(err)

	s.Require().NoError(s.service.DeleteTransaction(s.ctx, s.gate, id))

	snap := s.snapshot()
	s.Len(snap.Transactions, 1)
	s.True(snap.TotalSavings.Equal(decimal.NewFromInt(10000)))
	s.assertConsistent()

	s.ErrorIs(s.service.DeleteTransaction(s.ctx, s.gate, id), ErrTransactionNotFound)
}

func (s *LedgerServiceTestSuite) TestDeleteTransaction_DecrementFailureIsPartial() {
	id, err := s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 7000, "2024-03-01"))
	s.Require().NoError(err)

	s.store.incrementErr = errors.New("timeout")
	s.audit.EXPECT().LogPartialFailure(gomock.Any(), OperationDeleteTransaction, s.userID, id, gomock.Any()).Times(1)

	err = s.service.DeleteTransaction(s.ctx, s.gate, id)
	s.True(IsPartial(err))
}

func (s *LedgerServiceTestSuite) TestDeleteTransaction_ExpectedVersionConflict() {
	id, err := s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 7000, "2024-03-01"))
	s.Require().NoError(err)

	s.audit.EXPECT().LogVersionConflict(gomock.Any(), s.userID, id, int64(99)).Times(1)
	s.ErrorIs(s.service.DeleteTransaction(s.ctx, s.gate, id, WithExpectedVersion(99)), ErrVersionConflict)

	tx, _ := s.snapshot().Find(id)
	s.Require().NoError(s.service.DeleteTransaction(s.ctx, s.gate, id, WithExpectedVersion(tx.Version)))
	s.True(s.snapshot().TotalSavings.IsZero())
}

func (s *LedgerServiceTestSuite) TestOperationsRequireIdentity() {
	anon := session.Anonymous()

	s.ErrorIs(s.service.SetTarget(s.ctx, anon, decimal.NewFromInt(1)), ErrNoIdentity)
	_, err := s.service.AddTransaction(s.ctx, anon, input(models.TransactionTypeDeposit, 1, "2024-03-01"))
	s.ErrorIs(err, ErrNoIdentity)
	s.ErrorIs(s.service.EditTransaction(s.ctx, anon, "x", input(models.TransactionTypeDeposit, 1, "2024-03-01")), ErrNoIdentity)
	s.ErrorIs(s.service.DeleteTransaction(s.ctx, anon, "x"), ErrNoIdentity)
	_, err = s.service.SubscribeLedger(s.ctx, anon, func(ledgerstore.Snapshot) {})
	s.ErrorIs(err, ErrNoIdentity)
	_, err = s.service.Snapshot(s.ctx, anon)
	s.ErrorIs(err, ErrNoIdentity)
	_, err = s.service.Reconcile(s.ctx, anon)
	s.ErrorIs(err, ErrNoIdentity)
}

func (s *LedgerServiceTestSuite) TestLedgersAreIsolated() {
	other := session.Fixed(session.Identity{UserID: gofakeit.UUID()})

	_, err := s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 1000, "2024-03-01"))
	s.Require().NoError(err)

	snap, err := s.service.Snapshot(s.ctx, other)
	s.Require().NoError(err)
	s.Empty(snap.Transactions)
	s.True(snap.TotalSavings.IsZero())
}

func (s *LedgerServiceTestSuite) TestReconcile_RepairsDrift() {
	_, err := s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 5000, "2024-03-01"))
	s.Require().NoError(err)

	s.store.incrementErr = errors.New("lost")
	s.audit.EXPECT().LogPartialFailure(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(1)
	_, err = s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 2500, "2024-03-02"))
	s.Require().True(IsPartial(err))
	s.store.incrementErr = nil

	s.audit.EXPECT().LogReconciled(gomock.Any(), s.userID, gomock.Any(), gomock.Any()).Times(1)
	result, err := s.service.Reconcile(s.ctx, s.gate)
	s.Require().NoError(err)
	s.True(result.Corrected)
	s.True(result.Before.Equal(decimal.NewFromInt(5000)))
	s.True(result.After.Equal(decimal.NewFromInt(7500)))
	s.True(result.Drift.Equal(decimal.NewFromInt(2500)))
	s.assertConsistent()

	result, err = s.service.Reconcile(s.ctx, s.gate)
	s.Require().NoError(err)
	s.False(result.Corrected)
}

func (s *LedgerServiceTestSuite) TestPublishFailureDoesNotFailOperation() {
	ctrl := gomock.NewController(s.T())
	publisher := service_mocks.NewMockEventPublisherInterface(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, event events.LedgerEvent) error {
		s.Equal(events.TypeTransactionAdded, event.Type)
		s.Equal(s.userID, event.UserID)
		s.False(event.OccurredAt.IsZero())
		return errors.New("broker down")
	}).Times(1)

	svc := NewLedgerService(s.store, testRoot, publisher, s.metrics, s.audit, discardLogger())
	_, err := svc.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 1000, "2024-03-01"))
	s.NoError(err)
}

func (s *LedgerServiceTestSuite) TestNilPublisher() {
	svc := NewLedgerService(s.store, testRoot, nil, s.metrics, s.audit, nil)
	s.NoError(svc.SetTarget(s.ctx, s.gate, decimal.NewFromInt(1)))
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []ledgerstore.Snapshot
}

func (r *snapshotRecorder) record(snap ledgerstore.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *snapshotRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *snapshotRecorder) last() ledgerstore.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func (s *LedgerServiceTestSuite) TestSubscribeLedger_DeliversChanges() {
	rec := &snapshotRecorder{}
	sub, err := s.service.SubscribeLedger(s.ctx, s.gate, rec.record)
	s.Require().NoError(err)
	defer sub.Cancel()

	s.Eventually(func() bool { return rec.count() >= 1 }, time.Second, 10*time.Millisecond)

	_, err = s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 1000, "2024-03-01"))
	s.Require().NoError(err)

	s.Eventually(func() bool {
		return rec.count() >= 2 && rec.last().TotalSavings.Equal(decimal.NewFromInt(1000))
	}, time.Second, 10*time.Millisecond)
}

func (s *LedgerServiceTestSuite) TestSubscribeLedger_EndsOnSignOut() {
	sess := session.New()
	sess.SignIn(session.Identity{UserID: s.userID}, time.Time{})

	rec := &snapshotRecorder{}
	sub, err := s.service.SubscribeLedger(s.ctx, sess, rec.record)
	s.Require().NoError(err)
	defer sub.Cancel()
	s.Eventually(func() bool { return rec.count() >= 1 }, time.Second, 10*time.Millisecond)

	sess.SignOut()
	seen := rec.count()

	_, err = s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 1000, "2024-03-01"))
	s.Require().NoError(err)

	s.Never(func() bool { return rec.count() > seen }, 200*time.Millisecond, 20*time.Millisecond)
}

func (s *LedgerServiceTestSuite) TestSubscribeLedger_EndsWithContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	rec := &snapshotRecorder{}

	_, err := s.service.SubscribeLedger(ctx, s.gate, rec.record)
	s.Require().NoError(err)
	s.Eventually(func() bool { return rec.count() >= 1 }, time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	seen := rec.count()

	_, err = s.service.AddTransaction(s.ctx, s.gate, input(models.TransactionTypeDeposit, 1000, "2024-03-01"))
	s.Require().NoError(err)

	s.Never(func() bool { return rec.count() > seen }, 200*time.Millisecond, 20*time.Millisecond)
}

func (s *LedgerServiceTestSuite) TestConcurrentAddsKeepTotalConsistent() {
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txType := models.TransactionTypeDeposit
			if i%4 == 0 {
				txType = models.TransactionTypeWithdrawal
			}
			_, err := s.service.AddTransaction(s.ctx, s.gate, input(txType, int64(1000+i), "2024-03-01"))
			s.NoError(err)
		}(i)
	}
	wg.Wait()

	snap := s.snapshot()
	s.Len(snap.Transactions, 20)
	s.assertConsistent()
}
