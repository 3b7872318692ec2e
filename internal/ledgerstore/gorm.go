package ledgerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"savings-tracker/internal/models"
	"savings-tracker/internal/notify"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// amounts are decimal(20,2); sqlite stores them as REAL, so reads are
// rounded back to cents
const amountScale = 2

// GormStore persists ledgers in the ledgers and ledger_transactions tables.
// Increments are single upsert statements evaluated by the database.
type GormStore struct {
	*core
	db         *gorm.DB
	snapshotTx *sql.TxOptions
}

var (
	_ Store  = (*GormStore)(nil)
	_ Lister = (*GormStore)(nil)
)

func NewGormStore(db *gorm.DB, root string, notifier notify.Notifier, logger *slog.Logger) *GormStore {
	s := &GormStore{db: db}
	if db.Dialector != nil && db.Dialector.Name() == "postgres" {
		s.snapshotTx = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	s.core = newCore(root, notifier, logger, s.ReadOnce)
	return s
}

func (s *GormStore) Read(ctx context.Context, p Path) (Node, bool, error) {
	if err := s.check(p, KindTarget, KindTotalSavings, KindTransaction); err != nil {
		return Node{}, false, err
	}

	db := s.db.WithContext(ctx)

	if p.Kind == KindTransaction {
		var tx models.LedgerTransaction
		err := db.Where("user_id = ? AND id = ?", p.UserID, p.TransactionID).First(&tx).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Node{}, false, nil
		}
		if err != nil {
			return Node{}, false, fmt.Errorf("failed to read transaction: %w", err)
		}
		normalizeTransaction(&tx)
		return TransactionNode(tx), true, nil
	}

	var ledger models.Ledger
	err := db.Where("user_id = ?", p.UserID).First(&ledger).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Node{}, false, nil
	}
	if err != nil {
		return Node{}, false, fmt.Errorf("failed to read ledger: %w", err)
	}

	if p.Kind == KindTarget {
		return ValueNode(ledger.Target.Round(amountScale)), true, nil
	}
	return ValueNode(ledger.TotalSavings.Round(amountScale)), true, nil
}

func (s *GormStore) ReadOnce(ctx context.Context, ledgerPath Path) (Snapshot, error) {
	if err := s.check(ledgerPath, KindLedger); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{UserID: ledgerPath.UserID, Target: decimal.Zero, TotalSavings: decimal.Zero}

	var opts []*sql.TxOptions
	if s.snapshotTx != nil {
		opts = append(opts, s.snapshotTx)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ledgers []models.Ledger
		if err := tx.Where("user_id = ?", ledgerPath.UserID).Limit(1).Find(&ledgers).Error; err != nil {
			return err
		}
		if len(ledgers) == 1 {
			snap.Target = ledgers[0].Target.Round(amountScale)
			snap.TotalSavings = ledgers[0].TotalSavings.Round(amountScale)
		}

		var txs []models.LedgerTransaction
		if err := tx.Where("user_id = ?", ledgerPath.UserID).Order("date ASC").Order("id ASC").Find(&txs).Error; err != nil {
			return err
		}
		for i := range txs {
			normalizeTransaction(&txs[i])
		}
		snap.Transactions = txs
		return nil
	}, opts...)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read ledger snapshot: %w", err)
	}

	return snap, nil
}

// Ledgers lists every user with a ledger row or at least one transaction.
func (s *GormStore) Ledgers(ctx context.Context) ([]Path, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	db := s.db.WithContext(ctx)

	var ids []string
	if err := db.Model(&models.Ledger{}).Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list ledgers: %w", err)
	}

	var orphaned []string
	if err := db.Model(&models.LedgerTransaction{}).Distinct().Pluck("user_id", &orphaned).Error; err != nil {
		return nil, fmt.Errorf("failed to list transaction owners: %w", err)
	}

	return ledgerPaths(s.root, append(ids, orphaned...)), nil
}

func (s *GormStore) Write(ctx context.Context, p Path, n Node) error {
	if err := s.check(p, KindTarget, KindTotalSavings, KindTransaction); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.apply(tx, SetUpdate(p, n))
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}

	s.hub.publish(ctx, p.Ledger())
	return nil
}

func (s *GormStore) Append(ctx context.Context, transactions Path, n Node) (string, error) {
	if err := s.check(transactions, KindTransactions); err != nil {
		return "", err
	}

	id := s.ids.next()
	record, err := prepareTransaction(transactions.Transaction(id), n)
	if err != nil {
		return "", err
	}
	record.Version = 1

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("failed to append transaction: %w", err)
	}

	s.hub.publish(ctx, transactions.Ledger())
	return id, nil
}

func (s *GormStore) Delete(ctx context.Context, p Path) error {
	if err := s.check(p, KindTransaction); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", p.UserID, p.TransactionID).
		Delete(&models.LedgerTransaction{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}

	s.hub.publish(ctx, p.Ledger())
	return nil
}

func (s *GormStore) IncrementAtomic(ctx context.Context, p Path, delta decimal.Decimal) error {
	if err := s.check(p, KindTarget, KindTotalSavings); err != nil {
		return err
	}

	if err := s.increment(s.db.WithContext(ctx), p, delta); err != nil {
		return fmt.Errorf("failed to increment %s: %w", p, err)
	}

	s.hub.publish(ctx, p.Ledger())
	return nil
}

func (s *GormStore) MultiUpdate(ctx context.Context, updates []Update) error {
	ledgers, err := s.checkBatch(updates)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			if err := s.apply(tx, u); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply multi-path update: %w", err)
	}

	s.hub.publish(ctx, ledgers...)
	return nil
}

func (s *GormStore) apply(tx *gorm.DB, u Update) error {
	switch u.Op {
	case OpIncrement:
		return s.increment(tx, u.Path, u.Delta)
	case OpRemove:
		return s.remove(tx, u.Path, u.ExpectVersion)
	}

	if u.Path.Kind != KindTransaction {
		if u.Node.Transaction != nil {
			return ErrInvalidNode
		}
		return s.setScalar(tx, u.Path, u.Node.Value)
	}

	record, err := prepareTransaction(u.Path, u.Node)
	if err != nil {
		return err
	}
	return s.setTransaction(tx, record, u.ExpectVersion)
}

// ledgerColumn maps a scalar path to its column.
func ledgerColumn(p Path) string {
	if p.Kind == KindTarget {
		return "target"
	}
	return "total_savings"
}

func newLedgerRow(p Path, value decimal.Decimal) *models.Ledger {
	now := time.Now().UTC()
	row := &models.Ledger{UserID: p.UserID, Target: decimal.Zero, TotalSavings: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	if p.Kind == KindTarget {
		row.Target = value
	} else {
		row.TotalSavings = value
	}
	return row
}

func (s *GormStore) setScalar(tx *gorm.DB, p Path, value decimal.Decimal) error {
	col := ledgerColumn(p)
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			col:          value,
			"updated_at": time.Now().UTC(),
		}),
	}).Create(newLedgerRow(p, value)).Error
}

// increment is a single INSERT ... ON CONFLICT DO UPDATE, so the addition
// happens inside the database and concurrent callers never lose an update.
func (s *GormStore) increment(tx *gorm.DB, p Path, delta decimal.Decimal) error {
	col := ledgerColumn(p)
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			col:          gorm.Expr("ledgers."+col+" + ?", delta),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(newLedgerRow(p, delta)).Error
}

func (s *GormStore) setTransaction(tx *gorm.DB, record models.LedgerTransaction, expect *int64) error {
	q := tx.Model(&models.LedgerTransaction{}).Where("user_id = ? AND id = ?", record.UserID, record.ID)
	if expect != nil {
		q = q.Where("version = ?", *expect)
	}

	res := q.Updates(map[string]interface{}{
		"amount":      record.Amount,
		"description": record.Description,
		"date":        record.Date,
		"type":        record.Type,
		"version":     gorm.Expr("version + 1"),
		"updated_at":  time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if expect != nil {
		return conflictOrMissing(tx, record.UserID, record.ID)
	}

	record.Version = 1
	return tx.Create(&record).Error
}

func (s *GormStore) remove(tx *gorm.DB, p Path, expect *int64) error {
	q := tx.Where("user_id = ? AND id = ?", p.UserID, p.TransactionID)
	if expect != nil {
		q = q.Where("version = ?", *expect)
	}

	res := q.Delete(&models.LedgerTransaction{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 && expect != nil {
		return conflictOrMissing(tx, p.UserID, p.TransactionID)
	}
	return nil
}

func conflictOrMissing(tx *gorm.DB, userID, id string) error {
	var count int64
	if err := tx.Model(&models.LedgerTransaction{}).Where("user_id = ? AND id = ?", userID, id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func normalizeTransaction(tx *models.LedgerTransaction) {
	tx.Amount = tx.Amount.Round(amountScale)
}
