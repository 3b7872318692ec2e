package ledgerstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"savings-tracker/internal/models"
	"savings-tracker/internal/notify"

	"github.com/shopspring/decimal"
)

type memoryLedger struct {
	target       decimal.Decimal
	totalSavings decimal.Decimal
	transactions map[string]models.LedgerTransaction
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		target:       decimal.Zero,
		totalSavings: decimal.Zero,
		transactions: make(map[string]models.LedgerTransaction),
	}
}

func (l *memoryLedger) clone() *memoryLedger {
	c := &memoryLedger{
		target:       l.target,
		totalSavings: l.totalSavings,
		transactions: make(map[string]models.LedgerTransaction, len(l.transactions)),
	}
	for id, tx := range l.transactions {
		c.transactions[id] = tx
	}
	return c
}

// MemoryStore keeps ledgers in process memory. Every primitive runs under one
// mutex, which makes increments and multi-updates trivially atomic.
type MemoryStore struct {
	*core
	mu      sync.RWMutex
	ledgers map[string]*memoryLedger
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Lister = (*MemoryStore)(nil)
)

func NewMemoryStore(root string, notifier notify.Notifier, logger *slog.Logger) *MemoryStore {
	s := &MemoryStore{ledgers: make(map[string]*memoryLedger)}
	s.core = newCore(root, notifier, logger, s.ReadOnce)
	return s
}

func (s *MemoryStore) ledger(userID string) *memoryLedger {
	l, ok := s.ledgers[userID]
	if !ok {
		l = newMemoryLedger()
		s.ledgers[userID] = l
	}
	return l
}

func (s *MemoryStore) Read(ctx context.Context, p Path) (Node, bool, error) {
	if err := s.check(p, KindTarget, KindTotalSavings, KindTransaction); err != nil {
		return Node{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.ledgers[p.UserID]
	if !ok {
		return Node{}, false, nil
	}

	switch p.Kind {
	case KindTarget:
		return ValueNode(l.target), true, nil
	case KindTotalSavings:
		return ValueNode(l.totalSavings), true, nil
	default:
		tx, ok := l.transactions[p.TransactionID]
		if !ok {
			return Node{}, false, nil
		}
		return TransactionNode(tx), true, nil
	}
}

func (s *MemoryStore) ReadOnce(ctx context.Context, ledger Path) (Snapshot, error) {
	if err := s.check(ledger, KindLedger); err != nil {
		return Snapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{UserID: ledger.UserID, Target: decimal.Zero, TotalSavings: decimal.Zero}
	l, ok := s.ledgers[ledger.UserID]
	if !ok {
		return snap, nil
	}

	snap.Target = l.target
	snap.TotalSavings = l.totalSavings
	snap.Transactions = make([]models.LedgerTransaction, 0, len(l.transactions))
	for _, tx := range l.transactions {
		snap.Transactions = append(snap.Transactions, tx)
	}
	sortByDate(snap.Transactions)
	return snap, nil
}

func (s *MemoryStore) Ledgers(ctx context.Context) ([]Path, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	ids := make([]string, 0, len(s.ledgers))
	for id := range s.ledgers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	return ledgerPaths(s.root, ids), nil
}

func (s *MemoryStore) Write(ctx context.Context, p Path, n Node) error {
	if err := s.check(p, KindTarget, KindTotalSavings, KindTransaction); err != nil {
		return err
	}

	s.mu.Lock()
	err := s.apply(s.ledger(p.UserID), SetUpdate(p, n))
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.hub.publish(ctx, p.Ledger())
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, transactions Path, n Node) (string, error) {
	if err := s.check(transactions, KindTransactions); err != nil {
		return "", err
	}

	id := s.ids.next()
	tx, err := prepareTransaction(transactions.Transaction(id), n)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	tx.Version = 1
	tx.CreatedAt = now
	tx.UpdatedAt = now

	s.mu.Lock()
	s.ledger(transactions.UserID).transactions[id] = tx
	s.mu.Unlock()

	s.hub.publish(ctx, transactions.Ledger())
	return id, nil
}

func (s *MemoryStore) Delete(ctx context.Context, p Path) error {
	if err := s.check(p, KindTransaction); err != nil {
		return err
	}

	s.mu.Lock()
	if l, ok := s.ledgers[p.UserID]; ok {
		delete(l.transactions, p.TransactionID)
	}
	s.mu.Unlock()

	s.hub.publish(ctx, p.Ledger())
	return nil
}

func (s *MemoryStore) IncrementAtomic(ctx context.Context, p Path, delta decimal.Decimal) error {
	if err := s.check(p, KindTarget, KindTotalSavings); err != nil {
		return err
	}

	s.mu.Lock()
	err := s.apply(s.ledger(p.UserID), IncrementUpdate(p, delta))
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.hub.publish(ctx, p.Ledger())
	return nil
}

// MultiUpdate applies the batch to copies of the touched ledgers and swaps
// them in only if every leg succeeded.
func (s *MemoryStore) MultiUpdate(ctx context.Context, updates []Update) error {
	ledgers, err := s.checkBatch(updates)
	if err != nil {
		return err
	}

	s.mu.Lock()
	staged := make(map[string]*memoryLedger, len(ledgers))
	for _, ledger := range ledgers {
		if l, ok := s.ledgers[ledger.UserID]; ok {
			staged[ledger.UserID] = l.clone()
		} else {
			staged[ledger.UserID] = newMemoryLedger()
		}
	}
	for _, u := range updates {
		if err := s.apply(staged[u.Path.UserID], u); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	for userID, l := range staged {
		s.ledgers[userID] = l
	}
	s.mu.Unlock()

	s.hub.publish(ctx, ledgers...)
	return nil
}

// apply runs one update against l. Callers hold s.mu.
func (s *MemoryStore) apply(l *memoryLedger, u Update) error {
	switch u.Op {
	case OpIncrement:
		if u.Path.Kind == KindTarget {
			l.target = l.target.Add(u.Delta)
		} else {
			l.totalSavings = l.totalSavings.Add(u.Delta)
		}
		return nil

	case OpRemove:
		current, ok := l.transactions[u.Path.TransactionID]
		if u.ExpectVersion != nil {
			if !ok {
				return ErrNotFound
			}
			if current.Version != *u.ExpectVersion {
				return ErrVersionConflict
			}
		}
		delete(l.transactions, u.Path.TransactionID)
		return nil

	default:
		if u.Path.Kind != KindTransaction && u.Node.Transaction != nil {
			return ErrInvalidNode
		}
		switch u.Path.Kind {
		case KindTarget:
			l.target = u.Node.Value
			return nil
		case KindTotalSavings:
			l.totalSavings = u.Node.Value
			return nil
		}

		tx, err := prepareTransaction(u.Path, u.Node)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		current, ok := l.transactions[u.Path.TransactionID]
		if u.ExpectVersion != nil {
			if !ok {
				return ErrNotFound
			}
			if current.Version != *u.ExpectVersion {
				return ErrVersionConflict
			}
		}

		if ok {
			tx.Version = current.Version + 1
			tx.CreatedAt = current.CreatedAt
		} else {
			tx.Version = 1
			tx.CreatedAt = now
		}
		tx.UpdatedAt = now
		l.transactions[u.Path.TransactionID] = tx
		return nil
	}
}
