// Package ledgerstore is the path-addressed ledger backend: point reads and
// writes, push-style appends, store-side atomic increments, atomic
// multi-path updates and push subscriptions on a ledger subtree.
package ledgerstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"savings-tracker/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("ledger node not found")
	ErrVersionConflict = errors.New("ledger transaction version conflict")
	ErrInvalidPath     = errors.New("invalid ledger path")
	ErrInvalidNode     = errors.New("node does not match path")
	ErrClosed          = errors.New("ledger store is closed")
)

// Node is the value stored at a path. Scalar nodes (target, total_savings)
// use Value; transaction nodes use Transaction.
type Node struct {
	Value       decimal.Decimal
	Transaction *models.LedgerTransaction
}

func ValueNode(v decimal.Decimal) Node {
	return Node{Value: v}
}

func TransactionNode(tx models.LedgerTransaction) Node {
	return Node{Transaction: &tx}
}

type UpdateOp int

const (
	OpSet UpdateOp = iota
	OpIncrement
	OpRemove
)

// Update is one leg of a MultiUpdate.
type Update struct {
	Path  Path
	Op    UpdateOp
	Node  Node
	Delta decimal.Decimal

	// ExpectVersion makes a transaction Set or Remove conditional on the
	// stored version. A mismatch aborts the whole MultiUpdate.
	ExpectVersion *int64
}

func SetUpdate(p Path, n Node) Update {
	return Update{Path: p, Op: OpSet, Node: n}
}

func IncrementUpdate(p Path, delta decimal.Decimal) Update {
	return Update{Path: p, Op: OpIncrement, Delta: delta}
}

func RemoveUpdate(p Path) Update {
	return Update{Path: p, Op: OpRemove}
}

func (u Update) IfVersion(v int64) Update {
	u.ExpectVersion = &v
	return u
}

// Snapshot is the full state of one ledger subtree. Transactions are
// ordered by date, then id.
type Snapshot struct {
	UserID       string
	Target       decimal.Decimal
	TotalSavings decimal.Decimal
	Transactions []models.LedgerTransaction
}

// Sum recomputes total_savings from the transaction list.
func (s Snapshot) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range s.Transactions {
		sum = sum.Add(tx.Amount)
	}
	return sum
}

func (s Snapshot) Find(id string) (models.LedgerTransaction, bool) {
	for _, tx := range s.Transactions {
		if tx.ID == id {
			return tx, true
		}
	}
	return models.LedgerTransaction{}, false
}

func sortByDate(txs []models.LedgerTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].Date != txs[j].Date {
			return txs[i].Date < txs[j].Date
		}
		return txs[i].ID < txs[j].ID
	})
}

func ledgerPaths(root string, userIDs []string) []Path {
	sort.Strings(userIDs)
	out := make([]Path, 0, len(userIDs))
	for i, id := range userIDs {
		if i > 0 && userIDs[i-1] == id {
			continue
		}
		if strings.TrimSpace(id) == "" {
			continue
		}
		out = append(out, LedgerPath(root, id))
	}
	return out
}

// Subscription is a live listener on a ledger subtree.
type Subscription interface {
	// Cancel stops delivery. It is idempotent and safe after the store closed.
	Cancel()
}

type Store interface {
	Read(ctx context.Context, p Path) (Node, bool, error)
	ReadOnce(ctx context.Context, ledger Path) (Snapshot, error)
	Write(ctx context.Context, p Path, n Node) error
	Append(ctx context.Context, transactions Path, n Node) (string, error)
	Delete(ctx context.Context, p Path) error
	IncrementAtomic(ctx context.Context, p Path, delta decimal.Decimal) error
	MultiUpdate(ctx context.Context, updates []Update) error
	Subscribe(ctx context.Context, ledger Path, onChange func(Snapshot)) (Subscription, error)
	Close() error
}

// Lister enumerates the ledgers a store holds, in user id order.
type Lister interface {
	Ledgers(ctx context.Context) ([]Path, error)
}

func expectKind(p Path, kinds ...Kind) error {
	if err := p.validate(); err != nil {
		return err
	}
	for _, k := range kinds {
		if p.Kind == k {
			return nil
		}
	}
	return fmt.Errorf("%w: %s node not allowed at %q", ErrInvalidPath, p.Kind, p.String())
}

// prepareTransaction binds a transaction node to the path it is written at.
func prepareTransaction(p Path, n Node) (models.LedgerTransaction, error) {
	if n.Transaction == nil {
		return models.LedgerTransaction{}, ErrInvalidNode
	}
	tx := *n.Transaction
	tx.ID = p.TransactionID
	tx.UserID = p.UserID
	if err := tx.Validate(); err != nil {
		return models.LedgerTransaction{}, err
	}
	return tx, nil
}

// checkUpdates validates a MultiUpdate batch and returns the ledger keys it touches.
func checkUpdates(updates []Update) ([]Path, error) {
	seen := map[string]bool{}
	var ledgers []Path
	for _, u := range updates {
		switch u.Op {
		case OpSet:
			if err := expectKind(u.Path, KindTarget, KindTotalSavings, KindTransaction); err != nil {
				return nil, err
			}
		case OpIncrement:
			if err := expectKind(u.Path, KindTarget, KindTotalSavings); err != nil {
				return nil, err
			}
		case OpRemove:
			if err := expectKind(u.Path, KindTransaction); err != nil {
				return nil, err
			}
		default:
			return nil, ErrInvalidNode
		}
		if u.ExpectVersion != nil && u.Path.Kind != KindTransaction {
			return nil, ErrInvalidNode
		}
		if key := u.Path.Key(); !seen[key] {
			seen[key] = true
			ledgers = append(ledgers, u.Path.Ledger())
		}
	}
	return ledgers, nil
}
