// Package events publishes ledger mutations to a message stream for
// downstream consumers.
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeTargetSet          = "ledger.target_set"
	TypeTransactionAdded   = "ledger.transaction_added"
	TypeTransactionEdited  = "ledger.transaction_edited"
	TypeTransactionDeleted = "ledger.transaction_deleted"
	TypeLedgerReconciled   = "ledger.reconciled"
)

// LedgerEvent describes one successful mutation. Delta is the change it
// applied to total_savings.
type LedgerEvent struct {
	Type          string           `json:"type"`
	UserID        string           `json:"user_id"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Delta         decimal.Decimal  `json:"delta"`
	OccurredAt    time.Time        `json:"occurred_at"`
}
