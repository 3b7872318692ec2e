package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	TransactionTypeDeposit    = "deposit"
	TransactionTypeWithdrawal = "withdrawal"

	// TransactionDateLayout is the calendar-date format stored in Date.
	TransactionDateLayout = "2006-01-02"
)

var (
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidAmount          = errors.New("transaction amount must be non-zero")
	ErrAmountSignMismatch     = errors.New("transaction amount sign does not match its type")
	ErrInvalidTransactionDate = errors.New("transaction date must be YYYY-MM-DD")
	ErrDescriptionRequired    = errors.New("transaction description is required")
)

// LedgerTransaction is one entry under a ledger's transactions node. Amount
// is signed: withdrawals are stored negative.
type LedgerTransaction struct {
	ID          string          `gorm:"type:varchar(26);primary_key" json:"id"`
	UserID      string          `gorm:"type:varchar(64);not null;index:idx_ledger_transactions_user_date,priority:1" json:"-"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Date        string          `gorm:"type:varchar(10);not null;index:idx_ledger_transactions_user_date,priority:2" json:"date"`
	Type        string          `gorm:"type:varchar(20);not null" json:"type"`
	Version     int64           `gorm:"not null;default:1" json:"version"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
}

func (t *LedgerTransaction) TableName() string {
	return "ledger_transactions"
}

func (t *LedgerTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.Version == 0 {
		t.Version = 1
	}

	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}

	return t.Validate()
}

// Validate checks the record invariants, including amount < 0 iff withdrawal.
func (t *LedgerTransaction) Validate() error {
	if !IsValidTransactionType(t.Type) {
		return ErrInvalidTransactionType
	}

	if t.Amount.IsZero() {
		return ErrInvalidAmount
	}

	if t.Amount.IsNegative() != (t.Type == TransactionTypeWithdrawal) {
		return ErrAmountSignMismatch
	}

	if strings.TrimSpace(t.Description) == "" {
		return ErrDescriptionRequired
	}

	if _, err := t.ParsedDate(); err != nil {
		return ErrInvalidTransactionDate
	}

	return nil
}

func (t *LedgerTransaction) IsWithdrawal() bool {
	return t.Type == TransactionTypeWithdrawal
}

// Magnitude is the unsigned amount as the user entered it.
func (t *LedgerTransaction) Magnitude() decimal.Decimal {
	return t.Amount.Abs()
}

func (t *LedgerTransaction) ParsedDate() (time.Time, error) {
	return time.Parse(TransactionDateLayout, t.Date)
}

func IsValidTransactionType(transactionType string) bool {
	switch transactionType {
	case TransactionTypeDeposit, TransactionTypeWithdrawal:
		return true
	default:
		return false
	}
}

// SignedAmount applies the sign convention to a user-entered magnitude.
func SignedAmount(magnitude decimal.Decimal, transactionType string) decimal.Decimal {
	if transactionType == TransactionTypeWithdrawal {
		return magnitude.Abs().Neg()
	}
	return magnitude.Abs()
}
