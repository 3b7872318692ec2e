package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger holds the two scalar nodes of a user's ledger. The row is created
// lazily by the first write that touches either node.
type Ledger struct {
	UserID       string          `gorm:"type:varchar(64);primary_key" json:"user_id"`
	Target       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"target"`
	TotalSavings decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_savings"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"not null" json:"updated_at"`
}

func (l *Ledger) TableName() string {
	return "ledgers"
}
