package dto

import (
	"savings-tracker/internal/ledgerstore"
	"savings-tracker/internal/models"

	"github.com/shopspring/decimal"
)

type SetTargetRequest struct {
	Target decimal.Decimal `json:"target" validate:"non_negative_amount"`
}

// TransactionRequest creates or replaces a transaction. Amount is always a
// positive magnitude; Type decides the sign.
type TransactionRequest struct {
	Description     string          `json:"description" validate:"not_blank"`
	Amount          decimal.Decimal `json:"amount" validate:"positive_amount"`
	Date            string          `json:"date" validate:"calendar_date"`
	Type            string          `json:"type" validate:"transaction_type"`
	ExpectedVersion *int64          `json:"expectedVersion,omitempty" validate:"omitempty,min=1"`
}

type TransactionResponse struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Date        string          `json:"date"`
	Type        string          `json:"type"`
	Version     int64           `json:"version"`
}

type LedgerResponse struct {
	UserID       string                `json:"userId"`
	Target       decimal.Decimal       `json:"target"`
	TotalSavings decimal.Decimal       `json:"totalSavings"`
	Transactions []TransactionResponse `json:"transactions"`
}

type CreatedTransactionResponse struct {
	ID string `json:"id"`
}

// StreamMessage is one websocket frame on the ledger stream.
type StreamMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

const (
	StreamTypeSnapshot = "ledger.snapshot"
	StreamTypeClosed   = "ledger.closed"
)

func NewTransactionResponse(tx models.LedgerTransaction) TransactionResponse {
	return TransactionResponse{
		ID:          tx.ID,
		Amount:      tx.Amount,
		Description: tx.Description,
		Date:        tx.Date,
		Type:        tx.Type,
		Version:     tx.Version,
	}
}

func NewLedgerResponse(snap ledgerstore.Snapshot) LedgerResponse {
	txs := make([]TransactionResponse, 0, len(snap.Transactions))
	for _, tx := range snap.Transactions {
		txs = append(txs, NewTransactionResponse(tx))
	}
	return LedgerResponse{
		UserID:       snap.UserID,
		Target:       snap.Target,
		TotalSavings: snap.TotalSavings,
		Transactions: txs,
	}
}
