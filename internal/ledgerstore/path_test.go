package ledgerstore

import (
	"testing"

	"savings-tracker/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath_String(t *testing.T) {
	ledger := LedgerPath("savings", "u1")

	assert.Equal(t, "savings/u1", ledger.String())
	assert.Equal(t, "savings/u1/target", ledger.Target().String())
	assert.Equal(t, "savings/u1/total_savings", ledger.TotalSavings().String())
	assert.Equal(t, "savings/u1/transactions", ledger.Transactions().String())
	assert.Equal(t, "savings/u1/transactions/abc", ledger.Transaction("abc").String())
	assert.Equal(t, "savings/u1", ledger.Transaction("abc").Key())
}

func TestExpectKind(t *testing.T) {
	ledger := LedgerPath("savings", "u1")

	assert.NoError(t, expectKind(ledger.Target(), KindTarget, KindTotalSavings))
	assert.ErrorIs(t, expectKind(ledger.Transactions(), KindTarget), ErrInvalidPath)
	assert.ErrorIs(t, expectKind(LedgerPath("savings", ""), KindLedger), ErrInvalidPath)
	assert.ErrorIs(t, expectKind(ledger.Transaction(""), KindTransaction), ErrInvalidPath)
}

func TestIDGenerator_IsMonotonic(t *testing.T) {
	gen := newIDGenerator()

	prev := gen.next()
	for i := 0; i < 1000; i++ {
		id := gen.next()
		require.Len(t, id, 26)
		require.Greater(t, id, prev)
		prev = id
	}
}

func testDeposit(amount int64) models.LedgerTransaction {
	return models.LedgerTransaction{
		Amount:      decimal.NewFromInt(amount),
		Description: "gift",
		Date:        "2024-01-01",
		Type:        models.TransactionTypeDeposit,
	}
}
