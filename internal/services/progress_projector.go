package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"savings-tracker/internal/ledgerstore"
	"savings-tracker/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	hundred   = decimal.NewFromInt(100)
	idPrinter = message.NewPrinter(language.Indonesian)

	shortMonthsID = [...]string{"Jan", "Feb", "Mar", "Apr", "Mei", "Jun", "Jul", "Agu", "Sep", "Okt", "Nov", "Des"}
)

// Progress is the render-ready view of one ledger snapshot.
type Progress struct {
	Target        decimal.Decimal `json:"target"`
	Total         decimal.Decimal `json:"total"`
	Percentage    float64         `json:"percentage"`
	RawPercentage float64         `json:"rawPercentage"`
	Remaining     decimal.Decimal `json:"remaining"`
	Series        []SeriesPoint   `json:"series"`
	Table         []TableRow      `json:"table"`
	Breakdown     Breakdown       `json:"breakdown"`
	Display       ProgressDisplay `json:"display"`
}

// SeriesPoint is one step of the accumulation chart.
type SeriesPoint struct {
	TransactionID string          `json:"transactionId"`
	Date          string          `json:"date"`
	Label         string          `json:"label"`
	Amount        decimal.Decimal `json:"amount"`
	Accumulated   decimal.Decimal `json:"accumulated"`
}

type TableRow struct {
	ID          string          `json:"id"`
	Date        string          `json:"date"`
	Label       string          `json:"label"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Version     int64           `json:"version"`
	Display     string          `json:"display"`
}

// Breakdown feeds the collected/remaining doughnut and the deposit/withdrawal split.
type Breakdown struct {
	Collected       decimal.Decimal `json:"collected"`
	Remaining       decimal.Decimal `json:"remaining"`
	Deposits        decimal.Decimal `json:"deposits"`
	Withdrawals     decimal.Decimal `json:"withdrawals"`
	DepositCount    int             `json:"depositCount"`
	WithdrawalCount int             `json:"withdrawalCount"`
}

type ProgressDisplay struct {
	Target     string `json:"target"`
	Total      string `json:"total"`
	Remaining  string `json:"remaining"`
	Percentage string `json:"percentage"`
}

// ProjectProgress derives the progress view from a snapshot. It is pure.
func ProjectProgress(snap ledgerstore.Snapshot) Progress {
	target := snap.Target
	total := snap.TotalSavings

	raw := decimal.Zero
	if target.IsPositive() {
		raw = total.Mul(hundred).Div(target)
	}
	capped := decimal.Min(raw, hundred)
	if capped.IsNegative() {
		capped = decimal.Zero
	}

	remaining := decimal.Max(decimal.Zero, target.Sub(total))

	p := Progress{
		Target:        target,
		Total:         total,
		Percentage:    capped.Round(2).InexactFloat64(),
		RawPercentage: raw.Round(2).InexactFloat64(),
		Remaining:     remaining,
		Series:        make([]SeriesPoint, 0, len(snap.Transactions)),
		Table:         make([]TableRow, 0, len(snap.Transactions)),
		Breakdown: Breakdown{
			Collected:   total,
			Remaining:   remaining,
			Deposits:    decimal.Zero,
			Withdrawals: decimal.Zero,
		},
		Display: ProgressDisplay{
			Target:     FormatIDR(target),
			Total:      FormatIDR(total),
			Remaining:  FormatIDR(remaining),
			Percentage: raw.StringFixed(2) + "%",
		},
	}

	ordered := make([]models.LedgerTransaction, len(snap.Transactions))
	copy(ordered, snap.Transactions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Date != ordered[j].Date {
			return ordered[i].Date < ordered[j].Date
		}
		return ordered[i].ID < ordered[j].ID
	})

	accumulated := decimal.Zero
	for _, tx := range ordered {
		accumulated = accumulated.Add(tx.Amount)
		p.Series = append(p.Series, SeriesPoint{
			TransactionID: tx.ID,
			Date:          tx.Date,
			Label:         FormatDateID(tx.Date),
			Amount:        tx.Amount,
			Accumulated:   accumulated,
		})

		if tx.IsWithdrawal() {
			p.Breakdown.Withdrawals = p.Breakdown.Withdrawals.Add(tx.Magnitude())
			p.Breakdown.WithdrawalCount++
		} else {
			p.Breakdown.Deposits = p.Breakdown.Deposits.Add(tx.Magnitude())
			p.Breakdown.DepositCount++
		}
	}

	for i := len(ordered) - 1; i >= 0; i-- {
		tx := ordered[i]
		p.Table = append(p.Table, TableRow{
			ID:          tx.ID,
			Date:        tx.Date,
			Label:       FormatDateID(tx.Date),
			Description: tx.Description,
			Type:        tx.Type,
			Amount:      tx.Amount,
			Version:     tx.Version,
			Display:     signPrefix(tx) + " " + FormatIDR(tx.Magnitude()),
		})
	}

	return p
}

func signPrefix(tx models.LedgerTransaction) string {
	if tx.IsWithdrawal() {
		return "-"
	}
	return "+"
}

// FormatIDR renders an amount in rupiah the way id-ID locales do:
// "Rp 1.500.000", with up to two decimals after a comma when present.
func FormatIDR(amount decimal.Decimal) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Neg()
	}

	amount = amount.Round(2)
	whole := amount.Truncate(0)
	out := sign + "Rp " + idPrinter.Sprintf("%d", whole.IntPart())

	if frac := amount.Sub(whole); !frac.IsZero() {
		digits := strings.TrimRight(frac.StringFixed(2)[2:], "0")
		out += "," + digits
	}
	return out
}

// FormatDateID renders YYYY-MM-DD as "25 Mar 2024". Unparseable dates are returned as is.
func FormatDateID(date string) string {
	t, err := time.Parse(models.TransactionDateLayout, date)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%02d %s %d", t.Day(), shortMonthsID[t.Month()-1], t.Year())
}
