package services

import (
	"errors"
	"fmt"

	"savings-tracker/internal/ledgerstore"
	"savings-tracker/internal/session"

	"github.com/go-playground/validator/v10"
)

var (
	ErrTransactionNotFound = fmt.Errorf("transaction not found: %w", ledgerstore.ErrNotFound)
	ErrVersionConflict     = ledgerstore.ErrVersionConflict
	ErrNoIdentity          = session.ErrNoIdentity
	ErrLedgerUnavailable   = ledgerstore.ErrClosed
)

// ValidationError rejects input before any store call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StoreError wraps a backend failure. Partial is set when an earlier step of
// the operation already landed, e.g. the transaction was appended but the
// total increment failed; TransactionID then names the record involved.
type StoreError struct {
	Op            string
	Partial       bool
	TransactionID string
	Err           error
}

func (e *StoreError) Error() string {
	if e.Partial {
		return fmt.Sprintf("%s partially applied (transaction %s): %v", e.Op, e.TransactionID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsPartial reports whether err left a ledger half-updated.
func IsPartial(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Partial
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func partialError(op, transactionID string, err error) error {
	return &StoreError{Op: op, Partial: true, TransactionID: transactionID, Err: err}
}

var validationReasons = map[string]string{
	"not_blank":           "must not be empty",
	"positive_amount":     "must be greater than 0 with at most 2 decimal places",
	"non_negative_amount": "must not be negative and have at most 2 decimal places",
	"calendar_date":       "must be a calendar date in YYYY-MM-DD format",
	"transaction_type":    "must be deposit or withdrawal",
}

// toValidationError converts the first validator failure into a ValidationError.
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	reason, ok := validationReasons[fe.Tag()]
	if !ok {
		reason = "failed " + fe.Tag() + " check"
	}
	return &ValidationError{Field: fe.Field(), Reason: reason}
}
