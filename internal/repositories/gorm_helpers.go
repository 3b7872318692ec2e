package repositories

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

const pqUniqueViolation = "23505"

// lookupErr maps a missing row onto the repository's sentinel.
func lookupErr(err error, notFound error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// touchedOne turns a write that matched no row into notFound.
func touchedOne(result *gorm.DB, notFound error, action string) error {
	if result.Error != nil {
		return fmt.Errorf("failed to %s: %w", action, result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound
	}
	return nil
}

func rowsRemoved(result *gorm.DB, what string) (int64, error) {
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", what, result.Error)
	}
	return result.RowsAffected, nil
}

func expiredBefore(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("expires_at < ?", now)
	}
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}

	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, pqUniqueViolation)
}
