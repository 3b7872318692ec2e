package repositories

import (
	"errors"
	"fmt"
	"time"

	"savings-tracker/internal/models"

	"gorm.io/gorm"
)

type blacklistedTokenRepository struct {
	db *gorm.DB
}

func NewBlacklistedTokenRepository(db *gorm.DB) BlacklistedTokenRepositoryInterface {
	return &blacklistedTokenRepository{db: db}
}

// Create blacklists a JTI. Blacklisting the same JTI twice is not an error:
// logout may race a second logout from another tab.
func (r *blacklistedTokenRepository) Create(token *models.BlacklistedToken) error {
	if token == nil {
		return errors.New("blacklisted token cannot be nil")
	}
	if err := r.db.Create(token).Error; err != nil && !isDuplicateKeyError(err) {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsBlacklisted runs on every authenticated request, so it only asks whether
// a row exists.
func (r *blacklistedTokenRepository) IsBlacklisted(jti string) (bool, error) {
	var found int
	err := r.db.Model(&models.BlacklistedToken{}).
		Select("1").
		Where("jti = ?", jti).
		Limit(1).
		Scan(&found).Error
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return found == 1, nil
}

func (r *blacklistedTokenRepository) DeleteExpired() (int64, error) {
	return rowsRemoved(r.db.Scopes(expiredBefore(time.Now())).Delete(&models.BlacklistedToken{}), "expired blacklisted tokens")
}
