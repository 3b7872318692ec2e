package repositories

import (
	"errors"
	"fmt"
	"time"

	"savings-tracker/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrRefreshTokenNotFound = errors.New("refresh token not found")

type RefreshTokenRepository struct {
	db *gorm.DB
}

func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepositoryInterface {
	return &RefreshTokenRepository{db: db}
}

func unrevoked(db *gorm.DB) *gorm.DB {
	return db.Where("revoked_at IS NULL")
}

func ownedBy(userID uuid.UUID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ?", userID)
	}
}

func (r *RefreshTokenRepository) Create(token *models.RefreshToken) error {
	if token == nil {
		return errors.New("refresh token cannot be nil")
	}
	if err := r.db.Create(token).Error; err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) GetByTokenHash(tokenHash string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	if err := r.db.Where("token_hash = ?", tokenHash).First(&token).Error; err != nil {
		return nil, lookupErr(err, ErrRefreshTokenNotFound, "refresh token by hash")
	}
	return &token, nil
}

// Revoke marks one token revoked. Already revoked tokens report not found,
// which is how refresh-token reuse is detected.
func (r *RefreshTokenRepository) Revoke(tokenID uuid.UUID) error {
	result := r.db.Model(&models.RefreshToken{}).
		Scopes(unrevoked).
		Where("id = ?", tokenID).
		Update("revoked_at", time.Now())
	return touchedOne(result, ErrRefreshTokenNotFound, "revoke refresh token")
}

func (r *RefreshTokenRepository) RevokeAllForUser(userID uuid.UUID) error {
	err := r.db.Model(&models.RefreshToken{}).
		Scopes(ownedBy(userID), unrevoked).
		Update("revoked_at", time.Now()).Error
	if err != nil {
		return fmt.Errorf("failed to revoke all tokens for user: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) DeleteExpired() (int64, error) {
	return rowsRemoved(r.db.Scopes(expiredBefore(time.Now())).Delete(&models.RefreshToken{}), "expired refresh tokens")
}

func (r *RefreshTokenRepository) DeleteRevokedOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	return rowsRemoved(r.db.Where("revoked_at IS NOT NULL AND revoked_at < ?", cutoff).Delete(&models.RefreshToken{}), "old revoked tokens")
}
