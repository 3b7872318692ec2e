package repositories

import (
	"errors"
	"fmt"
	"strings"

	"savings-tracker/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepositoryInterface {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *models.User) error {
	if user == nil {
		return errors.New("user cannot be nil")
	}
	return r.write(r.db.Create(user).Error, "create user")
}

func (r *UserRepository) GetByID(id uuid.UUID) (*models.User, error) {
	user := &models.User{ID: id}
	if err := r.db.First(user).Error; err != nil {
		return nil, lookupErr(err, ErrUserNotFound, "user by ID")
	}
	return user, nil
}

// GetByEmail matches case-insensitively; emails are stored lowercased.
func (r *UserRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		return nil, lookupErr(err, ErrUserNotFound, "user by email")
	}
	return &user, nil
}

func (r *UserRepository) Update(user *models.User) error {
	if user == nil {
		return errors.New("user cannot be nil")
	}
	return r.write(r.db.Save(user).Error, "update user")
}

func (r *UserRepository) UpdatePasswordHash(userID uuid.UUID, passwordHash string) error {
	if userID == uuid.Nil {
		return errors.New("user ID cannot be nil")
	}
	if passwordHash == "" {
		return errors.New("password hash cannot be empty")
	}
	return r.setColumns(userID, map[string]interface{}{"password_hash": passwordHash}, "update password hash")
}

// UpdateFailedLoginAttempts persists the counter and lock state carried on user.
func (r *UserRepository) UpdateFailedLoginAttempts(user *models.User) error {
	if user == nil {
		return errors.New("user cannot be nil")
	}
	err := r.db.Model(user).Updates(map[string]interface{}{
		"failed_login_attempts": user.FailedLoginAttempts,
		"locked_at":             user.LockedAt,
		"last_login_at":         user.LastLoginAt,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update login attempts: %w", err)
	}
	return nil
}

func (r *UserRepository) ResetFailedLoginAttempts(userID uuid.UUID) error {
	err := r.db.Model(&models.User{ID: userID}).Updates(map[string]interface{}{
		"failed_login_attempts": 0,
		"locked_at":             nil,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to reset login attempts: %w", err)
	}
	return nil
}

func (r *UserRepository) setColumns(userID uuid.UUID, columns map[string]interface{}, action string) error {
	return touchedOne(r.db.Model(&models.User{ID: userID}).Updates(columns), ErrUserNotFound, action)
}

func (r *UserRepository) write(err error, action string) error {
	switch {
	case err == nil:
		return nil
	case isDuplicateKeyError(err):
		return ErrUserAlreadyExists
	default:
		return fmt.Errorf("failed to %s: %w", action, err)
	}
}
