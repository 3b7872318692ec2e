package services

import (
	"context"
	"errors"
	"fmt"
	"unicode"

	"savings-tracker/internal/config"
	"savings-tracker/internal/models"
	"savings-tracker/internal/repositories"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	BCryptCost = 12

	MinPasswordLength = 12
	MaxPasswordLength = 72 // bcrypt ignores anything longer

	specialCharacters = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

var (
	ErrPasswordEmpty        = errors.New("password cannot be empty")
	ErrPasswordTooShort     = errors.New("password is too short")
	ErrPasswordTooLong      = fmt.Errorf("password must not exceed %d characters", MaxPasswordLength)
	ErrPasswordNoUppercase  = errors.New("password must contain at least one uppercase letter")
	ErrPasswordNoLowercase  = errors.New("password must contain at least one lowercase letter")
	ErrPasswordNoNumber     = errors.New("password must contain at least one number")
	ErrPasswordNoSpecial    = errors.New("password must contain at least one special character")
	ErrCurrentPasswordWrong = errors.New("current password is incorrect")
	ErrSamePassword         = errors.New("new password must be different from current password")
	ErrInvalidUserID        = errors.New("user ID is required")
	ErrUserNotFound         = errors.New("user not found")
)

// PasswordPolicy is the set of rules a new password must satisfy.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// DefaultPasswordPolicy requires every character class and MinPasswordLength.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        MinPasswordLength,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumber:    true,
		RequireSpecial:   true,
	}
}

func PasswordPolicyFromConfig(cfg config.SecurityConfig) PasswordPolicy {
	policy := PasswordPolicy{
		MinLength:        cfg.PasswordMinLength,
		RequireUppercase: cfg.RequireUppercase,
		RequireLowercase: cfg.RequireLowercase,
		RequireNumber:    cfg.RequireNumbers,
		RequireSpecial:   cfg.RequireSpecialChars,
	}
	if policy.MinLength <= 0 {
		policy.MinLength = MinPasswordLength
	}
	return policy
}

type characterClasses struct {
	upper, lower, number, special bool
	unique                        int
}

func classify(password string) characterClasses {
	var classes characterClasses
	seen := make(map[rune]struct{}, len(password))
	for _, r := range password {
		seen[r] = struct{}{}
		switch {
		case unicode.IsUpper(r):
			classes.upper = true
		case unicode.IsLower(r):
			classes.lower = true
		case unicode.IsDigit(r):
			classes.number = true
		case containsRune(specialCharacters, r):
			classes.special = true
		}
	}
	classes.unique = len(seen)
	return classes
}

func containsRune(set string, r rune) bool {
	for _, c := range set {
		if c == r {
			return true
		}
	}
	return false
}

type PasswordService struct {
	cost     int
	policy   PasswordPolicy
	userRepo repositories.UserRepositoryInterface
	audit    AuditLoggerInterface
}

// NewPasswordService hashes with the given bcrypt cost; zero means BCryptCost.
func NewPasswordService(userRepo repositories.UserRepositoryInterface, audit AuditLoggerInterface, cost int, policy PasswordPolicy) PasswordServiceInterface {
	if cost == 0 {
		cost = BCryptCost
	}
	if policy.MinLength <= 0 {
		policy.MinLength = MinPasswordLength
	}
	return &PasswordService{
		cost:     cost,
		policy:   policy,
		userRepo: userRepo,
		audit:    audit,
	}
}

func (ps *PasswordService) ValidatePassword(password string) error {
	switch {
	case password == "":
		return ErrPasswordEmpty
	case len(password) < ps.policy.MinLength:
		return fmt.Errorf("%w: minimum is %d characters", ErrPasswordTooShort, ps.policy.MinLength)
	case len(password) > MaxPasswordLength:
		return ErrPasswordTooLong
	}

	classes := classify(password)
	switch {
	case ps.policy.RequireUppercase && !classes.upper:
		return ErrPasswordNoUppercase
	case ps.policy.RequireLowercase && !classes.lower:
		return ErrPasswordNoLowercase
	case ps.policy.RequireNumber && !classes.number:
		return ErrPasswordNoNumber
	case ps.policy.RequireSpecial && !classes.special:
		return ErrPasswordNoSpecial
	}
	return nil
}

func (ps *PasswordService) HashPassword(password string) (string, error) {
	if err := ps.ValidatePassword(password); err != nil {
		return "", fmt.Errorf("password validation failed: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), ps.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (ps *PasswordService) ComparePassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// PasswordStrength scores a password from 0 to 100: up to 40 for length, 15
// per character class, and up to 10 for variety. Any password that passes
// ValidatePassword scores at least 80.
func (ps *PasswordService) PasswordStrength(password string) int {
	if password == "" {
		return 0
	}

	score := 0
	for _, step := range []int{8, 12, 16, 20} {
		if len(password) >= step {
			score += 10
		}
	}

	classes := classify(password)
	for _, present := range []bool{classes.upper, classes.lower, classes.number, classes.special} {
		if present {
			score += 15
		}
	}

	switch {
	case classes.unique > len(password)*3/4:
		score += 10
	case classes.unique > len(password)/2:
		score += 5
	}

	if ps.ValidatePassword(password) == nil && score < 80 {
		score = 80
	}
	return min(score, 100)
}

// ChangePassword replaces the saver's password after checking the current one.
func (ps *PasswordService) ChangePassword(userID uuid.UUID, currentPassword, newPassword string) error {
	switch {
	case userID == uuid.Nil:
		return ErrInvalidUserID
	case currentPassword == "":
		return errors.New("current password is required")
	case newPassword == "":
		return errors.New("new password is required")
	case currentPassword == newPassword:
		return ErrSamePassword
	}

	if err := ps.ValidatePassword(newPassword); err != nil {
		return err
	}

	user, err := ps.userRepo.GetByID(userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to find user: %w", err)
	}

	if !ps.ComparePassword(currentPassword, user.PasswordHash) {
		return ErrCurrentPasswordWrong
	}

	hash, err := ps.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash new password: %w", err)
	}

	if err := ps.userRepo.UpdatePasswordHash(user.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	ps.audit.LogAuthEvent(context.Background(), models.AuthEvent{
		Type:   models.AuthEventPasswordChanged,
		UserID: &user.ID,
		Email:  user.Email,
	})
	return nil
}
