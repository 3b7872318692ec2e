package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"savings-tracker/internal/dto"
	"savings-tracker/internal/models"
	"savings-tracker/internal/repositories"

	"github.com/google/uuid"
)

var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountLocked       = errors.New("account is locked due to too many failed attempts")
	ErrUserAlreadyExists   = errors.New("user with this email already exists")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// AuthService signs savers in and out. The user id it puts in tokens is the
// key of the saver's ledger.
type AuthService struct {
	userRepo             repositories.UserRepositoryInterface
	refreshTokenRepo     repositories.RefreshTokenRepositoryInterface
	blacklistedTokenRepo repositories.BlacklistedTokenRepositoryInterface
	passwordService      PasswordServiceInterface
	tokenService         TokenServiceInterface
	audit                AuditLoggerInterface
	metrics              MetricsRecorderInterface
	logger               *slog.Logger
}

func NewAuthService(
	userRepo repositories.UserRepositoryInterface,
	refreshTokenRepo repositories.RefreshTokenRepositoryInterface,
	blacklistedTokenRepo repositories.BlacklistedTokenRepositoryInterface,
	passwordService PasswordServiceInterface,
	tokenService TokenServiceInterface,
	audit AuditLoggerInterface,
	metrics MetricsRecorderInterface,
	logger *slog.Logger,
) AuthServiceInterface {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		userRepo:             userRepo,
		refreshTokenRepo:     refreshTokenRepo,
		blacklistedTokenRepo: blacklistedTokenRepo,
		passwordService:      passwordService,
		tokenService:         tokenService,
		audit:                audit,
		metrics:              metrics,
		logger:               logger,
	}
}

func (s *AuthService) Register(req *dto.RegisterRequest, ipAddress, userAgent string) (*models.User, error) {
	existingUser, err := s.userRepo.GetByEmail(req.Email)
	if err != nil && !errors.Is(err, repositories.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	if existingUser != nil {
		s.record(models.AuthEvent{Type: models.AuthEventRegistered, Email: req.Email, IPAddress: ipAddress, UserAgent: userAgent, Reason: "email_already_exists"}, "register_rejected")
		return nil, ErrUserAlreadyExists
	}

	hashedPassword, err := s.passwordService.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: hashedPassword,
		DisplayName:  req.DisplayName,
	}

	if err := s.userRepo.Create(user); err != nil {
		if errors.Is(err, repositories.ErrUserAlreadyExists) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.record(models.AuthEvent{Type: models.AuthEventRegistered, UserID: &user.ID, Email: user.Email, IPAddress: ipAddress, UserAgent: userAgent}, models.AuthEventRegistered)

	return user, nil
}

func (s *AuthService) Login(req *dto.LoginRequest, ipAddress, userAgent string) (*dto.TokenResponse, error) {
	user, err := s.userRepo.GetByEmail(req.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			s.failedLogin(nil, req.Email, ipAddress, userAgent, "user_not_found")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if user.IsLocked() {
		s.failedLogin(&user.ID, req.Email, ipAddress, userAgent, "account_locked")
		return nil, ErrAccountLocked
	}

	if !s.passwordService.ComparePassword(req.Password, user.PasswordHash) {
		user.IncrementFailedAttempts()
		if err := s.userRepo.UpdateFailedLoginAttempts(user); err != nil {
			// the caller still only sees invalid credentials
			s.logger.Error("failed to update login attempts",
				"error", err,
				"user_id", user.ID)
		}

		if user.IsLocked() {
			s.record(models.AuthEvent{Type: models.AuthEventAccountLocked, UserID: &user.ID, Email: user.Email, IPAddress: ipAddress, UserAgent: userAgent}, models.AuthEventAccountLocked)
		}

		s.failedLogin(&user.ID, req.Email, ipAddress, userAgent, "invalid_password")
		return nil, ErrInvalidCredentials
	}

	user.ResetFailedAttempts()
	user.UpdateLastLogin()
	if err := s.userRepo.Update(user); err != nil {
		s.logger.Warn("failed to record successful login",
			"error", err,
			"user_id", user.ID)
	}

	tokens, err := s.generateTokens(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	s.record(models.AuthEvent{Type: models.AuthEventLoginSuccess, UserID: &user.ID, Email: user.Email, IPAddress: ipAddress, UserAgent: userAgent}, models.AuthEventLoginSuccess)

	return tokens, nil
}

// RefreshTokens rotates a refresh token: the presented one is revoked and a
// new pair is issued. Presenting a token that was already rotated means it
// leaked, so every session of the saver is revoked.
func (s *AuthService) RefreshTokens(refreshToken, ipAddress, userAgent string) (*dto.TokenResponse, error) {
	claims, err := s.tokenService.ValidateRefreshToken(refreshToken)
	if err != nil {
		s.failedRefresh(nil, ipAddress, userAgent, "invalid_token")
		return nil, ErrInvalidRefreshToken
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user ID in token: %w", err)
	}

	stored, err := s.refreshTokenRepo.GetByTokenHash(hashToken(refreshToken))
	if err != nil {
		s.failedRefresh(&userID, ipAddress, userAgent, "token_not_found")
		return nil, ErrInvalidRefreshToken
	}

	switch {
	case stored.IsRevoked():
		s.revokeSessions(userID, ipAddress, userAgent)
		return nil, ErrInvalidRefreshToken
	case stored.IsExpired():
		s.failedRefresh(&userID, ipAddress, userAgent, "token_expired")
		return nil, ErrInvalidRefreshToken
	}

	// Revoke is conditional on the row still being live, so of two
	// concurrent rotations only one wins.
	if err := s.refreshTokenRepo.Revoke(stored.ID); err != nil {
		if errors.Is(err, repositories.ErrRefreshTokenNotFound) {
			s.revokeSessions(userID, ipAddress, userAgent)
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	tokens, err := s.generateTokens(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate new tokens: %w", err)
	}

	s.record(models.AuthEvent{Type: models.AuthEventTokenRefreshed, UserID: &user.ID, IPAddress: ipAddress, UserAgent: userAgent}, models.AuthEventTokenRefreshed)

	return tokens, nil
}

func (s *AuthService) revokeSessions(userID uuid.UUID, ipAddress, userAgent string) {
	if err := s.refreshTokenRepo.RevokeAllForUser(userID); err != nil {
		s.logger.Error("failed to revoke sessions after refresh token reuse",
			"error", err,
			"user_id", userID)
	}
	s.failedRefresh(&userID, ipAddress, userAgent, "token_reused")
}

// Logout blacklists the access token and revokes every refresh token of the
// user. It never fails on a bad token; expired tokens are blacklisted too.
func (s *AuthService) Logout(accessToken, ipAddress, userAgent string) error {
	claims, err := s.tokenService.ValidateAccessToken(accessToken)
	if err != nil {
		jti, _ := s.tokenService.GetJTI(accessToken)
		if jti != "" {
			if err := s.blacklistToken(jti, uuid.Nil, time.Now().Add(24*time.Hour)); err != nil {
				s.logger.Error("failed to blacklist expired token",
					"error", err,
					"jti", jti)
			}
		}
		return nil
	}

	userID, _ := uuid.Parse(claims.UserID)

	expiry := time.Now().Add(24 * time.Hour)
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	if err := s.blacklistToken(claims.ID, userID, expiry); err != nil {
		s.logger.Error("failed to blacklist token",
			"error", err,
			"jti", claims.ID,
			"user_id", userID)
	}

	if err := s.refreshTokenRepo.RevokeAllForUser(userID); err != nil {
		s.logger.Warn("failed to revoke refresh tokens",
			"error", err,
			"user_id", userID)
	}

	s.record(models.AuthEvent{Type: models.AuthEventLogout, UserID: &userID, IPAddress: ipAddress, UserAgent: userAgent}, models.AuthEventLogout)

	return nil
}

func (s *AuthService) IsTokenRevoked(jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	return s.blacklistedTokenRepo.IsBlacklisted(jti)
}

func (s *AuthService) GetProfile(userID uuid.UUID) (*models.User, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *AuthService) generateTokens(user *models.User) (*dto.TokenResponse, error) {
	accessToken, expiresAt, err := s.tokenService.GenerateAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, refreshExpiresAt, err := s.tokenService.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	refreshTokenModel := &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: hashToken(refreshToken),
		ExpiresAt: refreshExpiresAt,
	}

	if err := s.refreshTokenRepo.Create(refreshTokenModel); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &dto.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *AuthService) blacklistToken(jti string, userID uuid.UUID, expiresAt time.Time) error {
	token := &models.BlacklistedToken{
		JTI:       jti,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	return s.blacklistedTokenRepo.Create(token)
}

// hashToken is what refresh tokens are stored and looked up by.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *AuthService) failedLogin(userID *uuid.UUID, email, ipAddress, userAgent, reason string) {
	s.record(models.AuthEvent{Type: models.AuthEventLoginFailed, UserID: userID, Email: email, IPAddress: ipAddress, UserAgent: userAgent, Reason: reason}, models.AuthEventLoginFailed)
}

func (s *AuthService) failedRefresh(userID *uuid.UUID, ipAddress, userAgent, reason string) {
	s.record(models.AuthEvent{Type: models.AuthEventTokenRefreshed, UserID: userID, IPAddress: ipAddress, UserAgent: userAgent, Reason: reason}, "token_refresh_failed")
}

func (s *AuthService) record(event models.AuthEvent, metric string) {
	s.audit.LogAuthEvent(context.Background(), event)
	s.metrics.IncrementCounter("authentication_event", map[string]string{"event_type": metric})
}
