package services

import (
	"errors"
	"testing"
	"time"

	"savings-tracker/internal/dto"
	"savings-tracker/internal/models"
	"savings-tracker/internal/repositories"
	"savings-tracker/internal/repositories/repository_mocks"
	"savings-tracker/internal/services/service_mocks"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type AuthServiceTestSuite struct {
	suite.Suite
	ctrl                 *gomock.Controller
	userRepo             *repository_mocks.MockUserRepositoryInterface
	refreshTokenRepo     *repository_mocks.MockRefreshTokenRepositoryInterface
	blacklistedTokenRepo *repository_mocks.MockBlacklistedTokenRepositoryInterface
	passwordService      *service_mocks.MockPasswordServiceInterface
	tokenService         *service_mocks.MockTokenServiceInterface
	audit                *service_mocks.MockAuditLoggerInterface
	metrics              *service_mocks.MockMetricsRecorderInterface
	authService          AuthServiceInterface
	events               []models.AuthEvent
}

func (s *AuthServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.userRepo = repository_mocks.NewMockUserRepositoryInterface(s.ctrl)
	s.refreshTokenRepo = repository_mocks.NewMockRefreshTokenRepositoryInterface(s.ctrl)
	s.blacklistedTokenRepo = repository_mocks.NewMockBlacklistedTokenRepositoryInterface(s.ctrl)
	s.passwordService = service_mocks.NewMockPasswordServiceInterface(s.ctrl)
	s.tokenService = service_mocks.NewMockTokenServiceInterface(s.ctrl)
	s.audit = service_mocks.NewMockAuditLoggerInterface(s.ctrl)
	s.metrics = service_mocks.NewMockMetricsRecorderInterface(s.ctrl)

	s.events = nil
	s.audit.EXPECT().LogAuthEvent(gomock.Any(), gomock.Any()).Do(func(_ any, event models.AuthEvent) {
		s.events = append(s.events, event)
	}).AnyTimes()
	s.metrics.EXPECT().IncrementCounter("authentication_event", gomock.Any()).AnyTimes()

	s.authService = NewAuthService(s.userRepo, s.refreshTokenRepo, s.blacklistedTokenRepo, s.passwordService, s.tokenService, s.audit, s.metrics, discardLogger())
}

func (s *AuthServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestAuthServiceSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceTestSuite))
}

func (s *AuthServiceTestSuite) lastEvent() models.AuthEvent {
	s.Require().NotEmpty(s.events)
	return s.events[len(s.events)-1]
}

func (s *AuthServiceTestSuite) newUser() *models.User {
	return &models.User{
		ID:           uuid.New(),
		Email:        gofakeit.Email(),
		PasswordHash: "hashed_password",
		DisplayName:  gofakeit.FirstName(),
	}
}

func (s *AuthServiceTestSuite) expectTokens(user *models.User) {
	s.tokenService.EXPECT().GenerateAccessToken(user).Return("access_token", time.Now().Add(time.Hour), nil).Times(1)
	s.tokenService.EXPECT().GenerateRefreshToken(user.ID).Return("refresh_token", time.Now().Add(24*time.Hour), nil).Times(1)
	s.refreshTokenRepo.EXPECT().Create(gomock.Any()).DoAndReturn(func(token *models.RefreshToken) error {
		s.Equal(user.ID, token.UserID)
		s.Equal(hashToken("refresh_token"), token.TokenHash)
		return nil
	}).Times(1)
}

func (s *AuthServiceTestSuite) TestRegister_Success() {
	req := &dto.RegisterRequest{Email: gofakeit.Email(), Password: "SecurePass123!", DisplayName: "Budi"}

	s.userRepo.EXPECT().GetByEmail(req.Email).Return(nil, repositories.ErrUserNotFound).Times(1)
	s.passwordService.EXPECT().HashPassword(req.Password).Return("hashed_password", nil).Times(1)
	s.userRepo.EXPECT().Create(gomock.Any()).Return(nil).Times(1)

	user, err := s.authService.Register(req, "192.168.1.1", "Mozilla/5.0")

	s.Require().NoError(err)
	s.Equal(req.Email, user.Email)
	s.Equal("Budi", user.DisplayName)
	s.Equal("hashed_password", user.PasswordHash)
	s.Equal(models.AuthEventRegistered, s.lastEvent().Type)
	s.Empty(s.lastEvent().Reason)
}

func (s *AuthServiceTestSuite) TestRegister_EmailTaken() {
	req := &dto.RegisterRequest{Email: gofakeit.Email(), Password: "SecurePass123!"}
	s.userRepo.EXPECT().GetByEmail(req.Email).Return(&models.User{Email: req.Email}, nil).Times(1)

	user, err := s.authService.Register(req, "", "")

	s.ErrorIs(err, ErrUserAlreadyExists)
	s.Nil(user)
	s.Equal("email_already_exists", s.lastEvent().Reason)
}

func (s *AuthServiceTestSuite) TestRegister_DuplicateOnInsert() {
	req := &dto.RegisterRequest{Email: gofakeit.Email(), Password: "SecurePass123!"}
	s.userRepo.EXPECT().GetByEmail(req.Email).Return(nil, repositories.ErrUserNotFound).Times(1)
	s.passwordService.EXPECT().HashPassword(req.Password).Return("hashed_password", nil).Times(1)
	s.userRepo.EXPECT().Create(gomock.Any()).Return(repositories.ErrUserAlreadyExists).Times(1)

	_, err := s.authService.Register(req, "", "")
	s.ErrorIs(err, ErrUserAlreadyExists)
}

func (s *AuthServiceTestSuite) TestRegister_WeakPassword() {
	req := &dto.RegisterRequest{Email: gofakeit.Email(), Password: "123"}
	s.userRepo.EXPECT().GetByEmail(req.Email).Return(nil, repositories.ErrUserNotFound).Times(1)
	s.passwordService.EXPECT().HashPassword(req.Password).Return("", ErrPasswordTooShort).Times(1)

	user, err := s.authService.Register(req, "", "")
	s.ErrorIs(err, ErrPasswordTooShort)
	s.Nil(user)
}

func (s *AuthServiceTestSuite) TestLogin_Success() {
	user := s.newUser()
	user.FailedLoginAttempts = 2
	req := &dto.LoginRequest{Email: user.Email, Password: "SecurePass123!@#"}

	s.userRepo.EXPECT().GetByEmail(user.Email).Return(user, nil).Times(1)
	s.passwordService.EXPECT().ComparePassword(req.Password, user.PasswordHash).Return(true).Times(1)
	s.userRepo.EXPECT().Update(user).DoAndReturn(func(u *models.User) error {
		s.Equal(0, u.FailedLoginAttempts)
		s.NotNil(u.LastLoginAt)
		return nil
	}).Times(1)
	s.expectTokens(user)

	tokens, err := s.authService.Login(req, "192.168.1.1", "Mozilla/5.0")

	s.Require().NoError(err)
	s.Equal("access_token", tokens.AccessToken)
	s.Equal("refresh_token", tokens.RefreshToken)
	s.Equal("Bearer", tokens.TokenType)
	s.Equal(models.AuthEventLoginSuccess, s.lastEvent().Type)
}

func (s *AuthServiceTestSuite) TestLogin_UnknownEmail() {
	req := &dto.LoginRequest{Email: gofakeit.Email(), Password: "whatever"}
	s.userRepo.EXPECT().GetByEmail(req.Email).Return(nil, repositories.ErrUserNotFound).Times(1)

	tokens, err := s.authService.Login(req, "", "")

	s.ErrorIs(err, ErrInvalidCredentials)
	s.Nil(tokens)
	s.Equal("user_not_found", s.lastEvent().Reason)
}

func (s *AuthServiceTestSuite) TestLogin_WrongPassword() {
	user := s.newUser()
	req := &dto.LoginRequest{Email: user.Email, Password: "WrongPassword"}

	s.userRepo.EXPECT().GetByEmail(user.Email).Return(user, nil).Times(1)
	s.passwordService.EXPECT().ComparePassword(req.Password, user.PasswordHash).Return(false).Times(1)
	s.userRepo.EXPECT().UpdateFailedLoginAttempts(user).Return(nil).Times(1)

	_, err := s.authService.Login(req, "", "")

	s.ErrorIs(err, ErrInvalidCredentials)
	s.Equal(1, user.FailedLoginAttempts)
	s.Equal("invalid_password", s.lastEvent().Reason)
}

func (s *AuthServiceTestSuite) TestLogin_LocksAfterMaxFailures() {
	user := s.newUser()
	user.FailedLoginAttempts = models.MaxFailedLoginAttempts - 1
	req := &dto.LoginRequest{Email: user.Email, Password: "WrongPassword"}

	s.userRepo.EXPECT().GetByEmail(user.Email).Return(user, nil).Times(2)
	s.passwordService.EXPECT().ComparePassword(req.Password, user.PasswordHash).Return(false).Times(1)
	s.userRepo.EXPECT().UpdateFailedLoginAttempts(user).Return(nil).Times(1)

	_, err := s.authService.Login(req, "", "")
	s.ErrorIs(err, ErrInvalidCredentials)
	s.True(user.IsLocked())

	var locked bool
	for _, e := range s.events {
		locked = locked || e.Type == models.AuthEventAccountLocked
	}
	s.True(locked)

	_, err = s.authService.Login(&dto.LoginRequest{Email: user.Email, Password: "SecurePass123!@#"}, "", "")
	s.ErrorIs(err, ErrAccountLocked)
}

func (s *AuthServiceTestSuite) TestRefreshTokens_RotatesToken() {
	user := s.newUser()
	stored := &models.RefreshToken{ID: uuid.New(), UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}

	s.tokenService.EXPECT().ValidateRefreshToken("old_refresh").Return(&models.CustomClaims{UserID: user.ID.String()}, nil).Times(1)
	s.refreshTokenRepo.EXPECT().GetByTokenHash(hashToken("old_refresh")).Return(stored, nil).Times(1)
	s.refreshTokenRepo.EXPECT().Revoke(stored.ID).Return(nil).Times(1)
	s.userRepo.EXPECT().GetByID(user.ID).Return(user, nil).Times(1)
	s.expectTokens(user)

	tokens, err := s.authService.RefreshTokens("old_refresh", "", "")

	s.Require().NoError(err)
	s.Equal("refresh_token", tokens.RefreshToken)
	s.Equal(models.AuthEventTokenRefreshed, s.lastEvent().Type)
}

func (s *AuthServiceTestSuite) TestRefreshTokens_InvalidToken() {
	s.tokenService.EXPECT().ValidateRefreshToken("bogus").Return(nil, ErrInvalidToken).Times(1)

	_, err := s.authService.RefreshTokens("bogus", "", "")
	s.ErrorIs(err, ErrInvalidRefreshToken)
}

func (s *AuthServiceTestSuite) TestRefreshTokens_RevokedToken() {
	userID := uuid.New()
	now := time.Now()
	stored := &models.RefreshToken{ID: uuid.New(), UserID: userID, ExpiresAt: now.Add(time.Hour), RevokedAt: &now}

	s.tokenService.EXPECT().ValidateRefreshToken("reused").Return(&models.CustomClaims{UserID: userID.String()}, nil).Times(1)
	s.refreshTokenRepo.EXPECT().GetByTokenHash(hashToken("reused")).Return(stored, nil).Times(1)
	s.refreshTokenRepo.EXPECT().RevokeAllForUser(userID).Return(nil).Times(1)

	_, err := s.authService.RefreshTokens("reused", "", "")

	s.ErrorIs(err, ErrInvalidRefreshToken)
	s.Equal("token_reused", s.lastEvent().Reason)
}

func (s *AuthServiceTestSuite) TestRefreshTokens_LosesConcurrentRotation() {
	userID := uuid.New()
	stored := &models.RefreshToken{ID: uuid.New(), UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}

	s.tokenService.EXPECT().ValidateRefreshToken("raced").Return(&models.CustomClaims{UserID: userID.String()}, nil).Times(1)
	s.refreshTokenRepo.EXPECT().GetByTokenHash(hashToken("raced")).Return(stored, nil).Times(1)
	s.refreshTokenRepo.EXPECT().Revoke(stored.ID).Return(repositories.ErrRefreshTokenNotFound).Times(1)
	s.refreshTokenRepo.EXPECT().RevokeAllForUser(userID).Return(nil).Times(1)

	_, err := s.authService.RefreshTokens("raced", "", "")

	s.ErrorIs(err, ErrInvalidRefreshToken)
	s.Equal("token_reused", s.lastEvent().Reason)
}

func (s *AuthServiceTestSuite) TestRefreshTokens_ExpiredToken() {
	userID := uuid.New()
	stored := &models.RefreshToken{ID: uuid.New(), UserID: userID, ExpiresAt: time.Now().Add(-time.Minute)}

	s.tokenService.EXPECT().ValidateRefreshToken("stale").Return(&models.CustomClaims{UserID: userID.String()}, nil).Times(1)
	s.refreshTokenRepo.EXPECT().GetByTokenHash(hashToken("stale")).Return(stored, nil).Times(1)

	_, err := s.authService.RefreshTokens("stale", "", "")

	s.ErrorIs(err, ErrInvalidRefreshToken)
	s.Equal("token_expired", s.lastEvent().Reason)
}

func (s *AuthServiceTestSuite) TestLogout_BlacklistsAndRevokes() {
	userID := uuid.New()
	expiry := time.Now().Add(time.Hour)
	claims := &models.CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{ID: "jti-1", ExpiresAt: jwt.NewNumericDate(expiry)},
		UserID:           userID.String(),
	}

	s.tokenService.EXPECT().ValidateAccessToken("access").Return(claims, nil).Times(1)
	s.blacklistedTokenRepo.EXPECT().Create(gomock.Any()).DoAndReturn(func(t *models.BlacklistedToken) error {
		s.Equal("jti-1", t.JTI)
		s.Equal(userID, t.UserID)
		s.WithinDuration(expiry, t.ExpiresAt, time.Second)
		return nil
	}).Times(1)
	s.refreshTokenRepo.EXPECT().RevokeAllForUser(userID).Return(nil).Times(1)

	s.NoError(s.authService.Logout("access", "", ""))
	s.Equal(models.AuthEventLogout, s.lastEvent().Type)
}

func (s *AuthServiceTestSuite) TestLogout_ExpiredTokenStillBlacklisted() {
	s.tokenService.EXPECT().ValidateAccessToken("expired").Return(nil, ErrExpiredToken).Times(1)
	s.tokenService.EXPECT().GetJTI("expired").Return("jti-2", nil).Times(1)
	s.blacklistedTokenRepo.EXPECT().Create(gomock.Any()).Return(nil).Times(1)

	s.NoError(s.authService.Logout("expired", "", ""))
}

func (s *AuthServiceTestSuite) TestLogout_GarbageToken() {
	s.tokenService.EXPECT().ValidateAccessToken("garbage").Return(nil, ErrInvalidToken).Times(1)
	s.tokenService.EXPECT().GetJTI("garbage").Return("", ErrInvalidToken).Times(1)

	s.NoError(s.authService.Logout("garbage", "", ""))
}

func (s *AuthServiceTestSuite) TestIsTokenRevoked() {
	s.blacklistedTokenRepo.EXPECT().IsBlacklisted("jti-1").Return(true, nil).Times(1)

	revoked, err := s.authService.IsTokenRevoked("jti-1")
	s.NoError(err)
	s.True(revoked)

	revoked, err = s.authService.IsTokenRevoked("")
	s.NoError(err)
	s.False(revoked)
}

func (s *AuthServiceTestSuite) TestGetProfile() {
	user := s.newUser()
	s.userRepo.EXPECT().GetByID(user.ID).Return(user, nil).Times(1)

	got, err := s.authService.GetProfile(user.ID)
	s.NoError(err)
	s.Equal(user, got)

	missing := uuid.New()
	s.userRepo.EXPECT().GetByID(missing).Return(nil, repositories.ErrUserNotFound).Times(1)
	_, err = s.authService.GetProfile(missing)
	s.ErrorIs(err, ErrUserNotFound)

	broken := uuid.New()
	s.userRepo.EXPECT().GetByID(broken).Return(nil, errors.New("db gone")).Times(1)
	_, err = s.authService.GetProfile(broken)
	s.ErrorContains(err, "db gone")
}
