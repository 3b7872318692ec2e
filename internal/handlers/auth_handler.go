package handlers

import (
	stderrors "errors"
	"net/http"
	"strings"

	"savings-tracker/internal/dto"
	"savings-tracker/internal/errors"
	"savings-tracker/internal/models"
	"savings-tracker/internal/services"

	"github.com/labstack/echo/v4"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService     services.AuthServiceInterface
	passwordService services.PasswordServiceInterface
}

func NewAuthHandler(authService services.AuthServiceInterface, passwordService services.PasswordServiceInterface) *AuthHandler {
	return &AuthHandler{
		authService:     authService,
		passwordService: passwordService,
	}
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(c echo.Context) error {
	var req dto.RegisterRequest

	if err := c.Bind(&req); err != nil {
		return SendError(c, errors.ValidationGeneral, errors.WithDetails("Invalid request body"))
	}

	if err := c.Validate(req); err != nil {
		return err
	}

	user, err := h.authService.Register(&req, getClientIP(c), c.Request().UserAgent())
	if err != nil {
		if stderrors.Is(err, services.ErrUserAlreadyExists) {
			return SendError(c, errors.AuthEmailTaken)
		}
		if isPasswordPolicyError(err) {
			return SendError(c, errors.ValidationGeneral, errors.WithDetails("password: "+err.Error()))
		}
		return SendSystemError(c, err)
	}

	return c.JSON(http.StatusCreated, SuccessResponse{
		Data:    newProfileResponse(user),
		Message: "User registered successfully",
	})
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(c echo.Context) error {
	var req dto.LoginRequest

	if err := c.Bind(&req); err != nil {
		return SendError(c, errors.ValidationGeneral, errors.WithDetails("Invalid request body"))
	}

	if err := c.Validate(req); err != nil {
		return err
	}

	tokens, err := h.authService.Login(&req, getClientIP(c), c.Request().UserAgent())
	if err != nil {
		switch {
		case stderrors.Is(err, services.ErrAccountLocked):
			return SendError(c, errors.AuthAccountLocked)
		case stderrors.Is(err, services.ErrInvalidCredentials):
			return SendError(c, errors.AuthInvalidCredentials)
		}
		return SendSystemError(c, err)
	}

	return c.JSON(http.StatusOK, tokens)
}

// RefreshToken handles POST /auth/refresh
func (h *AuthHandler) RefreshToken(c echo.Context) error {
	var req dto.RefreshTokenRequest

	if err := c.Bind(&req); err != nil {
		return SendError(c, errors.ValidationGeneral, errors.WithDetails("Invalid request body"))
	}

	if err := c.Validate(req); err != nil {
		return err
	}

	tokens, err := h.authService.RefreshTokens(req.RefreshToken, getClientIP(c), c.Request().UserAgent())
	if err != nil {
		if stderrors.Is(err, services.ErrInvalidRefreshToken) {
			return SendError(c, errors.AuthInvalidTokenFormat, errors.WithDetails("Invalid or expired refresh token"))
		}
		return SendSystemError(c, err)
	}

	return c.JSON(http.StatusOK, tokens)
}

// Logout handles POST /auth/logout. It answers 200 even when revocation
// fails so the response says nothing about the token's state.
func (h *AuthHandler) Logout(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		return SendError(c, errors.AuthMissingToken)
	}

	accessToken, ok := bearerToken(authHeader)
	if !ok {
		return SendError(c, errors.AuthInvalidTokenFormat)
	}

	if err := h.authService.Logout(accessToken, getClientIP(c), c.Request().UserAgent()); err != nil {
		c.Logger().Warnf("logout: %v", err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{
		Message: "Logout successful",
	})
}

// Profile handles GET /auth/me
func (h *AuthHandler) Profile(c echo.Context) error {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		return SendError(c, errors.AuthMissingToken)
	}

	user, err := h.authService.GetProfile(userID)
	if err != nil {
		if stderrors.Is(err, services.ErrUserNotFound) {
			return SendError(c, errors.AuthMissingToken, errors.WithDetails("Account no longer exists"))
		}
		return SendSystemError(c, err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{Data: newProfileResponse(user)})
}

// ChangePassword handles PUT /auth/password
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		return SendError(c, errors.AuthMissingToken)
	}

	var req dto.ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return SendError(c, errors.ValidationGeneral, errors.WithDetails("Invalid request body"))
	}

	if err := c.Validate(req); err != nil {
		return err
	}

	if err := h.passwordService.ChangePassword(userID, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case stderrors.Is(err, services.ErrCurrentPasswordWrong):
			return SendError(c, errors.AuthInvalidCredentials, errors.WithMessage("Current password is incorrect"))
		case stderrors.Is(err, services.ErrSamePassword), isPasswordPolicyError(err):
			return SendError(c, errors.ValidationGeneral, errors.WithDetails("newPassword: "+err.Error()))
		case stderrors.Is(err, services.ErrUserNotFound):
			return SendError(c, errors.AuthMissingToken, errors.WithDetails("Account no longer exists"))
		}
		return SendSystemError(c, err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{Message: "Password changed successfully"})
}

func newProfileResponse(user *models.User) dto.UserProfileResponse {
	return dto.UserProfileResponse{
		ID:          user.ID.String(),
		Email:       user.Email,
		DisplayName: user.Name(),
		CreatedAt:   user.CreatedAt,
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", false
	}
	return token, true
}

var passwordPolicyErrors = []error{
	services.ErrPasswordEmpty,
	services.ErrPasswordTooShort,
	services.ErrPasswordTooLong,
	services.ErrPasswordNoUppercase,
	services.ErrPasswordNoLowercase,
	services.ErrPasswordNoNumber,
	services.ErrPasswordNoSpecial,
}

func isPasswordPolicyError(err error) bool {
	for _, target := range passwordPolicyErrors {
		if stderrors.Is(err, target) {
			return true
		}
	}
	return false
}
