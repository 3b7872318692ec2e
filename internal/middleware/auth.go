package middleware

import (
	stderrors "errors"

	"savings-tracker/internal/errors"
	"savings-tracker/internal/handlers"
	"savings-tracker/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// AccessTokenQueryParam carries the token on websocket upgrades, where
// browsers cannot set an Authorization header.
const AccessTokenQueryParam = "access_token"

// TokenRevocationChecker reports whether a token ID was blacklisted at logout.
type TokenRevocationChecker interface {
	IsTokenRevoked(jti string) (bool, error)
}

// RequireAuth validates the bearer access token, rejects revoked tokens and
// stores the saver's identity on the context for the handlers.
func RequireAuth(tokenService services.TokenServiceInterface, revocations TokenRevocationChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := accessToken(c, tokenService)
			if err != nil {
				if stderrors.Is(err, services.ErrEmptyToken) {
					return handlers.SendError(c, errors.AuthMissingToken)
				}
				return handlers.SendError(c, errors.AuthInvalidTokenFormat)
			}

			claims, err := tokenService.ValidateAccessToken(token)
			if err != nil {
				if stderrors.Is(err, services.ErrExpiredToken) {
					return handlers.SendError(c, errors.AuthExpiredToken)
				}
				return handlers.SendError(c, errors.AuthInvalidTokenFormat)
			}

			revoked, err := revocations.IsTokenRevoked(claims.ID)
			if err != nil {
				return handlers.SendSystemError(c, err)
			}
			if revoked {
				return handlers.SendError(c, errors.AuthInvalidTokenFormat, errors.WithDetails("Token has been revoked"))
			}

			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				return handlers.SendError(c, errors.AuthInvalidTokenFormat, errors.WithDetails("Invalid user ID in token"))
			}

			c.Set(handlers.UserIDContextKey, userID)
			c.Set(handlers.UserEmailContextKey, claims.Email)
			c.Set(handlers.TokenJTIContextKey, claims.ID)
			if claims.ExpiresAt != nil {
				c.Set(handlers.TokenExpiresAtContextKey, claims.ExpiresAt.Time)
			}

			return next(c)
		}
	}
}

func accessToken(c echo.Context, tokenService services.TokenServiceInterface) (string, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" && c.IsWebSocket() {
		if token := c.QueryParam(AccessTokenQueryParam); token != "" {
			return token, nil
		}
	}
	if header == "" {
		return "", services.ErrEmptyToken
	}
	return tokenService.ExtractTokenFromHeader(header)
}
