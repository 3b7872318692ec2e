package handlers

import (
	"errors"
	"strings"
	"time"

	"savings-tracker/internal/session"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Keys RequireAuth stores on the echo context.
const (
	UserIDContextKey         = "user_id"
	UserEmailContextKey      = "user_email"
	TokenJTIContextKey       = "token_jti"
	TokenExpiresAtContextKey = "token_expires_at"
)

// ErrUnauthorized is returned when user context is invalid
var ErrUnauthorized = errors.New("unauthorized")

// getUserIDFromContext returns ErrUnauthorized if the user ID is missing or invalid.
func getUserIDFromContext(c echo.Context) (uuid.UUID, error) {
	userID, ok := c.Get(UserIDContextKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.UUID{}, ErrUnauthorized
	}
	return userID, nil
}

func identityFromContext(c echo.Context) (session.Identity, bool) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		return session.Identity{}, false
	}
	email, _ := c.Get(UserEmailContextKey).(string)
	return session.Identity{UserID: userID.String(), Email: email}, true
}

// gateFromContext scopes one request to the authenticated saver. Without an
// identity the gate is anonymous and the ledger service rejects the call.
func gateFromContext(c echo.Context) session.Gate {
	id, ok := identityFromContext(c)
	if !ok {
		return session.Anonymous()
	}
	return session.Fixed(id)
}

func tokenExpiryFromContext(c echo.Context) time.Time {
	expiresAt, _ := c.Get(TokenExpiresAtContextKey).(time.Time)
	return expiresAt
}

func getClientIP(c echo.Context) string {
	xff := c.Request().Header.Get("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	xri := c.Request().Header.Get("X-Real-IP")
	if xri != "" {
		return xri
	}

	return c.Request().RemoteAddr
}
