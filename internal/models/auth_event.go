package models

import "github.com/google/uuid"

const (
	AuthEventRegistered      = "registered"
	AuthEventLoginSuccess    = "login_success"
	AuthEventLoginFailed     = "login_failed"
	AuthEventAccountLocked   = "account_locked"
	AuthEventTokenRefreshed  = "token_refreshed"
	AuthEventLogout          = "logout"
	AuthEventPasswordChanged = "password_changed"
)

// AuthEvent is one entry of the authentication audit trail. It is logged,
// not stored.
type AuthEvent struct {
	Type      string
	UserID    *uuid.UUID
	Email     string
	IPAddress string
	UserAgent string
	Reason    string
}

// IsFailure reports events worth a warning in the audit log.
func (e AuthEvent) IsFailure() bool {
	return e.Type == AuthEventLoginFailed || e.Type == AuthEventAccountLocked || e.Reason != ""
}
