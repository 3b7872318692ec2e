package models

import "github.com/golang-jwt/jwt/v5"

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// CustomClaims carries the saver identity inside access and refresh tokens.
// UserID doubles as the ledger key.
type CustomClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	TokenType string `json:"token_type"`
}

func (c *CustomClaims) IsAccess() bool {
	return c.TokenType == TokenTypeAccess
}

func (c *CustomClaims) IsRefresh() bool {
	return c.TokenType == TokenTypeRefresh
}
