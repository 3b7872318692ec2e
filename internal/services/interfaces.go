package services

import (
	"context"
	"time"

	"savings-tracker/internal/dto"
	"savings-tracker/internal/events"
	"savings-tracker/internal/ledgerstore"
	"savings-tracker/internal/models"
	"savings-tracker/internal/session"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerServiceInterface maintains total_savings alongside the transaction
// list of the caller's ledger. Every method resolves the gate first and fails
// with ErrNoIdentity before touching the store when nobody is signed in.
type LedgerServiceInterface interface {
	SetTarget(ctx context.Context, gate session.Gate, target decimal.Decimal) error
	AddTransaction(ctx context.Context, gate session.Gate, input TransactionInput) (string, error)
	EditTransaction(ctx context.Context, gate session.Gate, id string, input TransactionInput, opts ...EditOption) error
	DeleteTransaction(ctx context.Context, gate session.Gate, id string, opts ...EditOption) error
	SubscribeLedger(ctx context.Context, gate session.Gate, onChange func(ledgerstore.Snapshot)) (ledgerstore.Subscription, error)
	Snapshot(ctx context.Context, gate session.Gate) (ledgerstore.Snapshot, error)
	Reconcile(ctx context.Context, gate session.Gate) (*ReconcileResult, error)
}

type ReconciliationServiceInterface interface {
	ReconcileAll(ctx context.Context) (*ReconcileReport, error)
	Start(ctx context.Context)
}

// EventPublisherInterface ships ledger mutations downstream.
type EventPublisherInterface interface {
	Publish(ctx context.Context, event events.LedgerEvent) error
	Close() error
}

type MetricsRecorderInterface interface {
	IncrementCounter(name string, tags map[string]string)
	RecordProcessingTime(name string, duration time.Duration)
	RecordGauge(name string, value float64, tags map[string]string)
}

type AuditLoggerInterface interface {
	LogLedgerMutation(ctx context.Context, operation, userID, transactionID string, delta decimal.Decimal)
	LogPartialFailure(ctx context.Context, operation, userID, transactionID string, err error)
	LogVersionConflict(ctx context.Context, userID, transactionID string, expectedVersion int64)
	LogReconciled(ctx context.Context, userID string, before, after decimal.Decimal)
	LogCircuitBreakerStateChange(ctx context.Context, service string, oldState, newState string)
	LogAuthEvent(ctx context.Context, event models.AuthEvent)
}

type CircuitBreakerInterface interface {
	IsOpen() bool
	RecordSuccess()
	RecordFailure()
	GetState() models.CircuitBreakerState
	Reset()
	GetFailureCount() int
}

type AuthServiceInterface interface {
	Register(req *dto.RegisterRequest, ipAddress, userAgent string) (*models.User, error)
	Login(req *dto.LoginRequest, ipAddress, userAgent string) (*dto.TokenResponse, error)
	RefreshTokens(refreshToken, ipAddress, userAgent string) (*dto.TokenResponse, error)
	Logout(accessToken, ipAddress, userAgent string) error
	IsTokenRevoked(jti string) (bool, error)
	GetProfile(userID uuid.UUID) (*models.User, error)
}

type TokenServiceInterface interface {
	GenerateAccessToken(user *models.User) (string, time.Time, error)
	GenerateRefreshToken(userID uuid.UUID) (string, time.Time, error)
	ValidateAccessToken(tokenString string) (*models.CustomClaims, error)
	ValidateRefreshToken(tokenString string) (*models.CustomClaims, error)
	ExtractTokenFromHeader(authHeader string) (string, error)
	GetJTI(tokenString string) (string, error)
}

type PasswordServiceInterface interface {
	ValidatePassword(password string) error
	HashPassword(password string) (string, error)
	ComparePassword(password, hash string) bool
	PasswordStrength(password string) int
	ChangePassword(userID uuid.UUID, currentPassword, newPassword string) error
}
