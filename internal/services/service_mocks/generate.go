package service_mocks

// LedgerServiceInterface and ReconciliationServiceInterface are not mocked:
// their signatures use services types, and services tests import this package.
//go:generate mockgen -destination=service_mocks.go -package=service_mocks savings-tracker/internal/services EventPublisherInterface,MetricsRecorderInterface,AuditLoggerInterface,CircuitBreakerInterface,AuthServiceInterface,TokenServiceInterface,PasswordServiceInterface
