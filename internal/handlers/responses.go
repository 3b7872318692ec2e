package handlers

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"

	"savings-tracker/internal/errors"
	"savings-tracker/internal/ledgerstore"
	"savings-tracker/internal/services"

	"github.com/labstack/echo/v4"
)

// Handlers report failures through the helpers below and never through
// echo.NewHTTPError or a bare c.JSON:
//
//   - SendError for client and business errors (4xx)
//   - SendLedgerError for anything returned by the ledger service
//   - SendSystemError for internal failures; the body never carries internals

const (
	// TraceIDContextKey is the context key for storing the trace ID
	TraceIDContextKey = "trace_id"
)

// SuccessResponse represents a standard success response
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// ErrorResponse is an alias for the standardized error response type
type ErrorResponse = errors.ErrorResponse

func getTraceID(c echo.Context) string {
	traceID, ok := c.Get(TraceIDContextKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// SendError sends a standardized error response with trace ID from context
func SendError(c echo.Context, code errors.ErrorCode, opts ...errors.ErrorOption) error {
	traceID := getTraceID(c)
	errorResponse := errors.NewErrorResponse(code, traceID, opts...)
	return c.JSON(errorResponse.GetHTTPStatus(), errorResponse)
}

// SendSystemError answers SYSTEM_001 and logs the internal error
func SendSystemError(c echo.Context, err error) error {
	traceID := getTraceID(c)
	errorResponse, internal := errors.WrapSystemError(err, traceID)
	slog.ErrorContext(c.Request().Context(), "internal error",
		"trace_id", traceID,
		"path", c.Request().URL.Path,
		"error", internal,
	)
	return c.JSON(http.StatusInternalServerError, errorResponse)
}

// SendLedgerError maps the ledger service's error taxonomy onto API codes.
func SendLedgerError(c echo.Context, err error) error {
	var verr *services.ValidationError
	var serr *services.StoreError

	switch {
	case stderrors.As(err, &verr):
		return SendError(c, errors.ValidationGeneral, errors.WithDetails(fmt.Sprintf("%s: %s", verr.Field, verr.Reason)))
	case stderrors.Is(err, services.ErrNoIdentity):
		return SendError(c, errors.AuthMissingToken)
	case stderrors.Is(err, services.ErrVersionConflict):
		return SendError(c, errors.LedgerVersionConflict)
	case stderrors.Is(err, ledgerstore.ErrNotFound):
		return SendError(c, errors.TransactionNotFound)
	case services.IsPartial(err):
		stderrors.As(err, &serr)
		slog.ErrorContext(c.Request().Context(), "ledger left partially updated",
			"trace_id", getTraceID(c),
			"operation", serr.Op,
			"transaction_id", serr.TransactionID,
			"error", serr.Err,
		)
		return SendError(c, errors.LedgerPartialUpdate, errors.WithDetails("transaction_id: "+serr.TransactionID))
	case stderrors.Is(err, services.ErrLedgerUnavailable):
		return SendError(c, errors.LedgerUnavailable)
	case stderrors.As(err, &serr):
		slog.ErrorContext(c.Request().Context(), "ledger store failure",
			"trace_id", getTraceID(c),
			"operation", serr.Op,
			"error", serr.Err,
		)
		return SendError(c, errors.SystemDatabaseError)
	default:
		return SendSystemError(c, err)
	}
}
