package middleware

import (
	"context"

	"savings-tracker/internal/handlers"
	"savings-tracker/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	// TraceIDHeader is the header name for the trace ID
	TraceIDHeader = "X-Trace-ID"
	// CorrelationIDHeader lets a caller tie several requests together.
	CorrelationIDHeader = "X-Correlation-ID"
	// TraceIDContextKey is the context key for storing the trace ID
	TraceIDContextKey = handlers.TraceIDContextKey
)

// RequestID assigns every request a trace ID, echoes it in the response and
// puts it on the request context so the audit log can correlate entries.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()

			traceID := req.Header.Get(TraceIDHeader)
			if traceID == "" {
				traceID = uuid.New().String()
			}

			correlationID := req.Header.Get(CorrelationIDHeader)
			if correlationID == "" {
				correlationID = traceID
			}

			ctx := context.WithValue(req.Context(), services.RequestIDKey, traceID)
			ctx = context.WithValue(ctx, services.CorrelationIDKey, correlationID)
			c.SetRequest(req.WithContext(ctx))

			c.Set(TraceIDContextKey, traceID)
			res.Header().Set(TraceIDHeader, traceID)
			return next(c)
		}
	}
}

// GetTraceID returns an empty string when RequestID did not run.
func GetTraceID(c echo.Context) string {
	traceID, ok := c.Get(TraceIDContextKey).(string)
	if !ok {
		return ""
	}
	return traceID
}
