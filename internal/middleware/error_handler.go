package middleware

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"

	"savings-tracker/internal/errors"
	"savings-tracker/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// NewHTTPErrorHandler formats every error that escapes a handler as the
// standard error envelope, logs it and counts it by code.
func NewHTTPErrorHandler(metrics services.MetricsRecorderInterface, logger *slog.Logger) echo.HTTPErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		traceID := GetTraceID(c)
		if traceID == "" {
			traceID = "unknown"
		}

		errorResponse, httpStatus := toErrorResponse(err, traceID)

		logLevel := slog.LevelWarn
		if errorResponse.IsServerError() {
			logLevel = slog.LevelError
		}

		logger.Log(c.Request().Context(), logLevel, "HTTP error occurred",
			"trace_id", traceID,
			"error_code", errorResponse.Error.Code,
			"status", httpStatus,
			"path", c.Request().URL.Path,
			"method", c.Request().Method,
			"error", err.Error(),
		)

		if metrics != nil {
			metrics.IncrementCounter("api_error", map[string]string{"code": errorResponse.Error.Code})
		}

		if sendErr := c.JSON(httpStatus, errorResponse); sendErr != nil {
			logger.Error("Failed to send error response",
				"trace_id", traceID,
				"error", sendErr.Error(),
			)
		}
	}
}

func toErrorResponse(err error, traceID string) (*errors.ErrorResponse, int) {
	var echoErr *echo.HTTPError
	var validationErrs validator.ValidationErrors

	switch {
	case stderrors.As(err, &echoErr):
		response := errors.NewErrorResponse(
			mapHTTPStatusToErrorCode(echoErr.Code),
			traceID,
			errors.WithMessage(fmt.Sprintf("%v", echoErr.Message)),
		)
		return response, echoErr.Code

	case stderrors.As(err, &validationErrs):
		fieldErrors := make(map[string]string, len(validationErrs))
		for _, fieldErr := range validationErrs {
			fieldErrors[fieldErr.Field()] = formatValidationError(fieldErr)
		}
		return errors.NewValidationError(fieldErrors, traceID), http.StatusBadRequest

	default:
		response, _ := errors.WrapSystemError(err, traceID)
		return response, response.GetHTTPStatus()
	}
}

func mapHTTPStatusToErrorCode(status int) errors.ErrorCode {
	switch status {
	case http.StatusBadRequest, http.StatusMethodNotAllowed,
		http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge,
		http.StatusUnsupportedMediaType:
		return errors.ValidationGeneral
	case http.StatusUnauthorized:
		return errors.AuthMissingToken
	case http.StatusNotFound:
		return errors.SystemRouteNotFound
	case http.StatusTooManyRequests:
		return errors.SystemRateLimitExceeded
	case http.StatusInternalServerError:
		return errors.SystemInternalError
	case http.StatusServiceUnavailable:
		return errors.SystemServiceUnavailable
	default:
		return errors.SystemUnexpectedError
	}
}

// formatValidationError turns a validator failure into "field: message" text.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters long", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters long", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "positive_amount":
		return "must be greater than 0 with at most 2 decimal places"
	case "non_negative_amount":
		return "must not be negative and have at most 2 decimal places"
	case "transaction_type":
		return "must be deposit or withdrawal"
	case "calendar_date":
		return "must be a calendar date in YYYY-MM-DD format"
	case "not_blank":
		return "must not be empty"
	default:
		return fmt.Sprintf("failed validation for '%s'", fe.Tag())
	}
}
