package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	apierrors "savings-tracker/internal/errors"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/suite"
)

type PanicRecoveryTestSuite struct {
	suite.Suite
	echo *echo.Echo
	logs *bytes.Buffer
	mw   echo.MiddlewareFunc
}

func (s *PanicRecoveryTestSuite) SetupTest() {
	s.echo = echo.New()
	s.logs = &bytes.Buffer{}
	s.mw = PanicRecovery(slog.New(slog.NewJSONHandler(s.logs, nil)))
}

func TestPanicRecoveryTestSuite(t *testing.T) {
	suite.Run(t, new(PanicRecoveryTestSuite))
}

func (s *PanicRecoveryTestSuite) TestRecoversWithStandardBody() {
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.Set(TraceIDContextKey, "test-trace-id")

	handler := s.mw(func(c echo.Context) error {
		panic("test panic")
	})

	s.NotPanics(func() {
		s.NoError(handler(c))
	})

	s.Equal(http.StatusInternalServerError, rec.Code)

	var body apierrors.ErrorResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("SYSTEM_001", body.Error.Code)
	s.Equal("test-trace-id", body.Error.TraceID)
	s.Contains(s.logs.String(), "test panic")
	s.Contains(s.logs.String(), "stack_trace")
}

func (s *PanicRecoveryTestSuite) TestNoTraceID() {
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	_ = s.mw(func(c echo.Context) error {
		panic(errors.New("boom"))
	})(c)

	var body apierrors.ErrorResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("unknown", body.Error.TraceID)
}

func (s *PanicRecoveryTestSuite) TestNormalFlowUntouched() {
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := s.mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "fine")
	})(c)

	s.NoError(err)
	s.Equal("fine", rec.Body.String())
	s.Empty(s.logs.String())
}

func (s *PanicRecoveryTestSuite) TestAbortHandlerPropagates() {
	c := s.echo.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	s.PanicsWithValue(http.ErrAbortHandler, func() {
		_ = s.mw(func(c echo.Context) error {
			panic(http.ErrAbortHandler)
		})(c)
	})
}
