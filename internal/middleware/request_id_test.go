package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"savings-tracker/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/suite"
)

type RequestIDTestSuite struct {
	suite.Suite
	echo *echo.Echo
}

func (s *RequestIDTestSuite) SetupTest() {
	s.echo = echo.New()
}

func TestRequestIDTestSuite(t *testing.T) {
	suite.Run(t, new(RequestIDTestSuite))
}

func (s *RequestIDTestSuite) serve(req *http.Request, next echo.HandlerFunc) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	s.Require().NoError(RequestID()(next)(c))
	return rec
}

func (s *RequestIDTestSuite) TestRequestID_GeneratesUUID() {
	var traceID string
	rec := s.serve(httptest.NewRequest(http.MethodGet, "/", nil), func(c echo.Context) error {
		traceID = GetTraceID(c)
		return c.NoContent(http.StatusOK)
	})

	s.Regexp(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, traceID)
	s.Equal(traceID, rec.Header().Get(TraceIDHeader))
}

func (s *RequestIDTestSuite) TestRequestID_KeepsCallerTraceID() {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceIDHeader, "existing-trace-id-12345")

	rec := s.serve(req, func(c echo.Context) error {
		s.Equal("existing-trace-id-12345", c.Get(TraceIDContextKey))
		return c.NoContent(http.StatusOK)
	})

	s.Equal("existing-trace-id-12345", rec.Header().Get(TraceIDHeader))
}

func (s *RequestIDTestSuite) TestRequestID_PopulatesRequestContext() {
	s.Run("correlation defaults to trace id", func() {
		s.serve(httptest.NewRequest(http.MethodGet, "/", nil), func(c echo.Context) error {
			ctx := c.Request().Context()
			s.Equal(GetTraceID(c), ctx.Value(services.RequestIDKey))
			s.Equal(GetTraceID(c), ctx.Value(services.CorrelationIDKey))
			return nil
		})
	})

	s.Run("correlation header wins", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(CorrelationIDHeader, "batch-42")
		s.serve(req, func(c echo.Context) error {
			s.Equal("batch-42", c.Request().Context().Value(services.CorrelationIDKey))
			return nil
		})
	})
}

func (s *RequestIDTestSuite) TestGetTraceID_EmptyWhenNotSet() {
	c := s.echo.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	s.Empty(GetTraceID(c))
}
