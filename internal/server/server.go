// Package server assembles the echo API: middleware chain, routes and the
// listener lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"savings-tracker/internal/config"
	"savings-tracker/internal/handlers"
	"savings-tracker/internal/middleware"
	"savings-tracker/internal/services"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const apiPrefix = "/api/v1"

// Dependencies is everything the HTTP surface needs. Redis may be nil.
type Dependencies struct {
	Config          *config.Config
	DB              *gorm.DB
	Redis           *redis.Client
	AuthService     services.AuthServiceInterface
	PasswordService services.PasswordServiceInterface
	TokenService    services.TokenServiceInterface
	LedgerService   services.LedgerServiceInterface
	Metrics         services.MetricsRecorderInterface
	Gatherer        prometheus.Gatherer
	Logger          *slog.Logger
}

type Server struct {
	echo    *echo.Echo
	cfg     config.ServerConfig
	limiter *middleware.IPRateLimiter
	logger  *slog.Logger
}

func New(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()
	e.HTTPErrorHandler = middleware.NewHTTPErrorHandler(deps.Metrics, logger)

	s := &Server{
		echo:    e,
		cfg:     deps.Config.Server,
		limiter: middleware.NewIPRateLimiter(deps.Config.Security.RateLimitPerSecond, 0),
		logger:  logger,
	}

	e.Use(middleware.RequestID())
	e.Use(middleware.PanicRecovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  deps.Config.Server.CORSAllowOrigins,
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization, middleware.TraceIDHeader, middleware.CorrelationIDHeader},
		ExposeHeaders: []string{middleware.TraceIDHeader},
	}))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: false,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			logger.LogAttrs(c.Request().Context(), slog.LevelInfo, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("trace_id", middleware.GetTraceID(c)),
			)
			return nil
		},
	}))

	registerRoutes(e, deps, s.limiter, logger)
	return s
}

func registerRoutes(e *echo.Echo, deps Dependencies, limiter *middleware.IPRateLimiter, logger *slog.Logger) {
	health := handlers.NewHealthCheckHandler(deps.DB, deps.Redis)
	authHandler := handlers.NewAuthHandler(deps.AuthService, deps.PasswordService)
	ledgerHandler := handlers.NewLedgerHandler(deps.LedgerService)
	streamHandler := handlers.NewStreamHandler(deps.LedgerService, deps.Config.Ledger.StreamPingPeriod, deps.Config.Server.CORSAllowOrigins, logger)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e.GET("/health", health.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	requireAuth := middleware.RequireAuth(deps.TokenService, deps.AuthService)

	api := e.Group(apiPrefix)

	auth := api.Group("/auth", limiter.Middleware())
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.RefreshToken)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/me", authHandler.Profile, requireAuth)
	auth.PUT("/password", authHandler.ChangePassword, requireAuth)

	ledger := api.Group("/ledger", requireAuth)
	ledger.GET("", ledgerHandler.GetLedger)
	ledger.GET("/progress", ledgerHandler.GetProgress)
	ledger.GET("/stream", streamHandler.Stream)
	ledger.PUT("/target", ledgerHandler.SetTarget, limiter.Middleware())
	ledger.POST("/transactions", ledgerHandler.AddTransaction, limiter.Middleware())
	ledger.PUT("/transactions/:id", ledgerHandler.EditTransaction, limiter.Middleware())
	ledger.DELETE("/transactions/:id", ledgerHandler.DeleteTransaction, limiter.Middleware())
	ledger.POST("/reconcile", ledgerHandler.Reconcile, limiter.Middleware())
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then drains in-flight requests within
// the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(s.cfg.Host, s.cfg.Port),
		Handler:      s.echo,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer stopLimiter()
	go s.limiter.Run(limiterCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
