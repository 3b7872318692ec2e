package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"savings-tracker/internal/config"
	"savings-tracker/internal/database"
	"savings-tracker/internal/events"
	"savings-tracker/internal/ledgerstore"
	"savings-tracker/internal/notify"
	"savings-tracker/internal/repositories"
	"savings-tracker/internal/server"
	"savings-tracker/internal/services"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const sessionSweepInterval = time.Hour

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := config.Load()

	logger := newLogger(cfg.Server.LogLevel, cfg.IsDevelopment())
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := database.Initialize(cfg)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	notifier, err := newNotifier(ctx, cfg, rdb, logger)
	if err != nil {
		return fmt.Errorf("initialize notifier: %w", err)
	}
	defer notifier.Close()

	store, lister := newStore(cfg, db, notifier, logger)
	defer store.Close()

	metrics := services.NewPrometheusMetrics(prometheus.DefaultRegisterer)
	audit := services.NewAuditLogger(logger)

	var publisher services.EventPublisherInterface
	if cfg.EventsEnabled() {
		publisher = services.NewResilientPublisher(
			events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			services.DefaultCircuitBreakerConfig(),
			cfg.Kafka.PublishTimeout,
			metrics,
			audit,
		)
		defer publisher.Close()
		logger.Info("ledger events enabled", "topic", cfg.Kafka.Topic, "brokers", strings.Join(cfg.Kafka.Brokers, ","))
	}

	ledgerService := services.NewLedgerService(store, cfg.Ledger.Root, publisher, metrics, audit, logger)
	reconciler := services.NewReconciliationService(ledgerService, lister, cfg.Ledger.ReconcileInterval, cfg.Ledger.ReconcileWorkers, logger)

	userRepo := repositories.NewUserRepository(db.DB)
	refreshTokenRepo := repositories.NewRefreshTokenRepository(db.DB)
	blacklistRepo := repositories.NewBlacklistedTokenRepository(db.DB)
	tokenService := services.NewTokenService(&cfg.JWT)
	passwordService := services.NewPasswordService(userRepo, audit, cfg.Security.BCryptCost, services.PasswordPolicyFromConfig(cfg.Security))
	authService := services.NewAuthService(
		userRepo,
		refreshTokenRepo,
		blacklistRepo,
		passwordService,
		tokenService,
		audit,
		metrics,
		logger,
	)

	janitor := services.NewSessionJanitor(refreshTokenRepo, blacklistRepo, sessionSweepInterval, logger)

	srv := server.New(server.Dependencies{
		Config:          cfg,
		DB:              db.DB,
		Redis:           rdb,
		AuthService:     authService,
		PasswordService: passwordService,
		TokenService:    tokenService,
		LedgerService:   ledgerService,
		Metrics:         metrics,
		Gatherer:        prometheus.DefaultGatherer,
		Logger:          logger,
	})

	logger.Info("starting savings tracker",
		"env", cfg.Server.Environment,
		"store", cfg.Ledger.StoreDriver,
		"notifier", cfg.Ledger.Notifier,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		reconciler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		janitor.Start(gctx)
		return nil
	})

	return g.Wait()
}

// newLogger adds source locations in development.
func newLogger(level string, development bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl, AddSource: development}))
}

func newNotifier(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *slog.Logger) (notify.Notifier, error) {
	switch cfg.Ledger.Notifier {
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis notifier requires REDIS_ADDR")
		}
		return notify.NewRedis(ctx, rdb, cfg.Redis.Channel, logger)
	case "amqp":
		return notify.NewAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	default:
		return notify.NewLocal(), nil
	}
}

func newStore(cfg *config.Config, db *database.DB, notifier notify.Notifier, logger *slog.Logger) (ledgerstore.Store, ledgerstore.Lister) {
	if cfg.Ledger.StoreDriver == "memory" {
		s := ledgerstore.NewMemoryStore(cfg.Ledger.Root, notifier, logger)
		return s, s
	}
	s := ledgerstore.NewGormStore(db.DB, cfg.Ledger.Root, notifier, logger)
	return s, s
}
