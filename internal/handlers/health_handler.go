package handlers

import (
	"context"
	"net/http"
	"time"

	"savings-tracker/internal/errors"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const healthPingTimeout = 2 * time.Second

// HealthCheckHandler handles the health check endpoint
type HealthCheckHandler struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewHealthCheckHandler checks db and, when rdb is non-nil, redis.
func NewHealthCheckHandler(db *gorm.DB, rdb *redis.Client) *HealthCheckHandler {
	return &HealthCheckHandler{db: db, rdb: rdb}
}

// HealthCheck handles GET /health
func (h *HealthCheckHandler) HealthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
	defer cancel()

	checks := map[string]string{}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return SendError(c, errors.SystemServiceUnavailable, errors.WithDetails("Database connection failed"))
	}
	checks["database"] = "up"

	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			return SendError(c, errors.SystemServiceUnavailable, errors.WithDetails("Redis connection failed"))
		}
		checks["redis"] = "up"
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"checks": checks,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
