package services

import (
	"context"
	"log/slog"
	"time"

	"savings-tracker/internal/repositories"
)

// revokedRetention keeps revoked refresh tokens long enough for reuse
// detection to see a replayed token.
const revokedRetention = 7 * 24 * time.Hour

// SessionJanitor prunes expired refresh tokens and access-token blacklist
// entries.
type SessionJanitor struct {
	refreshTokens repositories.RefreshTokenRepositoryInterface
	blacklist     repositories.BlacklistedTokenRepositoryInterface
	interval      time.Duration
	logger        *slog.Logger
}

type SweepResult struct {
	ExpiredRefreshTokens int64
	RevokedRefreshTokens int64
	ExpiredBlacklisted   int64
}

func NewSessionJanitor(
	refreshTokens repositories.RefreshTokenRepositoryInterface,
	blacklist repositories.BlacklistedTokenRepositoryInterface,
	interval time.Duration,
	logger *slog.Logger,
) *SessionJanitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionJanitor{
		refreshTokens: refreshTokens,
		blacklist:     blacklist,
		interval:      interval,
		logger:        logger.With("component", "session_janitor"),
	}
}

// Sweep runs every prune step even when an earlier one fails and returns the
// first error.
func (j *SessionJanitor) Sweep() (SweepResult, error) {
	var (
		result   SweepResult
		firstErr error
	)
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	n, err := j.refreshTokens.DeleteExpired()
	result.ExpiredRefreshTokens = n
	keep(err)

	n, err = j.refreshTokens.DeleteRevokedOlderThan(revokedRetention)
	result.RevokedRefreshTokens = n
	keep(err)

	n, err = j.blacklist.DeleteExpired()
	result.ExpiredBlacklisted = n
	keep(err)

	return result, firstErr
}

// Start sweeps on every tick until ctx is cancelled. A zero interval
// disables the loop.
func (j *SessionJanitor) Start(ctx context.Context) {
	if j.interval <= 0 {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := j.Sweep()
			if err != nil {
				j.logger.Warn("session sweep failed", "error", err)
			}
			j.logger.Debug("session sweep finished",
				slog.Int64("expired_refresh_tokens", result.ExpiredRefreshTokens),
				slog.Int64("revoked_refresh_tokens", result.RevokedRefreshTokens),
				slog.Int64("expired_blacklisted", result.ExpiredBlacklisted),
			)
		}
	}
}
