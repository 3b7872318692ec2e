package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"savings-tracker/internal/ledgerstore"
	"savings-tracker/internal/session"

	"golang.org/x/sync/errgroup"
)

var ErrLedgerListingUnsupported = errors.New("ledger store cannot enumerate ledgers")

// ReconcileReport summarises one sweep over every known ledger.
type ReconcileReport struct {
	Ledgers   int               `json:"ledgers"`
	Corrected int               `json:"corrected"`
	Failed    int               `json:"failed"`
	Results   []ReconcileResult `json:"results,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// ReconciliationService periodically rebuilds total_savings for every ledger
// from its transactions, repairing drift left by partial failures.
type ReconciliationService struct {
	ledgers  LedgerServiceInterface
	lister   ledgerstore.Lister
	interval time.Duration
	workers  int
	logger   *slog.Logger
}

func NewReconciliationService(
	ledgers LedgerServiceInterface,
	lister ledgerstore.Lister,
	interval time.Duration,
	workers int,
	logger *slog.Logger,
) ReconciliationServiceInterface {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconciliationService{
		ledgers:  ledgers,
		lister:   lister,
		interval: interval,
		workers:  workers,
		logger:   logger.With("component", "reconciliation"),
	}
}

// ReconcileAll reconciles every ledger the store knows about. A failure on
// one ledger is counted and logged; it does not stop the sweep.
func (s *ReconciliationService) ReconcileAll(ctx context.Context) (*ReconcileReport, error) {
	if s.lister == nil {
		return nil, ErrLedgerListingUnsupported
	}

	start := time.Now()
	paths, err := s.lister.Ledgers(ctx)
	if err != nil {
		return nil, storeError("list ledgers", err)
	}

	report := &ReconcileReport{Ledgers: len(paths)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, p := range paths {
		userID := p.UserID
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			result, err := s.ledgers.Reconcile(gctx, session.Fixed(session.Identity{UserID: userID}))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				s.logger.ErrorContext(ctx, "failed to reconcile ledger",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if result.Corrected {
				report.Corrected++
				report.Results = append(report.Results, *result)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	report.Duration = time.Since(start)
	return report, nil
}

// Start sweeps on every tick until ctx is cancelled. A zero interval
// disables the loop.
func (s *ReconciliationService) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	s.logger.Info("starting reconciliation worker",
		slog.Duration("interval", s.interval),
		slog.Int("workers", s.workers),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation worker stopped")
			return

		case <-ticker.C:
			report, err := s.ReconcileAll(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("reconciliation sweep failed", slog.String("error", err.Error()))
				}
				continue
			}
			s.logger.Info("reconciliation sweep completed",
				slog.Int("ledgers", report.Ledgers),
				slog.Int("corrected", report.Corrected),
				slog.Int("failed", report.Failed),
				slog.Duration("duration", report.Duration),
			)
		}
	}
}
