package services

import (
	"context"
	"time"

	apperrors "github.com/halocore099/phone-repair-dashboard/errors"
	"github.com/halocore099/phone-repair-dashboard/models"

	"go.uber.org/zap"
)

// SyncScheduler triggers a full sync on a fixed interval. Runs are aligned to interval
// boundaries, so an hourly schedule fires on the hour.
type SyncScheduler struct {
	svc        SyncService
	interval   time.Duration
	runOnStart bool
	logger     *zap.Logger
}

func NewSyncScheduler(svc SyncService, interval time.Duration, runOnStart bool, logger *zap.Logger) *SyncScheduler {
	return &SyncScheduler{svc: svc, interval: interval, runOnStart: runOnStart, logger: logger}
}

// Run blocks until ctx is cancelled. A non-positive interval returns immediately.
func (s *SyncScheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Scheduled sync disabled")
		return
	}

	s.logger.Info("Scheduled sync enabled", zap.Duration("interval", s.interval), zap.Bool("run_on_start", s.runOnStart))
	if s.runOnStart {
		s.tick(ctx)
	}

	timer := time.NewTimer(time.Until(NextRun(time.Now(), s.interval)))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduled sync stopped")
			return
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(time.Until(NextRun(time.Now(), s.interval)))
		}
	}
}

// NextRun returns the first interval boundary strictly after now.
func NextRun(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

func (s *SyncScheduler) tick(ctx context.Context) {
	report, err := s.svc.Sync(ctx, models.SyncOptions{})
	switch {
	case err == nil:
		s.logger.Info("Scheduled sync completed",
			zap.String("run_id", report.RunID),
			zap.Int("created", report.Created),
			zap.Int("updated", report.Updated),
			zap.Int("failed", report.Failed),
		)
	case apperrors.KindOf(err) == apperrors.KindConflict:
		s.logger.Warn("Skipping scheduled sync, previous run still in progress")
	default:
		s.logger.Error("Scheduled sync failed", zap.Error(err))
	}
}
