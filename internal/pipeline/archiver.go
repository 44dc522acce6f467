// Package pipeline runs scheduled maintenance jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

// Archiver moves event traces past the retention window to cold storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Run executes a single archive run for everything older than the
// retention window.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().AddDate(0, 0, -a.retentionDays)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.blobArchiver.ArchiveEventTraces(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive event traces before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("traces_archived", n))
	return nil
}

// RunCron runs the archiver on a standard 5-field cron schedule (UTC) until
// ctx is cancelled. Overlapping runs are skipped.
//
// Example: "0 3 * * *" runs daily at 03:00.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := sched.AddFunc(cronExpr, func() {
		if err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", cronExpr, err)
	}

	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))
	sched.Start()
	<-ctx.Done()
	<-sched.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return nil
}
