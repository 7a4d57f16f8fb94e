package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/jobprogress/internal/backend"
	"github.com/cuongbtq/jobprogress/internal/jobprogress"
	"github.com/cuongbtq/jobprogress/internal/states"
	"github.com/cuongbtq/jobprogress/internal/worker/domain"
)

// processReport records one unit outcome on its job
func (w *Worker) processReport(ctx context.Context, report domain.Report) error {
	if w.reportTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.reportTimeout)
		defer cancel()
	}

	job, err := w.session.Get(ctx, report.JobID)
	if err != nil {
		if errors.Is(err, jobprogress.ErrJobNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrUnknownJob, report.JobID)
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	if err := job.Track(ctx, report.Success, report.ItemID); err != nil {
		if isUsageError(err) {
			return fmt.Errorf("%w: %v", domain.ErrInvalidReport, err)
		}
		return domain.NewRetryableError(fmt.Errorf("failed to track progress: %w", err))
	}

	w.logger.Debug("Progress recorded",
		slog.String("job_id", report.JobID),
		slog.Bool("success", report.Success),
		slog.String("item_id", report.ItemID),
	)
	return nil
}

func isUsageError(err error) bool {
	return errors.Is(err, backend.ErrStateRequired) ||
		errors.Is(err, backend.ErrInvalidProgressState) ||
		errors.Is(err, states.ErrInvalidState)
}
