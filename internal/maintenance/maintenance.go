// Package maintenance holds the periodic sweeps that keep the job store
// healthy: failing jobs whose worker died and removing finished jobs.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobprogress/internal/backend"
	"github.com/cuongbtq/jobprogress/internal/jobprogress"
	"github.com/cuongbtq/jobprogress/internal/states"
)

// Archiver stores the final record of a job before it is deleted
type Archiver interface {
	Archive(ctx context.Context, rec *jobprogress.Record) error
}

// CleanupOptions tunes CleanupReadyJobs
type CleanupOptions struct {
	// Retention keeps ready jobs that finished less than Retention ago.
	// Jobs without a finished marker are always eligible.
	Retention time.Duration
	// Archiver, when set, receives each record before deletion. A job whose
	// archive fails is left in place.
	Archiver Archiver
	Logger   *slog.Logger
}

// FailStaledJobs moves every staled job to FAILURE and returns how many
// jobs were failed. A job that cannot be checked or failed is logged and
// skipped; those errors are returned joined once the sweep is done.
func FailStaledJobs(ctx context.Context, session *jobprogress.Session, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	jobs, err := session.Query(ctx, backend.ByReadiness(false))
	if err != nil {
		return 0, fmt.Errorf("failed to query in-flight jobs: %w", err)
	}

	var errs []error
	failed := 0
	for _, job := range jobs {
		if err := failIfStaled(ctx, job); err != nil {
			if errors.Is(err, errNotStaled) {
				continue
			}
			logger.Error("Failed to fail staled job",
				slog.String("job_id", job.ID()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		failed++
	}
	return failed, errors.Join(errs...)
}

var errNotStaled = errors.New("job is not staled")

func failIfStaled(ctx context.Context, job *jobprogress.Job) error {
	staled, err := job.IsStaled(ctx)
	if err != nil {
		return err
	}
	if !staled {
		return errNotStaled
	}
	return job.SetState(ctx, states.Failure)
}

// CleanupReadyJobs deletes ready jobs past their retention and returns how
// many jobs were deleted.
func CleanupReadyJobs(ctx context.Context, session *jobprogress.Session, opts CleanupOptions) (int, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	jobs, err := session.Query(ctx, backend.ByReadiness(true))
	if err != nil {
		return 0, fmt.Errorf("failed to query ready jobs: %w", err)
	}

	now := time.Now()
	deleted := 0
	for _, job := range jobs {
		if opts.Retention > 0 {
			finishedAt, ok, err := job.FinishedAt(ctx)
			if err != nil {
				return deleted, err
			}
			if ok && now.Sub(finishedAt) < opts.Retention {
				continue
			}
		}

		if opts.Archiver != nil {
			rec, err := job.Record(ctx, true)
			if err != nil {
				return deleted, err
			}
			if err := opts.Archiver.Archive(ctx, rec); err != nil {
				logger.Error("Failed to archive job, keeping it",
					slog.String("job_id", job.ID()),
					slog.String("error", err.Error()),
				)
				continue
			}
		}

		if err := job.Delete(ctx); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
