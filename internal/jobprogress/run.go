package jobprogress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobprogress/internal/states"
)

type runOptions struct {
	deleteOnSuccess   bool
	heartbeatInterval time.Duration
}

// RunOption configures Job.Run
type RunOption func(*runOptions)

// WithDeleteOnSuccess deletes the job once fn returned without error
func WithDeleteOnSuccess() RunOption {
	return func(o *runOptions) { o.deleteOnSuccess = true }
}

// WithHeartbeatInterval refreshes the heartbeat every d while fn runs
func WithHeartbeatInterval(d time.Duration) RunOption {
	return func(o *runOptions) { o.heartbeatInterval = d }
}

// Run moves the job to STARTED, calls fn, then moves it to SUCCESS or
// FAILURE. The exit transition also happens when fn panics or ctx is
// canceled; a panic is re-raised once the job is marked as failed.
func (j *Job) Run(ctx context.Context, fn func(ctx context.Context) error, opts ...RunOption) error {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := j.SetState(ctx, states.Started); err != nil {
		return err
	}

	// Exit transitions must land even if the caller's context is gone.
	exitCtx := context.WithoutCancel(ctx)

	if o.heartbeatInterval > 0 {
		hbCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			j.keepAlive(hbCtx, o.heartbeatInterval)
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if setErr := j.SetState(exitCtx, states.Failure); setErr != nil {
			j.logger.Error("Failed to mark panicking job as failed",
				slog.String("job_id", j.id),
				slog.String("error", setErr.Error()),
			)
		}
		panic(p)
	}()

	if runErr := fn(ctx); runErr != nil {
		if setErr := j.SetState(exitCtx, states.Failure); setErr != nil {
			return errors.Join(runErr, setErr)
		}
		return runErr
	}

	if err := j.SetState(exitCtx, states.Success); err != nil {
		return err
	}

	if o.deleteOnSuccess {
		return j.Delete(exitCtx)
	}
	return nil
}

// keepAlive refreshes the heartbeat until ctx is done
func (j *Job) keepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				j.logger.Warn("Failed to refresh job heartbeat",
					slog.String("job_id", j.id),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
