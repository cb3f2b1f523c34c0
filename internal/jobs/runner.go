package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Func is one run of a background job.
type Func func(ctx context.Context) error

// RunOnce executes fn and reports its outcome to r, which may be nil.
func RunOnce(ctx context.Context, jobType string, r Reporter, fn Func) error {
	start := time.Now()
	err := fn(ctx)
	if r == nil {
		return err
	}

	r.ObserveJobDuration(jobType, time.Since(start).Seconds())
	if err != nil {
		r.IncJobsTotal(jobType, StatusFailure)
		r.IncJobErrors(jobType, errorType(err))
		return err
	}
	r.IncJobsTotal(jobType, StatusSuccess)
	return nil
}

// Every runs fn each interval until ctx is done. Failed runs are logged and
// do not stop the loop.
func Every(ctx context.Context, interval time.Duration, jobType string, r Reporter, fn Func) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := RunOnce(ctx, jobType, r, fn); err != nil {
				slog.Warn("background job failed", "job_type", jobType, "error", err)
			}
		}
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
