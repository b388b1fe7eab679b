package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-mirror/internal/feed"
	"github.com/dvloznov/ledger-mirror/internal/logger"
	"github.com/dvloznov/ledger-mirror/internal/reconcile"
)

// Reconciler runs one reconciliation over a window.
type Reconciler interface {
	Reconcile(ctx context.Context, window feed.Window) (*reconcile.Report, error)
}

// NewReconcileHandler returns the JobHandler that runs r for each job.
// Jobs without an explicit window use the lookback window ending now.
func NewReconcileHandler(r Reconciler, lookbackDays int, now func() time.Time) JobHandler {
	if now == nil {
		now = time.Now
	}

	return func(ctx context.Context, job *ReconcileJob) error {
		log := logger.FromContext(ctx)

		window := feed.DefaultWindow(now(), lookbackDays)
		if job.WindowStart != "" || job.WindowEnd != "" {
			w, err := feed.ParseWindow(job.WindowStart, job.WindowEnd)
			if err != nil {
				return fmt.Errorf("reconcile job %s: invalid window: %w", job.JobID, err)
			}
			window = w
		}

		log.Info().
			Str("job_id", job.JobID).
			Str("trigger", string(job.Trigger)).
			Str("window", window.String()).
			Msg("Processing reconcile job")

		report, err := r.Reconcile(ctx, window)
		if err != nil {
			return err
		}
		job.Report = report
		return nil
	}
}
