// Package worker runs the scheduled housekeeping loop: due
// delete-transfer tasks evict concluded transfers from the cache.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/walletsync/internal/core/config"
	"github.com/vietddude/walletsync/internal/core/domain"
	"github.com/vietddude/walletsync/internal/infra/storage"
	"github.com/vietddude/walletsync/internal/sync/metrics"
	"github.com/vietddude/walletsync/internal/sync/transfers"
)

const taskBatchSize = 100

// Runner executes due delete-transfer tasks.
type Runner struct {
	store     storage.Store
	transfers *transfers.Manager
	cfg       config.SyncConfig
	log       *slog.Logger
}

// NewRunner creates a task runner.
func NewRunner(s storage.Store, tm *transfers.Manager, cfg config.SyncConfig, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{store: s, transfers: tm, cfg: cfg, log: log}
}

// Start runs the task loop until the context is cancelled.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.TaskInterval)
	defer ticker.Stop()

	r.RunDue(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunDue(ctx, time.Now())
		}
	}
}

// RunDue executes all tasks scheduled at or before now.
func (r *Runner) RunDue(ctx context.Context, now time.Time) {
	for {
		tasks, err := r.store.Tasks().DueBefore(ctx, now, taskBatchSize)
		if err != nil {
			r.log.Error("failed to load due tasks", "error", err)
			return
		}
		if len(tasks) == 0 {
			return
		}
		for _, task := range tasks {
			if err := r.runTask(ctx, task, now); err != nil {
				r.log.Error("failed to run delete task",
					"user_id", task.UserID, "transfer", task.TransferURI, "error", err)
				return
			}
			metrics.TasksRun.Inc()
		}
		if len(tasks) < taskBatchSize {
			return
		}
	}
}

// runTask evicts one transfer. A still-problematic transfer is
// force-aborted on its way out; the task itself is consumed either way.
func (r *Runner) runTask(ctx context.Context, task *domain.DeleteTransferTask, now time.Time) error {
	return r.store.WithinTx(ctx, func(ctx context.Context, s storage.Store) error {
		rec, err := s.Transfers().GetByURI(ctx, task.UserID, task.TransferURI)
		if err != nil {
			return err
		}
		if rec != nil {
			state := rec.Transfer.State(now, r.cfg.TransferWaitThreshold)
			if state != domain.TransferStateSuccessful && !rec.Aborted {
				rec.Aborted = true
				if err := s.Transfers().Put(ctx, rec); err != nil {
					return err
				}
			}
			if err := r.transfers.DeleteTransfer(ctx, s, task.UserID, task.TransferURI); err != nil {
				return err
			}
		}
		return s.Tasks().Delete(ctx, task.TaskID)
	})
}
