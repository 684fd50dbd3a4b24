package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/walletsync/internal/core/domain"
)

type taskRepo struct {
	q queryer
}

type taskRow struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	TransferURI  string    `db:"transfer_uri"`
	ScheduledFor time.Time `db:"scheduled_for"`
}

// Upsert supersedes any existing task for the same transfer.
func (r *taskRepo) Upsert(ctx context.Context, t *domain.DeleteTransferTask) error {
	err := r.q.GetContext(ctx, &t.TaskID,
		`INSERT INTO tasks (user_id, transfer_uri, scheduled_for)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, transfer_uri) DO UPDATE SET scheduled_for = EXCLUDED.scheduled_for
		 RETURNING id`,
		t.UserID, t.TransferURI, t.ScheduledFor)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}

func (r *taskRepo) DeleteByTransfer(ctx context.Context, userID int64, transferURI string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM tasks WHERE user_id = $1 AND transfer_uri = $2`, userID, transferURI)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func (r *taskRepo) DueBefore(ctx context.Context, now time.Time, limit int) ([]*domain.DeleteTransferTask, error) {
	var rows []taskRow
	err := r.q.SelectContext(ctx, &rows,
		`SELECT id, user_id, transfer_uri, scheduled_for FROM tasks
		 WHERE scheduled_for <= $1 ORDER BY scheduled_for LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due tasks: %w", err)
	}
	tasks := make([]*domain.DeleteTransferTask, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, &domain.DeleteTransferTask{
			TaskID:       row.ID,
			UserID:       row.UserID,
			TransferURI:  row.TransferURI,
			ScheduledFor: row.ScheduledFor,
		})
	}
	return tasks, nil
}

func (r *taskRepo) List(ctx context.Context, userID int64) ([]*domain.DeleteTransferTask, error) {
	var rows []taskRow
	err := r.q.SelectContext(ctx, &rows,
		`SELECT id, user_id, transfer_uri, scheduled_for FROM tasks
		 WHERE user_id = $1 ORDER BY scheduled_for`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	tasks := make([]*domain.DeleteTransferTask, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, &domain.DeleteTransferTask{
			TaskID:       row.ID,
			UserID:       row.UserID,
			TransferURI:  row.TransferURI,
			ScheduledFor: row.ScheduledFor,
		})
	}
	return tasks, nil
}

func (r *taskRepo) Delete(ctx context.Context, taskID int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}
