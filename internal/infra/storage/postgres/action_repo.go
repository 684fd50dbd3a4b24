package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vietddude/walletsync/internal/core/domain"
)

type actionRepo struct {
	q queryer
}

type actionRow struct {
	ID     int64  `db:"id"`
	UserID int64  `db:"user_id"`
	Data   []byte `db:"data"`
}

func (row *actionRow) record() (*domain.ActionRecord, error) {
	var a domain.ActionRecord
	if err := json.Unmarshal(row.Data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode stored action: %w", err)
	}
	a.ActionID = row.ID
	a.UserID = row.UserID
	return &a, nil
}

func (r *actionRepo) Create(ctx context.Context, a *domain.ActionRecord) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}
	err = r.q.GetContext(ctx, &a.ActionID,
		`INSERT INTO actions (user_id, kind, created_at, data)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		a.UserID, string(a.Kind), a.CreatedAt, raw)
	if err != nil {
		return fmt.Errorf("failed to create action: %w", err)
	}
	return nil
}

func (r *actionRepo) Get(ctx context.Context, userID, actionID int64) (*domain.ActionRecord, error) {
	var row actionRow
	err := r.q.GetContext(ctx, &row,
		`SELECT id, user_id, data FROM actions WHERE user_id = $1 AND id = $2`, userID, actionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return row.record()
}

func (r *actionRepo) List(ctx context.Context, userID int64) ([]*domain.ActionRecord, error) {
	var rows []actionRow
	err := r.q.SelectContext(ctx, &rows,
		`SELECT id, user_id, data FROM actions WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	recs := make([]*domain.ActionRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (r *actionRepo) GetAbortByTransferURI(ctx context.Context, userID int64, transferURI string) (*domain.ActionRecord, error) {
	var row actionRow
	err := r.q.GetContext(ctx, &row,
		`SELECT id, user_id, data FROM actions
		 WHERE user_id = $1 AND kind = $2 AND data->'abortTransfer'->>'transferUri' = $3
		 LIMIT 1`, userID, string(domain.ActionKindAbortTransfer), transferURI)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get abort action: %w", err)
	}
	return row.record()
}

func (r *actionRepo) GetCreateByTransferUUID(ctx context.Context, userID int64, transferUUID string) (*domain.ActionRecord, error) {
	var row actionRow
	err := r.q.GetContext(ctx, &row,
		`SELECT id, user_id, data FROM actions
		 WHERE user_id = $1 AND kind = $2 AND data->'createTransfer'->>'transferUuid' = $3
		 LIMIT 1`, userID, string(domain.ActionKindCreateTransfer), transferUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get create action: %w", err)
	}
	return row.record()
}

func (r *actionRepo) Update(ctx context.Context, a *domain.ActionRecord) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}
	_, err = r.q.ExecContext(ctx,
		`UPDATE actions SET data = $1 WHERE user_id = $2 AND id = $3`,
		raw, a.UserID, a.ActionID)
	if err != nil {
		return fmt.Errorf("failed to update action: %w", err)
	}
	return nil
}

func (r *actionRepo) Delete(ctx context.Context, userID, actionID int64) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM actions WHERE user_id = $1 AND id = $2`, userID, actionID)
	if err != nil {
		return fmt.Errorf("failed to delete action: %w", err)
	}
	return nil
}
