package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vietddude/walletsync/internal/core/domain"
	"github.com/vietddude/walletsync/internal/infra/storage"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

type transferRepo struct {
	q queryer
}

type transferRow struct {
	UserID         int64   `db:"user_id"`
	Transfer       []byte  `db:"transfer"`
	Time           float64 `db:"time"`
	PaymentInfo    string  `db:"payment_info"`
	Aborted        bool    `db:"aborted"`
	OriginatesHere bool    `db:"originates_here"`
}

func (row *transferRow) record() (*domain.TransferRecord, error) {
	var t domain.Transfer
	if err := json.Unmarshal(row.Transfer, &t); err != nil {
		return nil, fmt.Errorf("failed to decode stored transfer: %w", err)
	}
	return &domain.TransferRecord{
		UserID:         row.UserID,
		Transfer:       t,
		Time:           row.Time,
		PaymentInfo:    row.PaymentInfo,
		Aborted:        row.Aborted,
		OriginatesHere: row.OriginatesHere,
	}, nil
}

func (r *transferRepo) GetByURI(ctx context.Context, userID int64, uri string) (*domain.TransferRecord, error) {
	var row transferRow
	err := r.q.GetContext(ctx, &row,
		`SELECT user_id, transfer, time, payment_info, aborted, originates_here
		 FROM transfers WHERE user_id = $1 AND uri = $2`, userID, uri)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return row.record()
}

// Put upserts by URI. A clash on the (user_id, time) key surfaces as
// storage.ErrUniqueViolation so the caller can nudge the time and retry.
func (r *transferRepo) Put(ctx context.Context, rec *domain.TransferRecord) error {
	raw, err := json.Marshal(rec.Transfer)
	if err != nil {
		return fmt.Errorf("failed to encode transfer: %w", err)
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO transfers (user_id, uri, transfer, time, payment_info, aborted, originates_here)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, uri) DO UPDATE SET
		   transfer = EXCLUDED.transfer,
		   time = EXCLUDED.time,
		   payment_info = EXCLUDED.payment_info,
		   aborted = EXCLUDED.aborted,
		   originates_here = EXCLUDED.originates_here`,
		rec.UserID, rec.Transfer.URI, raw, rec.Time, rec.PaymentInfo, rec.Aborted, rec.OriginatesHere)
	if isUniqueViolation(err) {
		return storage.ErrUniqueViolation
	}
	if err != nil {
		return fmt.Errorf("failed to save transfer: %w", err)
	}
	return nil
}

func (r *transferRepo) List(ctx context.Context, userID int64) ([]*domain.TransferRecord, error) {
	var rows []transferRow
	err := r.q.SelectContext(ctx, &rows,
		`SELECT user_id, transfer, time, payment_info, aborted, originates_here
		 FROM transfers WHERE user_id = $1 ORDER BY time`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	recs := make([]*domain.TransferRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (r *transferRepo) Delete(ctx context.Context, userID int64, uri string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM transfers WHERE user_id = $1 AND uri = $2`, userID, uri)
	if err != nil {
		return fmt.Errorf("failed to delete transfer: %w", err)
	}
	return nil
}
