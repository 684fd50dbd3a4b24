package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vietddude/walletsync/internal/core/canonical"
	"github.com/vietddude/walletsync/internal/core/domain"
	"github.com/vietddude/walletsync/internal/infra/storage"
)

type walletRepo struct {
	q queryer
}

type walletRow struct {
	UserID          int64        `db:"user_id"`
	Wallet          []byte       `db:"wallet"`
	LatestEntryID   int64        `db:"latest_entry_id"`
	Forthcoming     string       `db:"forthcoming"`
	LoadedTransfers bool         `db:"loaded_transfers"`
	IsBroken        bool         `db:"is_broken"`
	SyncedAt        sql.NullTime `db:"synced_at"`
}

func (r *walletRepo) Get(ctx context.Context, userID int64) (*domain.WalletRecord, error) {
	var row walletRow
	err := r.q.GetContext(ctx, &row,
		`SELECT user_id, wallet, latest_entry_id, forthcoming, loaded_transfers, is_broken, synced_at
		 FROM wallets WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	w, err := canonical.MakeWallet(nil, row.Wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored wallet: %w", err)
	}
	rec := &domain.WalletRecord{
		UserID: row.UserID,
		Wallet: *w,
		LogStream: domain.LogStream{
			LatestEntryID:   row.LatestEntryID,
			Forthcoming:     row.Forthcoming,
			LoadedTransfers: row.LoadedTransfers,
			IsBroken:        row.IsBroken,
		},
	}
	if row.SyncedAt.Valid {
		t := row.SyncedAt.Time
		rec.LogStream.SyncedAt = &t
	}
	return rec, nil
}

func (r *walletRepo) Put(ctx context.Context, rec *domain.WalletRecord) error {
	raw, err := json.Marshal(rec.Wallet)
	if err != nil {
		return fmt.Errorf("failed to encode wallet: %w", err)
	}
	var syncedAt sql.NullTime
	if rec.LogStream.SyncedAt != nil {
		syncedAt = sql.NullTime{Time: *rec.LogStream.SyncedAt, Valid: true}
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO wallets (user_id, wallet, latest_entry_id, forthcoming, loaded_transfers, is_broken, synced_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE SET
		   wallet = EXCLUDED.wallet,
		   latest_entry_id = EXCLUDED.latest_entry_id,
		   forthcoming = EXCLUDED.forthcoming,
		   loaded_transfers = EXCLUDED.loaded_transfers,
		   is_broken = EXCLUDED.is_broken,
		   synced_at = EXCLUDED.synced_at`,
		rec.UserID, raw, rec.LogStream.LatestEntryID, rec.LogStream.Forthcoming,
		rec.LogStream.LoadedTransfers, rec.LogStream.IsBroken, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to save wallet: %w", err)
	}
	return nil
}

// UpdateLogStream compares everything except synced_at, which is
// bookkeeping rather than sync position.
func (r *walletRepo) UpdateLogStream(ctx context.Context, userID int64, expected, next domain.LogStream) (bool, error) {
	var syncedAt sql.NullTime
	if next.SyncedAt != nil {
		syncedAt = sql.NullTime{Time: *next.SyncedAt, Valid: true}
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE wallets SET
		   latest_entry_id = $1, forthcoming = $2, loaded_transfers = $3, is_broken = $4, synced_at = $5
		 WHERE user_id = $6
		   AND latest_entry_id = $7 AND forthcoming = $8 AND loaded_transfers = $9 AND is_broken = $10`,
		next.LatestEntryID, next.Forthcoming, next.LoadedTransfers, next.IsBroken, syncedAt,
		userID,
		expected.LatestEntryID, expected.Forthcoming, expected.LoadedTransfers, expected.IsBroken)
	if err != nil {
		return false, fmt.Errorf("failed to update log stream: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *walletRepo) Delete(ctx context.Context, userID int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM wallets WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	return nil
}
