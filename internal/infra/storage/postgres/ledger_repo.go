package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/walletsync/internal/core/domain"
)

type ledgerEntryRepo struct {
	q queryer
}

type ledgerEntryRow struct {
	UserID int64  `db:"user_id"`
	Data   []byte `db:"data"`
}

// Put is a no-op for an already stored entry: ledger entries are
// immutable once written.
func (r *ledgerEntryRepo) Put(ctx context.Context, rec *domain.LedgerEntryRecord) error {
	raw, err := json.Marshal(rec.Entry)
	if err != nil {
		return fmt.Errorf("failed to encode ledger entry: %w", err)
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO ledger_entries (user_id, ledger_uri, entry_id, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, ledger_uri, entry_id) DO NOTHING`,
		rec.UserID, rec.Entry.Ledger.URI, rec.Entry.EntryID, raw)
	if err != nil {
		return fmt.Errorf("failed to save ledger entry: %w", err)
	}
	return nil
}

func (r *ledgerEntryRepo) List(ctx context.Context, userID int64, ledgerURI string) ([]*domain.LedgerEntryRecord, error) {
	var rows []ledgerEntryRow
	err := r.q.SelectContext(ctx, &rows,
		`SELECT user_id, data FROM ledger_entries
		 WHERE user_id = $1 AND ledger_uri = $2
		 ORDER BY entry_id DESC`, userID, ledgerURI)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}

	recs := make([]*domain.LedgerEntryRecord, 0, len(rows))
	for _, row := range rows {
		var entry domain.LedgerEntry
		if err := json.Unmarshal(row.Data, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode stored ledger entry: %w", err)
		}
		recs = append(recs, &domain.LedgerEntryRecord{UserID: row.UserID, Entry: entry})
	}
	return recs, nil
}

func (r *ledgerEntryRepo) DeleteByPrefix(ctx context.Context, userID int64, uriPrefix string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM ledger_entries WHERE user_id = $1 AND ledger_uri LIKE $2 || '%'`, userID, uriPrefix)
	if err != nil {
		return fmt.Errorf("failed to delete ledger entries by prefix: %w", err)
	}
	return nil
}
