package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/walletsync/internal/infra/storage"
)

// queryer is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx, so the
// same repository code runs inside and outside a transaction.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Storage implements storage.Store on PostgreSQL.
type Storage struct {
	db *DB
	q  queryer

	wallets   *walletRepo
	objects   *objectRepo
	ledger    *ledgerEntryRepo
	transfers *transferRepo
	actions   *actionRepo
	tasks     *taskRepo
}

// NewStorage creates the PostgreSQL-backed store.
func NewStorage(db *DB) *Storage {
	return newStorage(db, db.DB)
}

func newStorage(db *DB, q queryer) *Storage {
	return &Storage{
		db:        db,
		q:         q,
		wallets:   &walletRepo{q: q},
		objects:   &objectRepo{q: q},
		ledger:    &ledgerEntryRepo{q: q},
		transfers: &transferRepo{q: q},
		actions:   &actionRepo{q: q},
		tasks:     &taskRepo{q: q},
	}
}

func (s *Storage) Wallets() storage.WalletRepository            { return s.wallets }
func (s *Storage) Objects() storage.ObjectRepository            { return s.objects }
func (s *Storage) LedgerEntries() storage.LedgerEntryRepository { return s.ledger }
func (s *Storage) Transfers() storage.TransferRepository        { return s.transfers }
func (s *Storage) Actions() storage.ActionRepository            { return s.actions }
func (s *Storage) Tasks() storage.TaskRepository                { return s.tasks }

// WithinTx runs fn against a transaction-bound view of the store.
// Nested calls reuse the outer transaction.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context, st storage.Store) error) error {
	if _, ok := s.q.(*sqlx.Tx); ok {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, newStorage(s.db, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
