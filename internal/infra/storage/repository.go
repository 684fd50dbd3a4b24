package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/walletsync/internal/core/domain"
)

var (
	// ErrWalletNotFound is returned when a user has no wallet record.
	ErrWalletNotFound = errors.New("wallet record not found")

	// ErrRecordDoesNotExist is returned when an optimistic replace finds
	// the stored action record differing from the caller's snapshot.
	ErrRecordDoesNotExist = errors.New("record does not exist")

	// ErrUniqueViolation is returned when a put would break a unique key,
	// e.g. the (userID, time) key of transfer records.
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// WalletRepository stores per-user wallet/sync-position records.
type WalletRepository interface {
	// Get retrieves the wallet record for a user.
	// Returns ErrWalletNotFound when the user is not provisioned.
	Get(ctx context.Context, userID int64) (*domain.WalletRecord, error)

	// Put saves the wallet record.
	Put(ctx context.Context, rec *domain.WalletRecord) error

	// UpdateLogStream replaces the log stream sub-record only if the
	// stored one still equals expected (compare-and-swap). Returns
	// whether the swap happened.
	UpdateLogStream(ctx context.Context, userID int64, expected, next domain.LogStream) (bool, error)

	// Delete removes the wallet record (user uninstall / full resync).
	Delete(ctx context.Context, userID int64) error
}

// ObjectRepository stores canonical versioned objects keyed by URI.
// Transfers live in TransferRepository instead; they carry local-only
// fields.
type ObjectRepository interface {
	// Get retrieves an object by URI. Returns (nil, nil) when absent.
	Get(ctx context.Context, userID int64, uri string) (domain.Object, error)

	// Put saves an object.
	Put(ctx context.Context, userID int64, obj domain.Object) error

	// Delete removes an object by URI. Absent objects are a no-op.
	Delete(ctx context.Context, userID int64, uri string) error

	// DeleteByPrefix removes every object whose URI starts with the
	// prefix (account deletion cascade).
	DeleteByPrefix(ctx context.Context, userID int64, uriPrefix string) error
}

// LedgerEntryRepository stores account ledger entries keyed by
// (userID, ledgerURI, entryID).
type LedgerEntryRepository interface {
	// Put saves a ledger entry. Re-saving an existing entry is a no-op
	// (entries are immutable).
	Put(ctx context.Context, rec *domain.LedgerEntryRecord) error

	// List returns entries for a ledger, newest first.
	List(ctx context.Context, userID int64, ledgerURI string) ([]*domain.LedgerEntryRecord, error)

	// DeleteByPrefix removes entries whose ledger URI starts with the
	// prefix (account deletion cascade).
	DeleteByPrefix(ctx context.Context, userID int64, uriPrefix string) error
}

// TransferRepository stores transfer records keyed by URI with a unique
// secondary (userID, time) key.
type TransferRepository interface {
	// GetByURI retrieves a transfer record. Returns (nil, nil) when absent.
	GetByURI(ctx context.Context, userID int64, uri string) (*domain.TransferRecord, error)

	// Put saves a transfer record. Returns ErrUniqueViolation if another
	// record already holds the same (userID, time) key.
	Put(ctx context.Context, rec *domain.TransferRecord) error

	// List returns the user's transfer records ordered by time.
	List(ctx context.Context, userID int64) ([]*domain.TransferRecord, error)

	// Delete removes a transfer record. Absent records are a no-op.
	Delete(ctx context.Context, userID int64, uri string) error
}

// ActionRepository stores queued action records.
type ActionRepository interface {
	// Create saves a new action record and assigns its ActionID.
	Create(ctx context.Context, a *domain.ActionRecord) error

	// Get retrieves an action by id. Returns (nil, nil) when absent.
	Get(ctx context.Context, userID, actionID int64) (*domain.ActionRecord, error)

	// List returns the user's actions ordered by creation time.
	List(ctx context.Context, userID int64) ([]*domain.ActionRecord, error)

	// GetAbortByTransferURI returns the abort action for a transfer, if
	// any. At most one exists per transfer.
	GetAbortByTransferURI(ctx context.Context, userID int64, transferURI string) (*domain.ActionRecord, error)

	// GetCreateByTransferUUID returns the create-transfer action with
	// the given client-generated UUID, if any.
	GetCreateByTransferUUID(ctx context.Context, userID int64, transferUUID string) (*domain.ActionRecord, error)

	// Update overwrites an existing action record.
	Update(ctx context.Context, a *domain.ActionRecord) error

	// Delete removes an action record. Absent records are a no-op.
	Delete(ctx context.Context, userID, actionID int64) error
}

// TaskRepository stores scheduled delete-transfer tasks.
type TaskRepository interface {
	// Upsert saves a task, superseding any existing task for the same
	// (userID, transferURI).
	Upsert(ctx context.Context, t *domain.DeleteTransferTask) error

	// DeleteByTransfer removes the task for a transfer, if any.
	DeleteByTransfer(ctx context.Context, userID int64, transferURI string) error

	// DueBefore returns up to limit tasks scheduled at or before now,
	// oldest first.
	DueBefore(ctx context.Context, now time.Time, limit int) ([]*domain.DeleteTransferTask, error)

	// List returns a user's tasks ordered by scheduled time.
	List(ctx context.Context, userID int64) ([]*domain.DeleteTransferTask, error)

	// Delete removes a task by id.
	Delete(ctx context.Context, taskID int64) error
}

// Store bundles the repositories and provides all-tables transactions.
type Store interface {
	Wallets() WalletRepository
	Objects() ObjectRepository
	LedgerEntries() LedgerEntryRepository
	Transfers() TransferRepository
	Actions() ActionRepository
	Tasks() TaskRepository

	// WithinTx runs fn against a Store whose repositories share one
	// transaction; the transaction commits iff fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}
