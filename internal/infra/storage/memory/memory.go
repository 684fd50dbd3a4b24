// Package memory provides an in-memory Store implementation, used in
// tests and as a fallback when no database is configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/walletsync/internal/core/canonical"
	"github.com/vietddude/walletsync/internal/core/domain"
	"github.com/vietddude/walletsync/internal/infra/storage"
)

// MemoryStorage keeps all tables in maps guarded by one mutex.
// WithinTx runs the callback against the same storage: writes are not
// isolated, which the engine tolerates because every write is
// individually idempotent.
type MemoryStorage struct {
	mu            sync.RWMutex
	wallets       map[int64]*domain.WalletRecord
	objects       map[string]domain.Object // key: userID|uri
	ledgerEntries map[string]*domain.LedgerEntryRecord
	transfers     map[string]*domain.TransferRecord
	actions       map[int64]*domain.ActionRecord
	tasks         map[int64]*domain.DeleteTransferTask
	nextActionID  int64
	nextTaskID    int64
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		wallets:       make(map[int64]*domain.WalletRecord),
		objects:       make(map[string]domain.Object),
		ledgerEntries: make(map[string]*domain.LedgerEntryRecord),
		transfers:     make(map[string]*domain.TransferRecord),
		actions:       make(map[int64]*domain.ActionRecord),
		tasks:         make(map[int64]*domain.DeleteTransferTask),
	}
}

func (s *MemoryStorage) Wallets() storage.WalletRepository            { return &walletRepo{s} }
func (s *MemoryStorage) Objects() storage.ObjectRepository            { return &objectRepo{s} }
func (s *MemoryStorage) LedgerEntries() storage.LedgerEntryRepository { return &ledgerRepo{s} }
func (s *MemoryStorage) Transfers() storage.TransferRepository        { return &transferRepo{s} }
func (s *MemoryStorage) Actions() storage.ActionRepository            { return &actionRepo{s} }
func (s *MemoryStorage) Tasks() storage.TaskRepository                { return &taskRepo{s} }

// WithinTx runs fn against the same store.
func (s *MemoryStorage) WithinTx(ctx context.Context, fn func(ctx context.Context, st storage.Store) error) error {
	return fn(ctx, s)
}

func objectKey(userID int64, uri string) string {
	return fmt.Sprintf("%d|%s", userID, uri)
}

func cloneObject(o domain.Object) domain.Object {
	raw, err := json.Marshal(o)
	if err != nil {
		return o
	}
	clone, err := canonical.DecodeObject(o.ObjectKind(), nil, raw)
	if err != nil {
		return o
	}
	return clone
}

func cloneJSON[T any](v *T) *T {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return &out
}

// -----------------------------------------------------------------------------
// Wallet Repository
// -----------------------------------------------------------------------------

type walletRepo struct{ store *MemoryStorage }

func (r *walletRepo) Get(ctx context.Context, userID int64) (*domain.WalletRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.wallets[userID]
	if !ok {
		return nil, storage.ErrWalletNotFound
	}
	c := *rec
	return &c, nil
}

func (r *walletRepo) Put(ctx context.Context, rec *domain.WalletRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *rec
	r.store.wallets[rec.UserID] = &c
	return nil
}

func streamEqual(a, b domain.LogStream) bool {
	return a.LatestEntryID == b.LatestEntryID &&
		a.Forthcoming == b.Forthcoming &&
		a.LoadedTransfers == b.LoadedTransfers &&
		a.IsBroken == b.IsBroken
}

func (r *walletRepo) UpdateLogStream(ctx context.Context, userID int64, expected, next domain.LogStream) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.wallets[userID]
	if !ok {
		return false, storage.ErrWalletNotFound
	}
	if !streamEqual(rec.LogStream, expected) {
		return false, nil
	}
	rec.LogStream = next
	return true, nil
}

func (r *walletRepo) Delete(ctx context.Context, userID int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.wallets, userID)
	return nil
}

// -----------------------------------------------------------------------------
// Object Repository
// -----------------------------------------------------------------------------

type objectRepo struct{ store *MemoryStorage }

func (r *objectRepo) Get(ctx context.Context, userID int64, uri string) (domain.Object, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	obj, ok := r.store.objects[objectKey(userID, uri)]
	if !ok {
		return nil, nil
	}
	return cloneObject(obj), nil
}

func (r *objectRepo) Put(ctx context.Context, userID int64, obj domain.Object) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.objects[objectKey(userID, obj.ObjectURI())] = cloneObject(obj)
	return nil
}

func (r *objectRepo) Delete(ctx context.Context, userID int64, uri string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.objects, objectKey(userID, uri))
	return nil
}

func (r *objectRepo) DeleteByPrefix(ctx context.Context, userID int64, uriPrefix string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	prefix := objectKey(userID, uriPrefix)
	for k := range r.store.objects {
		if strings.HasPrefix(k, prefix) {
			delete(r.store.objects, k)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Ledger Entry Repository
// -----------------------------------------------------------------------------

type ledgerRepo struct{ store *MemoryStorage }

func ledgerKey(userID int64, ledgerURI string, entryID int64) string {
	return fmt.Sprintf("%d|%s|%d", userID, ledgerURI, entryID)
}

func (r *ledgerRepo) Put(ctx context.Context, rec *domain.LedgerEntryRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := ledgerKey(rec.UserID, rec.Entry.Ledger.URI, rec.Entry.EntryID)
	if _, exists := r.store.ledgerEntries[key]; exists {
		return nil // entries are immutable
	}
	r.store.ledgerEntries[key] = cloneJSON(rec)
	return nil
}

func (r *ledgerRepo) List(ctx context.Context, userID int64, ledgerURI string) ([]*domain.LedgerEntryRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.LedgerEntryRecord
	for _, rec := range r.store.ledgerEntries {
		if rec.UserID == userID && rec.Entry.Ledger.URI == ledgerURI {
			out = append(out, cloneJSON(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entry.EntryID > out[j].Entry.EntryID })
	return out, nil
}

func (r *ledgerRepo) DeleteByPrefix(ctx context.Context, userID int64, uriPrefix string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for k, rec := range r.store.ledgerEntries {
		if rec.UserID == userID && strings.HasPrefix(rec.Entry.Ledger.URI, uriPrefix) {
			delete(r.store.ledgerEntries, k)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Transfer Repository
// -----------------------------------------------------------------------------

type transferRepo struct{ store *MemoryStorage }

func (r *transferRepo) GetByURI(ctx context.Context, userID int64, uri string) (*domain.TransferRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.transfers[objectKey(userID, uri)]
	if !ok {
		return nil, nil
	}
	return cloneJSON(rec), nil
}

func (r *transferRepo) Put(ctx context.Context, rec *domain.TransferRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := objectKey(rec.UserID, rec.Transfer.URI)
	for k, other := range r.store.transfers {
		if k != key && other.UserID == rec.UserID && other.Time == rec.Time {
			return storage.ErrUniqueViolation
		}
	}
	r.store.transfers[key] = cloneJSON(rec)
	return nil
}

func (r *transferRepo) List(ctx context.Context, userID int64) ([]*domain.TransferRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.TransferRecord
	for _, rec := range r.store.transfers {
		if rec.UserID == userID {
			out = append(out, cloneJSON(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (r *transferRepo) Delete(ctx context.Context, userID int64, uri string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.transfers, objectKey(userID, uri))
	return nil
}

// -----------------------------------------------------------------------------
// Action Repository
// -----------------------------------------------------------------------------

type actionRepo struct{ store *MemoryStorage }

func (r *actionRepo) Create(ctx context.Context, a *domain.ActionRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.nextActionID++
	a.ActionID = r.store.nextActionID
	r.store.actions[a.ActionID] = cloneJSON(a)
	return nil
}

func (r *actionRepo) Get(ctx context.Context, userID, actionID int64) (*domain.ActionRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	a, ok := r.store.actions[actionID]
	if !ok || a.UserID != userID {
		return nil, nil
	}
	return cloneJSON(a), nil
}

func (r *actionRepo) List(ctx context.Context, userID int64) ([]*domain.ActionRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.ActionRecord
	for _, a := range r.store.actions {
		if a.UserID == userID {
			out = append(out, cloneJSON(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionID < out[j].ActionID })
	return out, nil
}

func (r *actionRepo) GetAbortByTransferURI(ctx context.Context, userID int64, transferURI string) (*domain.ActionRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, a := range r.store.actions {
		if a.UserID == userID && a.Kind == domain.ActionKindAbortTransfer &&
			a.AbortTransfer != nil && a.AbortTransfer.TransferURI == transferURI {
			return cloneJSON(a), nil
		}
	}
	return nil, nil
}

func (r *actionRepo) GetCreateByTransferUUID(ctx context.Context, userID int64, transferUUID string) (*domain.ActionRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, a := range r.store.actions {
		if a.UserID == userID && a.Kind == domain.ActionKindCreateTransfer &&
			a.CreateTransfer != nil && a.CreateTransfer.TransferUUID == transferUUID {
			return cloneJSON(a), nil
		}
	}
	return nil, nil
}

func (r *actionRepo) Update(ctx context.Context, a *domain.ActionRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.actions[a.ActionID]; !ok {
		return storage.ErrRecordDoesNotExist
	}
	r.store.actions[a.ActionID] = cloneJSON(a)
	return nil
}

func (r *actionRepo) Delete(ctx context.Context, userID, actionID int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	a, ok := r.store.actions[actionID]
	if ok && a.UserID == userID {
		delete(r.store.actions, actionID)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Task Repository
// -----------------------------------------------------------------------------

type taskRepo struct{ store *MemoryStorage }

func (r *taskRepo) Upsert(ctx context.Context, t *domain.DeleteTransferTask) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, existing := range r.store.tasks {
		if existing.UserID == t.UserID && existing.TransferURI == t.TransferURI {
			delete(r.store.tasks, id)
		}
	}
	r.store.nextTaskID++
	t.TaskID = r.store.nextTaskID
	c := *t
	r.store.tasks[t.TaskID] = &c
	return nil
}

func (r *taskRepo) DeleteByTransfer(ctx context.Context, userID int64, transferURI string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, t := range r.store.tasks {
		if t.UserID == userID && t.TransferURI == transferURI {
			delete(r.store.tasks, id)
		}
	}
	return nil
}

func (r *taskRepo) DueBefore(ctx context.Context, now time.Time, limit int) ([]*domain.DeleteTransferTask, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.DeleteTransferTask
	for _, t := range r.store.tasks {
		if !t.ScheduledFor.After(now) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *taskRepo) List(ctx context.Context, userID int64) ([]*domain.DeleteTransferTask, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.DeleteTransferTask
	for _, t := range r.store.tasks {
		if t.UserID == userID {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (r *taskRepo) Delete(ctx context.Context, taskID int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.tasks, taskID)
	return nil
}
