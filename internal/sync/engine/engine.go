// Package engine wires the sync components together and exposes the
// operations the presentation layer calls: provisioning, syncing,
// action queueing and read accessors. It never renders anything itself.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/vietddude/walletsync/internal/core/canonical"
	"github.com/vietddude/walletsync/internal/core/config"
	"github.com/vietddude/walletsync/internal/core/domain"
	"github.com/vietddude/walletsync/internal/infra/hub"
	redisclient "github.com/vietddude/walletsync/internal/infra/redis"
	"github.com/vietddude/walletsync/internal/infra/storage"
	"github.com/vietddude/walletsync/internal/sync/actions"
	"github.com/vietddude/walletsync/internal/sync/metrics"
	"github.com/vietddude/walletsync/internal/sync/planner"
	"github.com/vietddude/walletsync/internal/sync/reconciler"
	"github.com/vietddude/walletsync/internal/sync/transfers"
	"github.com/vietddude/walletsync/internal/sync/walker"
)

// ErrBrokenLogStream re-exports the reconciler's unrecoverable
// continuity error. Callers should force re-authentication and a full
// resync when they see it.
var ErrBrokenLogStream = reconciler.ErrBrokenLogStream

// Engine is the top-level sync facade.
type Engine struct {
	store      storage.Store
	hub        hub.Client
	reconciler *reconciler.Reconciler
	transfers  *transfers.Manager
	actions    *actions.Queue
	queue      *redisclient.Client
	cfg        config.SyncConfig
	hubTimeout time.Duration
	log        *slog.Logger
}

// New creates an engine. queue may be nil when no scheduling backend is
// configured; Sync and friends work without it.
func New(s storage.Store, h hub.Client, queue *redisclient.Client, cfg config.SyncConfig, hubTimeout time.Duration, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	tm := transfers.NewManager(cfg, nil, log)
	pl := planner.New(h, s, tm, cfg, hubTimeout, log)
	return &Engine{
		store:      s,
		hub:        h,
		reconciler: reconciler.New(h, s, pl, log),
		transfers:  tm,
		actions:    actions.NewQueue(s, cfg, log),
		queue:      queue,
		cfg:        cfg,
		hubTimeout: hubTimeout,
		log:        log,
	}
}

// Actions returns the engine's action queue.
func (e *Engine) Actions() *actions.Queue { return e.actions }

// Transfers returns the engine's transfer lifecycle manager.
func (e *Engine) Transfers() *transfers.Manager { return e.transfers }

// Provision performs the one-time full snapshot fetch for a new user:
// the wallet record plus the creditor and PIN-info objects it embeds by
// reference. Idempotent: an already provisioned user is a no-op.
func (e *Engine) Provision(ctx context.Context, userID int64, walletURI string) error {
	if _, err := e.store.Wallets().Get(ctx, userID); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrWalletNotFound) {
		return err
	}

	resp, err := e.hub.Get(ctx, walletURI, 0)
	if err != nil {
		return fmt.Errorf("failed to fetch wallet: %w", err)
	}
	w, err := canonical.MakeWallet(resp.URL, resp.Data)
	if err != nil {
		return err
	}

	var embedded []domain.Object
	for _, fetch := range []struct {
		uri string
		typ domain.ObjectType
	}{
		{w.Creditor.URI, domain.ObjectTypeCreditor},
		{w.PinInfo.URI, domain.ObjectTypePinInfo},
	} {
		if fetch.uri == "" {
			continue
		}
		r, err := e.hub.Get(ctx, fetch.uri, 0)
		if err != nil {
			if hub.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("failed to fetch %s: %w", fetch.typ, err)
		}
		obj, err := canonical.DecodeObject(fetch.typ, r.URL, r.Data)
		if err != nil {
			return err
		}
		embedded = append(embedded, obj)
	}

	rec := &domain.WalletRecord{
		UserID: userID,
		Wallet: *w,
		LogStream: domain.LogStream{
			LatestEntryID: w.LogLatestEntryID,
			Forthcoming:   w.Log.Forthcoming,
		},
	}
	return e.store.WithinTx(ctx, func(ctx context.Context, s storage.Store) error {
		if err := s.Wallets().Put(ctx, rec); err != nil {
			return err
		}
		for _, obj := range embedded {
			if err := s.Objects().Put(ctx, userID, obj); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureTransfersLoaded performs the one-time transfer backfill: a walk
// of the wallet's transfers list. Idempotent, gated by loadedTransfers,
// and safe against a concurrent sync via the log stream CAS.
func (e *Engine) EnsureTransfersLoaded(ctx context.Context, userID int64) error {
	rec, err := e.store.Wallets().Get(ctx, userID)
	if err != nil {
		return err
	}
	stream := rec.LogStream
	if stream.LoadedTransfers {
		return nil
	}

	fetch := func(ctx context.Context, uri string) ([]domain.ObjectReference, string, error) {
		resp, err := e.hub.Get(ctx, uri, 0)
		if err != nil {
			return nil, "", fmt.Errorf("failed to fetch transfers list: %w", err)
		}
		page, err := canonical.MakeReferencesPage(resp.URL, resp.Data)
		if err != nil {
			return nil, "", err
		}
		return page.Items, page.Next, nil
	}

	var fetched []*domain.Transfer
	err = walker.Walk(ctx, rec.Wallet.TransfersList.URI, fetch, func(ref domain.ObjectReference) error {
		resp, err := e.hub.Get(ctx, ref.URI, 0)
		if err != nil {
			if hub.IsNotFound(err) {
				return nil // deleted between listing and fetch
			}
			return err
		}
		t, err := canonical.MakeTransfer(resp.URL, resp.Data)
		if err != nil {
			return err
		}
		fetched = append(fetched, t)
		return nil
	})
	if err != nil {
		return err
	}

	return e.store.WithinTx(ctx, func(ctx context.Context, s storage.Store) error {
		for _, t := range fetched {
			if err := e.transfers.StoreTransfer(ctx, s, userID, t); err != nil {
				return err
			}
		}
		loaded := stream
		loaded.LoadedTransfers = true
		_, err := s.Wallets().UpdateLogStream(ctx, userID, stream, loaded)
		return err
	})
}

// Sync brings the user's local cache up to date with the remote state.
// Transport errors are retried with exponential backoff; a broken log
// stream propagates as ErrBrokenLogStream, signaling the caller to
// force re-authentication and a full resync.
func (e *Engine) Sync(ctx context.Context, userID int64) error {
	if err := e.EnsureTransfersLoaded(ctx, userID); err != nil {
		return err
	}
	for {
		hasMore, err := e.processPageWithRetry(ctx, userID)
		if err != nil {
			return err
		}
		if !hasMore {
			return nil
		}
	}
}

func (e *Engine) processPageWithRetry(ctx context.Context, userID int64) (bool, error) {
	var hasMore bool
	backoff := retry.WithMaxRetries(3, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		hasMore, err = e.reconciler.ProcessLogPage(ctx, userID)
		if err != nil && isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return hasMore, err
}

// isTransient reports whether an error is worth a caller-level retry:
// network failures and server-side statuses, but never a continuity
// break, a protocol violation, or a 4xx.
func isTransient(err error) bool {
	if errors.Is(err, ErrBrokenLogStream) || errors.Is(err, canonical.ErrProtocolViolation) {
		return false
	}
	var se *hub.StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code >= 500
	}
	// Plain transport failure (connection reset, timeout).
	return true
}

// FullResync wipes the user's cached objects and re-provisions from the
// wallet URI. The only path that clears a broken stream. Queued action
// records survive: they are user intents, not cached state.
func (e *Engine) FullResync(ctx context.Context, userID int64) error {
	rec, err := e.store.Wallets().Get(ctx, userID)
	if err != nil {
		return err
	}
	walletURI := rec.Wallet.URI

	err = e.store.WithinTx(ctx, func(ctx context.Context, s storage.Store) error {
		if err := s.Objects().DeleteByPrefix(ctx, userID, ""); err != nil {
			return err
		}
		if err := s.LedgerEntries().DeleteByPrefix(ctx, userID, ""); err != nil {
			return err
		}
		trs, err := s.Transfers().List(ctx, userID)
		if err != nil {
			return err
		}
		for _, tr := range trs {
			if err := s.Transfers().Delete(ctx, userID, tr.Transfer.URI); err != nil {
				return err
			}
			if err := s.Tasks().DeleteByTransfer(ctx, userID, tr.Transfer.URI); err != nil {
				return err
			}
		}
		return s.Wallets().Delete(ctx, userID)
	})
	if err != nil {
		return err
	}
	return e.Provision(ctx, userID, walletURI)
}

// QueueCreateTransfer queues a create-transfer action with a fresh
// client-generated transfer UUID.
func (e *Engine) QueueCreateTransfer(ctx context.Context, userID int64, recipientURI string, amount int64, noteFormat, note string) (*domain.ActionRecord, error) {
	a := &domain.ActionRecord{
		UserID:    userID,
		Kind:      domain.ActionKindCreateTransfer,
		CreatedAt: time.Now(),
		CreateTransfer: &domain.CreateTransferData{
			TransferUUID: uuid.NewString(),
			Recipient:    domain.ObjectReference{URI: recipientURI},
			Amount:       amount,
			NoteFormat:   noteFormat,
			Note:         note,
		},
	}
	if err := e.actions.CreateActionRecord(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListTransfers returns the user's transfer records ordered by time.
func (e *Engine) ListTransfers(ctx context.Context, userID int64) ([]*domain.TransferRecord, error) {
	return e.store.Transfers().List(ctx, userID)
}

// ListActions returns the user's queued actions.
func (e *Engine) ListActions(ctx context.Context, userID int64) ([]*domain.ActionRecord, error) {
	return e.actions.ListActionRecords(ctx, userID)
}

// ListTasks returns the user's scheduled delete-transfer tasks ordered
// by scheduled time.
func (e *Engine) ListTasks(ctx context.Context, userID int64) ([]*domain.DeleteTransferTask, error) {
	return e.store.Tasks().List(ctx, userID)
}

// RunScheduler pops due users from the sync queue and syncs them,
// rescheduling each at now + the configured interval. Returns when the
// context is cancelled. Requires a queue.
func (e *Engine) RunScheduler(ctx context.Context) error {
	if e.queue == nil {
		return errors.New("no sync queue configured")
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for {
			userID, found, err := e.queue.PopDue(ctx, time.Now())
			if err != nil {
				e.log.Error("failed to pop sync queue", "error", err)
				break
			}
			if !found {
				break
			}
			e.syncScheduled(ctx, userID)
		}
	}
}

func (e *Engine) syncScheduled(ctx context.Context, userID int64) {
	locked, err := e.queue.AcquireSyncLock(ctx, userID, e.cfg.SyncInterval)
	if err != nil {
		e.log.Error("failed to acquire sync lock", "user_id", userID, "error", err)
		return
	}
	if !locked {
		return
	}
	defer func() {
		if err := e.queue.ReleaseSyncLock(ctx, userID); err != nil {
			e.log.Warn("failed to release sync lock", "user_id", userID, "error", err)
		}
	}()

	switch err := e.Sync(ctx, userID); {
	case err == nil:
		metrics.SyncRounds.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrBrokenLogStream):
		metrics.SyncRounds.WithLabelValues("broken").Inc()
		e.log.Warn("log stream broken, full resync required", "user_id", userID)
	default:
		metrics.SyncRounds.WithLabelValues("error").Inc()
		e.log.Error("sync failed", "user_id", userID, "error", err)
	}

	if err := e.queue.Schedule(ctx, userID, time.Now().Add(e.cfg.SyncInterval)); err != nil {
		e.log.Error("failed to reschedule sync", "user_id", userID, "error", err)
	}
}
