// Package actions stores user-initiated action records with
// optimistic-concurrency replace semantics, independent of the log
// stream.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/walletsync/internal/core/config"
	"github.com/vietddude/walletsync/internal/core/domain"
	"github.com/vietddude/walletsync/internal/infra/storage"
)

// ErrRecordDoesNotExist re-exports the storage sentinel for callers of
// the queue: the stored record differed from the caller's snapshot,
// which signals a genuine conflicting edit, never retried automatically.
var ErrRecordDoesNotExist = storage.ErrRecordDoesNotExist

// Queue manages queued action records.
type Queue struct {
	store storage.Store
	cfg   config.SyncConfig
	log   *slog.Logger
}

// NewQueue creates an action queue.
func NewQueue(s storage.Store, cfg config.SyncConfig, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{store: s, cfg: cfg, log: log}
}

// CreateActionRecord queues a new action and assigns its id.
func (q *Queue) CreateActionRecord(ctx context.Context, a *domain.ActionRecord) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if err := q.store.Actions().Create(ctx, a); err != nil {
		return fmt.Errorf("failed to create action: %w", err)
	}
	return nil
}

// ListActionRecords returns the user's queued actions.
func (q *Queue) ListActionRecords(ctx context.Context, userID int64) ([]*domain.ActionRecord, error) {
	return q.store.Actions().List(ctx, userID)
}

// ReplaceActionRecord replaces an action with a new version, or removes
// it when replacement is nil. It fails with ErrRecordDoesNotExist
// unless the stored record is structurally identical to original (the
// caller's last-known view), so a UI-driven edit can never clobber a
// concurrent background resolution of the same action.
func (q *Queue) ReplaceActionRecord(ctx context.Context, original, replacement *domain.ActionRecord) error {
	return q.store.WithinTx(ctx, func(ctx context.Context, s storage.Store) error {
		current, err := s.Actions().Get(ctx, original.UserID, original.ActionID)
		if err != nil {
			return err
		}
		if current == nil || !sameRecord(current, original) {
			return ErrRecordDoesNotExist
		}
		if replacement == nil {
			return q.remove(ctx, s, original)
		}
		replacement.ActionID = original.ActionID
		replacement.UserID = original.UserID
		return s.Actions().Update(ctx, replacement)
	})
}

// sameRecord compares two records by their canonical JSON encoding.
// Structural equality would be too strict here: a timestamp held by the
// caller carries wall-clock internals the stored copy loses on its
// serialization round trip, and that must not register as an edit.
func sameRecord(a, b *domain.ActionRecord) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// RemoveActionRecord removes an action, applying its removal side
// effects.
func (q *Queue) RemoveActionRecord(ctx context.Context, a *domain.ActionRecord) error {
	return q.store.WithinTx(ctx, func(ctx context.Context, s storage.Store) error {
		return q.remove(ctx, s, a)
	})
}

// remove deletes the record. Removing a create-transfer action has no
// side effect; removing an abort action marks the transfer aborted and
// schedules its deletion task, unless the transfer has since become
// successful. Success wins over a user-initiated abort.
func (q *Queue) remove(ctx context.Context, s storage.Store, a *domain.ActionRecord) error {
	if a.Kind == domain.ActionKindAbortTransfer && a.AbortTransfer != nil {
		if err := q.abortTransfer(ctx, s, a.UserID, a.AbortTransfer.TransferURI); err != nil {
			return err
		}
	}
	return s.Actions().Delete(ctx, a.UserID, a.ActionID)
}

func (q *Queue) abortTransfer(ctx context.Context, s storage.Store, userID int64, uri string) error {
	rec, err := s.Transfers().GetByURI(ctx, userID, uri)
	if err != nil {
		return fmt.Errorf("failed to get transfer: %w", err)
	}
	if rec == nil {
		return nil
	}
	now := time.Now()
	if rec.Transfer.State(now, q.cfg.TransferWaitThreshold) == domain.TransferStateSuccessful {
		return nil
	}
	rec.Aborted = true
	if err := s.Transfers().Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to mark transfer aborted: %w", err)
	}

	scheduledFor := now
	if rec.Transfer.Result != nil {
		scheduledFor = rec.Transfer.Result.FinalizedAt
	}
	task := &domain.DeleteTransferTask{
		UserID:       userID,
		TransferURI:  uri,
		ScheduledFor: scheduledFor.Add(q.cfg.RetentionDelay()),
	}
	if err := s.Tasks().Upsert(ctx, task); err != nil {
		return fmt.Errorf("failed to schedule delete task: %w", err)
	}
	return nil
}

// Status derives an action's status from its execution state. Timeout
// is computed, not a timer: once even the slowest confirmation could no
// longer arrive in time, the action is timed out.
func (q *Queue) Status(a *domain.ActionRecord, now time.Time) domain.ActionStatus {
	e := a.Execution
	if e == nil {
		return domain.ActionStatusDraft
	}
	if e.Result != nil {
		if e.Result.Ok {
			return domain.ActionStatusInitiated
		}
		return domain.ActionStatusFailed
	}
	if e.UnresolvedRequestAt == nil {
		return domain.ActionStatusNotSent
	}
	if now.Add(q.cfg.MaxProcessingDelay).After(e.StartedAt.Add(q.cfg.MinDeletionDelay)) {
		return domain.ActionStatusTimedOut
	}
	return domain.ActionStatusNotConfirmed
}
