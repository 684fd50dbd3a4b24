// Package transfers maintains local transfer records and the
// bookkeeping attached to their lifecycle: deferred deletion tasks and
// abort actions for problematic transfers.
package transfers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/walletsync/internal/core/config"
	"github.com/vietddude/walletsync/internal/core/domain"
	"github.com/vietddude/walletsync/internal/infra/storage"
)

// timeEpsilon nudges a colliding (userID, time) key. Small enough to
// keep ordering stable, large enough to be distinct in a float64.
const timeEpsilon = 5e-6

// maxTimeNudges bounds collision retries; exceeding it is fatal.
const maxTimeNudges = 100

// NoteParser turns a transfer note into payment info. Document parsing
// is an external concern; nil keeps the raw note.
type NoteParser func(noteFormat, note string) string

// Manager classifies transfers and keeps tasks and abort actions
// consistent with the server-confirmed outcome.
type Manager struct {
	cfg       config.SyncConfig
	noteParse NoteParser
	log       *slog.Logger
}

// NewManager creates a transfer lifecycle manager.
func NewManager(cfg config.SyncConfig, noteParse NoteParser, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{cfg: cfg, noteParse: noteParse, log: log}
}

// RetentionDelay is the effective deletion delay for concluded
// transfers.
func (m *Manager) RetentionDelay() time.Duration {
	return m.cfg.RetentionDelay()
}

// StoreTransfer merges a server transfer snapshot into the local store
// and maintains the dependent records. Idempotent; safe to call from
// both the one-time backfill and the log reconciler. s must wrap the
// caller's store transaction.
func (m *Manager) StoreTransfer(ctx context.Context, s storage.Store, userID int64, t *domain.Transfer) error {
	now := time.Now()

	existing, err := s.Transfers().GetByURI(ctx, userID, t.URI)
	if err != nil {
		return fmt.Errorf("failed to get transfer: %w", err)
	}

	// The matching create action must be read before the transfer
	// write and updated only after it, so a resolution is never lost
	// to interleaving.
	var matched *domain.ActionRecord
	if t.TransferUUID != "" {
		matched, err = s.Actions().GetCreateByTransferUUID(ctx, userID, t.TransferUUID)
		if err != nil {
			return fmt.Errorf("failed to look up create action: %w", err)
		}
	}

	rec := m.merge(existing, t, userID)
	if matched != nil {
		rec.OriginatesHere = true
	}

	if err := m.putWithNudging(ctx, s, rec); err != nil {
		return err
	}

	state := rec.Transfer.State(now, m.cfg.TransferWaitThreshold)
	switch state {
	case domain.TransferStateSuccessful:
		scheduledFor := rec.Transfer.Result.FinalizedAt.Add(m.RetentionDelay())
		task := &domain.DeleteTransferTask{
			UserID:       userID,
			TransferURI:  rec.Transfer.URI,
			ScheduledFor: scheduledFor,
		}
		if err := s.Tasks().Upsert(ctx, task); err != nil {
			return fmt.Errorf("failed to schedule delete task: %w", err)
		}
		// Success wins over a pending abort.
		abort, err := s.Actions().GetAbortByTransferURI(ctx, userID, rec.Transfer.URI)
		if err != nil {
			return fmt.Errorf("failed to look up abort action: %w", err)
		}
		if abort != nil {
			if err := s.Actions().Delete(ctx, userID, abort.ActionID); err != nil {
				return fmt.Errorf("failed to delete abort action: %w", err)
			}
		}

	case domain.TransferStateDelayed, domain.TransferStateUnsuccessful:
		if !rec.Aborted {
			if err := m.upsertAbortAction(ctx, s, userID, rec, now); err != nil {
				return err
			}
			// Eventual forced abort: the task runner aborts the
			// transfer on its way out if nothing resolves it first.
			concluded := rec.Transfer.InitiatedAt
			if rec.Transfer.Result != nil {
				concluded = rec.Transfer.Result.FinalizedAt
			}
			task := &domain.DeleteTransferTask{
				UserID:       userID,
				TransferURI:  rec.Transfer.URI,
				ScheduledFor: concluded.Add(m.RetentionDelay()),
			}
			if err := s.Tasks().Upsert(ctx, task); err != nil {
				return fmt.Errorf("failed to schedule delete task: %w", err)
			}
		}
	}

	if matched != nil {
		if matched.Execution == nil {
			matched.Execution = &domain.ExecutionState{StartedAt: now}
		}
		matched.Execution.UnresolvedRequestAt = nil
		matched.Execution.Result = &domain.ExecutionResult{Ok: true, TransferURI: rec.Transfer.URI}
		if err := s.Actions().Update(ctx, matched); err != nil {
			return fmt.Errorf("failed to resolve create action: %w", err)
		}
	}

	return nil
}

// merge applies the newer-local-wins rule: an incoming snapshot with an
// equal-or-smaller update id is discarded, and local-only fields always
// survive a newer snapshot.
func (m *Manager) merge(existing *domain.TransferRecord, t *domain.Transfer, userID int64) *domain.TransferRecord {
	if existing == nil {
		return &domain.TransferRecord{
			UserID:      userID,
			Transfer:    *t,
			Time:        domain.TimeKey(t.InitiatedAt),
			PaymentInfo: m.parseNote(t.NoteFormat, t.Note),
		}
	}
	if existing.Transfer.LatestUpdateID >= t.LatestUpdateID {
		return existing
	}
	rec := *existing
	rec.Transfer = *t
	if t.Note != existing.Transfer.Note || t.NoteFormat != existing.Transfer.NoteFormat {
		rec.PaymentInfo = m.parseNote(t.NoteFormat, t.Note)
	}
	return &rec
}

func (m *Manager) parseNote(noteFormat, note string) string {
	if m.noteParse != nil {
		return m.noteParse(noteFormat, note)
	}
	return note
}

func (m *Manager) putWithNudging(ctx context.Context, s storage.Store, rec *domain.TransferRecord) error {
	for i := 0; ; i++ {
		err := s.Transfers().Put(ctx, rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrUniqueViolation) {
			return fmt.Errorf("failed to put transfer: %w", err)
		}
		if i == maxTimeNudges {
			return fmt.Errorf("persistent (user, time) key collision for %s: %w", rec.Transfer.URI, err)
		}
		rec.Time += timeEpsilon
	}
}

// upsertAbortAction keeps at most one abort action per transfer:
// create one if none exists, or attach the now-known result to an
// existing result-less one.
func (m *Manager) upsertAbortAction(ctx context.Context, s storage.Store, userID int64, rec *domain.TransferRecord, now time.Time) error {
	abort, err := s.Actions().GetAbortByTransferURI(ctx, userID, rec.Transfer.URI)
	if err != nil {
		return fmt.Errorf("failed to look up abort action: %w", err)
	}
	if abort == nil {
		a := &domain.ActionRecord{
			UserID:    userID,
			Kind:      domain.ActionKindAbortTransfer,
			CreatedAt: now,
			AbortTransfer: &domain.AbortTransferData{
				TransferURI: rec.Transfer.URI,
				Transfer:    rec.Transfer,
			},
		}
		if err := s.Actions().Create(ctx, a); err != nil {
			return fmt.Errorf("failed to create abort action: %w", err)
		}
		m.log.Debug("created abort action", "user_id", userID, "transfer", rec.Transfer.URI)
		return nil
	}
	if abort.AbortTransfer.Transfer.Result == nil && rec.Transfer.Result != nil {
		abort.AbortTransfer.Transfer = rec.Transfer
		if err := s.Actions().Update(ctx, abort); err != nil {
			return fmt.Errorf("failed to update abort action: %w", err)
		}
	}
	return nil
}

// DeleteTransfer removes a transfer record together with its task and
// abort action. Used for log-driven deletions and cache eviction.
func (m *Manager) DeleteTransfer(ctx context.Context, s storage.Store, userID int64, uri string) error {
	if err := s.Transfers().Delete(ctx, userID, uri); err != nil {
		return fmt.Errorf("failed to delete transfer: %w", err)
	}
	if err := s.Tasks().DeleteByTransfer(ctx, userID, uri); err != nil {
		return fmt.Errorf("failed to delete transfer task: %w", err)
	}
	abort, err := s.Actions().GetAbortByTransferURI(ctx, userID, uri)
	if err != nil {
		return fmt.Errorf("failed to look up abort action: %w", err)
	}
	if abort != nil {
		if err := s.Actions().Delete(ctx, userID, abort.ActionID); err != nil {
			return fmt.Errorf("failed to delete abort action: %w", err)
		}
	}
	return nil
}
