// Package reconciler walks the wallet's change log page by page,
// validating entry-id continuity and turning surviving entries into
// update plans.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/walletsync/internal/core/canonical"
	"github.com/vietddude/walletsync/internal/core/domain"
	"github.com/vietddude/walletsync/internal/infra/hub"
	"github.com/vietddude/walletsync/internal/infra/storage"
	"github.com/vietddude/walletsync/internal/sync/metrics"
	"github.com/vietddude/walletsync/internal/sync/planner"
)

// ErrBrokenLogStream signals a gap or inconsistency in the entry-id
// sequence. Recoverable only by a full resync, never retried in place.
var ErrBrokenLogStream = errors.New("broken log stream")

// Reconciler processes the change log for one user at a time.
type Reconciler struct {
	hub     hub.Client
	store   storage.Store
	planner *planner.Planner
	log     *slog.Logger
}

// New creates a reconciler.
func New(h hub.Client, s storage.Store, p *planner.Planner, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{hub: h, store: s, planner: p, log: log}
}

// ProcessLogPage fetches and processes one page of the user's change
// log. It returns whether another page remains, so callers loop until
// caught up. The cursor advances only under an optimistic check against
// the position read at the start of the call; a concurrent advance
// silently skips the commit, and the next call reprocesses the same
// page, which is safe because all object writes are idempotent.
func (r *Reconciler) ProcessLogPage(ctx context.Context, userID int64) (bool, error) {
	rec, err := r.store.Wallets().Get(ctx, userID)
	if err != nil {
		return false, err
	}
	stream := rec.LogStream
	if stream.IsBroken {
		return false, fmt.Errorf("%w: stream marked broken, full resync required", ErrBrokenLogStream)
	}

	resp, err := r.hub.Get(ctx, stream.Forthcoming, 0)
	if err != nil {
		return false, fmt.Errorf("failed to fetch log page: %w", err)
	}
	page, err := canonical.MakeLogPage(resp.URL, resp.Data)
	if err != nil {
		return false, err
	}

	// Continuity: every entry id must be exactly previous+1.
	prev := stream.LatestEntryID
	for _, e := range page.Items {
		if e.EntryID != prev+1 {
			r.markBroken(ctx, userID, stream)
			return false, fmt.Errorf("%w: expected entry %d, got %d", ErrBrokenLogStream, prev+1, e.EntryID)
		}
		prev++
	}

	updates := collapse(page.Items)
	if err := r.planner.Execute(ctx, userID, updates); err != nil {
		// No partial cursor advance: the page is retried in full on
		// the next sync attempt.
		return false, err
	}

	next := stream
	next.LatestEntryID = prev
	if page.Next != "" {
		next.Forthcoming = page.Next
	} else {
		next.Forthcoming = page.Forthcoming
	}
	now := time.Now()
	next.SyncedAt = &now

	swapped, err := r.store.Wallets().UpdateLogStream(ctx, userID, stream, next)
	if err != nil {
		return false, fmt.Errorf("failed to commit cursor: %w", err)
	}
	if !swapped {
		r.log.Debug("concurrent cursor advance, skipping commit", "user_id", userID)
	}

	metrics.LogPagesProcessed.Inc()
	metrics.LogEntriesProcessed.Add(float64(len(page.Items)))
	return page.Next != "", nil
}

// markBroken sets the sticky isBroken flag, guarded by the same
// optimistic check as a cursor advance.
func (r *Reconciler) markBroken(ctx context.Context, userID int64, stream domain.LogStream) {
	broken := stream
	broken.IsBroken = true
	if _, err := r.store.Wallets().UpdateLogStream(ctx, userID, stream, broken); err != nil {
		r.log.Error("failed to mark log stream broken", "user_id", userID, "error", err)
	}
	metrics.BrokenLogStreams.Inc()
}

// collapse deduplicates entries referring to the same object, keeping
// the one with the highest objectUpdateId (a later deleted entry always
// wins). List-membership entries are dropped: their changes are
// inferable from Account/Transfer entries directly.
func collapse(items []domain.LogEntry) []planner.UpdateInfo {
	byURI := make(map[string]int)
	var out []planner.UpdateInfo
	for _, e := range items {
		if e.ObjectType == domain.ObjectTypeAccountsList || e.ObjectType == domain.ObjectTypeTransfersList {
			continue
		}
		u := planner.UpdateInfo{
			ObjectURI:  e.ObjectURI,
			ObjectType: e.ObjectType,
			UpdateID:   e.ObjectUpdateID,
			Deleted:    e.Deleted,
			Data:       e.Data,
		}
		if i, ok := byURI[e.ObjectURI]; ok {
			if u.Deleted || u.UpdateID >= out[i].UpdateID {
				out[i] = u
			}
			continue
		}
		byURI[e.ObjectURI] = len(out)
		out = append(out, u)
	}
	return out
}
