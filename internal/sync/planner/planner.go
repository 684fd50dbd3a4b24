// Package planner turns pending object updates into committable store
// operations: cache hit vs. patch-from-log vs. network refetch, with
// cycle-safe cascading to related objects.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/walletsync/internal/core/canonical"
	"github.com/vietddude/walletsync/internal/core/config"
	"github.com/vietddude/walletsync/internal/core/domain"
	"github.com/vietddude/walletsync/internal/infra/hub"
	"github.com/vietddude/walletsync/internal/infra/storage"
	"github.com/vietddude/walletsync/internal/sync/metrics"
	"github.com/vietddude/walletsync/internal/sync/transfers"
	"github.com/vietddude/walletsync/internal/sync/walker"
)

// ErrProtocolViolation re-exports the canonicalizer's fatal type-tag
// mismatch error.
var ErrProtocolViolation = canonical.ErrProtocolViolation

// UpdateInfo describes one pending object update, derived from a log
// entry or from a cascade.
type UpdateInfo struct {
	ObjectURI  string
	ObjectType domain.ObjectType
	UpdateID   int64
	Deleted    bool
	Data       json.RawMessage
}

// Planner plans and executes object updates for one user at a time.
type Planner struct {
	hub            hub.Client
	store          storage.Store
	transfers      *transfers.Manager
	fanout         int
	requestTimeout time.Duration
	log            *slog.Logger
}

// New creates a planner. requestTimeout is the total fetch budget for
// one planning wave, divided across its parallel requests.
func New(h hub.Client, s storage.Store, tm *transfers.Manager, cfg config.SyncConfig, requestTimeout time.Duration, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	fanout := cfg.FetchFanout
	if fanout <= 0 {
		fanout = 6
	}
	return &Planner{
		hub:            h,
		store:          s,
		transfers:      tm,
		fanout:         fanout,
		requestTimeout: requestTimeout,
		log:            log,
	}
}

// Execute plans the given updates (recursively expanding cascades) and
// applies the resulting operations inside one store transaction.
// A non-404 fetch error aborts the whole pass before anything commits.
func (p *Planner) Execute(ctx context.Context, userID int64, updates []UpdateInfo) error {
	ps := &pass{
		p:       p,
		userID:  userID,
		cache:   make(map[string]domain.Object),
		pending: make(map[string]int64),
	}
	if err := ps.plan(ctx, updates); err != nil {
		return err
	}
	return ps.apply(ctx)
}

// pass holds the state of one planning pass. The pending map bounds the
// recursive expansion: an object URI is planned at most once per pass.
type pass struct {
	p       *Planner
	userID  int64
	cache   map[string]domain.Object
	pending map[string]int64

	putObjects    []domain.Object
	putTransfers  []*domain.Transfer
	walletPatch   *domain.Wallet
	ledgerEntries []domain.LedgerEntry
	deletes       []UpdateInfo
}

// fetchItem is an update waiting for a network fetch, with the local
// record (if any) it may replace.
type fetchItem struct {
	u        UpdateInfo
	existing domain.Object
	obj      domain.Object // nil after fetch means 404: tombstone
}

func (ps *pass) plan(ctx context.Context, updates []UpdateInfo) error {
	queue := updates
	for len(queue) > 0 {
		var cascades []UpdateInfo
		var fetches []*fetchItem

		for _, u := range queue {
			if _, seen := ps.pending[u.ObjectURI]; seen {
				continue
			}
			ps.pending[u.ObjectURI] = u.UpdateID

			if u.Deleted {
				ps.deletes = append(ps.deletes, u)
				metrics.ObjectUpdates.WithLabelValues("deleted").Inc()
				continue
			}

			existing, err := ps.localObject(ctx, u)
			if err != nil {
				return err
			}
			// Primary defense against duplicate and out-of-order
			// delivery: equal-or-smaller incoming ids are no-ops.
			if existing != nil && u.UpdateID != 0 && existing.UpdateID() >= u.UpdateID {
				metrics.ObjectUpdates.WithLabelValues("skipped").Inc()
				continue
			}

			if obj, ok := ps.cache[u.ObjectURI]; ok && obj.UpdateID() >= u.UpdateID {
				metrics.ObjectUpdates.WithLabelValues("cached").Inc()
				if err := ps.record(ctx, u, obj, existing, &cascades); err != nil {
					return err
				}
				continue
			}

			if obj := ps.patchFromData(u, existing); obj != nil {
				metrics.ObjectUpdates.WithLabelValues("patched").Inc()
				if err := ps.record(ctx, u, obj, existing, &cascades); err != nil {
					return err
				}
				continue
			}

			fetches = append(fetches, &fetchItem{u: u, existing: existing})
		}

		if err := ps.fetchAll(ctx, fetches); err != nil {
			return err
		}
		for _, f := range fetches {
			if f.obj == nil {
				// 404 degrades to a tombstone delete.
				ps.deletes = append(ps.deletes, UpdateInfo{
					ObjectURI:  f.u.ObjectURI,
					ObjectType: f.u.ObjectType,
					Deleted:    true,
				})
				metrics.ObjectUpdates.WithLabelValues("deleted").Inc()
				continue
			}
			metrics.ObjectUpdates.WithLabelValues("fetched").Inc()
			if err := ps.record(ctx, f.u, f.obj, f.existing, &cascades); err != nil {
				return err
			}
		}

		queue = cascades
	}
	return nil
}

// localObject reads the currently stored object for an update, routing
// by type: transfers and the wallet live in their own tables.
func (ps *pass) localObject(ctx context.Context, u UpdateInfo) (domain.Object, error) {
	switch u.ObjectType {
	case domain.ObjectTypeTransfer:
		rec, err := ps.p.store.Transfers().GetByURI(ctx, ps.userID, u.ObjectURI)
		if err != nil {
			return nil, fmt.Errorf("failed to get transfer: %w", err)
		}
		if rec == nil {
			return nil, nil
		}
		return &rec.Transfer, nil
	case domain.ObjectTypeWallet:
		rec, err := ps.p.store.Wallets().Get(ctx, ps.userID)
		if err == storage.ErrWalletNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &rec.Wallet, nil
	default:
		obj, err := ps.p.store.Objects().Get(ctx, ps.userID, u.ObjectURI)
		if err != nil {
			return nil, fmt.Errorf("failed to get object: %w", err)
		}
		return obj, nil
	}
}

// ledgerPatch is the partial snapshot shape supported for AccountLedger
// log entries.
type ledgerPatch struct {
	Principal   *int64  `json:"principal"`
	NextEntryID *int64  `json:"nextEntryId"`
	FirstPage   *string `json:"firstPage"`
}

// transferPatch is the partial snapshot shape supported for Transfer
// log entries.
type transferPatch struct {
	FinalizedAt     *time.Time            `json:"finalizedAt"`
	CommittedAmount *int64                `json:"committedAmount"`
	Error           *domain.TransferError `json:"error,omitempty"`
}

// patchFromData reconstructs the new object state in memory from the
// existing record plus the log entry's inline data. An optional fast
// path for AccountLedger and Transfer only; any shape mismatch returns
// nil and the caller falls back to a fetch.
func (ps *pass) patchFromData(u UpdateInfo, existing domain.Object) domain.Object {
	if len(u.Data) == 0 || existing == nil {
		return nil
	}
	switch u.ObjectType {
	case domain.ObjectTypeAccountLedger:
		old, ok := existing.(*domain.AccountLedger)
		if !ok {
			return nil
		}
		var patch ledgerPatch
		if err := json.Unmarshal(u.Data, &patch); err != nil {
			return nil
		}
		if patch.Principal == nil || patch.NextEntryID == nil {
			return nil
		}
		next := *old
		next.LatestUpdateID = u.UpdateID
		next.Principal = *patch.Principal
		next.NextEntryID = *patch.NextEntryID
		if patch.FirstPage != nil {
			next.Entries.First = *patch.FirstPage
		}
		return &next
	case domain.ObjectTypeTransfer:
		old, ok := existing.(*domain.Transfer)
		if !ok {
			return nil
		}
		var patch transferPatch
		if err := json.Unmarshal(u.Data, &patch); err != nil {
			return nil
		}
		if patch.FinalizedAt == nil || patch.CommittedAmount == nil {
			return nil
		}
		next := *old
		next.LatestUpdateID = u.UpdateID
		next.Result = &domain.TransferResult{
			Type:            "TransferResult",
			FinalizedAt:     *patch.FinalizedAt,
			CommittedAmount: *patch.CommittedAmount,
			Error:           patch.Error,
		}
		return &next
	default:
		return nil
	}
}

// fetchAll fetches the items with bounded fan-out. The configured
// request-timeout budget is divided across the sequential waves the
// fan-out limit implies, so one planning pass never exceeds it.
func (ps *pass) fetchAll(ctx context.Context, items []*fetchItem) error {
	if len(items) == 0 {
		return nil
	}
	waves := (len(items) + ps.p.fanout - 1) / ps.p.fanout
	timeout := ps.p.requestTimeout / time.Duration(waves)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ps.p.fanout)
	for _, item := range items {
		g.Go(func() error {
			obj, err := ps.p.fetchObject(gctx, item.u, timeout)
			if err != nil {
				return err
			}
			item.obj = obj
			return nil
		})
	}
	return g.Wait()
}

// fetchObject fetches and canonicalizes a single object. A 404 returns
// (nil, nil); a type-tag mismatch is fatal.
func (p *Planner) fetchObject(ctx context.Context, u UpdateInfo, timeout time.Duration) (domain.Object, error) {
	start := time.Now()
	resp, err := p.hub.Get(ctx, u.ObjectURI, timeout)
	metrics.HubFetchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if hub.IsNotFound(err) {
			metrics.HubFetches.WithLabelValues("not_found").Inc()
			return nil, nil
		}
		metrics.HubFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to fetch %s: %w", u.ObjectURI, err)
	}
	metrics.HubFetches.WithLabelValues("ok").Inc()

	obj, err := canonical.DecodeObject(u.ObjectType, resp.URL, resp.Data)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// record routes a resolved object into the commit lists and expands its
// cascades.
func (ps *pass) record(ctx context.Context, u UpdateInfo, obj, existing domain.Object, cascades *[]UpdateInfo) error {
	ps.cache[u.ObjectURI] = obj

	switch o := obj.(type) {
	case *domain.Wallet:
		ps.walletPatch = o

	case *domain.Transfer:
		ps.putTransfers = append(ps.putTransfers, o)

	case *domain.Account:
		ps.putObjects = append(ps.putObjects, o)
		// The six sub-objects arrive embedded: pre-seed them into the
		// cache so their own updates never refetch.
		for _, sub := range o.SubObjects() {
			ps.cache[sub.ObjectURI()] = sub
			*cascades = append(*cascades, UpdateInfo{
				ObjectURI:  sub.ObjectURI(),
				ObjectType: sub.ObjectKind(),
				UpdateID:   sub.UpdateID(),
			})
		}

	case *domain.AccountLedger:
		ps.putObjects = append(ps.putObjects, o)
		if err := ps.walkNewLedgerEntries(ctx, o, existing, cascades); err != nil {
			return err
		}

	default:
		ps.putObjects = append(ps.putObjects, obj)
	}
	return nil
}

// walkNewLedgerEntries loads ledger entries newer than the last known
// one. Entries come newest-first; the walk stops at the first entry
// already known, or at the first gap. A gap here is not an error, the
// walk simply ends early. Each new entry referencing a transfer expands
// into a CommittedTransfer update.
func (ps *pass) walkNewLedgerEntries(ctx context.Context, ledger *domain.AccountLedger, existing domain.Object, cascades *[]UpdateInfo) error {
	old, ok := existing.(*domain.AccountLedger)
	if !ok {
		// Fresh ledger: its history becomes known from nextEntryId on.
		return nil
	}
	knownNext := old.NextEntryID
	if ledger.Entries.First == "" || ledger.NextEntryID <= knownNext {
		return nil
	}

	prev := int64(0)
	fetch := func(ctx context.Context, uri string) ([]domain.LedgerEntry, string, error) {
		resp, err := ps.p.hub.Get(ctx, uri, ps.p.requestTimeout)
		if err != nil {
			return nil, "", fmt.Errorf("failed to fetch ledger entries: %w", err)
		}
		page, err := canonical.MakeLedgerEntriesPage(resp.URL, resp.Data)
		if err != nil {
			return nil, "", err
		}
		return page.Items, page.Next, nil
	}
	return walker.Walk(ctx, ledger.Entries.First, fetch, func(e domain.LedgerEntry) error {
		if e.EntryID < knownNext {
			return walker.ErrStop // already known
		}
		if prev != 0 && e.EntryID != prev-1 {
			return walker.ErrStop // gap: stop early, not an error
		}
		prev = e.EntryID
		ps.ledgerEntries = append(ps.ledgerEntries, e)
		if e.Transfer != nil {
			*cascades = append(*cascades, UpdateInfo{
				ObjectURI:  e.Transfer.URI,
				ObjectType: domain.ObjectTypeCommittedTransfer,
				UpdateID:   1, // committed transfers are immutable
			})
		}
		return nil
	})
}

// apply commits the planned operations inside one store transaction.
func (ps *pass) apply(ctx context.Context) error {
	return ps.p.store.WithinTx(ctx, func(ctx context.Context, s storage.Store) error {
		if ps.walletPatch != nil {
			rec, err := s.Wallets().Get(ctx, ps.userID)
			if err != nil {
				return err
			}
			if rec.Wallet.LatestUpdateID < ps.walletPatch.LatestUpdateID {
				rec.Wallet = *ps.walletPatch
				if err := s.Wallets().Put(ctx, rec); err != nil {
					return err
				}
			}
		}
		for _, obj := range ps.putObjects {
			if err := s.Objects().Put(ctx, ps.userID, obj); err != nil {
				return fmt.Errorf("failed to put %s: %w", obj.ObjectURI(), err)
			}
		}
		for i := range ps.ledgerEntries {
			rec := &domain.LedgerEntryRecord{UserID: ps.userID, Entry: ps.ledgerEntries[i]}
			if err := s.LedgerEntries().Put(ctx, rec); err != nil {
				return fmt.Errorf("failed to put ledger entry: %w", err)
			}
		}
		for _, t := range ps.putTransfers {
			if err := ps.p.transfers.StoreTransfer(ctx, s, ps.userID, t); err != nil {
				return err
			}
		}
		for _, d := range ps.deletes {
			if err := ps.applyDelete(ctx, s, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// applyDelete tombstones one object. Deleting an account cascades to
// its sub-objects, ledger entries and committed transfers, which all
// live under the account's URI prefix.
func (ps *pass) applyDelete(ctx context.Context, s storage.Store, d UpdateInfo) error {
	switch d.ObjectType {
	case domain.ObjectTypeTransfer:
		return ps.p.transfers.DeleteTransfer(ctx, s, ps.userID, d.ObjectURI)
	case domain.ObjectTypeAccount:
		if err := s.Objects().DeleteByPrefix(ctx, ps.userID, d.ObjectURI); err != nil {
			return fmt.Errorf("failed to cascade account delete: %w", err)
		}
		if err := s.LedgerEntries().DeleteByPrefix(ctx, ps.userID, d.ObjectURI); err != nil {
			return fmt.Errorf("failed to cascade ledger entry delete: %w", err)
		}
		return nil
	case domain.ObjectTypeWallet:
		// The wallet record is never deleted by the log stream.
		return nil
	default:
		return s.Objects().Delete(ctx, ps.userID, d.ObjectURI)
	}
}
