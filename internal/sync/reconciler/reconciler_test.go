package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/walletsync/internal/core/config"
	"github.com/vietddude/walletsync/internal/core/domain"
	"github.com/vietddude/walletsync/internal/infra/hub"
	"github.com/vietddude/walletsync/internal/infra/storage/memory"
	"github.com/vietddude/walletsync/internal/sync/planner"
	"github.com/vietddude/walletsync/internal/sync/transfers"
)

const testUser int64 = 1

// =============================================================================
// Fake hub
// =============================================================================

type fakeHub struct {
	mu        sync.Mutex
	responses map[string]string
	statuses  map[string]int
	calls     int
}

func newFakeHub() *fakeHub {
	return &fakeHub{responses: make(map[string]string), statuses: make(map[string]int)}
}

func (f *fakeHub) Get(ctx context.Context, uri string, timeout time.Duration) (*hub.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if code, ok := f.statuses[uri]; ok {
		return nil, &hub.StatusError{Code: code, URI: uri}
	}
	body, ok := f.responses[uri]
	if !ok {
		return nil, &hub.StatusError{Code: http.StatusNotFound, URI: uri}
	}
	u, _ := url.Parse(uri)
	return &hub.Response{Data: []byte(body), URL: u}, nil
}

func newReconciler(h hub.Client, store *memory.MemoryStorage) *Reconciler {
	cfg := config.SyncConfig{
		FetchFanout:           6,
		TransferWaitThreshold: 24 * time.Hour,
		TransferDeletionDelay: 15 * 24 * time.Hour,
		MinDeletionDelay:      6 * 24 * time.Hour,
	}
	tm := transfers.NewManager(cfg, nil, nil)
	p := planner.New(h, store, tm, cfg, 30*time.Second, nil)
	return New(h, store, p, nil)
}

func putWallet(t *testing.T, store *memory.MemoryStorage, latestEntryID int64, forthcoming string) {
	t.Helper()
	err := store.Wallets().Put(context.Background(), &domain.WalletRecord{
		UserID: testUser,
		Wallet: domain.Wallet{
			ObjectHeader: domain.ObjectHeader{
				URI:            "https://hub.example.com/users/1/wallet",
				Type:           domain.ObjectTypeWallet,
				LatestUpdateID: 1,
			},
		},
		LogStream: domain.LogStream{LatestEntryID: latestEntryID, Forthcoming: forthcoming},
	})
	if err != nil {
		t.Fatalf("Put wallet failed: %v", err)
	}
}

func displayPayload(uri string, updateID int64) string {
	return fmt.Sprintf(`{
		"type": "AccountDisplay", "uri": "%s", "latestUpdateId": %d,
		"account": {"uri": "https://hub.example.com/accounts/7/"}, "amountDivisor": 100
	}`, uri, updateID)
}

// =============================================================================
// Tests
// =============================================================================

func TestProcessLogPageAdvancesCursor(t *testing.T) {
	h := newFakeHub()
	store := memory.NewMemoryStorage()
	r := newReconciler(h, store)
	ctx := context.Background()

	pageURI := "https://hub.example.com/users/1/log?start=5"
	nextForthcoming := "https://hub.example.com/users/1/log?start=7"
	objURI := "https://hub.example.com/accounts/7/display"
	putWallet(t, store, 4, pageURI)

	h.responses[pageURI] = fmt.Sprintf(`{
		"type": "LogEntriesPage", "uri": "%s",
		"items": [
			{"type": "LogEntry", "entryId": 5, "object": "%s", "objectType": "AccountDisplay", "objectUpdateId": 1},
			{"type": "LogEntry", "entryId": 6, "object": "%s", "objectType": "AccountDisplay", "objectUpdateId": 2}
		],
		"forthcoming": "%s"
	}`, pageURI, objURI, objURI, nextForthcoming)
	h.responses[objURI] = displayPayload(objURI, 2)

	hasMore, err := r.ProcessLogPage(ctx, testUser)
	if err != nil {
		t.Fatalf("ProcessLogPage failed: %v", err)
	}
	if hasMore {
		t.Error("hasMore = true for a caught-up page")
	}

	rec, _ := store.Wallets().Get(ctx, testUser)
	if rec.LogStream.LatestEntryID != 6 {
		t.Errorf("cursor = %d, want 6", rec.LogStream.LatestEntryID)
	}
	if rec.LogStream.Forthcoming != nextForthcoming {
		t.Errorf("forthcoming = %q, want %q", rec.LogStream.Forthcoming, nextForthcoming)
	}
	if rec.LogStream.SyncedAt == nil {
		t.Error("SyncedAt not stamped")
	}

	obj, _ := store.Objects().Get(ctx, testUser, objURI)
	if obj == nil || obj.UpdateID() != 2 {
		t.Error("collapsed object update was not applied")
	}
}

func TestProcessLogPageHasMore(t *testing.T) {
	h := newFakeHub()
	store := memory.NewMemoryStorage()
	r := newReconciler(h, store)

	pageURI := "https://hub.example.com/users/1/log?start=5"
	nextPage := "https://hub.example.com/users/1/log?start=6"
	putWallet(t, store, 4, pageURI)

	h.responses[pageURI] = fmt.Sprintf(`{
		"type": "LogEntriesPage", "uri": "%s", "items": [], "next": "%s"
	}`, pageURI, nextPage)

	hasMore, err := r.ProcessLogPage(context.Background(), testUser)
	if err != nil {
		t.Fatalf("ProcessLogPage failed: %v", err)
	}
	if !hasMore {
		t.Error("hasMore = false while a next page exists")
	}
	rec, _ := store.Wallets().Get(context.Background(), testUser)
	if rec.LogStream.Forthcoming != nextPage {
		t.Errorf("forthcoming = %q, want the next page", rec.LogStream.Forthcoming)
	}
}

func TestProcessLogPageGapBreaksStream(t *testing.T) {
	h := newFakeHub()
	store := memory.NewMemoryStorage()
	r := newReconciler(h, store)
	ctx := context.Background()

	pageURI := "https://hub.example.com/users/1/log?start=5"
	putWallet(t, store, 4, pageURI)

	// Entry 6 where 5 is expected: retention overran the cursor.
	h.responses[pageURI] = fmt.Sprintf(`{
		"type": "LogEntriesPage", "uri": "%s",
		"items": [{"type": "LogEntry", "entryId": 6, "object": "https://hub.example.com/accounts/7/display", "objectType": "AccountDisplay", "objectUpdateId": 1}],
		"forthcoming": "https://hub.example.com/users/1/log?start=7"
	}`, pageURI)

	_, err := r.ProcessLogPage(ctx, testUser)
	if !errors.Is(err, ErrBrokenLogStream) {
		t.Fatalf("error = %v, want ErrBrokenLogStream", err)
	}

	rec, _ := store.Wallets().Get(ctx, testUser)
	if !rec.LogStream.IsBroken {
		t.Error("IsBroken not set after a gap")
	}
	if rec.LogStream.LatestEntryID != 4 {
		t.Errorf("cursor = %d, advanced past a gap", rec.LogStream.LatestEntryID)
	}

	// The flag is sticky: later calls fail before touching the network.
	fetchesBefore := h.calls
	if _, err := r.ProcessLogPage(ctx, testUser); !errors.Is(err, ErrBrokenLogStream) {
		t.Fatalf("error = %v, want ErrBrokenLogStream on a broken stream", err)
	}
	if h.calls != fetchesBefore {
		t.Error("broken stream still fetched the log")
	}
}

func TestProcessLogPagePlannerFailureKeepsCursor(t *testing.T) {
	h := newFakeHub()
	store := memory.NewMemoryStorage()
	r := newReconciler(h, store)
	ctx := context.Background()

	pageURI := "https://hub.example.com/users/1/log?start=5"
	objURI := "https://hub.example.com/accounts/7/display"
	putWallet(t, store, 4, pageURI)

	h.responses[pageURI] = fmt.Sprintf(`{
		"type": "LogEntriesPage", "uri": "%s",
		"items": [{"type": "LogEntry", "entryId": 5, "object": "%s", "objectType": "AccountDisplay", "objectUpdateId": 1}],
		"forthcoming": "https://hub.example.com/users/1/log?start=6"
	}`, pageURI, objURI)
	h.statuses[objURI] = http.StatusInternalServerError

	if _, err := r.ProcessLogPage(ctx, testUser); err == nil {
		t.Fatal("ProcessLogPage succeeded despite a failed object fetch")
	}

	rec, _ := store.Wallets().Get(ctx, testUser)
	if rec.LogStream.LatestEntryID != 4 {
		t.Errorf("cursor = %d, advanced past an unapplied page", rec.LogStream.LatestEntryID)
	}
	if rec.LogStream.IsBroken {
		t.Error("transient failure marked the stream broken")
	}
}

func TestCollapse(t *testing.T) {
	entry := func(id int64, uri string, typ domain.ObjectType, updateID int64, deleted bool) domain.LogEntry {
		return domain.LogEntry{
			EntryID:        id,
			ObjectURI:      uri,
			ObjectType:     typ,
			ObjectUpdateID: updateID,
			Deleted:        deleted,
		}
	}

	tests := []struct {
		name  string
		items []domain.LogEntry
		check func(t *testing.T, out []planner.UpdateInfo)
	}{
		{
			"keeps highest update id per object",
			[]domain.LogEntry{
				entry(1, "/a", domain.ObjectTypeAccountDisplay, 1, false),
				entry(2, "/b", domain.ObjectTypeAccountConfig, 4, false),
				entry(3, "/a", domain.ObjectTypeAccountDisplay, 3, false),
			},
			func(t *testing.T, out []planner.UpdateInfo) {
				if len(out) != 2 {
					t.Fatalf("got %d updates, want 2", len(out))
				}
				if out[0].ObjectURI != "/a" || out[0].UpdateID != 3 {
					t.Errorf("update 0 = %+v, want /a at id 3", out[0])
				}
			},
		},
		{
			"deletion wins",
			[]domain.LogEntry{
				entry(1, "/a", domain.ObjectTypeAccountDisplay, 5, false),
				entry(2, "/a", domain.ObjectTypeAccountDisplay, 0, true),
			},
			func(t *testing.T, out []planner.UpdateInfo) {
				if len(out) != 1 || !out[0].Deleted {
					t.Fatalf("got %+v, want a single deletion", out)
				}
			},
		},
		{
			"list membership entries are dropped",
			[]domain.LogEntry{
				entry(1, "/accounts", domain.ObjectTypeAccountsList, 2, false),
				entry(2, "/transfers", domain.ObjectTypeTransfersList, 2, false),
				entry(3, "/a", domain.ObjectTypeAccount, 1, false),
			},
			func(t *testing.T, out []planner.UpdateInfo) {
				if len(out) != 1 || out[0].ObjectType != domain.ObjectTypeAccount {
					t.Fatalf("got %+v, want only the account update", out)
				}
			},
		},
		{
			"inline data survives collapsing",
			[]domain.LogEntry{
				{EntryID: 1, ObjectURI: "/l", ObjectType: domain.ObjectTypeAccountLedger,
					ObjectUpdateID: 2, Data: json.RawMessage(`{"principal": 5}`)},
			},
			func(t *testing.T, out []planner.UpdateInfo) {
				if len(out) != 1 || len(out[0].Data) == 0 {
					t.Fatal("inline data was dropped")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, collapse(tt.items))
		})
	}
}
