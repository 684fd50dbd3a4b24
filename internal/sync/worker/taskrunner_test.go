package worker

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/walletsync/internal/core/config"
	"github.com/vietddude/walletsync/internal/core/domain"
	"github.com/vietddude/walletsync/internal/infra/storage/memory"
	"github.com/vietddude/walletsync/internal/sync/transfers"
)

const testUser int64 = 1

func newRunner(store *memory.MemoryStorage) *Runner {
	cfg := config.SyncConfig{
		TransferWaitThreshold: 24 * time.Hour,
		TransferDeletionDelay: 15 * 24 * time.Hour,
		MinDeletionDelay:      6 * 24 * time.Hour,
		TaskInterval:          time.Minute,
	}
	return NewRunner(store, transfers.NewManager(cfg, nil, nil), cfg, nil)
}

func putTransfer(t *testing.T, store *memory.MemoryStorage, uri string, committed int64) {
	t.Helper()
	initiated := time.Now().Add(-30 * 24 * time.Hour)
	rec := &domain.TransferRecord{
		UserID: testUser,
		Transfer: domain.Transfer{
			ObjectHeader: domain.ObjectHeader{URI: uri, Type: domain.ObjectTypeTransfer, LatestUpdateID: 2},
			InitiatedAt:  initiated,
			Result: &domain.TransferResult{
				Type:            "TransferResult",
				FinalizedAt:     initiated.Add(time.Hour),
				CommittedAmount: committed,
			},
		},
		Time: domain.TimeKey(initiated),
	}
	if err := store.Transfers().Put(context.Background(), rec); err != nil {
		t.Fatalf("Put transfer failed: %v", err)
	}
}

func TestRunDueEvictsTransfer(t *testing.T) {
	store := memory.NewMemoryStorage()
	r := newRunner(store)
	ctx := context.Background()

	uri := "https://hub.example.com/transfers/t1"
	putTransfer(t, store, uri, 1000)
	task := &domain.DeleteTransferTask{
		UserID:       testUser,
		TransferURI:  uri,
		ScheduledFor: time.Now().Add(-time.Hour),
	}
	if err := store.Tasks().Upsert(ctx, task); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	r.RunDue(ctx, time.Now())

	if rec, _ := store.Transfers().GetByURI(ctx, testUser, uri); rec != nil {
		t.Error("due transfer was not evicted")
	}
	tasks, _ := store.Tasks().DueBefore(ctx, time.Now().Add(time.Hour), 10)
	if len(tasks) != 0 {
		t.Errorf("%d tasks left after the run, want 0", len(tasks))
	}
}

func TestRunDueSkipsFutureTasks(t *testing.T) {
	store := memory.NewMemoryStorage()
	r := newRunner(store)
	ctx := context.Background()

	uri := "https://hub.example.com/transfers/t1"
	putTransfer(t, store, uri, 1000)
	task := &domain.DeleteTransferTask{
		UserID:       testUser,
		TransferURI:  uri,
		ScheduledFor: time.Now().Add(time.Hour),
	}
	if err := store.Tasks().Upsert(ctx, task); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	r.RunDue(ctx, time.Now())

	if rec, _ := store.Transfers().GetByURI(ctx, testUser, uri); rec == nil {
		t.Error("transfer evicted before its scheduled time")
	}
}

func TestRunDueConsumesOrphanTask(t *testing.T) {
	store := memory.NewMemoryStorage()
	r := newRunner(store)
	ctx := context.Background()

	// The transfer is already gone; the task must still be consumed.
	task := &domain.DeleteTransferTask{
		UserID:       testUser,
		TransferURI:  "https://hub.example.com/transfers/gone",
		ScheduledFor: time.Now().Add(-time.Hour),
	}
	if err := store.Tasks().Upsert(ctx, task); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	r.RunDue(ctx, time.Now())

	tasks, _ := store.Tasks().DueBefore(ctx, time.Now().Add(time.Hour), 10)
	if len(tasks) != 0 {
		t.Errorf("orphan task not consumed: %d left", len(tasks))
	}
}
