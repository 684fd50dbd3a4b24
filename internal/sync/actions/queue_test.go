package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/walletsync/internal/core/config"
	"github.com/vietddude/walletsync/internal/core/domain"
	"github.com/vietddude/walletsync/internal/infra/storage/memory"
)

const testUser int64 = 1

func testConfig() config.SyncConfig {
	return config.SyncConfig{
		TransferWaitThreshold: 24 * time.Hour,
		TransferDeletionDelay: 15 * 24 * time.Hour,
		MinDeletionDelay:      6 * 24 * time.Hour,
		MaxProcessingDelay:    10 * time.Minute,
	}
}

func createAction(t *testing.T, q *Queue) *domain.ActionRecord {
	t.Helper()
	a := &domain.ActionRecord{
		UserID: testUser,
		Kind:   domain.ActionKindCreateTransfer,
		CreateTransfer: &domain.CreateTransferData{
			TransferUUID: "uuid-1",
			Recipient:    domain.ObjectReference{URI: "https://hub.example.com/accounts/9/"},
			Amount:       1000,
		},
	}
	if err := q.CreateActionRecord(context.Background(), a); err != nil {
		t.Fatalf("CreateActionRecord failed: %v", err)
	}
	return a
}

func TestCreateAssignsID(t *testing.T) {
	q := NewQueue(memory.NewMemoryStorage(), testConfig(), nil)
	a := createAction(t, q)
	if a.ActionID == 0 {
		t.Error("ActionID not assigned")
	}
	if a.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}
}

func TestReplaceActionRecord(t *testing.T) {
	store := memory.NewMemoryStorage()
	q := NewQueue(store, testConfig(), nil)
	ctx := context.Background()

	created := createAction(t, q)
	original, err := store.Actions().Get(ctx, testUser, created.ActionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	replacement := *original
	replacement.CreateTransfer = &domain.CreateTransferData{
		TransferUUID: original.CreateTransfer.TransferUUID,
		Recipient:    original.CreateTransfer.Recipient,
		Amount:       2000,
	}
	if err := q.ReplaceActionRecord(ctx, original, &replacement); err != nil {
		t.Fatalf("ReplaceActionRecord failed: %v", err)
	}

	got, _ := store.Actions().Get(ctx, testUser, created.ActionID)
	if got.CreateTransfer.Amount != 2000 {
		t.Errorf("Amount = %d, replacement not applied", got.CreateTransfer.Amount)
	}
}

func TestReplaceFreshlyCreatedRecord(t *testing.T) {
	store := memory.NewMemoryStorage()
	q := NewQueue(store, testConfig(), nil)
	ctx := context.Background()

	// The caller's own record from CreateActionRecord is a valid
	// snapshot: its CreatedAt still carries wall-clock internals the
	// stored copy lost, which must not count as a conflicting edit.
	created := createAction(t, q)
	if err := q.ReplaceActionRecord(ctx, created, nil); err != nil {
		t.Fatalf("ReplaceActionRecord of an unmodified record failed: %v", err)
	}

	if got, _ := store.Actions().Get(ctx, testUser, created.ActionID); got != nil {
		t.Error("record not removed")
	}
}

func TestReplaceDetectsConcurrentEdit(t *testing.T) {
	store := memory.NewMemoryStorage()
	q := NewQueue(store, testConfig(), nil)
	ctx := context.Background()

	created := createAction(t, q)
	snapshot, _ := store.Actions().Get(ctx, testUser, created.ActionID)

	// A concurrent edit happens after the caller took its snapshot.
	concurrent, _ := store.Actions().Get(ctx, testUser, created.ActionID)
	concurrent.Execution = &domain.ExecutionState{StartedAt: time.Now()}
	if err := store.Actions().Update(ctx, concurrent); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	replacement := *snapshot
	replacement.CreateTransfer = &domain.CreateTransferData{TransferUUID: "uuid-1", Amount: 9999}
	err := q.ReplaceActionRecord(ctx, snapshot, &replacement)
	if !errors.Is(err, ErrRecordDoesNotExist) {
		t.Fatalf("error = %v, want ErrRecordDoesNotExist", err)
	}

	// The store keeps the concurrent edit, not the stale replacement.
	got, _ := store.Actions().Get(ctx, testUser, created.ActionID)
	if got.Execution == nil {
		t.Error("concurrent edit was clobbered")
	}
	if got.CreateTransfer.Amount == 9999 {
		t.Error("stale replacement was applied")
	}
}

func TestReplaceMissingRecord(t *testing.T) {
	store := memory.NewMemoryStorage()
	q := NewQueue(store, testConfig(), nil)
	ctx := context.Background()

	created := createAction(t, q)
	snapshot, _ := store.Actions().Get(ctx, testUser, created.ActionID)
	if err := store.Actions().Delete(ctx, testUser, created.ActionID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if err := q.ReplaceActionRecord(ctx, snapshot, snapshot); !errors.Is(err, ErrRecordDoesNotExist) {
		t.Fatalf("error = %v, want ErrRecordDoesNotExist for a vanished record", err)
	}
}

func TestRemoveAbortActionMarksTransfer(t *testing.T) {
	store := memory.NewMemoryStorage()
	q := NewQueue(store, testConfig(), nil)
	ctx := context.Background()

	uri := "https://hub.example.com/transfers/t1"
	finalized := time.Now()
	rec := &domain.TransferRecord{
		UserID: testUser,
		Transfer: domain.Transfer{
			ObjectHeader: domain.ObjectHeader{URI: uri, Type: domain.ObjectTypeTransfer, LatestUpdateID: 2},
			InitiatedAt:  finalized.Add(-time.Hour),
			Result: &domain.TransferResult{
				Type:            "TransferResult",
				FinalizedAt:     finalized,
				CommittedAmount: 0,
			},
		},
		Time: domain.TimeKey(finalized.Add(-time.Hour)),
	}
	if err := store.Transfers().Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	abort := &domain.ActionRecord{
		UserID:        testUser,
		Kind:          domain.ActionKindAbortTransfer,
		CreatedAt:     time.Now(),
		AbortTransfer: &domain.AbortTransferData{TransferURI: uri, Transfer: rec.Transfer},
	}
	if err := store.Actions().Create(ctx, abort); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Dismissing the abort action acknowledges the failure: the
	// transfer is marked aborted and scheduled for deletion.
	if err := q.RemoveActionRecord(ctx, abort); err != nil {
		t.Fatalf("RemoveActionRecord failed: %v", err)
	}

	if a, _ := store.Actions().Get(ctx, testUser, abort.ActionID); a != nil {
		t.Error("abort action survived removal")
	}
	got, _ := store.Transfers().GetByURI(ctx, testUser, uri)
	if !got.Aborted {
		t.Error("transfer not marked aborted")
	}
	tasks, _ := store.Tasks().DueBefore(ctx, finalized.Add(16*24*time.Hour), 10)
	if len(tasks) != 1 {
		t.Fatalf("got %d delete tasks, want 1", len(tasks))
	}
	want := finalized.Add(15 * 24 * time.Hour)
	if !tasks[0].ScheduledFor.Equal(want) {
		t.Errorf("task scheduled for %v, want finalization + retention", tasks[0].ScheduledFor)
	}
}

func TestRemoveAbortActionSuccessWins(t *testing.T) {
	store := memory.NewMemoryStorage()
	q := NewQueue(store, testConfig(), nil)
	ctx := context.Background()

	uri := "https://hub.example.com/transfers/t1"
	rec := &domain.TransferRecord{
		UserID: testUser,
		Transfer: domain.Transfer{
			ObjectHeader: domain.ObjectHeader{URI: uri, Type: domain.ObjectTypeTransfer, LatestUpdateID: 2},
			InitiatedAt:  time.Now().Add(-time.Hour),
			Result: &domain.TransferResult{
				Type:            "TransferResult",
				FinalizedAt:     time.Now(),
				CommittedAmount: 1000,
			},
		},
		Time: domain.TimeKey(time.Now().Add(-time.Hour)),
	}
	if err := store.Transfers().Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	abort := &domain.ActionRecord{
		UserID:        testUser,
		Kind:          domain.ActionKindAbortTransfer,
		CreatedAt:     time.Now(),
		AbortTransfer: &domain.AbortTransferData{TransferURI: uri, Transfer: rec.Transfer},
	}
	if err := store.Actions().Create(ctx, abort); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := q.RemoveActionRecord(ctx, abort); err != nil {
		t.Fatalf("RemoveActionRecord failed: %v", err)
	}

	got, _ := store.Transfers().GetByURI(ctx, testUser, uri)
	if got.Aborted {
		t.Error("successful transfer was marked aborted")
	}
}

func TestStatus(t *testing.T) {
	q := NewQueue(memory.NewMemoryStorage(), testConfig(), nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := now.Add(d)
		return &ts
	}

	tests := []struct {
		name string
		exec *domain.ExecutionState
		want domain.ActionStatus
	}{
		{"no execution state", nil, domain.ActionStatusDraft},
		{
			"started, not sent",
			&domain.ExecutionState{StartedAt: now.Add(-time.Minute)},
			domain.ActionStatusNotSent,
		},
		{
			"sent, awaiting confirmation",
			&domain.ExecutionState{
				StartedAt:           now.Add(-time.Minute),
				UnresolvedRequestAt: at(-time.Minute),
			},
			domain.ActionStatusNotConfirmed,
		},
		{
			"sent, confirmation can no longer arrive",
			&domain.ExecutionState{
				StartedAt:           now.Add(-7 * 24 * time.Hour),
				UnresolvedRequestAt: at(-7 * 24 * time.Hour),
			},
			domain.ActionStatusTimedOut,
		},
		{
			"resolved ok",
			&domain.ExecutionState{
				StartedAt: now.Add(-time.Minute),
				Result:    &domain.ExecutionResult{Ok: true, TransferURI: "/t/1"},
			},
			domain.ActionStatusInitiated,
		},
		{
			"resolved with error",
			&domain.ExecutionState{
				StartedAt: now.Add(-time.Minute),
				Result:    &domain.ExecutionResult{Ok: false, Error: &domain.TransferError{Type: "TransferError", ErrorCode: "REJECTED"}},
			},
			domain.ActionStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &domain.ActionRecord{Execution: tt.exec}
			if got := q.Status(a, now); got != tt.want {
				t.Errorf("Status = %q, want %q", got, tt.want)
			}
		})
	}
}
