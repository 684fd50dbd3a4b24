package domain

import (
	"testing"
	"time"
)

func TestTransferState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	threshold := 24 * time.Hour

	tests := []struct {
		name     string
		transfer Transfer
		want     TransferState
	}{
		{
			"no result, fresh",
			Transfer{InitiatedAt: now.Add(-time.Hour)},
			TransferStateWaiting,
		},
		{
			"no result, past threshold",
			Transfer{InitiatedAt: now.Add(-25 * time.Hour)},
			TransferStateDelayed,
		},
		{
			"result with zero amount",
			Transfer{
				InitiatedAt: now.Add(-time.Hour),
				Result:      &TransferResult{FinalizedAt: now, CommittedAmount: 0},
			},
			TransferStateUnsuccessful,
		},
		{
			"result with positive amount",
			Transfer{
				InitiatedAt: now.Add(-time.Hour),
				Result:      &TransferResult{FinalizedAt: now, CommittedAmount: 1000},
			},
			TransferStateSuccessful,
		},
		{
			"old but successful",
			Transfer{
				InitiatedAt: now.Add(-100 * time.Hour),
				Result:      &TransferResult{FinalizedAt: now, CommittedAmount: 1},
			},
			TransferStateSuccessful,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.transfer.State(now, threshold); got != tt.want {
				t.Errorf("State() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTimeKey(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 500000000, time.UTC)
	got := TimeKey(at)
	want := float64(at.UnixMicro()) / 1e6
	if got != want {
		t.Errorf("TimeKey = %v, want %v", got, want)
	}
	if TimeKey(at.Add(time.Microsecond)) <= got {
		t.Error("TimeKey is not strictly increasing at microsecond resolution")
	}
}
