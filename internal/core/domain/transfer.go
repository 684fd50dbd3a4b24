package domain

import "time"

// TransferOptions mirrors the options the transfer was initiated with.
type TransferOptions struct {
	FinalTimestamp time.Time `json:"finalTimestamp,omitzero"`
	Deadline       time.Time `json:"deadline,omitzero"`
	LocksAmount    bool      `json:"locksAmount,omitempty"`
}

// TransferError describes a server-side transfer rejection.
type TransferError struct {
	Type              string `json:"type"`
	ErrorCode         string `json:"errorCode"`
	TotalLockedAmount int64  `json:"totalLockedAmount,omitempty"`
}

// TransferResult is present once the server has concluded the transfer.
// CommittedAmount 0 means the transfer was unsuccessful.
type TransferResult struct {
	Type            string         `json:"type"`
	FinalizedAt     time.Time      `json:"finalizedAt"`
	CommittedAmount int64          `json:"committedAmount"`
	Error           *TransferError `json:"error,omitempty"`
}

// Transfer is the canonical transfer resource. The result sub-object
// can be patched from partial log entry data without a network fetch.
type Transfer struct {
	ObjectHeader
	TransferUUID string          `json:"transferUuid"`
	Recipient    ObjectReference `json:"recipient"`
	Amount       int64           `json:"amount"`
	NoteFormat   string          `json:"noteFormat"`
	Note         string          `json:"note"`
	InitiatedAt  time.Time       `json:"initiatedAt"`
	CheckupAt    time.Time       `json:"checkupAt,omitzero"`
	Options      TransferOptions `json:"options"`
	Result       *TransferResult `json:"result,omitempty"`
}

// TransferState classifies a transfer from its result.
type TransferState string

const (
	// TransferStateWaiting: no result yet, wait threshold not reached.
	TransferStateWaiting TransferState = "waiting"
	// TransferStateDelayed: no result past the wait threshold.
	TransferStateDelayed TransferState = "delayed"
	// TransferStateUnsuccessful: result with a zero committed amount.
	TransferStateUnsuccessful TransferState = "unsuccessful"
	// TransferStateSuccessful: result with a positive committed amount.
	TransferStateSuccessful TransferState = "successful"
)

// State classifies the transfer relative to now and a wait threshold.
func (t *Transfer) State(now time.Time, waitThreshold time.Duration) TransferState {
	if t.Result == nil {
		if now.After(t.InitiatedAt.Add(waitThreshold)) {
			return TransferStateDelayed
		}
		return TransferStateWaiting
	}
	if t.Result.CommittedAmount == 0 {
		return TransferStateUnsuccessful
	}
	return TransferStateSuccessful
}

// TransferRecord is the locally stored transfer plus local-only fields.
// Time is derived from InitiatedAt and perturbed on collision so that
// (UserID, Time) stays unique.
type TransferRecord struct {
	UserID         int64
	Transfer       Transfer
	Time           float64
	PaymentInfo    string
	Aborted        bool
	OriginatesHere bool
}

// TimeKey returns the initial (pre-perturbation) sort key for a transfer.
func TimeKey(initiatedAt time.Time) float64 {
	return float64(initiatedAt.UnixMicro()) / 1e6
}

// CommittedTransfer is immutable once created; its update id is always 1.
type CommittedTransfer struct {
	ObjectHeader
	Account        ObjectReference `json:"account"`
	Rationale      string          `json:"rationale,omitempty"`
	Sender         ObjectReference `json:"sender"`
	Recipient      ObjectReference `json:"recipient"`
	AcquiredAmount int64           `json:"acquiredAmount"`
	NoteFormat     string          `json:"noteFormat"`
	Note           string          `json:"note"`
	CommittedAt    time.Time       `json:"committedAt"`
}
