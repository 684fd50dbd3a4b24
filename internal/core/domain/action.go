package domain

import "time"

// ActionKind identifies the kind of a queued user action.
type ActionKind string

const (
	ActionKindCreateTransfer ActionKind = "CreateTransfer"
	ActionKindAbortTransfer  ActionKind = "AbortTransfer"
)

// ExecutionState tracks an action's progress against the server.
// UnresolvedRequestAt is set when a request was sent but its outcome is
// unknown (timeout, connection reset) and not yet reconciled.
type ExecutionState struct {
	StartedAt           time.Time        `json:"startedAt"`
	UnresolvedRequestAt *time.Time       `json:"unresolvedRequestAt,omitempty"`
	Result              *ExecutionResult `json:"result,omitempty"`
}

// ExecutionResult records the confirmed outcome of an action's request.
type ExecutionResult struct {
	Ok          bool           `json:"ok"`
	TransferURI string         `json:"transferUri,omitempty"`
	Error       *TransferError `json:"error,omitempty"`
}

// ActionRecord is a locally queued user intent awaiting or reflecting
// server confirmation. Exactly one of CreateTransfer and AbortTransfer
// is set, per Kind.
type ActionRecord struct {
	ActionID  int64           `json:"actionId"`
	UserID    int64           `json:"userId"`
	Kind      ActionKind      `json:"kind"`
	CreatedAt time.Time       `json:"createdAt"`
	Execution *ExecutionState `json:"execution,omitempty"`

	CreateTransfer *CreateTransferData `json:"createTransfer,omitempty"`
	AbortTransfer  *AbortTransferData  `json:"abortTransfer,omitempty"`
}

// CreateTransferData is the payload of a user-authored create-transfer
// action. TransferUUID is client-generated and is what lets the engine
// match the action with the server-created transfer later.
type CreateTransferData struct {
	TransferUUID string          `json:"transferUuid"`
	Recipient    ObjectReference `json:"recipient"`
	Amount       int64           `json:"amount"`
	NoteFormat   string          `json:"noteFormat"`
	Note         string          `json:"note"`
}

// AbortTransferData is the payload of a system-generated abort action
// attached to an unsuccessful or delayed transfer.
type AbortTransferData struct {
	TransferURI string   `json:"transferUri"`
	Transfer    Transfer `json:"transfer"`
}

// ActionStatus is derived from the execution state, never stored.
type ActionStatus string

const (
	ActionStatusDraft        ActionStatus = "Draft"
	ActionStatusNotSent      ActionStatus = "Not sent"
	ActionStatusNotConfirmed ActionStatus = "Not confirmed"
	ActionStatusInitiated    ActionStatus = "Initiated"
	ActionStatusFailed       ActionStatus = "Failed"
	ActionStatusTimedOut     ActionStatus = "Timed out"
)
