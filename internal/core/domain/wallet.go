package domain

import "time"

// Wallet is the canonical remote wallet resource: the entry point to a
// user's account state on the hub.
type Wallet struct {
	ObjectHeader
	Creditor         ObjectReference `json:"creditor"`
	PinInfo          ObjectReference `json:"pinInfo"`
	AccountsList     ObjectReference `json:"accountsList"`
	TransfersList    ObjectReference `json:"transfersList"`
	CreateTransfer   string          `json:"createTransfer"`
	Log              PaginatedStream `json:"log"`
	LogLatestEntryID int64           `json:"logLatestEntryId"`
	LogRetentionDays int64           `json:"logRetentionDays"`
	RequirePin       bool            `json:"requirePin"`
}

// Creditor is the canonical creditor resource.
type Creditor struct {
	ObjectHeader
	Wallet    ObjectReference `json:"wallet"`
	CreatedAt time.Time       `json:"createdAt"`
}

// PinInfo carries the wallet's PIN protection status.
type PinInfo struct {
	ObjectHeader
	Wallet ObjectReference `json:"wallet"`
	Status string          `json:"status"`
}

// LogStream is the per-user sync position over the wallet's change log.
// LatestEntryID increases by exactly one per processed log entry.
// IsBroken is sticky: once set it is cleared only by a full resync.
type LogStream struct {
	LatestEntryID   int64
	Forthcoming     string
	LoadedTransfers bool
	IsBroken        bool
	SyncedAt        *time.Time
}

// WalletRecord is the locally stored wallet plus the sync position.
// Created when a user is provisioned; the log stream sub-record is
// mutated exclusively by the reconciler under a store transaction.
type WalletRecord struct {
	UserID    int64
	Wallet    Wallet
	LogStream LogStream
}
