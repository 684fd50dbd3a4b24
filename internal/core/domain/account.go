package domain

import "time"

// Account is a composite resource. The six sub-objects below arrive
// embedded in the account payload but are stored independently, each
// carrying its own latestUpdateId. Deleting an account cascades to all
// six plus its ledger entries and committed transfers.
type Account struct {
	ObjectHeader
	CreatedAt time.Time        `json:"createdAt"`
	DebtorURI string           `json:"debtor"`
	Config    AccountConfig    `json:"config"`
	Display   AccountDisplay   `json:"display"`
	Knowledge AccountKnowledge `json:"knowledge"`
	Exchange  AccountExchange  `json:"exchange"`
	Info      AccountInfo      `json:"info"`
	Ledger    AccountLedger    `json:"ledger"`
}

// SubObjects returns the six embedded sub-objects in a fixed order.
func (a *Account) SubObjects() []Object {
	return []Object{&a.Config, &a.Display, &a.Knowledge, &a.Exchange, &a.Info, &a.Ledger}
}

type AccountConfig struct {
	ObjectHeader
	Account              ObjectReference `json:"account"`
	NegligibleAmount     float64         `json:"negligibleAmount"`
	ScheduledForDeletion bool            `json:"scheduledForDeletion"`
	AllowUnsafeDeletion  bool            `json:"allowUnsafeDeletion"`
}

type AccountDisplay struct {
	ObjectHeader
	Account           ObjectReference `json:"account"`
	DebtorName        string          `json:"debtorName,omitempty"`
	Unit              string          `json:"unit,omitempty"`
	AmountDivisor     float64         `json:"amountDivisor"`
	DecimalPlaces     int32           `json:"decimalPlaces"`
	KnownDebtor       bool            `json:"knownDebtor"`
	UseLargestDivisor bool            `json:"useLargestDivisor,omitempty"`
}

type AccountKnowledge struct {
	ObjectHeader
	Account ObjectReference `json:"account"`
	// Free-form knowledge document; compared and stored opaquely.
	Data map[string]any `json:"data,omitempty"`
}

type AccountExchange struct {
	ObjectHeader
	Account      ObjectReference `json:"account"`
	Policy       string          `json:"policy,omitempty"`
	MinPrincipal int64           `json:"minPrincipal"`
	MaxPrincipal int64           `json:"maxPrincipal"`
}

type AccountInfo struct {
	ObjectHeader
	Account      ObjectReference `json:"account"`
	IdentityURI  string          `json:"identity,omitempty"`
	InterestRate float64         `json:"interestRate"`
	SafeToDelete bool            `json:"safeToDelete"`
}

// AccountLedger can be patched from partial log entry data
// (principal, nextEntryId, firstPage) without a network fetch.
type AccountLedger struct {
	ObjectHeader
	Account     ObjectReference `json:"account"`
	Principal   int64           `json:"principal"`
	InterestAt  time.Time       `json:"interestAt,omitzero"`
	NextEntryID int64           `json:"nextEntryId"`
	Entries     PaginatedList   `json:"entries"`
}

// LedgerEntry is an immutable item of an account ledger. Entries are
// listed newest-first; EntryID decreases by one along a fully
// contiguous walk.
type LedgerEntry struct {
	Type           string          `json:"type"`
	Ledger         ObjectReference `json:"ledger"`
	EntryID        int64           `json:"entryId"`
	AddedAt        time.Time       `json:"addedAt"`
	Principal      int64           `json:"principal"`
	AcquiredAmount int64           `json:"acquiredAmount"`
	// Optional reference to the committed transfer that caused the entry.
	Transfer *ObjectReference `json:"transfer,omitempty"`
}

// LedgerEntryRecord is a stored ledger entry keyed by (userID, ledgerURI, entryID).
type LedgerEntryRecord struct {
	UserID int64
	Entry  LedgerEntry
}

// AccountRecord is a locally stored account sub-object or account itself.
type AccountRecord struct {
	UserID int64
	Object Object
}
