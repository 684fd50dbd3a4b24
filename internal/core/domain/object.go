package domain

// ObjectType identifies the kind of a versioned server object.
type ObjectType string

const (
	ObjectTypeWallet            ObjectType = "Wallet"
	ObjectTypeCreditor          ObjectType = "Creditor"
	ObjectTypePinInfo           ObjectType = "PinInfo"
	ObjectTypeAccount           ObjectType = "Account"
	ObjectTypeAccountConfig     ObjectType = "AccountConfig"
	ObjectTypeAccountDisplay    ObjectType = "AccountDisplay"
	ObjectTypeAccountKnowledge  ObjectType = "AccountKnowledge"
	ObjectTypeAccountExchange   ObjectType = "AccountExchange"
	ObjectTypeAccountInfo       ObjectType = "AccountInfo"
	ObjectTypeAccountLedger     ObjectType = "AccountLedger"
	ObjectTypeTransfer          ObjectType = "Transfer"
	ObjectTypeCommittedTransfer ObjectType = "CommittedTransfer"
	ObjectTypeAccountsList      ObjectType = "AccountsList"
	ObjectTypeTransfersList     ObjectType = "TransfersList"
)

// Object is the closed union of canonical versioned server objects.
// Unrecognized types never make it past the canonicalizer.
type Object interface {
	// ObjectURI returns the object's absolute URI.
	ObjectURI() string

	// ObjectKind returns the object's stable type tag.
	ObjectKind() ObjectType

	// UpdateID returns the server-authoritative version counter
	// (strictly increasing, starting at 1).
	UpdateID() int64
}

// ObjectHeader carries the fields every versioned object shares.
type ObjectHeader struct {
	URI            string     `json:"uri"`
	Type           ObjectType `json:"type"`
	LatestUpdateID int64      `json:"latestUpdateId"`
}

func (h ObjectHeader) ObjectURI() string      { return h.URI }
func (h ObjectHeader) ObjectKind() ObjectType { return h.Type }
func (h ObjectHeader) UpdateID() int64        { return h.LatestUpdateID }

// PaginatedList references the first page of a finite linked list.
type PaginatedList struct {
	First     string `json:"first"`
	ItemsType string `json:"itemsType"`
}

// PaginatedStream references the first page of an endless linked stream.
type PaginatedStream struct {
	First       string `json:"first"`
	Forthcoming string `json:"forthcoming"`
	ItemsType   string `json:"itemsType"`
}

// ObjectReference is a bare URI reference to another object.
type ObjectReference struct {
	URI string `json:"uri"`
}
