package domain

import (
	"encoding/json"
	"time"
)

// LogEntry is one item of the wallet's change log. EntryID is gapless
// and 1-based; Data, when present, is a partial snapshot that can patch
// the local record without a network fetch.
type LogEntry struct {
	Type           string          `json:"type"`
	EntryID        int64           `json:"entryId"`
	AddedAt        time.Time       `json:"addedAt"`
	ObjectURI      string          `json:"object"`
	ObjectType     ObjectType      `json:"objectType"`
	ObjectUpdateID int64           `json:"objectUpdateId,omitempty"`
	Deleted        bool            `json:"deleted,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// LogEntriesPage is one page of the change log. Exactly one of Next and
// Forthcoming is set: Next while more pages exist, Forthcoming once the
// stream is caught up.
type LogEntriesPage struct {
	Type        string     `json:"type"`
	URI         string     `json:"uri"`
	Items       []LogEntry `json:"items"`
	Next        string     `json:"next,omitempty"`
	Forthcoming string     `json:"forthcoming,omitempty"`
}

// ObjectReferencesPage is one page of a finite list of object references
// (accounts list, transfers list).
type ObjectReferencesPage struct {
	Type  string            `json:"type"`
	URI   string            `json:"uri"`
	Items []ObjectReference `json:"items"`
	Next  string            `json:"next,omitempty"`
}

// LedgerEntriesPage is one page of an account ledger's entries,
// newest-first.
type LedgerEntriesPage struct {
	Type  string        `json:"type"`
	URI   string        `json:"uri"`
	Items []LedgerEntry `json:"items"`
	Next  string        `json:"next,omitempty"`
}
