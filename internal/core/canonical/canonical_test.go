package canonical

import (
	"errors"
	"net/url"
	"testing"

	"github.com/vietddude/walletsync/internal/core/domain"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	if err != nil {
		t.Fatalf("Failed to parse URL %q: %v", s, err)
	}
	return u
}

func TestTagMatches(t *testing.T) {
	tests := []struct {
		name     string
		tag      string
		want     domain.ObjectType
		expected bool
	}{
		{"exact match", "Wallet", domain.ObjectTypeWallet, true},
		{"versioned match", "Wallet-v1", domain.ObjectTypeWallet, true},
		{"higher version", "Wallet-v12", domain.ObjectTypeWallet, true},
		{"wrong type", "Creditor", domain.ObjectTypeWallet, false},
		{"wrong versioned type", "Creditor-v1", domain.ObjectTypeWallet, false},
		{"prefix is not a match", "WalletExtra", domain.ObjectTypeWallet, false},
		{"missing version digits", "Wallet-v", domain.ObjectTypeWallet, false},
		{"empty tag", "", domain.ObjectTypeWallet, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TagMatches(tt.tag, tt.want); got != tt.expected {
				t.Errorf("TagMatches(%q, %q) = %v, want %v", tt.tag, tt.want, got, tt.expected)
			}
		})
	}
}

func TestMakeWalletResolvesURIs(t *testing.T) {
	base := mustURL(t, "https://hub.example.com/users/1/wallet")
	raw := []byte(`{
		"type": "Wallet-v1",
		"uri": "/users/1/wallet",
		"latestUpdateId": 3,
		"creditor": {"uri": "creditor"},
		"pinInfo": {"uri": "pin-info"},
		"accountsList": {"uri": "accounts/"},
		"transfersList": {"uri": "transfers/"},
		"createTransfer": "transfers/",
		"log": {"first": "log", "forthcoming": "log?start=124", "itemsType": "LogEntry"},
		"logLatestEntryId": 123
	}`)

	w, err := MakeWallet(base, raw)
	if err != nil {
		t.Fatalf("MakeWallet failed: %v", err)
	}
	if w.Type != domain.ObjectTypeWallet {
		t.Errorf("Type = %q, want %q", w.Type, domain.ObjectTypeWallet)
	}
	if w.URI != "https://hub.example.com/users/1/wallet" {
		t.Errorf("URI = %q, not resolved", w.URI)
	}
	if w.Creditor.URI != "https://hub.example.com/users/1/creditor" {
		t.Errorf("Creditor.URI = %q, not resolved", w.Creditor.URI)
	}
	if w.Log.Forthcoming != "https://hub.example.com/users/1/log?start=124" {
		t.Errorf("Log.Forthcoming = %q, not resolved", w.Log.Forthcoming)
	}
	if w.LogLatestEntryID != 123 {
		t.Errorf("LogLatestEntryID = %d, want 123", w.LogLatestEntryID)
	}
}

func TestDecodeObjectTypeMismatch(t *testing.T) {
	raw := []byte(`{"type": "Creditor", "uri": "/c", "latestUpdateId": 1}`)
	_, err := DecodeObject(domain.ObjectTypeWallet, nil, raw)
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("DecodeObject error = %v, want ErrProtocolViolation", err)
	}
}

func TestMakeAccountNormalizesSubObjects(t *testing.T) {
	base := mustURL(t, "https://hub.example.com/accounts/7/")
	raw := []byte(`{
		"type": "Account-v1",
		"uri": "",
		"latestUpdateId": 4,
		"debtor": "https://debtors.example.com/9",
		"config":   {"type": "AccountConfig-v1",   "uri": "config",   "latestUpdateId": 2, "account": {"uri": ""}},
		"display":  {"type": "AccountDisplay-v1",  "uri": "display",  "latestUpdateId": 1, "account": {"uri": ""}, "amountDivisor": 100},
		"knowledge":{"type": "AccountKnowledge-v1","uri": "knowledge","latestUpdateId": 1, "account": {"uri": ""}},
		"exchange": {"type": "AccountExchange-v1", "uri": "exchange", "latestUpdateId": 1, "account": {"uri": ""}},
		"info":     {"type": "AccountInfo-v1",     "uri": "info",     "latestUpdateId": 1, "account": {"uri": ""}},
		"ledger":   {"type": "AccountLedger-v1",   "uri": "ledger",   "latestUpdateId": 5, "account": {"uri": ""},
		             "principal": 1000, "nextEntryId": 43, "entries": {"first": "entries?prev=43", "itemsType": "LedgerEntry"}}
	}`)

	a, err := MakeAccount(base, raw)
	if err != nil {
		t.Fatalf("MakeAccount failed: %v", err)
	}

	subs := a.SubObjects()
	if len(subs) != 6 {
		t.Fatalf("SubObjects returned %d objects, want 6", len(subs))
	}
	wantTypes := []domain.ObjectType{
		domain.ObjectTypeAccountConfig,
		domain.ObjectTypeAccountDisplay,
		domain.ObjectTypeAccountKnowledge,
		domain.ObjectTypeAccountExchange,
		domain.ObjectTypeAccountInfo,
		domain.ObjectTypeAccountLedger,
	}
	for i, sub := range subs {
		if sub.ObjectKind() != wantTypes[i] {
			t.Errorf("sub %d: kind = %q, want %q", i, sub.ObjectKind(), wantTypes[i])
		}
		if sub.ObjectURI() == "" || sub.ObjectURI()[0] == '/' {
			t.Errorf("sub %d: URI %q not resolved", i, sub.ObjectURI())
		}
	}
	if a.Ledger.Entries.First != "https://hub.example.com/accounts/7/entries?prev=43" {
		t.Errorf("Ledger.Entries.First = %q, not resolved", a.Ledger.Entries.First)
	}
}

func TestMakeAccountSubObjectTypeMismatch(t *testing.T) {
	raw := []byte(`{
		"type": "Account",
		"uri": "/accounts/7/",
		"latestUpdateId": 4,
		"config":   {"type": "AccountDisplay", "uri": "/accounts/7/config", "latestUpdateId": 2, "account": {"uri": "/accounts/7/"}},
		"display":  {"type": "AccountDisplay", "uri": "/accounts/7/display", "latestUpdateId": 1, "account": {"uri": "/accounts/7/"}},
		"knowledge":{"type": "AccountKnowledge", "uri": "/accounts/7/knowledge", "latestUpdateId": 1, "account": {"uri": "/accounts/7/"}},
		"exchange": {"type": "AccountExchange", "uri": "/accounts/7/exchange", "latestUpdateId": 1, "account": {"uri": "/accounts/7/"}},
		"info":     {"type": "AccountInfo", "uri": "/accounts/7/info", "latestUpdateId": 1, "account": {"uri": "/accounts/7/"}},
		"ledger":   {"type": "AccountLedger", "uri": "/accounts/7/ledger", "latestUpdateId": 1, "account": {"uri": "/accounts/7/"}, "entries": {"first": ""}}
	}`)

	_, err := MakeAccount(nil, raw)
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("MakeAccount error = %v, want ErrProtocolViolation", err)
	}
}

func TestMakeLogPage(t *testing.T) {
	base := mustURL(t, "https://hub.example.com/users/1/log")
	raw := []byte(`{
		"type": "LogEntriesPage",
		"uri": "log?start=5",
		"items": [
			{"type": "LogEntry", "entryId": 5, "object": "accounts/7/", "objectType": "Account", "objectUpdateId": 2},
			{"type": "LogEntry", "entryId": 6, "object": "accounts/7/ledger", "objectType": "AccountLedger", "objectUpdateId": 3,
			 "data": {"principal": 500, "nextEntryId": 10}}
		],
		"forthcoming": "log?start=7"
	}`)

	p, err := MakeLogPage(base, raw)
	if err != nil {
		t.Fatalf("MakeLogPage failed: %v", err)
	}
	if len(p.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(p.Items))
	}
	if p.Items[0].ObjectURI != "https://hub.example.com/users/1/accounts/7/" {
		t.Errorf("item 0 object URI = %q, not resolved", p.Items[0].ObjectURI)
	}
	if p.Next != "" {
		t.Errorf("Next = %q, want empty", p.Next)
	}
	if p.Forthcoming != "https://hub.example.com/users/1/log?start=7" {
		t.Errorf("Forthcoming = %q, not resolved", p.Forthcoming)
	}
	if len(p.Items[1].Data) == 0 {
		t.Error("item 1 data was dropped")
	}
}

func TestMakeLogPageWrongType(t *testing.T) {
	raw := []byte(`{"type": "ObjectReferencesPage", "uri": "/log", "items": []}`)
	if _, err := MakeLogPage(nil, raw); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("MakeLogPage error = %v, want ErrProtocolViolation", err)
	}
}
