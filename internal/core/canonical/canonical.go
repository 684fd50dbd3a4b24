// Package canonical turns raw hub payloads into canonical,
// version-normalized domain objects.
//
// Every payload carries a type tag matching `TypeName` optionally
// suffixed `-v<digits>`. Canonicalization validates the tag against the
// expected type, rewrites it to the stable base name, and resolves
// embedded relative URIs against the URL the payload was fetched from.
package canonical

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/vietddude/walletsync/internal/core/domain"
)

// ErrProtocolViolation is returned when a payload's type tag does not
// match the expected object type. Fatal, never silently coerced.
var ErrProtocolViolation = errors.New("protocol violation")

var typeTagPattern = regexp.MustCompile(`^([A-Za-z]+)(?:-v[0-9]+)?$`)

// TagMatches reports whether a raw type tag denotes the wanted type,
// tolerating a -v<digits> version suffix.
func TagMatches(tag string, want domain.ObjectType) bool {
	m := typeTagPattern.FindStringSubmatch(tag)
	return m != nil && m[1] == string(want)
}

// Resolve rewrites a possibly relative URI to an absolute one. A nil
// base leaves the URI untouched (already canonical).
func Resolve(base *url.URL, uri string) string {
	if base == nil || uri == "" {
		return uri
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return base.ResolveReference(ref).String()
}

func resolveRef(base *url.URL, ref *domain.ObjectReference) {
	ref.URI = Resolve(base, ref.URI)
}

func normalizeHeader(base *url.URL, h *domain.ObjectHeader, want domain.ObjectType) error {
	if !TagMatches(string(h.Type), want) {
		return fmt.Errorf("%w: expected type %q, got %q", ErrProtocolViolation, want, h.Type)
	}
	h.Type = want
	h.URI = Resolve(base, h.URI)
	return nil
}

// DecodeObject decodes a raw payload into the canonical object of the
// expected type. base is the final URL the payload was fetched from and
// may be nil for already-canonical (stored) payloads.
func DecodeObject(expected domain.ObjectType, base *url.URL, raw []byte) (domain.Object, error) {
	switch expected {
	case domain.ObjectTypeWallet:
		return MakeWallet(base, raw)
	case domain.ObjectTypeCreditor:
		return MakeCreditor(base, raw)
	case domain.ObjectTypePinInfo:
		return MakePinInfo(base, raw)
	case domain.ObjectTypeAccount:
		return MakeAccount(base, raw)
	case domain.ObjectTypeAccountConfig:
		return decodeSub[domain.AccountConfig](base, raw, expected)
	case domain.ObjectTypeAccountDisplay:
		return decodeSub[domain.AccountDisplay](base, raw, expected)
	case domain.ObjectTypeAccountKnowledge:
		return decodeSub[domain.AccountKnowledge](base, raw, expected)
	case domain.ObjectTypeAccountExchange:
		return decodeSub[domain.AccountExchange](base, raw, expected)
	case domain.ObjectTypeAccountInfo:
		return decodeSub[domain.AccountInfo](base, raw, expected)
	case domain.ObjectTypeAccountLedger:
		return MakeAccountLedger(base, raw)
	case domain.ObjectTypeTransfer:
		return MakeTransfer(base, raw)
	case domain.ObjectTypeCommittedTransfer:
		return MakeCommittedTransfer(base, raw)
	default:
		return nil, fmt.Errorf("%w: no canonical form for type %q", ErrProtocolViolation, expected)
	}
}

type subObject interface {
	domain.AccountConfig | domain.AccountDisplay | domain.AccountKnowledge |
		domain.AccountExchange | domain.AccountInfo
}

func decodeSub[T subObject](base *url.URL, raw []byte, want domain.ObjectType) (domain.Object, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", want, err)
	}
	obj := any(&v)
	switch o := obj.(type) {
	case *domain.AccountConfig:
		if err := normalizeHeader(base, &o.ObjectHeader, want); err != nil {
			return nil, err
		}
		resolveRef(base, &o.Account)
	case *domain.AccountDisplay:
		if err := normalizeHeader(base, &o.ObjectHeader, want); err != nil {
			return nil, err
		}
		resolveRef(base, &o.Account)
	case *domain.AccountKnowledge:
		if err := normalizeHeader(base, &o.ObjectHeader, want); err != nil {
			return nil, err
		}
		resolveRef(base, &o.Account)
	case *domain.AccountExchange:
		if err := normalizeHeader(base, &o.ObjectHeader, want); err != nil {
			return nil, err
		}
		resolveRef(base, &o.Account)
	case *domain.AccountInfo:
		if err := normalizeHeader(base, &o.ObjectHeader, want); err != nil {
			return nil, err
		}
		resolveRef(base, &o.Account)
	}
	return obj.(domain.Object), nil
}

// MakeWallet canonicalizes a wallet payload.
func MakeWallet(base *url.URL, raw []byte) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to decode wallet: %w", err)
	}
	if err := normalizeHeader(base, &w.ObjectHeader, domain.ObjectTypeWallet); err != nil {
		return nil, err
	}
	resolveRef(base, &w.Creditor)
	resolveRef(base, &w.PinInfo)
	resolveRef(base, &w.AccountsList)
	resolveRef(base, &w.TransfersList)
	w.CreateTransfer = Resolve(base, w.CreateTransfer)
	w.Log.First = Resolve(base, w.Log.First)
	w.Log.Forthcoming = Resolve(base, w.Log.Forthcoming)
	return &w, nil
}

// MakeCreditor canonicalizes a creditor payload.
func MakeCreditor(base *url.URL, raw []byte) (*domain.Creditor, error) {
	var c domain.Creditor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to decode creditor: %w", err)
	}
	if err := normalizeHeader(base, &c.ObjectHeader, domain.ObjectTypeCreditor); err != nil {
		return nil, err
	}
	resolveRef(base, &c.Wallet)
	return &c, nil
}

// MakePinInfo canonicalizes a PIN-info payload.
func MakePinInfo(base *url.URL, raw []byte) (*domain.PinInfo, error) {
	var p domain.PinInfo
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode pin info: %w", err)
	}
	if err := normalizeHeader(base, &p.ObjectHeader, domain.ObjectTypePinInfo); err != nil {
		return nil, err
	}
	resolveRef(base, &p.Wallet)
	return &p, nil
}

// MakeAccount canonicalizes an account payload including its six
// embedded sub-objects.
func MakeAccount(base *url.URL, raw []byte) (*domain.Account, error) {
	var a domain.Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	if err := normalizeHeader(base, &a.ObjectHeader, domain.ObjectTypeAccount); err != nil {
		return nil, err
	}
	a.DebtorURI = Resolve(base, a.DebtorURI)

	subTypes := []domain.ObjectType{
		domain.ObjectTypeAccountConfig,
		domain.ObjectTypeAccountDisplay,
		domain.ObjectTypeAccountKnowledge,
		domain.ObjectTypeAccountExchange,
		domain.ObjectTypeAccountInfo,
		domain.ObjectTypeAccountLedger,
	}
	headers := []*domain.ObjectHeader{
		&a.Config.ObjectHeader,
		&a.Display.ObjectHeader,
		&a.Knowledge.ObjectHeader,
		&a.Exchange.ObjectHeader,
		&a.Info.ObjectHeader,
		&a.Ledger.ObjectHeader,
	}
	refs := []*domain.ObjectReference{
		&a.Config.Account,
		&a.Display.Account,
		&a.Knowledge.Account,
		&a.Exchange.Account,
		&a.Info.Account,
		&a.Ledger.Account,
	}
	for i, h := range headers {
		if err := normalizeHeader(base, h, subTypes[i]); err != nil {
			return nil, err
		}
		resolveRef(base, refs[i])
	}
	a.Ledger.Entries.First = Resolve(base, a.Ledger.Entries.First)
	return &a, nil
}

// MakeAccountLedger canonicalizes a standalone account ledger payload.
func MakeAccountLedger(base *url.URL, raw []byte) (*domain.AccountLedger, error) {
	var l domain.AccountLedger
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("failed to decode account ledger: %w", err)
	}
	if err := normalizeHeader(base, &l.ObjectHeader, domain.ObjectTypeAccountLedger); err != nil {
		return nil, err
	}
	resolveRef(base, &l.Account)
	l.Entries.First = Resolve(base, l.Entries.First)
	return &l, nil
}

// MakeTransfer canonicalizes a transfer payload.
func MakeTransfer(base *url.URL, raw []byte) (*domain.Transfer, error) {
	var t domain.Transfer
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to decode transfer: %w", err)
	}
	if err := normalizeHeader(base, &t.ObjectHeader, domain.ObjectTypeTransfer); err != nil {
		return nil, err
	}
	resolveRef(base, &t.Recipient)
	return &t, nil
}

// MakeCommittedTransfer canonicalizes a committed transfer payload.
func MakeCommittedTransfer(base *url.URL, raw []byte) (*domain.CommittedTransfer, error) {
	var c domain.CommittedTransfer
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to decode committed transfer: %w", err)
	}
	if err := normalizeHeader(base, &c.ObjectHeader, domain.ObjectTypeCommittedTransfer); err != nil {
		return nil, err
	}
	resolveRef(base, &c.Account)
	resolveRef(base, &c.Sender)
	resolveRef(base, &c.Recipient)
	return &c, nil
}

// MakeLogPage canonicalizes a log entries page.
func MakeLogPage(base *url.URL, raw []byte) (*domain.LogEntriesPage, error) {
	var p domain.LogEntriesPage
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode log page: %w", err)
	}
	if !TagMatches(p.Type, "LogEntriesPage") {
		return nil, fmt.Errorf("%w: expected type %q, got %q", ErrProtocolViolation, "LogEntriesPage", p.Type)
	}
	p.URI = Resolve(base, p.URI)
	p.Next = Resolve(base, p.Next)
	p.Forthcoming = Resolve(base, p.Forthcoming)
	for i := range p.Items {
		p.Items[i].ObjectURI = Resolve(base, p.Items[i].ObjectURI)
	}
	return &p, nil
}

// MakeReferencesPage canonicalizes an object references page.
func MakeReferencesPage(base *url.URL, raw []byte) (*domain.ObjectReferencesPage, error) {
	var p domain.ObjectReferencesPage
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode references page: %w", err)
	}
	if !TagMatches(p.Type, "ObjectReferencesPage") {
		return nil, fmt.Errorf("%w: expected type %q, got %q", ErrProtocolViolation, "ObjectReferencesPage", p.Type)
	}
	p.URI = Resolve(base, p.URI)
	p.Next = Resolve(base, p.Next)
	for i := range p.Items {
		resolveRef(base, &p.Items[i])
	}
	return &p, nil
}

// MakeLedgerEntriesPage canonicalizes a ledger entries page.
func MakeLedgerEntriesPage(base *url.URL, raw []byte) (*domain.LedgerEntriesPage, error) {
	var p domain.LedgerEntriesPage
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode ledger entries page: %w", err)
	}
	if !TagMatches(p.Type, "LedgerEntriesPage") {
		return nil, fmt.Errorf("%w: expected type %q, got %q", ErrProtocolViolation, "LedgerEntriesPage", p.Type)
	}
	p.URI = Resolve(base, p.URI)
	p.Next = Resolve(base, p.Next)
	for i := range p.Items {
		resolveRef(base, &p.Items[i].Ledger)
		if p.Items[i].Transfer != nil {
			resolveRef(base, p.Items[i].Transfer)
		}
	}
	return &p, nil
}
