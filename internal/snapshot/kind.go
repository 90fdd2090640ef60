package snapshot

import (
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates the local document collections.
type Kind string

const (
	// KindLocated holds active inventory machines.
	KindLocated Kind = "located"
	// KindArchived holds machines retired from active inventory.
	KindArchived Kind = "archived"
	// KindSold holds machines that completed a sale.
	KindSold Kind = "sold"
	// KindContacts holds contact documents.
	KindContacts Kind = "contacts"
)

// ErrUnknownKind indicates a collection kind outside the fixed set.
var ErrUnknownKind = errors.New("snapshot: unknown collection kind")

// ParseKind validates a raw collection name. The empty string maps to the
// active inventory, matching the machines list endpoint's default.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(KindLocated):
		return KindLocated, nil
	case string(KindArchived):
		return KindArchived, nil
	case string(KindSold):
		return KindSold, nil
	case string(KindContacts):
		return KindContacts, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

// String returns the collection name.
func (k Kind) String() string {
	return string(k)
}

func (k Kind) validate() error {
	if k.table() == "" {
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
	return nil
}

func (k Kind) table() string {
	switch k {
	case KindLocated:
		return "machines_located"
	case KindArchived:
		return "machines_archived"
	case KindSold:
		return "machines_sold"
	case KindContacts:
		return "contacts"
	default:
		return ""
	}
}

// identityKey is both the JSON key carrying the document identity and the
// primary key column of the collection table.
func (k Kind) identityKey() string {
	switch k {
	case KindLocated:
		return "m_id"
	case KindArchived:
		return "a_id"
	case KindSold:
		return "s_id"
	case KindContacts:
		return "c_id"
	default:
		return ""
	}
}

func (k Kind) isMachine() bool {
	return k == KindLocated || k == KindArchived || k == KindSold
}

// envelopeWrapped reports whether machine attributes live under a nested
// "machine" object rather than at the document root.
func (k Kind) envelopeWrapped() bool {
	return k == KindArchived || k == KindSold
}
