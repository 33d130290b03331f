// Package printer holds the value types shared by discovery, capability
// resolution, job delivery and the host surface.
package printer

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidID = errors.New("invalid printer id")

// Kind tells whether an ID survives address changes.
type Kind int

const (
	// Transient identities are derived from a network address and are only
	// valid while the printer keeps that address.
	Transient Kind = iota
	// Stable identities come from a protocol-level UUID.
	Stable
)

const (
	stablePrefix    = "uuid:"
	transientPrefix = "addr:"
)

// ID identifies a printer. The zero value is not a valid ID.
type ID struct {
	kind  Kind
	value string
}

func StableID(uuid string) ID {
	return ID{kind: Stable, value: strings.ToLower(strings.TrimSpace(uuid))}
}

func TransientID(address string) ID {
	return ID{kind: Transient, value: strings.TrimSpace(address)}
}

// ParseID is the inverse of ID.String.
func ParseID(s string) (ID, error) {
	switch {
	case strings.HasPrefix(s, stablePrefix) && len(s) > len(stablePrefix):
		return StableID(strings.TrimPrefix(s, stablePrefix)), nil
	case strings.HasPrefix(s, transientPrefix) && len(s) > len(transientPrefix):
		return TransientID(strings.TrimPrefix(s, transientPrefix)), nil
	default:
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
}

func (id ID) Kind() Kind     { return id.kind }
func (id ID) Value() string  { return id.value }
func (id ID) IsStable() bool { return id.kind == Stable && id.value != "" }
func (id ID) IsZero() bool   { return id.value == "" }

func (id ID) String() string {
	if id.value == "" {
		return ""
	}
	if id.kind == Stable {
		return stablePrefix + id.value
	}
	return transientPrefix + id.value
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
