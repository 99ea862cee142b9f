package models

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	UnknownName = "Unknown"
	SpoofName   = "Spoofing Attempt"
)

var (
	ErrEmptyIdentity    = errors.New("identity name is empty")
	ErrReservedIdentity = errors.New("identity name is reserved")
)

type IdentityKind uint8

const (
	IdentityUnknown IdentityKind = iota
	IdentityKnown
	IdentitySpoof
)

// Identity is the result of recognising a face. Only Known identities carry a
// name; Unknown and Spoof are sentinels that can never collide with an
// enrolled student because enrollment rejects their display names.
type Identity struct {
	kind IdentityKind
	name string
}

var (
	Unknown = Identity{kind: IdentityUnknown}
	Spoof   = Identity{kind: IdentitySpoof}
)

func Known(name string) Identity {
	return Identity{kind: IdentityKnown, name: name}
}

func (i Identity) Kind() IdentityKind { return i.kind }
func (i Identity) IsKnown() bool      { return i.kind == IdentityKnown }
func (i Identity) IsUnknown() bool    { return i.kind == IdentityUnknown }
func (i Identity) IsSpoof() bool      { return i.kind == IdentitySpoof }

// Name returns the enrolled name, or "" for sentinels.
func (i Identity) Name() string {
	if i.kind != IdentityKnown {
		return ""
	}
	return i.name
}

func (i Identity) String() string {
	switch i.kind {
	case IdentityKnown:
		return i.name
	case IdentitySpoof:
		return SpoofName
	default:
		return UnknownName
	}
}

// ParseIdentity maps a rendered identity back to its variant. Reserved
// display names become sentinels; empty input is Unknown.
func ParseIdentity(s string) Identity {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || strings.EqualFold(s, UnknownName):
		return Unknown
	case strings.EqualFold(s, SpoofName):
		return Spoof
	}
	return Known(s)
}

func (i Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// ValidateEnrollmentName rejects names that would be indistinguishable from
// the Unknown/Spoof sentinels once rendered.
func ValidateEnrollmentName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrEmptyIdentity
	}
	if strings.EqualFold(trimmed, UnknownName) || strings.EqualFold(trimmed, SpoofName) {
		return ErrReservedIdentity
	}
	return nil
}
