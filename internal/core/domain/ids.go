package domain

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// MaxPrincipalLength is the maximum length of a principal in bytes.
const MaxPrincipalLength = 29

// snapshotLocalIDLength is the width of the local part of a snapshot id.
const snapshotLocalIDLength = 8

// ID errors.
var (
	ErrPrincipalEmpty   = errors.New("principal is empty")
	ErrPrincipalTooLong = fmt.Errorf("principal exceeds %d bytes", MaxPrincipalLength)
	ErrSnapshotIDLength = errors.New("invalid snapshot id length")
)

// PrincipalID identifies a caller or a canister. The value holds the raw
// principal bytes; String renders the base58 text form.
type PrincipalID string

// CanisterID identifies a canister. Canisters are principals.
type CanisterID = PrincipalID

// PrincipalFromBytes validates and wraps raw principal bytes.
func PrincipalFromBytes(b []byte) (PrincipalID, error) {
	if len(b) == 0 {
		return "", ErrPrincipalEmpty
	}
	if len(b) > MaxPrincipalLength {
		return "", ErrPrincipalTooLong
	}
	return PrincipalID(b), nil
}

// ParsePrincipal parses the base58 text form of a principal.
func ParsePrincipal(text string) (PrincipalID, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrPrincipalEmpty
	}
	raw, err := base58.Decode(text)
	if err != nil {
		return "", fmt.Errorf("parse principal %q: %w", text, err)
	}
	return PrincipalFromBytes(raw)
}

// Bytes returns the raw principal bytes.
func (p PrincipalID) Bytes() []byte {
	return []byte(p)
}

// String returns the base58 text form.
func (p PrincipalID) String() string {
	if p == "" {
		return ""
	}
	return base58.Encode([]byte(p))
}

// IsEmpty reports whether the principal is unset.
func (p PrincipalID) IsEmpty() bool {
	return p == ""
}

// SnapshotID identifies a snapshot: the owning canister plus a sequence
// number local to the subnet. Identifiers are never reused.
type SnapshotID struct {
	Canister CanisterID
	Local    uint64
}

// NewSnapshotID builds a snapshot id.
func NewSnapshotID(canister CanisterID, local uint64) SnapshotID {
	return SnapshotID{Canister: canister, Local: local}
}

// Bytes encodes the id as an 8-byte big-endian local id followed by the
// canister principal bytes.
func (id SnapshotID) Bytes() []byte {
	buf := make([]byte, snapshotLocalIDLength, snapshotLocalIDLength+len(id.Canister))
	binary.BigEndian.PutUint64(buf, id.Local)
	return append(buf, id.Canister...)
}

// Hex returns the hex form of Bytes, used in URLs.
func (id SnapshotID) Hex() string {
	return hex.EncodeToString(id.Bytes())
}

// String renders "<canister>-<local>".
func (id SnapshotID) String() string {
	return fmt.Sprintf("%s-%d", id.Canister, id.Local)
}

// SnapshotIDFromBytes decodes the byte form produced by Bytes.
func SnapshotIDFromBytes(b []byte) (SnapshotID, error) {
	if len(b) <= snapshotLocalIDLength || len(b) > snapshotLocalIDLength+MaxPrincipalLength {
		return SnapshotID{}, fmt.Errorf("%w: %d bytes", ErrSnapshotIDLength, len(b))
	}
	return SnapshotID{
		Canister: PrincipalID(b[snapshotLocalIDLength:]),
		Local:    binary.BigEndian.Uint64(b[:snapshotLocalIDLength]),
	}, nil
}

// ParseSnapshotIDHex decodes the hex form produced by Hex.
func ParseSnapshotIDHex(s string) (SnapshotID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return SnapshotID{}, fmt.Errorf("parse snapshot id %q: %w", s, err)
	}
	return SnapshotIDFromBytes(raw)
}

// FormatPrincipals renders a controller list the way reject messages do.
func FormatPrincipals(ps []PrincipalID) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// MarshalText implements encoding.TextMarshaler. Raw principal bytes are not
// valid UTF-8 in general, so JSON always carries the base58 form.
func (p PrincipalID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PrincipalID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = ""
		return nil
	}
	parsed, err := ParsePrincipal(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler using the hex form.
func (id SnapshotID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *SnapshotID) UnmarshalText(text []byte) error {
	parsed, err := ParseSnapshotIDHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
