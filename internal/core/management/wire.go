// Package management encodes and decodes management method payloads.
//
// Payloads use the protobuf wire format without generated code: every
// message here is a handful of scalar and bytes fields, and decoding is
// done by hand so that malformed input becomes a reject, never a panic.
package management

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

// field is one decoded wire field. Varint and fixed64 values land in u64,
// length-delimited values in bytes.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	bytes []byte
	u64   uint64
}

func parseFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u64, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.u64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		fields = append(fields, f)
	}
	return fields, nil
}

func (f field) uint() (uint64, error) {
	if f.typ != protowire.VarintType && f.typ != protowire.Fixed64Type {
		return 0, fmt.Errorf("field %d: expected integer, got wire type %d", f.num, f.typ)
	}
	return f.u64, nil
}

func (f field) raw() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("field %d: expected bytes, got wire type %d", f.num, f.typ)
	}
	return f.bytes, nil
}

func (f field) principal() (domain.PrincipalID, error) {
	b, err := f.raw()
	if err != nil {
		return "", err
	}
	p, err := domain.PrincipalFromBytes(b)
	if err != nil {
		return "", fmt.Errorf("field %d: %w", f.num, err)
	}
	return p, nil
}

func (f field) snapshotID() (domain.SnapshotID, error) {
	b, err := f.raw()
	if err != nil {
		return domain.SnapshotID{}, err
	}
	id, err := domain.SnapshotIDFromBytes(b)
	if err != nil {
		return domain.SnapshotID{}, fmt.Errorf("field %d: %w", f.num, err)
	}
	return id, nil
}

var (
	errMissingCanisterID = errors.New("missing canister_id")
	errMissingSnapshotID = errors.New("missing snapshot_id")
)

// decodeError wraps a wire error into the InvalidManagementPayload reject.
func decodeError(err error) error {
	return domain.ErrInvalidManagementPayload.
		WithDetailsf("Error decoding management payload: %v", err).
		WithCause(err)
}

// decode parses b and hands each field to fn, turning any failure into an
// InvalidManagementPayload reject.
func decode(b []byte, fn func(f field) error) error {
	fields, err := parseFields(b)
	if err != nil {
		return decodeError(err)
	}
	for _, f := range fields {
		if err := fn(f); err != nil {
			return decodeError(err)
		}
	}
	return nil
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFixed(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, v)
}

// appendOptUint writes v only when it is non-zero, like proto3 scalars.
func appendOptUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	return appendUint(b, num, v)
}

func appendGlobal(b []byte, num protowire.Number, g domain.Global) []byte {
	var msg []byte
	msg = appendUint(msg, 1, uint64(g.Kind))
	msg = appendFixed(msg, 2, g.Lo)
	if g.Kind == domain.GlobalV128 {
		msg = appendFixed(msg, 3, g.Hi)
	}
	return appendBytes(b, num, msg)
}

func parseGlobal(f field) (domain.Global, error) {
	b, err := f.raw()
	if err != nil {
		return domain.Global{}, err
	}
	var g domain.Global
	fields, err := parseFields(b)
	if err != nil {
		return g, fmt.Errorf("global: %w", err)
	}
	for _, gf := range fields {
		v, err := gf.uint()
		if err != nil {
			return g, fmt.Errorf("global: %w", err)
		}
		switch gf.num {
		case 1:
			if v < uint64(domain.GlobalI32) || v > uint64(domain.GlobalV128) {
				return g, fmt.Errorf("global: unknown kind %d", v)
			}
			g.Kind = domain.GlobalKind(v)
		case 2:
			g.Lo = v
		case 3:
			g.Hi = v
		}
	}
	if g.Kind == 0 {
		return g, errors.New("global: missing kind")
	}
	return g, nil
}
