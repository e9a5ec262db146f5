package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestPrincipalID_TextRoundTrip(t *testing.T) {
	p, err := PrincipalFromBytes([]byte{0x00, 0x00, 0x00, 0x01, 0x01, 0xff})
	if err != nil {
		t.Fatalf("PrincipalFromBytes() error = %v", err)
	}

	parsed, err := ParsePrincipal(p.String())
	if err != nil {
		t.Fatalf("ParsePrincipal(%q) error = %v", p.String(), err)
	}
	if parsed != p {
		t.Errorf("ParsePrincipal() = %x, want %x", parsed.Bytes(), p.Bytes())
	}
}

func TestPrincipalFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrPrincipalEmpty},
		{"too long", make([]byte, MaxPrincipalLength+1), ErrPrincipalTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := PrincipalFromBytes(tt.in); !errors.Is(err, tt.want) {
				t.Errorf("PrincipalFromBytes() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParsePrincipal_Garbage(t *testing.T) {
	if _, err := ParsePrincipal("0OIl"); err == nil {
		t.Error("ParsePrincipal should reject characters outside the base58 alphabet")
	}
}

func TestSnapshotID_Bytes(t *testing.T) {
	canister := PrincipalID([]byte{0xaa, 0xbb})
	id := NewSnapshotID(canister, 6)

	want := []byte{0, 0, 0, 0, 0, 0, 0, 6, 0xaa, 0xbb}
	if got := id.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("Bytes() = %x, want %x", got, want)
	}

	decoded, err := SnapshotIDFromBytes(want)
	if err != nil {
		t.Fatalf("SnapshotIDFromBytes() error = %v", err)
	}
	if decoded != id {
		t.Errorf("SnapshotIDFromBytes() = %v, want %v", decoded, id)
	}

	fromHex, err := ParseSnapshotIDHex(id.Hex())
	if err != nil {
		t.Fatalf("ParseSnapshotIDHex() error = %v", err)
	}
	if fromHex != id {
		t.Errorf("ParseSnapshotIDHex() = %v, want %v", fromHex, id)
	}
}

func TestSnapshotIDFromBytes_BadLength(t *testing.T) {
	tests := []struct {
		name string
		n    int
	}{
		{"empty", 0},
		{"local id only", 8},
		{"too long", 8 + MaxPrincipalLength + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SnapshotIDFromBytes(make([]byte, tt.n))
			if !errors.Is(err, ErrSnapshotIDLength) {
				t.Errorf("SnapshotIDFromBytes(%d bytes) error = %v, want ErrSnapshotIDLength", tt.n, err)
			}
		})
	}
}

func TestSnapshotID_JSON(t *testing.T) {
	id := NewSnapshotID(PrincipalID([]byte{0x01, 0x02, 0xfe}), 42)

	type wrapper struct {
		ID    SnapshotID              `json:"id"`
		Owner PrincipalID             `json:"owner"`
		ByID  map[SnapshotID]struct{} `json:"by_id"`
	}
	in := wrapper{ID: id, Owner: id.Canister, ByID: map[SnapshotID]struct{}{id: {}}}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.ID != id || out.Owner != id.Canister {
		t.Errorf("round trip = %+v, want id %v owner %v", out, id, id.Canister)
	}
	if _, ok := out.ByID[id]; !ok {
		t.Error("map key did not survive the round trip")
	}
}

func TestFormatPrincipals(t *testing.T) {
	a := PrincipalID([]byte{1})
	b := PrincipalID([]byte{2})
	got := FormatPrincipals([]PrincipalID{a, b})
	want := "[" + a.String() + ", " + b.String() + "]"
	if got != want {
		t.Errorf("FormatPrincipals() = %q, want %q", got, want)
	}
}
