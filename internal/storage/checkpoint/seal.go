package checkpoint

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Sealing algorithms.
const (
	AlgChaCha20Poly1305 = "chacha20-poly1305"
	AlgAESGCM           = "aes-gcm"
)

// MinKeyLength is the minimum master key length in bytes.
const MinKeyLength = 16

const sealInfo = "snapmesh checkpoint v1"

var (
	ErrKeyTooShort   = errors.New("checkpoint: sealing key too short (minimum 16 bytes)")
	ErrOpenFailed    = errors.New("checkpoint: open failed - wrong key or corrupted data")
	ErrUnknownSealer = errors.New("checkpoint: unknown sealing algorithm")
)

// Sealer encrypts checkpoint data with an AEAD. The data key is derived
// from the master key with HKDF, so the master key is never used directly.
type Sealer struct {
	alg  string
	aead cipher.AEAD
}

// NewSealer derives a data key from master and builds the AEAD for alg.
// An empty alg selects ChaCha20-Poly1305.
func NewSealer(master []byte, alg string) (*Sealer, error) {
	if len(master) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	if alg == "" {
		alg = AlgChaCha20Poly1305
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("checkpoint: derive key: %w", err)
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch alg {
	case AlgChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key)
	case AlgAESGCM:
		var block cipher.Block
		if block, err = aes.NewCipher(key); err == nil {
			aead, err = cipher.NewGCM(block)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSealer, alg)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: init %s: %w", alg, err)
	}
	return &Sealer{alg: alg, aead: aead}, nil
}

// Algorithm returns the AEAD name recorded in checkpoint headers.
func (s *Sealer) Algorithm() string { return s.alg }

// Seal encrypts plain and binds it to aad. The nonce is prepended.
func (s *Sealer) Seal(plain, aad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("checkpoint: nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, aad), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, ErrOpenFailed
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], aad)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plain, nil
}

// ParseKey decodes a hex master key, ignoring surrounding whitespace and
// an optional "hex:" prefix.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "hex:")
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: decode key: %w", err)
	}
	if len(key) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	return key, nil
}

// GenerateKey returns a random 32-byte master key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("checkpoint: generate key: %w", err)
	}
	return key, nil
}
