package checkpoint

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/snapmesh-go/internal/core/service"
)

// Magic bytes identify checkpoint files.
var magicBytes = []byte("SNAPCKPT")

const (
	filePrefix    = "checkpoint-"
	fileExtension = ".ckpt"
	checksumSize  = 32
	headerVersion = 1

	DefaultKeep = 3
)

var (
	ErrInvalidMagic     = errors.New("checkpoint: invalid magic bytes")
	ErrChecksumMismatch = errors.New("checkpoint: checksum mismatch")
	ErrNoCheckpoints    = errors.New("checkpoint: no checkpoints available")
	ErrSealed           = errors.New("checkpoint: data is sealed and no key is configured")
	ErrFingerprint      = errors.New("checkpoint: state fingerprint mismatch")
)

// Header is the plaintext metadata at the front of a checkpoint file.
type Header struct {
	Version       int    `json:"version"`
	Round         uint64 `json:"round"`
	CreatedAt     int64  `json:"created_at"`
	NodeID        string `json:"node_id,omitempty"`
	CanisterCount int    `json:"canister_count"`
	SnapshotCount int    `json:"snapshot_count"`
	Fingerprint   string `json:"fingerprint"`
	Sealed        bool   `json:"sealed"`
	Algorithm     string `json:"algorithm,omitempty"`
}

// Info describes a checkpoint file.
type Info struct {
	Header
	ID       string `json:"id"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

// Config configures the checkpoint manager.
type Config struct {
	Dir string

	// Keep is how many checkpoints Prune retains. The newest always survives.
	Keep int

	NodeID string

	// Sealer encrypts the state image. Nil writes plaintext.
	Sealer *Sealer
}

// Manager writes and reads checkpoint files in one directory.
type Manager struct {
	cfg Config
}

// NewManager creates the directory if needed.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("checkpoint: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("checkpoint: create dir: %w", err)
	}
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}
	return &Manager{cfg: cfg}, nil
}

// Fingerprint returns the murmur3 128-bit hash of an encoded state image.
// Replicas at the same round produce the same fingerprint.
func Fingerprint(data []byte) string {
	h1, h2 := murmur3.Sum128(data)
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], h1)
	binary.BigEndian.PutUint64(b[8:], h2)
	return hex.EncodeToString(b[:])
}

// EncodeImage is the canonical encoding used for checkpoint data and
// fingerprints.
func EncodeImage(img *service.StateImage) ([]byte, error) {
	return json.Marshal(img)
}

// DecodeImage reverses EncodeImage.
func DecodeImage(data []byte) (*service.StateImage, error) {
	var img service.StateImage
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal image: %w", err)
	}
	return &img, nil
}

// Create writes img to a new checkpoint file.
//
// Layout:
//
//	[magic:8 "SNAPCKPT"]
//	[HeaderLen:4][HeaderJSON]
//	[DataLen:4][Data]   (JSON state image, sealed with the header as AAD)
//	[checksum:32 SHA-256 of all bytes above]
func (m *Manager) Create(img *service.StateImage) (*Info, error) {
	data, err := EncodeImage(img)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode image: %w", err)
	}

	now := time.Now()
	hdr := Header{
		Version:       headerVersion,
		Round:         img.Round,
		CreatedAt:     now.UnixMilli(),
		NodeID:        m.cfg.NodeID,
		CanisterCount: len(img.Canisters.Canisters),
		SnapshotCount: len(img.Snapshots.Snapshots),
		Fingerprint:   Fingerprint(data),
		Sealed:        m.cfg.Sealer != nil,
	}
	if m.cfg.Sealer != nil {
		hdr.Algorithm = m.cfg.Sealer.Algorithm()
	}

	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal header: %w", err)
	}
	if m.cfg.Sealer != nil {
		if data, err = m.cfg.Sealer.Seal(data, hdrJSON); err != nil {
			return nil, err
		}
	}

	id := m.generateID(img.Round, now)
	tempPath := filepath.Join(m.cfg.Dir, id+".tmp")
	file, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: create temp file: %w", err)
	}
	defer os.Remove(tempPath)

	hash := sha256.New()
	w := bufio.NewWriter(io.MultiWriter(file, hash))

	var lenBuf [4]byte
	w.Write(magicBytes)
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(hdrJSON)))
	w.Write(lenBuf[:])
	w.Write(hdrJSON)
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	w.Write(lenBuf[:])
	w.Write(data)
	if err := w.Flush(); err != nil {
		file.Close()
		return nil, fmt.Errorf("checkpoint: write: %w", err)
	}

	// Checksum trailer is not part of the hash.
	sum := hash.Sum(nil)
	if _, err := file.Write(sum); err != nil {
		file.Close()
		return nil, fmt.Errorf("checkpoint: write checksum: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, fmt.Errorf("checkpoint: sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("checkpoint: close: %w", err)
	}

	stat, err := os.Stat(tempPath)
	if err != nil {
		return nil, err
	}
	finalPath := filepath.Join(m.cfg.Dir, id+fileExtension)
	if err := os.Rename(tempPath, finalPath); err != nil {
		return nil, fmt.Errorf("checkpoint: rename: %w", err)
	}

	return &Info{
		Header:   hdr,
		ID:       id,
		Path:     finalPath,
		Size:     stat.Size(),
		Checksum: hex.EncodeToString(sum),
	}, nil
}

// LoadLatest loads the newest valid checkpoint, falling back to older
// files when the newest is damaged.
func (m *Manager) LoadLatest() (*service.StateImage, *Info, error) {
	infos, err := m.List()
	if err != nil {
		return nil, nil, err
	}

	for i := len(infos) - 1; i >= 0; i-- {
		img, info, err := m.Load(infos[i].Path)
		if err == nil {
			return img, info, nil
		}
		if errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrInvalidMagic) || errors.Is(err, ErrFingerprint) {
			continue
		}
		return nil, nil, err
	}
	return nil, nil, ErrNoCheckpoints
}

// Load reads and verifies one checkpoint file.
func (m *Manager) Load(path string) (*service.StateImage, *Info, error) {
	hdrJSON, data, info, err := readFile(path)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case info.Sealed && m.cfg.Sealer == nil:
		return nil, nil, ErrSealed
	case info.Sealed:
		if data, err = m.cfg.Sealer.Open(data, hdrJSON); err != nil {
			return nil, nil, err
		}
	case m.cfg.Sealer != nil:
		return nil, nil, fmt.Errorf("checkpoint: expected sealed checkpoint")
	}

	if Fingerprint(data) != info.Fingerprint {
		return nil, nil, ErrFingerprint
	}

	img, err := DecodeImage(data)
	if err != nil {
		return nil, nil, err
	}
	return img, info, nil
}

// Inspect verifies the checksum and returns the header. It needs no key.
func Inspect(path string) (*Info, error) {
	_, _, info, err := readFile(path)
	return info, err
}

func readFile(path string) (hdrJSON, data []byte, info *Info, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, nil, err
	}
	if stat.Size() < int64(len(magicBytes))+checksumSize {
		return nil, nil, nil, ErrChecksumMismatch
	}

	bodyLen := stat.Size() - checksumSize
	expected := make([]byte, checksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, bodyLen, checksumSize), expected); err != nil {
		return nil, nil, nil, err
	}
	h := sha256.New()
	if _, err := io.CopyN(h, io.NewSectionReader(f, 0, bodyLen), bodyLen); err != nil {
		return nil, nil, nil, err
	}
	if !bytes.Equal(h.Sum(nil), expected) {
		return nil, nil, nil, ErrChecksumMismatch
	}

	br := bufio.NewReader(io.NewSectionReader(f, 0, bodyLen))

	magic := make([]byte, len(magicBytes))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, nil, nil, err
	}
	if !bytes.Equal(magic, magicBytes) {
		return nil, nil, nil, ErrInvalidMagic
	}

	if hdrJSON, err = readBlock(br, bodyLen); err != nil {
		return nil, nil, nil, fmt.Errorf("checkpoint: read header: %w", err)
	}
	if len(hdrJSON) == 0 {
		return nil, nil, nil, fmt.Errorf("checkpoint: empty header")
	}
	var hdr Header
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, nil, nil, fmt.Errorf("checkpoint: unmarshal header: %w", err)
	}

	if data, err = readBlock(br, bodyLen); err != nil {
		return nil, nil, nil, fmt.Errorf("checkpoint: read data: %w", err)
	}

	return hdrJSON, data, &Info{
		Header:   hdr,
		ID:       strings.TrimSuffix(filepath.Base(path), fileExtension),
		Path:     path,
		Size:     stat.Size(),
		Checksum: hex.EncodeToString(expected),
	}, nil
}

func readBlock(r io.Reader, limit int64) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int64(n) > limit {
		return nil, fmt.Errorf("block length %d exceeds file size", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// List lists checkpoint files oldest first (metadata from the file name
// and size only).
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExtension) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	infos := make([]*Info, 0, len(names))
	for _, name := range names {
		p := filepath.Join(m.cfg.Dir, name)
		stat, err := os.Stat(p)
		if err != nil {
			continue
		}
		infos = append(infos, &Info{
			ID:   strings.TrimSuffix(name, fileExtension),
			Path: p,
			Size: stat.Size(),
		})
	}
	return infos, nil
}

// Prune deletes all but the newest Keep checkpoints.
func (m *Manager) Prune() (int, error) {
	infos, err := m.List()
	if err != nil {
		return 0, err
	}
	if len(infos) <= m.cfg.Keep {
		return 0, nil
	}

	removed := 0
	for _, info := range infos[:len(infos)-m.cfg.Keep] {
		if err := os.Remove(info.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("checkpoint: remove %s: %w", info.ID, err)
		}
		removed++
	}
	return removed, nil
}

// generateID orders files by round, then by creation time.
func (m *Manager) generateID(round uint64, t time.Time) string {
	return fmt.Sprintf("%s%020d-%s", filePrefix, round, t.UTC().Format("20060102T150405.000000000"))
}
