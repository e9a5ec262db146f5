// Package certwatch serves the HTTPS key pair and reloads it when the
// files change on disk.
package certwatch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

// Watcher holds the current key pair. A failed reload keeps the previous
// pair in service.
type Watcher struct {
	certFile string
	keyFile  string
	logger   logger.Logger
	debounce time.Duration

	mu       sync.RWMutex
	cert     *tls.Certificate
	notAfter time.Time
	reloads  uint64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// WithDebounce sets how long to wait after a change before reloading.
// Editors and cert-manager write the pair in several steps.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// New loads the key pair. It fails when the initial load fails.
func New(certFile, keyFile string, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger.Default(),
		debounce: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.Reload(); err != nil {
		return nil, fmt.Errorf("certwatch: initial load: %w", err)
	}
	return w, nil
}

// Reload reads the key pair from disk.
func (w *Watcher) Reload() error {
	cert, err := tls.LoadX509KeyPair(w.certFile, w.keyFile)
	if err != nil {
		return err
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("parse leaf: %w", err)
	}
	cert.Leaf = leaf

	w.mu.Lock()
	w.cert = &cert
	w.notAfter = leaf.NotAfter
	w.reloads++
	w.mu.Unlock()
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (w *Watcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cert, nil
}

// TLSConfig returns a server config backed by the watcher.
func (w *Watcher) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: w.GetCertificate,
	}
}

// NotAfter returns the expiry of the served certificate.
func (w *Watcher) NotAfter() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.notAfter
}

// Reloads returns how many times a key pair was loaded, the initial load
// included.
func (w *Watcher) Reloads() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reloads
}

// Run watches the directories holding the pair until ctx is done.
// Directories are watched rather than files so renames into place
// (Kubernetes secret mounts, vim) are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("certwatch: create watcher: %w", err)
	}
	defer fw.Close()

	dirs := map[string]struct{}{
		filepath.Dir(w.certFile): {},
		filepath.Dir(w.keyFile):  {},
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("certwatch: watch %s: %w", dir, err)
		}
	}

	names := map[string]struct{}{
		filepath.Base(w.certFile): {},
		filepath.Base(w.keyFile):  {},
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if _, ours := names[filepath.Base(ev.Name)]; !ours {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				w.logger.Error("certificate reload failed", "cert_file", w.certFile, "error", err)
				continue
			}
			w.logger.Info("certificate reloaded", "cert_file", w.certFile, "not_after", w.NotAfter())

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("certificate watcher error", "error", err)
		}
	}
}
