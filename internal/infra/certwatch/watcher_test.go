package certwatch

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

func writeTestPair(t *testing.T, certFile, keyFile string, validFor time.Duration) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	serial, _ := rand.Int(rand.Reader, big.NewInt(1000000))
	notBefore := time.Now().Add(-time.Minute).Truncate(time.Second)
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "snapmesh.local"},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey() error = %v", err)
	}

	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0644); err != nil {
		t.Fatalf("WriteFile(cert) error = %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatalf("WriteFile(key) error = %v", err)
	}
}

func testPaths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "tls.crt"), filepath.Join(dir, "tls.key")
}

func TestNew(t *testing.T) {
	certFile, keyFile := testPaths(t)
	writeTestPair(t, certFile, keyFile, 24*time.Hour)

	w, err := New(certFile, keyFile, WithLogger(logger.NewNop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cert, err := w.GetCertificate(nil)
	if err != nil || cert == nil {
		t.Fatalf("GetCertificate() = %v, %v", cert, err)
	}
	if cert.Leaf == nil || cert.Leaf.Subject.CommonName != "snapmesh.local" {
		t.Errorf("Leaf = %+v", cert.Leaf)
	}
	if w.Reloads() != 1 {
		t.Errorf("Reloads() = %d, want 1", w.Reloads())
	}
	if until := time.Until(w.NotAfter()); until < 23*time.Hour || until > 24*time.Hour {
		t.Errorf("NotAfter() in %v, want about 24h", until)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(certFile, keyFile string)
	}{
		{"missing files", func(string, string) {}},
		{"garbage", func(certFile, keyFile string) {
			os.WriteFile(certFile, []byte("invalid"), 0644)
			os.WriteFile(keyFile, []byte("invalid"), 0600)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			certFile, keyFile := testPaths(t)
			tt.setup(certFile, keyFile)
			if _, err := New(certFile, keyFile); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestWatcher_TLSConfig(t *testing.T) {
	certFile, keyFile := testPaths(t)
	writeTestPair(t, certFile, keyFile, time.Hour)

	w, err := New(certFile, keyFile)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cfg := w.TLSConfig()
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x", cfg.MinVersion)
	}
	cert, _ := cfg.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	if cert == nil {
		t.Error("GetCertificate via TLSConfig returned nil")
	}
}

func TestWatcher_ReloadFailureKeepsPair(t *testing.T) {
	certFile, keyFile := testPaths(t)
	writeTestPair(t, certFile, keyFile, time.Hour)

	w, err := New(certFile, keyFile)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	before, _ := w.GetCertificate(nil)

	os.WriteFile(certFile, []byte("truncated"), 0644)
	if err := w.Reload(); err == nil {
		t.Fatal("Reload() expected error for broken cert")
	}

	after, _ := w.GetCertificate(nil)
	if after != before {
		t.Error("failed reload replaced the served certificate")
	}
}

func TestWatcher_RunReloadsOnChange(t *testing.T) {
	certFile, keyFile := testPaths(t)
	writeTestPair(t, certFile, keyFile, time.Hour)

	w, err := New(certFile, keyFile, WithLogger(logger.NewNop()), WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Let the watcher register before rewriting the pair.
	time.Sleep(100 * time.Millisecond)
	writeTestPair(t, certFile, keyFile, 48*time.Hour)

	deadline := time.Now().Add(3 * time.Second)
	for time.Until(w.NotAfter()) < 47*time.Hour {
		if time.Now().After(deadline) {
			t.Fatalf("certificate not reloaded; NotAfter = %v", w.NotAfter())
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run() did not return after cancel")
	}
}

func TestWatcher_RunBadDir(t *testing.T) {
	certFile, keyFile := testPaths(t)
	writeTestPair(t, certFile, keyFile, time.Hour)

	w, err := New(certFile, keyFile)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	w.certFile = "/nonexistent/dir/tls.crt"

	if err := w.Run(context.Background()); err == nil {
		t.Error("Run() expected error for missing directory")
	}
}
