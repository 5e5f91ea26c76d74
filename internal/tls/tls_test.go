package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupDisabled(t *testing.T) {
	tc, err := Config{}.Setup()
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if tc != nil {
		t.Fatal("disabled config should yield nil tls.Config")
	}
}

func TestSetupEnabledWithoutSource(t *testing.T) {
	if _, err := (Config{Enabled: true}).Setup(); err == nil {
		t.Fatal("expected error with no cert source configured")
	}
}

func TestSetupAutoGenerate(t *testing.T) {
	dir := t.TempDir()
	c := Config{Enabled: true, Dir: dir, AutoGenerate: true}

	tc, err := c.Setup()
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if tc == nil || tc.GetCertificate == nil {
		t.Fatal("expected tls.Config with GetCertificate")
	}
	if tc.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x", tc.MinVersion)
	}

	for _, name := range []string{certName, keyName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("generated file %s: %v", name, err)
		}
	}

	cert, err := tc.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse leaf: %v", err)
	}
	if err := leaf.VerifyHostname("localhost"); err != nil {
		t.Errorf("hostname: %v", err)
	}

	// A second Setup reuses the existing pair instead of regenerating.
	before, _ := os.ReadFile(filepath.Join(dir, certName))
	if _, err := c.Setup(); err != nil {
		t.Fatalf("second Setup: %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(dir, certName))
	if string(before) != string(after) {
		t.Error("certificate regenerated on second Setup")
	}
}

func TestSetupExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	if err := generateSelfSigned(dir, certPath, keyPath); err != nil {
		t.Fatalf("generate: %v", err)
	}

	tc, err := (Config{Enabled: true, CertFile: certPath, KeyFile: keyPath}).Setup()
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if _, err := tc.GetCertificate(&tls.ClientHelloInfo{}); err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
}

func TestGeneratedKeyPermissions(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, certName)
	keyPath := filepath.Join(dir, keyName)
	if err := generateSelfSigned(dir, certPath, keyPath); err != nil {
		t.Fatalf("generate: %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key permissions = %o, want 600", perm)
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		t.Fatal("key file is not PEM")
	}
}

func TestSafeReadFileRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(dir, "..", "escape.txt")
	if _, err := safeReadFile(dir, outside); err == nil {
		t.Fatal("expected traversal rejection")
	}
}
