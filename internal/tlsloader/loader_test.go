package tlsloader

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func generateSelfSigned(t *testing.T, dir, name string) (certPath, keyPath string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}

	certPath = filepath.Join(dir, name+".crt")
	keyPath = filepath.Join(dir, name+".key")

	certOut, err := os.Create(certPath)
	if err != nil {
		t.Fatalf("create cert file: %v", err)
	}
	defer certOut.Close()
	pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}
	keyOut, err := os.Create(keyPath)
	if err != nil {
		t.Fatalf("create key file: %v", err)
	}
	defer keyOut.Close()
	pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	return certPath, keyPath
}

func TestLoadWithoutPolicyEngine(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := generateSelfSigned(t, dir, "server")

	snap, err := Load(context.Background(), certPath, keyPath, "", Balanced, "127.0.0.1:8443", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.CertFingerprintSHA256 == "" {
		t.Error("missing cert fingerprint")
	}
	if snap.ClientAuthRequired {
		t.Error("client auth should not be required without a CA")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(context.Background(), filepath.Join(dir, "missing.crt"), filepath.Join(dir, "missing.key"), "", Strict, "", nil)
	if err == nil {
		t.Fatal("expected error for missing cert")
	}
}

func TestSnapshotsEqualIgnoresKeyMaterial(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := generateSelfSigned(t, dir, "a")
	snapA, err := Load(context.Background(), certPath, keyPath, "", Balanced, "", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cloneCertPath, cloneKeyPath := certPath, keyPath
	snapB, err := Load(context.Background(), cloneCertPath, cloneKeyPath, "", Balanced, "", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !SnapshotsEqual(snapA, snapB) {
		t.Error("expected snapshots loaded from the same material to be equal")
	}

	certPathB, keyPathB := generateSelfSigned(t, dir, "b")
	snapC, err := Load(context.Background(), certPathB, keyPathB, "", Balanced, "", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if SnapshotsEqual(snapA, snapC) {
		t.Error("expected different certificates to produce unequal snapshots")
	}
}

func TestCipherSuitesForStrictIsEmpty(t *testing.T) {
	if got := cipherSuitesFor(Strict); got != nil {
		t.Errorf("Strict cipher suites = %v, want nil (1.3-only)", got)
	}
}
