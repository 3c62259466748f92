// Package tlsloader loads server TLS material from disk, validates it
// against policy, and exposes a reload-equivalence predicate the transport
// layer uses to decide whether a certificate rotation is observable to
// clients (C8).
package tlsloader

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/iMAGRAY/shelldone/internal/policy"
)

// CipherPolicy selects the cipher-suite / protocol-version table used when
// building the server tls.Config.
type CipherPolicy string

const (
	Strict   CipherPolicy = "strict"
	Balanced CipherPolicy = "balanced"
	Legacy   CipherPolicy = "legacy"
)

// Snapshot is the loaded, validated TLS material plus its policy-relevant
// attributes.
type Snapshot struct {
	Identity              tls.Certificate
	ClientCA              *x509.CertPool
	CipherPolicy          CipherPolicy
	TLSVersions           []string
	ClientAuthRequired    bool
	CertFingerprintSHA256 string
	CAFingerprintSHA256   string
}

// LoadError carries enough context to tell a missing file apart from a
// parse error or a policy denial.
type LoadError struct {
	Op  string
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("tlsloader: %s: %v", e.Op, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

var installOnce sync.Once

// Load reads cert/key (and optional CA) from disk, selects a cipher policy
// table, computes fingerprints, and evaluates the result against eng before
// returning it. listener is the address the caller will bind — it is only
// used as policy input context.
func Load(ctx context.Context, certPath, keyPath, caPath string, policyName CipherPolicy, listener string, eng *policy.Engine) (*Snapshot, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, &LoadError{Op: "load key pair", Err: err}
	}
	if len(cert.Certificate) == 0 {
		return nil, &LoadError{Op: "load key pair", Err: fmt.Errorf("empty certificate chain")}
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, &LoadError{Op: "parse leaf certificate", Err: err}
	}

	var pool *x509.CertPool
	var caFingerprint string
	if caPath != "" {
		caData, err := os.ReadFile(caPath)
		if err != nil {
			return nil, &LoadError{Op: "read ca", Err: err}
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			return nil, &LoadError{Op: "parse ca", Err: fmt.Errorf("no certificates found")}
		}
		caBlock, err := firstPEMCert(caData)
		if err != nil {
			return nil, &LoadError{Op: "parse ca", Err: err}
		}
		caFingerprint = fingerprint(caBlock.Raw)
	}

	installProviderOnce()

	snap := &Snapshot{
		Identity:              cert,
		ClientCA:              pool,
		CipherPolicy:          policyName,
		TLSVersions:           versionsFor(policyName),
		ClientAuthRequired:    pool != nil,
		CertFingerprintSHA256: fingerprint(leaf.Raw),
		CAFingerprintSHA256:   caFingerprint,
	}

	if eng != nil {
		decision, err := eng.EvaluateTLS(ctx, policy.TLSInput{
			Listener:                     listener,
			CipherPolicy:                 string(policyName),
			TLSVersions:                  snap.TLSVersions,
			ClientAuthRequired:           snap.ClientAuthRequired,
			CertificateFingerprintSHA256: snap.CertFingerprintSHA256,
			CAFingerprintSHA256:          snap.CAFingerprintSHA256,
		})
		if err != nil {
			return nil, &LoadError{Op: "evaluate policy", Err: err}
		}
		if !decision.Allowed {
			return nil, &LoadError{Op: "policy denied", Err: fmt.Errorf("%s", policy.JoinReasons(decision.DenyReasons))}
		}
	}

	return snap, nil
}

// installProviderOnce is the process-global, idempotent crypto provider
// registration point (spec §4.8 step 6). Go's standard crypto/tls needs no
// explicit provider install; the hook exists so callers have a single,
// well-documented place future provider wiring would go, matching the
// source's double-checked-init pattern for process-global state.
func installProviderOnce() {
	installOnce.Do(func() {})
}

// ServerTLSConfig builds the *tls.Config the transport layer serves with.
func (s *Snapshot) ServerTLSConfig() *tls.Config {
	cfg := &tls.Config{
		Certificates: []tls.Certificate{s.Identity},
		MinVersion:   minVersion(s.CipherPolicy),
		MaxVersion:   tls.VersionTLS13,
		CipherSuites: cipherSuitesFor(s.CipherPolicy),
	}
	if s.ClientCA != nil {
		cfg.ClientCAs = s.ClientCA
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg
}

// GRPCServerOption wraps ServerTLSConfig for a gRPC server.
func (s *Snapshot) GRPCServerOption() grpc.ServerOption {
	return grpc.Creds(credentials.NewTLS(s.ServerTLSConfig()))
}

// SnapshotsEqual compares cipher policy, client-auth flag, fingerprints, and
// TLS versions only (never the raw key material), per spec §4.8.
func SnapshotsEqual(a, b *Snapshot) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.CipherPolicy != b.CipherPolicy ||
		a.ClientAuthRequired != b.ClientAuthRequired ||
		a.CertFingerprintSHA256 != b.CertFingerprintSHA256 ||
		a.CAFingerprintSHA256 != b.CAFingerprintSHA256 {
		return false
	}
	if len(a.TLSVersions) != len(b.TLSVersions) {
		return false
	}
	for i := range a.TLSVersions {
		if a.TLSVersions[i] != b.TLSVersions[i] {
			return false
		}
	}
	return true
}

func fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return fmt.Sprintf("%x", sum)
}

func firstPEMCert(pemData []byte) (*x509.Certificate, error) {
	certs, err := parseAllPEMCerts(pemData)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates found")
	}
	return certs[0], nil
}
