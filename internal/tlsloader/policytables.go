package tlsloader

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// versionsFor returns the protocol versions a cipher policy permits, per
// spec §4.8 step 5: Strict is 1.3 only, Balanced/Legacy are 1.3 + 1.2.
func versionsFor(p CipherPolicy) []string {
	switch p {
	case Strict:
		return []string{"TLS1.3"}
	default:
		return []string{"TLS1.3", "TLS1.2"}
	}
}

func minVersion(p CipherPolicy) uint16 {
	if p == Strict {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// cipherSuitesFor returns the TLS 1.2 suite list for a policy. TLS 1.3
// suites are not user-selectable in crypto/tls and are always negotiated
// when the peer supports 1.3, independent of this list.
func cipherSuitesFor(p CipherPolicy) []uint16 {
	switch p {
	case Strict:
		return nil // 1.3-only: no 1.2 suites are ever negotiated
	case Balanced:
		return []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		}
	case Legacy:
		return []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		}
	default:
		return cipherSuitesFor(Balanced)
	}
}

func parseAllPEMCerts(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}
