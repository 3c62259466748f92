// Package policy evaluates Rego policy documents against the daemon's three
// decision points: command execution, OSC escape codes, and TLS material.
package policy

// Decision is the outcome of a policy evaluation. Allowed is true iff
// DenyReasons is empty in the public contract, though an evaluation MAY
// carry reasons alongside Allowed=false only.
type Decision struct {
	Allowed     bool     `json:"allowed"`
	DenyReasons []string `json:"deny_reasons,omitempty"`
}

// ACKInput is the typed input for evaluate_ack.
type ACKInput struct {
	Command         string `json:"command"`
	Persona         string `json:"persona,omitempty"`
	SpectralTag     string `json:"spectral_tag,omitempty"`
	ApprovalGranted bool   `json:"approval_granted"`
}

// CacheKey returns the (command, persona, spectral_tag) triple used to key
// the decision cache. No other field participates.
func (in ACKInput) CacheKey() cacheKey {
	return cacheKey{command: in.Command, persona: in.Persona, spectralTag: in.SpectralTag}
}

// TLSInput is the typed input for evaluate_tls.
type TLSInput struct {
	Listener                     string   `json:"listener"`
	CipherPolicy                 string   `json:"cipher_policy"`
	TLSVersions                  []string `json:"tls_versions"`
	ClientAuthRequired           bool     `json:"client_auth_required"`
	CertificateFingerprintSHA256 string   `json:"certificate_fingerprint_sha256,omitempty"`
	CAFingerprintSHA256          string   `json:"ca_fingerprint_sha256,omitempty"`
}
