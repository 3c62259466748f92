// Package continuum implements the hash-chained append-only journal and its
// compacted snapshots (the "Continuum" store).
package continuum

import "time"

// Event is an immutable record persisted line-by-line in the journal.
//
// merkle_hash is SHA-256 over every other field (itself excluded), computed
// after parent_hash has been assigned. For event n in journal order,
// parent_hash equals the merkle_hash of event n-1 (absent for n==0).
type Event struct {
	EventID     string `json:"event_id"`
	Kind        string `json:"kind"`
	Timestamp   string `json:"timestamp"` // RFC3339Nano, UTC
	Persona     string `json:"persona,omitempty"`
	Payload     any    `json:"payload"`
	SpectralTag string `json:"spectral_tag,omitempty"`
	ByteCount   *int64 `json:"byte_count,omitempty"`
	MerkleHash  string `json:"merkle_hash,omitempty"`
	ParentHash  string `json:"parent_hash,omitempty"`
}

// NewTimestamp formats t the way events stamp their timestamp field.
func NewTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
