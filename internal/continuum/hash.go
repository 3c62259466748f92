package continuum

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalJSON re-encodes an arbitrary JSON-compatible value with sorted
// object keys and no insignificant whitespace. encoding/json's default
// marshaling of map[string]any is already key-sorted, but a struct payload
// marshals in field-declaration order, so we round-trip through a generic
// tree to get a representation that is stable regardless of how the caller
// built the payload. This resolves the portability concern noted in the
// original design: hashes must not depend on Go's struct field order.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal payload for canonicalization: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// lengthPrefixed writes a length-prefixed byte string so that the
// concatenation of fields is unambiguous (e.g. "ab"+"c" cannot collide with
// "a"+"bc").
func lengthPrefixed(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}

// computeMerkleHash computes the event's merkle_hash per spec §4.3:
// SHA-256 over event_id, kind, timestamp, persona (if present), the
// canonical-JSON payload, spectral_tag (if present), parent_hash (if
// present) — merkle_hash itself excluded from its own input.
func computeMerkleHash(e *Event) (string, error) {
	payload, err := canonicalJSON(e.Payload)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	lengthPrefixed(h, []byte(e.EventID))
	lengthPrefixed(h, []byte(e.Kind))
	lengthPrefixed(h, []byte(e.Timestamp))
	if e.Persona != "" {
		lengthPrefixed(h, []byte(e.Persona))
	}
	lengthPrefixed(h, payload)
	if e.SpectralTag != "" {
		lengthPrefixed(h, []byte(e.SpectralTag))
	}
	if e.ParentHash != "" {
		lengthPrefixed(h, []byte(e.ParentHash))
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// SealEvent assigns parent_hash (the merkle_hash of prev, or "" if prev is
// nil) and computes e's merkle_hash in place.
func SealEvent(e *Event, prev *Event) error {
	if prev != nil {
		e.ParentHash = prev.MerkleHash
	} else {
		e.ParentHash = ""
	}
	hash, err := computeMerkleHash(e)
	if err != nil {
		return err
	}
	e.MerkleHash = hash
	return nil
}

// VerifyEvent recomputes e's merkle_hash from its other fields and reports
// whether it matches the stored value.
func VerifyEvent(e *Event) (bool, error) {
	want, err := computeMerkleHash(e)
	if err != nil {
		return false, err
	}
	return want == e.MerkleHash, nil
}

// merkleRoot computes the flat root over hashes in order:
// SHA-256(hash(e_1) || hash(e_2) || ... || hash(e_n)).
// This is a flat hash, not a balanced tree, by explicit spec design (§9).
func merkleRoot(events []*Event) string {
	h := sha256.New()
	for _, e := range events {
		h.Write([]byte(e.MerkleHash))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
