package continuum

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Snapshot is the self-describing, independently verifiable compaction of a
// run of journal events.
type Snapshot struct {
	SnapshotID     string         `json:"snapshot_id"`
	Timestamp      string         `json:"timestamp"`
	EventCount     int            `json:"event_count"`
	MerkleRoot     string         `json:"merkle_root"`
	LastEventID    string         `json:"last_event_id"`
	CompressedData []byte         `json:"compressed_data"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// buildSnapshot serializes events as newline-delimited JSON, compresses them
// with zstd, and computes the flat merkle root over their hashes.
func buildSnapshot(events []*Event) (*Snapshot, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("cannot build snapshot from zero events")
	}

	var plain bytes.Buffer
	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal event %s: %w", e.EventID, err)
		}
		plain.Write(line)
		plain.WriteByte('\n')
	}

	compressed, err := compressZstd(plain.Bytes())
	if err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}

	last := events[len(events)-1]
	return &Snapshot{
		SnapshotID:     uuid.NewString(),
		Timestamp:      NewTimestamp(time.Now()),
		EventCount:     len(events),
		MerkleRoot:     merkleRoot(events),
		LastEventID:    last.EventID,
		CompressedData: compressed,
		Metadata:       map[string]any{},
	}, nil
}

// persistSnapshot writes snap to <dir>/<snapshot_id>.snapshot.json.zst and
// returns the path. The ".zst" suffix is mandatory for discovery per spec
// §6 even though the outer file is a JSON document (only compressed_data
// within it is zstd-compressed).
func persistSnapshot(dir string, snap *Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	path := filepath.Join(dir, snap.SnapshotID+snapshotSuffix)
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// loadSnapshot reads, decompresses, and verifies a snapshot file.
func loadSnapshot(path string) ([]*Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}

	plain, err := decompressZstd(snap.CompressedData)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot %s: %w", path, err)
	}

	var events []*Event
	for _, line := range bytes.Split(plain, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parse snapshot event in %s: %w", path, err)
		}
		events = append(events, &e)
	}

	if len(events) != snap.EventCount {
		return nil, fmt.Errorf("snapshot %s: event_count mismatch: stored %d, got %d", path, snap.EventCount, len(events))
	}
	if got := merkleRoot(events); got != snap.MerkleRoot {
		return nil, fmt.Errorf("snapshot %s: merkle_root mismatch: stored %s, computed %s", path, snap.MerkleRoot, got)
	}

	return events, nil
}

func compressZstd(plain []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(plain, make([]byte, 0, len(plain))), nil
}

func decompressZstd(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(compressed, nil)
}
