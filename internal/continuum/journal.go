package continuum

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

const (
	// DefaultSnapshotInterval is the in-memory event count that triggers an
	// automatic snapshot, per spec §4.3/§9.
	DefaultSnapshotInterval = 100

	journalFileName  = "continuum.log"
	snapshotSuffix   = ".snapshot.json.zst"
	journalDirName   = "journal"
	snapshotDirName  = "snapshots"
)

// Store is the Continuum journal + snapshot store (C3). The journal file is
// exclusively owned by the Store; a single writer appends at a time while
// snapshot building and chain verification operate on an in-memory buffer,
// never re-reading the file mid-flight.
type Store struct {
	mu sync.Mutex

	journalPath      string
	snapshotDir      string
	snapshotInterval int

	buffer []*Event // events since the last snapshot, in order
	last   *Event   // most recently appended event (for parent_hash chaining)

	log *slog.Logger
}

// NewStore creates a Store rooted at stateDir (journal under
// stateDir/journal/continuum.log, snapshots under stateDir/snapshots/). A
// snapshotInterval of 0 uses DefaultSnapshotInterval.
func NewStore(stateDir string, snapshotInterval int, log *slog.Logger) *Store {
	if snapshotInterval <= 0 {
		snapshotInterval = DefaultSnapshotInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		journalPath:      filepath.Join(stateDir, journalDirName, journalFileName),
		snapshotDir:      filepath.Join(stateDir, snapshotDirName),
		snapshotInterval: snapshotInterval,
		log:              log,
	}
}

// LoadJournal reads the journal file line-by-line, verifies each event's
// hash and parent_hash continuity, and returns the count of events loaded.
// A chain break is logged as a warning and load continues — per spec §4.3,
// a broken chain is not fatal because an operator may have truncated the
// file deliberately.
func (s *Store) LoadJournal() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			s.buffer = nil
			s.last = nil
			return 0, nil
		}
		return 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var events []*Event
	var prev *Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return 0, fmt.Errorf("parse journal line %d: %w", lineNo, err)
		}
		ok, err := VerifyEvent(&e)
		if err != nil {
			return 0, fmt.Errorf("verify journal line %d: %w", lineNo, err)
		}
		if !ok {
			s.log.Warn("continuum: event hash mismatch, chain broken", "line", lineNo, "event_id", e.EventID)
		}
		wantParent := ""
		if prev != nil {
			wantParent = prev.MerkleHash
		}
		if e.ParentHash != wantParent {
			s.log.Warn("continuum: parent_hash discontinuity, chain broken", "line", lineNo, "event_id", e.EventID)
		}
		events = append(events, &e)
		prev = &e
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan journal: %w", err)
	}

	s.buffer = events
	s.last = prev
	return len(events), nil
}

// Append seals e (assigning event_id/timestamp if empty, and merkle_hash /
// parent_hash from the chain), serializes it as one JSON line, and appends
// it to the journal file in a single write. The event is also appended to
// the in-memory buffer used for snapshotting.
func (s *Store) Append(e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp == "" {
		e.Timestamp = NewTimestamp(time.Now())
	}
	if err := SealEvent(e, s.last); err != nil {
		return fmt.Errorf("seal event: %w", err)
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(s.journalPath), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}

	s.buffer = append(s.buffer, e)
	s.last = e
	return nil
}

// MaybeSnapshot builds and persists a snapshot when the in-memory buffer has
// reached the snapshot interval, then clears the buffer. Returns the empty
// string when no snapshot was taken.
func (s *Store) MaybeSnapshot() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) < s.snapshotInterval {
		return "", nil
	}

	snap, err := buildSnapshot(s.buffer)
	if err != nil {
		return "", fmt.Errorf("build snapshot: %w", err)
	}
	path, err := persistSnapshot(s.snapshotDir, snap)
	if err != nil {
		return "", fmt.Errorf("persist snapshot: %w", err)
	}
	s.log.Info("continuum: snapshot persisted",
		"path", path,
		"events", snap.EventCount,
		"compressed_size", humanize.Bytes(uint64(len(snap.CompressedData))))
	s.buffer = nil
	return path, nil
}

// ListSnapshots enumerates the snapshot directory, filters by the
// recognized ".snapshot.json.zst" suffix, and returns paths sorted
// lexicographically.
func (s *Store) ListSnapshots() ([]string, error) {
	entries, err := os.ReadDir(s.snapshotDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), snapshotSuffix) {
			paths = append(paths, filepath.Join(s.snapshotDir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadSnapshot reads, decompresses, and verifies a snapshot file, returning
// its member events in order.
func (s *Store) LoadSnapshot(path string) ([]*Event, error) {
	return loadSnapshot(path)
}
