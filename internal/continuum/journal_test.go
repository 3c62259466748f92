package continuum

import (
	"path/filepath"
	"testing"
)

func TestStoreAppendAndLoadJournal(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 0, nil)

	for i := 0; i < 5; i++ {
		e := &Event{Kind: "exec", Payload: map[string]any{"i": i}}
		if err := s.Append(e); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	reloaded := NewStore(dir, 0, nil)
	n, err := reloaded.LoadJournal()
	if err != nil {
		t.Fatalf("LoadJournal: %v", err)
	}
	if n != 5 {
		t.Errorf("LoadJournal count = %d, want 5", n)
	}
	if len(reloaded.buffer) != 5 {
		t.Errorf("buffer length = %d, want 5", len(reloaded.buffer))
	}
	for i, e := range reloaded.buffer {
		ok, err := VerifyEvent(e)
		if err != nil {
			t.Fatalf("VerifyEvent %d: %v", i, err)
		}
		if !ok {
			t.Errorf("event %d failed hash verification after reload", i)
		}
	}
}

func TestStoreLoadJournalMissingFileIsEmpty(t *testing.T) {
	s := NewStore(t.TempDir(), 0, nil)
	n, err := s.LoadJournal()
	if err != nil {
		t.Fatalf("LoadJournal: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestStoreMaybeSnapshotAtInterval(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 3, nil)

	for i := 0; i < 2; i++ {
		if err := s.Append(&Event{Kind: "exec", Payload: i}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if path, err := s.MaybeSnapshot(); err != nil {
		t.Fatalf("MaybeSnapshot: %v", err)
	} else if path != "" {
		t.Errorf("MaybeSnapshot fired early at %q", path)
	}

	if err := s.Append(&Event{Kind: "exec", Payload: 2}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	path, err := s.MaybeSnapshot()
	if err != nil {
		t.Fatalf("MaybeSnapshot: %v", err)
	}
	if path == "" {
		t.Fatal("MaybeSnapshot did not fire at interval")
	}
	if filepath.Ext(path) != ".zst" {
		t.Errorf("snapshot path = %q, want .zst suffix", path)
	}
	if len(s.buffer) != 0 {
		t.Errorf("buffer not cleared after snapshot, len = %d", len(s.buffer))
	}

	events, err := s.LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("loaded %d events, want 3", len(events))
	}

	paths, err := s.ListSnapshots()
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(paths) != 1 || paths[0] != path {
		t.Errorf("ListSnapshots = %v, want [%q]", paths, path)
	}
}
