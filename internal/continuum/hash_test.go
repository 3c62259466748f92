package continuum

import "testing"

func TestComputeMerkleHashIdempotent(t *testing.T) {
	e := &Event{
		EventID:   "evt-1",
		Kind:      "exec",
		Timestamp: "2026-01-01T00:00:00Z",
		Payload:   map[string]any{"b": 2, "a": 1},
	}
	h1, err := computeMerkleHash(e)
	if err != nil {
		t.Fatalf("computeMerkleHash: %v", err)
	}
	h2, err := computeMerkleHash(e)
	if err != nil {
		t.Fatalf("computeMerkleHash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash not idempotent: %q != %q", h1, h2)
	}
}

func TestComputeMerkleHashKeyOrderIndependent(t *testing.T) {
	e1 := &Event{EventID: "evt-1", Kind: "exec", Timestamp: "t", Payload: map[string]any{"a": 1, "b": 2}}
	e2 := &Event{EventID: "evt-1", Kind: "exec", Timestamp: "t", Payload: map[string]any{"b": 2, "a": 1}}
	h1, err := computeMerkleHash(e1)
	if err != nil {
		t.Fatalf("computeMerkleHash: %v", err)
	}
	h2, err := computeMerkleHash(e2)
	if err != nil {
		t.Fatalf("computeMerkleHash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash depends on map key order: %q != %q", h1, h2)
	}
}

func TestSealEventChains(t *testing.T) {
	first := &Event{EventID: "evt-1", Kind: "exec", Timestamp: "t1", Payload: "p1"}
	if err := SealEvent(first, nil); err != nil {
		t.Fatalf("SealEvent first: %v", err)
	}
	if first.ParentHash != "" {
		t.Errorf("first event parent_hash = %q, want empty", first.ParentHash)
	}
	if first.MerkleHash == "" {
		t.Error("first event merkle_hash is empty")
	}

	second := &Event{EventID: "evt-2", Kind: "exec", Timestamp: "t2", Payload: "p2"}
	if err := SealEvent(second, first); err != nil {
		t.Fatalf("SealEvent second: %v", err)
	}
	if second.ParentHash != first.MerkleHash {
		t.Errorf("second.ParentHash = %q, want %q", second.ParentHash, first.MerkleHash)
	}
}

func TestVerifyEventDetectsTamper(t *testing.T) {
	e := &Event{EventID: "evt-1", Kind: "exec", Timestamp: "t1", Payload: "p1"}
	if err := SealEvent(e, nil); err != nil {
		t.Fatalf("SealEvent: %v", err)
	}
	ok, err := VerifyEvent(e)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if !ok {
		t.Fatal("VerifyEvent rejected untampered event")
	}

	e.Payload = "tampered"
	ok, err = VerifyEvent(e)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if ok {
		t.Error("VerifyEvent accepted tampered event")
	}
}

func TestMerkleRootChangesOnReorder(t *testing.T) {
	a := &Event{EventID: "a", Kind: "k", Timestamp: "t", Payload: "1"}
	b := &Event{EventID: "b", Kind: "k", Timestamp: "t", Payload: "2"}
	if err := SealEvent(a, nil); err != nil {
		t.Fatalf("SealEvent a: %v", err)
	}
	if err := SealEvent(b, a); err != nil {
		t.Fatalf("SealEvent b: %v", err)
	}

	forward := merkleRoot([]*Event{a, b})
	backward := merkleRoot([]*Event{b, a})
	if forward == backward {
		t.Error("merkleRoot is order-independent, want order-sensitive")
	}
}
