// Package approval implements the human-approval request registry (C4):
// recording, deduplicating, granting, and listing pending approvals backed
// by a single JSON document.
package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an Approval.
type Status string

const (
	StatusPending  Status = "pending"
	StatusGranted  Status = "granted"
	StatusRejected Status = "rejected"
)

// Approval is a single human-approval request.
type Approval struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	Persona     string     `json:"persona,omitempty"`
	Reason      string     `json:"reason"`
	RequestedAt time.Time  `json:"requested_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	SpectralTag string     `json:"spectral_tag,omitempty"`
	Status      Status     `json:"status"`
}

// Registry persists approvals at <state_dir>/approvals/pending.json. At
// most one Pending approval exists for a given (command, persona, reason)
// triple at any time.
type Registry struct {
	mu   sync.Mutex
	path string
	all  []*Approval
}

// NewRegistry loads the registry from stateDir/approvals/pending.json.
// A missing file starts empty; a present-but-corrupt file is a fatal
// constructor error, per spec §4.4.
func NewRegistry(stateDir string) (*Registry, error) {
	path := filepath.Join(stateDir, "approvals", "pending.json")
	r := &Registry{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("approval: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, &r.all); err != nil {
		return nil, fmt.Errorf("approval: corrupt registry at %s: %w", path, err)
	}
	return r, nil
}

// RecordRequest returns the existing Pending approval matching
// (command, persona, reason) if one exists, or allocates and persists a new
// one.
func (r *Registry) RecordRequest(command, persona, reason, spectralTag string) (*Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.all {
		if a.Status == StatusPending && a.Command == command && a.Persona == persona && a.Reason == reason {
			return a, nil
		}
	}

	a := &Approval{
		ID:          uuid.NewString(),
		Command:     command,
		Persona:     persona,
		Reason:      reason,
		SpectralTag: spectralTag,
		RequestedAt: time.Now().UTC(),
		Status:      StatusPending,
	}
	r.all = append(r.all, a)
	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	return a, nil
}

// MarkGranted transitions id to Granted and stamps resolved_at. Returns nil
// if id is not found.
func (r *Registry) MarkGranted(id string) (*Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.all {
		if a.ID == id {
			a.Status = StatusGranted
			now := time.Now().UTC()
			a.ResolvedAt = &now
			if err := r.persistLocked(); err != nil {
				return nil, err
			}
			return a, nil
		}
	}
	return nil, nil
}

// ListPending returns all Pending approvals sorted by requested_at.
func (r *Registry) ListPending() []*Approval {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*Approval
	for _, a := range r.all {
		if a.Status == StatusPending {
			pending = append(pending, a)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].RequestedAt.Before(pending[j].RequestedAt)
	})
	return pending
}

// persistLocked writes the full approval list, sorted by requested_at, via
// write-temp-then-rename so a crash mid-write never corrupts pending.json.
// Caller must hold r.mu.
func (r *Registry) persistLocked() error {
	sort.Slice(r.all, func(i, j int) bool {
		return r.all[i].RequestedAt.Before(r.all[j].RequestedAt)
	})

	data, err := json.MarshalIndent(r.all, "", "  ")
	if err != nil {
		return fmt.Errorf("approval: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("approval: create dir: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("approval: write temp: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("approval: rename: %w", err)
	}
	return nil
}
