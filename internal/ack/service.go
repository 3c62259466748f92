// Package ack implements the central orchestrator (C5): policy check,
// approval handling, command execution, and journal emission, plus undo via
// snapshot restore.
package ack

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/iMAGRAY/shelldone/internal/approval"
	"github.com/iMAGRAY/shelldone/internal/continuum"
	"github.com/iMAGRAY/shelldone/internal/policy"
)

const defaultSpectralTag = "exec::default"

// ExecRequest is the input to Exec.
type ExecRequest struct {
	CommandID   string
	Persona     string
	Args        CommandArgs
	SpectralTag string
}

// ExecResponse is the result of a successful Exec call.
type ExecResponse struct {
	EventID     string
	ExitCode    int
	Stdout      string
	Stderr      string
	SpectralTag string
	DurationMS  int64
}

// UndoRequest is the input to Undo.
type UndoRequest struct {
	Persona     string
	SnapshotID  string
	SpectralTag string
}

// UndoResponse reports what a (purely observational) undo restored.
type UndoResponse struct {
	SnapshotID     string
	RestoredEvents int
	DurationMS     int64
}

// Service wires the Policy Engine, Continuum Store, and Approval Registry
// together around a CommandRunner.
type Service struct {
	policy    *policy.Engine
	journal   *continuum.Store
	approvals *approval.Registry
	runner    CommandRunner
	log       *slog.Logger
}

// New constructs a Service. runner defaults to OSCommandRunner when nil.
func New(policyEngine *policy.Engine, journal *continuum.Store, approvals *approval.Registry, runner CommandRunner, log *slog.Logger) *Service {
	if runner == nil {
		runner = OSCommandRunner{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{policy: policyEngine, journal: journal, approvals: approvals, runner: runner, log: log}
}

// Exec evaluates policy, runs the command on allow, and journals the
// outcome. On an approval-required denial it records the approval and
// journals approval.requested before returning the denial.
func (s *Service) Exec(ctx context.Context, req ExecRequest) (ExecResponse, error) {
	in := policy.ACKInput{Command: "agent.exec", Persona: req.Persona, SpectralTag: req.SpectralTag}
	decision, err := s.policy.EvaluateACK(ctx, in)
	if err != nil {
		return ExecResponse{}, internalf(err, "policy evaluation")
	}

	if !decision.Allowed {
		reason := policy.JoinReasons(decision.DenyReasons)
		if approvalRequired(decision.DenyReasons) {
			if err := s.requestApproval(req.Persona, "agent.exec", reason, req.SpectralTag); err != nil {
				return ExecResponse{}, err
			}
		}
		return ExecResponse{}, &PolicyDenied{Reason: reason}
	}

	runArgs := req.Args
	if runArgs.Label == "" {
		runArgs.Label = req.Persona + ":" + req.CommandID
	}

	start := time.Now()
	result, runErr := s.runner.Run(ctx, runArgs)
	duration := time.Since(start)

	spectralTag := req.SpectralTag
	if spectralTag == "" {
		spectralTag = defaultSpectralTag
	}
	envKeys := make([]string, 0, len(req.Args.Env))
	for k := range req.Args.Env {
		envKeys = append(envKeys, k)
	}
	byteCount := int64(len(result.Stdout) + len(result.Stderr))

	event := &continuum.Event{
		EventID:     req.CommandID,
		Kind:        "exec",
		Persona:     req.Persona,
		SpectralTag: spectralTag,
		ByteCount:   &byteCount,
		Payload: map[string]any{
			"command":     req.Args.Cmd,
			"cwd":         req.Args.Cwd,
			"env_keys":    envKeys,
			"exit_code":   result.ExitCode,
			"stdout_len":  len(result.Stdout),
			"stderr_len":  len(result.Stderr),
			"duration_ms": duration.Milliseconds(),
		},
	}
	if err := s.journal.Append(event); err != nil {
		return ExecResponse{}, internalf(err, "journal append")
	}

	if runErr != nil {
		s.log.Warn("ack: command exited with error", "command", req.Args.Cmd, "error", runErr)
	}

	return ExecResponse{
		EventID:     event.EventID,
		ExitCode:    result.ExitCode,
		Stdout:      result.Stdout,
		Stderr:      result.Stderr,
		SpectralTag: spectralTag,
		DurationMS:  duration.Milliseconds(),
	}, nil
}

// JournalCustom appends an arbitrary domain event, e.g. from the MCP bridge.
func (s *Service) JournalCustom(kind, persona string, payload any, spectralTag string, byteCount *int64) (string, error) {
	if kind == "" {
		return "", &Invalid{Message: "empty journal event kind"}
	}
	if kind == "sigma.guard" {
		s.logSigmaGuardAttributes(payload)
	}
	event := &continuum.Event{Kind: kind, Persona: persona, SpectralTag: spectralTag, Payload: payload, ByteCount: byteCount}
	if err := s.journal.Append(event); err != nil {
		return "", internalf(err, "journal append")
	}
	return event.EventID, nil
}

func (s *Service) logSigmaGuardAttributes(payload any) {
	m, ok := payload.(map[string]any)
	if !ok {
		return
	}
	direction, _ := m["direction"].(string)
	reason, _ := m["reason"].(string)
	if direction == "" && reason == "" {
		return
	}
	s.log.Debug("ack: sigma.guard event", "direction", direction, "reason", reason)
}

// Undo evaluates policy, loads the first snapshot whose filename contains
// snapshot_id, and reports the restored event count. The events inside the
// snapshot are never replayed against side-effecting systems — undo is
// observational only.
func (s *Service) Undo(ctx context.Context, req UndoRequest) (UndoResponse, error) {
	in := policy.ACKInput{Command: "agent.undo", Persona: req.Persona, SpectralTag: req.SpectralTag}
	decision, err := s.policy.EvaluateACK(ctx, in)
	if err != nil {
		return UndoResponse{}, internalf(err, "policy evaluation")
	}
	if !decision.Allowed {
		reason := policy.JoinReasons(decision.DenyReasons)
		if approvalRequired(decision.DenyReasons) {
			if err := s.requestApproval(req.Persona, "agent.undo", reason, req.SpectralTag); err != nil {
				return UndoResponse{}, err
			}
		}
		return UndoResponse{}, &PolicyDenied{Reason: reason}
	}

	start := time.Now()
	paths, err := s.journal.ListSnapshots()
	if err != nil {
		return UndoResponse{}, internalf(err, "list snapshots")
	}
	var match string
	for _, p := range paths {
		if strings.Contains(p, req.SnapshotID) {
			match = p
			break
		}
	}
	if match == "" {
		return UndoResponse{}, &Invalid{Message: "snapshot not found: " + req.SnapshotID}
	}

	events, err := s.journal.LoadSnapshot(match)
	if err != nil {
		return UndoResponse{}, internalf(err, "load snapshot")
	}
	duration := time.Since(start)

	undoEvent := &continuum.Event{
		Kind:        "undo",
		Persona:     req.Persona,
		SpectralTag: req.SpectralTag,
		Payload: map[string]any{
			"snapshot_id":     req.SnapshotID,
			"restored_events": len(events),
			"duration_ms":     duration.Milliseconds(),
		},
	}
	if err := s.journal.Append(undoEvent); err != nil {
		return UndoResponse{}, internalf(err, "journal append")
	}

	return UndoResponse{SnapshotID: req.SnapshotID, RestoredEvents: len(events), DurationMS: duration.Milliseconds()}, nil
}

// GrantApproval marks id Granted and journals approval.granted.
func (s *Service) GrantApproval(id string) error {
	a, err := s.approvals.MarkGranted(id)
	if err != nil {
		return internalf(err, "mark granted")
	}
	if a == nil {
		return &Invalid{Message: "approval not found: " + id}
	}
	event := &continuum.Event{
		Kind:    "approval.granted",
		Persona: a.Persona,
		Payload: map[string]any{"approval_id": a.ID, "command": a.Command, "reason": a.Reason},
	}
	if err := s.journal.Append(event); err != nil {
		return internalf(err, "journal append")
	}
	return nil
}

func (s *Service) requestApproval(persona, command, reason, spectralTag string) error {
	a, err := s.approvals.RecordRequest(command, persona, reason, spectralTag)
	if err != nil {
		return internalf(err, "record approval request")
	}
	event := &continuum.Event{
		Kind:        "approval.requested",
		Persona:     persona,
		SpectralTag: spectralTag,
		Payload:     map[string]any{"approval_id": a.ID, "command": command, "reason": reason},
	}
	if err := s.journal.Append(event); err != nil {
		return internalf(err, "journal append")
	}
	return nil
}

func approvalRequired(reasons []string) bool {
	for _, r := range reasons {
		if strings.Contains(strings.ToLower(r), "approval required") {
			return true
		}
	}
	return false
}
