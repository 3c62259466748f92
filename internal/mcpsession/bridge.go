package mcpsession

import (
	"context"
	"fmt"

	"github.com/iMAGRAY/shelldone/internal/ack"
)

// Unsupported means a requested tool has no implementation.
type Unsupported struct {
	Tool string
}

func (e *Unsupported) Error() string { return fmt.Sprintf("unsupported tool: %s", e.Tool) }

// ToolArgs is the shape call_tool("agent.exec", ...) expects.
type ToolArgs struct {
	Cmd   string
	Cwd   string
	Env   map[string]string
	Shell string
}

// Bridge wraps the Session aggregate and a Repository around the ACK
// service, exposing the MCP-facing operations.
type Bridge struct {
	repo Repository
	ack  *ack.Service
}

// NewBridge constructs a Bridge.
func NewBridge(repo Repository, ackSvc *ack.Service) *Bridge {
	return &Bridge{repo: repo, ack: ackSvc}
}

// InitializeSession creates a session and completes its handshake in one
// step, moving it directly to Active.
func (b *Bridge) InitializeSession(persona, protocolVersion string, caps []string) (*Session, error) {
	s, err := New(persona)
	if err != nil {
		return nil, err
	}
	ev, err := s.CompleteHandshake(protocolVersion, caps)
	if err != nil {
		return nil, err
	}
	if err := b.repo.Save(s); err != nil {
		return nil, err
	}
	if err := b.repo.RecordEvent(ev); err != nil {
		return nil, err
	}
	return s, nil
}

// ListTools returns the tools exposed through call_tool.
func (b *Bridge) ListTools() []string {
	return []string{"agent.exec"}
}

// CallTool dispatches tool to its handler. Only "agent.exec" is
// implemented; anything else is Unsupported.
func (b *Bridge) CallTool(ctx context.Context, sessionID, tool string, args ToolArgs) (ack.ExecResponse, error) {
	s, err := b.requireActive(sessionID)
	if err != nil {
		return ack.ExecResponse{}, err
	}

	if tool != "agent.exec" {
		return ack.ExecResponse{}, &Unsupported{Tool: tool}
	}

	ev, err := s.RecordToolInvocation(tool)
	if err != nil {
		return ack.ExecResponse{}, err
	}
	if err := b.repo.RecordEvent(ev); err != nil {
		return ack.ExecResponse{}, err
	}

	resp, err := b.ack.Exec(ctx, ack.ExecRequest{
		Persona: s.Persona,
		Args:    ack.CommandArgs{Cmd: args.Cmd, Cwd: args.Cwd, Env: args.Env, Shell: args.Shell},
	})
	if err != nil {
		return ack.ExecResponse{}, err
	}

	if _, jerr := b.ack.JournalCustom("mcp.tool_invoked", s.Persona, map[string]any{
		"session_id": sessionID,
		"tool":       tool,
		"event_id":   resp.EventID,
	}, resp.EventID, nil); jerr != nil {
		return ack.ExecResponse{}, jerr
	}

	return resp, b.repo.Save(s)
}

// RecordHeartbeat requires an Active session and bumps last_active_at.
func (b *Bridge) RecordHeartbeat(sessionID string) error {
	s, err := b.requireSession(sessionID)
	if err != nil {
		return err
	}
	ev, err := s.Heartbeat()
	if err != nil {
		return err
	}
	if err := b.repo.RecordEvent(ev); err != nil {
		return err
	}
	return b.repo.Save(s)
}

// CloseSession transitions to Closed from any non-Closed state.
func (b *Bridge) CloseSession(sessionID, reason string) error {
	s, err := b.requireSession(sessionID)
	if err != nil {
		return err
	}
	ev, err := s.Close(reason)
	if err != nil {
		return err
	}
	if err := b.repo.RecordEvent(ev); err != nil {
		return err
	}
	return b.repo.Save(s)
}

func (b *Bridge) requireSession(id string) (*Session, error) {
	s, err := b.repo.Get(id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &ProtocolError{Message: "unknown session: " + id}
	}
	return s, nil
}

func (b *Bridge) requireActive(id string) (*Session, error) {
	s, err := b.requireSession(id)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusActive {
		return nil, &ProtocolError{Message: "session is not active: " + id}
	}
	return s, nil
}
