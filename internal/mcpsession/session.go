// Package mcpsession implements the MCP session aggregate (C6): a small
// state machine tracking a protocol session from negotiation through close,
// emitting domain events for the repository layer.
package mcpsession

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusNegotiating Status = "negotiating"
	StatusActive      Status = "active"
	StatusClosed      Status = "closed"
)

// ProtocolError reports an MCP-level violation: invalid persona, an
// already-handshaked session, or an operation attempted outside the state
// that permits it.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol violation: %s", e.Message) }

// Event is a domain event emitted by a state transition, ready for a
// repository layer to persist or journal.
type Event struct {
	SessionID  string
	OccurredAt time.Time
	Kind       string
	Detail     map[string]any
}

// Session is the MCP session aggregate.
type Session struct {
	ID              string
	Persona         string
	ProtocolVersion string
	Capabilities    map[string]struct{}
	Status          Status
	CreatedAt       time.Time
	LastActiveAt    time.Time
}

// New starts a Session in Negotiating for persona. persona must be
// non-empty.
func New(persona string) (*Session, error) {
	if persona == "" {
		return nil, &ProtocolError{Message: "persona must not be empty"}
	}
	now := time.Now().UTC()
	return &Session{
		ID:           uuid.NewString(),
		Persona:      persona,
		Capabilities: map[string]struct{}{},
		Status:       StatusNegotiating,
		CreatedAt:    now,
		LastActiveAt: now,
	}, nil
}

// CompleteHandshake transitions Negotiating to Active exactly once, setting
// protocol_version and capabilities.
func (s *Session) CompleteHandshake(protocolVersion string, caps []string) (Event, error) {
	if protocolVersion == "" {
		return Event{}, &ProtocolError{Message: "protocol_version must not be empty"}
	}
	if s.Status == StatusClosed {
		return Event{}, &ProtocolError{Message: "session is closed"}
	}
	if s.Status != StatusNegotiating {
		return Event{}, &ProtocolError{Message: "handshake already completed"}
	}

	s.ProtocolVersion = protocolVersion
	for _, c := range caps {
		s.Capabilities[c] = struct{}{}
	}
	s.Status = StatusActive
	return s.transition("handshake.completed", map[string]any{"protocol_version": protocolVersion, "capabilities": caps})
}

// Heartbeat requires Active and bumps last_active_at.
func (s *Session) Heartbeat() (Event, error) {
	if s.Status != StatusActive {
		return Event{}, &ProtocolError{Message: "heartbeat requires an active session"}
	}
	return s.transition("heartbeat", nil)
}

// RecordToolInvocation requires Active and bumps last_active_at.
func (s *Session) RecordToolInvocation(tool string) (Event, error) {
	if s.Status != StatusActive {
		return Event{}, &ProtocolError{Message: "tool invocation requires an active session"}
	}
	return s.transition("tool.invoked", map[string]any{"tool": tool})
}

// Close transitions to Closed from any non-Closed state.
func (s *Session) Close(reason string) (Event, error) {
	if s.Status == StatusClosed {
		return Event{}, &ProtocolError{Message: "session already closed"}
	}
	s.Status = StatusClosed
	return s.transition("closed", map[string]any{"reason": reason})
}

func (s *Session) transition(kind string, detail map[string]any) (Event, error) {
	s.LastActiveAt = time.Now().UTC()
	return Event{SessionID: s.ID, OccurredAt: s.LastActiveAt, Kind: kind, Detail: detail}, nil
}
