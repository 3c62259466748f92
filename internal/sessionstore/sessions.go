package sessionstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/iMAGRAY/shelldone/internal/mcpsession"
)

// Save upserts a session row, replacing its status, protocol version, and
// capability set.
func (s *Store) Save(sess *mcpsession.Session) error {
	caps := make([]string, 0, len(sess.Capabilities))
	for c := range sess.Capabilities {
		caps = append(caps, c)
	}
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO sessions (id, persona, protocol_version, status, capabilities_json, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			persona = excluded.persona,
			protocol_version = excluded.protocol_version,
			status = excluded.status,
			capabilities_json = excluded.capabilities_json,
			last_active_at = excluded.last_active_at`,
		sess.ID, sess.Persona, sess.ProtocolVersion, sess.Status, string(capsJSON), sess.CreatedAt, sess.LastActiveAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get loads a session by id, returning (nil, nil) if it does not exist.
func (s *Store) Get(id string) (*mcpsession.Session, error) {
	var sess mcpsession.Session
	var capsJSON string
	var protocolVersion sql.NullString
	err := s.db.QueryRow(`SELECT id, persona, protocol_version, status, capabilities_json, created_at, last_active_at
		FROM sessions WHERE id = ?`, id).Scan(
		&sess.ID, &sess.Persona, &protocolVersion, &sess.Status, &capsJSON, &sess.CreatedAt, &sess.LastActiveAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.ProtocolVersion = protocolVersion.String

	var caps []string
	if err := json.Unmarshal([]byte(capsJSON), &caps); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	sess.Capabilities = make(map[string]struct{}, len(caps))
	for _, c := range caps {
		sess.Capabilities[c] = struct{}{}
	}
	return &sess, nil
}

// RecordEvent appends a domain event row for a session.
func (s *Store) RecordEvent(e mcpsession.Event) error {
	detailJSON, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO session_events (session_id, occurred_at, kind, detail_json)
		VALUES (?, ?, ?, ?)`, e.SessionID, e.OccurredAt, e.Kind, string(detailJSON))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}
