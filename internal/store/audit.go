package store

import (
	"database/sql"
	"time"
)

// InsertAuditLog implements audit.Sink against the audit_logs table.
func (s *Store) InsertAuditLog(id, eventType, sessionCode, actorUserID, targetUserID, clientIP, userAgent, detailsJSON string, createdAt time.Time) error {
	_, err := s.DB.Exec(s.q(`
		INSERT INTO audit_logs (id, event_type, session_code, actor_user_id, target_user_id, client_ip, user_agent, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), id, eventType, nullIfEmpty(sessionCode), nullIfEmpty(actorUserID), nullIfEmpty(targetUserID), nullIfEmpty(clientIP), nullIfEmpty(userAgent), detailsJSON, createdAt)
	return err
}

// AuditLogEntry is a row as read back for the admin audit-log endpoint
// (§6: GET /game/session/{code}/admin/audit-log).
type AuditLogEntry struct {
	ID           string
	EventType    string
	SessionCode  string
	ActorUserID  string
	TargetUserID string
	ClientIP     string
	UserAgent    string
	DetailsJSON  string
	CreatedAt    time.Time
}

// AuditLogBySession returns a session's audit trail, most recent first,
// capped at limit rows.
func (s *Store) AuditLogBySession(sessionCode string, limit int) ([]*AuditLogEntry, error) {
	return s.AuditLogQuery(sessionCode, "", "", limit, 0)
}

// AuditLogQuery implements `GET .../admin/audit-log`'s query filters (§6:
// {event_type?, user_id?, limit, offset}), most recent first.
func (s *Store) AuditLogQuery(sessionCode, eventType, userID string, limit, offset int) ([]*AuditLogEntry, error) {
	query := `
		SELECT id, event_type, session_code, actor_user_id, target_user_id, client_ip, user_agent, details_json, created_at
		FROM audit_logs WHERE session_code = ?`
	args := []interface{}{sessionCode}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	if userID != "" {
		query += ` AND (actor_user_id = ? OR target_user_id = ?)`
		args = append(args, userID, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.DB.Query(s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditLogEntry
	for rows.Next() {
		e := &AuditLogEntry{}
		var scode, actor, target, ip, ua sql.NullString
		if err := rows.Scan(&e.ID, &e.EventType, &scode, &actor, &target, &ip, &ua, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SessionCode, e.ActorUserID, e.TargetUserID, e.ClientIP, e.UserAgent = scode.String, actor.String, target.String, ip.String, ua.String
		out = append(out, e)
	}
	return out, rows.Err()
}
