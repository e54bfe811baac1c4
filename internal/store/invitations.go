package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"mudengine/internal/apperr"
	"mudengine/internal/permission"
)

// Invitation is the persisted row for §3's Invitation entity: a code that
// grants a role on first (or Nth, up to MaxUses) redemption.
type Invitation struct {
	ID        string
	Code      string
	SessionID string
	Role      permission.Role
	CreatorID string
	ExpiresAt *time.Time
	MaxUses   int
	UsesCount int
	Active    bool
	CreatedAt time.Time
}

func (s *Store) CreateInvitation(inv *Invitation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	if inv.MaxUses <= 0 {
		inv.MaxUses = 1
	}
	_, err := s.DB.Exec(s.q(`
		INSERT INTO invitations (id, code, session_id, role, creator_id, expires_at, max_uses, uses_count, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`), inv.ID, inv.Code, inv.SessionID, string(inv.Role), inv.CreatorID, nullTime(inv.ExpiresAt), inv.MaxUses, inv.Active, inv.CreatedAt)
	return err
}

const invitationColumns = `id, code, session_id, role, creator_id, expires_at, max_uses, uses_count, active, created_at`

func scanInvitation(row *sql.Row) (*Invitation, error) {
	inv := &Invitation{}
	var role string
	var expiresAt sql.NullTime
	err := row.Scan(&inv.ID, &inv.Code, &inv.SessionID, &role, &inv.CreatorID, &expiresAt, &inv.MaxUses, &inv.UsesCount, &inv.Active, &inv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("invitation_not_found", "invitation not found")
	}
	if err != nil {
		return nil, err
	}
	inv.Role = permission.Role(role)
	if expiresAt.Valid {
		inv.ExpiresAt = &expiresAt.Time
	}
	return inv, nil
}

func (s *Store) InvitationByCode(code string) (*Invitation, error) {
	row := s.DB.QueryRow(s.q(`SELECT `+invitationColumns+` FROM invitations WHERE code = ?`), code)
	return scanInvitation(row)
}

// InvitationByID looks up an invitation by its primary key, for endpoints
// that only carry the id (e.g. `DELETE /game/invitations/{id}`).
func (s *Store) InvitationByID(id string) (*Invitation, error) {
	row := s.DB.QueryRow(s.q(`SELECT `+invitationColumns+` FROM invitations WHERE id = ?`), id)
	return scanInvitation(row)
}

func (s *Store) InvitationsBySession(sessionID string) ([]*Invitation, error) {
	rows, err := s.DB.Query(s.q(`SELECT `+invitationColumns+` FROM invitations WHERE session_id = ?`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Invitation
	for rows.Next() {
		inv := &Invitation{}
		var role string
		var expiresAt sql.NullTime
		if err := rows.Scan(&inv.ID, &inv.Code, &inv.SessionID, &role, &inv.CreatorID, &expiresAt, &inv.MaxUses, &inv.UsesCount, &inv.Active, &inv.CreatedAt); err != nil {
			return nil, err
		}
		inv.Role = permission.Role(role)
		if expiresAt.Valid {
			inv.ExpiresAt = &expiresAt.Time
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// RedeemInvitation atomically checks expiry/active/uses-remaining and
// increments uses_count, auto-deactivating once uses_count reaches
// max_uses (§3 invariant: uses_count <= max_uses; §4.D "never blind
// increment-without-check"). Returns the invitation's role on success.
func (s *Store) RedeemInvitation(code string) (permission.Role, string, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return "", "", err
	}
	defer tx.Rollback()

	var id, sessionID, role string
	var expiresAt sql.NullTime
	var maxUses, usesCount int
	var active bool
	row := tx.QueryRow(s.q(`
		SELECT id, session_id, role, expires_at, max_uses, uses_count, active
		FROM invitations WHERE code = ?
	`), code)
	if err := row.Scan(&id, &sessionID, &role, &expiresAt, &maxUses, &usesCount, &active); err != nil {
		if err == sql.ErrNoRows {
			return "", "", apperr.NotFound("invitation_not_found", "invitation not found")
		}
		return "", "", err
	}

	if !active {
		return "", "", apperr.Conflict(apperr.CodeInvitationSpent, "invitation has no uses remaining")
	}
	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		return "", "", apperr.Conflict(apperr.CodeInvitationExpired, "invitation has expired")
	}
	if usesCount >= maxUses {
		return "", "", apperr.Conflict(apperr.CodeInvitationSpent, "invitation has no uses remaining")
	}

	newCount := usesCount + 1
	stillActive := newCount < maxUses
	if _, err := tx.Exec(s.q(`UPDATE invitations SET uses_count = ?, active = ? WHERE id = ?`), newCount, stillActive, id); err != nil {
		return "", "", err
	}
	if err := tx.Commit(); err != nil {
		return "", "", err
	}
	return permission.Role(role), sessionID, nil
}

func (s *Store) RevokeInvitation(id string) error {
	_, err := s.DB.Exec(s.q(`UPDATE invitations SET active = 0 WHERE id = ?`), id)
	return err
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
