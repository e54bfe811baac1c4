package store

import (
	"crypto/rand"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"mudengine/internal/apperr"
	"mudengine/internal/permission"
)

// codeAlphabet excludes visually ambiguous characters (0, O, 1, I, L) per
// §6's session-code contract.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz"

// GenerateCode returns a random, human-typable code of the given length
// drawn from the unambiguous alphabet. Session codes use 6-8 chars;
// invitation codes are generated longer for lower collision odds.
func GenerateCode(length int) (string, error) {
	out := make([]byte, length)
	idx := make([]byte, length)
	if _, err := rand.Read(idx); err != nil {
		return "", err
	}
	for i, b := range idx {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

// GameSession is the persisted row for §3's GameSession entity.
type GameSession struct {
	ID          string
	Code        string
	DisplayName string
	OwnerUserID string
	Active      bool
	Demo        bool
	StateJSON   string
	CreatedAt   time.Time
}

// GamePlayer is the persisted membership edge for §3's GamePlayer entity.
type GamePlayer struct {
	ID            string
	SessionID     string
	UserID        string
	Role          permission.Role
	Connected     bool
	ActiveTableID string
	CreatedAt     time.Time
}

func (s *Store) CreateGameSession(sess *GameSession) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err := s.DB.Exec(s.q(`
		INSERT INTO game_sessions (id, code, display_name, owner_user_id, active, demo, state_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), sess.ID, sess.Code, sess.DisplayName, sess.OwnerUserID, sess.Active, sess.Demo, sess.StateJSON, sess.CreatedAt)
	return err
}

const gameSessionColumns = `id, code, display_name, owner_user_id, active, demo, state_json, created_at`

func (s *Store) scanGameSession(row *sql.Row) (*GameSession, error) {
	sess := &GameSession{}
	err := row.Scan(&sess.ID, &sess.Code, &sess.DisplayName, &sess.OwnerUserID, &sess.Active, &sess.Demo, &sess.StateJSON, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("session_not_found", "session not found")
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GameSessionByCode looks up a session by its short, case-insensitive-unique
// code (§3). Codes are stored upper-cased; callers normalize on input.
func (s *Store) GameSessionByCode(code string) (*GameSession, error) {
	row := s.DB.QueryRow(s.q(`SELECT `+gameSessionColumns+` FROM game_sessions WHERE code = ?`), code)
	return s.scanGameSession(row)
}

// GameSessionByID looks up a session by its primary key, for endpoints that
// only carry a foreign id (e.g. an invitation's session_id).
func (s *Store) GameSessionByID(id string) (*GameSession, error) {
	row := s.DB.QueryRow(s.q(`SELECT `+gameSessionColumns+` FROM game_sessions WHERE id = ?`), id)
	return s.scanGameSession(row)
}

func (s *Store) UpdateGameSession(sess *GameSession) error {
	_, err := s.DB.Exec(s.q(`
		UPDATE game_sessions SET display_name=?, active=?, demo=?, state_json=? WHERE id=?
	`), sess.DisplayName, sess.Active, sess.Demo, sess.StateJSON, sess.ID)
	return err
}

func (s *Store) DeleteGameSession(id string) error {
	_, err := s.DB.Exec(s.q(`DELETE FROM game_sessions WHERE id=?`), id)
	return err
}

func (s *Store) CreateGamePlayer(p *GamePlayer) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.DB.Exec(s.q(`
		INSERT INTO game_players (id, session_id, user_id, role, connected, active_table_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), p.ID, p.SessionID, p.UserID, string(p.Role), p.Connected, nullIfEmpty(p.ActiveTableID), p.CreatedAt)
	return err
}

const gamePlayerColumns = `id, session_id, user_id, role, connected, active_table_id, created_at`

func scanGamePlayer(row *sql.Row) (*GamePlayer, error) {
	p := &GamePlayer{}
	var role string
	var activeTable sql.NullString
	err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &role, &p.Connected, &activeTable, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("player_not_found", "player not found")
	}
	if err != nil {
		return nil, err
	}
	p.Role = permission.Role(role)
	p.ActiveTableID = activeTable.String
	return p, nil
}

func (s *Store) GamePlayer(sessionID, userID string) (*GamePlayer, error) {
	row := s.DB.QueryRow(s.q(`SELECT `+gamePlayerColumns+` FROM game_players WHERE session_id=? AND user_id=?`), sessionID, userID)
	return scanGamePlayer(row)
}

func (s *Store) GamePlayersBySession(sessionID string) ([]*GamePlayer, error) {
	rows, err := s.DB.Query(s.q(`SELECT `+gamePlayerColumns+` FROM game_players WHERE session_id=?`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*GamePlayer
	for rows.Next() {
		p := &GamePlayer{}
		var role string
		var activeTable sql.NullString
		if err := rows.Scan(&p.ID, &p.SessionID, &p.UserID, &role, &p.Connected, &activeTable, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Role = permission.Role(role)
		p.ActiveTableID = activeTable.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GamePlayersByUser(userID string) ([]*GamePlayer, error) {
	rows, err := s.DB.Query(s.q(`SELECT `+gamePlayerColumns+` FROM game_players WHERE user_id=?`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*GamePlayer
	for rows.Next() {
		p := &GamePlayer{}
		var role string
		var activeTable sql.NullString
		if err := rows.Scan(&p.ID, &p.SessionID, &p.UserID, &role, &p.Connected, &activeTable, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Role = permission.Role(role)
		p.ActiveTableID = activeTable.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateGamePlayer(p *GamePlayer) error {
	_, err := s.DB.Exec(s.q(`
		UPDATE game_players SET role=?, connected=?, active_table_id=? WHERE id=?
	`), string(p.Role), p.Connected, nullIfEmpty(p.ActiveTableID), p.ID)
	return err
}

func (s *Store) DeleteGamePlayer(id string) error {
	_, err := s.DB.Exec(s.q(`DELETE FROM game_players WHERE id=?`), id)
	return err
}

// SessionPermission is the persisted overlay grant for §3's
// SessionPermission entity.
type SessionPermission struct {
	ID         string
	SessionID  string
	UserID     string
	Permission permission.Permission
	GrantedBy  string
	Active     bool
	CreatedAt  time.Time
}

func (s *Store) CreateSessionPermission(g *SessionPermission) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	_, err := s.DB.Exec(s.q(`
		INSERT INTO session_permissions (id, session_id, user_id, permission, granted_by, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), g.ID, g.SessionID, g.UserID, string(g.Permission), g.GrantedBy, g.Active, g.CreatedAt)
	return err
}

func (s *Store) ActiveCustomPermissions(sessionID, userID string) ([]permission.Permission, error) {
	rows, err := s.DB.Query(s.q(`
		SELECT permission FROM session_permissions WHERE session_id=? AND user_id=? AND active=1
	`), sessionID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []permission.Permission
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, permission.Permission(p))
	}
	return out, rows.Err()
}

func (s *Store) RevokeSessionPermission(sessionID, userID string, p permission.Permission) error {
	_, err := s.DB.Exec(s.q(`
		UPDATE session_permissions SET active=0 WHERE session_id=? AND user_id=? AND permission=?
	`), sessionID, userID, string(p))
	return err
}

// Membership is one row of a user's session memberships, joining
// game_players to game_sessions for the `GET /game/api/sessions` listing
// (§6).
type Membership struct {
	SessionCode string
	DisplayName string
	Role        permission.Role
}

// MembershipsForUser lists every session a user belongs to, with their
// role in each, for `GET /game/api/sessions`.
func (s *Store) MembershipsForUser(userID string) ([]Membership, error) {
	rows, err := s.DB.Query(s.q(`
		SELECT gs.code, gs.display_name, gp.role
		FROM game_players gp
		JOIN game_sessions gs ON gs.id = gp.session_id
		WHERE gp.user_id = ? AND gs.active = 1
	`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		var role string
		if err := rows.Scan(&m.SessionCode, &m.DisplayName, &role); err != nil {
			return nil, err
		}
		m.Role = permission.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}
