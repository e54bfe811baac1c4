package store

import (
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"mudengine/internal/apperr"
	"mudengine/internal/engine"
)

// SessionSnapshot is everything internal/session needs to reconstruct a
// LiveSession's in-memory Engine and CharacterStore on first attach after a
// restart (§4.D: "given a session code, load its tables, then all entities
// for those tables in a single joined query, then all characters").
type SessionSnapshot struct {
	Session    *GameSession
	Tables     []*engine.Table
	Characters []*engine.Character
}

// LoadSession fetches a game session plus its full table/entity/character
// graph in four queries (session row, tables, every entity of those tables
// in one query, characters), never one per table. Transient flags (connected, active_table) are reset by the
// caller (internal/session), not here; this layer only reads what was
// persisted.
func (s *Store) LoadSession(code string) (*SessionSnapshot, error) {
	sess, err := s.GameSessionByCode(code)
	if err != nil {
		return nil, err
	}

	tables, err := s.loadTablesWithEntities(sess.ID)
	if err != nil {
		return nil, err
	}

	characters, err := s.loadCharacters(sess.ID)
	if err != nil {
		return nil, err
	}

	return &SessionSnapshot{Session: sess, Tables: tables, Characters: characters}, nil
}

const tableColumns = `id, session_id, name, width, height, pos_x, pos_y, scale_x, scale_y, layer_visibility_json, fog_rectangles_json`

func (s *Store) loadTablesWithEntities(sessionID string) ([]*engine.Table, error) {
	rows, err := s.DB.Query(s.q(`SELECT `+tableColumns+` FROM tables WHERE session_id = ?`), sessionID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*engine.Table)
	var order []string
	for rows.Next() {
		var id, sessionID, name, layerVisJSON, fogJSON string
		var width, height int
		var posX, posY, scaleX, scaleY float64
		if err := rows.Scan(&id, &sessionID, &name, &width, &height, &posX, &posY, &scaleX, &scaleY, &layerVisJSON, &fogJSON); err != nil {
			rows.Close()
			return nil, err
		}
		vis := map[string]bool{}
		_ = json.Unmarshal([]byte(layerVisJSON), &vis)
		t := engine.NewTableFromStorage(id, sessionID, name, width, height, posX, posY, scaleX, scaleY, vis, fogJSON)
		byID[id] = t
		order = append(order, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(order) == 0 {
		return nil, nil
	}

	entRows, err := s.DB.Query(s.q(`
		SELECT id, table_id, num, name, x, y, layer, texture, scale_x, scale_y, rotation,
		       obstacle_kind, obstacle_json, metadata_json, stats_json, character_id, controllers_json
		FROM entities WHERE table_id IN (SELECT id FROM tables WHERE session_id = ?)
	`), sessionID)
	if err != nil {
		return nil, err
	}
	defer entRows.Close()

	for entRows.Next() {
		var id, tableID, name string
		var num, x, y int
		var layer string
		var texture, obstacleKind, obstacleJSON, metadataJSON, statsJSON, characterID, controllersJSON sql.NullString
		var scaleX, scaleY, rotation float64
		if err := entRows.Scan(&id, &tableID, &num, &name, &x, &y, &layer, &texture,
			&scaleX, &scaleY, &rotation, &obstacleKind, &obstacleJSON, &metadataJSON, &statsJSON, &characterID, &controllersJSON); err != nil {
			return nil, err
		}
		t, ok := byID[tableID]
		if !ok {
			continue
		}
		ent := engine.NewEntityFromStorage(id, tableID, num, name, x, y, layer, texture.String,
			scaleX, scaleY, rotation, obstacleKind.String, obstacleJSON.String, metadataJSON.String,
			statsJSON.String, characterID.String, controllersJSON.String)
		t.LoadEntity(ent)
	}

	out := make([]*engine.Table, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

func (s *Store) loadCharacters(sessionID string) ([]*engine.Character, error) {
	rows, err := s.DB.Query(s.q(`
		SELECT id, session_id, name, data_json, owner_user_id, version, last_modified_by
		FROM characters WHERE session_id = ?
	`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*engine.Character
	for rows.Next() {
		var id, sessionID, name, dataJSON, owner string
		var version int
		var lastModifiedBy sql.NullString
		if err := rows.Scan(&id, &sessionID, &name, &dataJSON, &owner, &version, &lastModifiedBy); err != nil {
			return nil, err
		}
		var data map[string]interface{}
		_ = json.Unmarshal([]byte(dataJSON), &data)
		out = append(out, engine.NewCharacterFromStorage(id, sessionID, name, data, owner, version, lastModifiedBy.String))
	}
	return out, rows.Err()
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting every save
// helper below run either standalone or as part of FlushBatch's single
// transaction (§4.D: "flush is a single transaction: either all staged
// mutations commit or none").
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// SaveTable upserts a table's persisted fields (position, scale, layer
// visibility, fog rectangles). Entities are saved separately via SaveEntity
// since they flush at a different granularity (per-entity dirty tracking
// in internal/session, §4.D write-through policy).
func (s *Store) SaveTable(t *engine.Table) error {
	return s.saveTable(s.DB, t)
}

func (s *Store) saveTable(ex execer, t *engine.Table) error {
	visJSON, err := json.Marshal(t.LayerVisibility)
	if err != nil {
		return err
	}
	fogJSON := t.FogRectangles
	if fogJSON == "" {
		fogJSON = "[]"
	}
	_, err = ex.Exec(s.q(`
		INSERT INTO tables (id, session_id, name, width, height, pos_x, pos_y, scale_x, scale_y, layer_visibility_json, fog_rectangles_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pos_x = excluded.pos_x, pos_y = excluded.pos_y,
			scale_x = excluded.scale_x, scale_y = excluded.scale_y,
			layer_visibility_json = excluded.layer_visibility_json,
			fog_rectangles_json = excluded.fog_rectangles_json
	`), t.ID, t.SessionCode, t.Name, t.Width, t.Height, t.PosX, t.PosY, t.ScaleX, t.ScaleY, string(visJSON), fogJSON)
	return err
}

func (s *Store) DeleteTable(id string) error {
	if _, err := s.DB.Exec(s.q(`DELETE FROM entities WHERE table_id = ?`), id); err != nil {
		return err
	}
	_, err := s.DB.Exec(s.q(`DELETE FROM tables WHERE id = ?`), id)
	return err
}

// SaveEntity upserts one entity row, the unit of flush for token
// moves/updates (§4.D write-through policy operates per dirty entity, not
// per table).
func (s *Store) SaveEntity(ent *engine.Entity) error {
	return s.saveEntity(s.DB, ent)
}

func (s *Store) saveEntity(ex execer, ent *engine.Entity) error {
	obstacleKind, obstacleJSON := "", ""
	if ent.Obstacle != nil {
		obstacleKind, obstacleJSON = ent.Obstacle.Kind, ent.Obstacle.JSON
	}
	statsJSON := ""
	if ent.Stats != nil {
		b, err := json.Marshal(ent.Stats)
		if err != nil {
			return err
		}
		statsJSON = string(b)
	}
	controllers := make([]string, 0, len(ent.Controllers))
	for userID := range ent.Controllers {
		controllers = append(controllers, userID)
	}
	controllersJSON, err := json.Marshal(controllers)
	if err != nil {
		return err
	}

	_, err = ex.Exec(s.q(`
		INSERT INTO entities (id, table_id, num, name, x, y, layer, texture, scale_x, scale_y, rotation,
			obstacle_kind, obstacle_json, metadata_json, stats_json, character_id, controllers_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, x = excluded.x, y = excluded.y, layer = excluded.layer,
			texture = excluded.texture, scale_x = excluded.scale_x, scale_y = excluded.scale_y,
			rotation = excluded.rotation, obstacle_kind = excluded.obstacle_kind,
			obstacle_json = excluded.obstacle_json, metadata_json = excluded.metadata_json,
			stats_json = excluded.stats_json, character_id = excluded.character_id,
			controllers_json = excluded.controllers_json
	`), ent.ID, ent.TableID, ent.Num, ent.Name, ent.X, ent.Y, ent.Layer, nullIfEmpty(ent.Texture),
		ent.ScaleX, ent.ScaleY, ent.Rotation, nullIfEmpty(obstacleKind), nullIfEmpty(obstacleJSON),
		nullIfEmpty(ent.MetadataJSON), nullIfEmpty(statsJSON), nullIfEmpty(ent.CharacterID), string(controllersJSON))
	return err
}

func (s *Store) DeleteEntity(id string) error {
	_, err := s.DB.Exec(s.q(`DELETE FROM entities WHERE id = ?`), id)
	return err
}

// SaveCharacter upserts a character row. internal/engine's CharacterStore
// owns version arbitration in memory; this call persists whatever state it
// already accepted.
func (s *Store) SaveCharacter(c *engine.Character) error {
	return s.saveCharacter(s.DB, c)
}

func (s *Store) saveCharacter(ex execer, c *engine.Character) error {
	dataJSON, err := json.Marshal(c.Data)
	if err != nil {
		return err
	}
	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = ex.Exec(s.q(`
		INSERT INTO characters (id, session_id, name, data_json, owner_user_id, version, last_modified_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, data_json = excluded.data_json,
			version = excluded.version, last_modified_by = excluded.last_modified_by
	`), id, c.SessionCode, c.Name, string(dataJSON), c.Owner, c.Version, nullIfEmpty(c.LastModifiedBy))
	if err != nil {
		return apperr.Transient("save_character_failed", "could not persist character", err)
	}
	return nil
}

// DeleteSessionCascade removes a game session and everything scoped to it —
// memberships, custom grants, invitations, tables, entities and characters
// — in one transaction (§6: `DELETE .../admin/delete`).
func (s *Store) DeleteSessionCascade(sessionID string) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return apperr.Transient("delete_session_begin_failed", "could not start delete transaction", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM entities WHERE table_id IN (SELECT id FROM tables WHERE session_id = ?)`,
		`DELETE FROM tables WHERE session_id = ?`,
		`DELETE FROM characters WHERE session_id = ?`,
		`DELETE FROM session_permissions WHERE session_id = ?`,
		`DELETE FROM invitations WHERE session_id = ?`,
		`DELETE FROM game_players WHERE session_id = ?`,
		`DELETE FROM game_sessions WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(s.q(stmt), sessionID); err != nil {
			return apperr.Transient("delete_session_failed", "could not delete session data", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Transient("delete_session_commit_failed", "could not commit session deletion", err)
	}
	return nil
}

// FlushBatch commits every staged table, entity and character mutation in
// one transaction (§4.D: "flush is a single transaction: either all staged
// mutations commit or none"). internal/session's write-through staging
// calls this on its N-mutations/T-milliseconds batch boundary; an empty
// call is a no-op.
func (s *Store) FlushBatch(tables []*engine.Table, entities []*engine.Entity, characters []*engine.Character) error {
	if len(tables) == 0 && len(entities) == 0 && len(characters) == 0 {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return apperr.Transient("flush_begin_failed", "could not start flush transaction", err)
	}
	defer tx.Rollback()

	for _, t := range tables {
		if err := s.saveTable(tx, t); err != nil {
			return apperr.Transient("flush_table_failed", "could not flush table", err)
		}
	}
	for _, e := range entities {
		if err := s.saveEntity(tx, e); err != nil {
			return apperr.Transient("flush_entity_failed", "could not flush entity", err)
		}
	}
	for _, c := range characters {
		if err := s.saveCharacter(tx, c); err != nil {
			return apperr.Transient("flush_character_failed", "could not flush character", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Transient("flush_commit_failed", "could not commit flush transaction", err)
	}
	return nil
}
