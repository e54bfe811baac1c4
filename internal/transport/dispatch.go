package transport

import (
	"encoding/json"
	"time"

	"mudengine/internal/apperr"
	"mudengine/internal/audit"
	"mudengine/internal/engine"
	"mudengine/internal/permission"
	"mudengine/internal/session"
)

// dispatch routes one decoded inbound frame to its handler, generalizing
// the teacher's single-switch command loop (cmd/server/main.go's
// handleClientInput) into a per-frame-type table driven by the closed
// inbound set (§6).
func (h *Hub) dispatch(c *Client, in inboundFrame) {
	if !inboundFrameTypes[in.Type] {
		c.Send(session.Frame{Type: "error", Data: map[string]string{"code": "unknown_frame", "message": "unrecognized frame type: " + in.Type}})
		return
	}

	ls, err := h.manager.Get(c.code)
	if err != nil {
		c.Send(errorFrame(err))
		return
	}

	switch in.Type {
	case "register":
		h.handleRegister(ls, c)
	case "ping":
		c.Send(session.Frame{Type: "pong", Timestamp: time.Now().Unix()})
	case "table_request":
		h.handleTableRequest(ls, c, in.Data)
	case "sprite_update":
		h.handleSpriteUpdate(ls, c, in.Data)
	case "create_entity":
		h.handleCreateEntity(ls, c, in.Data)
	case "move_entity":
		h.handleMoveEntity(ls, c, in.Data)
	case "delete_entity":
		h.handleDeleteEntity(ls, c, in.Data)
	case "update_entity":
		h.handleUpdateEntity(ls, c, in.Data)
	case "character_save":
		h.handleCharacterSave(ls, c, in.Data)
	case "character_load":
		h.handleCharacterLoad(ls, c, in.Data)
	case "fog_update":
		h.handleFogUpdate(ls, c, in.Data)
	case "chat":
		h.handleChat(ls, c, in.Data)
	case "dice_roll":
		h.handleDiceRoll(ls, c, in.Data)
	}
}

func (h *Hub) actorFor(ls *session.LiveSession, userID string) (engine.Actor, map[permission.Permission]bool, error) {
	_, perms, err := ls.PermissionsFor(userID)
	if err != nil {
		return engine.Actor{}, nil, err
	}
	return engine.Actor{UserID: userID, Permissions: perms}, perms, nil
}

// layerFilter returns a Broadcast visibility predicate that hides frames
// about a dungeon_master-layer entity from recipients lacking view_dm_layer
// (§4.C: "a client... must never receive entities on the dungeon_master
// layer"; §8 testable property). Non-DM layers broadcast to everyone.
func (h *Hub) layerFilter(ls *session.LiveSession, layer string) func(userID string) bool {
	if layer != engine.LayerDungeonMaster {
		return nil
	}
	return func(userID string) bool {
		_, perms, err := ls.PermissionsFor(userID)
		return err == nil && perms[permission.ViewDMLayer]
	}
}

func (h *Hub) auditFailure(ls *session.LiveSession, c *Client, eventType string, err error) {
	if h.audit == nil {
		return
	}
	_ = h.audit.Log(audit.Entry{
		EventType:   eventType,
		SessionCode: c.code,
		ActorUserID: c.userID,
		Details:     map[string]interface{}{"error": err.Error()},
	})
}

// handleRegister acknowledges a freshly attached connection and announces
// it to the rest of the session, mirroring the teacher's post-auth
// "player has entered" broadcast.
func (h *Hub) handleRegister(ls *session.LiveSession, c *Client) {
	role, perms, err := ls.PermissionsFor(c.userID)
	if err != nil {
		c.Send(errorFrame(err))
		return
	}
	permNames := make([]string, 0, len(perms))
	for p, ok := range perms {
		if ok {
			permNames = append(permNames, string(p))
		}
	}
	c.Send(session.Frame{Type: "player_joined", Data: map[string]interface{}{
		"user_id": c.userID, "role": string(role), "permissions": permNames, "self": true,
	}})
	ls.Broadcast(session.Frame{Type: "player_joined", Data: map[string]interface{}{"user_id": c.userID, "role": string(role)}},
		func(uid string) bool { return uid != c.userID })
}

type tableRequestData struct {
	TableID string `json:"table_id"`
}

func (h *Hub) handleTableRequest(ls *session.LiveSession, c *Client, raw json.RawMessage) {
	var data tableRequestData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.Send(session.Frame{Type: "error", Data: map[string]string{"code": "bad_frame", "message": "invalid table_request payload"}})
		return
	}

	_, perms, err := ls.PermissionsFor(c.userID)
	if err != nil {
		c.Send(errorFrame(err))
		return
	}
	t, err := ls.Engine().Table(data.TableID)
	if err != nil {
		c.Send(errorFrame(err))
		return
	}
	entities, err := ls.Engine().VisibleEntities(t.ID, perms)
	if err != nil {
		c.Send(errorFrame(err))
		return
	}
	ls.SetActiveTable(c.userID, t.ID)
	c.Send(session.Frame{Type: "table_data", Data: map[string]interface{}{"table": t, "entities": entities}})
}

type spriteUpdateData struct {
	EntityID string `json:"entity_id"`
	Texture  string `json:"texture"`
}

func (h *Hub) handleSpriteUpdate(ls *session.LiveSession, c *Client, raw json.RawMessage) {
	var data spriteUpdateData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.Send(session.Frame{Type: "error", Data: map[string]string{"code": "bad_frame", "message": "invalid sprite_update payload"}})
		return
	}

	actor, _, err := h.actorFor(ls, c.userID)
	if err != nil {
		c.Send(errorFrame(err))
		return
	}

	var updated *engine.Entity
	var opErr error
	ls.Enqueue(func() {
		texture := data.Texture
		updated, opErr = ls.Engine().UpdateEntity(actor, data.EntityID, engine.EntityPatch{Texture: &texture})
		if opErr != nil {
			return
		}
		ls.StageEntity(updated)
	})
	if opErr != nil {
		h.auditFailure(ls, c, "sprite_update_denied", opErr)
		c.Send(errorFrame(opErr))
		return
	}
	ls.Broadcast(session.Frame{Type: "entity_updated", Data: updated}, h.layerFilter(ls, updated.Layer))
}

type createEntityData struct {
	TableID string `json:"table_id"`
	Name    string `json:"name"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Layer   string `json:"layer"`
	Texture string `json:"texture"`
}

func (h *Hub) handleCreateEntity(ls *session.LiveSession, c *Client, raw json.RawMessage) {
	var data createEntityData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.Send(session.Frame{Type: "error", Data: map[string]string{"code": "bad_frame", "message": "invalid create_entity payload"}})
		return
	}

	actor, _, err := h.actorFor(ls, c.userID)
	if err != nil {
		c.Send(errorFrame(err))
		return
	}

	var created *engine.Entity
	var events []engine.Event
	var opErr error
	ls.Enqueue(func() {
		created, events, opErr = ls.Engine().AddEntity(actor, data.TableID, data.Name, data.X, data.Y, data.Layer, data.Texture)
		if opErr != nil {
			return
		}
		ls.StageEntity(created)
	})
	if opErr != nil {
		h.auditFailure(ls, c, "create_entity_denied", opErr)
		c.Send(errorFrame(opErr))
		return
	}

	ls.Broadcast(session.Frame{Type: "entity_added", Data: map[string]interface{}{"entity": created, "events": events}}, h.layerFilter(ls, created.Layer))
}

type moveEntityData struct {
	EntityID string `json:"entity_id"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

// handleMoveEntity applies the move synchronously (so state is never lost)
// then debounces the broadcast per entity (§4.C move_entity: "collapsed at
// broadcast time... but never lost").
func (h *Hub) handleMoveEntity(ls *session.LiveSession, c *Client, raw json.RawMessage) {
	var data moveEntityData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.Send(session.Frame{Type: "error", Data: map[string]string{"code": "bad_frame", "message": "invalid move_entity payload"}})
		return
	}

	actor, _, err := h.actorFor(ls, c.userID)
	if err != nil {
		c.Send(errorFrame(err))
		return
	}

	var moved *engine.Entity
	var events []engine.Event
	var opErr error
	ls.Enqueue(func() {
		moved, events, opErr = ls.Engine().MoveEntity(actor, data.EntityID, data.X, data.Y)
		if opErr != nil {
			return
		}
		ls.StageEntity(moved)
	})
	if opErr != nil {
		h.auditFailure(ls, c, "move_entity_denied", opErr)
		c.Send(errorFrame(opErr))
		return
	}

	h.debouncer.Schedule("move:"+data.EntityID, func() {
		ls.Broadcast(session.Frame{Type: "entity_moved", Data: map[string]interface{}{"entity": moved, "events": events}}, h.layerFilter(ls, moved.Layer))
	})
}

type deleteEntityData struct {
	EntityID string `json:"entity_id"`
}

func (h *Hub) handleDeleteEntity(ls *session.LiveSession, c *Client, raw json.RawMessage) {
	var data deleteEntityData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.Send(session.Frame{Type: "error", Data: map[string]string{"code": "bad_frame", "message": "invalid delete_entity payload"}})
		return
	}

	actor, _, err := h.actorFor(ls, c.userID)
	if err != nil {
		c.Send(errorFrame(err))
		return
	}

	_, existing, err := ls.Engine().Entity(data.EntityID)
	if err != nil {
		c.Send(errorFrame(err))
		return
	}
	layer := existing.Layer

	var opErr error
	ls.Enqueue(func() {
		opErr = ls.Engine().DeleteEntity(actor, data.EntityID)
	})
	if opErr != nil {
		h.auditFailure(ls, c, "delete_entity_denied", opErr)
		c.Send(errorFrame(opErr))
		return
	}
	if err := ls.PersistEntityDelete(data.EntityID); err != nil {
		c.Send(errorFrame(err))
		return
	}
	if h.audit != nil {
		_ = h.audit.Log(audit.Entry{EventType: "entity_deleted", SessionCode: c.code, ActorUserID: c.userID,
			Details: map[string]interface{}{"entity_id": data.EntityID}})
	}
	ls.Broadcast(session.Frame{Type: "entity_removed", Data: map[string]string{"entity_id": data.EntityID}}, h.layerFilter(ls, layer))
}

type updateEntityData struct {
	EntityID     string        `json:"entity_id"`
	Name         *string       `json:"name"`
	Texture      *string       `json:"texture"`
	ScaleX       *float64      `json:"scale_x"`
	ScaleY       *float64      `json:"scale_y"`
	Rotation     *float64      `json:"rotation"`
	Obstacle     *engine.Shape `json:"obstacle"`
	MetadataJSON *string       `json:"metadata_json"`
	Stats        *engine.Stats `json:"stats"`
	CharacterID  *string       `json:"character_id"`
}

func (h *Hub) handleUpdateEntity(ls *session.LiveSession, c *Client, raw json.RawMessage) {
	var data updateEntityData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.Send(session.Frame{Type: "error", Data: map[string]string{"code": "bad_frame", "message": "invalid update_entity payload"}})
		return
	}

	actor, _, err := h.actorFor(ls, c.userID)
	if err != nil {
		c.Send(errorFrame(err))
		return
	}

	patch := engine.EntityPatch{
		Name: data.Name, Texture: data.Texture, ScaleX: data.ScaleX, ScaleY: data.ScaleY,
		Rotation: data.Rotation, Obstacle: data.Obstacle, MetadataJSON: data.MetadataJSON,
		Stats: data.Stats, CharacterID: data.CharacterID,
	}

	var updated *engine.Entity
	var opErr error
	ls.Enqueue(func() {
		updated, opErr = ls.Engine().UpdateEntity(actor, data.EntityID, patch)
		if opErr != nil {
			return
		}
		ls.StageEntity(updated)
	})
	if opErr != nil {
		h.auditFailure(ls, c, "update_entity_denied", opErr)
		c.Send(errorFrame(opErr))
		return
	}
	ls.Broadcast(session.Frame{Type: "entity_updated", Data: updated}, h.layerFilter(ls, updated.Layer))
}

type characterSaveData struct {
	CharacterID     string                 `json:"character_id"`
	Patch           map[string]interface{} `json:"patch"`
	ExpectedVersion *int                   `json:"expected_version"`
}

// handleCharacterSave enforces field ownership (edit_own_characters vs
// edit_all_characters) the engine's CharacterStore itself is agnostic to,
// then persists synchronously — character save's success contract
// includes durability (§5, internal/session/writer.go PersistCharacterNow).
func (h *Hub) handleCharacterSave(ls *session.LiveSession, c *Client, raw json.RawMessage) {
	var data characterSaveData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.Send(session.Frame{Type: "error", Data: map[string]string{"code": "bad_frame", "message": "invalid character_save payload"}})
		return
	}

	_, perms, err := ls.PermissionsFor(c.userID)
	if err != nil {
		c.Send(errorFrame(err))
		return
	}

	characterID := data.CharacterID
	if characterID == "" {
		characterID = engine.NewCharacterID()
	}
	if existing, ok := ls.Characters().Get(characterID); ok {
		isOwner := existing.Owner == c.userID
		if !perms[permission.EditAllCharacters] && !(isOwner && perms[permission.EditOwnCharacters]) {
			opErr := apperr.Authorization("forbidden", "not authorized to edit this character")
			h.auditFailure(ls, c, "character_save_denied", opErr)
			c.Send(errorFrame(opErr))
			return
		}
	} else if !perms[permission.CreateCharacters] {
		opErr := apperr.Authorization("forbidden", "create_characters required")
		h.auditFailure(ls, c, "character_save_denied", opErr)
		c.Send(errorFrame(opErr))
		return
	}

	saved, opErr := ls.Characters().SaveCharacter(ls.Code, characterID, data.Patch, c.userID, data.ExpectedVersion)
	if opErr != nil {
		c.Send(errorFrame(opErr))
		return
	}
	if err := ls.PersistCharacterNow(saved); err != nil {
		c.Send(errorFrame(err))
		return
	}
	ls.Broadcast(session.Frame{Type: "character_updated", Data: saved}, nil)
}

type characterLoadData struct {
	CharacterID string `json:"character_id"`
}

func (h *Hub) handleCharacterLoad(ls *session.LiveSession, c *Client, raw json.RawMessage) {
	var data characterLoadData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.Send(session.Frame{Type: "error", Data: map[string]string{"code": "bad_frame", "message": "invalid character_load payload"}})
		return
	}
	ch, ok := ls.Characters().Get(data.CharacterID)
	if !ok {
		c.Send(errorFrame(apperr.NotFound("character_not_found", "character not found")))
		return
	}
	c.Send(session.Frame{Type: "character_updated", Data: ch})
}

type fogUpdateData struct {
	TableID           string `json:"table_id"`
	FogRectanglesJSON string `json:"fog_rectangles_json"`
}

func (h *Hub) handleFogUpdate(ls *session.LiveSession, c *Client, raw json.RawMessage) {
	var data fogUpdateData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.Send(session.Frame{Type: "error", Data: map[string]string{"code": "bad_frame", "message": "invalid fog_update payload"}})
		return
	}

	actor, _, err := h.actorFor(ls, c.userID)
	if err != nil {
		c.Send(errorFrame(err))
		return
	}

	var updated *engine.Table
	var opErr error
	ls.Enqueue(func() {
		updated, opErr = ls.Engine().UpdateFogRectangles(actor, data.TableID, data.FogRectanglesJSON)
		if opErr != nil {
			return
		}
		ls.StageTable(updated)
	})
	if opErr != nil {
		h.auditFailure(ls, c, "fog_update_denied", opErr)
		c.Send(errorFrame(opErr))
		return
	}

	ls.Broadcast(session.Frame{Type: "fog_updated", Data: updated}, func(userID string) bool {
		_, perms, err := ls.PermissionsFor(userID)
		return err == nil && perms[permission.ViewFogOfWar]
	})
}

type chatData struct {
	Message string `json:"message"`
}

func (h *Hub) handleChat(ls *session.LiveSession, c *Client, raw json.RawMessage) {
	var data chatData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.Send(session.Frame{Type: "error", Data: map[string]string{"code": "bad_frame", "message": "invalid chat payload"}})
		return
	}
	ls.Broadcast(session.Frame{Type: "chat", Data: map[string]interface{}{
		"user_id": c.userID, "message": data.Message, "timestamp": time.Now().Unix(),
	}}, nil)
}

type diceRollData struct {
	Expression string `json:"expression"`
	Result     int    `json:"result"`
	Private    bool   `json:"private"`
}

// handleDiceRoll relays a client-computed roll without arbitrating game
// rules (spec.md §1 non-goal: "no dice engine authority"), gating private
// rolls by roll_dice_private/view_private_rolls (§4.B).
func (h *Hub) handleDiceRoll(ls *session.LiveSession, c *Client, raw json.RawMessage) {
	var data diceRollData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.Send(session.Frame{Type: "error", Data: map[string]string{"code": "bad_frame", "message": "invalid dice_roll payload"}})
		return
	}

	_, perms, err := ls.PermissionsFor(c.userID)
	if err != nil {
		c.Send(errorFrame(err))
		return
	}
	needed := permission.RollDicePublic
	if data.Private {
		needed = permission.RollDicePrivate
	}
	if !perms[needed] {
		opErr := apperr.Authorization("forbidden", string(needed)+" required")
		h.auditFailure(ls, c, "dice_roll_denied", opErr)
		c.Send(errorFrame(opErr))
		return
	}

	payload := map[string]interface{}{
		"user_id": c.userID, "expression": data.Expression, "result": data.Result, "private": data.Private,
	}
	if !data.Private {
		ls.Broadcast(session.Frame{Type: "dice_result", Data: payload}, nil)
		return
	}
	ls.Broadcast(session.Frame{Type: "dice_result", Data: payload}, func(userID string) bool {
		if userID == c.userID {
			return true
		}
		_, viewerPerms, err := ls.PermissionsFor(userID)
		return err == nil && viewerPerms[permission.ViewPrivateRolls]
	})
}
