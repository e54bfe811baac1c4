package engine

import (
	"sync"

	"github.com/google/uuid"

	"mudengine/internal/apperr"
	"mudengine/internal/permission"
)

// Event is emitted by an operation in addition to its return value, for
// conditions the caller must surface but that are not themselves errors
// (e.g. an out-of-bounds position was clamped rather than rejected).
type Event struct {
	Kind   string
	Detail string
}

const EventOutOfBoundsClamped = "out_of_bounds_clamped"

// Engine is the authoritative in-memory state for one live session's
// tables, entities and their layer/visibility semantics (§4.C). One Engine
// is owned exclusively by one LiveSession, whose loop performs every write
// (§5 shared-resource policy); reads from other goroutines are guarded by
// the engine's own RWMutex.
type Engine struct {
	mu          sync.RWMutex
	sessionCode string
	tables      map[string]*Table // table id -> table
	byName      map[string]string // table name -> table id, session-unique

	characterOwner CharacterOwnerLookup
}

func New(sessionCode string, ownerLookup CharacterOwnerLookup) *Engine {
	return &Engine{
		sessionCode:    sessionCode,
		tables:         make(map[string]*Table),
		byName:         make(map[string]string),
		characterOwner: ownerLookup,
	}
}

// CreateTable requires modify_session. Fails NAME_CONFLICT if the name is
// already used in the session; INVALID_DIMENSIONS if w <= 0 or h <= 0.
func (e *Engine) CreateTable(actor Actor, name string, width, height int) (*Table, error) {
	if !actor.has(permission.ModifySession) {
		return nil, apperr.Authorization("forbidden", "modify_session required")
	}
	if width <= 0 || height <= 0 {
		return nil, apperr.Validation(apperr.CodeInvalidDimensions, "table dimensions must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.byName[name]; exists {
		return nil, apperr.Conflict(apperr.CodeNameConflict, "a table with this name already exists")
	}

	t := &Table{
		ID:              uuid.New().String(),
		SessionCode:     e.sessionCode,
		Name:            name,
		Width:           width,
		Height:          height,
		ScaleX:          1,
		ScaleY:          1,
		LayerVisibility: defaultLayerVisibility(),
		entities:        make(map[string]*Entity),
	}
	e.tables[t.ID] = t
	e.byName[name] = t.ID
	return t, nil
}

// LoadTable inserts a reconstructed table into the engine, wiring its name
// index (§4.D reconstruction-on-load: "rebuild the in-memory engine").
func (e *Engine) LoadTable(t *Table) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tables[t.ID] = t
	e.byName[t.Name] = t.ID
}

func defaultLayerVisibility() map[string]bool {
	return map[string]bool{
		LayerMap: true, LayerTokens: true, LayerObstacles: true,
		LayerLight: true, LayerDungeonMaster: false,
	}
}

// DeleteTable requires modify_session. Cascades to the table's entities.
func (e *Engine) DeleteTable(actor Actor, tableID string) error {
	if !actor.has(permission.ModifySession) {
		return apperr.Authorization("forbidden", "modify_session required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tables[tableID]
	if !ok {
		return apperr.NotFound("table_not_found", "table not found")
	}
	delete(e.byName, t.Name)
	delete(e.tables, tableID)
	return nil
}

// Table returns a table by id.
func (e *Engine) Table(tableID string) (*Table, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tables[tableID]
	if !ok {
		return nil, apperr.NotFound("table_not_found", "table not found")
	}
	return t, nil
}

// Tables returns every table in the session, in no particular order.
func (e *Engine) Tables() []*Table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Table, 0, len(e.tables))
	for _, t := range e.tables {
		out = append(out, t)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampToBounds clamps (x,y) to [0,width) x [0,height), returning the
// clamped position and whether clamping was necessary.
func clampToBounds(x, y, width, height int) (int, int, bool) {
	cx := clamp(x, 0, width-1)
	cy := clamp(y, 0, height-1)
	return cx, cy, cx != x || cy != y
}

// AddEntity requires create_tokens, or modify_session for the map/obstacles
// layers. Position is clamped into bounds, never rejected or dropped.
func (e *Engine) AddEntity(actor Actor, tableID, name string, x, y int, layer, texture string) (*Entity, []Event, error) {
	canonLayer, ok := NormalizeLayer(layer)
	if !ok {
		return nil, nil, apperr.Validation("invalid_layer", "unknown layer: "+layer)
	}

	needsModifySession := canonLayer == LayerMap || canonLayer == LayerObstacles
	if needsModifySession {
		if !actor.has(permission.ModifySession) {
			return nil, nil, apperr.Authorization("forbidden", "modify_session required for this layer")
		}
	} else if !actor.has(permission.CreateTokens) {
		return nil, nil, apperr.Authorization("forbidden", "create_tokens required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tables[tableID]
	if !ok {
		return nil, nil, apperr.NotFound("table_not_found", "table not found")
	}

	cx, cy, clamped := clampToBounds(x, y, t.Width, t.Height)
	t.nextEntityID++
	ent := &Entity{
		ID:          uuid.New().String(),
		Num:         t.nextEntityID,
		TableID:     t.ID,
		Name:        name,
		X:           cx,
		Y:           cy,
		Layer:       canonLayer,
		Texture:     texture,
		ScaleX:      1,
		ScaleY:      1,
		Controllers: map[string]bool{},
	}
	t.entities[ent.ID] = ent

	var events []Event
	if clamped {
		events = append(events, Event{Kind: EventOutOfBoundsClamped, Detail: ent.ID})
	}
	return ent, events, nil
}

func (e *Engine) findEntity(entityID string) (*Table, *Entity, bool) {
	for _, t := range e.tables {
		if ent, ok := t.entities[entityID]; ok {
			return t, ent, true
		}
	}
	return nil, nil, false
}

// Entity looks up an entity and its parent table by id, for callers
// (internal/transport dispatch, internal/session staging) that need a
// read without performing a mutation.
func (e *Engine) Entity(entityID string) (*Table, *Entity, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ent, ok := e.findEntity(entityID)
	if !ok {
		return nil, nil, apperr.NotFound("entity_not_found", "entity not found")
	}
	return t, ent, nil
}

// canActOnEntity reports whether actor may move ent or update its stats:
// holding allPerm (modify_all_tokens at both call sites), owning the
// entity's bound character, or being in its controller list. Deletion is
// checked by canDeleteEntity instead.
func (e *Engine) canActOnEntity(actor Actor, ent *Entity, allPerm permission.Permission) bool {
	if actor.has(allPerm) {
		return true
	}
	if ent.CharacterID != "" && e.characterOwner != nil {
		if owner, ok := e.characterOwner(ent.CharacterID); ok && owner == actor.UserID {
			return true
		}
	}
	return ent.Controllers[actor.UserID]
}

// MoveEntity requires the actor to own the entity's bound character, be in
// its controller list, or hold modify_all_tokens. Position is clamped into
// bounds. The write is idempotent; broadcast debouncing is a transport
// concern (§4.F), not an engine concern.
func (e *Engine) MoveEntity(actor Actor, entityID string, x, y int) (*Entity, []Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ent, ok := e.findEntity(entityID)
	if !ok {
		return nil, nil, apperr.NotFound("entity_not_found", "entity not found")
	}
	if !e.canActOnEntity(actor, ent, permission.ModifyAllTokens) {
		return nil, nil, apperr.Authorization("forbidden", "not authorized to move this entity")
	}

	cx, cy, clamped := clampToBounds(x, y, t.Width, t.Height)
	ent.X, ent.Y = cx, cy

	var events []Event
	if clamped {
		events = append(events, Event{Kind: EventOutOfBoundsClamped, Detail: ent.ID})
	}
	return ent, events, nil
}

// EntityPatch carries the mutable fields of an update_entity call; nil
// fields are left unchanged.
type EntityPatch struct {
	Name         *string
	Texture      *string
	ScaleX       *float64
	ScaleY       *float64
	Rotation     *float64
	Obstacle     *Shape
	MetadataJSON *string
	Stats        *Stats
	CharacterID  *string
}

// UpdateEntity applies patch with field-level permission checks: obstacle
// data and light metadata require modify_fog_of_war; stats require
// modify_all_tokens or ownership.
func (e *Engine) UpdateEntity(actor Actor, entityID string, patch EntityPatch) (*Entity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ent, ok := e.findEntity(entityID)
	if !ok {
		return nil, apperr.NotFound("entity_not_found", "entity not found")
	}

	if patch.Obstacle != nil && !actor.has(permission.ModifyFogOfWar) {
		return nil, apperr.Authorization("forbidden", "modify_fog_of_war required to edit obstacle data")
	}
	if ent.Layer == LayerLight && patch.MetadataJSON != nil && !actor.has(permission.ModifyFogOfWar) {
		return nil, apperr.Authorization("forbidden", "modify_fog_of_war required to edit light layer metadata")
	}
	if patch.Stats != nil && !e.canActOnEntity(actor, ent, permission.ModifyAllTokens) {
		return nil, apperr.Authorization("forbidden", "not authorized to modify stats")
	}

	if patch.Name != nil {
		ent.Name = *patch.Name
	}
	if patch.Texture != nil {
		ent.Texture = *patch.Texture
	}
	if patch.ScaleX != nil {
		ent.ScaleX = *patch.ScaleX
	}
	if patch.ScaleY != nil {
		ent.ScaleY = *patch.ScaleY
	}
	if patch.Rotation != nil {
		ent.Rotation = *patch.Rotation
	}
	if patch.Obstacle != nil {
		ent.Obstacle = patch.Obstacle
	}
	if patch.MetadataJSON != nil {
		ent.MetadataJSON = *patch.MetadataJSON
	}
	if patch.Stats != nil {
		ent.Stats = patch.Stats
	}
	if patch.CharacterID != nil {
		ent.CharacterID = *patch.CharacterID
	}
	return ent, nil
}

// canDeleteEntity reports whether actor may delete ent: holding
// delete_tokens, or owning the entity's bound character. Unlike
// canActOnEntity, controller-list membership does not grant delete rights —
// spec.md §4.C's delete_entity text is "Requires delete_tokens or
// ownership", deliberately narrower than move_entity's.
func (e *Engine) canDeleteEntity(actor Actor, ent *Entity) bool {
	if actor.has(permission.DeleteTokens) {
		return true
	}
	if ent.CharacterID != "" && e.characterOwner != nil {
		if owner, ok := e.characterOwner(ent.CharacterID); ok && owner == actor.UserID {
			return true
		}
	}
	return false
}

// DeleteEntity requires delete_tokens or ownership. Deletion leaves a hole
// in the per-table numeric id sequence; ids are never reused.
func (e *Engine) DeleteEntity(actor Actor, entityID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ent, ok := e.findEntity(entityID)
	if !ok {
		return apperr.NotFound("entity_not_found", "entity not found")
	}
	if !e.canDeleteEntity(actor, ent) {
		return apperr.Authorization("forbidden", "not authorized to delete this entity")
	}
	delete(t.entities, entityID)
	return nil
}

// UpdateFogRectangles requires modify_fog_of_war and replaces a table's
// fog-of-war rectangle set wholesale (server-authoritative per DESIGN.md
// Open Question decision #6).
func (e *Engine) UpdateFogRectangles(actor Actor, tableID, fogRectanglesJSON string) (*Table, error) {
	if !actor.has(permission.ModifyFogOfWar) {
		return nil, apperr.Authorization("forbidden", "modify_fog_of_war required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tables[tableID]
	if !ok {
		return nil, apperr.NotFound("table_not_found", "table not found")
	}
	t.FogRectangles = fogRectanglesJSON
	return t, nil
}

// VisibleEntities returns a table's entities ordered by ascending numeric
// id within each layer (§4.C ordering/tie-break rule), filtered to the
// layers viewerPerms makes visible: the dungeon_master layer is included
// only when the viewer holds view_dm_layer.
func (e *Engine) VisibleEntities(tableID string, viewerPerms map[permission.Permission]bool) ([]*Entity, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tables[tableID]
	if !ok {
		return nil, apperr.NotFound("table_not_found", "table not found")
	}

	canSeeDM := viewerPerms[permission.ViewDMLayer]
	out := make([]*Entity, 0, len(t.entities))
	for _, ent := range t.entities {
		if ent.Layer == LayerDungeonMaster && !canSeeDM {
			continue
		}
		out = append(out, ent)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Num > out[j].Num; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

// VisibleToViewer reports whether a single entity would be included in
// VisibleEntities for a viewer with the given permission set — used by the
// session loop to decide per-recipient fan-out without recomputing the
// whole table (§4.C layer semantics, §8 testable property).
func VisibleToViewer(ent *Entity, viewerPerms map[permission.Permission]bool) bool {
	if ent.Layer == LayerDungeonMaster {
		return viewerPerms[permission.ViewDMLayer]
	}
	return true
}
