// Package engine holds the authoritative in-memory representation of a
// single live session's tables, entities and characters (§4.C), generalizing
// the teacher's RoomManager cache-of-rows pattern from a single global
// room/player cache into a per-session, per-table cache with richer
// entity semantics (layers, bindings, bounds).
package engine

import (
	"encoding/json"

	"mudengine/internal/permission"
)

// Layer names are drawn from a closed set; a small alias table accepts the
// renderer-only spellings the client may still send.
const (
	LayerMap           = "map"
	LayerTokens        = "tokens"
	LayerDungeonMaster = "dungeon_master"
	LayerObstacles     = "obstacles"
	LayerLight         = "light"
)

var canonicalLayers = map[string]bool{
	LayerMap: true, LayerTokens: true, LayerDungeonMaster: true,
	LayerObstacles: true, LayerLight: true,
}

var layerAliases = map[string]string{
	"dm":     LayerDungeonMaster,
	"token":  LayerTokens,
	"fog":    LayerLight,
	"terrain": LayerMap,
}

// NormalizeLayer resolves a renderer-only alias to its canonical layer
// name, and reports whether the result is a member of the closed set.
func NormalizeLayer(layer string) (string, bool) {
	if canonicalLayers[layer] {
		return layer, true
	}
	if canon, ok := layerAliases[layer]; ok {
		return canon, true
	}
	return layer, false
}

// Table is a bounded 2D grid within a session on which entities live (§3).
type Table struct {
	ID              string
	SessionCode     string
	Name            string
	Width           int
	Height          int
	PosX, PosY      float64
	ScaleX, ScaleY  float64
	LayerVisibility map[string]bool // layer -> visible by default
	FogRectangles   string          // opaque JSON array of fog-of-war rectangles; server-authoritative (DESIGN.md Open Question decision #6)

	entities     map[string]*Entity // entity id -> entity
	nextEntityID int                // numeric per-table id, never reused
}

// Shape describes obstacle geometry: a kind tag plus opaque JSON payload
// (rectangle, circle, polygon point lists, …) that the core never
// interprets.
type Shape struct {
	Kind string
	JSON string
}

// Stats carries optional gameplay numbers the core persists but never
// evaluates (no dice/combat authority, §1 Non-goals).
type Stats struct {
	HP         *int
	MaxHP      *int
	AC         *int
	AuraRadius *int
}

// Entity is any positioned object on a table (§3).
type Entity struct {
	ID          string
	Num         int // per-table id, ascending, never reused
	TableID     string
	Name        string
	X, Y        int
	Layer       string
	Texture     string
	ScaleX, ScaleY float64
	Rotation    float64
	Obstacle    *Shape
	MetadataJSON string
	Stats        *Stats
	CharacterID  string          // optional binding, empty if unbound
	Controllers  map[string]bool // explicit controller user ids
}

// Actor carries the resolved identity and effective permission set an
// engine operation is performed on behalf of (§4.B's effective-permission
// computation happens upstream, in internal/session; the engine only
// consumes the result).
type Actor struct {
	UserID      string
	Permissions map[permission.Permission]bool
}

func (a Actor) has(p permission.Permission) bool { return a.Permissions[p] }

// CharacterOwnerLookup returns the owning user id of the given character,
// used by move/update/delete ownership checks.
type CharacterOwnerLookup func(characterID string) (ownerUserID string, ok bool)

// NewTableFromStorage reconstructs a Table from its persisted fields
// (§4.D reconstruction-on-load). nextEntityID is recovered from the
// highest Num seen as entities are loaded via LoadEntity.
func NewTableFromStorage(id, sessionCode, name string, width, height int, posX, posY, scaleX, scaleY float64, layerVisibility map[string]bool, fogRectangles string) *Table {
	if layerVisibility == nil {
		layerVisibility = defaultLayerVisibility()
	}
	return &Table{
		ID:              id,
		SessionCode:     sessionCode,
		Name:            name,
		Width:           width,
		Height:          height,
		PosX:            posX,
		PosY:            posY,
		ScaleX:          scaleX,
		ScaleY:          scaleY,
		LayerVisibility: layerVisibility,
		FogRectangles:   fogRectangles,
		entities:        make(map[string]*Entity),
	}
}

// LoadEntity inserts a reconstructed entity into the table and advances
// nextEntityID past its Num so freshly created entities never reuse an id.
func (t *Table) LoadEntity(ent *Entity) {
	t.entities[ent.ID] = ent
	if ent.Num > t.nextEntityID {
		t.nextEntityID = ent.Num
	}
}

// NewEntityFromStorage reconstructs an Entity from its persisted fields.
func NewEntityFromStorage(id, tableID string, num int, name string, x, y int, layer, texture string,
	scaleX, scaleY, rotation float64, obstacleKind, obstacleJSON, metadataJSON, statsJSON, characterID, controllersJSON string) *Entity {
	ent := &Entity{
		ID:           id,
		Num:          num,
		TableID:      tableID,
		Name:         name,
		X:            x,
		Y:            y,
		Layer:        layer,
		Texture:      texture,
		ScaleX:       scaleX,
		ScaleY:       scaleY,
		Rotation:     rotation,
		MetadataJSON: metadataJSON,
		CharacterID:  characterID,
		Controllers:  map[string]bool{},
	}
	if obstacleKind != "" {
		ent.Obstacle = &Shape{Kind: obstacleKind, JSON: obstacleJSON}
	}
	if statsJSON != "" {
		var st Stats
		if json.Unmarshal([]byte(statsJSON), &st) == nil {
			ent.Stats = &st
		}
	}
	if controllersJSON != "" {
		var ids []string
		if json.Unmarshal([]byte(controllersJSON), &ids) == nil {
			for _, id := range ids {
				ent.Controllers[id] = true
			}
		}
	}
	return ent
}
