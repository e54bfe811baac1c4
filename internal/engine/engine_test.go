package engine

import (
	"testing"

	"mudengine/internal/apperr"
	"mudengine/internal/permission"
)

func actorWith(perms ...permission.Permission) Actor {
	m := make(map[permission.Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return Actor{UserID: "u1", Permissions: m}
}

func TestCreateTableRequiresModifySession(t *testing.T) {
	e := New("ABCD12", nil)
	if _, err := e.CreateTable(actorWith(), "dungeon", 10, 10); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if _, err := e.CreateTable(actorWith(permission.ModifySession), "dungeon", 10, 10); err != nil {
		t.Fatalf("expected table creation to succeed: %v", err)
	}
}

func TestCreateTableRejectsInvalidDimensions(t *testing.T) {
	e := New("ABCD12", nil)
	actor := actorWith(permission.ModifySession)
	if _, err := e.CreateTable(actor, "t", 0, 10); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for zero width, got %v", err)
	}
}

func TestCreateTableRejectsNameConflict(t *testing.T) {
	e := New("ABCD12", nil)
	actor := actorWith(permission.ModifySession)
	if _, err := e.CreateTable(actor, "dungeon", 10, 10); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := e.CreateTable(actor, "dungeon", 5, 5); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestAddEntityClampsOutOfBoundsPosition(t *testing.T) {
	e := New("ABCD12", nil)
	owner := actorWith(permission.ModifySession)
	table, err := e.CreateTable(owner, "dungeon", 10, 10)
	if err != nil {
		t.Fatalf("create table failed: %v", err)
	}

	player := actorWith(permission.CreateTokens)
	ent, events, err := e.AddEntity(player, table.ID, "goblin", 50, -3, LayerTokens, "goblin.png")
	if err != nil {
		t.Fatalf("add entity failed: %v", err)
	}
	if ent.X != 9 || ent.Y != 0 {
		t.Fatalf("expected clamp to (9,0), got (%d,%d)", ent.X, ent.Y)
	}
	if len(events) != 1 || events[0].Kind != EventOutOfBoundsClamped {
		t.Fatalf("expected an out-of-bounds-clamped event, got %v", events)
	}
}

func TestAddEntityToMapLayerRequiresModifySession(t *testing.T) {
	e := New("ABCD12", nil)
	owner := actorWith(permission.ModifySession)
	table, _ := e.CreateTable(owner, "dungeon", 10, 10)

	player := actorWith(permission.CreateTokens)
	if _, _, err := e.AddEntity(player, table.ID, "bg", 0, 0, LayerMap, "bg.png"); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Fatalf("expected authorization error adding to map layer, got %v", err)
	}
}

func TestMoveEntityRequiresOwnershipOrControllerOrModifyAll(t *testing.T) {
	e := New("ABCD12", nil)
	owner := actorWith(permission.ModifySession, permission.CreateTokens)
	table, _ := e.CreateTable(owner, "dungeon", 10, 10)
	ent, _, _ := e.AddEntity(owner, table.ID, "goblin", 1, 1, LayerTokens, "goblin.png")

	stranger := Actor{UserID: "stranger", Permissions: map[permission.Permission]bool{}}
	if _, _, err := e.MoveEntity(stranger, ent.ID, 2, 2); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Fatalf("expected authorization error, got %v", err)
	}

	gm := Actor{UserID: "gm", Permissions: map[permission.Permission]bool{permission.ModifyAllTokens: true}}
	moved, _, err := e.MoveEntity(gm, ent.ID, 2, 2)
	if err != nil {
		t.Fatalf("expected move to succeed for modify_all_tokens holder: %v", err)
	}
	if moved.X != 2 || moved.Y != 2 {
		t.Fatalf("expected entity at (2,2), got (%d,%d)", moved.X, moved.Y)
	}
}

func TestDungeonMasterLayerHiddenFromViewersWithoutPermission(t *testing.T) {
	e := New("ABCD12", nil)
	gm := actorWith(permission.ModifySession, permission.CreateTokens, permission.ModifyDMLayer)
	table, _ := e.CreateTable(gm, "dungeon", 10, 10)
	e.AddEntity(gm, table.ID, "token", 1, 1, LayerTokens, "a.png")
	e.AddEntity(gm, table.ID, "note", 2, 2, LayerDungeonMaster, "b.png")

	playerView, err := e.VisibleEntities(table.ID, map[permission.Permission]bool{})
	if err != nil {
		t.Fatalf("visible entities failed: %v", err)
	}
	if len(playerView) != 1 {
		t.Fatalf("expected player to see only 1 entity, got %d", len(playerView))
	}

	gmView, err := e.VisibleEntities(table.ID, map[permission.Permission]bool{permission.ViewDMLayer: true})
	if err != nil {
		t.Fatalf("visible entities failed: %v", err)
	}
	if len(gmView) != 2 {
		t.Fatalf("expected gm to see 2 entities, got %d", len(gmView))
	}
}

func TestEntityOrderingIsByAscendingNumericID(t *testing.T) {
	e := New("ABCD12", nil)
	gm := actorWith(permission.ModifySession, permission.CreateTokens)
	table, _ := e.CreateTable(gm, "dungeon", 10, 10)
	e.AddEntity(gm, table.ID, "c", 1, 1, LayerTokens, "c.png")
	e.AddEntity(gm, table.ID, "a", 2, 2, LayerTokens, "a.png")
	e.AddEntity(gm, table.ID, "b", 3, 3, LayerTokens, "b.png")

	visible, err := e.VisibleEntities(table.ID, map[permission.Permission]bool{})
	if err != nil {
		t.Fatalf("visible entities failed: %v", err)
	}
	names := []string{visible[0].Name, visible[1].Name, visible[2].Name}
	if names[0] != "c" || names[1] != "a" || names[2] != "b" {
		t.Fatalf("expected insertion order c,a,b got %v", names)
	}
}

func TestCharacterVersioningProtocol(t *testing.T) {
	store := NewCharacterStore()
	c, err := store.SaveCharacter("ABCD12", "c1", map[string]interface{}{"hp": 10.0}, "alice", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if c.Version != 1 {
		t.Fatalf("expected version 1, got %d", c.Version)
	}

	v1 := 1
	c2, err := store.SaveCharacter("ABCD12", "c1", map[string]interface{}{"hp": 12.0}, "alice", &v1)
	if err != nil {
		t.Fatalf("save with correct expected_version failed: %v", err)
	}
	if c2.Version != 2 {
		t.Fatalf("expected version 2, got %d", c2.Version)
	}

	c3, err := store.SaveCharacter("ABCD12", "c1", map[string]interface{}{"hp": 20.0}, "bob", &v1)
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if c3.Version != 2 || c3.Data["hp"] != 12.0 {
		t.Fatalf("expected stored state unchanged on conflict, got %+v", c3)
	}
}

func TestDeepMergeSemantics(t *testing.T) {
	store := NewCharacterStore()
	store.SaveCharacter("S", "c1", map[string]interface{}{
		"hp": 10.0,
		"inventory": map[string]interface{}{
			"gold": 5.0,
			"tags": []interface{}{"a", "b"},
		},
	}, "alice", nil)

	v1 := 1
	c, err := store.SaveCharacter("S", "c1", map[string]interface{}{
		"inventory": map[string]interface{}{
			"gold": 10.0,
			"tags": []interface{}{"c"},
		},
	}, "alice", &v1)
	if err != nil {
		t.Fatalf("merge save failed: %v", err)
	}

	inv := c.Data["inventory"].(map[string]interface{})
	if inv["gold"] != 10.0 {
		t.Fatalf("expected gold overwritten to 10, got %v", inv["gold"])
	}
	tags := inv["tags"].([]interface{})
	if len(tags) != 1 || tags[0] != "c" {
		t.Fatalf("expected array replaced wholesale, got %v", tags)
	}
	if c.Data["hp"] != 10.0 {
		t.Fatalf("expected untouched top-level key preserved, got %v", c.Data["hp"])
	}
}
