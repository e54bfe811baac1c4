package session

import (
	"mudengine/internal/engine"
	"mudengine/internal/permission"
)

// TableSnapshot carries one table's geometry plus its viewer-filtered
// entities, the unit sent to a client on attach (§4.E).
type TableSnapshot struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Width         int              `json:"width"`
	Height        int              `json:"height"`
	FogRectangles string           `json:"fog_rectangles"`
	Entities      []*engine.Entity `json:"entities"`
}

// PlayerSnapshot is one member's role/connection state as seen in the
// initial snapshot's player list.
type PlayerSnapshot struct {
	UserID    string          `json:"user_id"`
	Role      permission.Role `json:"role"`
	Connected bool            `json:"connected"`
}

// Snapshot is the full payload of an outbound "snapshot" frame: every
// table (entities filtered by the recipient's layer visibility), the
// session's player roster, and the recipient's own role (§4.E, §6).
type Snapshot struct {
	SessionCode string                 `json:"session_code"`
	Tables      []TableSnapshot        `json:"tables"`
	Players     []PlayerSnapshot       `json:"players"`
	Role        permission.Role        `json:"role"`
	Permissions []permission.Permission `json:"permissions"`
}

func buildSnapshot(ls *LiveSession, userID string, role permission.Role, perms map[permission.Permission]bool) *Snapshot {
	tables := ls.eng.Tables()
	tableSnaps := make([]TableSnapshot, 0, len(tables))
	for _, t := range tables {
		entities, err := ls.eng.VisibleEntities(t.ID, perms)
		if err != nil {
			continue
		}
		tableSnaps = append(tableSnaps, TableSnapshot{
			ID: t.ID, Name: t.Name, Width: t.Width, Height: t.Height,
			FogRectangles: t.FogRectangles, Entities: entities,
		})
	}

	players, _ := ls.db.GamePlayersBySession(ls.sessionID)
	playerSnaps := make([]PlayerSnapshot, 0, len(players))
	for _, p := range players {
		playerSnaps = append(playerSnaps, PlayerSnapshot{UserID: p.UserID, Role: p.Role, Connected: p.Connected})
	}

	permList := make([]permission.Permission, 0, len(perms))
	for p := range perms {
		permList = append(permList, p)
	}

	return &Snapshot{
		SessionCode: ls.Code,
		Tables:      tableSnaps,
		Players:     playerSnaps,
		Role:        role,
		Permissions: permList,
	}
}
