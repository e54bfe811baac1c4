// Package session generalizes the teacher's flat Server/Client registry
// (cmd/server/main.go's single global Server holding one map[*Client]bool)
// into a map of independently-scheduled LiveSessions, one per game session
// code, each serializing its own mutations and fan-out through a single
// command queue (§4.E, §4.F, §5).
package session

import (
	"sync"
	"time"

	"mudengine/internal/audit"
	"mudengine/internal/engine"
	"mudengine/internal/permission"
	"mudengine/internal/store"
)

// State is a LiveSession's position in the nascent->live<->idle->evicted
// lifecycle (§4.H state-machine view).
type State int

const (
	StateNascent State = iota
	StateLive
	StateIdle
	StateEvicted
)

// Frame is one outbound real-time message; Type is drawn from the closed
// set in §6.
type Frame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// ClientHandle is one connected real-time channel. internal/transport
// implements this against a websocket connection, owning its own bounded
// outbound queue and backpressure policy (§4.F); internal/session calls
// ID/UserID to route frames and Send/Close to deliver or disconnect.
type ClientHandle interface {
	ID() string
	UserID() string
	Send(Frame)
	Close()
}

type permView struct {
	role        permission.Role
	permissions map[permission.Permission]bool
}

// LiveSession owns one game session's in-memory engine, connected clients,
// and permission cache (§4.E). All mutation and fan-out for this session
// passes through run(), its single command-processing goroutine — the
// realization of §5's "single logical queue" per session.
type LiveSession struct {
	Code      string
	sessionID string

	eng        *engine.Engine
	characters *engine.CharacterStore
	db         *store.Store
	audit      *audit.Logger

	commands chan func()
	stopped  chan struct{}

	mu           sync.Mutex
	clients      map[string]ClientHandle // clientID -> handle
	userClients  map[string][]string     // userID -> clientIDs currently attached
	permCache    map[string]permView     // userID -> resolved permission view
	activeTable  map[string]string       // userID -> active table id
	state        State
	lastActivity time.Time

	dirtyMu         sync.Mutex
	dirtyTables     map[string]*engine.Table
	dirtyEntities   map[string]*engine.Entity
	dirtyCharacters map[string]*engine.Character
	flushTimer      *time.Timer
}

func newLiveSession(code, sessionID string, eng *engine.Engine, characters *engine.CharacterStore, db *store.Store, auditLog *audit.Logger) *LiveSession {
	ls := &LiveSession{
		Code:         code,
		sessionID:    sessionID,
		eng:          eng,
		characters:   characters,
		db:           db,
		audit:        auditLog,
		commands:     make(chan func(), 256),
		stopped:      make(chan struct{}),
		clients:      make(map[string]ClientHandle),
		userClients:  make(map[string][]string),
		permCache:    make(map[string]permView),
		activeTable:  make(map[string]string),
		state:        StateNascent,
		lastActivity: time.Now(),

		dirtyTables:     make(map[string]*engine.Table),
		dirtyEntities:   make(map[string]*engine.Entity),
		dirtyCharacters: make(map[string]*engine.Character),
	}
	go ls.run()
	return ls
}

// run is the session loop: every mutation (attach, detach, engine write,
// permission invalidation) is submitted as a closure on commands and
// executed here, one at a time, giving the total order §5 requires.
func (ls *LiveSession) run() {
	for {
		select {
		case cmd := <-ls.commands:
			cmd()
		case <-ls.stopped:
			return
		}
	}
}

// Enqueue submits a unit of work to the session loop and blocks the caller
// until it completes, mirroring the "mutating call returns before flush,
// except where durability is part of the contract" rule (§5) — durability
// waits happen inside the closure, not at the Enqueue boundary.
func (ls *LiveSession) Enqueue(fn func()) {
	done := make(chan struct{})
	ls.commands <- func() {
		fn()
		close(done)
	}
	<-done
}

// Stop cancels the session loop. Any command already accepted completes;
// no further commands are processed.
func (ls *LiveSession) Stop() {
	close(ls.stopped)
}

func (ls *LiveSession) touch() {
	ls.mu.Lock()
	ls.lastActivity = time.Now()
	ls.mu.Unlock()
}

func (ls *LiveSession) State() State {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.state
}

func (ls *LiveSession) IdleSince() (time.Time, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.lastActivity, ls.state == StateIdle
}

// Engine exposes the in-memory table/entity engine for REST handlers that
// need synchronous reads (e.g. listing tables); writes still go through
// Enqueue so they serialize with real-time traffic.
func (ls *LiveSession) Engine() *engine.Engine { return ls.eng }

// Characters exposes the character store for the same reason.
func (ls *LiveSession) Characters() *engine.CharacterStore { return ls.characters }

// PermissionsFor returns the cached effective permission set for a user,
// computing and caching it on first access (§4.B effective-permission
// algorithm, §4.E "small cache... with invalidation on any permission or
// role write").
func (ls *LiveSession) PermissionsFor(userID string) (permission.Role, map[permission.Permission]bool, error) {
	ls.mu.Lock()
	if v, ok := ls.permCache[userID]; ok {
		ls.mu.Unlock()
		return v.role, v.permissions, nil
	}
	ls.mu.Unlock()

	player, err := ls.db.GamePlayer(ls.sessionID, userID)
	if err != nil {
		return "", nil, err
	}
	custom, err := ls.db.ActiveCustomPermissions(ls.sessionID, userID)
	if err != nil {
		return "", nil, err
	}
	eff := permission.Effective(player.Role, custom)

	ls.mu.Lock()
	ls.permCache[userID] = permView{role: player.Role, permissions: eff}
	ls.mu.Unlock()

	return player.Role, eff, nil
}

// InvalidatePermissions drops a user's cached permission view, forcing
// recomputation on next access. Called whenever a role or custom-grant
// write lands for this session.
func (ls *LiveSession) InvalidatePermissions(userID string) {
	ls.mu.Lock()
	delete(ls.permCache, userID)
	ls.mu.Unlock()
}

// ActiveTable returns a user's last-known active table id, empty if none.
func (ls *LiveSession) ActiveTable(userID string) string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.activeTable[userID]
}

func (ls *LiveSession) setActiveTable(userID, tableID string) {
	ls.mu.Lock()
	ls.activeTable[userID] = tableID
	ls.mu.Unlock()
}

// SetActiveTable records which table a user is currently viewing, so
// internal/transport can scope subsequent move/update frames without the
// client repeating the table id on every message.
func (ls *LiveSession) SetActiveTable(userID, tableID string) {
	ls.setActiveTable(userID, tableID)
}

// Broadcast fans a frame out to every connected client, each according to
// its own visibility predicate (layer visibility, private-roll visibility,
// §4.F). visible == nil means "send to everyone".
func (ls *LiveSession) Broadcast(frame Frame, visible func(userID string) bool) {
	ls.mu.Lock()
	handles := make([]ClientHandle, 0, len(ls.clients))
	for _, h := range ls.clients {
		handles = append(handles, h)
	}
	ls.mu.Unlock()

	for _, h := range handles {
		if visible != nil && !visible(h.UserID()) {
			continue
		}
		h.Send(frame)
	}
}

// Unicast sends a frame to every client belonging to one user (a user may
// have more than one open channel).
func (ls *LiveSession) Unicast(userID string, frame Frame) {
	ls.mu.Lock()
	ids := append([]string(nil), ls.userClients[userID]...)
	handles := make([]ClientHandle, 0, len(ids))
	for _, id := range ids {
		if h, ok := ls.clients[id]; ok {
			handles = append(handles, h)
		}
	}
	ls.mu.Unlock()

	for _, h := range handles {
		h.Send(frame)
	}
}
