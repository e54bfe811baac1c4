package session

import (
	"sync"
	"time"

	"mudengine/internal/apperr"
	"mudengine/internal/audit"
	"mudengine/internal/engine"
	"mudengine/internal/permission"
	"mudengine/internal/store"
)

// Manager holds the process-wide map of session code -> LiveSession (§4.E).
// No session is live at startup; sessions are instantiated lazily on first
// REST or real-time access for their code.
type Manager struct {
	db        *store.Store
	auditLog  *audit.Logger
	idleAfter time.Duration

	mu       sync.Mutex
	sessions map[string]*LiveSession
}

func NewManager(db *store.Store, auditLog *audit.Logger, idleAfter time.Duration) *Manager {
	return &Manager{db: db, auditLog: auditLog, idleAfter: idleAfter, sessions: make(map[string]*LiveSession)}
}

// Get returns the LiveSession for code, constructing and loading it from
// persistence on first access (§4.E "nascent -> live on first attach or
// first REST access"). CharacterOwnerLookup is wired back into the engine
// so move/update/delete ownership checks can resolve bound characters.
func (m *Manager) Get(code string) (*LiveSession, error) {
	m.mu.Lock()
	if ls, ok := m.sessions[code]; ok && ls.State() != StateEvicted {
		m.mu.Unlock()
		return ls, nil
	}
	m.mu.Unlock()

	snapshot, err := m.db.LoadSession(code)
	if err != nil {
		return nil, err
	}

	// Reset transient per-player flags left over from before this load:
	// nobody is connected yet and no active table is selected.
	players, err := m.db.GamePlayersBySession(snapshot.Session.ID)
	if err != nil {
		return nil, err
	}
	for _, p := range players {
		if p.Connected || p.ActiveTableID != "" {
			p.Connected, p.ActiveTableID = false, ""
			if err := m.db.UpdateGamePlayer(p); err != nil {
				return nil, err
			}
		}
	}

	characters := engine.NewCharacterStore()
	characters.Load(snapshot.Characters)

	eng := engine.New(code, characters.OwnerOf)
	for _, t := range snapshot.Tables {
		eng.LoadTable(t)
	}

	ls := newLiveSession(code, snapshot.Session.ID, eng, characters, m.db, m.auditLog)

	m.mu.Lock()
	m.sessions[code] = ls
	m.mu.Unlock()

	return ls, nil
}

// Evict forcibly checkpoints and removes a session from memory, used by
// the idle sweep and by explicit session deletion. The session stays
// registered in m.sessions until its checkpoint has committed, so a
// concurrent Get for the same code is handed the still-live session rather
// than racing LoadSession into reconstructing one from not-yet-flushed
// data.
func (m *Manager) Evict(code string) error {
	m.mu.Lock()
	ls, ok := m.sessions[code]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := m.Checkpoint(ls); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, code)
	m.mu.Unlock()

	ls.mu.Lock()
	ls.state = StateEvicted
	ls.mu.Unlock()
	ls.Stop()
	return nil
}

// Checkpoint flushes every table, entity and character currently held by a
// LiveSession's in-memory engine (§4.D write-through, "explicit checkpoint"
// flush trigger).
func (m *Manager) Checkpoint(ls *LiveSession) error {
	var flushErr error
	ls.Enqueue(func() {
		for _, t := range ls.eng.Tables() {
			if err := m.db.SaveTable(t); err != nil {
				flushErr = err
				return
			}
			viewers := map[permission.Permission]bool{permission.ViewDMLayer: true}
			entities, err := ls.eng.VisibleEntities(t.ID, viewers)
			if err != nil {
				flushErr = err
				return
			}
			for _, ent := range entities {
				if err := m.db.SaveEntity(ent); err != nil {
					flushErr = err
					return
				}
			}
		}
		for _, c := range ls.characters.All() {
			if err := m.db.SaveCharacter(c); err != nil {
				flushErr = err
				return
			}
		}
	})
	return flushErr
}

// CheckpointAll flushes every currently live session, used by the process
// shutdown sequence (§4.D's "session shutdown" flush trigger — distinct
// from the idle-eviction checkpoint, which only covers sessions already
// quiet).
func (m *Manager) CheckpointAll() error {
	m.mu.Lock()
	sessions := make([]*LiveSession, 0, len(m.sessions))
	for _, ls := range m.sessions {
		sessions = append(sessions, ls)
	}
	m.mu.Unlock()

	var firstErr error
	for _, ls := range sessions {
		if err := m.Checkpoint(ls); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SweepIdle checkpoints and evicts every session that has had zero
// connected clients for longer than idleAfter (§4.H "idle -> evicted after
// quiet period, preceded by a checkpoint flush"). Intended to be driven by
// a ticker in cmd/server/main.go.
func (m *Manager) SweepIdle() {
	m.mu.Lock()
	codes := make([]string, 0, len(m.sessions))
	for code, ls := range m.sessions {
		if since, idle := ls.IdleSince(); idle && time.Since(since) >= m.idleAfter {
			codes = append(codes, code)
		}
	}
	m.mu.Unlock()

	for _, code := range codes {
		_ = m.Evict(code)
	}
}

// Attach implements §4.E's attach(code, user, channel): verifies
// membership, marks connected, caches the permission view, registers the
// channel, and returns the initial snapshot frame payload.
func (m *Manager) Attach(code, userID string, client ClientHandle) (*LiveSession, *Snapshot, error) {
	ls, err := m.Get(code)
	if err != nil {
		return nil, nil, err
	}

	var snap *Snapshot
	var attachErr error
	ls.Enqueue(func() {
		player, err := m.db.GamePlayer(ls.sessionID, userID)
		if err != nil {
			attachErr = apperr.Authorization("not_a_member", "user is not a member of this session")
			return
		}

		player.Connected = true
		if err := m.db.UpdateGamePlayer(player); err != nil {
			attachErr = apperr.Transient("update_player_failed", "could not mark player connected", err)
			return
		}

		role, perms, err := ls.PermissionsFor(userID)
		if err != nil {
			attachErr = err
			return
		}

		ls.mu.Lock()
		ls.clients[client.ID()] = client
		ls.userClients[userID] = append(ls.userClients[userID], client.ID())
		ls.state = StateLive
		ls.lastActivity = time.Now()
		ls.mu.Unlock()

		snap = buildSnapshot(ls, userID, role, perms)
	})
	if attachErr != nil {
		return nil, nil, attachErr
	}
	return ls, snap, nil
}

// Kick forcibly disconnects every channel a user has open on this session
// (§6: `DELETE .../players/{uid}`), distinct from Detach in that it is
// driven by an admin action rather than the channel closing on its own.
func (m *Manager) Kick(ls *LiveSession, userID string) {
	ls.Enqueue(func() {
		ls.mu.Lock()
		ids := append([]string(nil), ls.userClients[userID]...)
		handles := make([]ClientHandle, 0, len(ids))
		for _, id := range ids {
			if h, ok := ls.clients[id]; ok {
				handles = append(handles, h)
				delete(ls.clients, id)
			}
		}
		delete(ls.userClients, userID)
		ls.mu.Unlock()

		for _, h := range handles {
			h.Close()
		}
	})
}

// Detach reverses Attach: removes the channel, marks the user disconnected
// once their last channel closes, and transitions live->idle when the
// session has no clients left (§4.E).
func (m *Manager) Detach(ls *LiveSession, userID, clientID string) {
	ls.Enqueue(func() {
		ls.mu.Lock()
		delete(ls.clients, clientID)
		remaining := ls.userClients[userID][:0]
		for _, id := range ls.userClients[userID] {
			if id != clientID {
				remaining = append(remaining, id)
			}
		}
		ls.userClients[userID] = remaining
		userStillConnected := len(remaining) > 0
		sessionEmpty := len(ls.clients) == 0
		if sessionEmpty {
			ls.state = StateIdle
			ls.lastActivity = time.Now()
		}
		ls.mu.Unlock()

		if !userStillConnected {
			if player, err := m.db.GamePlayer(ls.sessionID, userID); err == nil {
				player.Connected = false
				_ = m.db.UpdateGamePlayer(player)
			}
		}

		ls.Broadcast(Frame{Type: "player_left", Data: map[string]string{"user_id": userID}}, nil)
		go ls.Flush()
	})
}
