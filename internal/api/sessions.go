package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"mudengine/internal/apperr"
	"mudengine/internal/audit"
	"mudengine/internal/permission"
	"mudengine/internal/session"
	"mudengine/internal/store"
)

// handleCreateGame implements `POST /game/create` (§6): form {game_name}.
// The caller becomes the session's owner.
func (a *API) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, invalidForm())
		return
	}
	name := strings.TrimSpace(r.FormValue("game_name"))
	if name == "" {
		writeError(w, apperr.Validation("invalid_name", "game_name is required"))
		return
	}
	user := callerFrom(r)

	code, err := uniqueSessionCode(a.db)
	if err != nil {
		writeError(w, err)
		return
	}

	gs := &store.GameSession{Code: code, DisplayName: name, OwnerUserID: user.ID, Active: true, StateJSON: "{}"}
	if err := a.db.CreateGameSession(gs); err != nil {
		writeError(w, apperr.Transient("create_session_failed", "could not create session", err))
		return
	}
	player := &store.GamePlayer{SessionID: gs.ID, UserID: user.ID, Role: permission.RoleOwner}
	if err := a.db.CreateGamePlayer(player); err != nil {
		writeError(w, apperr.Transient("create_player_failed", "could not add owner as player", err))
		return
	}

	_ = a.audit.Log(audit.Entry{
		EventType: "session_created", SessionCode: gs.Code, ActorUserID: user.ID,
		ClientIP: clientIP(r), UserAgent: r.UserAgent(),
		Details: map[string]interface{}{"display_name": name},
	})

	writeJSON(w, http.StatusCreated, map[string]interface{}{"code": gs.Code, "display_name": gs.DisplayName})
}

// uniqueSessionCode generates a session code, retrying on the rare
// collision against an already-used code.
func uniqueSessionCode(db *store.Store) (string, error) {
	for i := 0; i < 5; i++ {
		code, err := store.GenerateCode(6)
		if err != nil {
			return "", apperr.Transient("code_gen_failed", "could not generate session code", err)
		}
		code = strings.ToUpper(code)
		if _, err := db.GameSessionByCode(code); err != nil {
			return code, nil
		}
	}
	return "", apperr.Transient("code_gen_exhausted", "could not generate a unique session code", nil)
}

// handleJoinGame implements `POST /game/join`: form {session_code,
// character_name?}. A user who is not yet a member joins as a spectator;
// elevated roles are granted separately via invitations or role changes.
func (a *API) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, invalidForm())
		return
	}
	code := strings.ToUpper(strings.TrimSpace(r.FormValue("session_code")))
	gs, err := a.db.GameSessionByCode(code)
	if err != nil {
		writeError(w, err)
		return
	}
	if !gs.Active {
		writeError(w, apperr.NotFound("session_not_found", "session not found"))
		return
	}
	user := callerFrom(r)

	if existing, err := a.db.GamePlayer(gs.ID, user.ID); err == nil && existing != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"code": gs.Code, "role": string(existing.Role)})
		return
	}

	player := &store.GamePlayer{SessionID: gs.ID, UserID: user.ID, Role: permission.RoleSpectator}
	if err := a.db.CreateGamePlayer(player); err != nil {
		writeError(w, apperr.Transient("create_player_failed", "could not join session", err))
		return
	}
	_ = a.audit.Log(audit.Entry{
		EventType: "player_joined", SessionCode: gs.Code, ActorUserID: user.ID,
		ClientIP: clientIP(r), UserAgent: r.UserAgent(),
	})
	writeJSON(w, http.StatusCreated, map[string]interface{}{"code": gs.Code, "role": string(player.Role)})
}

// handleListSessions implements `GET /game/api/sessions`.
func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user := callerFrom(r)
	memberships, err := a.db.MembershipsForUser(user.ID)
	if err != nil {
		writeError(w, apperr.Transient("list_sessions_failed", "could not list sessions", err))
		return
	}
	out := make([]map[string]interface{}, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, map[string]interface{}{
			"code": m.SessionCode, "display_name": m.DisplayName, "role": string(m.Role),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePlayers implements `GET /game/session/{code}/players`. Any member
// (role >= spectator) may list the roster.
func (a *API) handlePlayers(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	user := callerFrom(r)

	gs, _, _, _, err := a.sessionAndRole(code, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	players, err := a.db.GamePlayersBySession(gs.ID)
	if err != nil {
		writeError(w, apperr.Transient("list_players_failed", "could not list players", err))
		return
	}
	out := make([]map[string]interface{}, 0, len(players))
	for _, p := range players {
		out = append(out, map[string]interface{}{
			"user_id": p.UserID, "role": string(p.Role), "connected": p.Connected,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleChangeRole implements `POST /game/session/{code}/players/{uid}/role`:
// body {new_role}, role=owner only.
func (a *API) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	code, targetID := vars["code"], vars["uid"]
	caller := callerFrom(r)

	gs, ls, role, _, err := a.sessionAndRole(code, caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if role != permission.RoleOwner {
		writeError(w, apperr.Authorization("forbidden", "only the owner may change roles"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, invalidForm())
		return
	}
	newRole := permission.Role(r.FormValue("new_role"))
	if !permission.ValidRole(newRole) {
		writeError(w, apperr.Validation("invalid_role", "unknown role: "+string(newRole)))
		return
	}

	target, err := a.db.GamePlayer(gs.ID, targetID)
	if err != nil {
		writeError(w, err)
		return
	}
	gained, lost := permission.Diff(target.Role, newRole)
	oldRole := target.Role
	target.Role = newRole
	if err := a.db.UpdateGamePlayer(target); err != nil {
		writeError(w, apperr.Transient("update_player_failed", "could not change role", err))
		return
	}
	ls.InvalidatePermissions(targetID)

	_ = a.audit.Log(audit.Entry{
		EventType: "role_changed", SessionCode: gs.Code, ActorUserID: caller.ID, TargetUserID: targetID,
		ClientIP: clientIP(r), UserAgent: r.UserAgent(),
		Details: map[string]interface{}{"from": string(oldRole), "to": string(newRole)},
	})
	ls.Broadcast(session.Frame{Type: "player_role_changed", Data: map[string]interface{}{
		"user_id": targetID, "role": string(newRole), "gained": gained, "lost": lost,
	}}, nil)

	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": targetID, "role": string(newRole)})
}

// handleKickPlayer implements `DELETE /game/session/{code}/players/{uid}`:
// role >= co_dm, but never against the owner or the caller themself.
func (a *API) handleKickPlayer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	code, targetID := vars["code"], vars["uid"]
	caller := callerFrom(r)

	gs, ls, role, _, err := a.sessionAndRole(code, caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !permission.AtLeast(role, permission.RoleCoDM) {
		writeError(w, apperr.Authorization("forbidden", "co_dm or higher required to kick players"))
		return
	}
	if targetID == caller.ID {
		writeError(w, apperr.Validation(apperr.CodeTargetsOwner, "cannot kick yourself"))
		return
	}
	target, err := a.db.GamePlayer(gs.ID, targetID)
	if err != nil {
		writeError(w, err)
		return
	}
	if target.Role == permission.RoleOwner {
		writeError(w, apperr.Validation(apperr.CodeTargetsOwner, "cannot kick the session owner"))
		return
	}

	if err := a.db.DeleteGamePlayer(target.ID); err != nil {
		writeError(w, apperr.Transient("delete_player_failed", "could not remove player", err))
		return
	}
	ls.InvalidatePermissions(targetID)
	a.manager.Kick(ls, targetID)

	_ = a.audit.Log(audit.Entry{
		EventType: "player_kicked", SessionCode: gs.Code, ActorUserID: caller.ID, TargetUserID: targetID,
		ClientIP: clientIP(r), UserAgent: r.UserAgent(),
	})
	ls.Broadcast(session.Frame{Type: "player_kicked", Data: map[string]interface{}{"user_id": targetID}}, nil)

	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": targetID, "kicked": true})
}

// handleGrantPermission implements
// `POST /game/session/{code}/players/{uid}/permissions`: body {permission}.
func (a *API) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	code, targetID := vars["code"], vars["uid"]
	caller := callerFrom(r)

	gs, ls, role, _, err := a.sessionAndRole(code, caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if role != permission.RoleOwner {
		writeError(w, apperr.Authorization("forbidden", "only the owner may grant custom permissions"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, invalidForm())
		return
	}
	perm := permission.Permission(r.FormValue("permission"))
	valid := false
	for _, p := range permission.AllPermissions {
		if p == perm {
			valid = true
			break
		}
	}
	if !valid {
		writeError(w, apperr.Validation("invalid_permission", "unknown permission: "+string(perm)))
		return
	}

	grant := &store.SessionPermission{SessionID: gs.ID, UserID: targetID, Permission: perm, GrantedBy: caller.ID, Active: true}
	if err := a.db.CreateSessionPermission(grant); err != nil {
		writeError(w, apperr.Transient("grant_permission_failed", "could not grant permission", err))
		return
	}
	ls.InvalidatePermissions(targetID)

	_ = a.audit.Log(audit.Entry{
		EventType: "permission_granted", SessionCode: gs.Code, ActorUserID: caller.ID, TargetUserID: targetID,
		ClientIP: clientIP(r), UserAgent: r.UserAgent(),
		Details: map[string]interface{}{"permission": string(perm)},
	})
	ls.Unicast(targetID, session.Frame{Type: "permission_granted", Data: map[string]interface{}{"permission": string(perm)}})

	writeJSON(w, http.StatusCreated, map[string]interface{}{"user_id": targetID, "permission": string(perm)})
}

// handleListPermissions implements
// `GET /game/session/{code}/players/{uid}/permissions`.
func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	code, targetID := vars["code"], vars["uid"]
	caller := callerFrom(r)

	_, ls, _, _, err := a.sessionAndRole(code, caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	targetRole, perms, err := ls.PermissionsFor(targetID)
	if err != nil {
		writeError(w, err)
		return
	}
	names := make([]string, 0, len(perms))
	for p, granted := range perms {
		if granted {
			names = append(names, string(p))
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": targetID, "role": string(targetRole), "permissions": names})
}
