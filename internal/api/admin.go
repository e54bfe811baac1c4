package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"mudengine/internal/apperr"
	"mudengine/internal/audit"
	"mudengine/internal/permission"
)

// handleGetSettings implements `GET /game/session/{code}/admin/settings`:
// role >= co_dm. Settings are whatever opaque JSON object the owner last
// stored in StateJSON.
func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	caller := callerFrom(r)

	gs, _, role, _, err := a.sessionAndRole(code, caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !permission.AtLeast(role, permission.RoleCoDM) {
		writeError(w, apperr.Authorization("forbidden", "co_dm or higher required"))
		return
	}
	var settings interface{}
	if err := json.Unmarshal([]byte(gs.StateJSON), &settings); err != nil {
		settings = map[string]interface{}{}
	}
	writeJSON(w, http.StatusOK, settings)
}

// handlePutSettings implements `PUT /game/session/{code}/admin/settings`:
// role=owner only. The request body replaces StateJSON wholesale.
func (a *API) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	caller := callerFrom(r)

	gs, _, role, _, err := a.sessionAndRole(code, caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if role != permission.RoleOwner {
		writeError(w, apperr.Authorization("forbidden", "only the owner may change session settings"))
		return
	}

	var body interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Validation("invalid_json", "request body must be valid JSON"))
		return
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		writeError(w, apperr.Validation("invalid_json", "could not encode settings"))
		return
	}
	gs.StateJSON = string(encoded)
	if err := a.db.UpdateGameSession(gs); err != nil {
		writeError(w, apperr.Transient("update_session_failed", "could not update settings", err))
		return
	}

	_ = a.audit.Log(audit.Entry{
		EventType: "settings_updated", SessionCode: gs.Code, ActorUserID: caller.ID,
		ClientIP: clientIP(r), UserAgent: r.UserAgent(),
	})
	writeJSON(w, http.StatusOK, body)
}

// handleBulkRoleChange implements
// `POST /game/session/{code}/admin/bulk-role-change`: role=owner only, body
// `{"changes":[{"user_id":"...","role":"..."}]}`. Each change is applied
// independently; a single bad entry doesn't roll back the rest. Each
// applied change gets its own audit entry, written after the update; a
// failed audit write does not undo the change.
func (a *API) handleBulkRoleChange(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	caller := callerFrom(r)

	gs, ls, role, _, err := a.sessionAndRole(code, caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if role != permission.RoleOwner {
		writeError(w, apperr.Authorization("forbidden", "only the owner may bulk-change roles"))
		return
	}

	var body struct {
		Changes []struct {
			UserID string `json:"user_id"`
			Role   string `json:"role"`
		} `json:"changes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Validation("invalid_json", "request body must be valid JSON"))
		return
	}

	results := make([]map[string]interface{}, 0, len(body.Changes))
	for _, change := range body.Changes {
		newRole := permission.Role(change.Role)
		if !permission.ValidRole(newRole) {
			results = append(results, map[string]interface{}{"user_id": change.UserID, "ok": false, "error": "invalid_role"})
			continue
		}
		target, err := a.db.GamePlayer(gs.ID, change.UserID)
		if err != nil {
			results = append(results, map[string]interface{}{"user_id": change.UserID, "ok": false, "error": "not_a_member"})
			continue
		}
		oldRole := target.Role
		target.Role = newRole
		if err := a.db.UpdateGamePlayer(target); err != nil {
			results = append(results, map[string]interface{}{"user_id": change.UserID, "ok": false, "error": "update_failed"})
			continue
		}
		ls.InvalidatePermissions(change.UserID)
		_ = a.audit.Log(audit.Entry{
			EventType: "role_changed", SessionCode: gs.Code, ActorUserID: caller.ID, TargetUserID: change.UserID,
			ClientIP: clientIP(r), UserAgent: r.UserAgent(),
			Details: map[string]interface{}{"from": string(oldRole), "to": string(newRole), "bulk": true},
		})
		results = append(results, map[string]interface{}{"user_id": change.UserID, "ok": true, "role": string(newRole)})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// handleAuditLog implements
// `GET /game/session/{code}/admin/audit-log`: role >= co_dm, query filters
// {event_type?, user_id?, limit, offset}.
func (a *API) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	caller := callerFrom(r)

	gs, _, role, _, err := a.sessionAndRole(code, caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !permission.AtLeast(role, permission.RoleCoDM) {
		writeError(w, apperr.Authorization("forbidden", "co_dm or higher required"))
		return
	}

	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset, err := strconv.Atoi(q.Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	entries, err := a.db.AuditLogQuery(gs.Code, q.Get("event_type"), q.Get("user_id"), limit, offset)
	if err != nil {
		writeError(w, apperr.Transient("audit_query_failed", "could not query audit log", err))
		return
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		var details interface{}
		_ = json.Unmarshal([]byte(e.DetailsJSON), &details)
		out = append(out, map[string]interface{}{
			"id": e.ID, "event_type": e.EventType, "actor_user_id": e.ActorUserID,
			"target_user_id": e.TargetUserID, "client_ip": e.ClientIP,
			"created_at": e.CreatedAt, "details": details,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeleteSession implements
// `DELETE /game/session/{code}/admin/delete`: role=owner only, requires
// `?confirm=true` so an accidental DELETE can never wipe a session (§6).
func (a *API) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	caller := callerFrom(r)

	gs, ls, role, _, err := a.sessionAndRole(code, caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if role != permission.RoleOwner {
		writeError(w, apperr.Authorization("forbidden", "only the owner may delete the session"))
		return
	}
	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, apperr.Validation("confirmation_required", "pass ?confirm=true to delete this session"))
		return
	}

	_ = a.audit.Log(audit.Entry{
		EventType: "session_deleted", SessionCode: gs.Code, ActorUserID: caller.ID,
		ClientIP: clientIP(r), UserAgent: r.UserAgent(),
	})

	if err := a.manager.Evict(gs.Code); err != nil {
		writeError(w, err)
		return
	}
	_ = ls
	if err := a.db.DeleteSessionCascade(gs.ID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"code": gs.Code, "deleted": true})
}
