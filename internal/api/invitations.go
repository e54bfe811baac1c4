package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"mudengine/internal/apperr"
	"mudengine/internal/audit"
	"mudengine/internal/permission"
	"mudengine/internal/store"
)

// handleCreateInvitation implements `POST /game/invitations/create` (§6):
// body {session_code, pre_assigned_role, expires_hours?, max_uses}, gated
// on invite_players rather than a fixed role so a custom grant can also
// unlock it.
func (a *API) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, invalidForm())
		return
	}
	caller := callerFrom(r)
	code := strings.ToUpper(strings.TrimSpace(r.FormValue("session_code")))

	gs, _, _, perms, err := a.sessionAndRole(code, caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !perms[permission.InvitePlayers] {
		writeError(w, apperr.Authorization("forbidden", "invite_players required"))
		return
	}

	assignedRole := permission.Role(r.FormValue("pre_assigned_role"))
	if !permission.ValidRole(assignedRole) {
		writeError(w, apperr.Validation("invalid_role", "unknown role: "+string(assignedRole)))
		return
	}
	maxUses, err := strconv.Atoi(r.FormValue("max_uses"))
	if err != nil || maxUses < 1 {
		maxUses = 1
	}
	var expiresAt *time.Time
	if raw := r.FormValue("expires_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < 1 {
			writeError(w, apperr.Validation("invalid_expiry", "expires_hours must be a positive integer"))
			return
		}
		t := time.Now().Add(time.Duration(hours) * time.Hour)
		expiresAt = &t
	}

	inviteCode, err := store.GenerateCode(10)
	if err != nil {
		writeError(w, apperr.Transient("code_gen_failed", "could not generate invitation code", err))
		return
	}

	inv := &store.Invitation{
		Code: inviteCode, SessionID: gs.ID, Role: assignedRole, CreatorID: caller.ID,
		ExpiresAt: expiresAt, MaxUses: maxUses, Active: true,
	}
	if err := a.db.CreateInvitation(inv); err != nil {
		writeError(w, apperr.Transient("create_invitation_failed", "could not create invitation", err))
		return
	}

	_ = a.audit.Log(audit.Entry{
		EventType: "invitation_created", SessionCode: gs.Code, ActorUserID: caller.ID,
		ClientIP: clientIP(r), UserAgent: r.UserAgent(),
		Details: map[string]interface{}{"invitation_id": inv.ID, "role": string(assignedRole), "max_uses": maxUses},
	})

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id": inv.ID, "code": inv.Code, "role": string(inv.Role), "max_uses": inv.MaxUses,
	})
}

// handleGetInvitation implements `GET /game/invitations/{code}`.
func (a *API) handleGetInvitation(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	inv, err := a.db.InvitationByCode(code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invitationView(inv))
}

func invitationView(inv *store.Invitation) map[string]interface{} {
	out := map[string]interface{}{
		"id": inv.ID, "code": inv.Code, "role": string(inv.Role),
		"max_uses": inv.MaxUses, "uses_count": inv.UsesCount, "active": inv.Active,
	}
	if inv.ExpiresAt != nil {
		out["expires_at"] = inv.ExpiresAt.Format(time.RFC3339)
	}
	return out
}

// handleAcceptInvitation implements `POST /game/invitations/{code}/accept`.
// A spent or expired invitation surfaces as 410 Gone (§7) via
// apperr.CodeInvitationSpent/CodeInvitationExpired, special-cased in
// writeError since apperr has no dedicated "gone" Kind.
func (a *API) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	caller := callerFrom(r)

	role, sessionID, err := a.db.RedeemInvitation(code)
	if err != nil {
		writeError(w, err)
		return
	}
	gs, err := a.db.GameSessionByID(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	if existing, err := a.db.GamePlayer(gs.ID, caller.ID); err == nil && existing != nil {
		if permission.Rank(role) > permission.Rank(existing.Role) {
			existing.Role = role
			if err := a.db.UpdateGamePlayer(existing); err != nil {
				writeError(w, apperr.Transient("update_player_failed", "could not apply invitation role", err))
				return
			}
			if ls, err := a.manager.Get(gs.Code); err == nil {
				ls.InvalidatePermissions(caller.ID)
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"code": gs.Code, "role": string(existing.Role)})
		return
	}

	player := &store.GamePlayer{SessionID: gs.ID, UserID: caller.ID, Role: role}
	if err := a.db.CreateGamePlayer(player); err != nil {
		writeError(w, apperr.Transient("create_player_failed", "could not accept invitation", err))
		return
	}
	_ = a.audit.Log(audit.Entry{
		EventType: "invitation_accepted", SessionCode: gs.Code, ActorUserID: caller.ID,
		ClientIP: clientIP(r), UserAgent: r.UserAgent(),
	})
	writeJSON(w, http.StatusCreated, map[string]interface{}{"code": gs.Code, "role": string(player.Role)})
}

// handleRevokeInvitation implements `DELETE /game/invitations/{id}`:
// role in {owner, co_dm}. The id carries no session code, so the session
// it belongs to is resolved via its session_id foreign key.
func (a *API) handleRevokeInvitation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	caller := callerFrom(r)

	inv, err := a.db.InvitationByID(id)
	if err != nil {
		writeError(w, err)
		return
	}

	gs, err := a.db.GameSessionByID(inv.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	player, err := a.db.GamePlayer(gs.ID, caller.ID)
	if err != nil {
		writeError(w, apperr.Authorization("forbidden", "not a member of this session"))
		return
	}
	if !permission.AtLeast(player.Role, permission.RoleCoDM) {
		writeError(w, apperr.Authorization("forbidden", "co_dm or higher required to revoke invitations"))
		return
	}

	if err := a.db.RevokeInvitation(inv.ID); err != nil {
		writeError(w, apperr.Transient("revoke_invitation_failed", "could not revoke invitation", err))
		return
	}
	_ = a.audit.Log(audit.Entry{
		EventType: "invitation_revoked", SessionCode: gs.Code, ActorUserID: caller.ID,
		ClientIP: clientIP(r), UserAgent: r.UserAgent(),
		Details: map[string]interface{}{"invitation_id": inv.ID},
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": inv.ID, "revoked": true})
}
