package api

import (
	"net/http"
	"time"

	"mudengine/internal/apperr"
	"mudengine/internal/identity"
	"mudengine/internal/permission"
	"mudengine/internal/store"
)

const (
	demoUsername    = "demo"
	demoSessionCode = "DEMO"
)

// handleDemo implements `GET /demo` (§6): an unauthenticated, per-IP
// rate-limited entry point that hands out a real bearer credential for a
// single shared demo identity and session, created lazily on first use.
func (a *API) handleDemo(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !a.demoLimiter.Allow(ip) {
		writeError(w, apperr.RateLimited("demo_rate_limited", "too many demo requests, try again shortly"))
		return
	}

	user, err := a.demoUser()
	if err != nil {
		writeError(w, err)
		return
	}
	gs, err := a.demoSession(user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := a.db.GamePlayer(gs.ID, user.ID); err != nil {
		player := &store.GamePlayer{SessionID: gs.ID, UserID: user.ID, Role: permission.RoleSpectator}
		if err := a.db.CreateGamePlayer(player); err != nil {
			writeError(w, apperr.Transient("demo_join_failed", "could not join demo session", err))
			return
		}
	}

	token, err := a.identity.IssueCredential(user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "code": gs.Code})
}

// demoUser returns the shared demo account, creating it on first call. A
// create race against another concurrent first-request simply falls back
// to reloading the row the other request won.
func (a *API) demoUser() (*identity.User, error) {
	if u, err := a.db.UserByUsername(demoUsername); err == nil {
		return u, nil
	}
	user := &identity.User{
		Username:       demoUsername,
		Verified:       true,
		SessionVersion: 1,
		CreatedAt:      time.Now(),
	}
	if err := a.db.CreateUser(user); err != nil {
		if u, err2 := a.db.UserByUsername(demoUsername); err2 == nil {
			return u, nil
		}
		return nil, apperr.Transient("demo_user_failed", "could not create demo user", err)
	}
	return user, nil
}

// demoSession returns the shared demo game session, creating it on first
// call.
func (a *API) demoSession(ownerID string) (*store.GameSession, error) {
	if gs, err := a.db.GameSessionByCode(demoSessionCode); err == nil {
		return gs, nil
	}
	gs := &store.GameSession{
		Code: demoSessionCode, DisplayName: "Demo Table", OwnerUserID: ownerID,
		Active: true, Demo: true, StateJSON: "{}",
	}
	if err := a.db.CreateGameSession(gs); err != nil {
		if existing, err2 := a.db.GameSessionByCode(demoSessionCode); err2 == nil {
			return existing, nil
		}
		return nil, apperr.Transient("demo_session_failed", "could not create demo session", err)
	}
	return gs, nil
}
