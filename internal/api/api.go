// Package api is the REST surface (§4.G, §6): session/player/role/
// invitation/admin CRUD plus a thin compendium pass-through and the
// unauthenticated demo endpoint. It generalizes the teacher's bare
// cmd/server/main.go static-file-only HTTP setup into a full gorilla/mux
// router, reusing internal/identity, internal/session and internal/store
// exactly as internal/transport does for the real-time surface.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"mudengine/internal/apperr"
	"mudengine/internal/audit"
	"mudengine/internal/config"
	"mudengine/internal/identity"
	"mudengine/internal/permission"
	"mudengine/internal/ratelimit"
	"mudengine/internal/session"
	"mudengine/internal/store"
)

// API holds every dependency the REST handlers need, constructed once at
// startup and threaded through cmd/server/main.go (§9 redesign note: no
// package-level globals).
type API struct {
	cfg      *config.Config
	db       *store.Store
	identity *identity.Service
	manager  *session.Manager
	audit    *audit.Logger

	demoLimiter *ratelimit.Window
}

func New(cfg *config.Config, db *store.Store, identitySvc *identity.Service, manager *session.Manager, auditLog *audit.Logger) *API {
	return &API{
		cfg:         cfg,
		db:          db,
		identity:    identitySvc,
		manager:     manager,
		audit:       auditLog,
		demoLimiter: ratelimit.New(1, time.Minute),
	}
}

// Router builds the full mux.Router for the REST surface.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.timeoutMiddleware)

	r.HandleFunc("/users/register", a.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/users/token", a.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/users/mfa/complete", a.handleMFAComplete).Methods(http.MethodPost)
	r.HandleFunc("/users/me", a.requireAuth(a.handleMe)).Methods(http.MethodGet)
	r.HandleFunc("/users/mfa/enroll", a.requireAuth(a.handleMFAEnroll)).Methods(http.MethodPost)
	r.HandleFunc("/users/mfa/confirm", a.requireAuth(a.handleMFAConfirm)).Methods(http.MethodPost)

	r.HandleFunc("/game/create", a.requireAuth(a.handleCreateGame)).Methods(http.MethodPost)
	r.HandleFunc("/game/join", a.requireAuth(a.handleJoinGame)).Methods(http.MethodPost)
	r.HandleFunc("/game/api/sessions", a.requireAuth(a.handleListSessions)).Methods(http.MethodGet)

	r.HandleFunc("/game/session/{code}/players", a.requireAuth(a.handlePlayers)).Methods(http.MethodGet)
	r.HandleFunc("/game/session/{code}/players/{uid}/role", a.requireAuth(a.handleChangeRole)).Methods(http.MethodPost)
	r.HandleFunc("/game/session/{code}/players/{uid}", a.requireAuth(a.handleKickPlayer)).Methods(http.MethodDelete)
	r.HandleFunc("/game/session/{code}/players/{uid}/permissions", a.requireAuth(a.handleGrantPermission)).Methods(http.MethodPost)
	r.HandleFunc("/game/session/{code}/players/{uid}/permissions", a.requireAuth(a.handleListPermissions)).Methods(http.MethodGet)

	r.HandleFunc("/game/invitations/create", a.requireAuth(a.handleCreateInvitation)).Methods(http.MethodPost)
	r.HandleFunc("/game/invitations/{code}", a.requireAuth(a.handleGetInvitation)).Methods(http.MethodGet)
	r.HandleFunc("/game/invitations/{code}/accept", a.requireAuth(a.handleAcceptInvitation)).Methods(http.MethodPost)
	r.HandleFunc("/game/invitations/{id}", a.requireAuth(a.handleRevokeInvitation)).Methods(http.MethodDelete)

	r.HandleFunc("/game/session/{code}/admin/settings", a.requireAuth(a.handleGetSettings)).Methods(http.MethodGet)
	r.HandleFunc("/game/session/{code}/admin/settings", a.requireAuth(a.handlePutSettings)).Methods(http.MethodPut)
	r.HandleFunc("/game/session/{code}/admin/bulk-role-change", a.requireAuth(a.handleBulkRoleChange)).Methods(http.MethodPost)
	r.HandleFunc("/game/session/{code}/admin/audit-log", a.requireAuth(a.handleAuditLog)).Methods(http.MethodGet)
	r.HandleFunc("/game/session/{code}/admin/delete", a.requireAuth(a.handleDeleteSession)).Methods(http.MethodDelete)

	r.HandleFunc("/api/compendium/{category}", a.requireAuth(a.handleCompendiumList)).Methods(http.MethodGet)
	r.HandleFunc("/api/compendium/{category}/{name}", a.requireAuth(a.handleCompendiumItem)).Methods(http.MethodGet)

	r.HandleFunc("/demo", a.handleDemo).Methods(http.MethodGet)

	return r
}

// timeoutMiddleware bounds every REST request to the configured per-
// operation timeout (§5: "REST requests have a bounded per-operation
// timeout").
func (a *API) timeoutMiddleware(next http.Handler) http.Handler {
	timeout := time.Duration(a.cfg.RestRequestTimeoutSecs) * time.Second
	return http.TimeoutHandler(next, timeout, `{"detail":"request timed out"}`)
}

type userContextKey struct{}

// requireAuth extracts and verifies the bearer credential, rejecting the
// request with 401 on failure, otherwise injecting the caller into the
// request context for the wrapped handler.
func (a *API) requireAuth(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := extractCredential(r)
		if token == "" {
			writeError(w, apperr.Authentication(apperr.CodeStaleSession, "missing credential"))
			return
		}
		user, err := a.identity.VerifyCredential(token)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		next(w, r.WithContext(ctx))
	}
}

func callerFrom(r *http.Request) *identity.User {
	u, _ := r.Context().Value(userContextKey{}).(*identity.User)
	return u
}

// extractCredential mirrors internal/transport's websocket-handshake
// extraction: "token" cookie first, then Authorization: Bearer header.
func extractCredential(r *http.Request) string {
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func invalidForm() error {
	return apperr.Validation("invalid_form", "could not parse form body")
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Printf("api: failed to encode response: %v", err)
		}
	}
}

// writeError maps an apperr.Kind (plus, for a couple of Codes, a finer HTTP
// status than the Kind alone implies) to the REST error shape §7 specifies:
// `{detail}` plus status. apperr has no "Gone" kind, so expired/exhausted
// invitations are special-cased here by Code.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	detail := err.Error()

	var appErr *apperr.Error
	kind := apperr.KindOf(err)
	if e, ok := err.(*apperr.Error); ok {
		appErr = e
		detail = e.Message
	}

	switch {
	case appErr != nil && (appErr.Code == apperr.CodeInvitationExpired || appErr.Code == apperr.CodeInvitationSpent):
		status = http.StatusGone
	case kind == apperr.KindAuthentication:
		status = http.StatusUnauthorized
	case kind == apperr.KindAuthorization:
		status = http.StatusForbidden
	case kind == apperr.KindValidation:
		status = http.StatusBadRequest
	case kind == apperr.KindNotFound:
		status = http.StatusNotFound
	case kind == apperr.KindConflict:
		status = http.StatusConflict
	case kind == apperr.KindRateLimited:
		status = http.StatusTooManyRequests
	case kind == apperr.KindTransient:
		status = http.StatusServiceUnavailable
	case kind == apperr.KindFatal:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, map[string]string{"detail": detail})
}

// sessionAndRole resolves a session code to its persisted row, its
// LiveSession, and the caller's role/permission set within it — the shared
// first step of nearly every /game/session/{code}/... handler.
func (a *API) sessionAndRole(code, userID string) (*store.GameSession, *session.LiveSession, permission.Role, map[permission.Permission]bool, error) {
	gs, err := a.db.GameSessionByCode(strings.ToUpper(code))
	if err != nil {
		return nil, nil, "", nil, err
	}
	ls, err := a.manager.Get(gs.Code)
	if err != nil {
		return nil, nil, "", nil, err
	}
	role, perms, err := ls.PermissionsFor(userID)
	if err != nil {
		return nil, nil, "", nil, err
	}
	return gs, ls, role, perms, nil
}
