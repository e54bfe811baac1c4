package transport

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"mudengine/internal/apperr"
	"mudengine/internal/audit"
	"mudengine/internal/identity"
	"mudengine/internal/session"
)

// Hub owns the WebSocket upgrade endpoint and fans inbound frames out to
// the right LiveSession, generalizing the teacher's single global
// Server.handleWebSocket into a router over session codes (§4.F).
type Hub struct {
	manager  *session.Manager
	identity *identity.Service
	audit    *audit.Logger

	upgrader  websocket.Upgrader
	debouncer *debouncer
}

func NewHub(manager *session.Manager, identitySvc *identity.Service, auditLog *audit.Logger) *Hub {
	return &Hub{
		manager:  manager,
		identity: identitySvc,
		audit:    auditLog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		debouncer: newDebouncer(50 * time.Millisecond),
	}
}

// extractCredential reads the bearer token from the "token" cookie or an
// Authorization: Bearer header (§6).
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

// HandleWebSocket upgrades the connection at /ws/game/{session_code},
// authenticates it, and attaches it to the session's LiveSession.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["session_code"]

	token := extractCredential(r)
	if token == "" {
		http.Error(w, "missing credential", http.StatusUnauthorized)
		return
	}
	user, err := h.identity.VerifyCredential(token)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := newClient(conn, h, code, user.ID)

	ls, snap, err := h.manager.Attach(code, user.ID, client)
	if err != nil {
		client.Send(session.Frame{Type: "error", Data: map[string]string{"code": "attach_failed", "message": err.Error()}})
		client.Close()
		return
	}

	go client.writePump()
	client.Send(session.Frame{Type: "snapshot", Data: snap, Timestamp: time.Now().Unix()})
	go client.readPump()

	go func() {
		<-waitClosed(client)
		h.manager.Detach(ls, user.ID, client.id)
	}()
}

// waitClosed polls for connection closure; readPump/writePump already own
// the connection lifecycle, so this merely lets the caller observe it
// without a second copy of the close logic.
func waitClosed(c *Client) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		for !c.isClosed() {
			time.Sleep(200 * time.Millisecond)
		}
		close(ch)
	}()
	return ch
}

func (h *Hub) unregister(c *Client) {
	// readPump's defer calls this; Detach itself is driven by waitClosed
	// above to keep a single code path regardless of which side noticed
	// the close first.
}

// disconnectSlowConsumer closes a client whose outbound queue stayed full
// even after dropping every droppable frame, and records the audit entry
// spec.md §4.F requires.
func (h *Hub) disconnectSlowConsumer(c *Client) {
	c.Close()
	if h.audit != nil {
		_ = h.audit.Log(audit.Entry{
			EventType:   "slow_consumer",
			SessionCode: c.code,
			ActorUserID: c.userID,
			Details:     map[string]interface{}{"client_id": c.id},
		})
	}
}

// errorFrame maps an error's apperr.Kind to an outbound error frame.
func errorFrame(err error) session.Frame {
	return session.Frame{Type: "error", Data: map[string]string{
		"code":    string(apperr.KindOf(err)),
		"message": err.Error(),
	}}
}
