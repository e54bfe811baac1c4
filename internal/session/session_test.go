package session

import (
	"testing"
	"time"

	"mudengine/internal/permission"
)

type fakeClient struct {
	id, userID string
	frames     []Frame
}

func (c *fakeClient) ID() string     { return c.id }
func (c *fakeClient) UserID() string { return c.userID }
func (c *fakeClient) Send(f Frame)   { c.frames = append(c.frames, f) }
func (c *fakeClient) Close()         {}

func newTestLiveSession() *LiveSession {
	return &LiveSession{
		Code:        "ABCD12",
		sessionID:   "sess-1",
		commands:    make(chan func(), 16),
		stopped:     make(chan struct{}),
		clients:     make(map[string]ClientHandle),
		userClients: make(map[string][]string),
		permCache:   make(map[string]permView),
		activeTable: make(map[string]string),
		state:       StateNascent,
	}
}

func TestEnqueueRunsInOrder(t *testing.T) {
	ls := newTestLiveSession()
	go ls.run()
	defer ls.Stop()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		ls.Enqueue(func() { order = append(order, i) })
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("commands executed out of order: %v", order)
		}
	}
}

func TestBroadcastFiltersByVisibility(t *testing.T) {
	ls := newTestLiveSession()
	go ls.run()
	defer ls.Stop()

	a := &fakeClient{id: "c1", userID: "u1"}
	b := &fakeClient{id: "c2", userID: "u2"}
	ls.mu.Lock()
	ls.clients["c1"] = a
	ls.clients["c2"] = b
	ls.mu.Unlock()

	ls.Broadcast(Frame{Type: "chat"}, func(userID string) bool { return userID == "u1" })

	if len(a.frames) != 1 {
		t.Fatalf("expected u1 to receive the frame, got %d frames", len(a.frames))
	}
	if len(b.frames) != 0 {
		t.Fatalf("expected u2 to be filtered out, got %d frames", len(b.frames))
	}
}

func TestUnicastOnlyReachesTargetUser(t *testing.T) {
	ls := newTestLiveSession()
	go ls.run()
	defer ls.Stop()

	a := &fakeClient{id: "c1", userID: "u1"}
	b := &fakeClient{id: "c2", userID: "u2"}
	ls.mu.Lock()
	ls.clients["c1"] = a
	ls.clients["c2"] = b
	ls.userClients["u1"] = []string{"c1"}
	ls.userClients["u2"] = []string{"c2"}
	ls.mu.Unlock()

	ls.Unicast("u2", Frame{Type: "pong"})

	if len(a.frames) != 0 || len(b.frames) != 1 {
		t.Fatalf("unicast reached wrong recipients: a=%d b=%d", len(a.frames), len(b.frames))
	}
}

func TestPermissionCacheInvalidation(t *testing.T) {
	ls := newTestLiveSession()
	ls.permCache["u1"] = permView{role: permission.RolePlayer, permissions: permission.PermissionsFor(permission.RolePlayer)}

	ls.InvalidatePermissions("u1")

	ls.mu.Lock()
	_, ok := ls.permCache["u1"]
	ls.mu.Unlock()
	if ok {
		t.Fatalf("expected permission cache entry to be invalidated")
	}
}

func TestIdleSinceReportsOnlyWhenIdle(t *testing.T) {
	ls := newTestLiveSession()
	ls.state = StateLive
	if _, idle := ls.IdleSince(); idle {
		t.Fatalf("live session should not report as idle")
	}

	ls.state = StateIdle
	ls.lastActivity = time.Now().Add(-time.Hour)
	since, idle := ls.IdleSince()
	if !idle {
		t.Fatalf("expected idle session to report idle")
	}
	if time.Since(since) < time.Hour {
		t.Fatalf("expected stale lastActivity timestamp")
	}
}
