package transport

import (
	"sync"
	"time"
)

// debouncer coalesces repeated calls under the same key into one: a new
// Schedule for a key cancels whatever was pending and re-arms the window,
// so only the most recently scheduled function ever runs. It backs
// move_entity's "collapsed at broadcast time... but never lost" rule
// (§4.F, §8): the engine write happens synchronously on every call, only
// the broadcast is coalesced.
type debouncer struct {
	window time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window, timers: make(map[string]*time.Timer)}
}

// Schedule arranges for fn to run once, window after the last call for
// key. A call for a key that already has a pending timer replaces it —
// the earlier fn never runs, only the latest.
func (d *debouncer) Schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
}
