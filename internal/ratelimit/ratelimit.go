// Package ratelimit implements the sliding-window flood protection used by
// registration and the demo endpoint, grounded on the deque-based sliding
// window rate limiter this server's flood-protection semantics were
// distilled from, generalized to track a window per identifier (global and
// per-client-IP) rather than a single global window.
package ratelimit

import (
	"container/list"
	"sync"
	"time"
)

// Window is an in-memory sliding-window counter keyed by identifier
// (an IP address, or the fixed key Global for the process-wide window).
// Each identifier's timestamps are kept in a deque so expired entries are
// dropped from the front in O(1) amortized.
type Window struct {
	mu       sync.Mutex
	max      int
	interval time.Duration
	entries  map[string]*list.List
	now      func() time.Time
}

// Global is the identifier used for the process-wide counter.
const Global = "*global*"

// New returns a Window allowing at most max events per identifier within
// interval.
func New(max int, interval time.Duration) *Window {
	return &Window{
		max:      max,
		interval: interval,
		entries:  make(map[string]*list.List),
		now:      time.Now,
	}
}

// Allow reports whether another event for identifier is permitted right
// now, and records it if so.
func (w *Window) Allow(identifier string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.interval)

	deque, ok := w.entries[identifier]
	if !ok {
		deque = list.New()
		w.entries[identifier] = deque
	}

	for deque.Len() > 0 {
		front := deque.Front()
		if front.Value.(time.Time).Before(cutoff) {
			deque.Remove(front)
			continue
		}
		break
	}

	if deque.Len() >= w.max {
		return false
	}
	deque.PushBack(now)
	return true
}

// TimeUntilReset reports how long until identifier's oldest recorded event
// ages out of the window, or zero if identifier is not currently limited.
func (w *Window) TimeUntilReset(identifier string) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	deque, ok := w.entries[identifier]
	if !ok || deque.Len() < w.max {
		return 0
	}
	oldest := deque.Front().Value.(time.Time)
	remaining := w.interval - w.now().Sub(oldest)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Clear discards all recorded events for identifier.
func (w *Window) Clear(identifier string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, identifier)
}

// RegistrationLimiter tracks both a process-wide window and a per-IP
// window, satisfying identity.RegistrationLimiter (DESIGN.md Open Question
// decision #3: both scopes are enforced, not global-only).
type RegistrationLimiter struct {
	global *Window
	perIP  *Window
}

func NewRegistrationLimiter(globalMax, perIPMax int, interval time.Duration) *RegistrationLimiter {
	return &RegistrationLimiter{
		global: New(globalMax, interval),
		perIP:  New(perIPMax, interval),
	}
}

func (r *RegistrationLimiter) AllowGlobal() bool { return r.global.Allow(Global) }
func (r *RegistrationLimiter) AllowIP(ip string) bool {
	if ip == "" {
		return true
	}
	return r.perIP.Allow(ip)
}
