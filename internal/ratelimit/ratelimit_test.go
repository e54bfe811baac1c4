package ratelimit

import (
	"testing"
	"time"
)

func TestWindowAllowsUpToMax(t *testing.T) {
	w := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !w.Allow("ip1") {
			t.Fatalf("expected allow on request %d", i+1)
		}
	}
	if w.Allow("ip1") {
		t.Fatal("expected 4th request to be denied")
	}
}

func TestWindowIsPerIdentifier(t *testing.T) {
	w := New(1, time.Minute)
	if !w.Allow("a") {
		t.Fatal("expected first request for a to be allowed")
	}
	if !w.Allow("b") {
		t.Fatal("expected first request for b to be allowed independently of a")
	}
	if w.Allow("a") {
		t.Fatal("expected second request for a to be denied")
	}
}

func TestWindowExpiresOldEntries(t *testing.T) {
	fakeNow := time.Now()
	w := New(1, time.Second)
	w.now = func() time.Time { return fakeNow }

	if !w.Allow("ip1") {
		t.Fatal("expected first request allowed")
	}
	if w.Allow("ip1") {
		t.Fatal("expected second immediate request denied")
	}

	fakeNow = fakeNow.Add(2 * time.Second)
	if !w.Allow("ip1") {
		t.Fatal("expected request allowed after window elapses")
	}
}

func TestRegistrationLimiterEnforcesBothScopes(t *testing.T) {
	r := NewRegistrationLimiter(2, 1, time.Minute)

	if !r.AllowIP("1.2.3.4") {
		t.Fatal("expected first registration from IP to be allowed")
	}
	if r.AllowIP("1.2.3.4") {
		t.Fatal("expected second registration from same IP to be denied")
	}
	if !r.AllowIP("5.6.7.8") {
		t.Fatal("expected registration from a different IP to be allowed")
	}

	if !r.AllowGlobal() {
		t.Fatal("expected first global registration to be allowed")
	}
	if !r.AllowGlobal() {
		t.Fatal("expected second global registration to be allowed")
	}
	if r.AllowGlobal() {
		t.Fatal("expected third global registration to be denied")
	}
}
