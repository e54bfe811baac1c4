package identity

import (
	"testing"
	"time"

	"mudengine/internal/apperr"
)

type fakeStore struct {
	byUsername map[string]*User
	byEmail    map[string]*User
	byID       map[string]*User
	tokens     map[string]string // hash -> userID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byUsername: map[string]*User{},
		byEmail:    map[string]*User{},
		byID:       map[string]*User{},
		tokens:     map[string]string{},
	}
}

func (f *fakeStore) CreateUser(u *User) error {
	u.ID = u.Username + "-id"
	f.byUsername[u.Username] = u
	if u.Email != "" {
		f.byEmail[u.Email] = u
	}
	f.byID[u.ID] = u
	return nil
}

func (f *fakeStore) UserByUsername(username string) (*User, error) {
	if u, ok := f.byUsername[username]; ok {
		return u, nil
	}
	return nil, apperr.NotFound("user_not_found", "not found")
}

func (f *fakeStore) UserByEmail(email string) (*User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, apperr.NotFound("user_not_found", "not found")
}

func (f *fakeStore) UserByID(id string) (*User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, apperr.NotFound("user_not_found", "not found")
}

func (f *fakeStore) UpdateUser(u *User) error {
	f.byID[u.ID] = u
	f.byUsername[u.Username] = u
	return nil
}

func (f *fakeStore) CountRecentRegistrationsGlobal(since time.Time) (int, error) { return 0, nil }
func (f *fakeStore) CountRecentRegistrationsByIP(ip string, since time.Time) (int, error) {
	return 0, nil
}
func (f *fakeStore) RecordRegistration(ip string, at time.Time) error { return nil }

func (f *fakeStore) SaveVerificationToken(kind TokenKind, userID, tokenHash string, expiresAt time.Time) error {
	f.tokens[string(kind)+":"+tokenHash] = userID
	return nil
}

func (f *fakeStore) ConsumeVerificationToken(kind TokenKind, tokenHash string) (string, error) {
	key := string(kind) + ":" + tokenHash
	userID, ok := f.tokens[key]
	if !ok {
		return "", apperr.Validation("invalid_token", "not found")
	}
	delete(f.tokens, key)
	return userID, nil
}

type allowAllLimiter struct{}

func (allowAllLimiter) AllowGlobal() bool        { return true }
func (allowAllLimiter) AllowIP(ip string) bool    { return true }

type denyLimiter struct{ global, ip bool }

func (d denyLimiter) AllowGlobal() bool     { return d.global }
func (d denyLimiter) AllowIP(ip string) bool { return d.ip }

func newTestService() (*Service, *fakeStore) {
	store := newFakeStore()
	return NewService(store, allowAllLimiter{}, "test-secret-key", time.Hour), store
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _ := newTestService()

	user, err := svc.Register("alice", "Secret123", "a@x.com", "1.2.3.4")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.Disabled || user.Verified {
		t.Fatalf("expected fresh user to be enabled and unverified, got %+v", user)
	}

	got, err := svc.Authenticate("alice", "Secret123")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected same user back")
	}

	if _, err := svc.Authenticate("alice", "wrong-password"); apperr.KindOf(err) != apperr.KindAuthentication {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestRegisterUsernameTaken(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Register("alice", "Secret123", "", ""); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	_, err := svc.Register("alice", "Secret123", "", "")
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestRegisterWeakPasswordRejected(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Register("bob", "short", "", "")
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegisterRateLimited(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, denyLimiter{global: false, ip: true}, "secret", time.Hour)
	_, err := svc.Register("carol", "Secret123", "", "9.9.9.9")
	if apperr.KindOf(err) != apperr.KindRateLimited {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}

func TestIssueAndVerifyCredential(t *testing.T) {
	svc, _ := newTestService()
	user, _ := svc.Register("dave", "Secret123", "", "")

	token, err := svc.IssueCredential(user)
	if err != nil {
		t.Fatalf("issue credential failed: %v", err)
	}

	verified, err := svc.VerifyCredential(token)
	if err != nil {
		t.Fatalf("verify credential failed: %v", err)
	}
	if verified.ID != user.ID {
		t.Fatalf("verified wrong user")
	}
}

func TestCredentialInvalidatedBySessionVersionBump(t *testing.T) {
	svc, store := newTestService()
	user, _ := svc.Register("erin", "Secret123", "", "")

	token, err := svc.IssueCredential(user)
	if err != nil {
		t.Fatalf("issue credential failed: %v", err)
	}

	raw, err := svc.IssueVerificationToken(TokenPasswordReset, user.ID, time.Hour)
	if err != nil {
		t.Fatalf("issue verification token failed: %v", err)
	}
	if err := svc.SetPassword(TokenPasswordReset, raw, "NewSecret123"); err != nil {
		t.Fatalf("set password failed: %v", err)
	}

	if _, err := svc.VerifyCredential(token); apperr.KindOf(err) != apperr.KindAuthentication {
		t.Fatalf("expected old credential to fail verification after password reset, got %v", err)
	}

	stored := store.byID[user.ID]
	if stored.SessionVersion != 2 {
		t.Fatalf("expected session_version bumped to 2, got %d", stored.SessionVersion)
	}
}

func TestLegacyRoleAlias(t *testing.T) {
	if role, ok := LegacyRoleAlias("dm"); !ok || role != "owner" {
		t.Fatalf("expected dm -> owner, got %q, %v", role, ok)
	}
	if _, ok := LegacyRoleAlias("wizard"); ok {
		t.Fatalf("expected unknown legacy role to not map")
	}
}
