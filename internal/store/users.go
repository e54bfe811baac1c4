package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"mudengine/internal/apperr"
	"mudengine/internal/identity"
)

// CreateUser inserts a new user row, assigning it a fresh id.
func (s *Store) CreateUser(u *identity.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.DB.Exec(s.q(`
		INSERT INTO users (id, username, email, password_hash, verified, federated_id, disabled, session_version, mfa_secret, mfa_enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), u.ID, u.Username, nullIfEmpty(u.Email), nullIfEmpty(u.PasswordHash), u.Verified, nullIfEmpty(u.FederatedID), u.Disabled, u.SessionVersion, nullIfEmpty(u.MFASecret), u.MFAEnabled, u.CreatedAt)
	return err
}

func (s *Store) scanUser(row *sql.Row) (*identity.User, error) {
	u := &identity.User{}
	var email, passwordHash, federatedID, mfaSecret sql.NullString
	err := row.Scan(&u.ID, &u.Username, &email, &passwordHash, &u.Verified, &federatedID, &u.Disabled, &u.SessionVersion, &mfaSecret, &u.MFAEnabled, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user_not_found", "user not found")
	}
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	u.PasswordHash = passwordHash.String
	u.FederatedID = federatedID.String
	u.MFASecret = mfaSecret.String
	return u, nil
}

const userColumns = `id, username, email, password_hash, verified, federated_id, disabled, session_version, mfa_secret, mfa_enabled, created_at`

func (s *Store) UserByUsername(username string) (*identity.User, error) {
	row := s.DB.QueryRow(s.q(`SELECT `+userColumns+` FROM users WHERE username = ?`), username)
	return s.scanUser(row)
}

func (s *Store) UserByEmail(email string) (*identity.User, error) {
	row := s.DB.QueryRow(s.q(`SELECT `+userColumns+` FROM users WHERE email = ?`), email)
	return s.scanUser(row)
}

func (s *Store) UserByID(id string) (*identity.User, error) {
	row := s.DB.QueryRow(s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	return s.scanUser(row)
}

func (s *Store) UpdateUser(u *identity.User) error {
	_, err := s.DB.Exec(s.q(`
		UPDATE users SET username=?, email=?, password_hash=?, verified=?, federated_id=?, disabled=?, session_version=?, mfa_secret=?, mfa_enabled=?
		WHERE id=?
	`), u.Username, nullIfEmpty(u.Email), nullIfEmpty(u.PasswordHash), u.Verified, nullIfEmpty(u.FederatedID), u.Disabled, u.SessionVersion, nullIfEmpty(u.MFASecret), u.MFAEnabled, u.ID)
	return err
}

func (s *Store) SaveVerificationToken(kind identity.TokenKind, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.DB.Exec(s.q(`
		INSERT INTO verification_tokens (id, kind, user_id, token_hash, expires_at, used)
		VALUES (?, ?, ?, ?, ?, 0)
	`), uuid.New().String(), string(kind), userID, tokenHash, expiresAt)
	return err
}

// ConsumeVerificationToken marks a single-use token consumed and returns
// its owning user id, failing if the token is unknown, expired, already
// used, or of the wrong kind.
func (s *Store) ConsumeVerificationToken(kind identity.TokenKind, tokenHash string) (string, error) {
	var id, userID string
	var expiresAt time.Time
	var used bool
	row := s.DB.QueryRow(s.q(`
		SELECT id, user_id, expires_at, used FROM verification_tokens WHERE kind = ? AND token_hash = ?
	`), string(kind), tokenHash)
	if err := row.Scan(&id, &userID, &expiresAt, &used); err != nil {
		return "", apperr.Validation("invalid_token", "token not found")
	}
	if used || time.Now().After(expiresAt) {
		return "", apperr.Validation("invalid_token", "token expired or already used")
	}
	if _, err := s.DB.Exec(s.q(`UPDATE verification_tokens SET used = 1 WHERE id = ?`), id); err != nil {
		return "", err
	}
	return userID, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
