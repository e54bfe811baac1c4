package store

// migrations returns every schema migration, grounded on the numbered
// migration layout this schema was distilled from (users/sessions first,
// then role/invitation management, then the table/entity/character layer,
// then audit). IDs are zero-padded so lexical order matches intent order.
func migrations() []Migration {
	return []Migration{
		{ID: "001_users", SQL: `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT UNIQUE,
	password_hash TEXT,
	verified BOOLEAN DEFAULT 0,
	federated_id TEXT UNIQUE,
	disabled BOOLEAN DEFAULT 0,
	session_version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
`},
		{ID: "002_game_sessions", SQL: `
CREATE TABLE IF NOT EXISTS game_sessions (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	owner_user_id TEXT NOT NULL REFERENCES users(id),
	active BOOLEAN DEFAULT 1,
	demo BOOLEAN DEFAULT 0,
	state_json TEXT DEFAULT '{}',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_game_sessions_code ON game_sessions(code);
`},
		{ID: "003_game_players", SQL: `
CREATE TABLE IF NOT EXISTS game_players (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES game_sessions(id),
	user_id TEXT NOT NULL REFERENCES users(id),
	role TEXT NOT NULL,
	connected BOOLEAN DEFAULT 0,
	active_table_id TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(session_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_game_players_session ON game_players(session_id);
`},
		{ID: "004_session_permissions", SQL: `
CREATE TABLE IF NOT EXISTS session_permissions (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES game_sessions(id),
	user_id TEXT NOT NULL REFERENCES users(id),
	permission TEXT NOT NULL,
	granted_by TEXT NOT NULL REFERENCES users(id),
	active BOOLEAN DEFAULT 1,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_session_permissions_lookup ON session_permissions(session_id, user_id);
`},
		{ID: "005_invitations", SQL: `
CREATE TABLE IF NOT EXISTS invitations (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL REFERENCES game_sessions(id),
	role TEXT NOT NULL,
	creator_id TEXT NOT NULL REFERENCES users(id),
	expires_at TIMESTAMP,
	max_uses INTEGER NOT NULL DEFAULT 1,
	uses_count INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN DEFAULT 1,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_invitations_code ON invitations(code);
`},
		{ID: "006_tables_entities", SQL: `
CREATE TABLE IF NOT EXISTS tables (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES game_sessions(id),
	name TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	pos_x REAL DEFAULT 0,
	pos_y REAL DEFAULT 0,
	scale_x REAL DEFAULT 1,
	scale_y REAL DEFAULT 1,
	layer_visibility_json TEXT DEFAULT '{}',
	fog_rectangles_json TEXT DEFAULT '[]',
	UNIQUE(session_id, name)
);

CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	table_id TEXT NOT NULL REFERENCES tables(id),
	num INTEGER NOT NULL,
	name TEXT NOT NULL,
	x INTEGER NOT NULL,
	y INTEGER NOT NULL,
	layer TEXT NOT NULL,
	texture TEXT,
	scale_x REAL DEFAULT 1,
	scale_y REAL DEFAULT 1,
	rotation REAL DEFAULT 0,
	obstacle_kind TEXT,
	obstacle_json TEXT,
	metadata_json TEXT,
	stats_json TEXT,
	character_id TEXT,
	controllers_json TEXT DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_entities_table ON entities(table_id);
`},
		{ID: "007_characters", SQL: `
CREATE TABLE IF NOT EXISTS characters (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES game_sessions(id),
	name TEXT,
	data_json TEXT DEFAULT '{}',
	owner_user_id TEXT NOT NULL REFERENCES users(id),
	version INTEGER NOT NULL DEFAULT 1,
	last_modified_by TEXT
);
CREATE INDEX IF NOT EXISTS idx_characters_session ON characters(session_id);
`},
		{ID: "008_audit_and_tokens", SQL: `
CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	session_code TEXT,
	actor_user_id TEXT,
	target_user_id TEXT,
	client_ip TEXT,
	user_agent TEXT,
	details_json TEXT DEFAULT '{}',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_session ON audit_logs(session_code);

CREATE TABLE IF NOT EXISTS verification_tokens (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	user_id TEXT NOT NULL REFERENCES users(id),
	token_hash TEXT NOT NULL UNIQUE,
	expires_at TIMESTAMP NOT NULL,
	used BOOLEAN DEFAULT 0,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_verification_tokens_hash ON verification_tokens(token_hash);
`},
		{ID: "009_mfa", SQL: `
ALTER TABLE users ADD COLUMN mfa_secret TEXT;
ALTER TABLE users ADD COLUMN mfa_enabled BOOLEAN DEFAULT 0;
`},
	}
}
