package store

// schema defines the entity tables: users, folders, files, segments,
// pack_groups, publications, authorized_users, commitments, sessions,
// plus their indexes. modernc.org/sqlite is the chosen embedded
// relational implementation, but every statement here is plain
// ANSI-adjacent SQL so a different database/sql driver could serve the
// same contract.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id         TEXT PRIMARY KEY,
	public_key      BLOB NOT NULL,
	wrapped_private BLOB NOT NULL,
	storage_salt    BLOB NOT NULL,
	created_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS folders (
	folder_id       TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL REFERENCES users(user_id),
	root_path       TEXT NOT NULL,
	public_key      BLOB NOT NULL,
	wrapped_private BLOB NOT NULL,
	created_at      INTEGER NOT NULL,
	deleted         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS files (
	file_id     TEXT NOT NULL,
	folder_id   TEXT NOT NULL REFERENCES folders(folder_id),
	rel_path    TEXT NOT NULL,
	version     INTEGER NOT NULL,
	size        INTEGER NOT NULL,
	sha256      BLOB NOT NULL,
	mime_hint   TEXT,
	mod_time    INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (file_id, version)
);
CREATE INDEX IF NOT EXISTS idx_files_folder_path ON files(folder_id, rel_path);

CREATE TABLE IF NOT EXISTS pack_groups (
	pack_group_id TEXT PRIMARY KEY,
	folder_id     TEXT NOT NULL REFERENCES folders(folder_id),
	version       INTEGER NOT NULL,
	entries       BLOB NOT NULL,
	total         INTEGER NOT NULL
);

-- Reverse index from a packed file to its containing pack group, so the
-- publication manager can find a small file's segment without scanning
-- every pack group's entry header.
CREATE TABLE IF NOT EXISTS pack_file_index (
	file_id       TEXT PRIMARY KEY,
	pack_group_id TEXT NOT NULL REFERENCES pack_groups(pack_group_id)
);

CREATE TABLE IF NOT EXISTS segments (
	file_id          TEXT,
	pack_group_id    TEXT,
	segment_index    INTEGER NOT NULL,
	redundancy_copy  INTEGER NOT NULL,
	plain_offset     INTEGER NOT NULL,
	plain_length     INTEGER NOT NULL,
	sha256           BLOB NOT NULL,
	internal_subject TEXT NOT NULL,
	usenet_subject   TEXT,
	message_id       TEXT,
	state            INTEGER NOT NULL,
	posted_at        INTEGER,
	failure_reason   TEXT,
	PRIMARY KEY (file_id, pack_group_id, segment_index, redundancy_copy)
);
CREATE INDEX IF NOT EXISTS idx_segments_file_ordinal ON segments(file_id, segment_index, redundancy_copy);
CREATE UNIQUE INDEX IF NOT EXISTS idx_segments_message_id ON segments(message_id) WHERE message_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS publications (
	share_id        TEXT PRIMARY KEY,
	folder_id       TEXT NOT NULL REFERENCES folders(folder_id),
	folder_version  INTEGER NOT NULL,
	access_level    INTEGER NOT NULL,
	created_at      INTEGER NOT NULL,
	expires_at      INTEGER,
	encrypted_index BLOB NOT NULL,
	password_salt   BLOB,
	scrypt_n        INTEGER,
	scrypt_r        INTEGER,
	scrypt_p        INTEGER
);

CREATE TABLE IF NOT EXISTS authorized_users (
	share_id   TEXT NOT NULL REFERENCES publications(share_id),
	commitment BLOB NOT NULL,
	PRIMARY KEY (share_id, commitment)
);

CREATE TABLE IF NOT EXISTS commitments (
	commitment TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	salt       BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id  TEXT PRIMARY KEY,
	operation   TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	ended_at    INTEGER
);
`
