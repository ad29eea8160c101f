package dbx

// Migration is a single forward-only schema change.
type Migration struct {
	Version int
	SQL     string
}

// Migrations is the ordered list of all schema migrations for the Store (§4.J)
// and the PGP key store (§4.B/C persistence boundary).
var Migrations = []Migration{
	{
		Version: 1,
		SQL: `
			CREATE TABLE config (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			CREATE TABLE contacts (
				id        INTEGER PRIMARY KEY AUTOINCREMENT,
				addr      TEXT NOT NULL UNIQUE,
				name      TEXT NOT NULL DEFAULT '',
				origin    INTEGER NOT NULL DEFAULT 0,
				blocked   INTEGER NOT NULL DEFAULT 0,
				param     TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE chats (
				id      INTEGER PRIMARY KEY AUTOINCREMENT,
				kind    INTEGER NOT NULL,
				name    TEXT NOT NULL DEFAULT '',
				grpid   TEXT NOT NULL DEFAULT ''
			);
			CREATE UNIQUE INDEX idx_chats_grpid ON chats(grpid) WHERE grpid != '';

			CREATE TABLE chat_members (
				chat_id    INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
				contact_id INTEGER NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
				PRIMARY KEY (chat_id, contact_id)
			);

			CREATE TABLE left_groups (
				grpid TEXT PRIMARY KEY
			);

			CREATE TABLE messages (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				rfc724_mid      TEXT NOT NULL,
				server_folder   TEXT NOT NULL DEFAULT '',
				server_uid      INTEGER NOT NULL DEFAULT 0,
				chat_id         INTEGER NOT NULL,
				from_id         INTEGER NOT NULL,
				to_id           INTEGER NOT NULL DEFAULT 0,
				ts              INTEGER NOT NULL,
				type            TEXT NOT NULL DEFAULT 'text',
				state           TEXT NOT NULL,
				is_msgr         INTEGER NOT NULL DEFAULT 0,
				text            TEXT NOT NULL DEFAULT '',
				text_raw        TEXT NOT NULL DEFAULT '',
				param           TEXT NOT NULL DEFAULT '',
				bytes           INTEGER NOT NULL DEFAULT 0
			);
			-- rfc724_mid is unique only across non-special chats (invariant 1);
			-- enforced in application code since SQLite partial-unique indexes can't
			-- reference the CHAT_ID_LAST_SPECIAL constant.
			CREATE INDEX idx_messages_rfc724_mid ON messages(rfc724_mid);
			CREATE INDEX idx_messages_chat_id ON messages(chat_id, ts);

			-- Contact and chat ids up to 9 (model.ContactIDLastSpecial /
			-- ChatIDLastSpecial) are reserved: contact 1 is the SELF row that
			-- chat_members references, and new contacts and chats start at 10.
			INSERT INTO contacts (id, addr, name, origin) VALUES (1, '', '', 0);
			UPDATE sqlite_sequence SET seq = 9 WHERE name = 'contacts';
			INSERT INTO sqlite_sequence (name, seq) VALUES ('chats', 9);

			CREATE TABLE pgp_keys (
				id            TEXT PRIMARY KEY,
				addr          TEXT NOT NULL,
				fingerprint   TEXT NOT NULL UNIQUE,
				public_blob   BLOB NOT NULL,
				private_blob  BLOB,
				created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE pgp_sender_keys (
				id            TEXT PRIMARY KEY,
				addr          TEXT NOT NULL,
				fingerprint   TEXT NOT NULL UNIQUE,
				public_blob   BLOB NOT NULL,
				source        TEXT NOT NULL,
				collected_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
				last_seen_at  DATETIME DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
}
