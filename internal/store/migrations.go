package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS message_status (
	message_id      TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	mailbox_id      TEXT NOT NULL,
	status          TEXT NOT NULL CHECK(status IN ('new', 'in-progress', 'resolved')),
	labels          TEXT NOT NULL DEFAULT '[]',
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	message_id  TEXT NOT NULL,
	mailbox_id  TEXT NOT NULL,
	message     TEXT NOT NULL,
	read        INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_message_status_mailbox
	ON message_status(mailbox_id);

CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_message_id
	ON notifications(message_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
