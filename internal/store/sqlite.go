package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/support-inbox/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SaveStatus inserts or replaces the explicit status of one message.
func (s *SQLiteStore) SaveStatus(ctx context.Context, rec model.StatusRecord) error {
	labels, err := json.Marshal(labelsOrEmpty(rec.Labels))
	if err != nil {
		return fmt.Errorf("marshaling labels for %s: %w", rec.MessageID, err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO message_status (
			message_id, conversation_id, mailbox_id, status, labels, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.MessageID, rec.ConversationID, rec.MailboxID,
		string(rec.Status), string(labels), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving status for %s: %w", rec.MessageID, err)
	}
	return nil
}

// LoadStatuses returns the explicit statuses recorded for a mailbox keyed
// by message id.
func (s *SQLiteStore) LoadStatuses(
	ctx context.Context,
	mailboxID string,
) (map[string]model.StatusRecord, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT message_id, conversation_id, mailbox_id, status, labels, updated_at
		FROM message_status WHERE mailbox_id = ?`, mailboxID)
	if err != nil {
		return nil, fmt.Errorf("querying statuses for %s: %w", mailboxID, err)
	}
	defer rows.Close()

	out := make(map[string]model.StatusRecord)
	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out[rec.MessageID] = rec
	}

	return out, rows.Err()
}

// CreateNotification inserts a notification unless one already exists for
// the same message.
func (s *SQLiteStore) CreateNotification(
	ctx context.Context,
	n model.Notification,
) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO notifications (id, message_id, mailbox_id, message, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.MessageID, n.MailboxID, n.Message,
		boolToInt(n.Read), n.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("creating notification for %s: %w", n.MessageID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("creating notification for %s: %w", n.MessageID, err)
	}
	return affected > 0, nil
}

// GetUnreadNotifications returns unread notifications, newest first.
func (s *SQLiteStore) GetUnreadNotifications(
	ctx context.Context,
) ([]model.Notification, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, message_id, mailbox_id, message, read, created_at
		FROM notifications WHERE read = 0 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}

	return out, rows.Err()
}

// MarkNotificationRead flags a notification as read.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE notifications SET read = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	return nil
}

// scanStatus scans a message_status row from a sqlx.Rows result set.
func scanStatus(rows *sqlx.Rows) (model.StatusRecord, error) {
	var (
		rec       model.StatusRecord
		status    string
		labels    string
		updatedAt time.Time
	)

	err := rows.Scan(
		&rec.MessageID, &rec.ConversationID, &rec.MailboxID,
		&status, &labels, &updatedAt,
	)
	if err != nil {
		return model.StatusRecord{}, fmt.Errorf("scanning status row: %w", err)
	}

	rec.Status = model.Status(status)
	rec.UpdatedAt = updatedAt

	if labels != "" {
		if err := json.Unmarshal([]byte(labels), &rec.Labels); err != nil {
			return model.StatusRecord{}, fmt.Errorf("unmarshaling labels: %w", err)
		}
	}
	if len(rec.Labels) == 0 {
		rec.Labels = nil
	}

	return rec, nil
}

// scanNotification scans a notification row from a sqlx.Rows result set.
func scanNotification(rows *sqlx.Rows) (model.Notification, error) {
	var (
		n         model.Notification
		readInt   int
		createdAt time.Time
	)

	err := rows.Scan(
		&n.ID, &n.MessageID, &n.MailboxID, &n.Message,
		&readInt, &createdAt,
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("scanning notification row: %w", err)
	}

	n.Read = readInt != 0
	n.CreatedAt = createdAt

	return n, nil
}

func labelsOrEmpty(l []model.Label) []model.Label {
	if l == nil {
		return []model.Label{}
	}
	return l
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
