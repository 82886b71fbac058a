package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"peerchat/internal/domain"
)

// DefaultDBFile is the message database name under the home directory.
const DefaultDBFile = "messages.db"

// rankSQL mirrors domain.MessageStatus.Rank.
const rankSQL = `CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`

// SQLiteMessageLog is the SQLite-backed message history.
type SQLiteMessageLog struct {
	db  *sql.DB
	now func() time.Time
}

// OpenMessageLog opens (and creates if needed) the database at path.
func OpenMessageLog(ctx context.Context, path string) (*SQLiteMessageLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	l := &SQLiteMessageLog{db: db, now: time.Now}
	if err := l.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteMessageLog) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		remote_id INTEGER NOT NULL DEFAULT 0,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		message TEXT NOT NULL,
		is_encrypted INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'sent',
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, recipient, timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(recipient, status);
	`
	_, err := l.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (l *SQLiteMessageLog) Close() error {
	return l.db.Close()
}

// Save inserts m and returns the new row id.
func (l *SQLiteMessageLog) Save(ctx context.Context, m domain.StoredMessage) (domain.MessageID, error) {
	if m.Status == "" {
		m.Status = domain.StatusSent
	}
	if !m.Status.Valid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, string(m.Status))
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = l.now()
	}
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO messages (remote_id, sender, recipient, message, is_encrypted, status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, int64(m.RemoteID), string(m.Sender), string(m.Recipient), m.Message, m.Encrypted,
		string(m.Status), m.Timestamp.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return domain.MessageID(id), nil
}

// UpdateStatus applies status to the row id sent by sender to recipient,
// and only if it ranks above the current one. Unknown ids, rows of another
// conversation, duplicates and downgrades report false without error.
func (l *SQLiteMessageLog) UpdateStatus(
	ctx context.Context,
	id domain.MessageID,
	sender, recipient domain.Username,
	status domain.MessageStatus,
) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, string(status))
	}
	res, err := l.db.ExecContext(ctx, `
		UPDATE messages SET status = ?
		WHERE id = ? AND sender = ? AND recipient = ? AND `+rankSQL+` < ?
	`, string(status), int64(id), string(sender), string(recipient), status.Rank())
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the row id.
func (l *SQLiteMessageLog) Delete(ctx context.Context, id domain.MessageID) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, int64(id)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Get returns one message by local id.
func (l *SQLiteMessageLog) Get(ctx context.Context, id domain.MessageID) (domain.StoredMessage, bool, error) {
	rows, err := l.db.QueryContext(ctx, selectMessages+` WHERE id = ?`, int64(id))
	if err != nil {
		return domain.StoredMessage{}, false, err
	}
	msgs, err := scanMessages(rows)
	if err != nil || len(msgs) == 0 {
		return domain.StoredMessage{}, false, err
	}
	return msgs[0], true, nil
}

// Conversation returns the last limit messages exchanged between a and b in
// chronological order. limit <= 0 returns everything.
func (l *SQLiteMessageLog) Conversation(
	ctx context.Context,
	a, b domain.Username,
	limit int,
) ([]domain.StoredMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `SELECT * FROM (`+selectMessages+`
		WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		ORDER BY timestamp DESC, id DESC LIMIT ?
	) ORDER BY timestamp ASC, id ASC`, string(a), string(b), string(b), string(a), limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	return scanMessages(rows)
}

// Unread returns messages addressed to recipient that are not yet read.
func (l *SQLiteMessageLog) Unread(ctx context.Context, recipient domain.Username) ([]domain.StoredMessage, error) {
	rows, err := l.db.QueryContext(ctx, selectMessages+`
		WHERE recipient = ? AND status != 'read'
		ORDER BY timestamp ASC, id ASC`, string(recipient))
	if err != nil {
		return nil, fmt.Errorf("unread: %w", err)
	}
	return scanMessages(rows)
}

// MarkRead moves every unread message from peer to reader to read.
func (l *SQLiteMessageLog) MarkRead(ctx context.Context, reader, peer domain.Username) ([]domain.StoredMessage, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, selectMessages+`
		WHERE sender = ? AND recipient = ? AND status != 'read'
		ORDER BY timestamp ASC, id ASC`, string(peer), string(reader))
	if err != nil {
		return nil, err
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = 'read'
		WHERE sender = ? AND recipient = ? AND status != 'read'`, string(peer), string(reader)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Status = domain.StatusRead
	}
	return msgs, nil
}

// ClearOlderThan deletes messages older than age and returns how many.
func (l *SQLiteMessageLog) ClearOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := l.now().Add(-age).UnixNano()
	res, err := l.db.ExecContext(ctx, `DELETE FROM messages WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clear old messages: %w", err)
	}
	return res.RowsAffected()
}

const selectMessages = `SELECT id, remote_id, sender, recipient, message, is_encrypted, status, timestamp FROM messages`

func scanMessages(rows *sql.Rows) ([]domain.StoredMessage, error) {
	defer rows.Close()
	var out []domain.StoredMessage
	for rows.Next() {
		var (
			m                 domain.StoredMessage
			id, remote, nanos int64
			sender, recipient string
			status            string
		)
		if err := rows.Scan(&id, &remote, &sender, &recipient, &m.Message, &m.Encrypted, &status, &nanos); err != nil {
			return nil, err
		}
		m.ID = domain.MessageID(id)
		m.RemoteID = domain.MessageID(remote)
		m.Sender = domain.Username(sender)
		m.Recipient = domain.Username(recipient)
		m.Status = domain.MessageStatus(status)
		m.Timestamp = time.Unix(0, nanos)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Compile-time assertion that SQLiteMessageLog implements domain.MessageLog.
var _ domain.MessageLog = (*SQLiteMessageLog)(nil)
