package dialogstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/chatmirror/chatmirror/pkg/dialogkey"
)

// SQLiteStore is the on-disk Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

// DSNForFile builds a sqlite DSN for the given path.
func DSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("dialog store: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("dialog store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
		  dialog_id TEXT NOT NULL,
		  remote_message_id INTEGER NOT NULL,
		  sender_id TEXT NOT NULL DEFAULT '',
		  sender_name TEXT NOT NULL DEFAULT '',
		  text TEXT NOT NULL DEFAULT '',
		  time_unix INTEGER NOT NULL DEFAULT 0,
		  edit_time_unix INTEGER NOT NULL DEFAULT 0,
		  reply_to_id INTEGER NOT NULL DEFAULT 0,
		  media_kind TEXT NOT NULL DEFAULT '',
		  is_outgoing INTEGER NOT NULL DEFAULT 0,
		  observed_at_unix INTEGER NOT NULL DEFAULT 0,
		  raw_json TEXT NOT NULL DEFAULT '',
		  PRIMARY KEY (dialog_id, remote_message_id)
		);`,
		`CREATE INDEX IF NOT EXISTS messages_by_recency
		  ON messages(dialog_id, remote_message_id DESC);`,
		`CREATE TABLE IF NOT EXISTS dialogs (
		  id TEXT PRIMARY KEY,
		  conversation_id TEXT NOT NULL,
		  topic_id INTEGER,
		  display_name TEXT NOT NULL DEFAULT '',
		  last_message_preview TEXT NOT NULL DEFAULT '',
		  last_message_time_unix INTEGER NOT NULL DEFAULT 0,
		  last_message_outgoing INTEGER NOT NULL DEFAULT 0,
		  unread_count INTEGER NOT NULL DEFAULT 0,
		  is_multi_topic INTEGER NOT NULL DEFAULT 0,
		  kind TEXT NOT NULL DEFAULT 'person',
		  has_avatar INTEGER NOT NULL DEFAULT 0,
		  observed_at_unix INTEGER NOT NULL DEFAULT 0,
		  raw_json TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS dialogs_by_last_activity
		  ON dialogs(last_message_time_unix DESC, id ASC);`,
		`CREATE TABLE IF NOT EXISTS avatars (
		  subject_id TEXT PRIMARY KEY,
		  bytes BLOB NOT NULL,
		  mime_type TEXT NOT NULL DEFAULT '',
		  updated_at_unix INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "dialog store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Messages(ctx context.Context, dialogID dialogkey.Key, limit int, beforeID int64) ([]MessageRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("dialog store: db is nil")
	}
	if dialogID == "" {
		return nil, errors.New("dialog store: dialogID is empty")
	}
	if limit <= 0 {
		return nil, errors.New("dialog store: limit must be positive")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	query := `
		SELECT remote_message_id, sender_id, sender_name, text, time_unix,
		       edit_time_unix, reply_to_id, media_kind, is_outgoing,
		       observed_at_unix, raw_json
		FROM messages
		WHERE dialog_id = ?
	`
	args := []any{string(dialogID)}
	if beforeID > 0 {
		query += ` AND remote_message_id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY remote_message_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "dialog store: query messages")
	}
	defer func() { _ = rows.Close() }()

	records := make([]MessageRecord, 0, limit)
	for rows.Next() {
		var (
			rec        MessageRecord
			isOutgoing int64
			raw        string
		)
		if err := rows.Scan(
			&rec.RemoteMessageID,
			&rec.SenderID,
			&rec.SenderName,
			&rec.Text,
			&rec.TimeUnix,
			&rec.EditTimeUnix,
			&rec.ReplyToID,
			&rec.MediaKind,
			&isOutgoing,
			&rec.ObservedAtUnix,
			&raw,
		); err != nil {
			return nil, errors.Wrap(err, "dialog store: scan message")
		}
		rec.DialogID = dialogID
		rec.IsOutgoing = isOutgoing == 1
		if raw != "" {
			rec.Raw = []byte(raw)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "dialog store: iterate messages")
	}

	// Rows come back newest first; pages are served oldest first.
	reverseMessages(records)
	return records, nil
}

func (s *SQLiteStore) UpsertMessages(ctx context.Context, dialogID dialogkey.Key, records []MessageRecord) error {
	if s == nil || s.db == nil {
		return errors.New("dialog store: db is nil")
	}
	if dialogID == "" {
		return errors.New("dialog store: dialogID is empty")
	}
	if len(records) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "dialog store: begin upsert messages")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (
			dialog_id, remote_message_id, sender_id, sender_name, text,
			time_unix, edit_time_unix, reply_to_id, media_kind, is_outgoing,
			observed_at_unix, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dialog_id, remote_message_id) DO UPDATE SET
			sender_id = excluded.sender_id,
			sender_name = excluded.sender_name,
			text = excluded.text,
			time_unix = excluded.time_unix,
			edit_time_unix = excluded.edit_time_unix,
			reply_to_id = excluded.reply_to_id,
			media_kind = excluded.media_kind,
			is_outgoing = excluded.is_outgoing,
			observed_at_unix = excluded.observed_at_unix,
			raw_json = excluded.raw_json
		WHERE excluded.observed_at_unix >= messages.observed_at_unix
	`)
	if err != nil {
		return errors.Wrap(err, "dialog store: prepare upsert message")
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			string(dialogID),
			rec.RemoteMessageID,
			rec.SenderID,
			rec.SenderName,
			rec.Text,
			rec.TimeUnix,
			rec.EditTimeUnix,
			rec.ReplyToID,
			rec.MediaKind,
			boolToInt(rec.IsOutgoing),
			rec.ObservedAtUnix,
			string(rec.Raw),
		); err != nil {
			return errors.Wrap(err, "dialog store: upsert message")
		}
	}
	return errors.Wrap(tx.Commit(), "dialog store: commit upsert messages")
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, dialogID dialogkey.Key, remoteMessageID int64) error {
	if s == nil || s.db == nil {
		return errors.New("dialog store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE dialog_id = ? AND remote_message_id = ?`,
		string(dialogID), remoteMessageID)
	return errors.Wrap(err, "dialog store: delete message")
}

func (s *SQLiteStore) Dialogs(ctx context.Context, limit int) ([]DialogRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("dialog store: db is nil")
	}
	if limit <= 0 {
		return nil, errors.New("dialog store: limit must be positive")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, topic_id, display_name,
		       last_message_preview, last_message_time_unix,
		       last_message_outgoing, unread_count, is_multi_topic, kind,
		       has_avatar, observed_at_unix, raw_json
		FROM dialogs
		ORDER BY last_message_time_unix DESC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "dialog store: query dialogs")
	}
	defer func() { _ = rows.Close() }()

	records := make([]DialogRecord, 0, limit)
	for rows.Next() {
		var (
			rec          DialogRecord
			id           string
			topicID      sql.NullInt64
			lastOutgoing int64
			isMultiTopic int64
			hasAvatar    int64
			kind         string
			raw          string
		)
		if err := rows.Scan(
			&id,
			&rec.ConversationID,
			&topicID,
			&rec.DisplayName,
			&rec.LastMessagePreview,
			&rec.LastMessageTimeUnix,
			&lastOutgoing,
			&rec.UnreadCount,
			&isMultiTopic,
			&kind,
			&hasAvatar,
			&rec.ObservedAtUnix,
			&raw,
		); err != nil {
			return nil, errors.Wrap(err, "dialog store: scan dialog")
		}
		rec.ID = dialogkey.Key(id)
		if topicID.Valid {
			rec.TopicID = topicID.Int64
			rec.HasTopic = true
		}
		rec.LastMessageOutgoing = lastOutgoing == 1
		rec.IsMultiTopic = isMultiTopic == 1
		rec.HasAvatar = hasAvatar == 1
		rec.Kind = DialogKind(kind)
		if raw != "" {
			rec.Raw = []byte(raw)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "dialog store: iterate dialogs")
	}
	return records, nil
}

func (s *SQLiteStore) UpsertDialogs(ctx context.Context, records []DialogRecord) error {
	if s == nil || s.db == nil {
		return errors.New("dialog store: db is nil")
	}
	if len(records) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "dialog store: begin upsert dialogs")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dialogs (
			id, conversation_id, topic_id, display_name,
			last_message_preview, last_message_time_unix,
			last_message_outgoing, unread_count, is_multi_topic, kind,
			has_avatar, observed_at_unix, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			topic_id = excluded.topic_id,
			display_name = excluded.display_name,
			last_message_preview = excluded.last_message_preview,
			last_message_time_unix = excluded.last_message_time_unix,
			last_message_outgoing = excluded.last_message_outgoing,
			unread_count = excluded.unread_count,
			is_multi_topic = excluded.is_multi_topic,
			kind = excluded.kind,
			has_avatar = excluded.has_avatar,
			observed_at_unix = excluded.observed_at_unix,
			raw_json = excluded.raw_json
		WHERE excluded.observed_at_unix >= dialogs.observed_at_unix
	`)
	if err != nil {
		return errors.Wrap(err, "dialog store: prepare upsert dialog")
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		if rec.ID == "" {
			return errors.New("dialog store: dialog record without id")
		}
		var topicID any
		if rec.HasTopic {
			topicID = rec.TopicID
		}
		if _, err := stmt.ExecContext(ctx,
			string(rec.ID),
			rec.ConversationID,
			topicID,
			rec.DisplayName,
			rec.LastMessagePreview,
			rec.LastMessageTimeUnix,
			boolToInt(rec.LastMessageOutgoing),
			rec.UnreadCount,
			boolToInt(rec.IsMultiTopic),
			string(rec.Kind),
			boolToInt(rec.HasAvatar),
			rec.ObservedAtUnix,
			string(rec.Raw),
		); err != nil {
			return errors.Wrap(err, "dialog store: upsert dialog")
		}
	}
	return errors.Wrap(tx.Commit(), "dialog store: commit upsert dialogs")
}

func (s *SQLiteStore) DeleteDialog(ctx context.Context, id dialogkey.Key) error {
	if s == nil || s.db == nil {
		return errors.New("dialog store: db is nil")
	}
	if id == "" {
		return errors.New("dialog store: dialog id is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM dialogs WHERE id = ?`, string(id))
	return errors.Wrap(err, "dialog store: delete dialog")
}

func (s *SQLiteStore) Avatar(ctx context.Context, subjectID string) (AvatarBlob, bool, error) {
	if s == nil || s.db == nil {
		return AvatarBlob{}, false, errors.New("dialog store: db is nil")
	}
	if subjectID == "" {
		return AvatarBlob{}, false, errors.New("dialog store: subjectID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	blob := AvatarBlob{SubjectID: subjectID}
	err := s.db.QueryRowContext(ctx,
		`SELECT bytes, mime_type, updated_at_unix FROM avatars WHERE subject_id = ?`,
		subjectID,
	).Scan(&blob.Bytes, &blob.MimeType, &blob.UpdatedAtUnix)
	if errors.Is(err, sql.ErrNoRows) {
		return AvatarBlob{}, false, nil
	}
	if err != nil {
		return AvatarBlob{}, false, errors.Wrap(err, "dialog store: get avatar")
	}
	return blob, true, nil
}

func (s *SQLiteStore) SetAvatar(ctx context.Context, blob AvatarBlob) error {
	if s == nil || s.db == nil {
		return errors.New("dialog store: db is nil")
	}
	if blob.SubjectID == "" {
		return errors.New("dialog store: subjectID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO avatars (subject_id, bytes, mime_type, updated_at_unix)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET
			bytes = excluded.bytes,
			mime_type = excluded.mime_type,
			updated_at_unix = excluded.updated_at_unix
	`, blob.SubjectID, blob.Bytes, blob.MimeType, blob.UpdatedAtUnix)
	return errors.Wrap(err, "dialog store: set avatar")
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func reverseMessages(records []MessageRecord) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}
