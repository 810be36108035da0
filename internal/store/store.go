// Package store is the Message Store: a single-file SQLite database
// (mattn/go-sqlite3, database/sql) opened in WAL mode, holding every
// dialog's metadata, its message history with edit tracking, and the
// post-processor's weekly analysis log. Grounded on the Transaction
// helper and QueryRowContext/Scan repository style the pack's Postgres
// layer uses, adapted to SQLite's upsert-by-hand idiom (no native
// RETURNING-into-struct round trip inside a transaction that also needs
// to branch on insert-vs-update).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"chatarchiver/internal/errs"
	"chatarchiver/internal/gateway"
	"chatarchiver/internal/infra/clock"
)

func clockNowUnix() int64 {
	return clock.Now().Unix()
}

const schema = `
CREATE TABLE IF NOT EXISTS dialogs (
  dialog_id INTEGER PRIMARY KEY,
  title TEXT NOT NULL,
  kind TEXT NOT NULL,
  is_blacklisted INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS messages (
  dialog_id INTEGER NOT NULL,
  message_id INTEGER NOT NULL,
  ts INTEGER NOT NULL,
  sender_id INTEGER,
  text TEXT NOT NULL,
  media_descriptor TEXT,
  edit_history TEXT NOT NULL DEFAULT '[]',
  PRIMARY KEY (dialog_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_dialog_ts ON messages(dialog_id, ts);
CREATE TABLE IF NOT EXISTS analysis_log (
  dialog_id INTEGER NOT NULL,
  week_bucket TEXT NOT NULL,
  analyzed_at INTEGER NOT NULL,
  PRIMARY KEY (dialog_id, week_bucket)
);
`

// Store wraps a *sql.DB opened against a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path in WAL mode
// and applies the schema. WAL mode lets readers on other connections read
// while a write is in progress; within this process SetMaxOpenConns(1)
// routes every query through a single connection.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite3 %s: %v", errs.ErrStoreIO, path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver: one writer at a time avoids SQLITE_BUSY churn
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: apply schema: %v", errs.ErrStoreIO, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// editEntry is one record in a message row's edit_history JSON array.
type editEntry struct {
	EditedAt  int64  `json:"edited_at"`
	PriorText string `json:"prior_text"`
}

// UpsertDialog records or refreshes a dialog's title/kind. Blacklist status
// is left untouched (SetBlacklist owns it exclusively).
func (s *Store) UpsertDialog(ctx context.Context, d gateway.Dialog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dialogs (dialog_id, title, kind, is_blacklisted)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(dialog_id) DO UPDATE SET title = excluded.title, kind = excluded.kind
	`, d.ID, d.Title, string(d.Kind))
	if err != nil {
		return fmt.Errorf("%w: upsert dialog %d: %v", errs.ErrStoreIO, d.ID, err)
	}
	return nil
}

// SaveMessageBatch persists messages for dialogID inside one transaction:
// either every message commits or none does. A message whose text changed
// since the last persisted copy is updated in place with a new entry
// appended to its edit_history; a message not yet seen is inserted fresh.
func (s *Store) SaveMessageBatch(ctx context.Context, dialogID int64, messages []gateway.RawMessage) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", errs.ErrStoreIO, err)
	}
	defer tx.Rollback() // no-op once committed

	selectStmt, err := tx.PrepareContext(ctx,
		`SELECT text, edit_history FROM messages WHERE dialog_id = ? AND message_id = ?`)
	if err != nil {
		return fmt.Errorf("%w: prepare select: %v", errs.ErrStoreIO, err)
	}
	defer selectStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (dialog_id, message_id, ts, sender_id, text, media_descriptor, edit_history)
		VALUES (?, ?, ?, ?, ?, ?, '[]')
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", errs.ErrStoreIO, err)
	}
	defer insertStmt.Close()

	updateStmt, err := tx.PrepareContext(ctx, `
		UPDATE messages SET text = ?, edit_history = ? WHERE dialog_id = ? AND message_id = ?
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare update: %v", errs.ErrStoreIO, err)
	}
	defer updateStmt.Close()

	for _, m := range messages {
		var mediaDescriptor sql.NullString
		if len(m.MediaDescriptor) > 0 {
			mediaDescriptor = sql.NullString{String: string(m.MediaDescriptor), Valid: true}
		}

		var existingText string
		var existingHistory string
		err := selectStmt.QueryRowContext(ctx, dialogID, m.ID).Scan(&existingText, &existingHistory)
		switch {
		case err == sql.ErrNoRows:
			if _, err := insertStmt.ExecContext(ctx, dialogID, m.ID, m.Timestamp, m.SenderID, m.Text, mediaDescriptor); err != nil {
				return fmt.Errorf("%w: insert message %d/%d: %v", errs.ErrStoreConflict, dialogID, m.ID, err)
			}
		case err != nil:
			return fmt.Errorf("%w: select message %d/%d: %v", errs.ErrStoreIO, dialogID, m.ID, err)
		case existingText == m.Text:
			// Unchanged: nothing to do, re-fetching the same message is not an edit.
		default:
			history, decodeErr := appendEditEntry(existingHistory, existingText, clockNowUnix())
			if decodeErr != nil {
				return fmt.Errorf("%w: decode edit_history %d/%d: %v", errs.ErrStoreIO, dialogID, m.ID, decodeErr)
			}
			if _, err := updateStmt.ExecContext(ctx, m.Text, history, dialogID, m.ID); err != nil {
				return fmt.Errorf("%w: update message %d/%d: %v", errs.ErrStoreConflict, dialogID, m.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", errs.ErrStoreIO, err)
	}
	return nil
}

func appendEditEntry(existingHistoryJSON, priorText string, editedAt int64) (string, error) {
	var history []editEntry
	if existingHistoryJSON != "" {
		if err := json.Unmarshal([]byte(existingHistoryJSON), &history); err != nil {
			return "", err
		}
	}
	history = append(history, editEntry{EditedAt: editedAt, PriorText: priorText})
	encoded, err := json.Marshal(history)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// StoredMessage is a row read back from the store, including its edit
// history, for callers (watcher, post-processor) that need more than the
// gateway.RawMessage shape carries.
type StoredMessage struct {
	gateway.RawMessage
	EditHistory []EditRecord
}

// EditRecord is one entry of a message's edit history, exported for callers
// outside this package.
type EditRecord struct {
	EditedAt  int64
	PriorText string
}

// ReadMessages returns messages for dialogID with message_id > sinceID,
// ordered ascending by ts, newest message last.
func (s *Store) ReadMessages(ctx context.Context, dialogID, sinceID int64) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, ts, sender_id, text, media_descriptor, edit_history
		FROM messages
		WHERE dialog_id = ? AND message_id > ?
		ORDER BY ts ASC
	`, dialogID, sinceID)
	if err != nil {
		return nil, fmt.Errorf("%w: read messages dialog %d: %v", errs.ErrStoreIO, dialogID, err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var (
			msg             StoredMessage
			senderID        sql.NullInt64
			mediaDescriptor sql.NullString
			editHistoryJSON string
		)
		if err := rows.Scan(&msg.ID, &msg.Timestamp, &senderID, &msg.Text, &mediaDescriptor, &editHistoryJSON); err != nil {
			return nil, fmt.Errorf("%w: scan message row: %v", errs.ErrStoreIO, err)
		}
		msg.SenderID = senderID.Int64
		if mediaDescriptor.Valid {
			msg.MediaDescriptor = []byte(mediaDescriptor.String)
		}
		var entries []editEntry
		if editHistoryJSON != "" {
			if err := json.Unmarshal([]byte(editHistoryJSON), &entries); err != nil {
				return nil, fmt.Errorf("%w: decode edit_history: %v", errs.ErrStoreIO, err)
			}
		}
		for _, e := range entries {
			msg.EditHistory = append(msg.EditHistory, EditRecord{EditedAt: e.EditedAt, PriorText: e.PriorText})
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate messages: %v", errs.ErrStoreIO, err)
	}
	return out, nil
}

// ListBlacklist returns the dialog IDs currently marked blacklisted.
func (s *Store) ListBlacklist(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT dialog_id FROM dialogs WHERE is_blacklisted = 1`)
	if err != nil {
		return nil, fmt.Errorf("%w: list blacklist: %v", errs.ErrStoreIO, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan blacklist row: %v", errs.ErrStoreIO, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SetBlacklist flips dialogID's blacklist flag. The dialog row must already
// exist (via UpsertDialog); SetBlacklist does not create one.
func (s *Store) SetBlacklist(ctx context.Context, dialogID int64, blacklisted bool) error {
	flag := 0
	if blacklisted {
		flag = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE dialogs SET is_blacklisted = ? WHERE dialog_id = ?`, flag, dialogID)
	if err != nil {
		return fmt.Errorf("%w: set blacklist %d: %v", errs.ErrStoreIO, dialogID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", errs.ErrStoreIO, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: dialog %d not found", errs.ErrGatewayNotFound, dialogID)
	}
	return nil
}

// RecordAnalysis marks weekBucket as analyzed for dialogID, called by the
// post-processor after a successful Summarize. Idempotent: re-analyzing the
// same bucket overwrites the timestamp rather than erroring.
func (s *Store) RecordAnalysis(ctx context.Context, dialogID int64, weekBucket string, analyzedAt int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_log (dialog_id, week_bucket, analyzed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(dialog_id, week_bucket) DO UPDATE SET analyzed_at = excluded.analyzed_at
	`, dialogID, weekBucket, analyzedAt)
	if err != nil {
		return fmt.Errorf("%w: record analysis %d/%s: %v", errs.ErrStoreIO, dialogID, weekBucket, err)
	}
	return nil
}

// IsAnalyzed reports whether weekBucket has already been analyzed for
// dialogID, letting the post-processor skip a dialog/week pair it already
// processed.
func (s *Store) IsAnalyzed(ctx context.Context, dialogID int64, weekBucket string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM analysis_log WHERE dialog_id = ? AND week_bucket = ?`,
		dialogID, weekBucket).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: check analysis %d/%s: %v", errs.ErrStoreIO, dialogID, weekBucket, err)
	}
	return true, nil
}
