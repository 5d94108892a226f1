// Package audit provides the append-only record of executed actions.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Entry is a single audited action. Entries are write-once; nothing in this
// engine updates or deletes them (retention is an external concern).
type Entry struct {
	ID          int64     `json:"id"`
	ChatID      string    `json:"chat_id"`
	IntentID    string    `json:"intent_id,omitempty"`
	IntentScore float64   `json:"intent_score,omitempty"`
	ActionType  string    `json:"action_type"`
	Text        string    `json:"text,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id TEXT NOT NULL,
	intent_id TEXT DEFAULT '',
	intent_score REAL DEFAULT 0,
	action_type TEXT NOT NULL,
	text TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_audit_chat ON audit_entries(chat_id);
CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_entries(action_type);
`

// Log is the sqlite-backed audit log.
type Log struct {
	db *sql.DB
}

// NewLog creates the audit log, applying its schema.
func NewLog(db *sql.DB) (*Log, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply audit schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Append writes one entry. CreatedAt defaults to now when zero.
func (l *Log) Append(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_entries (chat_id, intent_id, intent_score, action_type, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ChatID, e.IntentID, e.IntentScore, e.ActionType, e.Text, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// List returns entries newest first.
func (l *Log) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, chat_id, intent_id, intent_score, action_type, text, created_at
		 FROM audit_entries ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ChatID, &e.IntentID, &e.IntentScore, &e.ActionType, &e.Text, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListByChat returns entries for one conversation, newest first.
func (l *Log) ListByChat(ctx context.Context, chatID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, chat_id, intent_id, intent_score, action_type, text, created_at
		 FROM audit_entries WHERE chat_id = ? ORDER BY id DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ChatID, &e.IntentID, &e.IntentScore, &e.ActionType, &e.Text, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
