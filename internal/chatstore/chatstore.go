// Package chatstore persists per-conversation metadata touched by actions:
// tags, forwarded messages, funnel position, and status.
package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ForwardRecord is one persisted forward.
type ForwardRecord struct {
	ID        int64     `json:"id"`
	ChatID    string    `json:"chat_id"`
	Target    string    `json:"target"`
	Text      string    `json:"text"`
	Meta      string    `json:"meta,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FunnelPosition is a conversation's place in a funnel.
type FunnelPosition struct {
	ChatID    string    `json:"chat_id"`
	FunnelID  string    `json:"funnel_id"`
	StepID    string    `json:"step_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS chat_tags (
	chat_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (chat_id, tag)
);

CREATE TABLE IF NOT EXISTS chat_forwards (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id TEXT NOT NULL,
	target TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	meta TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chat_forwards_chat ON chat_forwards(chat_id);
CREATE INDEX IF NOT EXISTS idx_chat_forwards_target ON chat_forwards(target);

CREATE TABLE IF NOT EXISTS chat_funnels (
	chat_id TEXT PRIMARY KEY,
	funnel_id TEXT NOT NULL,
	step_id TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_status (
	chat_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// Store is the sqlite-backed chat metadata store. It implements the
// runner's TagStore, ForwardStore, FunnelStore, and StatusStore
// collaborator interfaces.
type Store struct {
	db *sql.DB
}

// NewStore creates the store, applying its schema.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply chatstore schema: %w", err)
	}
	return &Store{db: db}, nil
}

// AddTag idempotently adds a tag to the chat's tag set and returns the
// full set.
func (s *Store) AddTag(ctx context.Context, chatID, tag string) ([]string, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_tags (chat_id, tag) VALUES (?, ?) ON CONFLICT(chat_id, tag) DO NOTHING`,
		chatID, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to add tag: %w", err)
	}
	return s.Tags(ctx, chatID)
}

// Tags returns the chat's tag set in insertion order.
func (s *Store) Tags(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag FROM chat_tags WHERE chat_id = ? ORDER BY created_at, tag`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// ForwardMessage persists a forward record.
func (s *Store) ForwardMessage(ctx context.Context, chatID, target, text string, meta map[string]any) error {
	metaJSON := "{}"
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			metaJSON = string(b)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_forwards (chat_id, target, text, meta) VALUES (?, ?, ?, ?)`,
		chatID, target, text, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to record forward: %w", err)
	}
	return nil
}

// ForwardsForTarget returns forwards addressed to a target, newest first.
func (s *Store) ForwardsForTarget(ctx context.Context, target string, limit int) ([]ForwardRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, target, text, meta, created_at
		 FROM chat_forwards WHERE target = ? ORDER BY id DESC LIMIT ?`, target, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list forwards: %w", err)
	}
	defer rows.Close()

	records := []ForwardRecord{}
	for rows.Next() {
		var r ForwardRecord
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Target, &r.Text, &r.Meta, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SetChatFunnel upserts the chat's funnel position.
func (s *Store) SetChatFunnel(ctx context.Context, chatID, funnelID, stepID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_funnels (chat_id, funnel_id, step_id, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET funnel_id = excluded.funnel_id, step_id = excluded.step_id, updated_at = excluded.updated_at`,
		chatID, funnelID, stepID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set funnel: %w", err)
	}
	return nil
}

// GetChatFunnel returns the chat's funnel position, nil when none.
func (s *Store) GetChatFunnel(ctx context.Context, chatID string) (*FunnelPosition, error) {
	var p FunnelPosition
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, funnel_id, step_id, updated_at FROM chat_funnels WHERE chat_id = ?`, chatID).
		Scan(&p.ChatID, &p.FunnelID, &p.StepID, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get funnel: %w", err)
	}
	return &p, nil
}

// SetChatStatus upserts the chat's status string.
func (s *Store) SetChatStatus(ctx context.Context, chatID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_status (chat_id, status, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		chatID, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return nil
}

// GetChatStatus returns the chat's status, empty when unset.
func (s *Store) GetChatStatus(ctx context.Context, chatID string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM chat_status WHERE chat_id = ?`, chatID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get status: %w", err)
	}
	return status, nil
}
