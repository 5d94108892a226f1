// Package pending holds proposed actions awaiting explicit user
// confirmation, time-boxed by a TTL, and the sweeper that expires them.
package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zapfluxo/zapfluxo/internal/action"
	"github.com/zapfluxo/zapfluxo/internal/audit"
	"github.com/zapfluxo/zapfluxo/internal/metrics"
)

// Intent is the resolver snapshot carried through for audit purposes only.
type Intent struct {
	IntentID string  `json:"intentId"`
	Score    float64 `json:"score"`
}

// Confirmation is one proposed action awaiting a yes/no. At most one live
// confirmation exists per chat; a new Set silently supersedes the prior one.
type Confirmation struct {
	ID           string            `json:"id"`
	ChatID       string            `json:"chatId"`
	Action       action.Descriptor `json:"action"`
	Intent       *Intent           `json:"intent,omitempty"`
	OriginalText string            `json:"originalText"`
	CreatedAt    time.Time         `json:"createdAt"`
	ExpiresAt    time.Time         `json:"expiresAt"`
}

// Proposal is the input to Set.
type Proposal struct {
	Action       action.Descriptor
	Intent       *Intent
	OriginalText string
}

// Timestamps are persisted as epoch milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS pending_confirmations (
	chat_id TEXT PRIMARY KEY,
	confirmation_id TEXT NOT NULL,
	action TEXT NOT NULL,
	intent_id TEXT,
	intent_score REAL,
	has_intent BOOLEAN NOT NULL DEFAULT 0,
	original_text TEXT NOT NULL DEFAULT '',
	created_at_ms INTEGER NOT NULL,
	expires_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_expires ON pending_confirmations(expires_at_ms);
`

// Store is the durable pending-confirmation store. All operations sweep
// expired rows first, and Get filters on expiry regardless, so pull-based
// expiry holds even when no sweeper is running.
//
// Pop is atomic via the backend's DELETE ... RETURNING, so two concurrent
// pops for the same chat cannot both observe the entry. The sweeper racing
// an in-flight Confirm is resolved the same way: whichever delete lands
// first wins, the loser sees a missing entry and treats it as a no-op.
type Store struct {
	db         *sql.DB
	runner     *action.Runner
	audit      *audit.Log
	metrics    *metrics.Registry
	defaultTTL time.Duration
}

// NewStore creates the store, applying its schema. A defaultTTL <= 0 falls
// back to one hour.
func NewStore(db *sql.DB, runner *action.Runner, auditLog *audit.Log, reg *metrics.Registry, defaultTTL time.Duration) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply pending schema: %w", err)
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Store{db: db, runner: runner, audit: auditLog, metrics: reg, defaultTTL: defaultTTL}, nil
}

// withRetry runs a durable write, retrying once synchronously before
// propagating the failure.
func withRetry(op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	slog.Warn("durable write failed, retrying once", "op", op, "error", err)
	if err = fn(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) sweepExpired(ctx context.Context) error {
	return withRetry("sweep expired", func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM pending_confirmations WHERE expires_at_ms <= ?`, time.Now().UnixMilli())
		return err
	})
}

// Set inserts a new pending confirmation for the chat, unconditionally
// discarding any prior one without executing or auditing it. A ttl <= 0
// uses the store default.
func (s *Store) Set(ctx context.Context, chatID string, p Proposal, ttl time.Duration) (*Confirmation, error) {
	if err := s.sweepExpired(ctx); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := time.Now()
	c := &Confirmation{
		ID:           uuid.NewString(),
		ChatID:       chatID,
		Action:       p.Action,
		Intent:       p.Intent,
		OriginalText: p.OriginalText,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	actionJSON, err := json.Marshal(c.Action)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action: %w", err)
	}

	var intentID sql.NullString
	var intentScore sql.NullFloat64
	if c.Intent != nil {
		intentID = sql.NullString{String: c.Intent.IntentID, Valid: true}
		intentScore = sql.NullFloat64{Float64: c.Intent.Score, Valid: true}
	}

	err = withRetry("set pending", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		// Replacement is full delete-then-insert, never an in-place update.
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_confirmations WHERE chat_id = ?`, chatID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pending_confirmations
			 (chat_id, confirmation_id, action, intent_id, intent_score, has_intent, original_text, created_at_ms, expires_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ChatID, c.ID, string(actionJSON), intentID, intentScore, c.Intent != nil,
			c.OriginalText, c.CreatedAt.UnixMilli(), c.ExpiresAt.UnixMilli())
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

const confirmationColumns = `chat_id, confirmation_id, action, intent_id, intent_score, has_intent, original_text, created_at_ms, expires_at_ms`

func scanConfirmation(row interface{ Scan(...any) error }) (*Confirmation, error) {
	var c Confirmation
	var actionJSON string
	var intentID sql.NullString
	var intentScore sql.NullFloat64
	var hasIntent bool
	var createdMs, expiresMs int64
	err := row.Scan(&c.ChatID, &c.ID, &actionJSON, &intentID, &intentScore, &hasIntent,
		&c.OriginalText, &createdMs, &expiresMs)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(actionJSON), &c.Action); err != nil {
		return nil, fmt.Errorf("failed to decode action: %w", err)
	}
	if hasIntent {
		c.Intent = &Intent{IntentID: intentID.String, Score: intentScore.Float64}
	}
	c.CreatedAt = time.UnixMilli(createdMs)
	c.ExpiresAt = time.UnixMilli(expiresMs)
	return &c, nil
}

// Get returns the live confirmation for the chat, nil when none. Liveness
// is computed against expires_at even if no sweep has run yet.
func (s *Store) Get(ctx context.Context, chatID string) (*Confirmation, error) {
	if err := s.sweepExpired(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+confirmationColumns+` FROM pending_confirmations
		 WHERE chat_id = ? AND expires_at_ms > ?`, chatID, time.Now().UnixMilli())
	c, err := scanConfirmation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending confirmation: %w", err)
	}
	return c, nil
}

// Pop atomically reads and deletes the live confirmation for the chat. At
// most one caller observes a non-nil result for a given entry.
func (s *Store) Pop(ctx context.Context, chatID string) (*Confirmation, error) {
	if err := s.sweepExpired(ctx); err != nil {
		return nil, err
	}
	var c *Confirmation
	err := withRetry("pop pending", func() error {
		row := s.db.QueryRowContext(ctx,
			`DELETE FROM pending_confirmations
			 WHERE chat_id = ? AND expires_at_ms > ?
			 RETURNING `+confirmationColumns, chatID, time.Now().UnixMilli())
		got, err := scanConfirmation(row)
		if err == sql.ErrNoRows {
			c = nil
			return nil
		}
		if err != nil {
			return err
		}
		c = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Clear discards the chat's pending confirmation without executing it.
// Returns whether something was actually removed; only then is the
// rejections counter bumped.
func (s *Store) Clear(ctx context.Context, chatID string) (bool, error) {
	if err := s.sweepExpired(ctx); err != nil {
		return false, err
	}
	var removed bool
	err := withRetry("clear pending", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM pending_confirmations WHERE chat_id = ?`, chatID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		removed = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if removed && s.metrics != nil {
		s.metrics.Increment(metrics.CounterRejections, 1)
	}
	return removed, nil
}

// Confirm pops the chat's pending confirmation and executes its action.
// A nil result with nil error means there was nothing to confirm, which is
// a normal outcome, not an error. Runner failures are caught and reported as
// Result{OK:false}; the confirmed transition is still audited and metered.
func (s *Store) Confirm(ctx context.Context, chatID string, extra map[string]any) (*action.Result, error) {
	entry, err := s.Pop(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	ectx := make(map[string]any, len(extra)+4)
	for k, v := range extra {
		ectx[k] = v
	}
	ectx[action.CtxChatID] = chatID
	if entry.Intent != nil {
		ectx[action.CtxIntentID] = entry.Intent.IntentID
		ectx[action.CtxIntentScore] = entry.Intent.Score
	}
	ectx[action.CtxMessageText] = entry.OriginalText

	result, runErr := s.runner.Run(ctx, entry.Action, ectx)
	if runErr != nil {
		slog.Warn("confirmed action failed", "chat_id", chatID, "type", entry.Action.Type, "error", runErr)
		result = &action.Result{OK: false, Type: string(entry.Action.Type), Raw: runErr.Error()}
	}

	// The action is confirmed at this point; audit and metrics must not
	// un-confirm it.
	if s.audit != nil {
		e := &audit.Entry{ChatID: chatID, ActionType: "confirmed", Text: entry.OriginalText}
		if entry.Intent != nil {
			e.IntentID = entry.Intent.IntentID
			e.IntentScore = entry.Intent.Score
		}
		if err := s.audit.Append(ctx, e); err != nil {
			slog.Warn("failed to audit confirmation", "chat_id", chatID, "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.Increment(metrics.CounterConfirmations, 1)
	}
	return result, nil
}
