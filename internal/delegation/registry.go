// Package delegation tracks human agents and chat-to-agent assignments,
// handing chats off round-robin with an accept/reject handshake.
package delegation

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Agent is a registered human agent.
type Agent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// ChatAssignment maps one chat to one agent. It is pending until the same
// agent accepts it; rejection deletes it outright.
type ChatAssignment struct {
	ChatID     string     `json:"chat_id"`
	AgentID    string     `json:"agent_id"`
	Accepted   bool       `json:"accepted"`
	AssignedAt time.Time  `json:"assigned_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS delegation_agents (
	rowid_order INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	available BOOLEAN NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS delegation_assignments (
	chat_id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	accepted BOOLEAN NOT NULL DEFAULT 0,
	assigned_at DATETIME NOT NULL,
	accepted_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_delegation_assignments_agent ON delegation_assignments(agent_id);
`

// Registry is the sqlite-backed delegation registry. The rotation pointer
// lives in memory and is scoped to the currently available subset; it is
// shared across all calls, not per-chat. The pointer advance is serialized
// with a mutex, so concurrent callers get distinct agents in strict
// rotation order, ordered by lock acquisition.
type Registry struct {
	db *sql.DB

	mu      sync.Mutex
	pointer int
}

// NewRegistry creates the registry, applying its schema.
func NewRegistry(db *sql.DB) (*Registry, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply delegation schema: %w", err)
	}
	return &Registry{db: db}, nil
}

// AddAgent registers an agent, available by default. Re-adding an existing
// id updates the name and resets availability.
func (r *Registry) AddAgent(ctx context.Context, id, name string) (*Agent, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO delegation_agents (agent_id, name, available) VALUES (?, ?, 1)
		 ON CONFLICT(agent_id) DO UPDATE SET name = excluded.name, available = 1`,
		id, name)
	if err != nil {
		return nil, fmt.Errorf("failed to add agent: %w", err)
	}
	return &Agent{ID: id, Name: name, Available: true}, nil
}

// RemoveAgent deletes an agent from the roster. Existing assignments are
// left in place; the handshake endpoints still match on agent id.
func (r *Registry) RemoveAgent(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM delegation_agents WHERE agent_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove agent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListAgents returns all agents in registration order.
func (r *Registry) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT agent_id, name, available FROM delegation_agents ORDER BY rowid_order`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	agents := []Agent{}
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Available); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// SetAgentAvailability flips an agent's availability. Returns nil (no error)
// when the agent does not exist.
func (r *Registry) SetAgentAvailability(ctx context.Context, id string, available bool) (*Agent, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE delegation_agents SET available = ? WHERE agent_id = ?`, available, id)
	if err != nil {
		return nil, fmt.Errorf("failed to set availability: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	var a Agent
	err = r.db.QueryRowContext(ctx,
		`SELECT agent_id, name, available FROM delegation_agents WHERE agent_id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Available)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// NextAgent returns the next available agent in rotation, nil when no agent
// is available. The pointer wraps modulo the size of the available subset.
func (r *Registry) NextAgent(ctx context.Context) (*Agent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT agent_id, name, available FROM delegation_agents WHERE available = 1 ORDER BY rowid_order`)
	if err != nil {
		return nil, fmt.Errorf("failed to load available agents: %w", err)
	}
	defer rows.Close()

	var available []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Available); err != nil {
			return nil, err
		}
		available = append(available, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, nil
	}

	r.mu.Lock()
	idx := r.pointer % len(available)
	r.pointer = (idx + 1) % len(available)
	r.mu.Unlock()

	agent := available[idx]
	return &agent, nil
}

// AssignChat upserts a pending assignment for the chat, overwriting any
// prior one. Callers are responsible for not double-assigning a chat that
// is still being attended.
func (r *Registry) AssignChat(ctx context.Context, chatID, agentID string) (*ChatAssignment, error) {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO delegation_assignments (chat_id, agent_id, accepted, assigned_at, accepted_at)
		 VALUES (?, ?, 0, ?, NULL)
		 ON CONFLICT(chat_id) DO UPDATE SET agent_id = excluded.agent_id, accepted = 0, assigned_at = excluded.assigned_at, accepted_at = NULL`,
		chatID, agentID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to assign chat: %w", err)
	}
	return &ChatAssignment{ChatID: chatID, AgentID: agentID, AssignedAt: now}, nil
}

// GetChatAssignment returns the assignment for a chat, nil when none.
func (r *Registry) GetChatAssignment(ctx context.Context, chatID string) (*ChatAssignment, error) {
	var a ChatAssignment
	var acceptedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT chat_id, agent_id, accepted, assigned_at, accepted_at
		 FROM delegation_assignments WHERE chat_id = ?`, chatID).
		Scan(&a.ChatID, &a.AgentID, &a.Accepted, &a.AssignedAt, &acceptedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	if acceptedAt.Valid {
		a.AcceptedAt = &acceptedAt.Time
	}
	return &a, nil
}

// ClearChatAssignment deletes the assignment for a chat.
func (r *Registry) ClearChatAssignment(ctx context.Context, chatID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM delegation_assignments WHERE chat_id = ?`, chatID)
	if err != nil {
		return false, fmt.Errorf("failed to clear assignment: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AcceptAssignment marks the assignment accepted, but only when it exists
// and belongs to the same agent. No mutation otherwise.
func (r *Registry) AcceptAssignment(ctx context.Context, chatID, agentID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE delegation_assignments SET accepted = 1, accepted_at = ?
		 WHERE chat_id = ? AND agent_id = ?`,
		time.Now(), chatID, agentID)
	if err != nil {
		return false, fmt.Errorf("failed to accept assignment: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RejectAssignment deletes the assignment under the same matching rule as
// AcceptAssignment. It never re-delegates by itself; that is the caller's
// move (typically running the DELEGAR action again).
func (r *Registry) RejectAssignment(ctx context.Context, chatID, agentID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM delegation_assignments WHERE chat_id = ? AND agent_id = ?`, chatID, agentID)
	if err != nil {
		return false, fmt.Errorf("failed to reject assignment: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
