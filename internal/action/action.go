// Package action defines the engine's action descriptors and the typed
// dispatcher that executes them against a conversation context.
package action

import "context"

// Type identifies one action kind. The set is closed: Runner.Run dispatches
// over it with a single switch and anything else reports unsupported.
type Type string

const (
	TypeResponder    Type = "RESPONDER"
	TypeAssistantGPT Type = "ASSISTANT_GPT"
	TypeTag          Type = "TAG"
	TypeEncaminhar   Type = "ENCAMINHAR"
	TypeFunil        Type = "FUNIL"
	TypeStatus       Type = "STATUS"
	TypeDelegar      Type = "DELEGAR"
	TypeToolCall     Type = "TOOL_CALL"
)

// Descriptor is a tagged action descriptor: which side effect to run and
// with what arguments.
type Descriptor struct {
	Type   Type           `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Result is the outcome of running one action.
type Result struct {
	OK   bool   `json:"ok"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Raw  any    `json:"raw,omitempty"`
}

// TypeUnsupported is reported for action kinds outside the closed set.
const TypeUnsupported = "unsupported"

// Execution context keys. Template interpolation only ever resolves
// [A-Z0-9_]+ tokens, so the lowercase keys are reachable by collaborators
// but not by templates.
const (
	CtxChatID      = "chatId"
	CtxIntentID    = "intentId"
	CtxIntentScore = "intentScore"
	CtxMessageText = "MSG_TEXT"
)

// TextGenerator produces assistant text for a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// GenerateOptions carries the optional ASSISTANT_GPT parameters.
type GenerateOptions struct {
	SystemPrompt string
	Model        string
	MaxTokens    int
}

// TagStore adds tags to a conversation's tag set.
type TagStore interface {
	AddTag(ctx context.Context, chatID, tag string) ([]string, error)
}

// ForwardStore persists a forwarded message for a target.
type ForwardStore interface {
	ForwardMessage(ctx context.Context, chatID, target, text string, meta map[string]any) error
}

// FunnelStore upserts a conversation's funnel position.
type FunnelStore interface {
	SetChatFunnel(ctx context.Context, chatID, funnelID, stepID string) error
}

// StatusStore sets a conversation's status string.
type StatusStore interface {
	SetChatStatus(ctx context.Context, chatID, status string) error
}

// ToolResult is what a registered tool call produces.
type ToolResult struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolCaller invokes a registered tool by name.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any, ectx map[string]any) (*ToolResult, error)
}

// Agent is the delegation view of a human agent.
type Agent struct {
	ID   string
	Name string
}

// Delegator hands chats to human agents.
type Delegator interface {
	// NextAgent returns the next available agent in rotation, nil when none.
	NextAgent(ctx context.Context) (*Agent, error)
	// AssignChat records the chat-to-agent assignment, pending acceptance.
	AssignChat(ctx context.Context, chatID, agentID string) error
}
