package action

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zapfluxo/zapfluxo/internal/audit"
	"github.com/zapfluxo/zapfluxo/internal/metrics"
)

// Runner executes action descriptors against a conversation context and
// records every execution in the audit log and the metrics registry.
// Collaborator fields left nil make the corresponding action kinds report a
// collaborator failure instead of panicking.
type Runner struct {
	TextGen  TextGenerator
	Tags     TagStore
	Forwards ForwardStore
	Funnels  FunnelStore
	Statuses StatusStore
	Tools    ToolCaller
	Agents   Delegator

	Audit   *audit.Log
	Metrics *metrics.Registry
}

// Run dispatches the descriptor. Validation and collaborator failures come
// back as Result{OK:false}; only ASSISTANT_GPT generation failures and
// durable-store errors inside delegation return a non-nil error.
func (r *Runner) Run(ctx context.Context, d Descriptor, ectx map[string]any) (*Result, error) {
	switch d.Type {
	case TypeResponder:
		return r.runResponder(ctx, d, ectx)
	case TypeAssistantGPT:
		return r.runAssistantGPT(ctx, d, ectx)
	case TypeTag:
		return r.runTag(ctx, d, ectx)
	case TypeEncaminhar:
		return r.runEncaminhar(ctx, d, ectx)
	case TypeFunil:
		return r.runFunil(ctx, d, ectx)
	case TypeStatus:
		return r.runStatus(ctx, d, ectx)
	case TypeDelegar:
		return r.runDelegar(ctx, d, ectx)
	case TypeToolCall:
		return r.runToolCall(ctx, d, ectx)
	default:
		return &Result{OK: false, Type: TypeUnsupported}, nil
	}
}

func (r *Runner) runResponder(ctx context.Context, d Descriptor, ectx map[string]any) (*Result, error) {
	text, ok := stringParam(d.Params, "text")
	if !ok {
		return failure(d.Type, "missing_text"), nil
	}
	text = Interpolate(text, ectx)
	r.recordExecution(ctx, d.Type, ectx, text)
	return &Result{OK: true, Type: string(d.Type), Text: text}, nil
}

func (r *Runner) runAssistantGPT(ctx context.Context, d Descriptor, ectx map[string]any) (*Result, error) {
	prompt, ok := stringParam(d.Params, "prompt")
	if !ok {
		return failure(d.Type, "missing_prompt"), nil
	}
	prompt = Interpolate(prompt, ectx)
	opts := GenerateOptions{
		Model:     optString(d.Params, "model"),
		MaxTokens: optInt(d.Params, "maxTokens"),
	}
	opts.SystemPrompt = optString(d.Params, "systemPrompt")

	if r.TextGen == nil {
		return nil, fmt.Errorf("text generator not configured")
	}
	// Generation failure has no structured fallback; it propagates.
	text, err := r.TextGen.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	r.recordExecution(ctx, d.Type, ectx, text)
	return &Result{OK: true, Type: string(d.Type), Text: text}, nil
}

func (r *Runner) runTag(ctx context.Context, d Descriptor, ectx map[string]any) (*Result, error) {
	tag, ok := stringParam(d.Params, "tag")
	if !ok {
		return failure(d.Type, "missing_tag"), nil
	}
	if r.Tags == nil {
		return failure(d.Type, "tag store not configured"), nil
	}
	tags, err := r.Tags.AddTag(ctx, ctxString(ectx, CtxChatID), tag)
	if err != nil {
		return failure(d.Type, err.Error()), nil
	}
	r.recordExecution(ctx, d.Type, ectx, tag)
	return &Result{OK: true, Type: string(d.Type), Raw: tags}, nil
}

func (r *Runner) runEncaminhar(ctx context.Context, d Descriptor, ectx map[string]any) (*Result, error) {
	target, ok := stringParam(d.Params, "target")
	if !ok {
		return failure(d.Type, "missing_target"), nil
	}
	message, ok := stringParam(d.Params, "message")
	if !ok {
		return failure(d.Type, "missing_message"), nil
	}
	message = Interpolate(message, ectx)
	if r.Forwards == nil {
		return failure(d.Type, "forward store not configured"), nil
	}
	err := r.Forwards.ForwardMessage(ctx, ctxString(ectx, CtxChatID), target, message, map[string]any{
		"intentId": ectx[CtxIntentID],
	})
	if err != nil {
		return failure(d.Type, err.Error()), nil
	}
	r.recordExecution(ctx, d.Type, ectx, message)
	return &Result{OK: true, Type: string(d.Type), Text: message}, nil
}

func (r *Runner) runFunil(ctx context.Context, d Descriptor, ectx map[string]any) (*Result, error) {
	funnelID, ok := stringParam(d.Params, "funnelId")
	if !ok {
		return failure(d.Type, "missing_funnelId"), nil
	}
	stepID := optString(d.Params, "stepId")
	if r.Funnels == nil {
		return failure(d.Type, "funnel store not configured"), nil
	}
	if err := r.Funnels.SetChatFunnel(ctx, ctxString(ectx, CtxChatID), funnelID, stepID); err != nil {
		return failure(d.Type, err.Error()), nil
	}
	r.recordExecution(ctx, d.Type, ectx, funnelID)
	return &Result{OK: true, Type: string(d.Type), Raw: funnelID}, nil
}

func (r *Runner) runStatus(ctx context.Context, d Descriptor, ectx map[string]any) (*Result, error) {
	status, ok := stringParam(d.Params, "status")
	if !ok {
		return failure(d.Type, "missing_status"), nil
	}
	if r.Statuses == nil {
		return failure(d.Type, "status store not configured"), nil
	}
	if err := r.Statuses.SetChatStatus(ctx, ctxString(ectx, CtxChatID), status); err != nil {
		return failure(d.Type, err.Error()), nil
	}
	r.recordExecution(ctx, d.Type, ectx, status)
	return &Result{OK: true, Type: string(d.Type), Raw: status}, nil
}

func (r *Runner) runDelegar(ctx context.Context, d Descriptor, ectx map[string]any) (*Result, error) {
	chatID := ctxString(ectx, CtxChatID)
	message := Interpolate(optString(d.Params, "message"), ectx)

	if r.Agents == nil {
		return failure(d.Type, "no_agent_available"), nil
	}
	agent, err := r.Agents.NextAgent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to pick agent: %w", err)
	}
	if agent == nil {
		return failure(d.Type, "no_agent_available"), nil
	}
	if err := r.Agents.AssignChat(ctx, chatID, agent.ID); err != nil {
		return nil, fmt.Errorf("failed to assign chat: %w", err)
	}

	// Status update and agent notification are best-effort: a transport
	// hiccup must not undo an assignment that already happened.
	if r.Statuses != nil {
		sideEffect("delegation status", func() error {
			return r.Statuses.SetChatStatus(ctx, chatID, "assigned:"+agent.ID)
		})
	}
	if r.Forwards != nil {
		sideEffect("delegation notify", func() error {
			note := fmt.Sprintf(
				"Novo atendimento: chat %s.\n%s\nResponda \"#aceitar %s\" para assumir ou \"#recusar %s\" para recusar.",
				chatID, message, chatID, chatID)
			return r.Forwards.ForwardMessage(ctx, chatID, agent.ID, note, map[string]any{"kind": "delegation"})
		})
	}

	r.recordExecution(ctx, d.Type, ectx, "assigned:"+agent.ID)
	text := message
	if strings.TrimSpace(text) == "" {
		text = fmt.Sprintf("Você foi encaminhado para %s. Aguarde um instante.", agent.Name)
	}
	return &Result{OK: true, Type: string(d.Type), Text: text, Raw: agent.ID}, nil
}

func (r *Runner) runToolCall(ctx context.Context, d Descriptor, ectx map[string]any) (*Result, error) {
	toolName, ok := stringParam(d.Params, "toolName")
	if !ok {
		return failure(d.Type, "missing_toolName"), nil
	}
	args, _ := d.Params["args"].(map[string]any)
	if r.Tools == nil {
		return failure(d.Type, "tool registry not configured"), nil
	}
	res, err := r.Tools.Call(ctx, toolName, args, ectx)
	if err != nil {
		return failure(d.Type, err.Error()), nil
	}
	if !res.Success {
		return &Result{
			OK:   false,
			Type: string(d.Type),
			Text: fmt.Sprintf("A ferramenta %s não pôde ser executada.", toolName),
			Raw:  res,
		}, nil
	}
	r.recordExecution(ctx, d.Type, ectx, toolName)
	return &Result{OK: true, Type: string(d.Type), Text: fmt.Sprintf("%v", res.Result), Raw: res}, nil
}

// recordExecution writes the audit entry and bumps actions_executed. Both
// are best-effort: an audit or metrics failure never fails the action.
func (r *Runner) recordExecution(ctx context.Context, t Type, ectx map[string]any, text string) {
	if r.Audit != nil {
		sideEffect("audit", func() error {
			return r.Audit.Append(ctx, &audit.Entry{
				ChatID:      ctxString(ectx, CtxChatID),
				IntentID:    ctxString(ectx, CtxIntentID),
				IntentScore: ctxFloat(ectx, CtxIntentScore),
				ActionType:  string(t),
				Text:        text,
			})
		})
	}
	if r.Metrics != nil {
		sideEffect("metrics", func() error {
			r.Metrics.Increment(metrics.CounterActionsExecuted, 1)
			return nil
		})
	}
}

// sideEffect runs a fire-and-forget write, logging instead of surfacing
// failures. Kept as one helper so the swallow pattern stays visible.
func sideEffect(name string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("side effect panicked", "name", name, "panic", rec)
		}
	}()
	if err := fn(); err != nil {
		slog.Warn("side effect failed", "name", name, "error", err)
	}
}

func failure(t Type, raw string) *Result {
	return &Result{OK: false, Type: string(t), Raw: raw}
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func optString(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func optInt(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func ctxString(ectx map[string]any, key string) string {
	if v, ok := ectx[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func ctxFloat(ectx map[string]any, key string) float64 {
	switch v := ectx[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
