package router

import (
	"context"

	"github.com/zapfluxo/zapfluxo/internal/action"
	"github.com/zapfluxo/zapfluxo/internal/bus"
)

const assistantSystemPrompt = "Você é um atendente virtual educado e objetivo. Responda em português do Brasil."

// AssistantResolver answers free-form messages directly through the text
// generator. It never proposes gated actions; those come from upstream
// automations through the pending store.
type AssistantResolver struct {
	gen action.TextGenerator
}

// NewAssistantResolver creates the resolver.
func NewAssistantResolver(gen action.TextGenerator) *AssistantResolver {
	return &AssistantResolver{gen: gen}
}

func (a *AssistantResolver) Resolve(ctx context.Context, msg *bus.InboundMessage) (*Resolution, error) {
	reply, err := a.gen.Generate(ctx, msg.Content, action.GenerateOptions{
		SystemPrompt: assistantSystemPrompt,
	})
	if err != nil {
		return nil, err
	}
	return &Resolution{Reply: reply}, nil
}
