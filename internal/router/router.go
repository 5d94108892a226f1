// Package router turns inbound chat messages into confirmation-store and
// delegation operations.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zapfluxo/zapfluxo/internal/bus"
	"github.com/zapfluxo/zapfluxo/internal/delegation"
	"github.com/zapfluxo/zapfluxo/internal/pending"
)

// Resolution is what a Resolver proposes for a free-form message.
type Resolution struct {
	// Proposal, when set, is stored as a pending confirmation.
	Proposal *pending.Proposal
	// Reply, when set, is sent back as-is without gating.
	Reply string
}

// Resolver maps a free-form inbound message to a resolution. Implementations
// typically run intent classification.
type Resolver interface {
	Resolve(ctx context.Context, msg *bus.InboundMessage) (*Resolution, error)
}

// Router dispatches inbound messages. Confirmation and cancellation words
// drive the pending store, #aceitar/#recusar drive the delegation handshake,
// and everything else goes through the Resolver.
type Router struct {
	Pending  *pending.Store
	Agents   *delegation.Registry
	Resolver Resolver
	TTL      time.Duration
}

var confirmWords = map[string]bool{
	"sim": true, "s": true, "yes": true, "confirmar": true, "confirmo": true, "ok": true,
}

var cancelWords = map[string]bool{
	"não": true, "nao": true, "n": true, "no": true, "cancelar": true,
}

// Handle processes one inbound message and returns the reply text, empty
// when there is nothing to say.
func (r *Router) Handle(ctx context.Context, msg *bus.InboundMessage) string {
	text := strings.TrimSpace(msg.Content)
	lower := strings.ToLower(text)

	switch {
	case confirmWords[lower]:
		return r.handleConfirm(ctx, msg.ChatID)
	case cancelWords[lower]:
		return r.handleCancel(ctx, msg.ChatID)
	case strings.HasPrefix(lower, "#aceitar "):
		return r.handleAccept(ctx, strings.TrimSpace(text[len("#aceitar "):]), msg.SenderID)
	case strings.HasPrefix(lower, "#recusar "):
		return r.handleReject(ctx, strings.TrimSpace(text[len("#recusar "):]), msg.SenderID)
	}
	return r.handleFreeForm(ctx, msg)
}

func (r *Router) handleConfirm(ctx context.Context, chatID string) string {
	result, err := r.Pending.Confirm(ctx, chatID, nil)
	if err != nil {
		slog.Error("confirm failed", "chat_id", chatID, "error", err)
		return "Não foi possível processar sua confirmação. Tente novamente."
	}
	if result == nil {
		return "Não há nenhuma ação pendente para confirmar."
	}
	if !result.OK {
		return "A ação confirmada não pôde ser executada."
	}
	if result.Text != "" {
		return result.Text
	}
	return "Ação confirmada e executada."
}

func (r *Router) handleCancel(ctx context.Context, chatID string) string {
	removed, err := r.Pending.Clear(ctx, chatID)
	if err != nil {
		slog.Error("cancel failed", "chat_id", chatID, "error", err)
		return "Não foi possível cancelar. Tente novamente."
	}
	if !removed {
		return "Não há nenhuma ação pendente para cancelar."
	}
	return "Solicitação cancelada."
}

func (r *Router) handleAccept(ctx context.Context, chatID, agentID string) string {
	ok, err := r.Agents.AcceptAssignment(ctx, chatID, agentID)
	if err != nil {
		slog.Error("accept failed", "chat_id", chatID, "agent_id", agentID, "error", err)
		return "Não foi possível aceitar o atendimento."
	}
	if !ok {
		return fmt.Sprintf("A conversa %s não está atribuída a você.", chatID)
	}
	return fmt.Sprintf("Você aceitou o atendimento da conversa %s.", chatID)
}

func (r *Router) handleReject(ctx context.Context, chatID, agentID string) string {
	ok, err := r.Agents.RejectAssignment(ctx, chatID, agentID)
	if err != nil {
		slog.Error("reject failed", "chat_id", chatID, "agent_id", agentID, "error", err)
		return "Não foi possível recusar o atendimento."
	}
	if !ok {
		return fmt.Sprintf("A conversa %s não está atribuída a você.", chatID)
	}
	return fmt.Sprintf("Você recusou o atendimento da conversa %s.", chatID)
}

func (r *Router) handleFreeForm(ctx context.Context, msg *bus.InboundMessage) string {
	if r.Resolver == nil {
		return ""
	}
	res, err := r.Resolver.Resolve(ctx, msg)
	if err != nil {
		slog.Error("resolver failed", "chat_id", msg.ChatID, "error", err)
		return ""
	}
	if res == nil {
		return ""
	}
	if res.Proposal != nil {
		if _, err := r.Pending.Set(ctx, msg.ChatID, *res.Proposal, r.TTL); err != nil {
			slog.Error("failed to store pending confirmation", "chat_id", msg.ChatID, "error", err)
			return "Não foi possível registrar sua solicitação. Tente novamente."
		}
		return "Encontrei uma ação para sua mensagem. Responda *sim* para confirmar ou *não* para cancelar."
	}
	return res.Reply
}

// Run consumes inbound messages until the context is cancelled, publishing
// replies back on the originating channel.
func (r *Router) Run(ctx context.Context, b *bus.MessageBus) error {
	for {
		msg, err := b.ConsumeInbound(ctx)
		if err != nil {
			return err
		}
		if reply := r.Handle(ctx, msg); reply != "" {
			b.PublishOutbound(&bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: reply,
			})
		}
	}
}
