package router

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zapfluxo/zapfluxo/internal/action"
	"github.com/zapfluxo/zapfluxo/internal/audit"
	"github.com/zapfluxo/zapfluxo/internal/bus"
	"github.com/zapfluxo/zapfluxo/internal/delegation"
	"github.com/zapfluxo/zapfluxo/internal/metrics"
	"github.com/zapfluxo/zapfluxo/internal/pending"
	"github.com/zapfluxo/zapfluxo/internal/storage"
)

type stubResolver struct {
	resolution *Resolution
	err        error
	lastText   string
}

func (s *stubResolver) Resolve(ctx context.Context, msg *bus.InboundMessage) (*Resolution, error) {
	s.lastText = msg.Content
	return s.resolution, s.err
}

func newRouter(t *testing.T) (*Router, *stubResolver) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	auditLog, err := audit.NewLog(db)
	if err != nil {
		t.Fatalf("failed to create audit log: %v", err)
	}
	reg := metrics.New()
	runner := &action.Runner{Audit: auditLog, Metrics: reg}
	store, err := pending.NewStore(db, runner, auditLog, reg, time.Hour)
	if err != nil {
		t.Fatalf("failed to create pending store: %v", err)
	}
	agents, err := delegation.NewRegistry(db)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	resolver := &stubResolver{}
	return &Router{
		Pending:  store,
		Agents:   agents,
		Resolver: resolver,
		TTL:      time.Hour,
	}, resolver
}

func inbound(chatID, senderID, content string) *bus.InboundMessage {
	return &bus.InboundMessage{Channel: "whatsapp", ChatID: chatID, SenderID: senderID, Content: content}
}

func responderProposal(text string) *pending.Proposal {
	return &pending.Proposal{
		Action: action.Descriptor{
			Type:   action.TypeResponder,
			Params: map[string]any{"text": text},
		},
	}
}

func TestHandleProposalThenConfirm(t *testing.T) {
	r, resolver := newRouter(t)
	ctx := context.Background()
	resolver.resolution = &Resolution{Proposal: responderProposal("Pedido anotado!")}

	reply := r.Handle(ctx, inbound("u1", "u1", "quero pedir uma pizza"))
	if !strings.Contains(reply, "sim") {
		t.Fatalf("expected confirmation prompt, got %q", reply)
	}
	if resolver.lastText != "quero pedir uma pizza" {
		t.Fatalf("resolver did not see the message: %q", resolver.lastText)
	}

	reply = r.Handle(ctx, inbound("u1", "u1", "Sim"))
	if reply != "Pedido anotado!" {
		t.Fatalf("expected executed action text, got %q", reply)
	}

	// Confirmed entry is gone.
	reply = r.Handle(ctx, inbound("u1", "u1", "sim"))
	if !strings.Contains(reply, "pendente") {
		t.Fatalf("expected nothing-pending reply, got %q", reply)
	}
}

func TestHandleCancel(t *testing.T) {
	r, resolver := newRouter(t)
	ctx := context.Background()
	resolver.resolution = &Resolution{Proposal: responderProposal("oi")}

	r.Handle(ctx, inbound("u1", "u1", "quero cancelar minha conta"))

	reply := r.Handle(ctx, inbound("u1", "u1", "não"))
	if reply != "Solicitação cancelada." {
		t.Fatalf("got %q", reply)
	}
	reply = r.Handle(ctx, inbound("u1", "u1", "nao"))
	if !strings.Contains(reply, "pendente") {
		t.Fatalf("expected nothing-pending reply, got %q", reply)
	}
}

func TestHandleAgentHandshake(t *testing.T) {
	r, _ := newRouter(t)
	ctx := context.Background()

	r.Agents.AddAgent(ctx, "a1", "Ana")
	r.Agents.AddAgent(ctx, "a2", "Bruno")
	if _, err := r.Agents.AssignChat(ctx, "u1", "a1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// Wrong agent cannot accept.
	reply := r.Handle(ctx, inbound("agents", "a2", "#aceitar u1"))
	if !strings.Contains(reply, "não está atribuída") {
		t.Fatalf("got %q", reply)
	}

	reply = r.Handle(ctx, inbound("agents", "a1", "#aceitar u1"))
	if !strings.Contains(reply, "aceitou") {
		t.Fatalf("got %q", reply)
	}

	asg, _ := r.Agents.GetChatAssignment(ctx, "u1")
	if asg == nil || !asg.Accepted {
		t.Fatalf("expected accepted assignment, got %+v", asg)
	}
}

func TestHandleAgentReject(t *testing.T) {
	r, _ := newRouter(t)
	ctx := context.Background()

	r.Agents.AddAgent(ctx, "a1", "Ana")
	r.Agents.AssignChat(ctx, "u1", "a1")

	reply := r.Handle(ctx, inbound("agents", "a1", "#recusar u1"))
	if !strings.Contains(reply, "recusou") {
		t.Fatalf("got %q", reply)
	}
	asg, _ := r.Agents.GetChatAssignment(ctx, "u1")
	if asg != nil {
		t.Fatalf("rejected assignment must be deleted, got %+v", asg)
	}
}

func TestHandleFreeFormDirectReply(t *testing.T) {
	r, resolver := newRouter(t)
	resolver.resolution = &Resolution{Reply: "Oi! Como posso ajudar?"}

	reply := r.Handle(context.Background(), inbound("u1", "u1", "bom dia"))
	if reply != "Oi! Como posso ajudar?" {
		t.Fatalf("got %q", reply)
	}
}

func TestHandleNoResolver(t *testing.T) {
	r, _ := newRouter(t)
	r.Resolver = nil

	if reply := r.Handle(context.Background(), inbound("u1", "u1", "qualquer coisa")); reply != "" {
		t.Fatalf("expected silence, got %q", reply)
	}
}
