package action

import (
	"context"
	"errors"
	"testing"

	"github.com/zapfluxo/zapfluxo/internal/metrics"
)

type stubTextGen struct {
	prompt string
	opts   GenerateOptions
	text   string
	err    error
}

func (s *stubTextGen) Generate(_ context.Context, prompt string, opts GenerateOptions) (string, error) {
	s.prompt = prompt
	s.opts = opts
	return s.text, s.err
}

type stubTags struct {
	added []string
	err   error
}

func (s *stubTags) AddTag(_ context.Context, _, tag string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, t := range s.added {
		if t == tag {
			return s.added, nil
		}
	}
	s.added = append(s.added, tag)
	return s.added, nil
}

type stubForwards struct {
	chatID, target, text string
	calls                int
	err                  error
}

func (s *stubForwards) ForwardMessage(_ context.Context, chatID, target, text string, _ map[string]any) error {
	s.calls++
	s.chatID, s.target, s.text = chatID, target, text
	return s.err
}

type stubFunnels struct {
	funnelID, stepID string
	err              error
}

func (s *stubFunnels) SetChatFunnel(_ context.Context, _, funnelID, stepID string) error {
	s.funnelID, s.stepID = funnelID, stepID
	return s.err
}

type stubStatuses struct {
	status string
	err    error
}

func (s *stubStatuses) SetChatStatus(_ context.Context, _, status string) error {
	s.status = status
	return s.err
}

type stubTools struct {
	result *ToolResult
	err    error
}

func (s *stubTools) Call(_ context.Context, _ string, _ map[string]any, _ map[string]any) (*ToolResult, error) {
	return s.result, s.err
}

type stubDelegator struct {
	agents   []Agent
	idx      int
	assigned map[string]string
}

func (s *stubDelegator) NextAgent(_ context.Context) (*Agent, error) {
	if len(s.agents) == 0 {
		return nil, nil
	}
	a := s.agents[s.idx%len(s.agents)]
	s.idx++
	return &a, nil
}

func (s *stubDelegator) AssignChat(_ context.Context, chatID, agentID string) error {
	if s.assigned == nil {
		s.assigned = map[string]string{}
	}
	s.assigned[chatID] = agentID
	return nil
}

func newRunner() (*Runner, *metrics.Registry) {
	reg := metrics.New()
	return &Runner{Metrics: reg}, reg
}

func TestRunResponder(t *testing.T) {
	r, reg := newRunner()
	res, err := r.Run(context.Background(),
		Descriptor{Type: TypeResponder, Params: map[string]any{"text": "Olá {NAME}, tudo bem?"}},
		map[string]any{"NAME": "Ana"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.OK || res.Type != "RESPONDER" || res.Text != "Olá Ana, tudo bem?" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if n := reg.Get(metrics.CounterActionsExecuted); n != 1 {
		t.Fatalf("expected actions_executed=1, got %d", n)
	}
}

func TestRunUnsupported(t *testing.T) {
	r, reg := newRunner()
	res, err := r.Run(context.Background(), Descriptor{Type: "BOGUS"}, map[string]any{})
	if err != nil {
		t.Fatalf("unsupported must not error: %v", err)
	}
	if res.OK || res.Type != TypeUnsupported {
		t.Fatalf("unexpected result: %+v", res)
	}
	if n := reg.Get(metrics.CounterActionsExecuted); n != 0 {
		t.Fatalf("unsupported must not meter, got %d", n)
	}
}

func TestRunMissingParams(t *testing.T) {
	r, _ := newRunner()
	cases := []struct {
		d   Descriptor
		raw string
	}{
		{Descriptor{Type: TypeResponder}, "missing_text"},
		{Descriptor{Type: TypeAssistantGPT}, "missing_prompt"},
		{Descriptor{Type: TypeTag}, "missing_tag"},
		{Descriptor{Type: TypeEncaminhar}, "missing_target"},
		{Descriptor{Type: TypeEncaminhar, Params: map[string]any{"target": "suporte"}}, "missing_message"},
		{Descriptor{Type: TypeFunil}, "missing_funnelId"},
		{Descriptor{Type: TypeStatus}, "missing_status"},
		{Descriptor{Type: TypeToolCall}, "missing_toolName"},
	}
	for _, tc := range cases {
		res, err := r.Run(context.Background(), tc.d, map[string]any{})
		if err != nil {
			t.Fatalf("%s: validation must not error: %v", tc.d.Type, err)
		}
		if res.OK || res.Raw != tc.raw {
			t.Fatalf("%s: expected raw=%q, got %+v", tc.d.Type, tc.raw, res)
		}
	}
}

func TestRunAssistantGPT(t *testing.T) {
	gen := &stubTextGen{text: "resposta gerada"}
	r, _ := newRunner()
	r.TextGen = gen

	res, err := r.Run(context.Background(), Descriptor{
		Type: TypeAssistantGPT,
		Params: map[string]any{
			"prompt":       "Responda {MSG_TEXT}",
			"systemPrompt": "seja breve",
			"model":        "gpt-4o-mini",
			"maxTokens":    float64(128),
		},
	}, map[string]any{"MSG_TEXT": "oi"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.OK || res.Text != "resposta gerada" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gen.prompt != "Responda oi" {
		t.Fatalf("prompt not interpolated: %q", gen.prompt)
	}
	if gen.opts.SystemPrompt != "seja breve" || gen.opts.Model != "gpt-4o-mini" || gen.opts.MaxTokens != 128 {
		t.Fatalf("options not threaded: %+v", gen.opts)
	}
}

func TestRunAssistantGPTPropagatesError(t *testing.T) {
	r, _ := newRunner()
	r.TextGen = &stubTextGen{err: errors.New("upstream down")}

	_, err := r.Run(context.Background(),
		Descriptor{Type: TypeAssistantGPT, Params: map[string]any{"prompt": "oi"}}, map[string]any{})
	if err == nil {
		t.Fatalf("generation failure must propagate")
	}
}

func TestRunTagIdempotent(t *testing.T) {
	tags := &stubTags{}
	r, _ := newRunner()
	r.Tags = tags

	d := Descriptor{Type: TypeTag, Params: map[string]any{"tag": "vip"}}
	ectx := map[string]any{CtxChatID: "u1"}
	for i := 0; i < 2; i++ {
		res, err := r.Run(context.Background(), d, ectx)
		if err != nil || !res.OK {
			t.Fatalf("run %d: res=%+v err=%v", i, res, err)
		}
	}
	if len(tags.added) != 1 {
		t.Fatalf("expected single tag, got %v", tags.added)
	}
}

func TestRunEncaminharCollaboratorErrorCaught(t *testing.T) {
	r, _ := newRunner()
	r.Forwards = &stubForwards{err: errors.New("store offline")}

	res, err := r.Run(context.Background(), Descriptor{
		Type:   TypeEncaminhar,
		Params: map[string]any{"target": "suporte", "message": "repasse de {NAME}"},
	}, map[string]any{"NAME": "Ana"})
	if err != nil {
		t.Fatalf("collaborator failure must be caught: %v", err)
	}
	if res.OK || res.Raw != "store offline" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunEncaminharInterpolates(t *testing.T) {
	fw := &stubForwards{}
	r, _ := newRunner()
	r.Forwards = fw

	res, err := r.Run(context.Background(), Descriptor{
		Type:   TypeEncaminhar,
		Params: map[string]any{"target": "suporte", "message": "cliente {NAME} pediu ajuda"},
	}, map[string]any{"NAME": "Ana", CtxChatID: "u1"})
	if err != nil || !res.OK {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if fw.target != "suporte" || fw.text != "cliente Ana pediu ajuda" {
		t.Fatalf("forward not recorded: %+v", fw)
	}
}

func TestRunFunilAndStatus(t *testing.T) {
	fun := &stubFunnels{}
	st := &stubStatuses{}
	r, _ := newRunner()
	r.Funnels = fun
	r.Statuses = st

	res, err := r.Run(context.Background(), Descriptor{
		Type:   TypeFunil,
		Params: map[string]any{"funnelId": "vendas", "stepId": "proposta"},
	}, map[string]any{CtxChatID: "u1"})
	if err != nil || !res.OK {
		t.Fatalf("funil: res=%+v err=%v", res, err)
	}
	if fun.funnelID != "vendas" || fun.stepID != "proposta" {
		t.Fatalf("funnel not set: %+v", fun)
	}

	res, err = r.Run(context.Background(), Descriptor{
		Type:   TypeStatus,
		Params: map[string]any{"status": "aguardando"},
	}, map[string]any{CtxChatID: "u1"})
	if err != nil || !res.OK {
		t.Fatalf("status: res=%+v err=%v", res, err)
	}
	if st.status != "aguardando" {
		t.Fatalf("status not set: %q", st.status)
	}
}

func TestRunDelegarNoAgents(t *testing.T) {
	r, _ := newRunner()
	r.Agents = &stubDelegator{}

	res, err := r.Run(context.Background(), Descriptor{Type: TypeDelegar}, map[string]any{CtxChatID: "x"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.OK || res.Raw != "no_agent_available" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunDelegarAssignsAndNotifies(t *testing.T) {
	del := &stubDelegator{agents: []Agent{{ID: "a1", Name: "Ana"}}}
	st := &stubStatuses{}
	fw := &stubForwards{}
	r, _ := newRunner()
	r.Agents = del
	r.Statuses = st
	r.Forwards = fw

	res, err := r.Run(context.Background(), Descriptor{
		Type:   TypeDelegar,
		Params: map[string]any{"message": "cliente {NAME} quer falar"},
	}, map[string]any{CtxChatID: "chat1", "NAME": "Ana"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.OK || res.Raw != "a1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if del.assigned["chat1"] != "a1" {
		t.Fatalf("chat not assigned: %+v", del.assigned)
	}
	if st.status != "assigned:a1" {
		t.Fatalf("status not set: %q", st.status)
	}
	if fw.calls != 1 || fw.target != "a1" {
		t.Fatalf("agent not notified: %+v", fw)
	}
}

func TestRunDelegarForwardFailureTolerated(t *testing.T) {
	del := &stubDelegator{agents: []Agent{{ID: "a1", Name: "Ana"}}}
	r, _ := newRunner()
	r.Agents = del
	r.Forwards = &stubForwards{err: errors.New("transport down")}

	res, err := r.Run(context.Background(), Descriptor{Type: TypeDelegar}, map[string]any{CtxChatID: "chat1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.OK {
		t.Fatalf("notification failure must not fail delegation: %+v", res)
	}
}

func TestRunToolCall(t *testing.T) {
	r, _ := newRunner()
	r.Tools = &stubTools{result: &ToolResult{Success: true, Result: "14:30"}}

	res, err := r.Run(context.Background(), Descriptor{
		Type:   TypeToolCall,
		Params: map[string]any{"toolName": "current_time"},
	}, map[string]any{})
	if err != nil || !res.OK {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if res.Text != "14:30" {
		t.Fatalf("unexpected text: %q", res.Text)
	}
}

func TestRunToolCallFailureIsResult(t *testing.T) {
	failed := &ToolResult{Success: false, Error: "boom"}
	r, _ := newRunner()
	r.Tools = &stubTools{result: failed}

	res, err := r.Run(context.Background(), Descriptor{
		Type:   TypeToolCall,
		Params: map[string]any{"toolName": "broken"},
	}, map[string]any{})
	if err != nil {
		t.Fatalf("tool failure must not throw: %v", err)
	}
	if res.OK || res.Text == "" {
		t.Fatalf("expected human-readable failure, got %+v", res)
	}
	if res.Raw != failed {
		t.Fatalf("raw must carry the tool result")
	}
}
