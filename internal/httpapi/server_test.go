package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/zapfluxo/zapfluxo/internal/action"
	"github.com/zapfluxo/zapfluxo/internal/audit"
	"github.com/zapfluxo/zapfluxo/internal/delegation"
	"github.com/zapfluxo/zapfluxo/internal/metrics"
	"github.com/zapfluxo/zapfluxo/internal/pending"
	"github.com/zapfluxo/zapfluxo/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
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

	srv := &Server{Pending: store, Agents: agents, Audit: auditLog, Metrics: reg}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestAgentLifecycle(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/agents", map[string]string{"id": "a1", "name": "Ana"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add agent status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Get(ts.URL + "/api/v1/agents")
	agents := decode[[]delegation.Agent](t, resp)
	if len(agents) != 1 || agents[0].ID != "a1" || !agents[0].Available {
		t.Fatalf("unexpected roster: %+v", agents)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/agents/a1", nil)
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second remove status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAcceptHandshake(t *testing.T) {
	srv, ts := newTestServer(t)
	ctx := context.Background()

	srv.Agents.AddAgent(ctx, "a1", "Ana")
	srv.Agents.AssignChat(ctx, "u1", "a1")

	// Wrong agent gets a conflict.
	resp := postJSON(t, ts.URL+"/api/v1/agents/a2/accept", map[string]string{"chatId": "u1"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("mismatch status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/v1/agents/a1/accept", map[string]string{"chatId": "u1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["accepted"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRejectWithRedelegate(t *testing.T) {
	srv, ts := newTestServer(t)
	ctx := context.Background()

	srv.Agents.AddAgent(ctx, "a1", "Ana")
	srv.Agents.AddAgent(ctx, "a2", "Bruno")
	srv.Agents.AssignChat(ctx, "u1", "a1")

	resp := postJSON(t, ts.URL+"/api/v1/agents/a1/reject", map[string]any{"chatId": "u1", "redelegate": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reject status %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["rejected"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
	reassigned, ok := body["reassignedTo"].(string)
	if !ok || reassigned == "a1" {
		t.Fatalf("expected redelegation to another agent, got %v", body)
	}

	asg, _ := srv.Agents.GetChatAssignment(ctx, "u1")
	if asg == nil || asg.AgentID != reassigned {
		t.Fatalf("unexpected assignment: %+v", asg)
	}
}

func TestPendingEndpoints(t *testing.T) {
	srv, ts := newTestServer(t)
	ctx := context.Background()

	resp, _ := http.Get(ts.URL + "/api/v1/pending/u1")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("empty pending status %d", resp.StatusCode)
	}
	resp.Body.Close()

	srv.Pending.Set(ctx, "u1", pending.Proposal{
		Action: action.Descriptor{Type: action.TypeResponder, Params: map[string]any{"text": "oi"}},
	}, time.Hour)

	resp, _ = http.Get(ts.URL + "/api/v1/pending/u1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pending status %d", resp.StatusCode)
	}
	c := decode[pending.Confirmation](t, resp)
	if c.ChatID != "u1" || c.Action.Type != action.TypeResponder {
		t.Fatalf("unexpected confirmation: %+v", c)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/pending/u1", nil)
	resp, _ = http.DefaultClient.Do(req)
	body := decode[map[string]any](t, resp)
	if body["removed"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.Metrics.Increment(metrics.CounterConfirmations, 2)

	resp, _ := http.Get(ts.URL + "/api/v1/metrics")
	counters := decode[map[string]int64](t, resp)
	if counters[metrics.CounterConfirmations] != 2 {
		t.Fatalf("unexpected counters: %v", counters)
	}
	if _, ok := counters[metrics.CounterExpirations]; !ok {
		t.Fatalf("seeded counter missing: %v", counters)
	}
}

func TestAuditEndpoint(t *testing.T) {
	srv, ts := newTestServer(t)
	ctx := context.Background()

	srv.Audit.Append(ctx, &audit.Entry{ChatID: "u1", ActionType: "confirmed", Text: "ok"})
	srv.Audit.Append(ctx, &audit.Entry{ChatID: "u2", ActionType: "expired", Text: "tarde demais"})

	resp, _ := http.Get(ts.URL + "/api/v1/audit?chatId=u1")
	entries := decode[[]audit.Entry](t, resp)
	if len(entries) != 1 || entries[0].ChatID != "u1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	resp, _ = http.Get(ts.URL + "/api/v1/audit")
	entries = decode[[]audit.Entry](t, resp)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
}
