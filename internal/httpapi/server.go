// Package httpapi exposes the admin HTTP surface: agent roster management,
// the delegation handshake, and read-only views over pending confirmations,
// metrics, and the audit trail.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/zapfluxo/zapfluxo/internal/audit"
	"github.com/zapfluxo/zapfluxo/internal/delegation"
	"github.com/zapfluxo/zapfluxo/internal/metrics"
	"github.com/zapfluxo/zapfluxo/internal/pending"
)

// Server wires the API handlers.
type Server struct {
	Pending *pending.Store
	Agents  *delegation.Registry
	Audit   *audit.Log
	Metrics *metrics.Registry
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/v1/audit", s.handleAudit)
	mux.HandleFunc("GET /api/v1/pending/{chatID}", s.handleGetPending)
	mux.HandleFunc("DELETE /api/v1/pending/{chatID}", s.handleClearPending)

	mux.HandleFunc("GET /api/v1/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/v1/agents", s.handleAddAgent)
	mux.HandleFunc("DELETE /api/v1/agents/{agentID}", s.handleRemoveAgent)
	mux.HandleFunc("PUT /api/v1/agents/{agentID}/availability", s.handleAvailability)
	mux.HandleFunc("POST /api/v1/agents/{agentID}/accept", s.handleAccept)
	mux.HandleFunc("POST /api/v1/agents/{agentID}/reject", s.handleReject)

	return mux
}

// ListenAndServe runs the API until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("http api listening", "addr", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.Metrics.GetAll())
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	var entries []audit.Entry
	var err error
	if chatID := r.URL.Query().Get("chatId"); chatID != "" {
		entries, err = s.Audit.ListByChat(r.Context(), chatID, limit)
	} else {
		entries, err = s.Audit.List(r.Context(), limit, offset)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(entries)
}

func (s *Server) handleGetPending(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatID")
	c, err := s.Pending.Get(r.Context(), chatID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if c == nil {
		http.Error(w, "no pending confirmation", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(c)
}

func (s *Server) handleClearPending(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatID")
	removed, err := s.Pending.Clear(r.Context(), chatID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"removed": removed})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.Agents.ListAgents(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(agents)
}

func (s *Server) handleAddAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.Name == "" {
		http.Error(w, "id and name required", http.StatusBadRequest)
		return
	}
	agent, err := s.Agents.AddAgent(r.Context(), req.ID, req.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(agent)
}

func (s *Server) handleRemoveAgent(w http.ResponseWriter, r *http.Request) {
	removed, err := s.Agents.RemoveAgent(r.Context(), r.PathValue("agentID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !removed {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"removed": true})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	agent, err := s.Agents.SetAgentAvailability(r.Context(), r.PathValue("agentID"), req.Available)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if agent == nil {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(agent)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentID")
	var req struct {
		ChatID string `json:"chatId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" {
		http.Error(w, "chatId required", http.StatusBadRequest)
		return
	}
	ok, err := s.Agents.AcceptAssignment(r.Context(), req.ChatID, agentID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "chat is not assigned to this agent", http.StatusConflict)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"accepted": true})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentID")
	var req struct {
		ChatID     string `json:"chatId"`
		Redelegate bool   `json:"redelegate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" {
		http.Error(w, "chatId required", http.StatusBadRequest)
		return
	}
	ok, err := s.Agents.RejectAssignment(r.Context(), req.ChatID, agentID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "chat is not assigned to this agent", http.StatusConflict)
		return
	}

	resp := map[string]any{"rejected": true}
	if req.Redelegate {
		next, err := s.Agents.NextAgent(r.Context())
		if err == nil && next != nil && next.ID != agentID {
			if _, err := s.Agents.AssignChat(r.Context(), req.ChatID, next.ID); err == nil {
				resp["reassignedTo"] = next.ID
			}
		}
	}
	json.NewEncoder(w).Encode(resp)
}
