package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"incubator/pkg/logx"
	"incubator/pkg/session"
)

// Server exposes the conversation API over HTTP.
type Server struct {
	addr   string
	orch   Orchestrator
	logger *logx.Logger
}

// Orchestrator is the turn pipeline as seen from the HTTP layer.
type Orchestrator interface {
	StartConversation(ctx context.Context) (*session.Record, string, error)
	HandleTurn(ctx context.Context, conversationID, message string) (string, error)
	Resume(ctx context.Context, conversationID, statusHint, checkoutID string) (string, error)
}

// NewServer creates the HTTP server for the given orchestrator.
func NewServer(addr string, o Orchestrator) *Server {
	return &Server{
		addr:   addr,
		orch:   o,
		logger: logx.NewLogger("http"),
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/resume", s.handleResume)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("🌐 Listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("⏳ Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	rec, greeting, err := s.orch.StartConversation(r.Context())
	if err != nil {
		s.logger.Error("Start failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to start conversation")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{ConversationID: rec.ConversationID, Reply: greeting})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := s.orch.HandleTurn(r.Context(), req.ConversationID, req.Message)
	if err != nil {
		s.logger.Error("Turn failed for %s: %v", req.ConversationID, err)
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{ConversationID: req.ConversationID, Reply: reply})
}

// handleResume is the landing endpoint for checkout redirects. Stripe appends
// the session id to the success URL; the cancel URL carries only the hint.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	q := r.URL.Query()
	convID := strings.TrimSpace(q.Get("conv_id"))
	if convID == "" {
		writeError(w, http.StatusBadRequest, "conv_id is required")
		return
	}

	reply, err := s.orch.Resume(r.Context(), convID, q.Get("status"), q.Get("checkout_session"))
	if err != nil {
		s.logger.Error("Resume failed for %s: %v", convID, err)
		writeError(w, http.StatusInternalServerError, "failed to resume conversation")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{ConversationID: convID, Reply: reply})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
