package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leadflowhq/leadflow/flow"
	"github.com/leadflowhq/leadflow/flow/store"
)

// maxBodyBytes caps request payloads; graph documents are the largest
// legitimate body.
const maxBodyBytes = 1 << 20

type startRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	LeadID         string `json:"lead_id"`
	TenantID       string `json:"tenant_id"`
}

type stepRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	Message        string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !s.decode(w, r, &req) {
		return
	}
	conv, err := s.engine.StartConversation(r.Context(), req.ConversationID, req.LeadID, req.TenantID)
	if err != nil {
		s.log.Error().Err(err).Msg("start conversation failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to start conversation"})
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.engine.ProcessMessage(r.Context(), req.ConversationID, req.Message)
	if err != nil {
		s.log.Error().Err(err).Str("conversation_id", req.ConversationID).Msg("step failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "step failed"})
		return
	}

	status := http.StatusOK
	if result.Err != nil {
		switch result.Err.Code {
		case flow.CodeConversationBusy:
			status = http.StatusConflict
		case flow.CodeFlowTerminal:
			status = http.StatusGone
		}
	}
	writeJSON(w, status, result)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	conv, err := s.engine.Context(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "conversation not found"})
			return
		}
		s.log.Error().Err(err).Str("conversation_id", id).Msg("context load failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load context"})
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	conv, err := s.engine.Context(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "conversation not found"})
			return
		}
		s.log.Error().Err(err).Str("conversation_id", id).Msg("context load failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load context"})
		return
	}
	writeJSON(w, http.StatusOK, flow.ScoreLead(conv, time.Now()))
}

func (s *Server) handleValidateGraph(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return
	}

	g, diags, err := flow.Load(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if diags == nil {
		diags = []flow.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":       !flow.HasErrors(diags),
		"node_count":  len(g.Nodes),
		"start_node":  g.StartNodeID,
		"diagnostics": diags,
	})
}

// decode reads, parses, and validates a JSON request body. It writes the
// error response itself and reports success.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
