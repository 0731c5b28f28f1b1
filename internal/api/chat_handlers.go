// Package api provides HTTP handlers for SurveyPipe chat endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/SurveyPipe/internal/flow"
	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// statusForEngineError maps flow engine errors to HTTP status codes.
func statusForEngineError(err error) int {
	switch {
	case errors.Is(err, flow.ErrTemplateNotFound), errors.Is(err, flow.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, flow.ErrConversationBusy), errors.Is(err, flow.ErrConversationExists), errors.Is(err, flow.ErrConversationEnded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) chatStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.chatStreamHandler: processing chat stream request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.ChatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatStreamHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatStreamHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	sink, err := newSSEWriter(w)
	if err != nil {
		slog.Error("Server.chatStreamHandler: streaming unsupported", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Streaming not supported"))
		return
	}

	// The turn must finish and commit even if the client disconnects
	// mid-stream; the sink drops writes once the connection is gone.
	ctx := context.WithoutCancel(r.Context())
	if err := s.engine.StartConversation(ctx, req.ConversationID, req.TemplateID, req.Message, sink); err != nil {
		slog.Error("Server.chatStreamHandler: turn failed", "error", err, "conversationID", req.ConversationID)
		if sink.WroteAny() {
			sink.WriteError(err.Error())
			return
		}
		writeJSONResponse(w, statusForEngineError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.chatStreamHandler: conversation started", "conversationID", req.ConversationID, "templateID", req.TemplateID)
}

func (s *Server) chatContinueHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.chatContinueHandler: processing chat continue request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.ChatContinueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatContinueHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatContinueHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	sink, err := newSSEWriter(w)
	if err != nil {
		slog.Error("Server.chatContinueHandler: streaming unsupported", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Streaming not supported"))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if err := s.engine.ContinueConversation(ctx, req.ConversationID, req.UserResponse, sink); err != nil {
		slog.Error("Server.chatContinueHandler: turn failed", "error", err, "conversationID", req.ConversationID)
		if sink.WroteAny() {
			sink.WriteError(err.Error())
			return
		}
		writeJSONResponse(w, statusForEngineError(err), models.Error(err.Error()))
		return
	}
	slog.Debug("Server.chatContinueHandler: turn complete", "conversationID", req.ConversationID)
}

func (s *Server) chatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.chatHistoryHandler: processing history list request", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	logs, err := s.st.ListChatLogs()
	if err != nil {
		slog.Error("Server.chatHistoryHandler: failed to list chat logs", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list chat history"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(logs))
}

func (s *Server) chatHistoryDetailHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.chatHistoryDetailHandler: processing history detail request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversationID := strings.TrimPrefix(r.URL.Path, "/chat/history/")
	if conversationID == "" || strings.Contains(conversationID, "/") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid conversation id"))
		return
	}

	log, err := s.st.GetChatLog(conversationID)
	if err != nil {
		slog.Error("Server.chatHistoryDetailHandler: failed to load chat log", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load chat history"))
		return
	}
	if log == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Chat history not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(log))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}
