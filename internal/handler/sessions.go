package handler

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/voicelab-ai/testbench/internal/middleware"
	"github.com/voicelab-ai/testbench/internal/model"
	"github.com/voicelab-ai/testbench/internal/store"
	"github.com/voicelab-ai/testbench/pkg/logger"
)

// SessionHandler serves the read-back API over persisted sessions.
type SessionHandler struct {
	store  *store.Store
	logger *logger.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(st *store.Store, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		store:  st,
		logger: log,
	}
}

// List handles GET /api/v1/sessions?type=TEXT|VOICE (default TEXT).
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessionType := model.SessionTypeText
	switch strings.ToUpper(r.URL.Query().Get("type")) {
	case "", string(model.SessionTypeText):
	case string(model.SessionTypeVoice):
		sessionType = model.SessionTypeVoice
	default:
		writeError(w, http.StatusBadRequest, "type must be TEXT or VOICE")
		return
	}

	sessions, err := h.store.ListSessions(r.Context(), sessionType)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []model.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// Get handles GET /api/v1/sessions/{id}. The response includes the session's
// iteration records with their stored aggregates.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("failed to get session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	iterations, err := h.store.ListIterations(ctx, sessionID)
	if err != nil {
		h.logger.Error("failed to list iterations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list iterations")
		return
	}
	if iterations == nil {
		iterations = []model.IterationRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":    session,
		"iterations": iterations,
	})
}

// Iteration handles GET /api/v1/sessions/{id}/iterations/{n}, returning the
// iteration's conversations with full message lists.
func (h *SessionHandler) Iteration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	number, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || number < 1 {
		writeError(w, http.StatusBadRequest, "iteration number must be a positive integer")
		return
	}

	iterations, err := h.store.ListIterations(ctx, sessionID)
	if err != nil {
		h.logger.Error("failed to list iterations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list iterations")
		return
	}

	var iteration *model.IterationRecord
	for i := range iterations {
		if iterations[i].IterationNumber == number {
			iteration = &iterations[i]
			break
		}
	}
	if iteration == nil {
		writeError(w, http.StatusNotFound, "iteration not found")
		return
	}

	conversations, err := h.store.ListConversations(ctx, iteration.ID, true)
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if conversations == nil {
		conversations = []model.ConversationRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"iteration":     iteration,
		"conversations": conversations,
	})
}

// Conversation handles GET /api/v1/conversations/{id}.
func (h *SessionHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conversation, err := h.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to get conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}

	writeJSON(w, http.StatusOK, conversation)
}
