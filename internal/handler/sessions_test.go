package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicelab-ai/testbench/internal/model"
	"github.com/voicelab-ai/testbench/internal/store"
	"github.com/voicelab-ai/testbench/pkg/logger"
)

func newSessionRouter(t *testing.T) (*chi.Mux, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := NewSessionHandler(st, logger.NewNop())

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.List)
			r.Get("/{id}", h.Get)
			r.Get("/{id}/iterations/{n}", h.Iteration)
		})
		r.Get("/conversations/{id}", h.Conversation)
	})
	return r, st
}

func seedSession(t *testing.T, st *store.Store) (sessionID, conversationID string) {
	t.Helper()
	ctx := context.Background()

	session, err := st.CreateSession(ctx, model.SessionTypeText, 1, "base script")
	require.NoError(t, err)

	personas, err := st.SavePersonas(ctx, session.ID, []model.Persona{{
		Name:        "Dana Reeves",
		Age:         38,
		PersonaType: "busy_professional",
	}})
	require.NoError(t, err)

	iteration, err := st.CreateIteration(ctx, session.ID, 1, "base script", 70, 65, 75)
	require.NoError(t, err)

	analysis := &model.AnalysisResult{
		Metrics: model.Metrics{
			NegotiationEffectiveness: model.MetricScore{Score: 65, Weight: 0.5},
			ResponseRelevance:        model.MetricScore{Score: 75, Weight: 0.5},
		},
		OverallScore:           70,
		BotMessageCount:        1,
		CustomerMessageCount:   1,
		ImprovementSuggestions: []string{"Offer a plan"},
	}
	conversation, err := st.SaveConversation(ctx, session.ID, iteration.ID, personas[0].ID,
		[]model.ConversationTurn{
			{Turn: 1, Speaker: model.SpeakerBot, Message: "Hello", Timestamp: time.Now()},
			{Turn: 1, Speaker: model.SpeakerCustomer, Message: "Who is this?", Timestamp: time.Now()},
		}, analysis)
	require.NoError(t, err)

	return session.ID, conversation.ID
}

func TestSessionList(t *testing.T) {
	r, st := newSessionRouter(t)
	seedSession(t, st)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sessions []model.SessionRecord `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, 1, body.Sessions[0].PersonaCount)
	assert.Equal(t, 1, body.Sessions[0].IterationCount)
}

func TestSessionListRejectsUnknownType(t *testing.T) {
	r, _ := newSessionRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions?type=SMOKE", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionGetWithIterations(t *testing.T) {
	r, st := newSessionRouter(t)
	sessionID, _ := seedSession(t, st)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+sessionID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Session    model.SessionRecord     `json:"session"`
		Iterations []model.IterationRecord `json:"iterations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, sessionID, body.Session.ID)
	require.Len(t, body.Iterations, 1)
	assert.Equal(t, 70.0, body.Iterations[0].AverageScore)
}

func TestSessionGetNotFound(t *testing.T) {
	r, _ := newSessionRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/sessions/00000000-0000-0000-0000-000000000000", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionGetRejectsBadID(t *testing.T) {
	r, _ := newSessionRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIterationConversations(t *testing.T) {
	r, st := newSessionRouter(t)
	sessionID, _ := seedSession(t, st)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/sessions/"+sessionID+"/iterations/1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Iteration     model.IterationRecord      `json:"iteration"`
		Conversations []model.ConversationRecord `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Iteration.IterationNumber)
	require.Len(t, body.Conversations, 1)
	assert.Equal(t, "Dana Reeves", body.Conversations[0].PersonaName)
	assert.Len(t, body.Conversations[0].Messages, 2)
}

func TestIterationNotFound(t *testing.T) {
	r, st := newSessionRouter(t)
	sessionID, _ := seedSession(t, st)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/sessions/"+sessionID+"/iterations/9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationGet(t *testing.T) {
	r, st := newSessionRouter(t)
	_, conversationID := seedSession(t, st)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/conversations/"+conversationID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body model.ConversationRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, conversationID, body.ID)
	assert.Equal(t, "busy_professional", body.PersonaType)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "Hello", body.Messages[0].Message)
}
