package handler

import (
	"encoding/json"
	"net/http"

	"github.com/voicelab-ai/testbench/internal/middleware"
	"github.com/voicelab-ai/testbench/internal/service"
	"github.com/voicelab-ai/testbench/pkg/logger"
)

// PersonaRequest is the body of POST /api/v1/personas.
type PersonaRequest struct {
	NumPersonas int    `json:"num_personas,omitempty"`
	PersonaType string `json:"persona_type,omitempty"`
}

// PersonaHandler generates personas outside a testing session.
type PersonaHandler struct {
	generator    *service.PersonaGenerator
	personaTypes []string
	logger       *logger.Logger
}

// NewPersonaHandler creates a persona handler.
func NewPersonaHandler(generator *service.PersonaGenerator, personaTypes []string, log *logger.Logger) *PersonaHandler {
	return &PersonaHandler{
		generator:    generator,
		personaTypes: personaTypes,
		logger:       log,
	}
}

// Generate handles POST /api/v1/personas. With persona_type set it returns
// one persona of that archetype; otherwise num_personas random draws
// (default 1).
func (h *PersonaHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PersonaRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if req.PersonaType != "" {
		if err := middleware.ValidatePersonaType(req.PersonaType, h.personaTypes); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		persona := h.generator.Generate(ctx, req.PersonaType)
		writeJSON(w, http.StatusOK, map[string]any{"personas": []any{persona}})
		return
	}

	count := req.NumPersonas
	if count == 0 {
		count = 1
	}
	if err := middleware.ValidateNumPersonas(count); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	personas := h.generator.GenerateMany(ctx, count)
	writeJSON(w, http.StatusOK, map[string]any{"personas": personas})
}
