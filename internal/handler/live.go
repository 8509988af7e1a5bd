package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/voicelab-ai/testbench/internal/middleware"
	"github.com/voicelab-ai/testbench/internal/model"
	"github.com/voicelab-ai/testbench/internal/service"
	"github.com/voicelab-ai/testbench/pkg/logger"
	"github.com/voicelab-ai/testbench/pkg/metrics"
)

// defaultLivePersonaType is used when the client does not pick an archetype.
const defaultLivePersonaType = "aggressive_denier"

// LiveHandler streams live voice sessions over SSE.
type LiveHandler struct {
	live         *service.LiveSession
	personaTypes []string
	logger       *logger.Logger
}

// NewLiveHandler creates a live session handler.
func NewLiveHandler(live *service.LiveSession, personaTypes []string, log *logger.Logger) *LiveHandler {
	return &LiveHandler{
		live:         live,
		personaTypes: personaTypes,
		logger:       log,
	}
}

// Stream handles GET /api/v1/live?persona_type=T. Each live event is sent as
// one SSE event named by its type; bot turns additionally stream token
// events as they are generated.
func (h *LiveHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	personaType := r.URL.Query().Get("persona_type")
	if personaType == "" {
		personaType = defaultLivePersonaType
	}
	if err := middleware.ValidatePersonaType(personaType, h.personaTypes); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher := sseHeaders(w)
	if flusher == nil {
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	err := h.live.Run(ctx, personaType, func(e model.LiveEvent) {
		sendSSEEvent(w, flusher, string(e.Type), e)
	})
	if err != nil {
		// The error event already went out through the callback.
		h.logger.Error("live session failed", zap.Error(err))
	}
}
