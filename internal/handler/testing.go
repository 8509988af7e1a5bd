package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/voicelab-ai/testbench/internal/middleware"
	"github.com/voicelab-ai/testbench/internal/model"
	natsclient "github.com/voicelab-ai/testbench/internal/nats"
	"github.com/voicelab-ai/testbench/internal/service"
	"github.com/voicelab-ai/testbench/pkg/logger"
	"github.com/voicelab-ai/testbench/pkg/metrics"
)

// TestRunRequest is the body of POST /api/v1/test-runs.
type TestRunRequest struct {
	Script      string `json:"script,omitempty"`
	NumPersonas int    `json:"num_personas,omitempty"`
}

// TestingHandler runs testing cycles, synchronously or over SSE.
type TestingHandler struct {
	platform *service.Platform
	streams  *natsclient.StreamManager
	logger   *logger.Logger
}

// NewTestingHandler creates a testing handler.
func NewTestingHandler(platform *service.Platform, streams *natsclient.StreamManager, log *logger.Logger) *TestingHandler {
	return &TestingHandler{
		platform: platform,
		streams:  streams,
		logger:   log,
	}
}

// Run handles POST /api/v1/test-runs. The run executes synchronously and the
// response is the final report; progress is still mirrored to JetStream so
// other consumers can follow along.
func (h *TestingHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TestRunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := middleware.ValidateScript(req.Script); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateNumPersonas(req.NumPersonas); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	notify := h.streams.Observer(ctx, nil)

	report, err := h.platform.Run(ctx, req.Script, req.NumPersonas, notify)
	if err != nil {
		h.logger.Error("test run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "test run failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Stream handles GET /api/v1/test-runs/stream?num_personas=N. Progress
// events are sent as SSE, named by stage, and mirrored to JetStream.
func (h *TestingHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	numPersonas := 0
	if s := r.URL.Query().Get("num_personas"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "num_personas must be an integer")
			return
		}
		numPersonas = n
	}
	if err := middleware.ValidateNumPersonas(numPersonas); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher := sseHeaders(w)
	if flusher == nil {
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	notify := h.streams.Observer(ctx, func(p model.Progress) {
		sendSSEEvent(w, flusher, string(p.Stage), p)
	})

	if _, err := h.platform.Run(ctx, "", numPersonas, notify); err != nil {
		// The error stage event already went out through notify.
		h.logger.Error("streamed test run failed", zap.Error(err))
		return
	}
}
