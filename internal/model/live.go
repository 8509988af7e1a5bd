package model

// LiveEventType tags events emitted by a live voice session. The vocabulary
// is distinct from Stage: live clients render utterances and tokens, not
// batch progress.
type LiveEventType string

const (
	LiveInit              LiveEventType = "init"
	LiveStatus            LiveEventType = "status"
	LivePersona           LiveEventType = "persona"
	LiveIterationStart    LiveEventType = "iteration_start"
	LiveToken             LiveEventType = "token"
	LiveMessage           LiveEventType = "message"
	LiveIterationComplete LiveEventType = "iteration_complete"
	LiveScriptImproved    LiveEventType = "script_improved"
	LiveSuccess           LiveEventType = "success"
	LiveMaxIterations     LiveEventType = "max_iterations"
	LiveComplete          LiveEventType = "complete"
	LiveError             LiveEventType = "error"
)

// LiveEvent is one notification from a live voice session. Fields are
// populated per event type; zero values are omitted on the wire.
type LiveEvent struct {
	Type       LiveEventType      `json:"type"`
	SessionID  string             `json:"session_id,omitempty"`
	Iteration  int                `json:"iteration,omitempty"`
	Turn       int                `json:"turn,omitempty"`
	Speaker    Speaker            `json:"speaker,omitempty"`
	Message    string             `json:"message,omitempty"`
	Token      string             `json:"token,omitempty"`
	Score      float64            `json:"score,omitempty"`
	FinalScore float64            `json:"final_score,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Persona    *Persona           `json:"persona,omitempty"`
	Script     string             `json:"script,omitempty"`
}

// LiveEventFunc observes live session events. A nil LiveEventFunc is valid.
type LiveEventFunc func(LiveEvent)

// Notify invokes f if it is non-nil.
func (f LiveEventFunc) Notify(e LiveEvent) {
	if f != nil {
		f(e)
	}
}
