package model

// Stage tags a progress event emitted by the testing loop.
type Stage string

const (
	StageInit                   Stage = "init"
	StagePersonas               Stage = "personas"
	StageIteration              Stage = "iteration"
	StageTest                   Stage = "test"
	StageTestConversation       Stage = "test_conversation"
	StageTestAnalysis           Stage = "test_analysis"
	StageIterationComplete      Stage = "iteration_complete"
	StageSelfCorrection         Stage = "self_correction"
	StageSelfCorrectionComplete Stage = "self_correction_complete"
	StageSuccess                Stage = "success"
	StageMaxIterations          Stage = "max_iterations"
	StageComplete               Stage = "complete"
	StageError                  Stage = "error"
)

// Progress is one notification from a running testing cycle. The stream of
// Progress values is the only channel between the loop and its caller.
type Progress struct {
	Stage      Stage  `json:"stage"`
	SessionID  string `json:"session_id,omitempty"`
	Iteration  int    `json:"iteration,omitempty"`
	Test       int    `json:"test,omitempty"`
	TotalTests int    `json:"total_tests,omitempty"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
}

// ProgressFunc observes progress events. A nil ProgressFunc is valid and
// means nobody is listening.
type ProgressFunc func(Progress)

// Notify invokes f if it is non-nil. Fire-and-forget: the loop never waits
// on its observer.
func (f ProgressFunc) Notify(p Progress) {
	if f != nil {
		f(p)
	}
}
