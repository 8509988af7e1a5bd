package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicelab-ai/testbench/internal/model"
	"github.com/voicelab-ai/testbench/internal/store"
	"github.com/voicelab-ai/testbench/pkg/logger"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// scoreSchedule feeds the analyzer one overall score per iteration; both
// metrics of an iteration get the same value.
func scoreSchedule(perIteration []float64) func() float64 {
	calls := 0
	return func() float64 {
		s := perIteration[calls/2]
		calls++
		return s
	}
}

func collectStages(progress *[]model.Progress) model.ProgressFunc {
	return func(p model.Progress) {
		*progress = append(*progress, p)
	}
}

func TestRunStopsAtThreshold(t *testing.T) {
	scripted := &scriptedReplies{score: scoreSchedule([]float64{60, 70, 90})}
	client := &fakeClient{reply: scripted.reply}
	st := openTestStore(t)
	cfg := testingConfig()
	cfg.MaxConversationTurns = 1

	platform := NewPlatform(cfg, client, st, logger.NewNop())

	var progress []model.Progress
	report, err := platform.Run(context.Background(), "", 1, collectStages(&progress))
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalIterations)
	assert.Equal(t, 60.0, report.InitialScore)
	assert.Equal(t, 90.0, report.FinalScore)
	assert.Equal(t, 30.0, report.Improvement)
	assert.True(t, report.ThresholdReached)
	require.Len(t, report.Iterations, 3)
	assert.Equal(t, []float64{60, 70, 90}, []float64{
		report.Iterations[0].AverageScore,
		report.Iterations[1].AverageScore,
		report.Iterations[2].AverageScore,
	})

	// Session row reflects the final report.
	session, err := st.GetSession(context.Background(), report.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 90.0, session.FinalScore)
	assert.Equal(t, 30.0, session.Improvement)
	assert.Equal(t, 3, session.TotalIterations)
	assert.True(t, session.ThresholdReached)

	iterations, err := st.ListIterations(context.Background(), report.SessionID)
	require.NoError(t, err)
	assert.Len(t, iterations, 3)
}

func TestRunProgressStageOrder(t *testing.T) {
	scripted := &scriptedReplies{score: scoreSchedule([]float64{60, 90})}
	client := &fakeClient{reply: scripted.reply}
	cfg := testingConfig()
	cfg.MaxConversationTurns = 1

	platform := NewPlatform(cfg, client, openTestStore(t), logger.NewNop())

	var progress []model.Progress
	_, err := platform.Run(context.Background(), "", 1, collectStages(&progress))
	require.NoError(t, err)

	var stages []model.Stage
	for _, p := range progress {
		stages = append(stages, p.Stage)
	}
	assert.Equal(t, []model.Stage{
		model.StageInit,
		model.StagePersonas,
		model.StagePersonas,
		model.StageIteration,
		model.StageTest,
		model.StageTestConversation,
		model.StageTestAnalysis,
		model.StageIterationComplete,
		model.StageSelfCorrection,
		model.StageSelfCorrectionComplete,
		model.StageIteration,
		model.StageTest,
		model.StageTestConversation,
		model.StageTestAnalysis,
		model.StageIterationComplete,
		model.StageSuccess,
		model.StageComplete,
	}, stages)

	// Every event after init carries the session ID.
	for _, p := range progress {
		assert.NotEmpty(t, p.SessionID)
	}
}

func TestRunExhaustsIterations(t *testing.T) {
	scripted := &scriptedReplies{score: func() float64 { return 50 }}
	client := &fakeClient{reply: scripted.reply}
	st := openTestStore(t)
	cfg := testingConfig()
	cfg.MaxConversationTurns = 1
	cfg.MaxIterations = 3

	platform := NewPlatform(cfg, client, st, logger.NewNop())

	var progress []model.Progress
	report, err := platform.Run(context.Background(), "", 1, collectStages(&progress))
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalIterations)
	assert.False(t, report.ThresholdReached)
	assert.Equal(t, 0.0, report.Improvement)

	var sawMaxIterations, sawSuccess bool
	for _, p := range progress {
		if p.Stage == model.StageMaxIterations {
			sawMaxIterations = true
		}
		if p.Stage == model.StageSuccess {
			sawSuccess = true
		}
	}
	assert.True(t, sawMaxIterations)
	assert.False(t, sawSuccess)

	// The last iteration's script is never rewritten again.
	session, err := st.GetSession(context.Background(), report.SessionID)
	require.NoError(t, err)
	assert.False(t, session.ThresholdReached)
}

func TestRunPersistenceFailureEmitsErrorStage(t *testing.T) {
	scripted := &scriptedReplies{score: func() float64 { return 50 }}
	client := &fakeClient{reply: scripted.reply}
	st := openTestStore(t)
	cfg := testingConfig()
	cfg.MaxConversationTurns = 1

	platform := NewPlatform(cfg, client, st, logger.NewNop())

	// Kill the store as the second iteration starts; the first iteration is
	// already persisted at that point.
	var progress []model.Progress
	notify := model.ProgressFunc(func(p model.Progress) {
		progress = append(progress, p)
		if p.Stage == model.StageIteration && p.Iteration == 2 {
			st.Close()
		}
	})

	report, err := platform.Run(context.Background(), "", 1, notify)
	require.Error(t, err)
	assert.Nil(t, report)

	require.NotEmpty(t, progress)
	assert.Equal(t, model.StageError, progress[len(progress)-1].Stage)

	var iterationCompletes int
	for _, p := range progress {
		if p.Stage == model.StageIterationComplete {
			iterationCompletes++
		}
		assert.NotEqual(t, model.StageComplete, p.Stage)
		assert.NotEqual(t, model.StageSuccess, p.Stage)
	}
	assert.Equal(t, 1, iterationCompletes)
}

func TestRunCustomScriptAndPersonaCount(t *testing.T) {
	scripted := &scriptedReplies{score: func() float64 { return 95 }}
	client := &fakeClient{reply: scripted.reply}
	st := openTestStore(t)
	cfg := testingConfig()
	cfg.MaxConversationTurns = 1

	platform := NewPlatform(cfg, client, st, logger.NewNop())

	report, err := platform.Run(context.Background(), "Custom script under test", 2, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.TotalIterations)
	assert.True(t, report.ThresholdReached)
	assert.Equal(t, 2, report.Iterations[0].NumTests)

	session, err := st.GetSession(context.Background(), report.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Custom script under test", session.InitialScript)

	iterations, err := st.ListIterations(context.Background(), report.SessionID)
	require.NoError(t, err)
	require.Len(t, iterations, 1)

	conversations, err := st.ListConversations(context.Background(), iterations[0].ID, false)
	require.NoError(t, err)
	assert.Len(t, conversations, 2)
}
