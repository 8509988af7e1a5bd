package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicelab-ai/testbench/internal/model"
	"github.com/voicelab-ai/testbench/pkg/logger"
)

func collectLiveEvents(events *[]model.LiveEvent) model.LiveEventFunc {
	return func(e model.LiveEvent) {
		*events = append(*events, e)
	}
}

func TestLiveRunReachesThreshold(t *testing.T) {
	scripted := &scriptedReplies{score: func() float64 { return 90 }}
	client := &fakeClient{reply: scripted.reply}
	st := openTestStore(t)
	cfg := testingConfig()
	cfg.MaxConversationTurns = 2

	live := NewLiveSession(cfg, client, st, logger.NewNop())

	var events []model.LiveEvent
	err := live.Run(context.Background(), "aggressive_denier", collectLiveEvents(&events))
	require.NoError(t, err)

	var types []model.LiveEventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, model.LiveInit, types[0])
	assert.Contains(t, types, model.LivePersona)
	assert.Contains(t, types, model.LiveIterationStart)
	assert.Contains(t, types, model.LiveSuccess)
	assert.Equal(t, model.LiveComplete, types[len(types)-1])
	assert.NotContains(t, types, model.LiveMaxIterations)

	// Full turn budget: no end-phrase cutoff in live mode.
	var messages []model.LiveEvent
	for _, e := range events {
		if e.Type == model.LiveMessage {
			messages = append(messages, e)
		}
	}
	require.Len(t, messages, cfg.MaxConversationTurns*2)
	assert.Equal(t, liveOpening, messages[0].Message)
	assert.Equal(t, model.SpeakerBot, messages[0].Speaker)
	assert.Equal(t, model.SpeakerCustomer, messages[1].Speaker)

	// Second bot turn is generated and streams tokens first.
	var sawToken bool
	for _, e := range events {
		if e.Type == model.LiveToken {
			sawToken = true
			assert.Equal(t, model.SpeakerBot, e.Speaker)
			assert.NotEmpty(t, e.Token)
		}
	}
	assert.True(t, sawToken)

	// Session is persisted with the VOICE tag and final results.
	sessions, err := st.ListSessions(context.Background(), model.SessionTypeVoice)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].ThresholdReached)
	assert.Equal(t, 1, sessions[0].TotalIterations)
	assert.Equal(t, 90.0, sessions[0].FinalScore)
}

func TestLiveRunExhaustsIterations(t *testing.T) {
	scripted := &scriptedReplies{score: func() float64 { return 40 }}
	client := &fakeClient{reply: scripted.reply}
	st := openTestStore(t)
	cfg := testingConfig()
	cfg.MaxConversationTurns = 1
	cfg.MaxIterations = 2

	live := NewLiveSession(cfg, client, st, logger.NewNop())

	var events []model.LiveEvent
	err := live.Run(context.Background(), "aggressive_denier", collectLiveEvents(&events))
	require.NoError(t, err)

	var sawImproved, sawMax, sawSuccess bool
	for _, e := range events {
		switch e.Type {
		case model.LiveScriptImproved:
			sawImproved = true
		case model.LiveMaxIterations:
			sawMax = true
		case model.LiveSuccess:
			sawSuccess = true
		}
	}
	assert.True(t, sawImproved)
	assert.True(t, sawMax)
	assert.False(t, sawSuccess)

	sessions, err := st.ListSessions(context.Background(), model.SessionTypeVoice)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].ThresholdReached)
	assert.Equal(t, 2, sessions[0].TotalIterations)
}

func TestLiveRunCancelledDuringPause(t *testing.T) {
	scripted := &scriptedReplies{score: func() float64 { return 90 }}
	client := &fakeClient{reply: scripted.reply}
	cfg := testingConfig()
	cfg.MaxConversationTurns = 2
	cfg.LiveTurnDelay = time.Hour // pause must return via ctx, not the timer

	live := NewLiveSession(cfg, client, openTestStore(t), logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var events []model.LiveEvent
	err := live.Run(ctx, "aggressive_denier", collectLiveEvents(&events))
	require.Error(t, err)
	assert.Equal(t, model.LiveError, events[len(events)-1].Type)
}
