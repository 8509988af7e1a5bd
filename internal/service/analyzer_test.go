package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicelab-ai/testbench/internal/model"
	"github.com/voicelab-ai/testbench/pkg/logger"
)

func sampleConversation() []model.ConversationTurn {
	return []model.ConversationTurn{
		{Turn: 1, Speaker: model.SpeakerBot, Message: "Hello, this is collections.", Timestamp: time.Now()},
		{Turn: 1, Speaker: model.SpeakerCustomer, Message: "I can't pay right now.", Timestamp: time.Now()},
		{Turn: 2, Speaker: model.SpeakerBot, Message: "We can set up a plan.", Timestamp: time.Now()},
	}
}

func TestAnalyzeWeightsScores(t *testing.T) {
	scores := []float64{80, 60} // negotiation first, then relevance
	idx := 0
	scripted := &scriptedReplies{score: func() float64 {
		s := scores[idx]
		idx++
		return s
	}}
	client := &fakeClient{reply: scripted.reply}
	analyzer := NewMetricsAnalyzer(testingConfig(), client, logger.NewNop())

	result := analyzer.Analyze(context.Background(), sampleConversation(), simPersona())

	assert.Equal(t, 80.0, result.Metrics.NegotiationEffectiveness.Score)
	assert.Equal(t, 60.0, result.Metrics.ResponseRelevance.Score)
	assert.Equal(t, 70.0, result.OverallScore)
	assert.Equal(t, 3, result.ConversationLength)
	assert.Equal(t, 2, result.BotMessageCount)
	assert.Equal(t, 1, result.CustomerMessageCount)
	require.NotEmpty(t, result.ImprovementSuggestions)
	assert.Contains(t, result.ImprovementSuggestions[0], "Acknowledge")
}

func TestAnalyzeRoundsOverallScore(t *testing.T) {
	scores := []float64{70.5, 60.25}
	idx := 0
	scripted := &scriptedReplies{score: func() float64 {
		s := scores[idx]
		idx++
		return s
	}}
	client := &fakeClient{reply: scripted.reply}
	analyzer := NewMetricsAnalyzer(testingConfig(), client, logger.NewNop())

	result := analyzer.Analyze(context.Background(), sampleConversation(), simPersona())
	assert.Equal(t, 65.38, result.OverallScore)
}

func TestAnalyzeZeroIsAValidScore(t *testing.T) {
	scripted := &scriptedReplies{score: func() float64 { return 0 }}
	client := &fakeClient{reply: scripted.reply}
	analyzer := NewMetricsAnalyzer(testingConfig(), client, logger.NewNop())

	result := analyzer.Analyze(context.Background(), sampleConversation(), simPersona())
	assert.Equal(t, 0.0, result.OverallScore)
}

func TestAnalyzeNeutralOnFailure(t *testing.T) {
	client := &fakeClient{reply: func(string) (string, error) {
		return "", errors.New("provider down")
	}}
	analyzer := NewMetricsAnalyzer(testingConfig(), client, logger.NewNop())

	result := analyzer.Analyze(context.Background(), sampleConversation(), simPersona())

	assert.Equal(t, 50.0, result.Metrics.NegotiationEffectiveness.Score)
	assert.Equal(t, 50.0, result.Metrics.ResponseRelevance.Score)
	assert.Equal(t, 50.0, result.OverallScore)
	assert.Equal(t, []string{"Unable to generate suggestions"}, result.ImprovementSuggestions)
}

func TestAnalyzeNeutralOnNonNumericScore(t *testing.T) {
	scripted := &scriptedReplies{score: func() float64 { return 90 }}
	client := &fakeClient{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "negotiation effectiveness of this debt collection conversation") {
			return `{"negotiation_quality": "good", "score": "excellent", "explanation": "no number"}`, nil
		}
		return scripted.reply(prompt)
	}}
	analyzer := NewMetricsAnalyzer(testingConfig(), client, logger.NewNop())

	result := analyzer.Analyze(context.Background(), sampleConversation(), simPersona())

	assert.Equal(t, 50.0, result.Metrics.NegotiationEffectiveness.Score)
	assert.Equal(t, 90.0, result.Metrics.ResponseRelevance.Score)
	assert.Equal(t, 70.0, result.OverallScore)
}
