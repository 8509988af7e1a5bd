package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicelab-ai/testbench/internal/model"
	"github.com/voicelab-ai/testbench/pkg/logger"
)

func simPersona() *model.Persona {
	return &model.Persona{
		Name:                "Dana Reeves",
		PersonaType:         "busy_professional",
		CommunicationStyle:  "Direct",
		FinancialSituation:  "Irregular income",
		AttitudeTowardsDebt: "Annoyed",
		PersonalityTraits:   []string{"blunt"},
		Triggers:            []string{"wasted time"},
		PreferredOutcome:    "Settlement",
	}
}

func TestSimulateAlternatesSpeakersWithinTurnBudget(t *testing.T) {
	scripted := &scriptedReplies{score: func() float64 { return 50 }}
	client := &fakeClient{reply: scripted.reply}
	cfg := testingConfig()
	sim := NewConversationSimulator(cfg, client, cfg.BaseBotScript, logger.NewNop())

	conversation := sim.Simulate(context.Background(), simPersona())

	// No end phrase in the scripted replies, so the full budget runs.
	require.Len(t, conversation, cfg.MaxConversationTurns*2)
	for i, turn := range conversation {
		if i%2 == 0 {
			assert.Equal(t, model.SpeakerBot, turn.Speaker)
		} else {
			assert.Equal(t, model.SpeakerCustomer, turn.Speaker)
		}
		// Pair numbering: bot and customer share a turn number.
		assert.Equal(t, i/2+1, turn.Turn)
	}
}

func TestSimulateEndsOnCustomerEndPhrase(t *testing.T) {
	scripted := &scriptedReplies{score: func() float64 { return 50 }}
	client := &fakeClient{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "roleplaying as a customer") {
			return "Stop calling me. Goodbye.", nil
		}
		return scripted.reply(prompt)
	}}
	cfg := testingConfig()
	sim := NewConversationSimulator(cfg, client, cfg.BaseBotScript, logger.NewNop())

	conversation := sim.Simulate(context.Background(), simPersona())

	require.Len(t, conversation, 2)
	assert.Equal(t, model.SpeakerCustomer, conversation[1].Speaker)
}

func TestSimulateEndsOnBotEndPhrase(t *testing.T) {
	scripted := &scriptedReplies{score: func() float64 { return 50 }}
	client := &fakeClient{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "start of a call") {
			return "Thank you for your time, have a good day.", nil
		}
		return scripted.reply(prompt)
	}}
	cfg := testingConfig()
	sim := NewConversationSimulator(cfg, client, cfg.BaseBotScript, logger.NewNop())

	conversation := sim.Simulate(context.Background(), simPersona())

	// Bot ends the call before the customer ever speaks.
	require.Len(t, conversation, 1)
	assert.Equal(t, model.SpeakerBot, conversation[0].Speaker)
}

func TestSimulateUsesFallbacksWhenGenerationFails(t *testing.T) {
	client := &fakeClient{reply: func(string) (string, error) {
		return "", errors.New("provider down")
	}}
	cfg := testingConfig()
	cfg.MaxConversationTurns = 2
	sim := NewConversationSimulator(cfg, client, cfg.BaseBotScript, logger.NewNop())

	conversation := sim.Simulate(context.Background(), simPersona())

	require.NotEmpty(t, conversation)
	assert.Equal(t, fallbackOpening, conversation[0].Message)
	require.True(t, len(conversation) >= 2)
	assert.Equal(t, fallbackCustLine, conversation[1].Message)
}
