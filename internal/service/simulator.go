package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voicelab-ai/testbench/internal/config"
	"github.com/voicelab-ai/testbench/internal/llm"
	"github.com/voicelab-ai/testbench/internal/model"
	"github.com/voicelab-ai/testbench/pkg/logger"
	"github.com/voicelab-ai/testbench/pkg/metrics"
)

// Fallback utterances substituted when a single turn generation fails.
const (
	fallbackOpening  = "Hello, this is calling from the collections department regarding your account. May I speak with the account holder?"
	fallbackBotLine  = "I understand your situation. Can we work together to find a solution?"
	fallbackCustLine = "I don't have the money right now."
)

// endPhrases terminate a conversation when found in an utterance.
var endPhrases = []string{
	"goodbye",
	"have a good day",
	"thank you for your time",
	"i'll call back",
	"stop calling",
	"talk to my lawyer",
	"hanging up",
	"end of call",
}

// ConversationSimulator drives a bounded-turn dialogue between a fixed bot
// script and one persona. The script is immutable for the simulator's
// lifetime; the orchestrator builds a fresh simulator per revision.
type ConversationSimulator struct {
	cfg       config.Testing
	client    llm.Client
	botScript string
	logger    *logger.Logger
}

// NewConversationSimulator creates a simulator bound to one script version.
func NewConversationSimulator(cfg config.Testing, client llm.Client, botScript string, log *logger.Logger) *ConversationSimulator {
	return &ConversationSimulator{
		cfg:       cfg,
		client:    client,
		botScript: botScript,
		logger:    log,
	}
}

// Simulate runs the full conversation against one persona and returns the
// ordered turn sequence. A single failed turn never aborts the simulation.
func (s *ConversationSimulator) Simulate(ctx context.Context, persona *model.Persona) []model.ConversationTurn {
	var conversation []model.ConversationTurn
	var history strings.Builder

	s.logger.Info("starting conversation",
		zap.String("persona", persona.Name),
		zap.String("persona_type", persona.PersonaType),
	)

	for turn := 0; turn < s.cfg.MaxConversationTurns; turn++ {
		var botMessage string
		if turn == 0 {
			botMessage = s.botOpening(ctx)
		} else {
			botMessage = s.botResponse(ctx, history.String(), persona)
		}

		conversation = append(conversation, model.ConversationTurn{
			Turn:      turn + 1,
			Speaker:   model.SpeakerBot,
			Message:   botMessage,
			Timestamp: time.Now(),
		})
		history.WriteString("\nBot: " + botMessage)

		if s.shouldEnd(botMessage, history.String()) {
			s.logger.Debug("conversation ended by bot")
			break
		}

		customerMessage := s.customerResponse(ctx, history.String(), persona)

		conversation = append(conversation, model.ConversationTurn{
			Turn:      turn + 1,
			Speaker:   model.SpeakerCustomer,
			Message:   customerMessage,
			Timestamp: time.Now(),
		})
		history.WriteString("\nCustomer: " + customerMessage)

		if s.shouldEnd(customerMessage, history.String()) {
			s.logger.Debug("conversation ended by customer")
			break
		}
	}

	metrics.ConversationsSimulated.Inc()
	s.logger.Info("conversation completed", zap.Int("messages", len(conversation)))
	return conversation
}

func (s *ConversationSimulator) botOpening(ctx context.Context) string {
	prompt := fmt.Sprintf(`You are a debt collection bot. This is the start of a call.

Your script:
%s

Generate the opening message for the call. Be professional and follow the script.
Keep it concise (2-3 sentences max).
Return ONLY the message, no additional formatting.`, s.botScript)

	msg, err := llm.Ask(ctx, s.client, prompt)
	if err != nil || msg == "" {
		s.logger.Warn("bot opening generation failed, using fallback", zap.Error(err))
		metrics.RecordFallback("bot_opening")
		return fallbackOpening
	}
	return msg
}

// botResponse sees the transcript plus only the persona's communication
// style and attitude; the bot must not know the full profile.
func (s *ConversationSimulator) botResponse(ctx context.Context, history string, persona *model.Persona) string {
	prompt := fmt.Sprintf(`You are a debt collection bot following this script:

%s

Conversation so far:
%s

Customer persona traits:
- Communication style: %s
- Attitude: %s

Generate your next response as the bot. Be professional, empathetic, and follow your script.
Address the customer's last message appropriately.
Keep it concise (2-3 sentences max).
Return ONLY the message, no additional formatting.`,
		s.botScript, history, persona.CommunicationStyle, persona.AttitudeTowardsDebt)

	msg, err := llm.Ask(ctx, s.client, prompt)
	if err != nil || msg == "" {
		s.logger.Warn("bot response generation failed, using fallback", zap.Error(err))
		metrics.RecordFallback("bot_response")
		return fallbackBotLine
	}
	return msg
}

func (s *ConversationSimulator) customerResponse(ctx context.Context, history string, persona *model.Persona) string {
	prompt := fmt.Sprintf(`You are roleplaying as a customer with the following persona:

Name: %s
Personality: %s
Communication Style: %s
Financial Situation: %s
Attitude Towards Debt: %s
Personality Traits: %s
Triggers: %s
Preferred Outcome: %s

Conversation so far:
%s

Generate your response as this customer. Stay in character and respond naturally.
React authentically based on what the bot just said and your persona.
Keep it concise (1-3 sentences max).
Return ONLY the message, no additional formatting.`,
		persona.Name, persona.PersonaType, persona.CommunicationStyle,
		persona.FinancialSituation, persona.AttitudeTowardsDebt,
		strings.Join(persona.PersonalityTraits, ", "),
		strings.Join(persona.Triggers, ", "),
		persona.PreferredOutcome, history)

	msg, err := llm.Ask(ctx, s.client, prompt)
	if err != nil || msg == "" {
		s.logger.Warn("customer response generation failed, using fallback", zap.Error(err))
		metrics.RecordFallback("customer_response")
		return fallbackCustLine
	}
	return msg
}

// shouldEnd checks an utterance for termination phrases and the transcript
// for the bot-turn safety bound.
func (s *ConversationSimulator) shouldEnd(message, history string) bool {
	messageLower := strings.ToLower(message)
	for _, phrase := range endPhrases {
		if strings.Contains(messageLower, phrase) {
			return true
		}
	}

	// Safety net in case the phrase check never fires.
	if strings.Count(history, "\nBot:") > s.cfg.MaxConversationTurns {
		return true
	}

	return false
}
