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
	"github.com/voicelab-ai/testbench/internal/store"
	"github.com/voicelab-ai/testbench/pkg/logger"
	"github.com/voicelab-ai/testbench/pkg/metrics"
)

// liveOpening is the fixed first bot utterance of a live session; the opening
// is not generated so the client can start playback immediately.
const liveOpening = "Hello, this is calling from the collections department regarding your account. May I speak with the account holder?"

// LiveSession runs the self-correction loop against a single persona and
// streams every utterance as it is produced. Bot turns after the opening are
// token-streamed. Sessions are persisted with the VOICE type tag.
type LiveSession struct {
	cfg       config.Testing
	client    llm.Client
	store     *store.Store
	generator *PersonaGenerator
	analyzer  *MetricsAnalyzer
	corrector *CorrectionEngine
	logger    *logger.Logger
}

// NewLiveSession creates a live voice session runner.
func NewLiveSession(cfg config.Testing, client llm.Client, st *store.Store, log *logger.Logger) *LiveSession {
	return &LiveSession{
		cfg:       cfg,
		client:    client,
		store:     st,
		generator: NewPersonaGenerator(cfg, client, log),
		analyzer:  NewMetricsAnalyzer(cfg, client, log),
		corrector: NewCorrectionEngine(cfg, client, log),
		logger:    log,
	}
}

// Run executes the live loop for one persona archetype. Events flow through
// emit in causal order; errors are reported as a terminal error event and
// also returned.
func (l *LiveSession) Run(ctx context.Context, personaType string, emit model.LiveEventFunc) error {
	if err := l.run(ctx, personaType, emit); err != nil {
		emit.Notify(model.LiveEvent{Type: model.LiveError, Message: err.Error()})
		metrics.TestRunsTotal.WithLabelValues(string(model.SessionTypeVoice), "error").Inc()
		return err
	}
	return nil
}

func (l *LiveSession) run(ctx context.Context, personaType string, emit model.LiveEventFunc) error {
	script := l.cfg.BaseBotScript

	session, err := l.store.CreateSession(ctx, model.SessionTypeVoice, 1, script)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	log := l.logger.WithSession(session.ID)

	emit.Notify(model.LiveEvent{
		Type:      model.LiveInit,
		SessionID: session.ID,
		Message:   "Starting voice testing cycle...",
	})

	emit.Notify(model.LiveEvent{
		Type:      model.LiveStatus,
		SessionID: session.ID,
		Message:   "Generating persona...",
	})

	persona := l.generator.Generate(ctx, personaType)

	saved, err := l.store.SavePersonas(ctx, session.ID, []model.Persona{*persona})
	if err != nil {
		return fmt.Errorf("save persona: %w", err)
	}
	personaID := saved[0].ID

	emit.Notify(model.LiveEvent{
		Type:      model.LivePersona,
		SessionID: session.ID,
		Persona:   persona,
	})

	var scores []float64
	thresholdReached := false

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		emit.Notify(model.LiveEvent{
			Type:      model.LiveIterationStart,
			SessionID: session.ID,
			Iteration: iteration,
			Message:   fmt.Sprintf("Starting iteration %d/%d...", iteration, l.cfg.MaxIterations),
		})

		conversation, err := l.converse(ctx, session.ID, script, persona, iteration, emit)
		if err != nil {
			return err
		}

		emit.Notify(model.LiveEvent{
			Type:      model.LiveStatus,
			SessionID: session.ID,
			Iteration: iteration,
			Message:   fmt.Sprintf("Analyzing iteration %d...", iteration),
		})

		analysis := l.analyzer.Analyze(ctx, conversation, persona)
		scores = append(scores, analysis.OverallScore)

		metrics.IterationsTotal.Inc()
		metrics.IterationScore.Observe(analysis.OverallScore)

		// One persona per round, so the single analysis is the round's
		// aggregate.
		record, err := l.store.CreateIteration(ctx, session.ID, iteration, script,
			analysis.OverallScore,
			analysis.Metrics.NegotiationEffectiveness.Score,
			analysis.Metrics.ResponseRelevance.Score)
		if err != nil {
			return fmt.Errorf("save iteration %d: %w", iteration, err)
		}

		if _, err := l.store.SaveConversation(ctx, session.ID, record.ID, personaID,
			conversation, analysis); err != nil {
			return fmt.Errorf("save conversation: %w", err)
		}

		emit.Notify(model.LiveEvent{
			Type:      model.LiveIterationComplete,
			SessionID: session.ID,
			Iteration: iteration,
			Score:     analysis.OverallScore,
			Metrics: map[string]float64{
				"negotiation": analysis.Metrics.NegotiationEffectiveness.Score,
				"relevance":   analysis.Metrics.ResponseRelevance.Score,
			},
			Message: fmt.Sprintf("Iteration %d complete - Score: %.1f/100", iteration, analysis.OverallScore),
		})

		if analysis.OverallScore >= l.cfg.ThresholdScore {
			thresholdReached = true
			if err := l.finalize(ctx, session.ID, script, scores, iteration, true); err != nil {
				return err
			}
			emit.Notify(model.LiveEvent{
				Type:       model.LiveSuccess,
				SessionID:  session.ID,
				Iteration:  iteration,
				FinalScore: analysis.OverallScore,
				Message:    fmt.Sprintf("Success! Score %.1f reached threshold of %.0f", analysis.OverallScore, l.cfg.ThresholdScore),
			})
			break
		}

		if iteration < l.cfg.MaxIterations {
			emit.Notify(model.LiveEvent{
				Type:      model.LiveStatus,
				SessionID: session.ID,
				Iteration: iteration,
				Message:   "Analyzing performance and improving script...",
			})

			script = l.corrector.Improve(ctx, script, []model.AnalysisResult{*analysis}, iteration)

			emit.Notify(model.LiveEvent{
				Type:      model.LiveScriptImproved,
				SessionID: session.ID,
				Iteration: iteration,
				Script:    script,
				Message:   fmt.Sprintf("Script improved based on iteration %d feedback. Testing with iteration %d...", iteration, iteration+1),
			})
		} else {
			if err := l.finalize(ctx, session.ID, script, scores, iteration, false); err != nil {
				return err
			}
			emit.Notify(model.LiveEvent{
				Type:       model.LiveMaxIterations,
				SessionID:  session.ID,
				Iteration:  iteration,
				FinalScore: analysis.OverallScore,
				Message:    fmt.Sprintf("Reached max iterations (%d). Final score: %.1f/100", l.cfg.MaxIterations, analysis.OverallScore),
			})
		}
	}

	outcome := "exhausted"
	if thresholdReached {
		outcome = "success"
	}
	metrics.TestRunsTotal.WithLabelValues(string(model.SessionTypeVoice), outcome).Inc()

	log.Info("voice testing cycle complete",
		zap.Int("iterations", len(scores)),
		zap.Bool("threshold_reached", thresholdReached),
	)

	emit.Notify(model.LiveEvent{
		Type:      model.LiveComplete,
		SessionID: session.ID,
		Message:   "Voice testing cycle complete",
	})

	return nil
}

// converse runs one full conversation, emitting each utterance as a message
// event. Unlike the batch simulator there is no end-phrase cutoff: live
// rounds always run the full turn budget so the client-side playback stays
// predictable.
func (l *LiveSession) converse(ctx context.Context, sessionID, script string, persona *model.Persona, iteration int, emit model.LiveEventFunc) ([]model.ConversationTurn, error) {
	var conversation []model.ConversationTurn

	for turn := 0; turn < l.cfg.MaxConversationTurns; turn++ {
		var botMessage string
		if turn == 0 {
			botMessage = liveOpening
		} else {
			botMessage = l.streamBotTurn(ctx, sessionID, script, conversation, iteration, turn+1, emit)
		}

		conversation = append(conversation, model.ConversationTurn{
			Turn:      turn + 1,
			Speaker:   model.SpeakerBot,
			Message:   botMessage,
			Timestamp: time.Now(),
		})

		emit.Notify(model.LiveEvent{
			Type:      model.LiveMessage,
			SessionID: sessionID,
			Iteration: iteration,
			Turn:      turn + 1,
			Speaker:   model.SpeakerBot,
			Message:   botMessage,
		})

		// Pacing gap so client-side TTS can finish before the next line.
		if err := l.pause(ctx); err != nil {
			return nil, err
		}

		customerMessage := l.customerTurn(ctx, persona, conversation)

		conversation = append(conversation, model.ConversationTurn{
			Turn:      turn + 1,
			Speaker:   model.SpeakerCustomer,
			Message:   customerMessage,
			Timestamp: time.Now(),
		})

		emit.Notify(model.LiveEvent{
			Type:      model.LiveMessage,
			SessionID: sessionID,
			Iteration: iteration,
			Turn:      turn + 1,
			Speaker:   model.SpeakerCustomer,
			Message:   customerMessage,
		})

		if err := l.pause(ctx); err != nil {
			return nil, err
		}
	}

	metrics.ConversationsSimulated.Inc()
	return conversation, nil
}

// streamBotTurn generates the bot's next line, forwarding tokens as they
// arrive. On streaming failure it falls back to a fixed line; the loop never
// stalls on one bad turn.
func (l *LiveSession) streamBotTurn(ctx context.Context, sessionID, script string, conversation []model.ConversationTurn, iteration, turn int, emit model.LiveEventFunc) string {
	prompt := fmt.Sprintf(`You are a debt collection bot following this script:

%s

Conversation so far:
%s

Generate your next response as the bot. Be professional and empathetic.
Keep it concise (2-3 sentences max).
Return ONLY the message, no additional formatting.`, script, liveTranscript(conversation))

	resp, err := l.client.CompleteStream(ctx, &llm.CompletionRequest{
		Messages: []llm.ChatMessage{{Role: "user", Content: prompt}},
		Stream:   true,
	}, func(token string, index int) error {
		emit.Notify(model.LiveEvent{
			Type:      model.LiveToken,
			SessionID: sessionID,
			Iteration: iteration,
			Turn:      turn,
			Speaker:   model.SpeakerBot,
			Token:     token,
		})
		return nil
	})
	if err != nil {
		l.logger.Warn("live bot turn generation failed, using fallback", zap.Error(err))
		metrics.RecordFallback("live_bot_turn")
		return fallbackBotLine
	}
	if msg := strings.TrimSpace(resp.Content); msg != "" {
		return msg
	}
	metrics.RecordFallback("live_bot_turn")
	return fallbackBotLine
}

func (l *LiveSession) customerTurn(ctx context.Context, persona *model.Persona, conversation []model.ConversationTurn) string {
	prompt := fmt.Sprintf(`You are roleplaying as a customer with the following persona:

Name: %s
Type: %s
Communication Style: %s
Financial Situation: %s
Attitude: %s

Conversation so far:
%s

Respond naturally as this persona would. Keep it brief (1-2 sentences).
Return ONLY the message, no additional formatting.`,
		persona.Name, persona.PersonaType, persona.CommunicationStyle,
		persona.FinancialSituation, persona.AttitudeTowardsDebt,
		liveTranscript(conversation))

	msg, err := llm.Ask(ctx, l.client, prompt)
	if err != nil || msg == "" {
		l.logger.Warn("live customer turn generation failed, using fallback", zap.Error(err))
		metrics.RecordFallback("live_customer_turn")
		return fallbackCustLine
	}
	return msg
}

func (l *LiveSession) finalize(ctx context.Context, sessionID, script string, scores []float64, iteration int, reached bool) error {
	finalScore := scores[len(scores)-1]
	initialScore := scores[0]
	if err := l.store.UpdateSessionResults(ctx, sessionID, finalScore,
		finalScore-initialScore, script, iteration, reached, initialScore); err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	return nil
}

// pause sleeps for the configured turn delay, honoring cancellation. A zero
// delay returns immediately.
func (l *LiveSession) pause(ctx context.Context) error {
	if l.cfg.LiveTurnDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(l.cfg.LiveTurnDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func liveTranscript(conversation []model.ConversationTurn) string {
	lines := make([]string, len(conversation))
	for i, turn := range conversation {
		speaker := "Bot"
		if turn.Speaker == model.SpeakerCustomer {
			speaker = "Customer"
		}
		lines[i] = speaker + ": " + turn.Message
	}
	return strings.Join(lines, "\n")
}
