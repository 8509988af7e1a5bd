package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/voicelab-ai/testbench/internal/config"
	"github.com/voicelab-ai/testbench/internal/llm"
	"github.com/voicelab-ai/testbench/internal/model"
	"github.com/voicelab-ai/testbench/pkg/logger"
	"github.com/voicelab-ai/testbench/pkg/metrics"
)

// neutralScore is substituted when a judgment cannot be parsed; analysis
// always produces a number.
const neutralScore = 50

const (
	negotiationDescription = "Measures how well the bot negotiates with the customer - shows empathy, offers solutions, handles objections"
	relevanceDescription   = "Measures if bot responses are relevant to customer queries and stay on topic"
)

// negotiationJudgment is the expected shape of the negotiation scoring
// response.
type negotiationJudgment struct {
	NegotiationQuality string    `json:"negotiation_quality"`
	CommitmentSecured  bool      `json:"commitment_secured"`
	PaymentPlanOffered bool      `json:"payment_plan_offered"`
	EmpathyShown       bool      `json:"empathy_shown"`
	Score              llm.Score `json:"score"`
	Explanation        string    `json:"explanation"`
}

// relevanceJudgment is the expected shape of the relevance scoring response.
type relevanceJudgment struct {
	RelevanceQuality    string    `json:"relevance_quality"`
	OffTopicResponses   int       `json:"off_topic_responses"`
	UnansweredQuestions int       `json:"unanswered_questions"`
	Score               llm.Score `json:"score"`
	Explanation         string    `json:"explanation"`
}

// suggestionList is the expected shape of the improvement-suggestion
// response.
type suggestionList struct {
	Suggestions []string `json:"suggestions"`
}

// MetricsAnalyzer scores completed conversations.
type MetricsAnalyzer struct {
	cfg    config.Testing
	client llm.Client
	logger *logger.Logger
}

// NewMetricsAnalyzer creates an analyzer.
func NewMetricsAnalyzer(cfg config.Testing, client llm.Client, log *logger.Logger) *MetricsAnalyzer {
	return &MetricsAnalyzer{
		cfg:    cfg,
		client: client,
		logger: log,
	}
}

// Analyze scores one conversation on both metrics and collects improvement
// suggestions. It never fails: unusable judgments degrade to neutral scores.
func (a *MetricsAnalyzer) Analyze(ctx context.Context, conversation []model.ConversationTurn, persona *model.Persona) *model.AnalysisResult {
	var botCount, customerCount int
	for _, turn := range conversation {
		if turn.Speaker == model.SpeakerBot {
			botCount++
		} else {
			customerCount++
		}
	}

	negotiationScore := a.analyzeNegotiation(ctx, conversation, persona)
	relevanceScore := a.analyzeRelevance(ctx, conversation)

	overall := round2(negotiationScore*a.cfg.NegotiationWeight + relevanceScore*a.cfg.RelevanceWeight)

	result := &model.AnalysisResult{
		Metrics: model.Metrics{
			NegotiationEffectiveness: model.MetricScore{
				Score:       negotiationScore,
				Weight:      a.cfg.NegotiationWeight,
				Description: negotiationDescription,
			},
			ResponseRelevance: model.MetricScore{
				Score:       relevanceScore,
				Weight:      a.cfg.RelevanceWeight,
				Description: relevanceDescription,
			},
		},
		OverallScore:         overall,
		ConversationLength:   len(conversation),
		BotMessageCount:      botCount,
		CustomerMessageCount: customerCount,
	}

	result.ImprovementSuggestions = a.improvementSuggestions(ctx, conversation, result)

	a.logger.Info("conversation analyzed",
		zap.Float64("overall_score", result.OverallScore),
		zap.Float64("negotiation", negotiationScore),
		zap.Float64("relevance", relevanceScore),
	)

	return result
}

func transcript(conversation []model.ConversationTurn) string {
	lines := make([]string, len(conversation))
	for i, turn := range conversation {
		lines[i] = fmt.Sprintf("%s: %s", strings.ToUpper(string(turn.Speaker)), turn.Message)
	}
	return strings.Join(lines, "\n")
}

func (a *MetricsAnalyzer) analyzeNegotiation(ctx context.Context, conversation []model.ConversationTurn, persona *model.Persona) float64 {
	prompt := fmt.Sprintf(`Analyze the negotiation effectiveness of this debt collection conversation:

%s

Customer Persona:
- Type: %s
- Financial Situation: %s
- Preferred Outcome: %s

Evaluate:
1. Did the bot attempt to understand the customer's situation?
2. Did the bot offer appropriate payment solutions?
3. Did the bot handle objections effectively?
4. Did the bot secure any commitment or next steps?
5. Was the bot too aggressive or too passive?

Return a JSON with:
{
  "negotiation_quality": "poor/fair/good/excellent",
  "commitment_secured": true/false,
  "payment_plan_offered": true/false,
  "empathy_shown": true/false,
  "score": 0-100,
  "explanation": "Brief explanation"
}

Return ONLY the JSON, no additional text.`,
		transcript(conversation), persona.PersonaType, persona.FinancialSituation, persona.PreferredOutcome)

	raw, err := llm.Ask(ctx, a.client, prompt)
	if err != nil {
		a.logger.Warn("negotiation analysis failed, using neutral score", zap.Error(err))
		metrics.RecordFallback("negotiation_score")
		return neutralScore
	}

	var judgment negotiationJudgment
	if err := llm.Decode(raw, &judgment); err != nil || !judgment.Score.Valid {
		a.logger.Warn("negotiation judgment unparseable, using neutral score", zap.Error(err))
		metrics.RecordFallback("negotiation_score")
		return neutralScore
	}
	return judgment.Score.Value
}

func (a *MetricsAnalyzer) analyzeRelevance(ctx context.Context, conversation []model.ConversationTurn) float64 {
	prompt := fmt.Sprintf(`Analyze the relevance of bot responses in this conversation:

%s

Evaluate:
1. Does the bot address customer questions directly?
2. Does the bot stay on topic?
3. Does the bot provide irrelevant information?
4. Does the bot understand customer concerns?

Return a JSON with:
{
  "relevance_quality": "poor/fair/good/excellent",
  "off_topic_responses": 0-10,
  "unanswered_questions": 0-10,
  "score": 0-100,
  "explanation": "Brief explanation"
}

Return ONLY the JSON, no additional text.`, transcript(conversation))

	raw, err := llm.Ask(ctx, a.client, prompt)
	if err != nil {
		a.logger.Warn("relevance analysis failed, using neutral score", zap.Error(err))
		metrics.RecordFallback("relevance_score")
		return neutralScore
	}

	var judgment relevanceJudgment
	if err := llm.Decode(raw, &judgment); err != nil || !judgment.Score.Valid {
		a.logger.Warn("relevance judgment unparseable, using neutral score", zap.Error(err))
		metrics.RecordFallback("relevance_score")
		return neutralScore
	}
	return judgment.Score.Value
}

func (a *MetricsAnalyzer) improvementSuggestions(ctx context.Context, conversation []model.ConversationTurn, result *model.AnalysisResult) []string {
	fallback := []string{"Unable to generate suggestions"}

	metricsJSON, err := json.MarshalIndent(result.Metrics, "", "  ")
	if err != nil {
		return fallback
	}

	prompt := fmt.Sprintf(`Based on this conversation and metrics analysis, provide specific improvement suggestions:

Conversation:
%s

Metrics:
%s

Overall Score: %.2f/100

Provide 3-5 specific, actionable suggestions to improve the bot's script.
Focus on the weakest metrics.

Return a JSON array of suggestions:
{
  "suggestions": [
    "Suggestion 1",
    "Suggestion 2",
    "Suggestion 3"
  ]
}

Return ONLY the JSON, no additional text.`,
		transcript(conversation), string(metricsJSON), result.OverallScore)

	raw, err := llm.Ask(ctx, a.client, prompt)
	if err != nil {
		a.logger.Warn("suggestion generation failed, using fallback", zap.Error(err))
		metrics.RecordFallback("suggestions")
		return fallback
	}

	var list suggestionList
	if err := llm.Decode(raw, &list); err != nil || len(list.Suggestions) == 0 {
		a.logger.Warn("suggestion response unparseable, using fallback", zap.Error(err))
		metrics.RecordFallback("suggestions")
		return fallback
	}
	return list.Suggestions
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
