package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/voicelab-ai/testbench/internal/config"
	"github.com/voicelab-ai/testbench/internal/llm"
	"github.com/voicelab-ai/testbench/internal/model"
	"github.com/voicelab-ai/testbench/pkg/logger"
	"github.com/voicelab-ai/testbench/pkg/metrics"
)

// CorrectionEngine rewrites the bot script from aggregated scoring feedback.
// Pure aggregation plus one generation call; no external state.
type CorrectionEngine struct {
	cfg    config.Testing
	client llm.Client
	logger *logger.Logger
}

// NewCorrectionEngine creates a correction engine.
func NewCorrectionEngine(cfg config.Testing, client llm.Client, log *logger.Logger) *CorrectionEngine {
	return &CorrectionEngine{
		cfg:    cfg,
		client: client,
		logger: log,
	}
}

// insights aggregates one round's results for the rewrite prompt.
type insights struct {
	AverageScore       float64
	AverageMetrics     map[string]float64
	WeakestMetric      string
	WeakestMetricScore float64
	AllSuggestions     []string
	TestCount          int
}

// Improve rewrites currentScript targeting the weakest metric. On generation
// failure it returns currentScript unmodified so the orchestrator can simply
// retest next round.
func (e *CorrectionEngine) Improve(ctx context.Context, currentScript string, results []model.AnalysisResult, iteration int) string {
	agg := aggregate(results)

	e.logger.Info("running self-correction",
		zap.Int("iteration", iteration),
		zap.Float64("average_score", agg.AverageScore),
		zap.String("weakest_metric", agg.WeakestMetric),
	)

	improved, err := e.rewrite(ctx, currentScript, agg, iteration)
	if err != nil {
		e.logger.Warn("script rewrite failed, keeping current script", zap.Error(err))
		metrics.RecordFallback("script_rewrite")
		return currentScript
	}
	return improved
}

// aggregate computes the round's means, the weakest metric, and the
// concatenated suggestion list (duplicates and order preserved).
func aggregate(results []model.AnalysisResult) insights {
	agg := insights{
		AverageMetrics: make(map[string]float64, len(model.MetricNames)),
		TestCount:      len(results),
	}

	var total float64
	sums := make(map[string]float64, len(model.MetricNames))
	for _, r := range results {
		total += r.OverallScore
		agg.AllSuggestions = append(agg.AllSuggestions, r.ImprovementSuggestions...)
		for _, name := range model.MetricNames {
			sums[name] += r.Metrics.ByName(name)
		}
	}

	if len(results) > 0 {
		agg.AverageScore = total / float64(len(results))
		for _, name := range model.MetricNames {
			agg.AverageMetrics[name] = sums[name] / float64(len(results))
		}
	}

	// Fixed enumeration order with strict less-than: ties resolve to the
	// first metric.
	agg.WeakestMetric = model.MetricNames[0]
	agg.WeakestMetricScore = agg.AverageMetrics[agg.WeakestMetric]
	for _, name := range model.MetricNames[1:] {
		if agg.AverageMetrics[name] < agg.WeakestMetricScore {
			agg.WeakestMetric = name
			agg.WeakestMetricScore = agg.AverageMetrics[name]
		}
	}

	return agg
}

func (e *CorrectionEngine) rewrite(ctx context.Context, currentScript string, agg insights, iteration int) (string, error) {
	suggestions := make([]string, len(agg.AllSuggestions))
	for i, s := range agg.AllSuggestions {
		suggestions[i] = "- " + s
	}

	prompt := fmt.Sprintf(`You are an expert at optimizing debt collection bot scripts.

Current Bot Script (Iteration %d):
%s

Performance Analysis:
- Average Overall Score: %.2f/100
- Test Count: %d
- Weakest Area: %s (Score: %.2f/100)

Average Metric Scores:
- Negotiation Effectiveness: %.2f/100
- Response Relevance: %.2f/100

Improvement Suggestions from Testing:
%s

Task: Rewrite and improve the bot script to address these issues.

Requirements:
1. Maintain the core structure and purpose
2. Address the weakest metric (%s) specifically
3. Incorporate the improvement suggestions
4. Enhance negotiation strategies - show more empathy, offer payment plans, handle objections better
5. Improve response relevance - stay on topic, address customer questions directly
6. Keep the script clear and actionable for the bot
7. Maintain professional and empathetic tone
8. Ensure legal compliance (FDCPA)

Return ONLY the improved script, no additional commentary or formatting.`,
		iteration, currentScript,
		agg.AverageScore, agg.TestCount,
		agg.WeakestMetric, agg.WeakestMetricScore,
		agg.AverageMetrics[model.MetricNegotiation],
		agg.AverageMetrics[model.MetricRelevance],
		strings.Join(suggestions, "\n"),
		agg.WeakestMetric)

	raw, err := llm.Ask(ctx, e.client, prompt)
	if err != nil {
		return "", err
	}

	return llm.StripCodeFences(raw), nil
}
