package model

// Metric names. The enumeration order decides ties when the self-correction
// engine picks the weakest metric.
const (
	MetricNegotiation = "negotiation_effectiveness"
	MetricRelevance   = "response_relevance"
)

// MetricNames in enumeration order.
var MetricNames = []string{MetricNegotiation, MetricRelevance}

// MetricScore is one scored dimension of a conversation.
type MetricScore struct {
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// Metrics holds the two scored dimensions.
type Metrics struct {
	NegotiationEffectiveness MetricScore `json:"negotiation_effectiveness"`
	ResponseRelevance        MetricScore `json:"response_relevance"`
}

// ByName returns the score for a named metric.
func (m Metrics) ByName(name string) float64 {
	switch name {
	case MetricNegotiation:
		return m.NegotiationEffectiveness.Score
	case MetricRelevance:
		return m.ResponseRelevance.Score
	}
	return 0
}

// AnalysisResult is the derived scoring of one conversation. Read-only once
// computed.
type AnalysisResult struct {
	Metrics                Metrics  `json:"metrics"`
	OverallScore           float64  `json:"overall_score"`
	ConversationLength     int      `json:"conversation_length"`
	BotMessageCount        int      `json:"bot_message_count"`
	CustomerMessageCount   int      `json:"customer_message_count"`
	ImprovementSuggestions []string `json:"improvement_suggestions"`
}

// IterationResult is one full round of testing all personas against one
// script version.
type IterationResult struct {
	Iteration    int              `json:"iteration"`
	Script       string           `json:"script"`
	TestResults  []AnalysisResult `json:"test_results"`
	AverageScore float64          `json:"average_score"`
	NumTests     int              `json:"num_tests"`
}
