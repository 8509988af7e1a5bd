package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/voicelab-ai/testbench/internal/llm"
)

// fakeClient routes each prompt through a reply function. Streaming delivers
// the whole reply as a single token.
type fakeClient struct {
	mu    sync.Mutex
	reply func(prompt string) (string, error)
	calls []string
}

func (f *fakeClient) record(prompt string) {
	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	f.mu.Unlock()
}

func (f *fakeClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	prompt := req.Messages[len(req.Messages)-1].Content
	f.record(prompt)
	content, err := f.reply(prompt)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: content, Model: "fake"}, nil
}

func (f *fakeClient) CompleteStream(ctx context.Context, req *llm.CompletionRequest, callback llm.StreamCallback) (*llm.CompletionResponse, error) {
	prompt := req.Messages[len(req.Messages)-1].Content
	f.record(prompt)
	content, err := f.reply(prompt)
	if err != nil {
		return nil, err
	}
	if callback != nil {
		if err := callback(content, 0); err != nil {
			return nil, err
		}
	}
	return &llm.CompletionResponse{Content: content, Model: "fake"}, nil
}

func (f *fakeClient) Name() string     { return "fake" }
func (f *fakeClient) Models() []string { return []string{"fake"} }

// scriptedReplies answers every prompt family the testing loop produces.
// Judgment scores come from the score function, called once per metric.
type scriptedReplies struct {
	score func() float64
}

func (s *scriptedReplies) reply(prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "loan defaulter persona"):
		return `{
			"name": "Dana Reeves",
			"age": 38,
			"occupation": "Contractor",
			"financial_situation": "Irregular income",
			"personality_traits": ["blunt", "busy"],
			"communication_style": "Direct",
			"reason_for_default": "Client didn't pay",
			"attitude_towards_debt": "Annoyed",
			"likely_responses": ["Make it quick"],
			"negotiation_approach": "Transactional",
			"pain_points": ["cash flow"],
			"triggers": ["wasted time"],
			"preferred_outcome": "Settlement"
		}`, nil
	case strings.Contains(prompt, "negotiation effectiveness of this debt collection conversation"):
		return fmt.Sprintf(`{"negotiation_quality": "fair", "commitment_secured": false, "payment_plan_offered": true, "empathy_shown": true, "score": %g, "explanation": "ok"}`, s.score()), nil
	case strings.Contains(prompt, "relevance of bot responses"):
		return fmt.Sprintf(`{"relevance_quality": "fair", "off_topic_responses": 1, "unanswered_questions": 0, "score": %g, "explanation": "ok"}`, s.score()), nil
	case strings.Contains(prompt, "provide specific improvement suggestions"):
		return `{"suggestions": ["Acknowledge the customer's situation sooner", "Offer a concrete payment plan"]}`, nil
	case strings.Contains(prompt, "optimizing debt collection bot scripts"):
		return "Improved script: lead with empathy, then offer a plan.", nil
	case strings.Contains(prompt, "start of a call"):
		return "Hello, this is the collections department. Am I speaking with the account holder?", nil
	case strings.Contains(prompt, "debt collection bot following this script"):
		return "I understand. Could we look at a payment plan together?", nil
	case strings.Contains(prompt, "roleplaying as a customer"):
		return "Money is tight, but maybe a small plan could work.", nil
	default:
		return "", fmt.Errorf("unexpected prompt: %.60s", prompt)
	}
}
