package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicelab-ai/testbench/pkg/metrics"
)

func newTestOpenAIClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

// completionSamples returns the observation count of the completion-duration
// histogram child with the given labels.
func completionSamples(t *testing.T, provider, method, status string) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	want := map[string]string{"provider": provider, "method": method, "status": status}
	for _, mf := range families {
		if mf.GetName() != "llm_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if want[lp.GetName()] == lp.GetValue() {
					matched++
				}
			}
			if matched == len(want) {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func TestOpenAICompleteRecordsMetrics(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`))
	})

	inBefore := testutil.ToFloat64(metrics.LLMTokensTotal.WithLabelValues("openai", "in"))
	outBefore := testutil.ToFloat64(metrics.LLMTokensTotal.WithLabelValues("openai", "out"))
	samplesBefore := completionSamples(t, "openai", "complete", "success")

	resp, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 7, resp.TokensIn)
	assert.Equal(t, 3, resp.TokensOut)

	assert.Equal(t, 7.0, testutil.ToFloat64(metrics.LLMTokensTotal.WithLabelValues("openai", "in"))-inBefore)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.LLMTokensTotal.WithLabelValues("openai", "out"))-outBefore)
	assert.Equal(t, samplesBefore+1, completionSamples(t, "openai", "complete", "success"))
}

func TestOpenAICompleteRecordsFailure(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "boom"}}`, http.StatusInternalServerError)
	})

	samplesBefore := completionSamples(t, "openai", "complete", "error")

	_, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "openai", genErr.Provider)

	assert.Equal(t, samplesBefore+1, completionSamples(t, "openai", "complete", "error"))
}

func TestOpenAIStreamDeliversTokensAndRecordsMetrics(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"id":"1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"Hel"}}]}` + "\n\n"))
		w.Write([]byte(`data: {"id":"1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	})

	samplesBefore := completionSamples(t, "openai", "stream", "success")

	var tokens []string
	resp, err := client.CompleteStream(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, func(token string, index int) error {
		tokens = append(tokens, token)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, samplesBefore+1, completionSamples(t, "openai", "stream", "success"))
}
