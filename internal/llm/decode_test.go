package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences(`{"a":1}`))
}

func TestDecode(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	err := Decode("```json\n{\"name\": \"test\"}\n```", &v)
	require.NoError(t, err)
	assert.Equal(t, "test", v.Name)

	err = Decode("not json at all", &v)
	assert.Error(t, err)
}

func TestScoreUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		value float64
		valid bool
	}{
		{"number", `{"score": 85}`, 85, true},
		{"zero is a real score", `{"score": 0}`, 0, true},
		{"numeric string", `{"score": "72.5"}`, 72.5, true},
		{"non-numeric string", `{"score": "excellent"}`, 0, false},
		{"null", `{"score": null}`, 0, false},
		{"absent", `{}`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v struct {
				Score Score `json:"score"`
			}
			require.NoError(t, json.Unmarshal([]byte(tt.input), &v))
			assert.Equal(t, tt.valid, v.Score.Valid)
			assert.Equal(t, tt.value, v.Score.Value)
		})
	}
}

func TestScoreMarshal(t *testing.T) {
	b, err := json.Marshal(Score{Value: 42, Valid: true})
	require.NoError(t, err)
	assert.Equal(t, "42", string(b))

	b, err = json.Marshal(Score{})
	require.NoError(t, err)
	assert.Equal(t, "0", string(b))
}

func TestGenerationErrorUnwrap(t *testing.T) {
	inner := assert.AnError
	err := &GenerationError{Provider: "anthropic", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "anthropic")
}
