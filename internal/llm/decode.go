package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StripCodeFences removes markdown code-fence decoration that models wrap
// around structured output ("```json ... ```").
func StripCodeFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// Decode parses raw model output as JSON into v after stripping any code
// fences. This is the single place free text becomes structured data.
func Decode(raw string, v any) error {
	cleaned := StripCodeFences(raw)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

// Score is a 0-100 judgment score. Models return it as a number or as a
// numeric string; anything else leaves the score invalid so the caller can
// substitute its neutral default.
type Score struct {
	Value float64
	Valid bool
}

// UnmarshalJSON accepts numbers and numeric strings. Malformed values are
// tolerated, not errored, so one bad field never fails the whole judgment.
func (s *Score) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		s.Value = f
		s.Valid = true
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			s.Value = f
			s.Valid = true
		}
	}
	return nil
}

// MarshalJSON writes the numeric value.
func (s Score) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Value)
}
