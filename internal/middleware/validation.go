package middleware

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxPersonaBatch bounds how many personas one run may request.
const maxPersonaBatch = 20

// ValidateSessionID validates a session ID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateScript validates a bot script supplied by the caller.
func ValidateScript(script string) error {
	if len(script) > 100000 { // ~100KB limit
		return errors.New("script exceeds maximum length")
	}
	if !utf8.ValidString(script) {
		return errors.New("script must be valid UTF-8")
	}
	return nil
}

// ValidateNumPersonas validates the requested persona count. Zero means
// "one of each archetype" and is allowed.
func ValidateNumPersonas(n int) error {
	if n < 0 {
		return errors.New("num_personas cannot be negative")
	}
	if n > maxPersonaBatch {
		return fmt.Errorf("num_personas exceeds maximum of %d", maxPersonaBatch)
	}
	return nil
}

// ValidatePersonaType checks the archetype against the configured set.
func ValidatePersonaType(personaType string, allowed []string) error {
	for _, t := range allowed {
		if t == personaType {
			return nil
		}
	}
	return fmt.Errorf("unknown persona type %q", personaType)
}
