package model

import (
	"time"
)

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerBot      Speaker = "bot"
	SpeakerCustomer Speaker = "customer"
)

// ConversationTurn is one utterance. Turn numbers are 1-based and shared by
// a bot/customer pair, so a four-message exchange carries turns 1,1,2,2.
type ConversationTurn struct {
	Turn      int       `json:"turn"`
	Speaker   Speaker   `json:"speaker"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationRecord is a persisted conversation owned by one
// (iteration, persona) pair.
type ConversationRecord struct {
	ID                     string             `json:"id"`
	SessionID              string             `json:"session_id"`
	IterationID            string             `json:"iteration_id"`
	PersonaID              string             `json:"persona_id"`
	TurnCount              int                `json:"turn_count"`
	BotMessageCount        int                `json:"bot_message_count"`
	CustomerMessageCount   int                `json:"customer_message_count"`
	OverallScore           float64            `json:"overall_score"`
	NegotiationScore       float64            `json:"negotiation_score"`
	RelevanceScore         float64            `json:"relevance_score"`
	ImprovementSuggestions []string           `json:"improvement_suggestions"`
	Messages               []ConversationTurn `json:"messages,omitempty"`

	// Joined persona identity, populated on read.
	PersonaName string `json:"persona_name,omitempty"`
	PersonaType string `json:"persona_type,omitempty"`
}
