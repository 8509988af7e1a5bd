package model

import (
	"time"
)

// SessionType tags how a session was driven.
type SessionType string

const (
	SessionTypeText  SessionType = "TEXT"
	SessionTypeVoice SessionType = "VOICE"
)

// SessionRecord is the persisted top-level unit of a testing run. Created
// once at run start, appended to per iteration, and updated once at the end.
type SessionRecord struct {
	ID              string      `json:"id"`
	SessionType     SessionType `json:"session_type"`
	NumPersonas     int         `json:"num_personas"`
	InitialScript   string      `json:"initial_script"`
	FinalScript     string      `json:"final_script,omitempty"`
	InitialScore    float64     `json:"initial_score"`
	FinalScore      float64     `json:"final_score"`
	Improvement     float64     `json:"improvement"`
	ThresholdReached bool       `json:"threshold_reached"`
	TotalIterations int         `json:"total_iterations"`
	PersonaCount    int         `json:"persona_count,omitempty"`
	IterationCount  int         `json:"iteration_count,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// IterationRecord is a persisted iteration with its stored aggregates.
type IterationRecord struct {
	ID              string  `json:"id"`
	SessionID       string  `json:"session_id"`
	IterationNumber int     `json:"iteration_number"`
	BotScript       string  `json:"bot_script"`
	AverageScore    float64 `json:"average_score"`
	AvgNegotiation  float64 `json:"avg_negotiation"`
	AvgRelevance    float64 `json:"avg_relevance"`
}

// IterationSummary is the per-iteration slice of a final report.
type IterationSummary struct {
	Iteration    int     `json:"iteration"`
	AverageScore float64 `json:"average_score"`
	NumTests     int     `json:"num_tests"`
}

// FinalReport summarizes a completed testing run.
type FinalReport struct {
	SessionID        string             `json:"session_id"`
	Timestamp        time.Time          `json:"timestamp"`
	TotalIterations  int                `json:"total_iterations"`
	ThresholdScore   float64            `json:"threshold_score"`
	Iterations       []IterationSummary `json:"iterations"`
	InitialScore     float64            `json:"initial_score"`
	FinalScore       float64            `json:"final_score"`
	ThresholdReached bool               `json:"threshold_reached"`
	Improvement      float64            `json:"improvement"`
}
