// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string

	// Storage
	DatabasePath string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool

	// Testing loop parameters
	Testing Testing
}

// Testing holds the immutable parameters of the improvement loop. It is
// constructed once and threaded into every component that needs it.
type Testing struct {
	// MaxConversationTurns bounds the number of bot/customer pairs per
	// simulated conversation.
	MaxConversationTurns int

	// ThresholdScore is the average score at which a run stops early.
	ThresholdScore float64

	// MaxIterations bounds the number of script revisions per run.
	MaxIterations int

	// NegotiationWeight and RelevanceWeight combine the two metric scores
	// into the overall score. They must sum to 1.0.
	NegotiationWeight float64
	RelevanceWeight   float64

	// PersonaTypes is the fixed archetype set, in enumeration order.
	PersonaTypes []string

	// BaseBotScript is the default collection script tested when the caller
	// supplies none.
	BaseBotScript string

	// LiveTurnDelay paces utterances in live sessions so a UI can keep up.
	LiveTurnDelay time.Duration
}

var defaultPersonaTypes = []string{
	"aggressive_denier",
	"cooperative_but_broke",
	"evasive_avoider",
	"emotional_pleader",
	"hostile_threatener",
	"confused_elderly",
	"busy_professional",
	"payment_plan_seeker",
}

const defaultBotScript = `You are a professional debt collection agent for a financial institution. Your goal is to recover outstanding debt while maintaining professionalism and empathy.

Key Guidelines:
1. Always introduce yourself and the purpose of the call
2. Verify the customer's identity before discussing debt details
3. Listen to customer concerns and show empathy
4. Offer payment plans when appropriate
5. Document promises to pay
6. Never threaten or harass the customer
7. Follow legal compliance guidelines (FDCPA)
8. Be persistent but respectful
9. Aim to secure a commitment for payment

Debt Details:
- Outstanding Amount: $2,500
- Days Past Due: 45 days
- Original Creditor: First National Bank
- Account Number: XXXX-1234

Your objective is to:
1. Confirm the debt
2. Understand the customer's situation
3. Negotiate a payment arrangement
4. Secure a commitment date`

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Minute),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),

		// Storage
		DatabasePath: getEnv("DATABASE_PATH", "data/testbench.db"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),

		Testing: DefaultTesting(),
	}
}

// DefaultTesting returns the standard loop parameters.
func DefaultTesting() Testing {
	return Testing{
		MaxConversationTurns: getIntEnv("MAX_CONVERSATION_TURNS", 6),
		ThresholdScore:       getFloatEnv("THRESHOLD_SCORE", 85),
		MaxIterations:        getIntEnv("MAX_ITERATIONS", 5),
		NegotiationWeight:    0.5,
		RelevanceWeight:      0.5,
		PersonaTypes:         defaultPersonaTypes,
		BaseBotScript:        defaultBotScript,
		LiveTurnDelay:        getDurationEnv("LIVE_TURN_DELAY", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
