// Package service implements the testing loop: persona generation,
// conversation simulation, metric analysis, self-correction, and the
// orchestrating platform.
package service

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/voicelab-ai/testbench/internal/config"
	"github.com/voicelab-ai/testbench/internal/llm"
	"github.com/voicelab-ai/testbench/internal/model"
	"github.com/voicelab-ai/testbench/pkg/logger"
	"github.com/voicelab-ai/testbench/pkg/metrics"
)

// PersonaGenerator produces synthetic loan-defaulter personas.
type PersonaGenerator struct {
	cfg    config.Testing
	client llm.Client
	logger *logger.Logger
}

// NewPersonaGenerator creates a persona generator.
func NewPersonaGenerator(cfg config.Testing, client llm.Client, log *logger.Logger) *PersonaGenerator {
	return &PersonaGenerator{
		cfg:    cfg,
		client: client,
		logger: log,
	}
}

const personaPromptFormat = `Generate a detailed loan defaulter persona for testing a debt collection voice agent.

Persona Type: %s

Create a realistic persona with the following details in JSON format:
{
  "name": "Full name",
  "age": age,
  "occupation": "Current job or employment status",
  "financial_situation": "Brief description of their financial state",
  "personality_traits": ["trait1", "trait2", "trait3"],
  "communication_style": "How they communicate",
  "reason_for_default": "Why they defaulted on the loan",
  "attitude_towards_debt": "Their attitude about the debt",
  "likely_responses": ["response1", "response2", "response3"],
  "negotiation_approach": "How they approach negotiation",
  "pain_points": ["pain1", "pain2"],
  "triggers": ["trigger1", "trigger2"],
  "preferred_outcome": "What they want from the conversation"
}

Make it realistic and varied. The persona should behave like a real person in debt.
Return ONLY the JSON, no additional text.`

// Generate produces one persona for the given archetype. Malformed or failed
// generation falls back to a fixed minimal persona tagged with the requested
// archetype, so the loop never stalls here.
func (g *PersonaGenerator) Generate(ctx context.Context, personaType string) *model.Persona {
	prompt := fmt.Sprintf(personaPromptFormat, personaType)

	raw, err := llm.Ask(ctx, g.client, prompt)
	if err != nil {
		g.logger.Warn("persona generation failed, using fallback",
			zap.String("persona_type", personaType),
			zap.Error(err),
		)
		metrics.RecordFallback("persona")
		return fallbackPersona(personaType)
	}

	var persona model.Persona
	if err := llm.Decode(raw, &persona); err != nil {
		g.logger.Warn("persona response unparseable, using fallback",
			zap.String("persona_type", personaType),
			zap.Error(err),
		)
		metrics.RecordFallback("persona")
		return fallbackPersona(personaType)
	}

	persona.PersonaType = personaType
	return &persona
}

// GenerateMany draws count archetypes uniformly at random (with replacement)
// and generates one persona per draw.
func (g *PersonaGenerator) GenerateMany(ctx context.Context, count int) []*model.Persona {
	personas := make([]*model.Persona, 0, count)
	for i := 0; i < count; i++ {
		personaType := g.cfg.PersonaTypes[rand.Intn(len(g.cfg.PersonaTypes))]
		g.logger.Info("generating persona",
			zap.Int("index", i+1),
			zap.Int("count", count),
			zap.String("persona_type", personaType),
		)
		personas = append(personas, g.Generate(ctx, personaType))
	}
	return personas
}

// GenerateAll iterates the full archetype set exactly once, in enumeration
// order.
func (g *PersonaGenerator) GenerateAll(ctx context.Context) []*model.Persona {
	personas := make([]*model.Persona, 0, len(g.cfg.PersonaTypes))
	for _, personaType := range g.cfg.PersonaTypes {
		g.logger.Info("generating persona", zap.String("persona_type", personaType))
		personas = append(personas, g.Generate(ctx, personaType))
	}
	return personas
}

func fallbackPersona(personaType string) *model.Persona {
	return &model.Persona{
		Name:                "John Doe",
		Age:                 35,
		Occupation:          "Unemployed",
		FinancialSituation:  "Struggling financially",
		PersonalityTraits:   []string{"defensive", "stressed", "uncertain"},
		CommunicationStyle:  "Evasive and short responses",
		ReasonForDefault:    "Lost job recently",
		AttitudeTowardsDebt: "Acknowledges but can't pay",
		LikelyResponses:     []string{"I don't have money", "I'll pay when I can", "Stop calling me"},
		NegotiationApproach: "Avoidant",
		PainPoints:          []string{"unemployment", "family pressure"},
		Triggers:            []string{"threats", "aggressive tone"},
		PreferredOutcome:    "Payment plan or extension",
		PersonaType:         personaType,
	}
}
