// Package model defines data structures for the testing platform.
package model

// Persona is a synthetic loan-defaulter profile used to exercise the bot.
// Immutable once generated; the orchestrator owns it for the session lifetime.
type Persona struct {
	Name                string   `json:"name"`
	Age                 int      `json:"age"`
	Occupation          string   `json:"occupation"`
	FinancialSituation  string   `json:"financial_situation"`
	PersonalityTraits   []string `json:"personality_traits"`
	CommunicationStyle  string   `json:"communication_style"`
	ReasonForDefault    string   `json:"reason_for_default"`
	AttitudeTowardsDebt string   `json:"attitude_towards_debt"`
	LikelyResponses     []string `json:"likely_responses"`
	NegotiationApproach string   `json:"negotiation_approach"`
	PainPoints          []string `json:"pain_points"`
	Triggers            []string `json:"triggers"`
	PreferredOutcome    string   `json:"preferred_outcome"`
	PersonaType         string   `json:"persona_type"`
}

// PersonaRecord is a persisted persona with its database identity.
type PersonaRecord struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Persona
}
