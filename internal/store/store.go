// Package store handles SQLite persistence for testing sessions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/voicelab-ai/testbench/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access for session data. The testing loop only appends;
// the HTTP read routes are the only readers.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			session_type TEXT NOT NULL,
			num_personas INTEGER NOT NULL,
			initial_script TEXT NOT NULL,
			final_script TEXT NOT NULL DEFAULT '',
			initial_score REAL NOT NULL DEFAULT 0,
			final_score REAL NOT NULL DEFAULT 0,
			improvement REAL NOT NULL DEFAULT 0,
			threshold_reached INTEGER NOT NULL DEFAULT 0,
			total_iterations INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS personas (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			name TEXT NOT NULL,
			age INTEGER NOT NULL,
			occupation TEXT NOT NULL,
			persona_type TEXT NOT NULL,
			financial_situation TEXT NOT NULL,
			personality_traits TEXT NOT NULL,
			communication_style TEXT NOT NULL,
			reason_for_default TEXT NOT NULL,
			attitude_towards_debt TEXT NOT NULL,
			likely_responses TEXT NOT NULL,
			negotiation_approach TEXT NOT NULL,
			pain_points TEXT NOT NULL,
			triggers TEXT NOT NULL,
			preferred_outcome TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS iterations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			iteration_number INTEGER NOT NULL,
			bot_script TEXT NOT NULL,
			average_score REAL NOT NULL,
			avg_negotiation REAL NOT NULL,
			avg_relevance REAL NOT NULL,
			UNIQUE (session_id, iteration_number)
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			iteration_id TEXT NOT NULL REFERENCES iterations(id),
			persona_id TEXT NOT NULL REFERENCES personas(id),
			turn_count INTEGER NOT NULL,
			bot_message_count INTEGER NOT NULL,
			customer_message_count INTEGER NOT NULL,
			overall_score REAL NOT NULL,
			negotiation_score REAL NOT NULL,
			relevance_score REAL NOT NULL,
			improvement_suggestions TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			turn_number INTEGER NOT NULL,
			speaker TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_personas_session ON personas(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_iterations_session ON iterations(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_iteration ON conversations(iteration_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func marshalStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalStrings(s string) []string {
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return []string{}
	}
	return v
}

// CreateSession stores a new testing session.
func (s *Store) CreateSession(ctx context.Context, sessionType model.SessionType, numPersonas int, initialScript string) (*model.SessionRecord, error) {
	rec := &model.SessionRecord{
		ID:            newID(),
		SessionType:   sessionType,
		NumPersonas:   numPersonas,
		InitialScript: initialScript,
		CreatedAt:     time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, session_type, num_personas, initial_script, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, string(rec.SessionType), rec.NumPersonas, rec.InitialScript,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return rec, nil
}

// SavePersonas stores a persona batch for a session.
func (s *Store) SavePersonas(ctx context.Context, sessionID string, personas []model.Persona) ([]model.PersonaRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				_ = rerr
			}
		}
	}()

	records := make([]model.PersonaRecord, 0, len(personas))
	for _, p := range personas {
		rec := model.PersonaRecord{ID: newID(), SessionID: sessionID, Persona: p}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO personas (id, session_id, name, age, occupation, persona_type,
				financial_situation, personality_traits, communication_style, reason_for_default,
				attitude_towards_debt, likely_responses, negotiation_approach, pain_points,
				triggers, preferred_outcome)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, sessionID, p.Name, p.Age, p.Occupation, p.PersonaType,
			p.FinancialSituation, marshalStrings(p.PersonalityTraits), p.CommunicationStyle,
			p.ReasonForDefault, p.AttitudeTowardsDebt, marshalStrings(p.LikelyResponses),
			p.NegotiationApproach, marshalStrings(p.PainPoints), marshalStrings(p.Triggers),
			p.PreferredOutcome,
		)
		if err != nil {
			return nil, fmt.Errorf("save persona: %w", err)
		}
		records = append(records, rec)
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return records, nil
}

// CreateIteration stores one completed iteration with its aggregates.
func (s *Store) CreateIteration(ctx context.Context, sessionID string, number int, botScript string, averageScore, avgNegotiation, avgRelevance float64) (*model.IterationRecord, error) {
	rec := &model.IterationRecord{
		ID:              newID(),
		SessionID:       sessionID,
		IterationNumber: number,
		BotScript:       botScript,
		AverageScore:    averageScore,
		AvgNegotiation:  avgNegotiation,
		AvgRelevance:    avgRelevance,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO iterations (id, session_id, iteration_number, bot_script, average_score, avg_negotiation, avg_relevance)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, sessionID, number, botScript, averageScore, avgNegotiation, avgRelevance,
	)
	if err != nil {
		return nil, fmt.Errorf("create iteration: %w", err)
	}
	return rec, nil
}

// SaveConversation stores a conversation and all its messages.
func (s *Store) SaveConversation(ctx context.Context, sessionID, iterationID, personaID string, turns []model.ConversationTurn, analysis *model.AnalysisResult) (*model.ConversationRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				_ = rerr
			}
		}
	}()

	rec := &model.ConversationRecord{
		ID:                     newID(),
		SessionID:              sessionID,
		IterationID:            iterationID,
		PersonaID:              personaID,
		TurnCount:              len(turns),
		BotMessageCount:        analysis.BotMessageCount,
		CustomerMessageCount:   analysis.CustomerMessageCount,
		OverallScore:           analysis.OverallScore,
		NegotiationScore:       analysis.Metrics.NegotiationEffectiveness.Score,
		RelevanceScore:         analysis.Metrics.ResponseRelevance.Score,
		ImprovementSuggestions: analysis.ImprovementSuggestions,
		Messages:               turns,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, session_id, iteration_id, persona_id, turn_count,
			bot_message_count, customer_message_count, overall_score, negotiation_score,
			relevance_score, improvement_suggestions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, sessionID, iterationID, personaID, rec.TurnCount,
		rec.BotMessageCount, rec.CustomerMessageCount, rec.OverallScore,
		rec.NegotiationScore, rec.RelevanceScore, marshalStrings(rec.ImprovementSuggestions),
	)
	if err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}

	for _, turn := range turns {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, turn_number, speaker, content, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			newID(), rec.ID, turn.Turn, string(turn.Speaker), turn.Message,
			turn.Timestamp.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return nil, fmt.Errorf("save message: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateSessionResults records the terminal state of a session.
func (s *Store) UpdateSessionResults(ctx context.Context, sessionID string, finalScore, improvement float64, finalScript string, totalIterations int, thresholdReached bool, initialScore float64) error {
	reached := 0
	if thresholdReached {
		reached = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET final_script = ?, initial_score = ?, final_score = ?, improvement = ?,
			 threshold_reached = ?, total_iterations = ?
		 WHERE id = ?`,
		finalScript, initialScore, finalScore, improvement, reached, totalIterations, sessionID,
	)
	if err != nil {
		return fmt.Errorf("update session results: %w", err)
	}
	return nil
}

// ListSessions returns sessions of one type, newest first, with persona and
// iteration counts.
func (s *Store) ListSessions(ctx context.Context, sessionType model.SessionType) ([]model.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.session_type, s.num_personas, s.initial_score, s.final_score,
				s.improvement, s.threshold_reached, s.total_iterations, s.created_at,
				(SELECT COUNT(*) FROM personas p WHERE p.session_id = s.id),
				(SELECT COUNT(*) FROM iterations i WHERE i.session_id = s.id)
		 FROM sessions s
		 WHERE s.session_type = ?
		 ORDER BY s.created_at DESC`,
		string(sessionType),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.SessionRecord
	for rows.Next() {
		var rec model.SessionRecord
		var reached int
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.SessionType, &rec.NumPersonas, &rec.InitialScore,
			&rec.FinalScore, &rec.Improvement, &reached, &rec.TotalIterations, &createdAt,
			&rec.PersonaCount, &rec.IterationCount); err != nil {
			return nil, err
		}
		rec.ThresholdReached = reached != 0
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

// GetSession returns one session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	var reached int
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_type, num_personas, initial_script, final_script, initial_score,
				final_score, improvement, threshold_reached, total_iterations, created_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.SessionType, &rec.NumPersonas, &rec.InitialScript, &rec.FinalScript,
		&rec.InitialScore, &rec.FinalScore, &rec.Improvement, &reached, &rec.TotalIterations,
		&createdAt)
	if err != nil {
		return nil, err
	}
	rec.ThresholdReached = reached != 0
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &rec, nil
}

// ListIterations returns a session's iterations in order.
func (s *Store) ListIterations(ctx context.Context, sessionID string) ([]model.IterationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, iteration_number, bot_script, average_score, avg_negotiation, avg_relevance
		 FROM iterations WHERE session_id = ? ORDER BY iteration_number ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var iterations []model.IterationRecord
	for rows.Next() {
		var rec model.IterationRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.IterationNumber, &rec.BotScript,
			&rec.AverageScore, &rec.AvgNegotiation, &rec.AvgRelevance); err != nil {
			return nil, err
		}
		iterations = append(iterations, rec)
	}
	return iterations, rows.Err()
}

// ListConversations returns the conversations of one iteration, joined with
// persona identity. Messages are included when withMessages is set.
func (s *Store) ListConversations(ctx context.Context, iterationID string, withMessages bool) ([]model.ConversationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.session_id, c.iteration_id, c.persona_id, c.turn_count,
				c.bot_message_count, c.customer_message_count, c.overall_score,
				c.negotiation_score, c.relevance_score, c.improvement_suggestions,
				p.name, p.persona_type
		 FROM conversations c
		 JOIN personas p ON p.id = c.persona_id
		 WHERE c.iteration_id = ?`,
		iterationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []model.ConversationRecord
	for rows.Next() {
		var rec model.ConversationRecord
		var suggestions string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.IterationID, &rec.PersonaID,
			&rec.TurnCount, &rec.BotMessageCount, &rec.CustomerMessageCount, &rec.OverallScore,
			&rec.NegotiationScore, &rec.RelevanceScore, &suggestions,
			&rec.PersonaName, &rec.PersonaType); err != nil {
			return nil, err
		}
		rec.ImprovementSuggestions = unmarshalStrings(suggestions)
		conversations = append(conversations, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if withMessages {
		for i := range conversations {
			msgs, err := s.listMessages(ctx, conversations[i].ID)
			if err != nil {
				return nil, err
			}
			conversations[i].Messages = msgs
		}
	}
	return conversations, nil
}

// GetConversation returns one conversation with its messages.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.ConversationRecord, error) {
	var rec model.ConversationRecord
	var suggestions string
	err := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.session_id, c.iteration_id, c.persona_id, c.turn_count,
				c.bot_message_count, c.customer_message_count, c.overall_score,
				c.negotiation_score, c.relevance_score, c.improvement_suggestions,
				p.name, p.persona_type
		 FROM conversations c
		 JOIN personas p ON p.id = c.persona_id
		 WHERE c.id = ?`, id,
	).Scan(&rec.ID, &rec.SessionID, &rec.IterationID, &rec.PersonaID, &rec.TurnCount,
		&rec.BotMessageCount, &rec.CustomerMessageCount, &rec.OverallScore,
		&rec.NegotiationScore, &rec.RelevanceScore, &suggestions,
		&rec.PersonaName, &rec.PersonaType)
	if err != nil {
		return nil, err
	}
	rec.ImprovementSuggestions = unmarshalStrings(suggestions)

	msgs, err := s.listMessages(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.Messages = msgs
	return &rec, nil
}

func (s *Store) listMessages(ctx context.Context, conversationID string) ([]model.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_number, speaker, content, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at ASC, turn_number ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []model.ConversationTurn
	for rows.Next() {
		var turn model.ConversationTurn
		var createdAt string
		if err := rows.Scan(&turn.Turn, &turn.Speaker, &turn.Message, &createdAt); err != nil {
			return nil, err
		}
		turn.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}
