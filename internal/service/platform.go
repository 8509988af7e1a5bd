package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/voicelab-ai/testbench/internal/config"
	"github.com/voicelab-ai/testbench/internal/llm"
	"github.com/voicelab-ai/testbench/internal/model"
	"github.com/voicelab-ai/testbench/internal/store"
	"github.com/voicelab-ai/testbench/pkg/logger"
	"github.com/voicelab-ai/testbench/pkg/metrics"
)

// Platform orchestrates the full testing cycle: persona generation,
// per-iteration simulation and analysis, self-correction, and persistence.
// All per-run state lives in locals, so one Platform serves concurrent runs.
type Platform struct {
	cfg       config.Testing
	client    llm.Client
	store     *store.Store
	generator *PersonaGenerator
	analyzer  *MetricsAnalyzer
	corrector *CorrectionEngine
	logger    *logger.Logger
	tracer    trace.Tracer
}

// NewPlatform creates a testing platform.
func NewPlatform(cfg config.Testing, client llm.Client, st *store.Store, log *logger.Logger) *Platform {
	return &Platform{
		cfg:       cfg,
		client:    client,
		store:     st,
		generator: NewPersonaGenerator(cfg, client, log),
		analyzer:  NewMetricsAnalyzer(cfg, client, log),
		corrector: NewCorrectionEngine(cfg, client, log),
		logger:    log,
		tracer:    otel.Tracer("testbench/platform"),
	}
}

// Run executes a full testing cycle and returns the final report. Progress
// is streamed through notify in causal order; a nil notify is valid.
// Persistence failures are fatal for the run; generation failures are
// recovered inside the components with fallbacks and never abort a run.
func (p *Platform) Run(ctx context.Context, initialScript string, numPersonas int, notify model.ProgressFunc) (*model.FinalReport, error) {
	report, err := p.run(ctx, initialScript, numPersonas, notify)
	if err != nil {
		notify.Notify(model.Progress{
			Stage:   model.StageError,
			Message: err.Error(),
		})
		metrics.TestRunsTotal.WithLabelValues(string(model.SessionTypeText), "error").Inc()
		return nil, err
	}
	return report, nil
}

func (p *Platform) run(ctx context.Context, initialScript string, numPersonas int, notify model.ProgressFunc) (*model.FinalReport, error) {
	ctx, span := p.tracer.Start(ctx, "test_run",
		trace.WithAttributes(attribute.Int("num_personas", numPersonas)))
	defer span.End()

	script := initialScript
	if script == "" {
		script = p.cfg.BaseBotScript
	}

	session, err := p.store.CreateSession(ctx, model.SessionTypeText, numPersonas, script)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log := p.logger.WithSession(session.ID)
	span.SetAttributes(attribute.String("session_id", session.ID))

	notify.Notify(model.Progress{
		Stage:     model.StageInit,
		SessionID: session.ID,
		Message:   fmt.Sprintf("Starting testing cycle with %d personas", numPersonas),
		Data:      map[string]string{"session_id": session.ID},
	})

	notify.Notify(model.Progress{
		Stage:     model.StagePersonas,
		SessionID: session.ID,
		Message:   "Generating test personas...",
	})

	// Personas are generated exactly once and reused unmodified every
	// iteration; only the script changes between rounds.
	var personas []*model.Persona
	if numPersonas > 0 {
		personas = p.generator.GenerateMany(ctx, numPersonas)
	} else {
		personas = p.generator.GenerateAll(ctx)
	}

	batch := make([]model.Persona, len(personas))
	for i, persona := range personas {
		batch[i] = *persona
	}
	saved, err := p.store.SavePersonas(ctx, session.ID, batch)
	if err != nil {
		return nil, fmt.Errorf("save personas: %w", err)
	}

	notify.Notify(model.Progress{
		Stage:     model.StagePersonas,
		SessionID: session.ID,
		Message:   fmt.Sprintf("Generated %d personas", len(personas)),
		Data:      map[string]any{"personas": personas},
	})

	var iterations []model.IterationResult

	for iteration := 1; iteration <= p.cfg.MaxIterations; iteration++ {
		notify.Notify(model.Progress{
			Stage:     model.StageIteration,
			SessionID: session.ID,
			Iteration: iteration,
			Message:   fmt.Sprintf("Starting iteration %d/%d", iteration, p.cfg.MaxIterations),
		})

		result, err := p.runIteration(ctx, session.ID, script, personas, saved, iteration, notify)
		if err != nil {
			return nil, err
		}
		iterations = append(iterations, *result)

		metrics.IterationsTotal.Inc()
		metrics.IterationScore.Observe(result.AverageScore)

		notify.Notify(model.Progress{
			Stage:     model.StageIterationComplete,
			SessionID: session.ID,
			Iteration: iteration,
			Message:   fmt.Sprintf("Iteration %d complete. Score: %.2f/100", iteration, result.AverageScore),
			Data:      map[string]any{"iteration_result": result},
		})

		if result.AverageScore >= p.cfg.ThresholdScore {
			notify.Notify(model.Progress{
				Stage:     model.StageSuccess,
				SessionID: session.ID,
				Iteration: iteration,
				Message:   fmt.Sprintf("Threshold reached! Final score: %.2f/100", result.AverageScore),
			})
			break
		}

		if iteration == p.cfg.MaxIterations {
			notify.Notify(model.Progress{
				Stage:     model.StageMaxIterations,
				SessionID: session.ID,
				Iteration: iteration,
				Message:   fmt.Sprintf("Reached max iterations (%d). Final score: %.2f/100", p.cfg.MaxIterations, result.AverageScore),
			})
			break
		}

		notify.Notify(model.Progress{
			Stage:     model.StageSelfCorrection,
			SessionID: session.ID,
			Iteration: iteration,
			Message:   "Improving script based on test results...",
		})

		// Always adopt the revision; there is no best-script-so-far guard.
		script = p.corrector.Improve(ctx, script, result.TestResults, iteration)

		notify.Notify(model.Progress{
			Stage:     model.StageSelfCorrectionComplete,
			SessionID: session.ID,
			Iteration: iteration,
			Message:   "Script improved",
			Data:      map[string]string{"improved_script": script},
		})
	}

	report := buildReport(session.ID, iterations, p.cfg.ThresholdScore)

	if err := p.store.UpdateSessionResults(ctx, session.ID, report.FinalScore,
		report.Improvement, script, report.TotalIterations, report.ThresholdReached,
		report.InitialScore); err != nil {
		return nil, fmt.Errorf("finalize session: %w", err)
	}

	outcome := "exhausted"
	if report.ThresholdReached {
		outcome = "success"
	}
	metrics.TestRunsTotal.WithLabelValues(string(model.SessionTypeText), outcome).Inc()

	log.Info("testing cycle complete",
		zap.Int("total_iterations", report.TotalIterations),
		zap.Float64("final_score", report.FinalScore),
		zap.Float64("improvement", report.Improvement),
		zap.Bool("threshold_reached", report.ThresholdReached),
	)

	notify.Notify(model.Progress{
		Stage:     model.StageComplete,
		SessionID: session.ID,
		Message:   "Testing cycle complete",
		Data:      map[string]any{"final_report": report},
	})

	return report, nil
}

// runIteration tests every persona against one script version, strictly
// sequentially, then persists the round. The average is computed only after
// all personas complete.
func (p *Platform) runIteration(ctx context.Context, sessionID, script string, personas []*model.Persona, saved []model.PersonaRecord, iteration int, notify model.ProgressFunc) (*model.IterationResult, error) {
	ctx, span := p.tracer.Start(ctx, "iteration",
		trace.WithAttributes(attribute.Int("iteration", iteration)))
	defer span.End()

	simulator := NewConversationSimulator(p.cfg, p.client, script, p.logger)

	testResults := make([]model.AnalysisResult, 0, len(personas))
	conversations := make([][]model.ConversationTurn, 0, len(personas))

	for i, persona := range personas {
		notify.Notify(model.Progress{
			Stage:      model.StageTest,
			SessionID:  sessionID,
			Iteration:  iteration,
			Test:       i + 1,
			TotalTests: len(personas),
			Message:    fmt.Sprintf("Testing with %s (%s)", persona.Name, persona.PersonaType),
			Data:       map[string]any{"persona": persona},
		})

		conversation := simulator.Simulate(ctx, persona)

		notify.Notify(model.Progress{
			Stage:      model.StageTestConversation,
			SessionID:  sessionID,
			Iteration:  iteration,
			Test:       i + 1,
			TotalTests: len(personas),
			Message:    fmt.Sprintf("Conversation complete with %s", persona.Name),
			Data:       map[string]any{"conversation": conversation},
		})

		analysis := p.analyzer.Analyze(ctx, conversation, persona)

		notify.Notify(model.Progress{
			Stage:      model.StageTestAnalysis,
			SessionID:  sessionID,
			Iteration:  iteration,
			Test:       i + 1,
			TotalTests: len(personas),
			Message:    fmt.Sprintf("Analysis complete. Score: %.2f/100", analysis.OverallScore),
			Data:       map[string]any{"analysis": analysis},
		})

		testResults = append(testResults, *analysis)
		conversations = append(conversations, conversation)
	}

	var sumOverall, sumNegotiation, sumRelevance float64
	for _, r := range testResults {
		sumOverall += r.OverallScore
		sumNegotiation += r.Metrics.NegotiationEffectiveness.Score
		sumRelevance += r.Metrics.ResponseRelevance.Score
	}
	n := float64(len(testResults))
	avgScore := sumOverall / n

	record, err := p.store.CreateIteration(ctx, sessionID, iteration, script,
		avgScore, sumNegotiation/n, sumRelevance/n)
	if err != nil {
		return nil, fmt.Errorf("save iteration %d: %w", iteration, err)
	}

	for i := range personas {
		if _, err := p.store.SaveConversation(ctx, sessionID, record.ID, saved[i].ID,
			conversations[i], &testResults[i]); err != nil {
			return nil, fmt.Errorf("save conversation: %w", err)
		}
	}

	return &model.IterationResult{
		Iteration:    iteration,
		Script:       script,
		TestResults:  testResults,
		AverageScore: avgScore,
		NumTests:     len(testResults),
	}, nil
}

func buildReport(sessionID string, iterations []model.IterationResult, threshold float64) *model.FinalReport {
	report := &model.FinalReport{
		SessionID:       sessionID,
		Timestamp:       time.Now().UTC(),
		TotalIterations: len(iterations),
		ThresholdScore:  threshold,
	}

	for _, iter := range iterations {
		report.Iterations = append(report.Iterations, model.IterationSummary{
			Iteration:    iter.Iteration,
			AverageScore: iter.AverageScore,
			NumTests:     iter.NumTests,
		})
	}

	if len(iterations) > 0 {
		first := iterations[0]
		last := iterations[len(iterations)-1]
		report.InitialScore = first.AverageScore
		report.FinalScore = last.AverageScore
		report.Improvement = last.AverageScore - first.AverageScore
		report.ThresholdReached = last.AverageScore >= threshold
	}

	return report
}
