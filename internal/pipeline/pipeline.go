// Package pipeline sequences the statement-analysis stages: table
// extraction, oracle structure analysis, chunked transaction extraction,
// chunked categorization and aggregation. It publishes progress at every
// stage boundary and persists final state through the task store.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/domain"
	"github.com/dvloznov/statement-analyzer/internal/progress"
	"github.com/dvloznov/statement-analyzer/internal/scheduler"
	"github.com/dvloznov/statement-analyzer/internal/tasks"
)

// Config carries the tunable knobs of a run. An ExtractionChunkSize of 0
// selects a dynamic size from the table count and average table length.
type Config struct {
	ExtractionChunkSize     int
	CategorizationChunkSize int
	MaxRetries              int
	MaxParallel             int
	StageTimeout            time.Duration
}

// DefaultConfig mirrors the historical constants: 2 tables per extraction
// chunk, 40 transactions per categorization chunk, 3 attempts per chunk.
func DefaultConfig() Config {
	return Config{
		ExtractionChunkSize:     2,
		CategorizationChunkSize: 40,
		MaxRetries:              2,
		MaxParallel:             8,
	}
}

// Runner drives one task at a time through the pipeline. All collaborators
// are injected at construction; the runner holds no per-task state.
type Runner struct {
	oracle Oracle
	source TableSource
	store  *tasks.Store
	bus    *progress.Bus
	sinks  []ResultSink
	cfg    Config
	log    zerolog.Logger
}

// NewRunner creates a pipeline runner.
func NewRunner(oracle Oracle, source TableSource, store *tasks.Store, bus *progress.Bus, cfg Config, log zerolog.Logger, sinks ...ResultSink) *Runner {
	return &Runner{
		oracle: oracle,
		source: source,
		store:  store,
		bus:    bus,
		sinks:  sinks,
		cfg:    cfg,
		log:    log,
	}
}

// Process runs the full pipeline for one submitted statement. The task must
// already exist in the store. On success the task is marked done with the
// full result payload; any fatal stage error marks it failed. Both paths
// end the progress stream with a terminal event at progress 100, and the
// returned error reports the fatal cause for the caller's logs.
func (r *Runner) Process(ctx context.Context, taskID string, document []byte, password string) (*domain.AnalysisResult, error) {
	log := r.log.With().Str("task_id", taskID).Logger()

	state := &State{
		TaskID:   taskID,
		Document: document,
		Password: password,
	}

	r.bus.Init(taskID)
	if err := r.store.SetStatus(taskID, tasks.StatusInProgress, "Starting analysis..."); err != nil {
		r.bus.Publish(taskID, progress.TerminalProgress, "Processing failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("pipeline: mark in progress: %w", err)
	}
	r.bus.Publish(taskID, 10, "Started statement processing...", nil)

	pipe := NewPipeline(
		&ExtractTablesStep{runner: r},
		&AnalyzeStructureStep{runner: r},
		&ExtractTransactionsStep{runner: r},
		&CategorizeTransactionsStep{runner: r},
		&AggregateStep{runner: r},
	)

	if err := pipe.Execute(ctx, state); err != nil {
		log.Error().Err(err).Msg("Pipeline failed")
		if serr := r.store.Fail(taskID, err.Error()); serr != nil {
			log.Error().Err(serr).Msg("Failed to record task failure")
		}
		r.bus.Publish(taskID, progress.TerminalProgress, "Processing failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	message := fmt.Sprintf("Successfully analyzed %d transactions", len(state.Result.Transactions))
	if err := r.store.Complete(taskID, message, state.Result); err != nil {
		log.Error().Err(err).Msg("Failed to persist task result")
		r.bus.Publish(taskID, progress.TerminalProgress, "Processing failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("pipeline: persist result: %w", err)
	}
	r.bus.Publish(taskID, progress.TerminalProgress, "Completed all processing", state.Result)

	for _, sink := range r.sinks {
		if err := sink.PersistResult(ctx, taskID, state.Result); err != nil {
			log.Error().Err(err).Msg("Result sink failed")
		}
	}

	log.Info().
		Int("transactions", len(state.Result.Transactions)).
		Int("months", len(state.Result.Summary.MonthlyBreakdown)).
		Int("skipped_rows", len(state.Skipped)).
		Msg("Pipeline completed")

	return state.Result, nil
}

// stageOptions builds scheduler options for a chunked stage.
func (r *Runner) stageOptions(chunkSize int) scheduler.Options {
	return scheduler.Options{
		ChunkSize:    chunkSize,
		MaxRetries:   r.cfg.MaxRetries,
		MaxParallel:  r.cfg.MaxParallel,
		StageTimeout: r.cfg.StageTimeout,
	}
}

// extractionChunkSize resolves the configured or dynamic chunk size for the
// extraction stage.
func (r *Runner) extractionChunkSize(tables []domain.TableBlock) int {
	if r.cfg.ExtractionChunkSize > 0 {
		return r.cfg.ExtractionChunkSize
	}
	totalRows := 0
	for _, t := range tables {
		totalRows += len(t.Rows)
	}
	avg := 0
	if len(tables) > 0 {
		avg = totalRows / len(tables)
	}
	return scheduler.DynamicChunkSize(len(tables), avg)
}
