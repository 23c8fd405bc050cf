package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/statement-analyzer/internal/aggregate"
	"github.com/dvloznov/statement-analyzer/internal/domain"
	"github.com/dvloznov/statement-analyzer/internal/scheduler"
)

// Step is a single stage of the analysis pipeline. A step error is fatal to
// the task; chunk-level failures inside a stage are absorbed by the
// scheduler's fallback policy and recorded on the state instead.
type Step interface {
	Execute(ctx context.Context, state *State) error
}

// State is the shared state flowing through the pipeline steps.
type State struct {
	TaskID   string
	Document []byte
	Password string

	Tables       []domain.TableBlock
	Structure    *domain.StructureContext
	Transactions []domain.Transaction
	Categorized  []domain.Transaction

	ExtractionFailures     []scheduler.Failure
	CategorizationFailures []scheduler.Failure
	Skipped                []aggregate.SkippedRow

	Result *domain.AnalysisResult
}

// ExtractTablesStep calls the external table extractor. No tables is a
// structural failure: the pipeline cannot proceed.
type ExtractTablesStep struct {
	runner *Runner
}

func (s *ExtractTablesStep) Execute(ctx context.Context, state *State) error {
	tables, err := s.runner.source.ExtractTables(ctx, state.Document, state.Password)
	if err != nil {
		return fmt.Errorf("extract tables: %w", err)
	}
	hasData := false
	for _, t := range tables {
		if len(t.Rows) > 0 {
			hasData = true
			break
		}
	}
	if len(tables) == 0 || !hasData {
		return fmt.Errorf("no tables found in the provided document")
	}
	state.Tables = tables
	s.runner.bus.Publish(state.TaskID, 40, "Extracted tables from document", map[string]interface{}{
		"tables_extracted": len(tables),
	})
	return nil
}

// AnalyzeStructureStep runs structure analysis through the scheduler as a
// single chunk with no fallback, so it shares the retry policy of every
// other oracle stage. Total failure is fatal.
type AnalyzeStructureStep struct {
	runner *Runner
}

func (s *AnalyzeStructureStep) Execute(ctx context.Context, state *State) error {
	opts := s.runner.stageOptions(len(state.Tables))
	res, err := scheduler.RunChunked(ctx, state.Tables, opts,
		func(ctx context.Context, chunk scheduler.Chunk[domain.TableBlock]) ([]*domain.StructureContext, error) {
			sctx, err := s.runner.oracle.AnalyzeStructure(ctx, chunk.Items)
			if err != nil {
				return nil, err
			}
			return []*domain.StructureContext{sctx}, nil
		}, nil)
	if err != nil {
		return fmt.Errorf("analyze table structure: %w", err)
	}
	state.Structure = res.Items[0]
	s.runner.bus.Publish(state.TaskID, 60, "Analyzed table structure", map[string]interface{}{
		"headers": state.Structure.Headers,
	})
	return nil
}

// ExtractTransactionsStep fans the tables out in chunks against the oracle.
// An exhausted chunk is dropped (its failure is recorded); the stage is
// fatal only if zero transactions survive.
type ExtractTransactionsStep struct {
	runner *Runner
}

func (s *ExtractTransactionsStep) Execute(ctx context.Context, state *State) error {
	opts := s.runner.stageOptions(s.runner.extractionChunkSize(state.Tables))
	res, err := scheduler.RunChunked(ctx, state.Tables, opts,
		func(ctx context.Context, chunk scheduler.Chunk[domain.TableBlock]) ([]domain.Transaction, error) {
			return s.runner.oracle.Extract(ctx, state.Structure, chunk.Items)
		},
		func(chunk scheduler.Chunk[domain.TableBlock]) []domain.Transaction {
			// Drop policy: an exhausted extraction chunk contributes
			// nothing.
			return nil
		})
	if err != nil {
		return fmt.Errorf("extract transactions: %w", err)
	}
	if len(res.Items) == 0 {
		return fmt.Errorf("no transactions were successfully extracted")
	}
	state.Transactions = res.Items
	state.ExtractionFailures = res.Failures
	for _, f := range res.Failures {
		s.runner.log.Warn().
			Str("task_id", state.TaskID).
			Int("chunk", f.Chunk).
			Int("attempts", f.Attempts).
			Str("reason", f.Reason).
			Msg("Extraction chunk dropped")
	}
	s.runner.bus.Publish(state.TaskID, 80, "Extracted transactions", map[string]interface{}{
		"transactions_count": len(res.Items),
	})
	return nil
}

// CategorizeTransactionsStep fans the transactions out in chunks against
// the oracle. An exhausted chunk falls back to the default category for
// every item, so categorization never loses rows.
type CategorizeTransactionsStep struct {
	runner *Runner
}

func (s *CategorizeTransactionsStep) Execute(ctx context.Context, state *State) error {
	opts := s.runner.stageOptions(s.runner.cfg.CategorizationChunkSize)
	res, err := scheduler.RunChunked(ctx, state.Transactions, opts,
		func(ctx context.Context, chunk scheduler.Chunk[domain.Transaction]) ([]domain.Transaction, error) {
			return s.runner.oracle.Categorize(ctx, chunk.Items)
		},
		func(chunk scheduler.Chunk[domain.Transaction]) []domain.Transaction {
			out := make([]domain.Transaction, len(chunk.Items))
			copy(out, chunk.Items)
			for i := range out {
				out[i].Category = domain.DefaultCategory
			}
			return out
		})
	if err != nil {
		return fmt.Errorf("categorize transactions: %w", err)
	}
	state.Categorized = res.Items
	state.CategorizationFailures = res.Failures
	for _, f := range res.Failures {
		s.runner.log.Warn().
			Str("task_id", state.TaskID).
			Int("chunk", f.Chunk).
			Int("attempts", f.Attempts).
			Str("reason", f.Reason).
			Msg("Categorization chunk fell back to default category")
	}
	s.runner.bus.Publish(state.TaskID, 90, "Categorization completed", map[string]interface{}{
		"categorized_count": len(res.Items),
	})
	return nil
}

// AggregateStep computes the monthly breakdown and median summary and
// assembles the final result payload.
type AggregateStep struct {
	runner *Runner
}

func (s *AggregateStep) Execute(ctx context.Context, state *State) error {
	summary, skipped := aggregate.BuildSummary(state.Categorized)
	state.Skipped = skipped
	for _, row := range skipped {
		s.runner.log.Warn().
			Str("task_id", state.TaskID).
			Int("row", row.Index).
			Str("reason", row.Reason).
			Msg("Row excluded from aggregation")
	}
	state.Result = &domain.AnalysisResult{
		Transactions: state.Categorized,
		Summary:      summary,
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially, stopping at the first fatal error.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	for _, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return err
		}
	}
	return nil
}
