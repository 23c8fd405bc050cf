package pipeline

import (
	"context"

	"github.com/dvloznov/statement-analyzer/internal/domain"
)

// Oracle is the external classification/extraction capability. It is
// unreliable, rate-limited and non-deterministic in failure mode; the
// pipeline owns all retry and fallback policy around it.
type Oracle interface {
	// AnalyzeStructure returns the header layout and column roles of the
	// given tables.
	AnalyzeStructure(ctx context.Context, tables []domain.TableBlock) (*domain.StructureContext, error)

	// Extract returns the transaction rows of the given tables, guided by
	// the structure context.
	Extract(ctx context.Context, sctx *domain.StructureContext, tables []domain.TableBlock) ([]domain.Transaction, error)

	// Categorize returns the transactions with their category populated.
	Categorize(ctx context.Context, txs []domain.Transaction) ([]domain.Transaction, error)
}

// TableSource is the external document-table-extraction collaborator: it
// converts raw document bytes into ordered table blocks of opaque text
// cells. The password unlocks protected documents where the implementation
// supports it.
type TableSource interface {
	ExtractTables(ctx context.Context, document []byte, password string) ([]domain.TableBlock, error)
}

// ResultSink receives the final payload of a completed task. Sinks are
// best-effort: a sink error is logged, not escalated, and never un-completes
// a task.
type ResultSink interface {
	PersistResult(ctx context.Context, taskID string, result *domain.AnalysisResult) error
}
