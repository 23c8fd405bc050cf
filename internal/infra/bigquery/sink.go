// Package bigquery persists finished analysis runs to BigQuery for
// long-term reporting. Like archival, persistence is optional: the sink
// is only wired when a project is configured, and insert failures are
// logged without failing the task.
package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/dvloznov/statement-analyzer/internal/aggregate"
	"github.com/dvloznov/statement-analyzer/internal/domain"
)

const (
	runsTable         = "analysis_runs"
	transactionsTable = "transactions"
)

// Sink writes analysis results to the analysis_runs and transactions
// tables of the configured dataset.
type Sink struct {
	client  *bigquery.Client
	dataset string
}

// NewSink creates a sink over an existing BigQuery client.
func NewSink(client *bigquery.Client, dataset string) *Sink {
	return &Sink{client: client, dataset: dataset}
}

// NewClient constructs the underlying BigQuery client, using the
// credentials file when one is configured.
func NewClient(ctx context.Context, projectID, credentialsFile string) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	return client, nil
}

// PersistResult inserts one run row and one row per transaction.
func (s *Sink) PersistResult(ctx context.Context, taskID string, result *domain.AnalysisResult) error {
	runID := uuid.NewString()
	now := time.Now()

	runRow := &AnalysisRunRow{
		RunID:            runID,
		TaskID:           taskID,
		StartedTS:        now,
		FinishedTS:       bigquery.NullTimestamp{Timestamp: now, Valid: true},
		TransactionCount: int64(len(result.Transactions)),
		MonthCount:       int64(len(result.Summary.MonthlyBreakdown)),
		MedianIncome:     ratFromFloat(result.Summary.MedianSummary.MedianIncome),
		MedianExpense:    ratFromFloat(result.Summary.MedianSummary.MedianExpense),
		MedianSavings:    ratFromFloat(result.Summary.MedianSummary.MedianSavings),
	}

	if err := s.client.Dataset(s.dataset).Table(runsTable).Inserter().Put(ctx, []*AnalysisRunRow{runRow}); err != nil {
		return fmt.Errorf("insert analysis run %s: %w", runID, err)
	}

	rows := make([]*TransactionRow, 0, len(result.Transactions))
	for _, tx := range result.Transactions {
		rows = append(rows, transactionRow(runID, taskID, tx, now))
	}
	if len(rows) == 0 {
		return nil
	}

	if err := s.client.Dataset(s.dataset).Table(transactionsTable).Inserter().Put(ctx, rows); err != nil {
		return fmt.Errorf("insert transactions for run %s: %w", runID, err)
	}
	return nil
}

// Close releases the underlying BigQuery client.
func (s *Sink) Close() error {
	return s.client.Close()
}

func transactionRow(runID, taskID string, tx domain.Transaction, now time.Time) *TransactionRow {
	row := &TransactionRow{
		TransactionID: uuid.NewString(),
		RunID:         runID,
		TaskID:        taskID,
		RawDate:       tx.Date,
		Description:   tx.Description,
		Debit:         ratFromFloat(tx.Debit),
		Credit:        ratFromFloat(tx.Credit),
		Balance:       ratFromFloat(tx.Balance),
		Category:      tx.Category,
		CreatedTS:     now,
	}
	if parsed, err := aggregate.ParseDate(tx.Date); err == nil {
		row.TransactionDate = civil.DateOf(parsed)
	}
	row.CategoryTop, _, _ = domain.SplitCategory(tx.Category)
	return row
}

func ratFromFloat(v float64) *big.Rat {
	if v == 0 {
		return nil
	}
	r, ok := new(big.Rat).SetString(fmt.Sprintf("%.2f", v))
	if !ok {
		return nil
	}
	return r
}
