package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

type AnalysisRunRow struct {
	RunID  string `bigquery:"run_id"`  // REQUIRED
	TaskID string `bigquery:"task_id"` // REQUIRED

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	TransactionCount int64 `bigquery:"transaction_count"` // REQUIRED
	MonthCount       int64 `bigquery:"month_count"`       // REQUIRED

	MedianIncome  *big.Rat `bigquery:"median_income"`  // NULLABLE NUMERIC
	MedianExpense *big.Rat `bigquery:"median_expense"` // NULLABLE NUMERIC
	MedianSavings *big.Rat `bigquery:"median_savings"` // NULLABLE NUMERIC
}

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	RunID         string `bigquery:"run_id"`         // REQUIRED
	TaskID        string `bigquery:"task_id"`        // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED
	RawDate         string     `bigquery:"raw_date"`         // REQUIRED

	Description string `bigquery:"description"` // REQUIRED

	Debit   *big.Rat `bigquery:"debit"`   // NULLABLE NUMERIC
	Credit  *big.Rat `bigquery:"credit"`  // NULLABLE NUMERIC
	Balance *big.Rat `bigquery:"balance"` // NULLABLE NUMERIC

	Category    string `bigquery:"category"`     // REQUIRED
	CategoryTop string `bigquery:"category_top"` // REQUIRED

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}
