// Package aggregate turns a categorized transaction list into deterministic
// monthly summaries and cross-month median statistics. It is pure: no I/O,
// no retries; the only failure mode is malformed input rows, which are
// skipped and reported rather than escalated.
package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-analyzer/internal/domain"
)

// SkippedRow reports one transaction excluded from aggregation.
type SkippedRow struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// monthAccum accumulates raw (unrounded) sums for one month. Rounding
// happens once, when the summary structs are built.
type monthAccum struct {
	income       float64
	expense      float64
	incomeBySub  map[string]float64
	expenseBySub map[string]float64
}

// MonthlyBreakdown groups transactions by the calendar month of their date
// and sums credits into income and debits into expense per category type,
// with per-subcategory breakdowns. Output is sorted ascending by month.
// Rows with unparseable dates or categories outside the taxonomy are
// excluded and reported.
func MonthlyBreakdown(txs []domain.Transaction) ([]domain.MonthlySummary, []SkippedRow) {
	months := make(map[string]*monthAccum)
	var skipped []SkippedRow

	for i, tx := range txs {
		date, err := ParseDate(tx.Date)
		if err != nil {
			skipped = append(skipped, SkippedRow{Index: i, Reason: err.Error()})
			continue
		}
		typ, sub, err := domain.SplitCategory(tx.Category)
		if err != nil {
			skipped = append(skipped, SkippedRow{Index: i, Reason: err.Error()})
			continue
		}

		key := MonthKey(date)
		acc, ok := months[key]
		if !ok {
			acc = &monthAccum{
				incomeBySub:  make(map[string]float64),
				expenseBySub: make(map[string]float64),
			}
			months[key] = acc
		}

		// Transfers count toward neither income nor expense. Debit and
		// credit are summed independently; both may be zero.
		switch typ {
		case domain.CategoryIncome:
			acc.income += tx.Credit
			acc.incomeBySub[sub] += tx.Credit
		case domain.CategoryExpense:
			acc.expense += tx.Debit
			acc.expenseBySub[sub] += tx.Debit
		}
	}

	keys := make([]string, 0, len(months))
	for key := range months {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	breakdown := make([]domain.MonthlySummary, 0, len(keys))
	for _, key := range keys {
		acc := months[key]
		breakdown = append(breakdown, domain.MonthlySummary{
			Month:            key,
			Income:           round2(acc.income),
			Expense:          round2(acc.expense),
			Savings:          round2(acc.income - acc.expense),
			IncomeBreakdown:  roundPositive(acc.incomeBySub),
			ExpenseBreakdown: roundPositive(acc.expenseBySub),
		})
	}
	return breakdown, skipped
}

// ComputeMedianSummary computes medians of income, expense and savings
// across months, and per-subcategory medians restricted to the months where
// the subcategory appears with a positive amount. An empty breakdown yields
// zeros and empty maps, never an error.
func ComputeMedianSummary(breakdown []domain.MonthlySummary) domain.MedianSummary {
	incomes := make([]float64, 0, len(breakdown))
	expenses := make([]float64, 0, len(breakdown))
	savings := make([]float64, 0, len(breakdown))
	incomeSeries := make(map[string][]float64)
	expenseSeries := make(map[string][]float64)

	for _, month := range breakdown {
		incomes = append(incomes, month.Income)
		expenses = append(expenses, month.Expense)
		savings = append(savings, month.Savings)
		for sub, amount := range month.IncomeBreakdown {
			incomeSeries[sub] = append(incomeSeries[sub], amount)
		}
		for sub, amount := range month.ExpenseBreakdown {
			expenseSeries[sub] = append(expenseSeries[sub], amount)
		}
	}

	return domain.MedianSummary{
		MedianIncome:           round2(median(incomes)),
		MedianExpense:          round2(median(expenses)),
		MedianSavings:          round2(median(savings)),
		MedianIncomeBreakdown:  medianBySub(incomeSeries),
		MedianExpenseBreakdown: medianBySub(expenseSeries),
	}
}

// BuildSummary is the whole aggregation stage: monthly breakdown plus
// median summary.
func BuildSummary(txs []domain.Transaction) (domain.Summary, []SkippedRow) {
	breakdown, skipped := MonthlyBreakdown(txs)
	if breakdown == nil {
		breakdown = []domain.MonthlySummary{}
	}
	return domain.Summary{
		MonthlyBreakdown: breakdown,
		MedianSummary:    ComputeMedianSummary(breakdown),
	}, skipped
}

// median uses the standard definition: mean of the two middle values for
// even counts, zero for an empty series.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func medianBySub(series map[string][]float64) map[string]float64 {
	out := make(map[string]float64, len(series))
	for sub, values := range series {
		out[sub] = round2(median(values))
	}
	return out
}

// roundPositive rounds a breakdown map, keeping only strictly positive
// sums.
func roundPositive(sums map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(sums))
	for sub, amount := range sums {
		if amount > 0 {
			out[sub] = round2(amount)
		}
	}
	return out
}

// round2 rounds half-up to 2 decimal places. Rounding is applied only at
// presentation boundaries; intermediate sums stay unrounded.
func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
