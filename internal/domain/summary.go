package domain

// MonthlySummary aggregates one calendar month of categorized transactions.
// Breakdown maps contain only subcategories with a strictly positive summed
// amount. All monetary values are rounded to 2 decimal places.
type MonthlySummary struct {
	Month            string             `json:"month"`
	Income           float64            `json:"income"`
	Expense          float64            `json:"expense"`
	Savings          float64            `json:"savings"`
	IncomeBreakdown  map[string]float64 `json:"income_breakdown"`
	ExpenseBreakdown map[string]float64 `json:"expense_breakdown"`
}

// MedianSummary holds median statistics computed across all monthly
// summaries of a task. Per-subcategory medians are restricted to the months
// where the subcategory appears with a positive amount.
type MedianSummary struct {
	MedianIncome           float64            `json:"median_income"`
	MedianExpense          float64            `json:"median_expense"`
	MedianSavings          float64            `json:"median_savings"`
	MedianIncomeBreakdown  map[string]float64 `json:"median_income_breakdown"`
	MedianExpenseBreakdown map[string]float64 `json:"median_expense_breakdown"`
}

// Summary is the aggregate section of the final result payload.
type Summary struct {
	MonthlyBreakdown []MonthlySummary `json:"monthly_breakdown"`
	MedianSummary    MedianSummary    `json:"median_summary"`
}

// AnalysisResult is the durable result payload of a completed task.
// Field names are part of the wire contract.
type AnalysisResult struct {
	Transactions []Transaction `json:"transactions"`
	Summary      Summary       `json:"summary"`
}
