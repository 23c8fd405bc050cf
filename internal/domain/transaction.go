package domain

// TableBlock is one table extracted from a statement document: ordered rows
// of text cells. Index is the table's position within the document and is
// monotonically increasing. Blocks are immutable once produced by the
// extractor.
type TableBlock struct {
	Index int        `json:"index"`
	Rows  [][]string `json:"rows"`
}

// Transaction represents one statement row produced by the oracle.
// Date stays in the source format until aggregation normalizes it.
// Category is empty before categorization; after categorization it matches
// the closed taxonomy (see categories.go). Exactly one of Debit/Credit is
// usually non-zero, but both may legitimately be zero for non-monetary rows.
type Transaction struct {
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Debit       float64 `json:"debit"`
	Credit      float64 `json:"credit"`
	Balance     float64 `json:"balance"`
	Category    string  `json:"category,omitempty"`
}
