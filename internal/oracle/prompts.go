package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-analyzer/internal/domain"
)

// FormatTables renders table blocks into the prompt text form the oracle is
// instructed against: a "Table N" heading followed by one "[a | b | c]"
// line per row.
func FormatTables(tables []domain.TableBlock) string {
	var b strings.Builder
	for _, table := range tables {
		fmt.Fprintf(&b, "\n Table %d\n", table.Index)
		for _, row := range table.Rows {
			b.WriteString("[" + strings.Join(row, " | ") + "]\n")
		}
	}
	return b.String()
}

func buildAnalysisPrompt(tableText string) string {
	return "The following text contains extracted tables from a bank statement.\n\n" +
		"Your task is to dynamically extract the headers from the tables and identify the first 5 transactions.\n" +
		"Align each transaction with the correct header columns.\n\n" +
		"Return STRICT JSON only, in this exact format:\n" +
		"{\n" +
		"  \"available_header\": [\"column1\", \"column2\", ...],\n" +
		"  \"example_transactions\": [[\"value1\", \"value2\", ...], ...],\n" +
		"  \"column_types\": {\"date\": index, \"description\": index, \"debit\": index, \"credit\": index, \"balance\": index}\n" +
		"}\n\n" +
		"All five column_types keys are required. Do not wrap the response in code fences.\n\n" +
		"### Here are the tables:\n" + tableText
}

func buildExtractionPrompt(sctx *domain.StructureContext, tableText string) string {
	headers, _ := json.Marshal(sctx.Headers)
	example := []byte("[]")
	if len(sctx.ExampleRows) > 0 {
		example, _ = json.MarshalIndent(sctx.ExampleRows[0], "", "  ")
	}
	roles, _ := json.MarshalIndent(sctx.ColumnRoles, "", "  ")

	return "The following text contains extracted tables from a bank statement.\n\n" +
		"Based on the analyzed tables, here is the transaction format:\n" +
		"1. Headers: " + string(headers) + "\n" +
		"2. Example Transaction:\n" + string(example) + "\n" +
		"3. Column Mapping:\n" + string(roles) + "\n\n" +
		"Extract every row corresponding to a financial transaction. Each transaction must have:\n" +
		"- \"date\": keep the date in the original format as shown\n" +
		"- \"description\": the exact description as it appears\n" +
		"- \"debit\": amount from the debit column (0.0 if not applicable)\n" +
		"- \"credit\": amount from the credit column (0.0 if not applicable)\n" +
		"- \"balance\": the balance after the transaction\n\n" +
		"Skip header rows, summary rows and non-transactional tables (return an empty array for those).\n\n" +
		"Return a JSON object in this EXACT format, with no code fences:\n" +
		"{\"transactions\": [{\"date\": \"DD-MM-YYYY\", \"description\": \"...\", \"debit\": 0.0, \"credit\": 100.0, \"balance\": 1000.0}, ...]}\n\n" +
		"### Tables to process:\n" + tableText
}

func buildCategorizationPrompt(txs []domain.Transaction) string {
	var cats strings.Builder
	for _, c := range domain.AllCategories() {
		cats.WriteString("- " + c + "\n")
	}
	payload, _ := json.MarshalIndent(txs, "", "  ")

	return "You are a financial transaction analyzer. Categorize each transaction into a valid category based on its details.\n\n" +
		"### Valid Categories (case-sensitive, use exactly as written):\n" + cats.String() + "\n" +
		"Rules:\n" +
		"1. Use the description, amount and transaction type (credit or debit) to assign a category.\n" +
		"2. Recurring large credits early each month usually indicate income.salary.\n" +
		"3. For transfers between own accounts or to other people, use a transfer category.\n" +
		"4. Do not invent new category names.\n\n" +
		"Return a JSON object, no code fences:\n" +
		"{\"transactions\": [{\"date\": \"...\", \"description\": \"...\", \"debit\": 0.0, \"credit\": 0.0, \"balance\": 0.0, \"category\": \"type.subcategory\"}, ...]}\n\n" +
		"Here are the transactions to categorize:\n" + string(payload)
}
