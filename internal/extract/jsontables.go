// Package extract provides table sources for the pipeline. The production
// table extractor (a Textract-style document service) is an external
// collaborator; this package carries the JSON-backed source used by the CLI
// and tests, which consumes the same table-index-keyed shape that service
// produces.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/dvloznov/statement-analyzer/internal/domain"
)

// JSONTableSource decodes pre-extracted tables from a JSON document of the
// form {"1": [["cell", ...], ...], "2": ...}, with positive integer table
// keys. Table order in the output follows the numeric key order.
type JSONTableSource struct{}

// NewJSONTableSource creates a JSON-backed table source.
func NewJSONTableSource() *JSONTableSource {
	return &JSONTableSource{}
}

// ExtractTables implements the pipeline table-source boundary. The password
// is ignored: the JSON input is already decrypted and delimited.
func (s *JSONTableSource) ExtractTables(ctx context.Context, document []byte, password string) ([]domain.TableBlock, error) {
	var raw map[string][][]string
	if err := json.Unmarshal(document, &raw); err != nil {
		return nil, fmt.Errorf("decode tables JSON: %w", err)
	}

	keys := make([]int, 0, len(raw))
	for k := range raw {
		n, err := strconv.Atoi(k)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid table key %q: want positive integer", k)
		}
		keys = append(keys, n)
	}
	sort.Ints(keys)

	tables := make([]domain.TableBlock, 0, len(keys))
	for _, k := range keys {
		tables = append(tables, domain.TableBlock{
			Index: k,
			Rows:  raw[strconv.Itoa(k)],
		})
	}
	return tables, nil
}
