package oracle

import (
	"encoding/json"
	"strings"

	"github.com/dvloznov/statement-analyzer/internal/domain"
)

// cleanModelJSON strips markdown fences and surrounding junk the model
// sometimes emits despite instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Extra safety: if there is still junk around the JSON value, keep only
	// the outermost object or array.
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")
	switch {
	case objStart != -1 && (arrStart == -1 || objStart < arrStart):
		if end := strings.LastIndex(s, "}"); end > objStart {
			s = strings.TrimSpace(s[objStart : end+1])
		}
	case arrStart != -1:
		if end := strings.LastIndex(s, "]"); end > arrStart {
			s = strings.TrimSpace(s[arrStart : end+1])
		}
	}

	return s
}

// decodeStructure parses and validates a structure-analysis response.
func decodeStructure(raw string) (*domain.StructureContext, error) {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &parsed); err != nil {
		return nil, invalidShape("structure analysis is not valid JSON: %v", err)
	}

	for _, key := range []string{"available_header", "example_transactions", "column_types"} {
		if _, ok := parsed[key]; !ok {
			return nil, missingField("structure analysis missing %q", key)
		}
	}

	sctx := &domain.StructureContext{ColumnRoles: make(map[string]int)}

	headers, ok := parsed["available_header"].([]interface{})
	if !ok {
		return nil, invalidShape("available_header is %T, want array", parsed["available_header"])
	}
	for _, h := range headers {
		s, ok := h.(string)
		if !ok {
			return nil, invalidShape("header entry is %T, want string", h)
		}
		sctx.Headers = append(sctx.Headers, s)
	}

	rows, ok := parsed["example_transactions"].([]interface{})
	if !ok {
		return nil, invalidShape("example_transactions is %T, want array", parsed["example_transactions"])
	}
	for _, r := range rows {
		cells, ok := r.([]interface{})
		if !ok {
			return nil, invalidShape("example transaction is %T, want array", r)
		}
		row := make([]string, 0, len(cells))
		for _, c := range cells {
			switch v := c.(type) {
			case string:
				row = append(row, v)
			case float64:
				b, _ := json.Marshal(v)
				row = append(row, string(b))
			default:
				return nil, invalidShape("example cell is %T, want string or number", c)
			}
		}
		sctx.ExampleRows = append(sctx.ExampleRows, row)
	}

	roles, ok := parsed["column_types"].(map[string]interface{})
	if !ok {
		return nil, invalidShape("column_types is %T, want object", parsed["column_types"])
	}
	for role, idx := range roles {
		n, ok := idx.(float64)
		if !ok {
			return nil, invalidShape("column_types[%q] is %T, want number", role, idx)
		}
		// Tolerate the verbose "date_column" style key the model may emit.
		sctx.ColumnRoles[strings.TrimSuffix(role, "_column")] = int(n)
	}

	if err := sctx.Validate(); err != nil {
		return nil, missingField("%v", err)
	}
	return sctx, nil
}

// decodeTransactions parses a transactions response. The payload may be a
// bare array or wrapped under "transactions". When requireCategory is set,
// every record must carry a valid category from the closed taxonomy.
func decodeTransactions(raw string, requireCategory bool) ([]domain.Transaction, error) {
	var parsed interface{}
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &parsed); err != nil {
		return nil, invalidShape("transactions payload is not valid JSON: %v", err)
	}

	var records []interface{}
	switch v := parsed.(type) {
	case []interface{}:
		records = v
	case map[string]interface{}:
		inner, ok := v["transactions"]
		if !ok {
			return nil, missingField("payload object has no \"transactions\" key")
		}
		records, ok = inner.([]interface{})
		if !ok {
			return nil, invalidShape("\"transactions\" is %T, want array", inner)
		}
	default:
		return nil, invalidShape("payload is %T, want array or object", parsed)
	}

	txs := make([]domain.Transaction, 0, len(records))
	for i, rec := range records {
		obj, ok := rec.(map[string]interface{})
		if !ok {
			return nil, invalidShape("record %d is %T, want object", i, rec)
		}

		date, err := stringField(obj, i, "date")
		if err != nil {
			return nil, err
		}
		desc, err := stringField(obj, i, "description")
		if err != nil {
			return nil, err
		}
		debit, err := numberField(obj, i, "debit")
		if err != nil {
			return nil, err
		}
		credit, err := numberField(obj, i, "credit")
		if err != nil {
			return nil, err
		}
		balance, err := numberField(obj, i, "balance")
		if err != nil {
			return nil, err
		}

		tx := domain.Transaction{
			Date:        date,
			Description: desc,
			Debit:       debit,
			Credit:      credit,
			Balance:     balance,
		}

		if requireCategory {
			cat, err := stringField(obj, i, "category")
			if err != nil {
				return nil, err
			}
			if err := domain.ValidateCategory(cat); err != nil {
				return nil, invalidCategory("record %d: %v", i, err)
			}
			tx.Category = cat
		}

		txs = append(txs, tx)
	}
	return txs, nil
}

func stringField(obj map[string]interface{}, i int, key string) (string, error) {
	v, ok := obj[key]
	if !ok {
		return "", missingField("record %d missing %q", i, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidShape("record %d field %q is %T, want string", i, key, v)
	}
	return s, nil
}

func numberField(obj map[string]interface{}, i int, key string) (float64, error) {
	v, ok := obj[key]
	if !ok {
		return 0, missingField("record %d missing %q", i, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		// Models occasionally emit amounts as strings with separators.
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		if s == "" {
			return 0, nil
		}
		var f float64
		if err := json.Unmarshal([]byte(s), &f); err != nil {
			return 0, invalidShape("record %d field %q is non-numeric string %q", i, key, n)
		}
		return f, nil
	default:
		return 0, invalidShape("record %d field %q is %T, want number", i, key, v)
	}
}
