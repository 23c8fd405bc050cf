package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"google.golang.org/genai"

	"github.com/dvloznov/statement-analyzer/internal/domain"
)

const tableExtractionPrompt = `You are a document table extractor for bank statements.

Task:
- Find ALL tables in the attached PDF statement.
- Output STRICT JSON only (no comments, no trailing commas, no extra text).
- Output a JSON object keyed by table number starting at "1", in reading order.
- Each value is an array of rows; each row is an array of cell strings.
- Include header rows. Keep cell text exactly as printed.

Return ONLY valid raw JSON.
Do NOT wrap the response in code fences.
Output must begin with "{" and end with "}".`

// ExtractTables sends the statement document to the model and decodes the
// tables it finds. The password is carried for parity with other table
// sources but not used: encrypted documents must be decrypted upstream.
// This makes Client usable as the pipeline's table source as well.
func (c *Client) ExtractTables(ctx context.Context, document []byte, password string) ([]domain.TableBlock, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: tableExtractionPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: "application/pdf",
						Data:     document,
					},
				},
			},
		},
	}

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("ExtractTables: generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, invalidShape("empty response from model")
	}

	return decodeTableMap(cleanModelJSON(raw))
}

// decodeTableMap parses the {"1": [[cells...]], ...} table shape into
// ordered blocks.
func decodeTableMap(clean string) ([]domain.TableBlock, error) {
	var rawTables map[string][][]string
	if err := json.Unmarshal([]byte(clean), &rawTables); err != nil {
		return nil, invalidShape("decode tables: %v", err)
	}

	keys := make([]int, 0, len(rawTables))
	for k := range rawTables {
		n, err := strconv.Atoi(k)
		if err != nil || n < 1 {
			return nil, invalidShape("table key %q is not a positive integer", k)
		}
		keys = append(keys, n)
	}
	sort.Ints(keys)

	tables := make([]domain.TableBlock, 0, len(keys))
	for _, k := range keys {
		tables = append(tables, domain.TableBlock{
			Index: k,
			Rows:  rawTables[strconv.Itoa(k)],
		})
	}
	return tables, nil
}
