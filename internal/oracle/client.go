// Package oracle is a typed, stateless client for the external
// classification/extraction capability. It translates typed requests into
// model prompts and validates responses at the boundary, surfacing contract
// violations as *SchemaError. It never retries; retry, backoff and fallback
// policy belong to the caller.
package oracle

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/dvloznov/statement-analyzer/internal/domain"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

// Client wraps a genai client and a model name. The genai client is
// constructed once at startup and injected; Client itself holds no other
// state.
type Client struct {
	genai *genai.Client
	model string
}

// NewClient creates an oracle client over an existing genai client.
func NewClient(g *genai.Client, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{genai: g, model: model}
}

// NewGenAIClient constructs the underlying genai client from ambient
// credentials (GEMINI_API_KEY or application default credentials).
func NewGenAIClient(ctx context.Context) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// AnalyzeStructure asks the oracle for the header layout, example rows and
// column-role mapping of the given tables. An invalid payload is a
// recoverable error for the caller to retry.
func (c *Client) AnalyzeStructure(ctx context.Context, tables []domain.TableBlock) (*domain.StructureContext, error) {
	raw, err := c.generate(ctx, buildAnalysisPrompt(FormatTables(tables)))
	if err != nil {
		return nil, fmt.Errorf("AnalyzeStructure: %w", err)
	}
	return decodeStructure(raw)
}

// Extract asks the oracle for the transaction rows of the given tables,
// guided by a previously analyzed structure context.
func (c *Client) Extract(ctx context.Context, sctx *domain.StructureContext, tables []domain.TableBlock) ([]domain.Transaction, error) {
	raw, err := c.generate(ctx, buildExtractionPrompt(sctx, FormatTables(tables)))
	if err != nil {
		return nil, fmt.Errorf("Extract: %w", err)
	}
	return decodeTransactions(raw, false)
}

// Categorize returns the given transactions with the category field
// populated from the closed taxonomy.
func (c *Client) Categorize(ctx context.Context, txs []domain.Transaction) ([]domain.Transaction, error) {
	raw, err := c.generate(ctx, buildCategorizationPrompt(txs))
	if err != nil {
		return nil, fmt.Errorf("Categorize: %w", err)
	}
	return decodeTransactions(raw, true)
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return "", invalidShape("empty response from model")
	}
	return raw, nil
}
