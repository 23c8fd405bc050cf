package domain

import "fmt"

// Column role names the oracle must map onto header indices.
const (
	RoleDate        = "date"
	RoleDescription = "description"
	RoleDebit       = "debit"
	RoleCredit      = "credit"
	RoleBalance     = "balance"
)

// RequiredRoles lists every column role a valid structure analysis must
// resolve.
var RequiredRoles = []string{RoleDate, RoleDescription, RoleDebit, RoleCredit, RoleBalance}

// StructureContext is the result of the structure-analysis stage: the table
// headers, a few example transaction rows, and a mapping from column role to
// header index. It is produced once per document and consumed read-only by
// every extraction chunk.
type StructureContext struct {
	Headers     []string       `json:"available_header"`
	ExampleRows [][]string     `json:"example_transactions"`
	ColumnRoles map[string]int `json:"column_types"`
}

// Validate reports whether the context is usable by the extraction stage:
// all five column roles resolved and at least one example row present.
func (c *StructureContext) Validate() error {
	if c == nil {
		return fmt.Errorf("structure context is nil")
	}
	if len(c.ExampleRows) == 0 {
		return fmt.Errorf("structure context has no example transactions")
	}
	for _, role := range RequiredRoles {
		if _, ok := c.ColumnRoles[role]; !ok {
			return fmt.Errorf("structure context missing column role %q", role)
		}
	}
	return nil
}
