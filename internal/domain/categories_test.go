package domain

import (
	"sort"
	"testing"
)

func TestValidateCategory(t *testing.T) {
	tests := []struct {
		name     string
		category string
		wantErr  bool
	}{
		{"income salary", "income.salary", false},
		{"expense others", "expense.others", false},
		{"transfer self", "transfer.self_transfer", false},
		{"unknown subcategory", "income.lottery", true},
		{"unknown type", "savings.salary", true},
		{"missing subcategory", "income", true},
		{"uppercase", "Income.Salary", true},
		{"empty", "", true},
		{"extra segment", "expense.food.breakfast", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCategory(tt.category)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCategory(%q) error = %v, wantErr %v", tt.category, err, tt.wantErr)
			}
		})
	}
}

func TestDefaultCategoryIsValid(t *testing.T) {
	if err := ValidateCategory(DefaultCategory); err != nil {
		t.Errorf("DefaultCategory %q is not in the taxonomy: %v", DefaultCategory, err)
	}
}

func TestSplitCategory(t *testing.T) {
	typ, sub, err := SplitCategory("expense.loan_emi")
	if err != nil {
		t.Fatalf("SplitCategory failed: %v", err)
	}
	if typ != CategoryExpense || sub != "loan_emi" {
		t.Errorf("SplitCategory = %q,%q", typ, sub)
	}

	if _, _, err := SplitCategory("nonsense"); err == nil {
		t.Error("SplitCategory accepted an invalid category")
	}
}

func TestAllCategories(t *testing.T) {
	all := AllCategories()

	want := 0
	for _, subs := range Categories {
		want += len(subs)
	}
	if len(all) != want {
		t.Errorf("AllCategories returned %d entries, want %d", len(all), want)
	}
	if !sort.StringsAreSorted(all) {
		t.Error("AllCategories is not sorted")
	}
	for _, c := range all {
		if err := ValidateCategory(c); err != nil {
			t.Errorf("AllCategories entry %q fails validation: %v", c, err)
		}
	}
}

func TestStructureContextValidate(t *testing.T) {
	valid := &StructureContext{
		Headers:     []string{"Date", "Description", "Debit", "Credit", "Balance"},
		ExampleRows: [][]string{{"2024-01-05", "SALARY", "", "50000", "61234.50"}},
		ColumnRoles: map[string]int{"date": 0, "description": 1, "debit": 2, "credit": 3, "balance": 4},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid context rejected: %v", err)
	}

	var nilCtx *StructureContext
	if err := nilCtx.Validate(); err == nil {
		t.Error("nil context accepted")
	}

	noRows := &StructureContext{
		ColumnRoles: map[string]int{"date": 0, "description": 1, "debit": 2, "credit": 3, "balance": 4},
	}
	if err := noRows.Validate(); err == nil {
		t.Error("context without example rows accepted")
	}

	missingRole := &StructureContext{
		ExampleRows: [][]string{{"x"}},
		ColumnRoles: map[string]int{"date": 0, "description": 1, "debit": 2, "credit": 3},
	}
	if err := missingRole.Validate(); err == nil {
		t.Error("context missing the balance role accepted")
	}
}
