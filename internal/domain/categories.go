package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Category types.
const (
	CategoryIncome   = "income"
	CategoryExpense  = "expense"
	CategoryTransfer = "transfer"
)

// DefaultCategory is assigned to every transaction in a chunk whose
// categorization exhausted its retries.
const DefaultCategory = "expense.others"

// categoryPattern is the syntactic shape of a full category string.
var categoryPattern = regexp.MustCompile(`^(income|expense|transfer)\.[a-z_]+$`)

// Categories is the closed taxonomy the oracle is allowed to use.
// Keys are category types, values are the valid subcategories.
var Categories = map[string][]string{
	CategoryIncome:   {"salary", "interest", "business", "refund", "others"},
	CategoryExpense:  {"food", "rent", "utilities", "shopping", "travel", "entertainment", "healthcare", "insurance", "loan_emi", "others"},
	CategoryTransfer: {"self_transfer", "external_transfer"},
}

var categorySet = buildCategorySet()

func buildCategorySet() map[string]bool {
	set := make(map[string]bool)
	for typ, subs := range Categories {
		for _, sub := range subs {
			set[typ+"."+sub] = true
		}
	}
	return set
}

// AllCategories returns every valid full category string, sorted.
func AllCategories() []string {
	all := make([]string, 0, len(categorySet))
	for c := range categorySet {
		all = append(all, c)
	}
	sort.Strings(all)
	return all
}

// ValidateCategory checks a full category string against both the syntax
// and the closed taxonomy.
func ValidateCategory(category string) error {
	if !categoryPattern.MatchString(category) {
		return fmt.Errorf("invalid category format: %q", category)
	}
	if !categorySet[category] {
		return fmt.Errorf("unknown category: %q", category)
	}
	return nil
}

// SplitCategory splits a full category string into its type and
// subcategory. It validates against the taxonomy first.
func SplitCategory(category string) (typ, sub string, err error) {
	if err := ValidateCategory(category); err != nil {
		return "", "", err
	}
	parts := strings.SplitN(category, ".", 2)
	return parts[0], parts[1], nil
}
