package oracle

import "fmt"

// SchemaErrorKind classifies how an oracle response violated its contract.
type SchemaErrorKind string

const (
	// KindInvalidShape means the response was not the expected JSON shape.
	KindInvalidShape SchemaErrorKind = "invalid_response_shape"
	// KindMissingField means a record lacked a required field.
	KindMissingField SchemaErrorKind = "missing_required_field"
	// KindInvalidCategory means a category failed syntax or taxonomy checks.
	KindInvalidCategory SchemaErrorKind = "invalid_category_syntax"
)

// SchemaError is a typed violation of the oracle response contract. The
// client surfaces these without retrying; retry policy belongs to the
// caller.
type SchemaError struct {
	Kind   SchemaErrorKind
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("oracle response: %s: %s", e.Kind, e.Detail)
}

func invalidShape(format string, args ...interface{}) *SchemaError {
	return &SchemaError{Kind: KindInvalidShape, Detail: fmt.Sprintf(format, args...)}
}

func missingField(format string, args ...interface{}) *SchemaError {
	return &SchemaError{Kind: KindMissingField, Detail: fmt.Sprintf(format, args...)}
}

func invalidCategory(format string, args ...interface{}) *SchemaError {
	return &SchemaError{Kind: KindInvalidCategory, Detail: fmt.Sprintf(format, args...)}
}
