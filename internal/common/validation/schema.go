// internal/common/validation/schema.go
package validation

import (
	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateJSON checks a raw JSON document against a JSON schema and returns
// per-field errors. A schema compile failure is reported as a single error on
// the synthetic "$schema" field.
func ValidateJSON(document []byte, schema string) *ValidationResult {
	schemaLoader := gojsonschema.NewStringLoader(schema)
	docLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Field: "$schema", Message: err.Error()},
			},
		}
	}

	if result.Valid() {
		return &ValidationResult{Valid: true}
	}

	errs := make([]ValidationError, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, ValidationError{
			Field:   e.Field(),
			Message: e.Description(),
		})
	}
	return &ValidationResult{Valid: false, Errors: errs}
}

// Summary flattens the validation errors into one string for error details.
func (r *ValidationResult) Summary() string {
	if r.Valid {
		return ""
	}
	out := ""
	for i, e := range r.Errors {
		if i > 0 {
			out += "; "
		}
		out += e.Field + ": " + e.Message
	}
	return out
}
