package validator

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemasFS embed.FS

// ValidationError represents a single validation error.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of schema validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Error joins the individual errors into one message.
func (r ValidationResult) Error() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Path+": "+e.Message)
	}
	return strings.Join(msgs, "; ")
}

// Validator validates JSON documents against schemas.
type Validator struct {
	exportSchema *jsonschema.Schema
}

// New creates a new Validator with embedded schemas.
func New() (*Validator, error) {
	schemaData, err := schemasFS.ReadFile("schemas/export.schema.json")
	if err != nil {
		return nil, fmt.Errorf("read export schema: %w", err)
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaData, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("export.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	schema, err := c.Compile("export.json")
	if err != nil {
		return nil, fmt.Errorf("compile export schema: %w", err)
	}

	return &Validator{exportSchema: schema}, nil
}

// ValidateExport validates an export document before it is imported.
func (v *Validator) ValidateExport(data []byte) ValidationResult {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Path:    "/",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			}},
		}
	}

	err := v.exportSchema.Validate(doc)
	if err == nil {
		return ValidationResult{Valid: true}
	}

	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		return ValidationResult{Valid: false, Errors: extractErrors(ve)}
	}
	return ValidationResult{
		Valid:  false,
		Errors: []ValidationError{{Path: "/", Message: err.Error()}},
	}
}

func extractErrors(ve *jsonschema.ValidationError) []ValidationError {
	if len(ve.Causes) == 0 {
		return []ValidationError{{
			Path:    "/" + strings.Join(ve.InstanceLocation, "/"),
			Message: ve.Error(),
		}}
	}

	var errs []ValidationError
	for _, cause := range ve.Causes {
		errs = append(errs, extractErrors(cause)...)
	}
	return errs
}
