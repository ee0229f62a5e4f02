// Package schema generates the JSON Schema of the configuration file and
// validates documents against it.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/reglet-dev/rootscope/application/config"
	"github.com/reglet-dev/rootscope/domain/entities"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

const configSchemaURL = "rootscope-config.json"

// GenerateSchema creates a JSON schema from a Go struct.
// It uses the `invopop/jsonschema` library to reflect on the struct
// and generate a standard JSON Schema (Draft 2020-12).
func GenerateSchema(v interface{}) ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true, // Expand struct definitions inline
	}
	schema := reflector.Reflect(v)

	jsonBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	return jsonBytes, nil
}

// ConfigSchema returns the schema of config.Config.
func ConfigSchema() ([]byte, error) {
	return GenerateSchema(&config.Config{})
}

// Validator checks decoded documents against a compiled schema.
type Validator struct {
	schema *validator.Schema
}

// NewValidator compiles schemaJSON.
func NewValidator(schemaJSON []byte) (*Validator, error) {
	c := validator.NewCompiler()
	if err := c.AddResource(configSchemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := c.Compile(configSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Validator{schema: sch}, nil
}

// Validate checks doc, which must use JSON value types. A document that does
// not match yields an invalid result, not an error.
func (v *Validator) Validate(doc any) *entities.ValidationResult {
	result := &entities.ValidationResult{Valid: true}

	err := v.schema.Validate(doc)
	if err == nil {
		return result
	}
	result.Valid = false

	var ve *validator.ValidationError
	if !errors.As(err, &ve) {
		result.Errors = append(result.Errors, entities.ValidationError{Message: err.Error()})
		return result
	}
	collectLeaves(ve, result)
	return result
}

// collectLeaves records the innermost causes, which name the failing keyword.
func collectLeaves(ve *validator.ValidationError, result *entities.ValidationResult) {
	if len(ve.Causes) == 0 {
		result.Errors = append(result.Errors, entities.ValidationError{
			Field:   ve.InstanceLocation,
			Message: ve.Message,
		})
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, result)
	}
}

// ValidateConfig checks a configuration file's contents against the config
// schema. Unknown keys are rejected here, which struct decoding alone would
// silently drop.
func ValidateConfig(data []byte, format config.Format) (*entities.ValidationResult, error) {
	raw, err := ConfigSchema()
	if err != nil {
		return nil, err
	}
	v, err := NewValidator(raw)
	if err != nil {
		return nil, err
	}
	doc, err := config.Document(data, format)
	if err != nil {
		return nil, err
	}
	return v.Validate(doc), nil
}
