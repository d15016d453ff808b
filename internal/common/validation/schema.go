package validation

import (
	"fmt"
	"regexp"
	"strings"

	"actionhub/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema is the schema document built from an action template's fields.
type JSONSchema struct {
	Type                 string              `json:"type"`
	Properties           map[string]Property `json:"properties"`
	Required             []string            `json:"required,omitempty"`
	AdditionalProperties bool                `json:"additionalProperties"`
}

type Property struct {
	Type        string              `json:"type,omitempty"`
	Description string              `json:"description,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// SchemaFromFields converts a template's field specs into a JSON schema.
// Relationship fields validate as strings because resolution has already
// replaced them with entity IDs by the time params are validated. Prefixed
// and flat-array keys ride on additionalProperties, so includeRequired is
// only turned on for template sanity checks, never for runtime params
// (readiness is the satisfaction algorithm's job, not the schema's).
func SchemaFromFields(fields []models.FieldSpec, includeRequired bool) JSONSchema {
	schema := JSONSchema{
		Type:                 "object",
		Properties:           make(map[string]Property),
		AdditionalProperties: true,
	}

	for _, f := range fields {
		schema.Properties[f.Name] = propertyFromSpec(f)
		if includeRequired && f.Required {
			schema.Required = append(schema.Required, f.Name)
		}
	}

	return schema
}

func propertyFromSpec(f models.FieldSpec) Property {
	prop := Property{Description: f.Description}

	switch f.Type {
	case models.FieldArray:
		prop.Type = "array"
		if len(f.Items) > 0 {
			item := Property{Type: "object", Properties: make(map[string]Property)}
			for _, sub := range f.Items {
				item.Properties[sub.Name] = propertyFromSpec(sub)
			}
			prop.Items = &item
		}
	case models.FieldObject:
		prop.Type = "object"
		if len(f.Fields) > 0 {
			prop.Properties = make(map[string]Property)
			for _, sub := range f.Fields {
				prop.Properties[sub.Name] = propertyFromSpec(sub)
			}
		}
	case models.FieldNumber:
		prop.Type = "number"
	case models.FieldBoolean:
		prop.Type = "boolean"
	default:
		prop.Type = "string"
	}

	if f.Relationship {
		// Resolved relationships are ID strings.
		prop.Type = "string"
		prop.Items = nil
		prop.Properties = nil
	}

	return prop
}

// ValidateParams checks the parameter map against the template's schema.
func ValidateParams(params map[string]interface{}, fields []models.FieldSpec) (*ValidationResult, error) {
	schema := SchemaFromFields(fields, false)

	schemaLoader := gojsonschema.NewGoLoader(schema)
	docLoader := gojsonschema.NewGoLoader(params)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("schema validation failed to run: %w", err)
	}

	vr := &ValidationResult{Valid: result.Valid()}
	for _, re := range result.Errors() {
		vr.Errors = append(vr.Errors, ValidationError{
			Field:   re.Field(),
			Message: re.Description(),
			Code:    strings.ToUpper(re.Type()),
		})
	}
	return vr, nil
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	emailPattern := regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	return emailPattern.MatchString(email)
}

// ValidatePhone validates basic phone number format
func ValidatePhone(phone string) bool {
	phonePattern := regexp.MustCompile(`^\+?[\d\s\-\(\)]{10,}$`)
	return phonePattern.MatchString(phone)
}
