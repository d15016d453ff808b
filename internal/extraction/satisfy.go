package extraction

import (
	"fmt"
	"strings"

	"actionhub/internal/models"
)

// Satisfied reports whether the extracted params provide a usable value
// for the field. A field is satisfied by:
//
//	(a) a direct key,
//	(b) every member of its alternative-field group,
//	(c) for arrays: a literal array with at least one complete item, a
//	    numbered flat pattern (item_1_name, item_2_price, ...) with at
//	    least one complete item, or the item sub-schema present flat at
//	    the top level,
//	(d) for relationships: a nested object, or prefixed flat fields
//	    (customer_name, customer_email) covering at least one required
//	    sub-field.
func Satisfied(field models.FieldSpec, params map[string]interface{}) bool {
	if hasValue(params, field.Name) {
		if field.Type == models.FieldArray {
			if arr, ok := params[field.Name].([]interface{}); ok {
				return literalArraySatisfies(field, arr)
			}
		}
		return true
	}

	if len(field.Alternatives) > 0 {
		all := true
		for _, alt := range field.Alternatives {
			if !hasValue(params, alt) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}

	switch {
	case field.Type == models.FieldArray:
		if numberedItemsSatisfy(field, params) {
			return true
		}
		if flatItemSatisfies(field.Items, params) {
			return true
		}
	case field.Relationship || field.Type == models.FieldObject:
		if prefixedFieldsSatisfy(field, params) {
			return true
		}
	}

	return false
}

// MissingFields derives the missing-field list from scratch: required
// fields in declaration order that the params do not satisfy. Stores
// must always call this instead of patching their own lists.
func MissingFields(fields []models.FieldSpec, params map[string]interface{}) []string {
	var missing []string
	for _, f := range fields {
		if f.Required && !Satisfied(f, params) {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

func hasValue(params map[string]interface{}, key string) bool {
	v, ok := params[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

func literalArraySatisfies(field models.FieldSpec, arr []interface{}) bool {
	if len(arr) == 0 {
		return false
	}
	if len(field.Items) == 0 {
		return true
	}
	for _, element := range arr {
		item, ok := element.(map[string]interface{})
		if !ok {
			// Primitive elements satisfy a schema without required keys.
			if len(requiredNames(field.Items)) == 0 {
				return true
			}
			continue
		}
		if itemComplete(field.Items, item) {
			return true
		}
	}
	return false
}

// numberedItemsSatisfy detects the flattened form collaborators often
// produce for arrays: item_1_name, item_1_price, item_2_name, ... keyed
// by the singular of the field name.
func numberedItemsSatisfy(field models.FieldSpec, params map[string]interface{}) bool {
	singular := singularize(field.Name)
	for n := 1; ; n++ {
		prefix := fmt.Sprintf("%s_%d_", singular, n)
		if !anyKeyWithPrefix(params, prefix) {
			return false
		}
		item := map[string]interface{}{}
		for key, value := range params {
			if strings.HasPrefix(key, prefix) {
				item[strings.TrimPrefix(key, prefix)] = value
			}
		}
		if itemComplete(field.Items, item) {
			return true
		}
	}
}

// flatItemSatisfies accepts one item's sub-fields spread over the top
// level of the params (subject, start_time, ... for an events array).
func flatItemSatisfies(items []models.FieldSpec, params map[string]interface{}) bool {
	if len(items) == 0 {
		return false
	}
	required := requiredNames(items)
	if len(required) == 0 {
		for _, sub := range items {
			if hasValue(params, sub.Name) {
				return true
			}
		}
		return false
	}
	for _, name := range required {
		if !hasValue(params, name) {
			return false
		}
	}
	return true
}

func prefixedFieldsSatisfy(field models.FieldSpec, params map[string]interface{}) bool {
	if nested, ok := params[field.Name].(map[string]interface{}); ok && len(nested) > 0 {
		return true
	}

	prefix := field.Name + "_"
	if len(field.Fields) == 0 {
		return anyKeyWithPrefix(params, prefix)
	}
	for _, sub := range field.Fields {
		if sub.Required && hasValue(params, prefix+sub.Name) {
			return true
		}
	}
	return false
}

func itemComplete(items []models.FieldSpec, item map[string]interface{}) bool {
	required := requiredNames(items)
	if len(required) == 0 {
		return len(item) > 0
	}
	for _, name := range required {
		if !hasValue(item, name) {
			return false
		}
	}
	return true
}

func requiredNames(fields []models.FieldSpec) []string {
	var names []string
	for _, f := range fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

func anyKeyWithPrefix(params map[string]interface{}, prefix string) bool {
	for key := range params {
		if strings.HasPrefix(key, prefix) && hasValue(params, key) {
			return true
		}
	}
	return false
}

func singularize(name string) string {
	if strings.HasSuffix(name, "s") && len(name) > 1 {
		return strings.TrimSuffix(name, "s")
	}
	return name
}
