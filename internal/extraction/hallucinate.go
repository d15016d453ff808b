package extraction

import (
	"sort"
	"strings"
	"unicode"

	"actionhub/internal/models"
)

// DeferSuffix tags a relationship value left for the owning node to
// resolve. The base field keeps the raw name so readiness is unaffected.
const DeferSuffix = "__defer"

// RemapHallucinated handles collaborator output keys that match no
// declared field. When exactly one required field is missing and exactly
// one unknown key was produced, the value is remapped onto the missing
// field; otherwise unknown keys are dropped. The input map is not
// modified.
func RemapHallucinated(fields []models.FieldSpec, params map[string]interface{}) map[string]interface{} {
	var unknown []string
	for key := range params {
		if !recognizedKey(fields, key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return params
	}
	sort.Strings(unknown)

	missing := MissingFields(fields, params)

	out := make(map[string]interface{}, len(params))
	for key, value := range params {
		if !contains(unknown, key) {
			out[key] = value
		}
	}
	if len(missing) == 1 && len(unknown) == 1 {
		out[missing[0]] = params[unknown[0]]
	}
	return out
}

// recognizedKey reports whether the key can contribute to some declared
// field's satisfaction: a field name, an alternative, a relationship or
// object prefix, a numbered or flat array item key, or a defer marker.
func recognizedKey(fields []models.FieldSpec, key string) bool {
	base := strings.TrimSuffix(key, DeferSuffix)

	for _, f := range fields {
		if base == f.Name || key == f.Name {
			return true
		}
		for _, alt := range f.Alternatives {
			if key == alt {
				return true
			}
		}
		switch {
		case f.Relationship || f.Type == models.FieldObject:
			if strings.HasPrefix(key, f.Name+"_") {
				return true
			}
		case f.Type == models.FieldArray:
			if numberedKey(key, singularize(f.Name)) {
				return true
			}
			for _, sub := range f.Items {
				if key == sub.Name {
					return true
				}
			}
		}
	}
	return false
}

func numberedKey(key, singular string) bool {
	prefix := singular + "_"
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	rest := key[len(prefix):]
	i := 0
	for i < len(rest) && unicode.IsDigit(rune(rest[i])) {
		i++
	}
	return i > 0 && i < len(rest) && rest[i] == '_'
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
