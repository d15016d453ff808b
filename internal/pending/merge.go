package pending

import (
	"strings"

	"actionhub/internal/models"
)

// scrubEmpty drops nil and blank values. A merge only ever adds
// information, so the missing set can shrink but never grow.
func scrubEmpty(partial map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(partial))
	for key, value := range partial {
		if value == nil {
			continue
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		out[key] = value
	}
	return out
}

// deepMerge merges src into dst recursively. Nested maps merge key by
// key; arrays and scalars replace whatever was there.
func deepMerge(dst, src map[string]interface{}) map[string]interface{} {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]interface{})
		dstMap, dstIsMap := dst[key].(map[string]interface{})
		if srcIsMap && dstIsMap {
			dst[key] = deepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
	return dst
}

// applyPrefixes re-keys a bare common field onto its prefixed missing
// counterpart: with customer_name missing, an incoming "name" lands as
// "customer_name". Keys the template declares outright stay put, and a
// bare key matching several missing fields is ambiguous and left alone.
func applyPrefixes(partial map[string]interface{}, missing []string, fields []models.FieldSpec) map[string]interface{} {
	if len(partial) == 0 || len(missing) == 0 {
		return partial
	}

	out := make(map[string]interface{}, len(partial))
	for key, value := range partial {
		if declaredField(fields, key) || containsField(missing, key) {
			out[key] = value
			continue
		}

		target := ""
		matches := 0
		for _, m := range missing {
			if strings.HasSuffix(m, "_"+key) {
				target = m
				matches++
			}
		}
		if matches == 1 {
			out[target] = value
			continue
		}
		out[key] = value
	}
	return out
}

func declaredField(fields []models.FieldSpec, key string) bool {
	for _, f := range fields {
		if f.Name == key {
			return true
		}
		for _, alt := range f.Alternatives {
			if alt == key {
				return true
			}
		}
	}
	return false
}

func containsField(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
