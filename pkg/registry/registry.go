// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func LoadRegistry(path string) (*TemplateRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg TemplateRegistry
	err = json.Unmarshal(data, &reg)
	return &reg, err
}

func SaveRegistry(reg *TemplateRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

// Validate checks that every template carries an id, label and executor
// and that no id repeats.
func Validate(reg *TemplateRegistry) error {
	if len(reg.Templates) == 0 {
		return fmt.Errorf("registry contains no templates")
	}

	ids := make(map[string]bool)
	for _, tpl := range reg.Templates {
		if tpl.ID == "" {
			return fmt.Errorf("template missing required field: ID")
		}
		if ids[tpl.ID] {
			return fmt.Errorf("duplicate template ID: %s", tpl.ID)
		}
		ids[tpl.ID] = true

		if tpl.Label == "" {
			return fmt.Errorf("template %s missing required field: Label", tpl.ID)
		}
		if tpl.Executor == "" {
			return fmt.Errorf("template %s missing required field: Executor", tpl.ID)
		}
		for _, f := range tpl.Fields {
			if f.Name == "" {
				return fmt.Errorf("template %s has a field without a name", tpl.ID)
			}
		}
	}
	return nil
}
