// cmd/tools/catalog-inspect/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"actionhub/pkg/registry"
)

const defaultPath = "configs/action-templates.json"

func main() {
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	setCmd := flag.NewFlagSet("set", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)

	listPath := listCmd.String("path", defaultPath, "Path to the template file")

	// Add command flags
	addPath := addCmd.String("path", defaultPath, "Path to the template file")
	idAdd := addCmd.String("id", "", "Template ID (e.g., expense_log)")
	label := addCmd.String("label", "", "Label shown to the user (e.g., Log Expense)")
	description := addCmd.String("description", "", "Description")
	executorName := addCmd.String("executor", "", "Executor name (e.g., entity_create)")
	triggers := addCmd.String("triggers", "", "Comma-separated trigger phrases")
	fieldSpecs := addCmd.String("fields", "", "Comma-separated field specs, name:type[:required]")

	// Set command flags
	setPath := setCmd.String("path", defaultPath, "Path to the template file")
	idSet := setCmd.String("id", "", "Template ID to change")
	field := setCmd.String("field", "", "Field to set (label, description, executor, triggers)")
	value := setCmd.String("value", "", "New value for the field")

	validatePath := validateCmd.String("path", defaultPath, "Path to the template file")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		listCmd.Parse(os.Args[2:])
		if err := listTemplates(*listPath); err != nil {
			fmt.Printf("Error listing templates: %v\n", err)
			os.Exit(1)
		}

	case "add":
		addCmd.Parse(os.Args[2:])
		if *idAdd == "" || *label == "" || *executorName == "" {
			fmt.Println("Error: id, label, and executor are required for add.")
			addCmd.Usage()
			os.Exit(1)
		}
		fields, err := parseFields(*fieldSpecs)
		if err != nil {
			fmt.Printf("Error parsing fields: %v\n", err)
			os.Exit(1)
		}
		tpl := registry.Template{
			ID:          *idAdd,
			Label:       *label,
			Description: *description,
			Executor:    *executorName,
			Triggers:    splitList(*triggers),
			Fields:      fields,
		}
		if err := addTemplate(*addPath, tpl); err != nil {
			fmt.Printf("Error adding template: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added template: %s\n", *idAdd)

	case "set":
		setCmd.Parse(os.Args[2:])
		if *idSet == "" || *field == "" || *value == "" {
			fmt.Println("Error: id, field, and value are required for set.")
			setCmd.Usage()
			os.Exit(1)
		}
		if err := setTemplate(*setPath, *idSet, *field, *value); err != nil {
			fmt.Printf("Error updating template: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated template %s, field %s to %s\n", *idSet, *field, *value)

	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := validateTemplates(*validatePath); err != nil {
			fmt.Printf("Template validation failed: %v\n", err)
			os.Exit(1)
		}

	case "help":
		fallthrough
	default:
		help()
	}
}

func listTemplates(path string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	fmt.Printf("Registry %s (version %s, %d templates)\n\n", path, reg.Version, len(reg.Templates))
	for _, tpl := range reg.Templates {
		required := 0
		for _, f := range tpl.Fields {
			if f.Required {
				required++
			}
		}
		fmt.Printf("  %-24s %-28s executor=%-16s fields=%d (%d required)\n",
			tpl.ID, tpl.Label, tpl.Executor, len(tpl.Fields), required)
		if len(tpl.Triggers) > 0 {
			fmt.Printf("  %-24s triggers: %s\n", "", strings.Join(tpl.Triggers, ", "))
		}
	}
	return nil
}

func addTemplate(path string, tpl registry.Template) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		// If the file doesn't exist, start a fresh registry
		if os.IsNotExist(err) {
			reg = &registry.TemplateRegistry{
				Version:     "1.0.0",
				LastUpdated: time.Now().Format(time.RFC3339),
				Templates:   []registry.Template{},
			}
		} else {
			return fmt.Errorf("failed to load registry: %w", err)
		}
	}

	for _, existing := range reg.Templates {
		if existing.ID == tpl.ID {
			return fmt.Errorf("template with ID %s already exists", tpl.ID)
		}
	}

	reg.Templates = append(reg.Templates, tpl)
	reg.LastUpdated = time.Now().Format(time.RFC3339)

	return registry.SaveRegistry(reg, path)
}

func setTemplate(path, id, field, value string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	found := false
	for i := range reg.Templates {
		if reg.Templates[i].ID == id {
			found = true
			switch field {
			case "label":
				reg.Templates[i].Label = value
			case "description":
				reg.Templates[i].Description = value
			case "executor":
				reg.Templates[i].Executor = value
			case "triggers":
				reg.Templates[i].Triggers = splitList(value)
			default:
				return fmt.Errorf("unknown field: %s", field)
			}
			break
		}
	}

	if !found {
		return fmt.Errorf("template with ID %s not found", id)
	}

	reg.LastUpdated = time.Now().Format(time.RFC3339)
	return registry.SaveRegistry(reg, path)
}

func validateTemplates(path string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	if err := registry.Validate(reg); err != nil {
		return err
	}

	fmt.Printf("Template validation passed. Found %d templates.\n", len(reg.Templates))
	return nil
}

// parseFields turns "amount:number:required,customer:string" into field specs.
func parseFields(spec string) ([]registry.Field, error) {
	if spec == "" {
		return nil, nil
	}

	var out []registry.Field
	for _, part := range strings.Split(spec, ",") {
		bits := strings.Split(strings.TrimSpace(part), ":")
		f := registry.Field{Name: bits[0]}
		if f.Name == "" {
			return nil, fmt.Errorf("field spec %q has no name", part)
		}
		if len(bits) > 1 {
			f.Type = bits[1]
		}
		if len(bits) > 2 {
			if bits[2] != "required" {
				return nil, fmt.Errorf("field spec %q: expected \"required\", got %q", part, bits[2])
			}
			f.Required = true
		}
		out = append(out, f)
	}
	return out, nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func help() {
	fmt.Print(`
Usage: catalog-inspect <command> [flags]

Commands:
  list     List templates in the registry file
  add      Add a new action template
  set      Change a field of an existing template
  validate Validate the registry file
  help     Show this help message

Examples:
  catalog-inspect list
  catalog-inspect add -id expense_log -label "Log Expense" -executor entity_create -triggers "expense,spent" -fields "amount:number:required,category:string"
  catalog-inspect set -id expense_log -field description -value "Record an expense for later reporting"
  catalog-inspect validate -path configs/action-templates.json

Use 'catalog-inspect <command> -h' for more information about a command.

`)
}
