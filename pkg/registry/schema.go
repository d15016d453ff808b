// pkg/registry/schema.go
package registry

// TemplateRegistry is the on-disk seed file for action templates.
type TemplateRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Templates   []Template `json:"templates"`
}

// Template is one seeded action definition.
type Template struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Triggers    []string `json:"triggers,omitempty"`
	Executor    string   `json:"executor"`
	Fields      []Field  `json:"fields,omitempty"`
}

// Field mirrors the engine's field schema in plain JSON form.
type Field struct {
	Name              string   `json:"name"`
	Type              string   `json:"type,omitempty"`
	Required          bool     `json:"required,omitempty"`
	Description       string   `json:"description,omitempty"`
	Relationship      bool     `json:"relationship,omitempty"`
	RelatedCollection string   `json:"relatedCollection,omitempty"`
	Alternatives      []string `json:"alternatives,omitempty"`
	Items             []Field  `json:"items,omitempty"`
	Fields            []Field  `json:"fields,omitempty"`
}
