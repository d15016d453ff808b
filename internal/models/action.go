// internal/models/action.go
package models

// FieldType enumerates the value types a field schema may declare.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
)

// FieldSpec describes one parameter of an action template. The shape doubles
// as the wire format peers publish for their collections, so the tags stay
// snake_case.
type FieldSpec struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`

	// Relationship marks a reference to another entity; values are resolved
	// to entity IDs before execution.
	Relationship      bool   `json:"relationship,omitempty"`
	RelatedCollection string `json:"related_collection,omitempty"`

	// Alternatives names sibling fields that together satisfy this one
	// (e.g. first_name+last_name in place of full_name).
	Alternatives []string `json:"alternatives,omitempty"`

	// Items is the element schema for array fields, Fields the sub-schema
	// for object and relationship fields.
	Items  []FieldSpec `json:"items,omitempty"`
	Fields []FieldSpec `json:"fields,omitempty"`
}

// Executor names the dispatcher recognizes. Definitions referencing any
// other name fail execution with an UNKNOWN_EXECUTOR error.
const (
	ExecutorEntityCreate  = "entity_create"
	ExecutorEmailSend     = "email_send"
	ExecutorEventSchedule = "event_schedule"
	ExecutorTaskCreate    = "task_create"
	ExecutorSummarize     = "summarize"
	ExecutorTranslate     = "translate"
	ExecutorNotify        = "notify"
	ExecutorComplexTask   = "complex_task"
)

// ActionDefinition is an immutable action template. Built-ins are registered
// at startup; dynamic definitions are re-derived on every catalog refresh.
type ActionDefinition struct {
	ID          string      `json:"id"`
	Label       string      `json:"label"`
	Description string      `json:"description"`
	Triggers    []string    `json:"triggers,omitempty"`
	Fields      []FieldSpec `json:"fields,omitempty"`
	Executor    string      `json:"executor"`

	// EntityClass is set for entity-targeted actions. For remote targets it
	// carries the composite "nodeSlug:Class" form.
	EntityClass string `json:"entity_class,omitempty"`
	SourceNode  string `json:"source_node,omitempty"`
	Remote      bool   `json:"remote,omitempty"`
}

// RequiredFields returns the required field specs in declaration order.
func (d *ActionDefinition) RequiredFields() []FieldSpec {
	var req []FieldSpec
	for _, f := range d.Fields {
		if f.Required {
			req = append(req, f)
		}
	}
	return req
}

// FieldByName looks up a field spec by its name.
func (d *ActionDefinition) FieldByName(name string) (*FieldSpec, bool) {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i], true
		}
	}
	return nil, false
}

// ExecutionResult is the uniform outcome of running an action, local or
// remote. Failures are carried in Error; Execute never panics a turn.
type ExecutionResult struct {
	Success    bool                   `json:"success"`
	Message    string                 `json:"message,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Node       string                 `json:"node,omitempty"`
	TokensUsed int                    `json:"tokens_used,omitempty"`
}
