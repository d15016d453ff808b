package models

import "time"

// CollectionDescriptor is the wire form a node publishes for one of its
// entity classes via GET /collections.
type CollectionDescriptor struct {
	Class      string      `json:"class"`
	Collection string      `json:"collection"`
	Methods    []string    `json:"methods,omitempty"`
	Fields     []FieldSpec `json:"fields"`
	Node       string      `json:"node,omitempty"`
}

// EntityRecord is a stored domain entity in generic form. Concrete shapes
// live in the declared field map, keyed by FieldSpec names.
type EntityRecord struct {
	ID         string                 `json:"id" db:"id"`
	Class      string                 `json:"class" db:"class"`
	Collection string                 `json:"collection" db:"collection"`
	UserID     string                 `json:"userId" db:"user_id"`
	Fields     map[string]interface{} `json:"fields" db:"fields"`
	CreatedAt  time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time              `json:"updatedAt" db:"updated_at"`
}

// DisplayName picks a human label for the record from its common name
// fields, falling back to the ID.
func (e *EntityRecord) DisplayName() string {
	for _, k := range []string{"name", "title", "label", "subject", "email"} {
		if v, ok := e.Fields[k].(string); ok && v != "" {
			return v
		}
	}
	return e.ID
}
