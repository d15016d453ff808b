// internal/models/pending.go
package models

import "time"

// PendingStatus tracks a pending action through its lifecycle.
type PendingStatus string

const (
	PendingIncomplete PendingStatus = "incomplete"
	PendingReady      PendingStatus = "ready"
	PendingExecuted   PendingStatus = "executed"
	PendingCanceled   PendingStatus = "canceled"
)

// ActionData wraps the parameter map so the persisted JSON keeps params under
// a dedicated envelope.
type ActionData struct {
	Params map[string]interface{} `json:"params"`
}

// PendingAction is the serialized cross-turn state of a partially-filled
// action. MissingFields is always recomputed from the template's required
// fields against Data.Params, never patched incrementally, and
// ReadyToExecute holds exactly when MissingFields is empty.
type PendingAction struct {
	ID             string        `json:"id"`
	ActionID       string        `json:"action_id"`
	Label          string        `json:"label,omitempty"`
	Description    string        `json:"description,omitempty"`
	Data           ActionData    `json:"data"`
	MissingFields  []string      `json:"missing_fields"`
	ReadyToExecute bool          `json:"ready_to_execute"`
	Executor       string        `json:"executor"`
	UserID         string        `json:"user_id"`
	CreatedAt      time.Time     `json:"created_at"`
	Status         PendingStatus `json:"status"`
}

// EnsureParams returns the parameter map, allocating it on first use.
func (p *PendingAction) EnsureParams() map[string]interface{} {
	if p.Data.Params == nil {
		p.Data.Params = make(map[string]interface{})
	}
	return p.Data.Params
}

// IsMissing reports whether the named field is still outstanding.
func (p *PendingAction) IsMissing(field string) bool {
	for _, f := range p.MissingFields {
		if f == field {
			return true
		}
	}
	return false
}
