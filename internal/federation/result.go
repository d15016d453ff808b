package federation

import "actionhub/internal/models"

// Result wraps a remote execution outcome for explicit fallback at the
// call site. There is no hidden retry behind it; OrElse runs the local
// alternative exactly once, and only when the remote side did not
// deliver.
type Result struct {
	Value *models.ExecutionResult
}

// OrElse returns the remote result when it succeeded, otherwise the
// fallback's.
func (r Result) OrElse(fallback func() *models.ExecutionResult) *models.ExecutionResult {
	if r.Value != nil && r.Value.Success {
		return r.Value
	}
	return fallback()
}
