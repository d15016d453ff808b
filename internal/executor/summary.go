package executor

import (
	"strings"

	"actionhub/internal/extraction"
	"actionhub/internal/models"
)

// internalParamKeys are bookkeeping fields that never reach an outbound
// payload or a user-facing summary.
var internalParamKeys = map[string]bool{
	"id":         true,
	"user_id":    true,
	"userId":     true,
	"session_id": true,
	"tenant_id":  true,
}

// scrubInternal copies the params without bookkeeping keys and deferred
// relationship markers.
func scrubInternal(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if internalParamKeys[k] || strings.HasSuffix(k, extraction.DeferSuffix) {
			continue
		}
		out[k] = v
	}
	return out
}

func stringParam(params map[string]interface{}, key string) string {
	v, _ := params[key].(string)
	return strings.TrimSpace(v)
}

func transcript(turns []models.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Role+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

func lastTurnText(turns []models.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	return turns[len(turns)-1].Content
}

func joinMessages(messages []string) string {
	return strings.Join(messages, "; ")
}
