package conversation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"actionhub/internal/extraction"
	"actionhub/internal/models"
)

const (
	msgNothingToConfirm = "There's nothing waiting for a confirmation right now."
	msgNothingToCancel  = "There's nothing in progress to cancel."
	msgGreetingFallback = "Hello! How can I help you today?"

	greetingSystemPrompt = "You are a friendly assistant. Reply to the greeting in one short sentence and offer your help."
	chatSystemPrompt     = "You are a helpful assistant for a personal productivity hub. Answer concisely, using the conversation and any provided records."

	maxRetrievalLines = 8
)

var errNoGenerator = errors.New("text generation not configured")

// hiddenParamKeys mirrors the executor's outbound scrub: bookkeeping
// fields never show up in a user-facing summary.
var hiddenParamKeys = map[string]bool{
	"id":         true,
	"user_id":    true,
	"userId":     true,
	"session_id": true,
	"tenant_id":  true,
}

func labelOf(action *models.PendingAction) string {
	if action.Label != "" {
		return action.Label
	}
	return action.ActionID
}

// startPrompt introduces a freshly matched action and asks for the
// outstanding fields.
func startPrompt(action *models.PendingAction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Let's set up %q.", labelOf(action))
	if bullets := paramBullets(action); bullets != "" {
		b.WriteString(" So far I have:\n")
		b.WriteString(bullets)
	}
	fmt.Fprintf(&b, "\nI still need: %s.", strings.Join(action.MissingFields, ", "))
	return b.String()
}

// progressPrompt acknowledges merged values and lists what is still
// outstanding.
func progressPrompt(action *models.PendingAction) string {
	return fmt.Sprintf("Updated %q. I still need: %s.", labelOf(action), strings.Join(action.MissingFields, ", "))
}

// missingPrompt answers a confirmation attempt on an incomplete action.
func missingPrompt(action *models.PendingAction) string {
	return fmt.Sprintf("%q isn't ready yet. I still need: %s.", labelOf(action), strings.Join(action.MissingFields, ", "))
}

// readyPrompt shows the full fill and asks for the go-ahead.
func readyPrompt(action *models.PendingAction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here's what I have for %q:\n", labelOf(action))
	b.WriteString(paramBullets(action))
	b.WriteString("\nShall I go ahead?")
	return b.String()
}

func canceledMessage(action *models.PendingAction) string {
	return fmt.Sprintf("Okay, I've canceled %q.", labelOf(action))
}

func workflowStartedMessage(instanceKey int64) string {
	return fmt.Sprintf("I've started a workflow to take care of that (instance %d).", instanceKey)
}

// paramBullets renders the visible parameters as a sorted bullet list,
// one "- field: value" line each.
func paramBullets(action *models.PendingAction) string {
	keys := make([]string, 0, len(action.Data.Params))
	for k := range action.Data.Params {
		if hiddenParamKeys[k] || strings.HasSuffix(k, extraction.DeferSuffix) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, formatValue(action.Data.Params[k]))
	}
	return b.String()
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
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

// chatPrompt assembles the generation prompt for a question or
// retrieval turn from the transcript, the in-flight action, and any
// matching records.
func chatPrompt(req *Request, active *models.PendingAction, analysis *models.IntentAnalysis, records []string) string {
	var b strings.Builder
	if t := transcript(req.RecentTurns); t != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(t)
		b.WriteString("\n\n")
	}
	if active != nil {
		if len(active.MissingFields) > 0 {
			fmt.Fprintf(&b, "An action %q is in progress and still needs: %s.\n\n", labelOf(active), strings.Join(active.MissingFields, ", "))
		} else {
			fmt.Fprintf(&b, "An action %q is filled in and waiting for confirmation.\n\n", labelOf(active))
		}
	}
	if len(records) > 0 {
		b.WriteString("Matching records:\n")
		for _, line := range records {
			b.WriteString("- " + line + "\n")
		}
		b.WriteString("\n")
	}
	if analysis.ContextEnhancement != "" {
		b.WriteString(analysis.ContextEnhancement)
		b.WriteString("\n\n")
	}
	b.WriteString("user: ")
	b.WriteString(req.Message)
	return b.String()
}

// recordLine renders one stored record as a prompt context line.
func recordLine(record *models.EntityRecord) string {
	keys := make([]string, 0, len(record.Fields))
	for k := range record.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(record.Fields[k])))
	}
	return fmt.Sprintf("%s %q (%s)", record.Class, record.DisplayName(), strings.Join(parts, ", "))
}

// chatForward wraps the current question as a ready summarize action so
// a pinned peer can answer from its own side of the conversation.
func chatForward(req *Request) *models.PendingAction {
	text := transcript(req.RecentTurns)
	if text != "" {
		text += "\n"
	}
	text += "user: " + req.Message

	return &models.PendingAction{
		ID:             uuid.New().String(),
		ActionID:       "summarize",
		Label:          "Answer from the active workflow's node",
		Executor:       models.ExecutorSummarize,
		Data:           models.ActionData{Params: map[string]interface{}{"text": text}},
		MissingFields:  []string{},
		ReadyToExecute: true,
		UserID:         req.UserID,
		CreatedAt:      time.Now().UTC(),
		Status:         models.PendingReady,
	}
}
