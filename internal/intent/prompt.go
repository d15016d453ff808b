package intent

import (
	"encoding/json"
	"fmt"
	"strings"

	"actionhub/internal/models"
)

const classifySystemPrompt = "You classify user messages for a conversational action assistant. " +
	"Respond with a single strict JSON object and nothing else."

const (
	maxContextTurns  = 4
	maxCandidateRows = 12
)

var intentMenu = []struct {
	intent models.Intent
	hint   string
}{
	{models.IntentConfirm, "user approves executing the pending action"},
	{models.IntentReject, "user cancels or dismisses the pending action"},
	{models.IntentModify, "user changes a value already captured"},
	{models.IntentProvideData, "user supplies values for missing fields"},
	{models.IntentUseSuggestions, "user picks one of the assistant's suggestions"},
	{models.IntentQuestion, "general question, no action involved"},
	{models.IntentRetrieval, "user asks to look up existing data"},
	{models.IntentNewRequest, "user starts a new action"},
	{models.IntentNewWorkflow, "user starts a multi-step action"},
	{models.IntentGreeting, "greeting or small talk"},
	{models.IntentComplexTask, "multi-action task needing orchestration"},
}

func buildClassifyPrompt(req *Request) string {
	parts := []string{"Classify the user's message into exactly one intent."}

	var menu []string
	for _, entry := range intentMenu {
		menu = append(menu, fmt.Sprintf("- %s: %s", entry.intent, entry.hint))
	}
	parts = append(parts, "Intents:\n"+strings.Join(menu, "\n"))

	if req.Pending != nil {
		parts = append(parts, pendingContext(req.Pending))
	} else if len(req.Candidates) > 0 {
		parts = append(parts, candidateContext(req.Message, req.Candidates))
	}

	if len(req.RecentTurns) > 0 {
		turns := req.RecentTurns
		if len(turns) > maxContextTurns {
			turns = turns[len(turns)-maxContextTurns:]
		}
		var history []string
		for _, turn := range turns {
			history = append(history, fmt.Sprintf("%s: %s", turn.Role, turn.Content))
		}
		parts = append(parts, "Recent conversation:\n"+strings.Join(history, "\n"))
	}

	parts = append(parts, "Message: "+req.Message)
	parts = append(parts, `Respond with JSON: {"intent": "...", "confidence": 0.0-1.0, `+
		`"extracted_data": {...}, "context_enhancement": "...", `+
		`"suggested_action_id": "...", "modification_target": "..."}. `+
		`Omit keys you have nothing for.`)

	return strings.Join(parts, "\n\n")
}

func pendingContext(pending *models.PendingAction) string {
	lines := []string{
		fmt.Sprintf("Active action awaiting completion: %s", pending.Label),
	}
	if len(pending.Data.Params) > 0 {
		if raw, err := json.Marshal(pending.Data.Params); err == nil {
			lines = append(lines, "Captured so far: "+string(raw))
		}
	}
	if len(pending.MissingFields) > 0 {
		lines = append(lines, "Still missing: "+strings.Join(pending.MissingFields, ", "))
		lines = append(lines, "Keys in extracted_data must come from the missing list.")
	} else {
		lines = append(lines, "All fields are filled; the action awaits confirmation.")
	}
	return strings.Join(lines, "\n")
}

func candidateContext(message string, candidates []models.ActionDefinition) string {
	lines := []string{"Available actions:"}
	for _, c := range relevantCandidates(message, candidates) {
		line := fmt.Sprintf("- %s: %s", c.ID, c.Label)
		if c.Description != "" {
			line += " (" + c.Description + ")"
		}
		lines = append(lines, line)
	}
	lines = append(lines, "suggested_action_id must be one of the listed ids, or omitted.")
	return strings.Join(lines, "\n")
}

// relevantCandidates puts trigger-matched actions first, then caps the
// list so the prompt stays bounded on catalogs with many entity types.
func relevantCandidates(message string, candidates []models.ActionDefinition) []models.ActionDefinition {
	lower := strings.ToLower(message)
	var matched, rest []models.ActionDefinition
	for _, c := range candidates {
		if triggerHit(lower, c.Triggers) {
			matched = append(matched, c)
		} else {
			rest = append(rest, c)
		}
	}
	out := append(matched, rest...)
	if len(out) > maxCandidateRows {
		out = out[:maxCandidateRows]
	}
	return out
}

func triggerHit(lowerMessage string, triggers []string) bool {
	for _, t := range triggers {
		if t != "" && strings.Contains(lowerMessage, strings.ToLower(t)) {
			return true
		}
	}
	return false
}
