package catalog

import (
	"errors"
	"fmt"
	"io/fs"

	"actionhub/internal/common/logger"
	"actionhub/internal/models"
	"actionhub/pkg/registry"
)

// seedBuiltins combines the compiled-in templates with the optional
// registry file. File templates override same-id built-ins and append
// the rest, so operators can tune prompts and fields without a rebuild.
func seedBuiltins(path string, log logger.Logger) ([]models.ActionDefinition, error) {
	defs := builtinTemplates()
	if path == "" {
		return defs, nil
	}

	reg, err := registry.LoadRegistry(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("registry file not found, using built-in templates only", map[string]interface{}{
				"path": path,
			})
			return defs, nil
		}
		return nil, fmt.Errorf("failed to load action registry: %w", err)
	}
	if err := registry.Validate(reg); err != nil {
		return nil, fmt.Errorf("invalid action registry: %w", err)
	}

	index := make(map[string]int, len(defs))
	for i, def := range defs {
		index[def.ID] = i
	}
	for _, tpl := range reg.Templates {
		def := templateDefinition(tpl)
		if i, ok := index[def.ID]; ok {
			defs[i] = def
			continue
		}
		index[def.ID] = len(defs)
		defs = append(defs, def)
	}

	log.Info("action registry loaded", map[string]interface{}{
		"path":      path,
		"templates": len(reg.Templates),
	})
	return defs, nil
}

func templateDefinition(tpl registry.Template) models.ActionDefinition {
	return models.ActionDefinition{
		ID:          tpl.ID,
		Label:       tpl.Label,
		Description: tpl.Description,
		Triggers:    tpl.Triggers,
		Executor:    tpl.Executor,
		Fields:      templateFields(tpl.Fields),
	}
}

func templateFields(fields []registry.Field) []models.FieldSpec {
	if len(fields) == 0 {
		return nil
	}
	out := make([]models.FieldSpec, 0, len(fields))
	for _, f := range fields {
		out = append(out, models.FieldSpec{
			Name:              f.Name,
			Type:              models.FieldType(f.Type),
			Required:          f.Required,
			Description:       f.Description,
			Relationship:      f.Relationship,
			RelatedCollection: f.RelatedCollection,
			Alternatives:      f.Alternatives,
			Items:             templateFields(f.Items),
			Fields:            templateFields(f.Fields),
		})
	}
	return out
}

// builtinTemplates returns the action set every node ships with.
func builtinTemplates() []models.ActionDefinition {
	return []models.ActionDefinition{
		{
			ID:          "email_reply",
			Label:       "Reply to Email",
			Description: "Compose and send a reply to an email",
			Triggers:    []string{"reply", "respond", "answer", "write back"},
			Executor:    models.ExecutorEmailSend,
			Fields: []models.FieldSpec{
				{Name: "to", Type: models.FieldString, Required: true, Description: "Recipient address or name"},
				{Name: "subject", Type: models.FieldString, Required: true},
				{Name: "body", Type: models.FieldString, Required: true, Description: "Message text"},
			},
		},
		{
			ID:          "email_forward",
			Label:       "Forward Email",
			Description: "Forward an email to someone else",
			Triggers:    []string{"forward", "pass along", "send this to"},
			Executor:    models.ExecutorEmailSend,
			Fields: []models.FieldSpec{
				{Name: "to", Type: models.FieldString, Required: true, Description: "Recipient address or name"},
				{Name: "note", Type: models.FieldString, Description: "Optional note above the forwarded content"},
			},
		},
		{
			ID:          "event_schedule",
			Label:       "Schedule Event",
			Description: "Put an event on the calendar",
			Triggers:    []string{"schedule", "meeting", "appointment", "calendar", "book"},
			Executor:    models.ExecutorEventSchedule,
			Fields: []models.FieldSpec{
				{Name: "title", Type: models.FieldString, Required: true},
				{Name: "start_time", Type: models.FieldString, Required: true, Description: "When the event starts"},
				{Name: "duration_minutes", Type: models.FieldNumber},
				{Name: "attendees", Type: models.FieldArray, Items: []models.FieldSpec{
					{Name: "name", Type: models.FieldString, Required: true},
					{Name: "email", Type: models.FieldString},
				}},
				{Name: "location", Type: models.FieldString},
			},
		},
		{
			ID:          "task_create",
			Label:       "Create Task",
			Description: "Add a task to the todo list",
			Triggers:    []string{"task", "todo", "remind me to"},
			Executor:    models.ExecutorTaskCreate,
			Fields: []models.FieldSpec{
				{Name: "title", Type: models.FieldString, Required: true},
				{Name: "due_date", Type: models.FieldString},
				{Name: "priority", Type: models.FieldString},
				{Name: "assignee", Type: models.FieldString, Relationship: true, RelatedCollection: "contacts"},
			},
		},
		{
			ID:          "summarize",
			Label:       "Summarize",
			Description: "Summarize a text or the recent conversation",
			Triggers:    []string{"summarize", "summary", "tldr", "tl;dr"},
			Executor:    models.ExecutorSummarize,
			Fields: []models.FieldSpec{
				{Name: "text", Type: models.FieldString, Description: "Text to summarize; defaults to the recent conversation"},
			},
		},
		{
			ID:          "translate",
			Label:       "Translate",
			Description: "Translate a text into another language",
			Triggers:    []string{"translate", "in spanish", "in german", "in french"},
			Executor:    models.ExecutorTranslate,
			Fields: []models.FieldSpec{
				{Name: "target_language", Type: models.FieldString, Required: true},
				{Name: "text", Type: models.FieldString, Description: "Text to translate; defaults to the previous turn"},
			},
		},
		{
			ID:          "notify",
			Label:       "Send Notification",
			Description: "Send a short push or SMS notification",
			Triggers:    []string{"notify", "text me", "sms", "ping me"},
			Executor:    models.ExecutorNotify,
			Fields: []models.FieldSpec{
				{Name: "message", Type: models.FieldString, Required: true},
				{Name: "phone", Type: models.FieldString, Description: "Target number; defaults to the account phone"},
			},
		},
	}
}
