package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"actionhub/internal/common/genai"
	"actionhub/internal/common/logger"
	"actionhub/internal/common/validation"
	"actionhub/internal/models"
)

const (
	StrategyFunction = "function_call"
	StrategyJSON     = "json_prompt"
	StrategyRegex    = "regex_numeric"
)

const maxContextTurns = 4

// Result is one extraction pass over a message.
type Result struct {
	Params     map[string]interface{}
	Strategy   string
	TokensUsed int
}

// Extractor pulls action parameters out of a user message against a
// field schema. Collaborator failures degrade through strategies
// instead of failing the turn.
type Extractor struct {
	ai     *genai.Client
	logger logger.Logger
}

func NewExtractor(ai *genai.Client, log logger.Logger) *Extractor {
	return &Extractor{
		ai:     ai,
		logger: log.WithFields(map[string]interface{}{"component": "extraction"}),
	}
}

// Extract runs the strategy cascade: function-call extraction when the
// schema is strict, then a free-text JSON prompt, then the deterministic
// numeric fallback. The returned map only contains schema-recognized
// keys with non-empty values.
func (e *Extractor) Extract(ctx context.Context, message string, recentTurns []models.Turn, fields []models.FieldSpec) (*Result, error) {
	if len(fields) == 0 {
		return &Result{Params: map[string]interface{}{}, Strategy: StrategyJSON}, nil
	}

	tokens := 0
	if strictSchema(fields) {
		params, used, err := e.extractFunctionCall(ctx, message, recentTurns, fields)
		tokens += used
		if err == nil {
			return e.finish(fields, params, StrategyFunction, tokens), nil
		}
		e.logger.Warn("function-call extraction failed, trying JSON prompt", map[string]interface{}{
			"error": err.Error(),
		})
	}

	params, used, err := e.extractJSONPrompt(ctx, message, recentTurns, fields)
	tokens += used
	if err == nil {
		return e.finish(fields, params, StrategyJSON, tokens), nil
	}
	e.logger.Warn("JSON extraction failed, falling back to numeric scan", map[string]interface{}{
		"error": err.Error(),
	})

	return e.finish(fields, extractNumbers(message, fields), StrategyRegex, tokens), nil
}

func (e *Extractor) finish(fields []models.FieldSpec, params map[string]interface{}, strategy string, tokens int) *Result {
	cleaned := make(map[string]interface{}, len(params))
	for key, value := range params {
		if value == nil {
			continue
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		cleaned[key] = value
	}
	cleaned = RemapHallucinated(fields, cleaned)

	return &Result{Params: cleaned, Strategy: strategy, TokensUsed: tokens}
}

func (e *Extractor) extractFunctionCall(ctx context.Context, message string, recentTurns []models.Turn, fields []models.FieldSpec) (map[string]interface{}, int, error) {
	resp, err := e.ai.GenerateFast(ctx, &genai.Request{
		Prompt:       buildExtractionPrompt(message, recentTurns, fields),
		SystemPrompt: "You extract structured parameters from user messages. Only report values the user actually stated.",
		FunctionSchema: &genai.FunctionSchema{
			Name:        "extract_fields",
			Description: "Report the field values found in the message.",
			Parameters:  schemaDocument(fields),
		},
	})
	if err != nil {
		return nil, 0, err
	}

	params := map[string]interface{}{}
	if resp.FunctionCall != nil {
		if err := resp.FunctionCall.DecodeArguments(&params); err != nil {
			return nil, resp.TokensUsed, err
		}
		return params, resp.TokensUsed, nil
	}
	if err := genai.DecodeJSON(resp.Content, &params); err != nil {
		return nil, resp.TokensUsed, err
	}
	return params, resp.TokensUsed, nil
}

func (e *Extractor) extractJSONPrompt(ctx context.Context, message string, recentTurns []models.Turn, fields []models.FieldSpec) (map[string]interface{}, int, error) {
	resp, err := e.ai.GenerateFast(ctx, &genai.Request{
		Prompt: buildExtractionPrompt(message, recentTurns, fields),
		SystemPrompt: "You extract structured parameters from user messages. " +
			"Respond with a single JSON object and nothing else.",
	})
	if err != nil {
		return nil, 0, err
	}

	params := map[string]interface{}{}
	if err := genai.DecodeJSON(resp.Content, &params); err != nil {
		return nil, resp.TokensUsed, err
	}
	return params, resp.TokensUsed, nil
}

func buildExtractionPrompt(message string, recentTurns []models.Turn, fields []models.FieldSpec) string {
	parts := []string{"Extract the requested fields from the user's message."}

	var lines []string
	for _, f := range fields {
		line := fmt.Sprintf("- %s (%s)", f.Name, f.Type)
		if f.Required {
			line += ", required"
		}
		if f.Description != "" {
			line += ": " + f.Description
		}
		lines = append(lines, line)
	}
	parts = append(parts, "Fields:\n"+strings.Join(lines, "\n"))

	if len(recentTurns) > 0 {
		turns := recentTurns
		if len(turns) > maxContextTurns {
			turns = turns[len(turns)-maxContextTurns:]
		}
		var history []string
		for _, turn := range turns {
			history = append(history, fmt.Sprintf("%s: %s", turn.Role, turn.Content))
		}
		parts = append(parts, "Recent conversation:\n"+strings.Join(history, "\n"))
	}

	parts = append(parts, "Message: "+message)
	parts = append(parts, "Respond with a JSON object mapping field names to values. Omit fields the message does not provide.")

	return strings.Join(parts, "\n\n")
}

// schemaDocument renders the field list as a plain JSON-Schema map for
// the function-call request body.
func schemaDocument(fields []models.FieldSpec) map[string]interface{} {
	schema := validation.SchemaFromFields(fields, false)
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	return doc
}

func strictSchema(fields []models.FieldSpec) bool {
	for _, f := range fields {
		if f.Type == "" {
			return false
		}
	}
	return true
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// extractNumbers is the last-resort extractor: number-typed fields are
// filled from numeric literals in the message, in declaration order.
func extractNumbers(message string, fields []models.FieldSpec) map[string]interface{} {
	params := map[string]interface{}{}
	matches := numberPattern.FindAllString(message, -1)
	if len(matches) == 0 {
		return params
	}

	i := 0
	for _, f := range fields {
		if f.Type != models.FieldNumber || i >= len(matches) {
			continue
		}
		if value, err := strconv.ParseFloat(matches[i], 64); err == nil {
			params[f.Name] = value
			i++
		}
	}
	return params
}
