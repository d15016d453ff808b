package intent

import (
	"context"

	"actionhub/internal/common/genai"
	"actionhub/internal/models"
)

// Logger interface definition
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Request is one classification call. Pending, when set, is the
// session's active partial action and dominates the prompt context;
// Candidates only matter when no action is pending.
type Request struct {
	Message     string
	Pending     *models.PendingAction
	Candidates  []models.ActionDefinition
	RecentTurns []models.Turn
}

type Classifier struct {
	ai     *genai.Client
	logger Logger
}

func NewClassifier(ai *genai.Client, log Logger) *Classifier {
	return &Classifier{
		ai: ai,
		logger: log.With(map[string]interface{}{
			"component": "intent",
		}),
	}
}

// Classify maps one user turn onto the closed intent set. The fast path
// answers fixed affirmation/negation/greeting phrases without the
// language model. The slow path demands strict JSON and degrades to
// FallbackAnalysis on any collaborator or parse failure; the only error
// returned is the caller's own context ending.
func (c *Classifier) Classify(ctx context.Context, req *Request) (*models.IntentAnalysis, error) {
	if analysis, ok := fastPath(req.Message); ok {
		c.logger.Info("fast-path classification", map[string]interface{}{
			"intent": analysis.Intent,
		})
		return analysis, nil
	}

	resp, err := c.ai.GenerateFast(ctx, &genai.Request{
		Prompt:       buildClassifyPrompt(req),
		SystemPrompt: classifySystemPrompt,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("classification call failed, using fallback", map[string]interface{}{
			"error": err.Error(),
		})
		return models.FallbackAnalysis(), nil
	}

	analysis := &models.IntentAnalysis{}
	if err := genai.DecodeJSON(resp.Content, analysis); err != nil {
		c.logger.Warn("classification output unparseable, using fallback", map[string]interface{}{
			"error": err.Error(),
		})
		return models.FallbackAnalysis(), nil
	}

	c.validate(analysis, req)

	c.logger.Info("intent classified", map[string]interface{}{
		"intent":     analysis.Intent,
		"confidence": analysis.Confidence,
		"tokensUsed": resp.TokensUsed,
	})
	return analysis, nil
}

// validate normalizes model output in place: out-of-enum intents become
// question, confidence is clamped, a suggested action id must name a
// presented candidate, and extracted keys are held to the pending
// action's missing set.
func (c *Classifier) validate(analysis *models.IntentAnalysis, req *Request) {
	if !models.ValidIntent(string(analysis.Intent)) {
		c.logger.Warn("unknown intent from model", map[string]interface{}{
			"intent": analysis.Intent,
		})
		analysis.Intent = models.IntentQuestion
	}

	if analysis.Confidence < 0 {
		analysis.Confidence = 0
	}
	if analysis.Confidence > 1 {
		analysis.Confidence = 1
	}

	if analysis.SuggestedActionID != "" && !candidateExists(req.Candidates, analysis.SuggestedActionID) {
		c.logger.Warn("suggested action id is not a presented candidate", map[string]interface{}{
			"suggestedActionId": analysis.SuggestedActionID,
		})
		analysis.SuggestedActionID = ""
	}

	if req.Pending != nil && len(req.Pending.MissingFields) > 0 {
		analysis.ExtractedData = holdToMissingSet(analysis.ExtractedData, req.Pending.MissingFields)
	}
}

// holdToMissingSet drops extracted keys outside the missing set. The
// lone unknown key is remapped onto the lone outstanding field instead,
// which recovers the model answering "name" for "customer_name".
func holdToMissingSet(extracted map[string]interface{}, missing []string) map[string]interface{} {
	if len(extracted) == 0 {
		return extracted
	}

	allowed := make(map[string]bool, len(missing))
	for _, f := range missing {
		allowed[f] = true
	}

	out := make(map[string]interface{}, len(extracted))
	var unknown []string
	for key, value := range extracted {
		if allowed[key] {
			out[key] = value
			continue
		}
		unknown = append(unknown, key)
	}

	if len(unknown) == 1 && len(missing) == 1 {
		if _, taken := out[missing[0]]; !taken {
			out[missing[0]] = extracted[unknown[0]]
		}
	}
	return out
}

func candidateExists(candidates []models.ActionDefinition, id string) bool {
	for _, candidate := range candidates {
		if candidate.ID == id {
			return true
		}
	}
	return false
}
