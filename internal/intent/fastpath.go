package intent

import (
	"strings"

	"actionhub/internal/models"
)

// fastPhrases short-circuits the common single-phrase turns. Exact
// match only after normalization; anything longer goes to the model.
var fastPhrases = map[string]models.Intent{
	"yes":      models.IntentConfirm,
	"yep":      models.IntentConfirm,
	"yeah":     models.IntentConfirm,
	"ok":       models.IntentConfirm,
	"okay":     models.IntentConfirm,
	"sure":     models.IntentConfirm,
	"confirm":  models.IntentConfirm,
	"do it":    models.IntentConfirm,
	"go ahead": models.IntentConfirm,
	"send it":  models.IntentConfirm,

	"no":         models.IntentReject,
	"nope":       models.IntentReject,
	"cancel":     models.IntentReject,
	"stop":       models.IntentReject,
	"abort":      models.IntentReject,
	"forget it":  models.IntentReject,
	"never mind": models.IntentReject,
	"nevermind":  models.IntentReject,

	"hi":             models.IntentGreeting,
	"hello":          models.IntentGreeting,
	"hey":            models.IntentGreeting,
	"good morning":   models.IntentGreeting,
	"good afternoon": models.IntentGreeting,
	"good evening":   models.IntentGreeting,
	"thanks":         models.IntentGreeting,
	"thank you":      models.IntentGreeting,
}

func fastPath(message string) (*models.IntentAnalysis, bool) {
	intent, ok := fastPhrases[normalizePhrase(message)]
	if !ok {
		return nil, false
	}
	return &models.IntentAnalysis{Intent: intent, Confidence: 1.0}, true
}

func normalizePhrase(message string) string {
	s := strings.ToLower(strings.TrimSpace(message))
	return strings.TrimRight(s, ".!? ")
}
