package models

// Intent is the closed set of conversational intent categories. Classifier
// output outside this set normalizes to IntentQuestion.
type Intent string

const (
	IntentConfirm        Intent = "confirm"
	IntentReject         Intent = "reject"
	IntentModify         Intent = "modify"
	IntentProvideData    Intent = "provide_data"
	IntentUseSuggestions Intent = "use_suggestions"
	IntentQuestion       Intent = "question"
	IntentRetrieval      Intent = "retrieval"
	IntentNewRequest     Intent = "new_request"
	IntentNewWorkflow    Intent = "new_workflow"
	IntentGreeting       Intent = "greeting"
	IntentComplexTask    Intent = "complex_task"
)

var knownIntents = map[Intent]bool{
	IntentConfirm:        true,
	IntentReject:         true,
	IntentModify:         true,
	IntentProvideData:    true,
	IntentUseSuggestions: true,
	IntentQuestion:       true,
	IntentRetrieval:      true,
	IntentNewRequest:     true,
	IntentNewWorkflow:    true,
	IntentGreeting:       true,
	IntentComplexTask:    true,
}

// ValidIntent reports whether s names a known intent category.
func ValidIntent(s string) bool {
	return knownIntents[Intent(s)]
}

// IntentAnalysis is the structured result of classifying one user turn.
// Field names match the JSON contract the classifier prompts for.
type IntentAnalysis struct {
	Intent             Intent                 `json:"intent"`
	Confidence         float64                `json:"confidence"`
	ExtractedData      map[string]interface{} `json:"extracted_data,omitempty"`
	ContextEnhancement string                 `json:"context_enhancement,omitempty"`
	SuggestedActionID  string                 `json:"suggested_action_id,omitempty"`
	ModificationTarget string                 `json:"modification_target,omitempty"`
}

// FallbackAnalysis is the degraded classification used when the language
// model is unreachable or returns unparseable output.
func FallbackAnalysis() *IntentAnalysis {
	return &IntentAnalysis{Intent: IntentQuestion, Confidence: 0.3}
}
