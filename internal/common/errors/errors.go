// Package errors provides standardized error handling for the conversational
// action engine.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// AI collaborator failures, classified so each maps to its own
	// user-facing message.
	ErrCodeAIQuotaExceeded   ErrorCode = "AI_QUOTA_EXCEEDED"
	ErrCodeAIRateLimited     ErrorCode = "AI_RATE_LIMITED"
	ErrCodeAIAuthFailed      ErrorCode = "AI_AUTH_FAILED"
	ErrCodeAIModelNotFound   ErrorCode = "AI_MODEL_NOT_FOUND"
	ErrCodeAITimeout         ErrorCode = "AI_TIMEOUT"
	ErrCodeAIServiceFailed   ErrorCode = "AI_SERVICE_FAILED"
	ErrCodeExtractionParse   ErrorCode = "EXTRACTION_PARSE_FAILED"
	ErrCodeHallucinatedField ErrorCode = "HALLUCINATED_FIELD"

	// Action lifecycle.
	ErrCodeMissingRequiredFields ErrorCode = "MISSING_REQUIRED_FIELDS"
	ErrCodeActionNotFound        ErrorCode = "ACTION_NOT_FOUND"
	ErrCodeParamValidationFailed ErrorCode = "PARAM_VALIDATION_FAILED"
	ErrCodeLocalExecutionFailed  ErrorCode = "LOCAL_EXECUTION_FAILED"
	ErrCodeRemoteExecutionFailed ErrorCode = "REMOTE_EXECUTION_FAILED"
	ErrCodeRemoteNodeUnknown     ErrorCode = "REMOTE_NODE_UNKNOWN"
	ErrCodeExecutorDisabled      ErrorCode = "EXECUTOR_DISABLED"
	ErrCodeUnknownExecutor       ErrorCode = "UNKNOWN_EXECUTOR"

	// Infrastructure.
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeSearchQueryFailed        ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeSessionStoreFailed       ErrorCode = "SESSION_STORE_FAILED"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeWorkflowDispatchFailed   ErrorCode = "WORKFLOW_DISPATCH_FAILED"
	ErrCodeCRMSyncFailed            ErrorCode = "CRM_SYNC_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewAIServiceError classifies a text-generation failure from its transport
// error and HTTP status. Unrecognized failures fall back to the generic
// service error.
func NewAIServiceError(statusCode int, err error) *StandardError {
	code := ErrCodeAIServiceFailed
	message := "AI service request failed"
	retryable := true

	switch {
	case statusCode == 402 || (statusCode == 429 && errContains(err, "quota")):
		code = ErrCodeAIQuotaExceeded
		message = "AI usage quota exceeded"
		retryable = false
	case statusCode == 429:
		code = ErrCodeAIRateLimited
		message = "AI service rate limited"
	case statusCode == 401 || statusCode == 403:
		code = ErrCodeAIAuthFailed
		message = "AI service authentication failed"
		retryable = false
	case statusCode == 404:
		code = ErrCodeAIModelNotFound
		message = "Requested model not available"
		retryable = false
	case errContains(err, "deadline exceeded") || errContains(err, "timeout"):
		code = ErrCodeAITimeout
		message = "AI service timeout"
	}

	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Metadata:  map[string]interface{}{"statusCode": statusCode},
		Timestamp: time.Now().UTC(),
	}
}

// NewExtractionParseError creates a non-retryable parse error; callers fall
// back to the degraded intent rather than failing the turn.
func NewExtractionParseError(raw string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExtractionParse,
		Message:   "Model output could not be parsed as JSON",
		Details:   err.Error(),
		Retryable: false,
		Metadata:  map[string]interface{}{"rawOutput": truncate(raw, 256)},
		Timestamp: time.Now().UTC(),
	}
}

// NewHallucinatedFieldError records an extracted key that matches no field of
// the active template.
func NewHallucinatedFieldError(field string, known []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeHallucinatedField,
		Message:   "Extracted field not in template schema",
		Details:   fmt.Sprintf("field: %s", field),
		Retryable: false,
		Metadata:  map[string]interface{}{"knownFields": known},
		Timestamp: time.Now().UTC(),
	}
}

// NewMissingRequiredFieldsError creates the informational error used when a
// confirmation arrives before the action is complete. It is a prompt for
// more data, not a failure.
func NewMissingRequiredFieldsError(actionID string, missing []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingRequiredFields,
		Message:   "Action is not ready to execute",
		Details:   fmt.Sprintf("actionId: %s, missing: %s", actionID, strings.Join(missing, ", ")),
		Retryable: false,
		Metadata:  map[string]interface{}{"missingFields": missing},
		Timestamp: time.Now().UTC(),
	}
}

// NewActionNotFoundError creates a non-retryable unknown-template error.
func NewActionNotFoundError(actionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeActionNotFound,
		Message:   "Action template not found in catalog",
		Details:   fmt.Sprintf("actionId: %s", actionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewParamValidationFailedError creates a non-retryable schema validation error.
func NewParamValidationFailedError(actionID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeParamValidationFailed,
		Message:   "Action parameters failed schema validation",
		Details:   fmt.Sprintf("actionId: %s, %s", actionID, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewExecutorDisabledError marks an action whose executor is switched off
// in configuration.
func NewExecutorDisabledError(executor string) *StandardError {
	return &StandardError{
		Code:      ErrCodeExecutorDisabled,
		Message:   "This action is disabled on this node",
		Details:   fmt.Sprintf("executor: %s", executor),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnknownExecutorError marks a definition referencing an executor the
// dispatch table does not know.
func NewUnknownExecutorError(executor string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnknownExecutor,
		Message:   "No executor registered for this action",
		Details:   fmt.Sprintf("executor: %s", executor),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLocalExecutionError wraps a failure inside a local executor.
func NewLocalExecutionError(executor string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLocalExecutionFailed,
		Message:   "Action execution failed",
		Details:   fmt.Sprintf("executor: %s, error: %s", executor, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRemoteExecutionError wraps a failure from a peer node, keeping the node
// identity for the summary shown to the user.
func NewRemoteExecutionError(node string, statusCode int, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRemoteExecutionFailed,
		Message:   fmt.Sprintf("Remote node '%s' could not run the action", node),
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"node": node, "statusCode": statusCode},
		Timestamp: time.Now().UTC(),
	}
}

// NewRemoteNodeUnknownError creates a non-retryable routing error.
func NewRemoteNodeUnknownError(slug string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRemoteNodeUnknown,
		Message:   "No configured peer for node",
		Details:   fmt.Sprintf("node: %s", slug),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchQueryFailedError creates a retryable search error.
func NewSearchQueryFailedError(collection string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchQueryFailed,
		Message:   "Relationship search error",
		Details:   fmt.Sprintf("collection: %s, error: %s", collection, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionStoreFailedError creates a retryable session KV error.
func NewSessionStoreFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionStoreFailed,
		Message:   "Session store error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewWorkflowDispatchFailedError creates a retryable workflow engine error.
func NewWorkflowDispatchFailedError(processID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeWorkflowDispatchFailed,
		Message:   "Workflow dispatch failed",
		Details:   fmt.Sprintf("processId: %s, error: %s", processID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCRMSyncFailedError creates a retryable CRM mirror error.
func NewCRMSyncFailedError(entityClass string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCRMSyncFailed,
		Message:   "CRM mirror failed",
		Details:   fmt.Sprintf("entityClass: %s, error: %s", entityClass, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. User-Facing Conversion
// ==========================

// userMessages maps error codes to the chat-style message shown for them.
// Raw internals never reach the user.
var userMessages = map[ErrorCode]string{
	ErrCodeAIQuotaExceeded:       "I've used up my AI quota for now. Please try again later or check the account's plan.",
	ErrCodeAIRateLimited:         "The AI service is a bit overloaded right now. Give me a few seconds and try again.",
	ErrCodeAIAuthFailed:          "I couldn't authenticate with the AI service. The API key configuration needs attention.",
	ErrCodeAIModelNotFound:       "The configured AI model isn't available. Please check the model settings.",
	ErrCodeAITimeout:             "The AI service took too long to respond. Please try that again.",
	ErrCodeAIServiceFailed:       "Something went wrong talking to the AI service. Please try again.",
	ErrCodeExtractionParse:       "I had trouble understanding that. Could you rephrase?",
	ErrCodeLocalExecutionFailed:  "I couldn't complete that action. Please try again.",
	ErrCodeRemoteExecutionFailed: "The node that owns this data couldn't complete the action.",
	ErrCodeRemoteNodeUnknown:     "I don't know how to reach the node that owns this data.",
	ErrCodeWorkflowDispatchFailed: "I couldn't start the multi-step workflow for that. Please try again.",
}

// UserMessage returns the chat-style message for an error, with a generic
// fallback for unmapped codes.
func UserMessage(err error) string {
	if stdErr, ok := err.(*StandardError); ok {
		if msg, exists := userMessages[stdErr.Code]; exists {
			return msg
		}
		if stdErr.Code == ErrCodeMissingRequiredFields {
			if missing, ok := stdErr.Metadata["missingFields"].([]string); ok && len(missing) > 0 {
				return fmt.Sprintf("Before I can do that, I still need: %s.", strings.Join(missing, ", "))
			}
		}
	}
	return "Something went wrong processing that. Please try again."
}

// ==========================
// 4. Utility Functions
// ==========================

// IsRetryable checks whether an error is classified retryable.
func IsRetryable(err error) bool {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr.Retryable
	}
	return false
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "AI_") || strings.Contains(codeStr, "EXTRACTION") || strings.Contains(codeStr, "HALLUCINATED"):
		return "AI"
	case strings.Contains(codeStr, "EXECUTION") || strings.Contains(codeStr, "ACTION") || strings.Contains(codeStr, "MISSING") || strings.Contains(codeStr, "PARAM"):
		return "ACTION"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY") || strings.Contains(codeStr, "SESSION"):
		return "STORAGE"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "REMOTE") || strings.Contains(codeStr, "NODE"):
		return "FEDERATION"
	case strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "CRM"):
		return "INTEGRATION"
	case strings.Contains(codeStr, "WORKFLOW"):
		return "WORKFLOW"
	default:
		return "OTHER"
	}
}

func errContains(err error, substr string) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), substr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
