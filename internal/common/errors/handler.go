// internal/common/errors/handler.go
package errors

import (
	"time"
)

// Boundary converts any error into a loggable StandardError and a chat-style
// message. Components call it at the boundary nearest the failure's origin;
// a processed turn degrades but never aborts.
type Boundary struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewBoundary(logger Logger) *Boundary {
	return &Boundary{logger: logger}
}

// Resolve normalizes, logs, and returns the message to surface in chat.
func (b *Boundary) Resolve(scope string, err error) string {
	stdErr := b.normalizeError(err)
	b.logError(scope, stdErr)
	return UserMessage(stdErr)
}

// normalizeError ensures we always have a StandardError.
func (b *Boundary) normalizeError(err error) *StandardError {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func (b *Boundary) logError(scope string, stdErr *StandardError) {
	fields := map[string]interface{}{
		"scope":         scope,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"errorCategory": GetErrorCategory(stdErr.Code),
	}
	for k, v := range stdErr.Metadata {
		fields[k] = v
	}
	b.logger.Error("Turn degraded by error", fields)
}
