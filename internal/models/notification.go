// internal/models/notification.go
package models

// EmailMessage is the payload the email executors hand to the SES sender.
type EmailMessage struct {
	To       []string `json:"to"`
	Cc       []string `json:"cc,omitempty"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	HTMLBody string   `json:"htmlBody,omitempty"`
	From     string   `json:"from"`
	ReplyTo  string   `json:"replyTo,omitempty"`
}
