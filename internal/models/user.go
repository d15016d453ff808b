package models

import "time"

// User is the local account an action runs on behalf of. TokensUsed is the
// usage ledger; remote nodes report their spend back and it is reconciled
// here.
type User struct {
	ID         string    `json:"id" db:"id"`
	Email      string    `json:"email" db:"email"`
	Name       string    `json:"name" db:"name"`
	Node       string    `json:"node,omitempty" db:"node"`
	TokensUsed int64     `json:"tokensUsed" db:"tokens_used"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}
