package models

// Turn is one prior exchange in the compact transcript handed to
// classification and extraction. Role is "user" or "assistant".
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
