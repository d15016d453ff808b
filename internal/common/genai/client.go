package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	cerrors "actionhub/internal/common/errors"
	commonhttp "actionhub/internal/common/http"
	"actionhub/internal/common/metrics"
)

// Sentinel errors for completion-level failures. Transport and HTTP
// failures are reported as *cerrors.StandardError instead.
var (
	ErrEmptyCompletion = errors.New("AI_EMPTY_COMPLETION")
	ErrMalformedJSON   = errors.New("AI_MALFORMED_JSON")
)

// ==========================================
// WIRE TYPES
// ==========================================

// Request is the body sent to POST {base}/api/ai/generate.
type Request struct {
	Prompt         string          `json:"prompt"`
	SystemPrompt   string          `json:"system_prompt,omitempty"`
	Model          string          `json:"model"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	FunctionSchema *FunctionSchema `json:"function_schema,omitempty"`
}

// FunctionSchema asks the collaborator to answer with a structured
// function call instead of free text.
type FunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type Response struct {
	Content      string        `json:"content"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	TokensUsed   int           `json:"tokens_used"`
}

type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// DecodeArguments unmarshals the function-call arguments into out.
// Some backends return the arguments as a JSON object, others as a
// string containing JSON; both forms are accepted.
func (fc *FunctionCall) DecodeArguments(out interface{}) error {
	raw := bytes.TrimSpace(fc.Arguments)
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty function arguments", ErrMalformedJSON)
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
		raw = []byte(inner)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return nil
}

// ==========================================
// CLIENT
// ==========================================

// Config holds the collaborator endpoint settings. Model, MaxTokens
// and Temperature act as per-request defaults.
type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	MaxTokens       int
	Temperature     float64
	Timeout         time.Duration
	ClassifyTimeout time.Duration
}

// Client talks to the text-generation collaborator. Calls are made
// exactly once: a timeout or failure is terminal for the turn, the
// caller degrades instead of retrying.
type Client struct {
	config *Config
	slow   *commonhttp.Client
	fast   *commonhttp.Client
}

func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	classifyTimeout := cfg.ClassifyTimeout
	if classifyTimeout <= 0 {
		classifyTimeout = 10 * time.Second
	}
	return &Client{
		config: cfg,
		slow:   commonhttp.NewClient(timeout),
		fast:   commonhttp.NewClient(classifyTimeout),
	}
}

// Generate performs a completion under the full generation budget.
func (c *Client) Generate(ctx context.Context, req *Request) (*Response, error) {
	return c.post(ctx, c.slow, "generate", req)
}

// GenerateFast performs a completion under the shorter classification
// budget. Used for turn preprocessing (intent, extraction) where the
// user is waiting on every call.
func (c *Client) GenerateFast(ctx context.Context, req *Request) (*Response, error) {
	return c.post(ctx, c.fast, "classify", req)
}

func (c *Client) post(ctx context.Context, hc *commonhttp.Client, operation string, req *Request) (*Response, error) {
	if req.Model == "" {
		req.Model = c.config.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.config.MaxTokens
	}

	start := time.Now()
	var resp Response
	err := hc.PostJSON(ctx, c.config.BaseURL+"/api/ai/generate", commonhttp.BearerHeaders(c.config.APIKey), req, &resp)
	metrics.GenAILatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err != nil {
		var statusErr *commonhttp.StatusError
		if errors.As(err, &statusErr) {
			return nil, cerrors.NewAIServiceError(statusErr.StatusCode, err)
		}
		return nil, cerrors.NewAIServiceError(0, err)
	}
	if resp.Error != "" {
		return nil, cerrors.NewAIServiceError(0, errors.New(resp.Error))
	}
	if resp.Content == "" && resp.FunctionCall == nil {
		return nil, cerrors.NewAIServiceError(0, ErrEmptyCompletion)
	}
	return &resp, nil
}

// DefaultTemperature exposes the configured sampling default for
// callers that build requests without an opinion of their own.
func (c *Client) DefaultTemperature() float64 {
	return c.config.Temperature
}

// ==========================================
// COMPLETION PARSING
// ==========================================

// StripFences removes a surrounding markdown code fence (``` or
// ```json) from a completion. Content without a fence is returned
// trimmed.
func StripFences(s string) string {
	out := strings.TrimSpace(s)
	if !strings.HasPrefix(out, "```") {
		return out
	}
	out = strings.TrimPrefix(out, "```")
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		head := strings.TrimSpace(out[:i])
		if head == "" || !strings.ContainsAny(head, "{[\"") {
			out = out[i+1:]
		}
	}
	out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	return strings.TrimSpace(out)
}

// DecodeJSON parses a completion that was prompted to answer with JSON
// only. Markdown fences are tolerated, as is prose around a single
// top-level object.
func DecodeJSON(content string, out interface{}) error {
	clean := StripFences(content)
	if err := json.Unmarshal([]byte(clean), out); err == nil {
		return nil
	}
	start := strings.IndexByte(clean, '{')
	end := strings.LastIndexByte(clean, '}')
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(clean[start:end+1]), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrMalformedJSON, snippet(clean))
}

func snippet(s string) string {
	if len(s) <= 120 {
		return s
	}
	return s[:117] + "..."
}
