package genai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "actionhub/internal/common/errors"
)

// ==========================
// Test Helper Functions
// ==========================

func testConfig(baseURL string) *Config {
	return &Config{
		BaseURL:         baseURL,
		APIKey:          "test-key",
		Model:           "gpt-4o-mini",
		MaxTokens:       512,
		Temperature:     0.2,
		Timeout:         5 * time.Second,
		ClassifyTimeout: 2 * time.Second,
	}
}

func completionBody(content string, tokens int) string {
	data, _ := json.Marshal(map[string]interface{}{
		"content":     content,
		"success":     true,
		"tokens_used": tokens,
	})
	return string(data)
}

// ==========================
// Core Functionality Tests
// ==========================

func TestClient_Generate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/ai/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var reqBody map[string]interface{}
		json.NewDecoder(r.Body).Decode(&reqBody)
		assert.Equal(t, "Summarize this", reqBody["prompt"])
		assert.Equal(t, "gpt-4o-mini", reqBody["model"])
		assert.Equal(t, float64(512), reqBody["max_tokens"])
		assert.Equal(t, 0.7, reqBody["temperature"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionBody("A short summary.", 42)))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	resp, err := client.Generate(context.Background(), &Request{
		Prompt:      "Summarize this",
		Temperature: 0.7,
	})

	require.NoError(t, err)
	assert.Equal(t, "A short summary.", resp.Content)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.Nil(t, resp.FunctionCall)
}

func TestClient_Generate_FunctionCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody map[string]interface{}
		json.NewDecoder(r.Body).Decode(&reqBody)
		schema := reqBody["function_schema"].(map[string]interface{})
		assert.Equal(t, "extract_fields", schema["name"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"content": "",
			"function_call": {"name": "extract_fields", "arguments": {"title": "standup", "attendees": ["ana", "bo"]}},
			"success": true,
			"tokens_used": 18
		}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	resp, err := client.GenerateFast(context.Background(), &Request{
		Prompt: "schedule a standup with ana and bo",
		FunctionSchema: &FunctionSchema{
			Name:       "extract_fields",
			Parameters: map[string]interface{}{"type": "object"},
		},
	})

	require.NoError(t, err)
	require.NotNil(t, resp.FunctionCall)
	assert.Equal(t, "extract_fields", resp.FunctionCall.Name)

	var args struct {
		Title     string   `json:"title"`
		Attendees []string `json:"attendees"`
	}
	require.NoError(t, resp.FunctionCall.DecodeArguments(&args))
	assert.Equal(t, "standup", args.Title)
	assert.Equal(t, []string{"ana", "bo"}, args.Attendees)
}

func TestClient_Generate_APIError(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		expectedCode cerrors.ErrorCode
	}{
		{"internal server error", http.StatusInternalServerError, cerrors.ErrCodeAIServiceFailed},
		{"unauthorized", http.StatusUnauthorized, cerrors.ErrCodeAIAuthFailed},
		{"rate limited", http.StatusTooManyRequests, cerrors.ErrCodeAIRateLimited},
		{"payment required", http.StatusPaymentRequired, cerrors.ErrCodeAIQuotaExceeded},
		{"model not found", http.StatusNotFound, cerrors.ErrCodeAIModelNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			client := NewClient(testConfig(server.URL))
			resp, err := client.Generate(context.Background(), &Request{Prompt: "hi"})

			require.Error(t, err)
			assert.Nil(t, resp)

			var stdErr *cerrors.StandardError
			require.True(t, errors.As(err, &stdErr))
			assert.Equal(t, tt.expectedCode, stdErr.Code)
		})
	}
}

func TestClient_Generate_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Timeout = 50 * time.Millisecond
	client := NewClient(cfg)

	start := time.Now()
	resp, err := client.Generate(context.Background(), &Request{Prompt: "hi"})

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Less(t, time.Since(start), 2*time.Second, "a timeout must be terminal, not retried")

	var stdErr *cerrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, cerrors.ErrCodeAITimeout, stdErr.Code)
}

func TestClient_Generate_ErrorPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content": "", "success": false, "error": "model overloaded"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	_, err := client.Generate(context.Background(), &Request{Prompt: "hi"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestClient_Generate_EmptyCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content": "", "success": true}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	_, err := client.Generate(context.Background(), &Request{Prompt: "hi"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI_EMPTY_COMPLETION")
}

func TestClient_Generate_SingleAttempt(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	_, err := client.Generate(context.Background(), &Request{Prompt: "hi"})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

// ==========================
// Completion Parsing Tests
// ==========================

func TestStripFences(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"no fence", `{"a": 1}`, `{"a": 1}`},
		{"plain fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fence with padding", "  ```json\n{\"a\": 1}\n```  ", `{"a": 1}`},
		{"single line fence", "```{\"a\": 1}```", `{"a": 1}`},
		{"content on fence line", "```{\"a\": 1}\n```", `{"a": 1}`},
		{"plain text", "hello there", "hello there"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripFences(tt.in))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}

	t.Run("clean JSON", func(t *testing.T) {
		var p payload
		require.NoError(t, DecodeJSON(`{"intent": "confirm", "confidence": 0.9}`, &p))
		assert.Equal(t, "confirm", p.Intent)
		assert.Equal(t, 0.9, p.Confidence)
	})

	t.Run("fenced JSON", func(t *testing.T) {
		var p payload
		require.NoError(t, DecodeJSON("```json\n{\"intent\": \"reject\", \"confidence\": 0.8}\n```", &p))
		assert.Equal(t, "reject", p.Intent)
	})

	t.Run("prose around object", func(t *testing.T) {
		var p payload
		err := DecodeJSON(`Here is the analysis: {"intent": "modify", "confidence": 0.7} Hope that helps!`, &p)
		require.NoError(t, err)
		assert.Equal(t, "modify", p.Intent)
	})

	t.Run("no JSON at all", func(t *testing.T) {
		var p payload
		err := DecodeJSON("I could not classify that message.", &p)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedJSON))
	})
}

func TestFunctionCall_DecodeArguments(t *testing.T) {
	t.Run("object arguments", func(t *testing.T) {
		fc := &FunctionCall{Name: "f", Arguments: json.RawMessage(`{"k": "v"}`)}
		var out map[string]string
		require.NoError(t, fc.DecodeArguments(&out))
		assert.Equal(t, "v", out["k"])
	})

	t.Run("string-encoded arguments", func(t *testing.T) {
		fc := &FunctionCall{Name: "f", Arguments: json.RawMessage(`"{\"k\": \"v\"}"`)}
		var out map[string]string
		require.NoError(t, fc.DecodeArguments(&out))
		assert.Equal(t, "v", out["k"])
	})

	t.Run("empty arguments", func(t *testing.T) {
		fc := &FunctionCall{Name: "f", Arguments: nil}
		var out map[string]string
		err := fc.DecodeArguments(&out)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedJSON))
	})
}
