package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"actionhub/internal/common/genai"
	"actionhub/internal/common/logger"
	"actionhub/internal/models"
)

func newTestExtractor(t *testing.T, handler http.HandlerFunc) (*Extractor, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	client := genai.NewClient(&genai.Config{
		BaseURL:         srv.URL,
		APIKey:          "test-key",
		Model:           "test-model",
		MaxTokens:       256,
		Temperature:     0.2,
		Timeout:         2 * time.Second,
		ClassifyTimeout: 2 * time.Second,
	})
	log := logger.NewZapAdapter(zaptest.NewLogger(t))
	return NewExtractor(client, log), srv.Close
}

func writeCompletion(t *testing.T, w http.ResponseWriter, resp genai.Response) {
	t.Helper()
	resp.Success = true
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func emailFields() []models.FieldSpec {
	return []models.FieldSpec{
		{Name: "subject", Type: models.FieldString, Required: true},
		{Name: "body", Type: models.FieldString, Required: true},
		{Name: "cc", Type: models.FieldString},
	}
}

func TestExtract_FunctionCall(t *testing.T) {
	var got genai.Request
	extractor, cleanup := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(t, w, genai.Response{
			FunctionCall: &genai.FunctionCall{
				Name:      "extract_fields",
				Arguments: json.RawMessage(`{"subject":"Q3 numbers","body":"see attached"}`),
			},
			TokensUsed: 11,
		})
	})
	defer cleanup()

	result, err := extractor.Extract(context.Background(), "send the Q3 numbers", nil, emailFields())
	require.NoError(t, err)

	assert.Equal(t, StrategyFunction, result.Strategy)
	assert.Equal(t, 11, result.TokensUsed)
	assert.Equal(t, "Q3 numbers", result.Params["subject"])
	assert.Equal(t, "see attached", result.Params["body"])

	require.NotNil(t, got.FunctionSchema)
	assert.Equal(t, "extract_fields", got.FunctionSchema.Name)
	assert.Equal(t, "object", got.FunctionSchema.Parameters["type"])
}

func TestExtract_FallsBackToJSONPrompt(t *testing.T) {
	attempts := 0
	extractor, cleanup := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		var req genai.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.FunctionSchema != nil {
			// Strategy one answers prose with no parsable payload.
			writeCompletion(t, w, genai.Response{Content: "the subject seems to be about numbers", TokensUsed: 7})
			return
		}
		writeCompletion(t, w, genai.Response{
			Content:    "```json\n{\"subject\": \"Q3 numbers\"}\n```",
			TokensUsed: 5,
		})
	})
	defer cleanup()

	result, err := extractor.Extract(context.Background(), "email about the Q3 numbers", nil, emailFields())
	require.NoError(t, err)

	assert.Equal(t, 2, attempts)
	assert.Equal(t, StrategyJSON, result.Strategy)
	assert.Equal(t, 12, result.TokensUsed, "tokens accumulate across strategy attempts")
	assert.Equal(t, "Q3 numbers", result.Params["subject"])
}

func TestExtract_NumericFallback(t *testing.T) {
	attempts := 0
	extractor, cleanup := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer cleanup()

	fields := []models.FieldSpec{
		{Name: "amount", Type: models.FieldNumber, Required: true},
		{Name: "installments", Type: models.FieldNumber},
	}
	result, err := extractor.Extract(context.Background(), "transfer 250.50 euros in 3 installments", nil, fields)
	require.NoError(t, err, "a dead collaborator degrades, it does not fail the turn")

	assert.Equal(t, 2, attempts)
	assert.Equal(t, StrategyRegex, result.Strategy)
	assert.Equal(t, 250.5, result.Params["amount"])
	assert.Equal(t, 3.0, result.Params["installments"])
}

func TestExtract_LooseSchemaSkipsFunctionCall(t *testing.T) {
	var schemas []*genai.FunctionSchema
	extractor, cleanup := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		var req genai.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		schemas = append(schemas, req.FunctionSchema)
		writeCompletion(t, w, genai.Response{Content: `{"note": "hi"}`, TokensUsed: 3})
	})
	defer cleanup()

	fields := []models.FieldSpec{{Name: "note", Required: true}}
	result, err := extractor.Extract(context.Background(), "note: hi", nil, fields)
	require.NoError(t, err)

	require.Len(t, schemas, 1)
	assert.Nil(t, schemas[0])
	assert.Equal(t, StrategyJSON, result.Strategy)
	assert.Equal(t, "hi", result.Params["note"])
}

func TestExtract_NoFieldsSkipsAI(t *testing.T) {
	extractor, cleanup := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty schema")
	})
	defer cleanup()

	result, err := extractor.Extract(context.Background(), "hello", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Params)
	assert.Zero(t, result.TokensUsed)
}

func TestExtract_CleansAndRemaps(t *testing.T) {
	extractor, cleanup := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(t, w, genai.Response{
			FunctionCall: &genai.FunctionCall{
				Name:      "extract_fields",
				Arguments: json.RawMessage(`{"topic":"standup","body":"see notes","cc":"  "}`),
			},
			TokensUsed: 4,
		})
	})
	defer cleanup()

	result, err := extractor.Extract(context.Background(), "about the standup", nil, emailFields())
	require.NoError(t, err)

	assert.Equal(t, "standup", result.Params["subject"], "lone unknown key maps onto the lone missing field")
	assert.Equal(t, "see notes", result.Params["body"])
	assert.NotContains(t, result.Params, "topic")
	assert.NotContains(t, result.Params, "cc", "blank values are dropped before readiness is judged")
}

func TestExtract_PromptCarriesRecentTurns(t *testing.T) {
	var prompt string
	extractor, cleanup := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		var req genai.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompt = req.Prompt
		writeCompletion(t, w, genai.Response{Content: `{}`})
	})
	defer cleanup()

	turns := []models.Turn{
		{Role: "user", Content: "turn one"},
		{Role: "assistant", Content: "turn two"},
		{Role: "user", Content: "turn three"},
		{Role: "assistant", Content: "turn four"},
		{Role: "user", Content: "turn five"},
	}
	_, err := extractor.Extract(context.Background(), "the subject is X", turns, emailFields())
	require.NoError(t, err)

	assert.Contains(t, prompt, "Message: the subject is X")
	assert.Contains(t, prompt, "assistant: turn four")
	assert.Contains(t, prompt, "user: turn five")
	assert.NotContains(t, prompt, "turn one", "history is capped to the most recent turns")
	assert.Contains(t, prompt, "- subject (string), required")
}
