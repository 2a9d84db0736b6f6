package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiStub(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *GeminiClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewGeminiClient(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "gemini-2.0-flash",
		Timeout: 2 * time.Second,
	})
	return srv, client
}

func okBody(text string) []byte {
	b, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}, "role": "model"}},
		},
		"usageMetadata": map[string]any{"totalTokenCount": 42},
	})
	return b
}

func TestCompleteWithSystem(t *testing.T) {
	var gotReq geminiRequest
	_, client := geminiStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		w.Write(okBody("hello"))
	})

	got, err := client.CompleteWithSystem(context.Background(), "system brief", "user prompt")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	require.NotNil(t, gotReq.SystemInstruction)
	assert.Equal(t, "system brief", gotReq.SystemInstruction.Parts[0].Text)
	require.Len(t, gotReq.Contents, 1)
	assert.Equal(t, "user prompt", gotReq.Contents[0].Parts[0].Text)
}

func TestCompleteChatSendsHistory(t *testing.T) {
	var gotReq geminiRequest
	_, client := geminiStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write(okBody("ok"))
	})

	history := []Message{
		{Role: "user", Content: "first question"},
		{Role: "model", Content: "first answer"},
	}
	_, err := client.CompleteChat(context.Background(), "", history, "follow up")
	require.NoError(t, err)

	require.Len(t, gotReq.Contents, 3)
	assert.Equal(t, "user", gotReq.Contents[0].Role)
	assert.Equal(t, "model", gotReq.Contents[1].Role)
	assert.Equal(t, "follow up", gotReq.Contents[2].Parts[0].Text)
}

func TestRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	_, client := geminiStub(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(okBody("recovered"))
	})

	got, err := client.Complete(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAPIErrorSurfaced(t *testing.T) {
	_, client := geminiStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 400, "message": "bad prompt", "status": "INVALID_ARGUMENT"},
		})
	})

	_, err := client.Complete(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad prompt")
}

func TestMissingAPIKey(t *testing.T) {
	client := NewGeminiClient(Config{BaseURL: "http://localhost:0"})
	_, err := client.Complete(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}
