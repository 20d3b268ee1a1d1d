package perception

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestOpenRouterClient(baseURL string, models ...string) *OpenRouterClient {
	cfg := DefaultOpenRouterConfig("test-key")
	cfg.BaseURL = baseURL
	if len(models) > 0 {
		cfg.Models = models
	}
	client := NewOpenRouterClientWithConfig(cfg)
	client.retryBaseDelay = time.Millisecond
	client.retryAfterCap = 5 * time.Millisecond
	return client
}

func chatResponse(content string) string {
	resp := map[string]interface{}{
		"id": "gen-123",
		"choices": []map[string]interface{}{
			{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 15,
			"total_tokens":      25,
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestOpenRouterClient_GenerateText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("Expected test-key authorization")
		}
		if r.Header.Get("X-Title") != "EduTrack" {
			t.Errorf("X-Title = %s, want EduTrack", r.Header.Get("X-Title"))
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.Model != "openrouter/free" {
			t.Errorf("Model = %s, want auto-router first", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("Unexpected messages: %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse("Hello, world!")))
	}))
	defer server.Close()

	client := newTestOpenRouterClient(server.URL)

	got, err := client.GenerateText(context.Background(), "Hello", TierFlash, 0.7, TaskStandard)
	if err != nil {
		t.Fatalf("GenerateText failed: %v", err)
	}
	if got != "Hello, world!" {
		t.Errorf("Expected 'Hello, world!', got %q", got)
	}

	stats := client.UsageStats()
	if stats.TotalTokens != 25 {
		t.Errorf("TotalTokens = %d, want 25", stats.TotalTokens)
	}
	if stats.EstimatedCostUSD != 0 {
		t.Errorf("Free models must cost nothing, got %f", stats.EstimatedCostUSD)
	}
	if stats.Provider != "openrouter" {
		t.Errorf("Provider = %s, want openrouter", stats.Provider)
	}
}

func TestOpenRouterClient_FallsBackOn404(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Model == "gone/model:free" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse("from fallback")))
	}))
	defer server.Close()

	client := newTestOpenRouterClient(server.URL, "gone/model:free", "alive/model:free")

	got, err := client.GenerateText(context.Background(), "p", TierFlash, 0.7, TaskStandard)
	if err != nil {
		t.Fatalf("GenerateText failed: %v", err)
	}
	if got != "from fallback" {
		t.Errorf("Unexpected completion: %q", got)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls (404 then fallback), got %d", calls)
	}
}

func TestOpenRouterClient_RetryAfterCapped(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// An hour-long Retry-After must be capped, not honored.
			w.Header().Set("Retry-After", "3600")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse("after wait")))
	}))
	defer server.Close()

	client := newTestOpenRouterClient(server.URL, "busy/model:free", "calm/model:free")

	start := time.Now()
	got, err := client.GenerateText(context.Background(), "p", TierFlash, 0.7, TaskStandard)
	if err != nil {
		t.Fatalf("GenerateText failed: %v", err)
	}
	if got != "after wait" {
		t.Errorf("Unexpected completion: %q", got)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Retry-After cap not applied, took %v", elapsed)
	}
}

func TestOpenRouterClient_AllModelsExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestOpenRouterClient(server.URL, "a/model:free", "b/model:free")

	_, err := client.GenerateText(context.Background(), "p", TierFlash, 0.7, TaskStandard)
	if !errors.Is(err, ErrModelsExhausted) {
		t.Errorf("expected ErrModelsExhausted, got %v", err)
	}
}

func TestOpenRouterClient_GenerateStructured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_schema" {
			t.Error("Structured call must set response_format json_schema")
		}
		if req.ResponseFormat != nil && req.ResponseFormat.JSONSchema != nil && !req.ResponseFormat.JSONSchema.Strict {
			t.Error("Structured schema should be strict")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse("```json\n{\"grade\": 9}\n```")))
	}))
	defer server.Close()

	client := newTestOpenRouterClient(server.URL)

	got, err := client.GenerateStructured(context.Background(), "p", `{"type": "object"}`, TierFlash, 0.1)
	if err != nil {
		t.Fatalf("GenerateStructured failed: %v", err)
	}
	if got != `{"grade": 9}` {
		t.Errorf("Unexpected payload: %q", got)
	}

	stats := client.UsageStats()
	if stats.DailyCalls[string(TierFlash)] != 1 {
		t.Errorf("flash daily calls = %d, want 1", stats.DailyCalls[string(TierFlash)])
	}
}

func TestOpenRouterClient_ResponseFormatRejectedFallsBack(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}

		if calls == 1 {
			if req.ResponseFormat == nil {
				t.Error("First attempt should carry response_format")
			}
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"message": "response_format is not supported by this model"}}`))
			return
		}

		if req.ResponseFormat != nil {
			t.Error("Retry should drop the rejected response_format")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse(`{"ok": true}`)))
	}))
	defer server.Close()

	client := newTestOpenRouterClient(server.URL, "solo/model:free")

	got, err := client.GenerateStructured(context.Background(), "p", `{"type": "object"}`, TierFlash, 0.1)
	if err != nil {
		t.Fatalf("GenerateStructured failed: %v", err)
	}
	if got != `{"ok": true}` {
		t.Errorf("Unexpected payload: %q", got)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls (rejected then bare), got %d", calls)
	}
}

func TestOpenRouterClient_TaskRoutingReordersChain(t *testing.T) {
	var firstModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if firstModel == "" {
			firstModel = req.Model
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse("ok")))
	}))
	defer server.Close()

	client := newTestOpenRouterClient(server.URL, "big/llama-70b:free", "fast/mini-flash:free")

	if _, err := client.GenerateText(context.Background(), "p", TierFlash, 0.7, TaskFormatting); err != nil {
		t.Fatalf("GenerateText failed: %v", err)
	}
	if firstModel != "fast/mini-flash:free" {
		t.Errorf("Formatting should route to the flash model first, got %s", firstModel)
	}
}

func TestOpenRouterClient_EmptyAPIKey(t *testing.T) {
	client := NewOpenRouterClient("")

	if _, err := client.GenerateText(context.Background(), "p", TierFlash, 0.7, TaskStandard); err == nil {
		t.Error("expected error when API key is missing")
	}
}

func TestRetryAfterDelay(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"7", 7 * time.Second},
		{" 15 ", 15 * time.Second},
		{"", 10 * time.Second},
		{"soon", 10 * time.Second},
		{"-3", 10 * time.Second},
	}
	for _, tt := range tests {
		if got := retryAfterDelay(tt.header); got != tt.want {
			t.Errorf("retryAfterDelay(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
