package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"edutrack/internal/logging"
)

// OpenRouterClient calls the OpenRouter API, walking an ordered chain of
// free models until one answers. Task routing reorders the chain per call.
type OpenRouterClient struct {
	apiKey     string
	baseURL    string
	siteURL    string
	siteName   string
	maxTokens  int
	httpClient *http.Client
	router     *ModelRouter
	limiter    *TierLimiter
	usage      usageMeter

	mu          sync.Mutex
	lastRequest time.Time

	// retryBaseDelay is the unit for exponential backoff on structured
	// retries; retryAfterCap bounds Retry-After waits. Tests shrink both.
	retryBaseDelay time.Duration
	retryAfterCap  time.Duration
}

// DefaultOpenRouterConfig returns sensible defaults for the free tier.
func DefaultOpenRouterConfig(apiKey string) OpenRouterConfig {
	return OpenRouterConfig{
		APIKey:   apiKey,
		BaseURL:  "https://openrouter.ai/api/v1",
		Timeout:  120 * time.Second,
		SiteName: "EduTrack",
		Models:   OpenRouterFreeModels,
	}
}

// NewOpenRouterClient creates an OpenRouter client with default configuration.
func NewOpenRouterClient(apiKey string) *OpenRouterClient {
	return NewOpenRouterClientWithConfig(DefaultOpenRouterConfig(apiKey))
}

// NewOpenRouterClientWithConfig creates an OpenRouter client with custom
// config. Zero-value fields fall back to the defaults.
func NewOpenRouterClientWithConfig(config OpenRouterConfig) *OpenRouterClient {
	def := DefaultOpenRouterConfig(config.APIKey)
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.SiteName == "" {
		config.SiteName = def.SiteName
	}
	if len(config.Models) == 0 {
		config.Models = def.Models
	}

	return &OpenRouterClient{
		apiKey:    config.APIKey,
		baseURL:   config.BaseURL,
		siteURL:   config.SiteURL,
		siteName:  config.SiteName,
		maxTokens: 4096,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		router:         NewModelRouter(config.Models),
		limiter:        NewTierLimiter(DefaultFlashRPM, DefaultFlashDaily, DefaultProRPM, DefaultProDaily),
		retryBaseDelay: time.Second,
		retryAfterCap:  30 * time.Second,
	}
}

// GenerateText sends a prompt and returns the completion text from the
// first free model in the task-ordered chain that answers.
func (c *OpenRouterClient) GenerateText(ctx context.Context, prompt string, tier ModelTier, temperature float64, task TaskType) (string, error) {
	effective := task
	if tier == TierPro {
		effective = TaskReasoning
	}
	candidates := c.router.CandidateModels(effective)

	messages := []ChatMessage{
		{Role: "system", Content: defaultSystemPrompt},
		{Role: "user", Content: prompt},
	}

	text, err := c.chat(ctx, messages, candidates, temperature, nil)
	if err != nil {
		return "", err
	}
	c.limiter.RecordCall(tier)
	return text, nil
}

// GenerateStructured sends a prompt with an enforced JSON response schema
// and returns the raw JSON payload. The schema rides both in response_format
// and in the system message, so models without response_format support can
// still comply.
func (c *OpenRouterClient) GenerateStructured(ctx context.Context, prompt, schemaJSON string, tier ModelTier, temperature float64) (string, error) {
	var schemaMap map[string]interface{}
	if err := json.Unmarshal([]byte(schemaJSON), &schemaMap); err != nil {
		return "", fmt.Errorf("invalid response schema: %w", err)
	}

	candidates := c.router.CandidateModels(structuredTask(tier))

	messages := []ChatMessage{
		{Role: "system", Content: structuredSystemPrompt(schemaJSON)},
		{Role: "user", Content: prompt},
	}
	respFormat := &ResponseFormat{
		Type: "json_schema",
		JSONSchema: &JSONSchemaSpec{
			Name:   "response",
			Strict: true,
			Schema: schemaMap,
		},
	}

	startTime := time.Now()
	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * c.retryBaseDelay)
		}

		text, err := c.chat(ctx, messages, candidates, temperature, respFormat)
		if err != nil {
			lastErr = err
			continue
		}

		decoded, ok := decodeJSONPayload(text)
		if !ok {
			lastErr = fmt.Errorf("structured response is not valid JSON")
			continue
		}

		c.limiter.RecordCall(tier)
		logging.API("[OpenRouter] structured: completed in %v", time.Since(startTime))
		return decoded, nil
	}

	logging.APIError("[OpenRouter] structured: retries exhausted after %v: %v", time.Since(startTime), lastErr)
	model := ""
	if len(candidates) > 0 {
		model = candidates[0]
	}
	return "", &GenerationError{Provider: ProviderOpenRouter, Model: model, Attempts: maxRetries + 1, Err: lastErr}
}

// chat walks the model chain until one returns a completion. 404 skips to
// the next model; 429 honors Retry-After (capped) before moving on; a 400
// that names response_format retries the same model without it.
func (c *OpenRouterClient) chat(ctx context.Context, messages []ChatMessage, models []string, temperature float64, respFormat *ResponseFormat) (string, error) {
	// Auto-apply timeout if context has no deadline (centralized timeout handling)
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()

	if c.apiKey == "" {
		logging.APIError("[OpenRouter] chat: API key not configured")
		return "", fmt.Errorf("API key not configured")
	}
	if len(models) == 0 {
		models = c.router.CandidateModels(TaskStandard)
	}

	// Rate limiting
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	var lastErr error

	for mi := 0; mi < len(models); mi++ {
		tryModel := models[mi]
		reqBody := ChatRequest{
			Model:          tryModel,
			Messages:       messages,
			MaxTokens:      c.maxTokens,
			Temperature:    temperature,
			ResponseFormat: respFormat,
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return "", fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		// OpenRouter-specific headers
		req.Header.Set("HTTP-Referer", c.siteURL)
		req.Header.Set("X-Title", c.siteName)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			logging.APIWarn("[OpenRouter] chat: model %s not found, trying next", tryModel)
			lastErr = fmt.Errorf("model %s not found (404)", tryModel)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfterDelay(resp.Header.Get("Retry-After"))
			if wait > c.retryAfterCap {
				wait = c.retryAfterCap
			}
			logging.APIWarn("[OpenRouter] chat: model %s rate-limited, trying next after %v", tryModel, wait)
			time.Sleep(wait)
			lastErr = fmt.Errorf("model %s rate-limited (429)", tryModel)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			// Some providers/models reject response_format; retry without it.
			if respFormat != nil && resp.StatusCode == http.StatusBadRequest {
				bodyStr := string(body)
				if strings.Contains(bodyStr, "response_format") || strings.Contains(bodyStr, "json_schema") {
					respFormat = nil
					lastErr = fmt.Errorf("%w (model=%s)", ErrSchemaNotSupported, tryModel)
					logging.APIWarn("[OpenRouter] chat: model %s rejected response_format, retrying without it", tryModel)
					mi-- // same model again, schema now rides only in the system message
					continue
				}
			}
			lastErr = fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
			continue
		}

		var chatResp ChatResponse
		if err := json.Unmarshal(body, &chatResp); err != nil {
			lastErr = fmt.Errorf("failed to parse response: %w", err)
			continue
		}

		if chatResp.Error != nil {
			lastErr = fmt.Errorf("API error: %s", chatResp.Error.Message)
			continue
		}

		if len(chatResp.Choices) == 0 {
			lastErr = fmt.Errorf("no completion returned")
			continue
		}

		if tryModel != models[0] {
			logging.API("[OpenRouter] chat: fallback used %s instead of %s", tryModel, models[0])
		}

		c.usage.record(chatResp.Usage.PromptTokens, chatResp.Usage.CompletionTokens, freePricing)

		response := strings.TrimSpace(chatResp.Choices[0].Message.Content)
		logging.APIDebug("[OpenRouter] chat: completed in %v model=%s response_len=%d",
			time.Since(startTime), tryModel, len(response))
		return response, nil
	}

	logging.APIError("[OpenRouter] chat: all models exhausted after %v: %v", time.Since(startTime), lastErr)
	return "", fmt.Errorf("%w: %v", ErrModelsExhausted, lastErr)
}

// UsageStats returns the usage snapshot for the cost guard.
func (c *OpenRouterClient) UsageStats() UsageStats {
	return UsageStats{
		DailyCalls:       c.limiter.DailyCalls(),
		TotalTokens:      c.usage.tokens(),
		EstimatedCostUSD: c.usage.costUSD(),
		Provider:         string(ProviderOpenRouter),
	}
}

func structuredSystemPrompt(schemaJSON string) string {
	return "You are a precise curriculum generation assistant. " +
		"You MUST respond with valid JSON matching this schema:\n" +
		schemaJSON +
		"\nRespond ONLY with the JSON object, no markdown fences, no extra text."
}

// retryAfterDelay parses a Retry-After header value in seconds. Missing or
// malformed values default to 10 seconds.
func retryAfterDelay(header string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(secs) * time.Second
}
