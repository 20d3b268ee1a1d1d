package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"edutrack/internal/logging"
)

// GeminiClient calls the Gemini REST API with per-tier rate limiting,
// daily quota escalation, and structured output enforcement.
type GeminiClient struct {
	apiKey          string
	baseURL         string
	flashModel      string
	proModel        string
	maxOutputTokens int
	httpClient      *http.Client
	limiter         *TierLimiter
	usage           usageMeter

	// retryBaseDelay is the unit for exponential backoff between attempts.
	// Tests shrink it.
	retryBaseDelay time.Duration
}

// DefaultGeminiConfig returns sensible defaults for the free tier.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:          apiKey,
		BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
		FlashModel:      GeminiFlashModel,
		ProModel:        GeminiProModel,
		Timeout:         120 * time.Second,
		MaxOutputTokens: 8192,
		FlashRPM:        DefaultFlashRPM,
		FlashDaily:      DefaultFlashDaily,
		ProRPM:          DefaultProRPM,
		ProDaily:        DefaultProDaily,
	}
}

// NewGeminiClient creates a Gemini client with default configuration.
func NewGeminiClient(apiKey string) *GeminiClient {
	return NewGeminiClientWithConfig(DefaultGeminiConfig(apiKey))
}

// NewGeminiClientWithConfig creates a Gemini client with custom config.
// Zero-value fields fall back to the defaults.
func NewGeminiClientWithConfig(config GeminiConfig) *GeminiClient {
	def := DefaultGeminiConfig(config.APIKey)
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.FlashModel == "" {
		config.FlashModel = def.FlashModel
	}
	if config.ProModel == "" {
		config.ProModel = def.ProModel
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxOutputTokens <= 0 {
		config.MaxOutputTokens = def.MaxOutputTokens
	}

	return &GeminiClient{
		apiKey:          config.APIKey,
		baseURL:         config.BaseURL,
		flashModel:      config.FlashModel,
		proModel:        config.ProModel,
		maxOutputTokens: config.MaxOutputTokens,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:        NewTierLimiter(config.FlashRPM, config.FlashDaily, config.ProRPM, config.ProDaily),
		retryBaseDelay: time.Second,
	}
}

func (c *GeminiClient) modelFor(tier ModelTier) string {
	if tier == TierPro {
		return c.proModel
	}
	return c.flashModel
}

// GenerateText sends a prompt and returns the completion text. The task
// hint only affects OpenRouter model routing; the Gemini backend selects a
// model by tier alone.
func (c *GeminiClient) GenerateText(ctx context.Context, prompt string, tier ModelTier, temperature float64, task TaskType) (string, error) {
	genCfg := GeminiGenerationConfig{
		Temperature:     temperature,
		MaxOutputTokens: c.maxOutputTokens,
	}
	return c.generate(ctx, prompt, tier, genCfg, false)
}

// GenerateStructured sends a prompt with an enforced JSON response schema
// and returns the raw JSON payload. Validated decoding happens at call
// sites against their record types.
func (c *GeminiClient) GenerateStructured(ctx context.Context, prompt, schemaJSON string, tier ModelTier, temperature float64) (string, error) {
	var schemaMap map[string]interface{}
	if err := json.Unmarshal([]byte(schemaJSON), &schemaMap); err != nil {
		return "", fmt.Errorf("invalid response schema: %w", err)
	}

	genCfg := GeminiGenerationConfig{
		Temperature:      temperature,
		MaxOutputTokens:  c.maxOutputTokens,
		ResponseMimeType: "application/json",
		ResponseSchema:   schemaMap,
	}
	return c.generate(ctx, prompt, tier, genCfg, true)
}

func (c *GeminiClient) generate(ctx context.Context, prompt string, tier ModelTier, genCfg GeminiGenerationConfig, structured bool) (string, error) {
	// Auto-apply timeout if context has no deadline (centralized timeout handling)
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()

	if c.apiKey == "" {
		logging.APIError("[Gemini] generate: API key not configured")
		return "", fmt.Errorf("API key not configured")
	}

	tier, err := c.limiter.Acquire(ctx, tier)
	if err != nil {
		return "", err
	}
	model := c.modelFor(tier)
	logging.APIDebug("[Gemini] generate: model=%s structured=%t prompt_len=%d", model, structured, len(prompt))

	reqBody := GeminiRequest{
		Contents: []GeminiContent{
			{
				Role:  "user",
				Parts: []GeminiPart{{Text: prompt}},
			},
		},
		SystemInstruction: &GeminiContent{
			Parts: []GeminiPart{{Text: defaultSystemPrompt}},
		},
		GenerationConfig: genCfg,
	}

	// Construct URL with API key
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)

	// Retry loop for rate limits and transient failures
	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * c.retryBaseDelay)
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return "", fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

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

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			// Some models reject response_schema; retry without it.
			if structured && reqBody.GenerationConfig.ResponseSchema != nil && resp.StatusCode == http.StatusBadRequest {
				bodyStr := string(body)
				if strings.Contains(bodyStr, "response_schema") || strings.Contains(bodyStr, "response_mime_type") ||
					strings.Contains(bodyStr, "responseSchema") || strings.Contains(bodyStr, "responseMimeType") {
					reqBody.GenerationConfig.ResponseSchema = nil
					lastErr = fmt.Errorf("%w (model=%s)", ErrSchemaNotSupported, model)
					logging.APIWarn("[Gemini] generate: model=%s rejected response_schema, retrying without it", model)
					continue
				}
			}
			return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var geminiResp GeminiResponse
		if err := json.Unmarshal(body, &geminiResp); err != nil {
			lastErr = fmt.Errorf("failed to parse response: %w", err)
			continue
		}

		if geminiResp.Error != nil {
			return "", fmt.Errorf("API error: %s", geminiResp.Error.Message)
		}

		if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
			lastErr = fmt.Errorf("no completion returned")
			continue
		}

		var result strings.Builder
		for _, part := range geminiResp.Candidates[0].Content.Parts {
			result.WriteString(part.Text)
		}
		text := strings.TrimSpace(result.String())

		if structured {
			decoded, ok := decodeJSONPayload(text)
			if !ok {
				lastErr = fmt.Errorf("structured response is not valid JSON")
				continue
			}
			text = decoded
		}

		c.limiter.RecordCall(tier)
		c.usage.record(geminiResp.UsageMetadata.PromptTokenCount, geminiResp.UsageMetadata.CandidatesTokenCount, tierPricing[tier])

		logging.API("[Gemini] generate: completed in %v model=%s total_tokens=%d",
			time.Since(startTime), model, geminiResp.UsageMetadata.TotalTokenCount)
		return text, nil
	}

	logging.APIError("[Gemini] generate: retries exhausted after %v: %v", time.Since(startTime), lastErr)
	return "", &GenerationError{Provider: ProviderGemini, Model: model, Attempts: maxRetries + 1, Err: lastErr}
}

// UsageStats returns the usage snapshot for the cost guard.
func (c *GeminiClient) UsageStats() UsageStats {
	return UsageStats{
		DailyCalls:       c.limiter.DailyCalls(),
		TotalTokens:      c.usage.tokens(),
		EstimatedCostUSD: c.usage.costUSD(),
		Provider:         string(ProviderGemini),
	}
}

// decodeJSONPayload validates text as a JSON document, stripping one
// leading markdown code fence if needed. Returns the payload and whether
// it decoded.
func decodeJSONPayload(text string) (string, bool) {
	if json.Valid([]byte(text)) {
		return text, true
	}
	stripped := stripCodeFence(text)
	if json.Valid([]byte(stripped)) {
		return stripped, true
	}
	return text, false
}

// stripCodeFence removes one leading ``` fence (with optional language tag)
// and its matching trailing fence.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if idx := strings.Index(text, "\n"); idx >= 0 {
		text = text[idx+1:]
	} else {
		text = text[3:]
	}
	if strings.HasSuffix(text, "```") {
		text = text[:len(text)-3]
	}
	return strings.TrimSpace(text)
}
