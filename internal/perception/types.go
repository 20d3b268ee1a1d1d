package perception

import "time"

// defaultSystemPrompt is used for plain text generation when no system
// message is supplied by the caller.
const defaultSystemPrompt = "You are a helpful curriculum assistant. Ground every answer in the provided curriculum material. Do not invent standards, competencies, or sources."

// Provider identifies a model backend.
type Provider string

const (
	ProviderGemini     Provider = "gemini"
	ProviderOpenRouter Provider = "openrouter"
)

// ModelTier selects the capability/cost tier for a generation call.
// Flash is the cost-optimized default; Pro is the accuracy escalation.
type ModelTier string

const (
	TierFlash ModelTier = "flash"
	TierPro   ModelTier = "pro"
)

// Tier-to-model bindings for the Gemini backend.
const (
	GeminiFlashModel = "gemini-2.0-flash"
	GeminiProModel   = "gemini-1.5-pro"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey          string
	BaseURL         string
	FlashModel      string
	ProModel        string
	Timeout         time.Duration
	MaxOutputTokens int // Maximum tokens in response (default 8192)

	// Free-tier quota table. Zero values fall back to the defaults.
	FlashRPM   int
	FlashDaily int
	ProRPM     int
	ProDaily   int
}

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	SiteURL  string // Optional, sent as HTTP-Referer
	SiteName string // Optional, sent as X-Title
	Models   []string
}

// UsageStats is the usage snapshot consumed by the pipeline cost guard.
type UsageStats struct {
	DailyCalls       map[string]int64 `json:"daily_calls"`
	TotalTokens      int64            `json:"total_tokens"`
	EstimatedCostUSD float64          `json:"estimated_cost_usd"`
	Provider         string           `json:"provider"`
}

// GeminiContent represents content in the request.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart represents a part of the content.
type GeminiPart struct {
	Text string `json:"text,omitempty"`
}

// GeminiGenerationConfig represents generation parameters.
// Note: the Gemini REST API uses snake_case for the structured output fields.
type GeminiGenerationConfig struct {
	Temperature      float64                `json:"temperature,omitempty"`
	MaxOutputTokens  int                    `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string                 `json:"response_mime_type,omitempty"`
	ResponseSchema   map[string]interface{} `json:"response_schema,omitempty"`
}

// GeminiRequest represents the Gemini API request.
type GeminiRequest struct {
	Contents          []GeminiContent        `json:"contents"`
	SystemInstruction *GeminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// GeminiResponse represents the API response.
type GeminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []GeminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// ChatMessage represents a message in the OpenAI-compatible format
// used by OpenRouter.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat enforces structured output (JSON schema).
type ResponseFormat struct {
	Type       string          `json:"type"` // "json_schema"
	JSONSchema *JSONSchemaSpec `json:"json_schema,omitempty"`
}

// JSONSchemaSpec defines the structured output schema.
type JSONSchemaSpec struct {
	Name   string                 `json:"name"`
	Strict bool                   `json:"strict"`
	Schema map[string]interface{} `json:"schema"`
}

// ChatRequest represents the OpenRouter chat completion request.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatResponse represents the OpenRouter chat completion response.
type ChatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}
