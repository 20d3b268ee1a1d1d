// Package perception provides rate-limited access to the text generation
// backends. Every model call in the pipeline goes through the Client
// interface: plain text generation with task-based routing, and structured
// generation with an enforced JSON schema. Two providers are supported,
// the Gemini API (default) and OpenRouter's free-model chain.
package perception

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"edutrack/internal/config"
	"edutrack/internal/logging"
	"edutrack/internal/validation"
)

// Client is the generation interface consumed by the rest of the system.
type Client interface {
	// GenerateText produces plain text for a prompt at the given tier.
	GenerateText(ctx context.Context, prompt string, tier ModelTier, temperature float64, task TaskType) (string, error)

	// GenerateStructured produces a JSON document matching schemaJSON.
	// Callers decode and validate the payload against their record types.
	GenerateStructured(ctx context.Context, prompt, schemaJSON string, tier ModelTier, temperature float64) (string, error)

	// UsageStats reports call counts, token totals, and estimated cost.
	UsageStats() UsageStats
}

// TierForFallback maps a request degradation tier to a model tier.
// Tier 0 takes the cost-optimized path; everything above escalates.
func TierForFallback(tier validation.FallbackTier) ModelTier {
	if tier == validation.Tier0 {
		return TierFlash
	}
	return TierPro
}

// DetectProvider returns the configured provider from the environment.
// Unknown values fall back to Gemini.
func DetectProvider() Provider {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("AI_PROVIDER")))
	switch Provider(provider) {
	case ProviderOpenRouter:
		return ProviderOpenRouter
	case ProviderGemini:
		return ProviderGemini
	}
	return ProviderGemini
}

// NewClient builds a client from the AI section of the config. The
// timeout usually comes from Config.GetAITimeout; zero keeps the default.
func NewClient(cfg config.AIConfig, timeout time.Duration) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case string(ProviderOpenRouter):
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("openrouter provider requires OPENROUTER_API_KEY")
		}
		orCfg := DefaultOpenRouterConfig(cfg.OpenRouterAPIKey)
		if timeout > 0 {
			orCfg.Timeout = timeout
		}
		logging.Boot("[Perception] using OpenRouter provider (free-model chain)")
		return NewOpenRouterClientWithConfig(orCfg), nil

	case string(ProviderGemini), "":
		if cfg.GoogleAPIKey == "" {
			return nil, fmt.Errorf("gemini provider requires GOOGLE_API_KEY")
		}
		gemCfg := DefaultGeminiConfig(cfg.GoogleAPIKey)
		if timeout > 0 {
			gemCfg.Timeout = timeout
		}
		if cfg.FlashRPM > 0 {
			gemCfg.FlashRPM = cfg.FlashRPM
		}
		if cfg.FlashDailyLimit > 0 {
			gemCfg.FlashDaily = cfg.FlashDailyLimit
		}
		if cfg.ProRPM > 0 {
			gemCfg.ProRPM = cfg.ProRPM
		}
		if cfg.ProDailyLimit > 0 {
			gemCfg.ProDaily = cfg.ProDailyLimit
		}
		logging.Boot("[Perception] using Gemini provider (flash=%s pro=%s)", gemCfg.FlashModel, gemCfg.ProModel)
		return NewGeminiClientWithConfig(gemCfg), nil
	}

	return nil, fmt.Errorf("unsupported AI provider %q (use gemini or openrouter)", cfg.Provider)
}

// newClientFromEnv builds the process-wide client from environment
// variables alone, mirroring DetectProvider.
func newClientFromEnv() (Client, error) {
	switch DetectProvider() {
	case ProviderOpenRouter:
		key := os.Getenv("OPENROUTER_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("openrouter provider requires OPENROUTER_API_KEY")
		}
		logging.Boot("[Perception] using OpenRouter provider (free-model chain)")
		return NewOpenRouterClient(key), nil
	default:
		key := os.Getenv("GOOGLE_API_KEY")
		if key == "" {
			key = os.Getenv("GOOGLE_AI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("gemini provider requires GOOGLE_API_KEY")
		}
		logging.Boot("[Perception] using Gemini provider")
		return NewGeminiClient(key), nil
	}
}

var (
	defaultOnce   sync.Once
	defaultClient Client
	defaultErr    error

	injectMu sync.RWMutex
	injected Client
)

// Default returns the process-wide client, building it from the
// environment on first use. SetDefault overrides it.
func Default() (Client, error) {
	injectMu.RLock()
	if injected != nil {
		c := injected
		injectMu.RUnlock()
		return c, nil
	}
	injectMu.RUnlock()

	defaultOnce.Do(func() {
		defaultClient, defaultErr = newClientFromEnv()
	})
	return defaultClient, defaultErr
}

// SetDefault overrides the client returned by Default and returns the
// previous override. Passing nil restores the environment-built client.
func SetDefault(c Client) Client {
	injectMu.Lock()
	prev := injected
	injected = c
	injectMu.Unlock()
	return prev
}
