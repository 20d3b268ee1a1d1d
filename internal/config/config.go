package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy actions for grounding and hallucination enforcement.
const (
	ActionBlock = "BLOCK"
	ActionWarn  = "WARN"
)

// Config holds all edutrack configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Model provider configuration
	AI AIConfig `yaml:"ai"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Curriculum vault configuration
	Vault VaultConfig `yaml:"vault"`

	// Grounding verification policy
	Grounding GroundingConfig `yaml:"grounding"`

	// Shadow divergence policy
	Shadow ShadowConfig `yaml:"shadow"`

	// Governance policy
	Governance GovernanceConfig `yaml:"governance"`

	// Cost budget caps
	Budget BudgetConfig `yaml:"budget"`

	// Latency SLAs
	SLA SLAConfig `yaml:"sla"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// AIConfig configures the model providers.
type AIConfig struct {
	Provider         string `yaml:"provider"` // gemini, openrouter
	GoogleAPIKey     string `yaml:"google_api_key"`
	OpenRouterAPIKey string `yaml:"openrouter_api_key"`
	Timeout          string `yaml:"timeout"`
	FlashRPM         int    `yaml:"flash_rpm"`
	FlashDailyLimit  int    `yaml:"flash_daily_limit"`
	ProRPM           int    `yaml:"pro_rpm"`
	ProDailyLimit    int    `yaml:"pro_daily_limit"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // genai, hash
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// VaultConfig configures the curriculum vault and file storage.
type VaultConfig struct {
	DatabaseURL         string `yaml:"database_url"`
	ReadOnlyDatabaseURL string `yaml:"readonly_database_url"`
	StorageDir          string `yaml:"storage_dir"` // Root for snapshots and shadow logs
	CurriculumTTL       string `yaml:"curriculum_ttl"`
}

// GroundingConfig configures the grounding verifier. Hot-reloadable.
type GroundingConfig struct {
	Threshold          float64 `yaml:"threshold"`           // Cosine similarity floor, production
	ReferenceThreshold float64 `yaml:"reference_threshold"` // Cosine similarity floor, reference runs
	Action             string  `yaml:"action"`              // BLOCK or WARN
}

// ShadowConfig configures shadow divergence thresholds. Hot-reloadable.
type ShadowConfig struct {
	TopicSetDelta       float64 `yaml:"topic_set_delta"`
	OrderingDelta       float64 `yaml:"ordering_delta"`
	ContentDelta        float64 `yaml:"content_delta"`
	ExtraTopicRate      float64 `yaml:"extra_topic_rate"`
	OmissionRate        float64 `yaml:"omission_rate"`
	HallucinationAction string  `yaml:"hallucination_action"` // BLOCK or WARN
	BreakerFailures     int     `yaml:"breaker_failures"`
	BreakerRecovery     string  `yaml:"breaker_recovery"`
}

// GovernanceConfig configures provenance enforcement.
type GovernanceConfig struct {
	ProvenanceMaxAge string `yaml:"provenance_max_age"`
	StrictProvenance bool   `yaml:"strict_provenance"`
}

// BudgetConfig configures the graph cost guard.
type BudgetConfig struct {
	RequestCostCap float64 `yaml:"request_cost_cap"` // USD per request
	DailyCostCap   float64 `yaml:"daily_cost_cap"`   // USD per day
}

// SLAConfig configures p95 latency targets in milliseconds.
type SLAConfig struct {
	FormattingMs     int     `yaml:"formatting_ms"`
	LessonPlanMs     int     `yaml:"lesson_plan_ms"`
	QuizMs           int     `yaml:"quiz_ms"`
	ShadowMultiplier float64 `yaml:"shadow_multiplier"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	Format     string          `yaml:"format"`     // json, text
	DebugMode  bool            `yaml:"debug_mode"` // Master toggle - false = no logging (production)
	Categories map[string]bool `yaml:"categories"` // Per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if debug_mode is false (production mode).
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "edutrack",
		Version: "1.0.0",

		AI: AIConfig{
			Provider:        "gemini",
			Timeout:         "120s",
			FlashRPM:        15,
			FlashDailyLimit: 1500,
			ProRPM:          2,
			ProDailyLimit:   50,
		},

		Embedding: EmbeddingConfig{
			Provider:   "genai",
			Model:      "gemini-embedding-001",
			Dimensions: 768,
			CacheSize:  2048,
		},

		Vault: VaultConfig{
			DatabaseURL:   "data/edutrack.db",
			StorageDir:    "data/storage",
			CurriculumTTL: "4320h", // 180 days
		},

		Grounding: GroundingConfig{
			Threshold:          0.7,
			ReferenceThreshold: 0.8,
			Action:             ActionWarn,
		},

		Shadow: ShadowConfig{
			TopicSetDelta:       0.05,
			OrderingDelta:       0.20,
			ContentDelta:        0.10,
			ExtraTopicRate:      0.01,
			OmissionRate:        0.02,
			HallucinationAction: ActionWarn,
			BreakerFailures:     5,
			BreakerRecovery:     "60s",
		},

		Governance: GovernanceConfig{
			ProvenanceMaxAge: "17520h", // 2 years
			StrictProvenance: true,
		},

		Budget: BudgetConfig{
			RequestCostCap: 0.02,
			DailyCostCap:   2.00,
		},

		SLA: SLAConfig{
			FormattingMs:     300,
			LessonPlanMs:     2000,
			QuizMs:           5000,
			ShadowMultiplier: 2.0,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.Vault.DatabaseURL = url
	}
	if url := os.Getenv("READONLY_DATABASE_URL"); url != "" {
		c.Vault.ReadOnlyDatabaseURL = url
	}
	if dir := os.Getenv("EDUTRACK_STORAGE_DIR"); dir != "" {
		c.Vault.StorageDir = dir
	}

	if provider := os.Getenv("AI_PROVIDER"); provider != "" {
		c.AI.Provider = provider
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.AI.GoogleAPIKey = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.AI.OpenRouterAPIKey = key
	}

	if v := os.Getenv("GROUNDING_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Grounding.Threshold = f
		}
	}
	if action := os.Getenv("GROUNDING_ACTION"); action != "" {
		c.Grounding.Action = action
	}
	if action := os.Getenv("HALLUCINATION_ACTION"); action != "" {
		c.Shadow.HallucinationAction = action
	}

	// Shadow divergence thresholds
	shadowVars := []struct {
		env    string
		target *float64
	}{
		{"SHADOW_TOPIC_SET_DELTA", &c.Shadow.TopicSetDelta},
		{"SHADOW_ORDERING_DELTA", &c.Shadow.OrderingDelta},
		{"SHADOW_CONTENT_DELTA", &c.Shadow.ContentDelta},
		{"SHADOW_EXTRA_TOPIC_RATE", &c.Shadow.ExtraTopicRate},
		{"SHADOW_OMISSION_RATE", &c.Shadow.OmissionRate},
	}
	for _, sv := range shadowVars {
		if v := os.Getenv(sv.env); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*sv.target = f
			}
		}
	}
}

// GetAITimeout returns the model call timeout as a duration.
func (c *Config) GetAITimeout() time.Duration {
	d, err := time.ParseDuration(c.AI.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetCurriculumTTL returns the curriculum freshness window as a duration.
func (c *Config) GetCurriculumTTL() time.Duration {
	d, err := time.ParseDuration(c.Vault.CurriculumTTL)
	if err != nil {
		return 180 * 24 * time.Hour
	}
	return d
}

// GetBreakerRecovery returns the shadow circuit breaker recovery timeout.
func (c *Config) GetBreakerRecovery() time.Duration {
	d, err := time.ParseDuration(c.Shadow.BreakerRecovery)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetProvenanceMaxAge returns the maximum accepted provenance age.
func (c *Config) GetProvenanceMaxAge() time.Duration {
	d, err := time.ParseDuration(c.Governance.ProvenanceMaxAge)
	if err != nil {
		return 2 * 365 * 24 * time.Hour
	}
	return d
}

// ValidProviders lists all supported model providers.
var ValidProviders = []string{"gemini", "openrouter"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.AI.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid AI provider: %s (valid: %v)", c.AI.Provider, ValidProviders)
	}

	switch c.AI.Provider {
	case "gemini":
		if c.AI.GoogleAPIKey == "" {
			return fmt.Errorf("gemini provider requires GOOGLE_API_KEY")
		}
	case "openrouter":
		if c.AI.OpenRouterAPIKey == "" {
			return fmt.Errorf("openrouter provider requires OPENROUTER_API_KEY")
		}
	}

	if c.Grounding.Action != ActionBlock && c.Grounding.Action != ActionWarn {
		return fmt.Errorf("invalid grounding action: %s (valid: BLOCK, WARN)", c.Grounding.Action)
	}
	if c.Shadow.HallucinationAction != ActionBlock && c.Shadow.HallucinationAction != ActionWarn {
		return fmt.Errorf("invalid hallucination action: %s (valid: BLOCK, WARN)", c.Shadow.HallucinationAction)
	}

	if c.Grounding.Threshold < 0 || c.Grounding.Threshold > 1 {
		return fmt.Errorf("grounding threshold %.2f outside [0,1]", c.Grounding.Threshold)
	}

	return nil
}

// ============================================================================
// User Config (.edutrack/config.json)
// ============================================================================

// UserLoggingConfig mirrors the logging block internal/logging reads.
type UserLoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories,omitempty"`
	Level      string          `json:"level,omitempty"`
	JSONFormat bool            `json:"json_format,omitempty"`
}

// UserConfig holds user-specific settings from .edutrack/config.json.
type UserConfig struct {
	// Provider selection (gemini, openrouter)
	Provider string `json:"provider,omitempty"`

	// API keys for each provider
	GoogleAPIKey     string `json:"google_api_key,omitempty"`
	OpenRouterAPIKey string `json:"openrouter_api_key,omitempty"`

	// UI settings
	Theme string `json:"theme,omitempty"`

	// Debug logging control, read directly by internal/logging
	Logging *UserLoggingConfig `json:"logging,omitempty"`
}

// FindWorkspaceRoot walks up from the working directory looking for a
// .edutrack directory or go.mod, falling back to the working directory.
func FindWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	originalDir := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, ".edutrack")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return originalDir, nil
}

// DefaultUserConfigPath returns the default path to .edutrack/config.json.
func DefaultUserConfigPath() string {
	root, err := FindWorkspaceRoot()
	if err != nil {
		return ".edutrack/config.json"
	}
	return filepath.Join(root, ".edutrack", "config.json")
}

// LoadUserConfig loads configuration from .edutrack/config.json.
func LoadUserConfig(path string) (*UserConfig, error) {
	cfg := &UserConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return empty config if file doesn't exist
		}
		return nil, fmt.Errorf("failed to read user config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to .edutrack/config.json.
func (c *UserConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write user config: %w", err)
	}

	return nil
}

// GetActiveProvider returns the provider and API key to use.
// Priority: explicit provider setting > first available key
func (c *UserConfig) GetActiveProvider() (provider string, apiKey string) {
	if c.Provider != "" {
		switch c.Provider {
		case "gemini":
			if c.GoogleAPIKey != "" {
				return "gemini", c.GoogleAPIKey
			}
		case "openrouter":
			if c.OpenRouterAPIKey != "" {
				return "openrouter", c.OpenRouterAPIKey
			}
		}
	}

	if c.GoogleAPIKey != "" {
		return "gemini", c.GoogleAPIKey
	}
	if c.OpenRouterAPIKey != "" {
		return "openrouter", c.OpenRouterAPIKey
	}

	return "", ""
}
