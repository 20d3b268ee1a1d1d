package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides_Vault(t *testing.T) {
	t.Run("DATABASE_URL overrides vault DSN", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://edu:secret@db:5432/edutrack")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "postgres://edu:secret@db:5432/edutrack", cfg.Vault.DatabaseURL)
	})

	t.Run("READONLY_DATABASE_URL overrides read-only DSN", func(t *testing.T) {
		t.Setenv("READONLY_DATABASE_URL", "postgres://edu_ro:secret@db:5432/edutrack")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "postgres://edu_ro:secret@db:5432/edutrack", cfg.Vault.ReadOnlyDatabaseURL)
	})

	t.Run("EDUTRACK_STORAGE_DIR overrides storage root", func(t *testing.T) {
		t.Setenv("EDUTRACK_STORAGE_DIR", "/var/lib/edutrack")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "/var/lib/edutrack", cfg.Vault.StorageDir)
	})

	t.Run("empty env leaves config value alone", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")

		cfg := &Config{Vault: VaultConfig{DatabaseURL: "data/edutrack.db"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "data/edutrack.db", cfg.Vault.DatabaseURL)
	})
}

func TestEnvOverrides_AI(t *testing.T) {
	t.Run("AI_PROVIDER overrides provider", func(t *testing.T) {
		t.Setenv("AI_PROVIDER", "openrouter")

		cfg := &Config{AI: AIConfig{Provider: "gemini"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "openrouter", cfg.AI.Provider)
	})

	t.Run("GOOGLE_API_KEY sets key", func(t *testing.T) {
		t.Setenv("GOOGLE_API_KEY", "g-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "g-key", cfg.AI.GoogleAPIKey)
	})

	t.Run("OPENROUTER_API_KEY sets key", func(t *testing.T) {
		t.Setenv("OPENROUTER_API_KEY", "or-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "or-key", cfg.AI.OpenRouterAPIKey)
	})

	t.Run("keys do not clobber each other", func(t *testing.T) {
		t.Setenv("GOOGLE_API_KEY", "g-key")
		t.Setenv("OPENROUTER_API_KEY", "or-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "g-key", cfg.AI.GoogleAPIKey)
		assert.Equal(t, "or-key", cfg.AI.OpenRouterAPIKey)
	})
}

func TestEnvOverrides_Policy(t *testing.T) {
	t.Run("GROUNDING_THRESHOLD parses float", func(t *testing.T) {
		t.Setenv("GROUNDING_THRESHOLD", "0.85")

		cfg := &Config{Grounding: GroundingConfig{Threshold: 0.7}}
		cfg.applyEnvOverrides()

		assert.Equal(t, 0.85, cfg.Grounding.Threshold)
	})

	t.Run("GROUNDING_THRESHOLD ignores garbage", func(t *testing.T) {
		t.Setenv("GROUNDING_THRESHOLD", "strict")

		cfg := &Config{Grounding: GroundingConfig{Threshold: 0.7}}
		cfg.applyEnvOverrides()

		assert.Equal(t, 0.7, cfg.Grounding.Threshold)
	})

	t.Run("GROUNDING_ACTION overrides action", func(t *testing.T) {
		t.Setenv("GROUNDING_ACTION", "BLOCK")

		cfg := &Config{Grounding: GroundingConfig{Action: ActionWarn}}
		cfg.applyEnvOverrides()

		assert.Equal(t, ActionBlock, cfg.Grounding.Action)
	})

	t.Run("HALLUCINATION_ACTION overrides action", func(t *testing.T) {
		t.Setenv("HALLUCINATION_ACTION", "BLOCK")

		cfg := &Config{Shadow: ShadowConfig{HallucinationAction: ActionWarn}}
		cfg.applyEnvOverrides()

		assert.Equal(t, ActionBlock, cfg.Shadow.HallucinationAction)
	})
}

func TestEnvOverrides_ShadowThresholds(t *testing.T) {
	t.Run("all five thresholds override", func(t *testing.T) {
		t.Setenv("SHADOW_TOPIC_SET_DELTA", "0.10")
		t.Setenv("SHADOW_ORDERING_DELTA", "0.30")
		t.Setenv("SHADOW_CONTENT_DELTA", "0.15")
		t.Setenv("SHADOW_EXTRA_TOPIC_RATE", "0.03")
		t.Setenv("SHADOW_OMISSION_RATE", "0.05")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 0.10, cfg.Shadow.TopicSetDelta)
		assert.Equal(t, 0.30, cfg.Shadow.OrderingDelta)
		assert.Equal(t, 0.15, cfg.Shadow.ContentDelta)
		assert.Equal(t, 0.03, cfg.Shadow.ExtraTopicRate)
		assert.Equal(t, 0.05, cfg.Shadow.OmissionRate)
	})

	t.Run("partial override keeps remaining defaults", func(t *testing.T) {
		t.Setenv("SHADOW_TOPIC_SET_DELTA", "0.10")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 0.10, cfg.Shadow.TopicSetDelta)
		assert.Equal(t, 0.20, cfg.Shadow.OrderingDelta)
		assert.Equal(t, 0.02, cfg.Shadow.OmissionRate)
	})

	t.Run("non-numeric threshold ignored", func(t *testing.T) {
		t.Setenv("SHADOW_ORDERING_DELTA", "loose")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 0.20, cfg.Shadow.OrderingDelta)
	})
}

func TestEnvOverrides_LoadApplies(t *testing.T) {
	t.Setenv("GROUNDING_ACTION", "BLOCK")
	t.Setenv("DATABASE_URL", "postgres://edu@db/edutrack")

	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, ActionBlock, cfg.Grounding.Action)
	assert.Equal(t, "postgres://edu@db/edutrack", cfg.Vault.DatabaseURL)
}
