package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"edutrack/internal/config"
	"edutrack/internal/embedding"
	"edutrack/internal/logging"
	"edutrack/internal/perception"
	"edutrack/internal/vault"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "edutrack",
	Short: "edutrack - grounded curriculum content generation",
	Long: `edutrack turns official curriculum documents into verified teaching
artifacts.

Cold-start requests run the ingestion chain (Scout -> Gatekeeper ->
Architect -> Embedder -> Vault); warm requests serve straight from the
vault. Every served artifact passes governance, grounding verification,
and a shadow-model divergence check before it leaves the harness.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			ws, err := config.FindWorkspaceRoot()
			if err != nil {
				return fmt.Errorf("resolving workspace: %w", err)
			}
			workspace = ws
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("failed to initialize category logs: %w", err)
		}
		if err := logging.InitAudit(workspace); err != nil {
			return fmt.Errorf("failed to initialize audit log: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// app holds the long-lived collaborators a subcommand wires together.
type app struct {
	cfg    *config.Config
	store  *vault.Vault
	engine embedding.Engine
	llm    perception.Client
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// resolveConfigPath returns the explicit --config path or the workspace
// default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(workspace, ".edutrack", "config.yaml")
}

// databasePath resolves the vault DSN relative to the workspace.
func databasePath(cfg *config.Config) string {
	dsn := cfg.Vault.DatabaseURL
	if filepath.IsAbs(dsn) || hasDSNScheme(dsn) {
		return dsn
	}
	return filepath.Join(workspace, dsn)
}

// hasDSNScheme reports whether the DSN names a driver explicitly
// (postgres://, file:) rather than a bare filesystem path.
func hasDSNScheme(dsn string) bool {
	for _, prefix := range []string{"postgres://", "postgresql://", "file:"} {
		if strings.HasPrefix(dsn, prefix) {
			return true
		}
	}
	return false
}

// openApp loads config and opens the writable collaborators.
func openApp() (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := vault.Open(databasePath(cfg), cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("opening vault: %w", err)
	}

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:   cfg.Embedding.Provider,
		APIKey:     os.Getenv("GOOGLE_API_KEY"),
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		CacheSize:  cfg.Embedding.CacheSize,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("building embedding engine: %w", err)
	}

	llm, err := perception.NewClient(cfg.AI, cfg.GetAITimeout())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("building model client: %w", err)
	}

	return &app{cfg: cfg, store: store, engine: engine, llm: llm}, nil
}

// storageDir is where snapshots and shadow logs land.
func storageDir(cfg *config.Config) string {
	dir := cfg.Vault.StorageDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(workspace, dir)
	}
	return dir
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace root (default: auto-detect)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: <workspace>/.edutrack/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall command timeout")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(selftestCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}
