package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"edutrack/internal/agents"
	"edutrack/internal/config"
	"edutrack/internal/graph"
	"edutrack/internal/harness"
	"edutrack/internal/perception"
	"edutrack/internal/vault"
)

var (
	generatePlain   bool
	generateNoWatch bool
)

// generateCmd runs one request through the orchestration graph.
var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Generate a grounded artifact from a natural-language request",
	Long: `Runs a request through the full pipeline. A curriculum already in
the vault serves immediately; otherwise the cold-start chain ingests one
first (search, screening, extraction, embedding, storage) and then
generates.

Example:
  edutrack generate "Create a lesson plan for Grade 9 Biology in Nigeria"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().BoolVar(&generatePlain, "plain", false, "print raw markdown without terminal rendering")
	generateCmd.Flags().BoolVar(&generateNoWatch, "no-watch", false, "disable policy hot-reload for this run")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	session, err := vault.OpenReadOnly(databasePath(app.cfg), os.Getenv("READONLY_DATABASE_URL"))
	if err != nil {
		return fmt.Errorf("opening read-only session: %w", err)
	}
	defer session.Close()

	h, err := harness.New(ctx, harness.Config{
		Session:    session,
		LLM:        app.llm,
		Engine:     app.engine,
		Policy:     app.cfg,
		StorageDir: storageDir(app.cfg),
		Primary: harness.ModelProvenance{
			Provider: app.cfg.AI.Provider,
			ModelID:  perception.GeminiFlashModel,
		},
		Shadow: harness.ModelProvenance{
			Provider: app.cfg.AI.Provider,
			ModelID:  perception.GeminiProModel,
		},
	})
	if err != nil {
		return err
	}

	if !generateNoWatch {
		watcher, werr := config.NewPolicyWatcher(resolveConfigPath(), app.cfg)
		if werr == nil {
			watcher.OnReload(func() {
				h.ApplyPolicy(watcher.Grounding(), watcher.Shadow())
			})
			if serr := watcher.Start(ctx); serr == nil {
				defer watcher.Stop()
			}
		} else {
			logger.Warn("policy watcher unavailable", zap.Error(werr))
		}
	}

	events := make(chan graph.Event, 64)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for event := range events {
			printEvent(event)
		}
	}()

	engine, err := graph.NewEngine(graph.Config{
		Store:      app.store,
		Scout:      agents.NewScout(agents.NewDuckDuckGoSearch(30 * time.Second)),
		Gatekeeper: agents.NewGatekeeper(),
		Architect: agents.NewArchitect(agents.NewHTTPFetcher(60*time.Second), app.llm, agents.ArchitectConfig{
			CacheDir: storageDir(app.cfg),
		}),
		Embedder:      agents.NewEmbedder(app.engine, app.store),
		LLM:           app.llm,
		Generator:     harness.NewGraphGenerator(h),
		SnapshotDir:   storageDir(app.cfg),
		CurriculumTTL: app.cfg.GetCurriculumTTL(),
		Events:        events,
	})
	if err != nil {
		return err
	}

	st := graph.NewState(uuid.NewString(), strings.Join(args, " "))
	result, err := engine.Run(ctx, st)
	close(events)
	<-drained
	if err != nil {
		return err
	}

	return printResult(result)
}

func printEvent(event graph.Event) {
	switch event.Type {
	case "node_started":
		fmt.Fprintln(os.Stderr, dimStyle.Render("  -> ")+nodeStyle.Render(event.Node))
	case "node_failed":
		fmt.Fprintln(os.Stderr, errorStyle.Render("  !! ")+event.Node+dimStyle.Render(" "+event.Message))
	}
}

func printResult(result *graph.Result) error {
	switch result.Status {
	case graph.StatusCompleted:
		gen := result.Generation
		if generatePlain {
			fmt.Println(gen.Markdown)
		} else {
			fmt.Println(renderMarkdown(gen.Markdown))
		}
		fmt.Println(dimStyle.Render(gen.Attribution))
		fmt.Printf("%s coverage %.0f%%, %d citations\n",
			successStyle.Render("served:"), gen.Coverage*100, len(gen.Citations))
		return nil

	case graph.StatusNeedsReview:
		fmt.Println(warnStyle.Render("needs review: ") + result.Message)
		fmt.Println(dimStyle.Render("request " + result.State.RequestID + " was queued for manual review (" + result.ErrorCode + ")"))
		return nil

	default:
		return fmt.Errorf("%s: %s (%s)", result.Status, result.Message, result.ErrorCode)
	}
}
