package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"edutrack/internal/agents"
	"edutrack/internal/schema"
	"edutrack/internal/vault"
)

var (
	ingestCountry     string
	ingestISO2        string
	ingestGrade       string
	ingestSubject     string
	ingestSource      string
	ingestInstitution string
)

// ingestCmd runs the ingestion pipeline against a known source URL,
// bypassing search. Operators use it to load a curriculum whose official
// source they already have.
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a curriculum document from a known source URL",
	Long: `Downloads, screens, extracts, and stores a curriculum document.
The document still passes the gatekeeper: an unofficial or stale source
parks the job for manual review instead of entering the vault.

Example:
  edutrack ingest --country Nigeria --iso2 NG --grade "Grade 9" \
    --subject Biology --source https://education.gov.ng/curriculum/2023/biology.pdf`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCountry, "country", "", "country name (required)")
	ingestCmd.Flags().StringVar(&ingestISO2, "iso2", "", "ISO-3166 alpha-2 country code (required)")
	ingestCmd.Flags().StringVar(&ingestGrade, "grade", "", "grade or level (required)")
	ingestCmd.Flags().StringVar(&ingestSubject, "subject", "", "subject (required)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source document URL (required)")
	ingestCmd.Flags().StringVar(&ingestInstitution, "institution", "", "institution for university syllabi")
	for _, flag := range []string{"country", "iso2", "grade", "subject", "source"} {
		ingestCmd.MarkFlagRequired(flag)
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	snapshots, err := vault.NewSnapshotStore(storageDir(app.cfg))
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}

	mode := schema.ModeK12
	if ingestInstitution != "" {
		mode = schema.ModeSyllabus
	}
	req := &schema.NormalizedRequest{
		ID:          uuid.NewString(),
		RawPrompt:   fmt.Sprintf("ingest %s %s %s from %s", ingestCountry, ingestGrade, ingestSubject, ingestSource),
		Country:     ingestCountry,
		ISO2:        strings.ToUpper(ingestISO2),
		Grade:       strings.ToUpper(ingestGrade),
		Subject:     ingestSubject,
		Institution: ingestInstitution,
		Mode:        mode,
		Confidence:  1.0, // Operator-specified fields need no parsing
	}

	jobID := uuid.NewString()
	if err := app.store.EnqueueJob(ctx, jobID, ingestSource, "cli"); err != nil {
		return fmt.Errorf("enqueuing job: %w", err)
	}

	pipeline := agents.NewPipeline(
		agents.NewHTTPFetcher(60*time.Second),
		app.llm,
		app.engine,
		app.store,
		snapshots,
		app.cfg.GetCurriculumTTL(),
	)

	fmt.Println(dimStyle.Render("job " + jobID))
	report, err := pipeline.Ingest(ctx, jobID, req, ingestSource)
	if err != nil {
		return err
	}

	switch report.Status {
	case schema.JobSucceeded:
		fmt.Printf("%s curriculum %s (%d competencies, %d chunks)\n",
			successStyle.Render("ingested:"), report.CurriculumID, report.Competencies, report.Chunks)
	case schema.JobPendingManualReview:
		fmt.Printf("%s %s\n", warnStyle.Render("parked for review:"), report.Reason)
		fmt.Println(dimStyle.Render("approve or reject with: edutrack admin jobs"))
	default:
		return fmt.Errorf("ingestion failed: %s", report.Reason)
	}
	return nil
}
