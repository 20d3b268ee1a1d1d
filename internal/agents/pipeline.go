package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"edutrack/internal/embedding"
	"edutrack/internal/logging"
	"edutrack/internal/perception"
	"edutrack/internal/schema"
	"edutrack/internal/vault"
)

// pipelineConfidence is the vault confidence assigned to curricula
// ingested through the direct URL pipeline, where extraction is
// rule-based rather than model-scored.
const pipelineConfidence = 0.8

// Pipeline runs a complete ingestion job for a known source URL: download,
// snapshot, document validation, extraction, standardization, tagging, and
// embedding. The job record tracks progress; validation holds park the job
// for manual review while infrastructure errors fail it.
type Pipeline struct {
	fetch     Fetcher
	gate      *Gatekeeper
	std       *Standardizer
	tagger    *Tagger
	embedder  *Embedder
	store     *vault.Vault
	snapshots *vault.SnapshotStore
	ttl       time.Duration
	now       func() time.Time
}

// NewPipeline wires the ingestion stages together. The TTL sets how long
// ingested curricula stay fresh; zero falls back to 180 days.
func NewPipeline(fetch Fetcher, llm perception.Client, engine embedding.Engine, store *vault.Vault, snapshots *vault.SnapshotStore, ttl time.Duration) *Pipeline {
	if ttl <= 0 {
		ttl = 180 * 24 * time.Hour
	}
	return &Pipeline{
		fetch:     fetch,
		gate:      NewGatekeeper(),
		std:       NewStandardizer(llm),
		tagger:    NewTagger(llm),
		embedder:  NewEmbedder(engine, store),
		store:     store,
		snapshots: snapshots,
		ttl:       ttl,
		now:       time.Now,
	}
}

// IngestReport summarizes one pipeline run.
type IngestReport struct {
	JobID        string           `json:"job_id"`
	CurriculumID string           `json:"curriculum_id,omitempty"`
	Status       schema.JobStatus `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	Competencies int              `json:"competencies"`
	Chunks       int              `json:"chunks"`
}

// Ingest runs the job end to end and records the outcome on the job row.
// The returned error covers infrastructure failures only; review holds are
// reported through the job status.
func (p *Pipeline) Ingest(ctx context.Context, jobID string, req *schema.NormalizedRequest, sourceURL string) (*IngestReport, error) {
	report := &IngestReport{JobID: jobID, Status: schema.JobFailed}

	if err := p.store.MarkJobStatus(ctx, jobID, schema.JobRunning, ""); err != nil {
		return report, err
	}
	logging.Ingest("Job %s started for %s", jobID, sourceURL)

	doc, err := p.fetch.Fetch(ctx, sourceURL)
	if err != nil {
		return p.fail(ctx, report, fmt.Errorf("download: %w", err))
	}

	checksum, path, err := p.snapshots.Save(doc.Data)
	if err != nil {
		return p.fail(ctx, report, fmt.Errorf("snapshot: %w", err))
	}
	logging.IngestDebug("Job %s snapshot %s at %s", jobID, checksum[:12], path)

	text, pages := ExtractText(doc)
	if strings.TrimSpace(text) == "" {
		return p.park(ctx, report, "no text extracted from document")
	}
	logging.IngestDebug("Job %s extracted %d chars over %d pages", jobID, len(text), pages)

	verdict := p.gate.ValidateDocument(sourceURL, text, p.now())
	if !verdict.Approved() {
		return p.park(ctx, report, verdict.Reason)
	}
	logging.IngestDebug("Job %s document approved, authority %s", jobID, verdict.AuthorityLevel)

	raw := HeuristicExtract(text)
	if len(raw) == 0 {
		return p.park(ctx, report, "no competencies extracted")
	}

	curriculumID := vault.CurriculumIDFromChecksum(checksum)
	report.CurriculumID = curriculumID

	now := p.now()
	curriculum := &schema.Curriculum{
		ID:              curriculumID,
		Country:         req.Country,
		ISO2:            req.ISO2,
		Jurisdiction:    schema.Jurisdiction{Level: schema.LevelNational},
		Grade:           req.Grade,
		Subject:         req.Subject,
		Status:          schema.CurriculumActive,
		Confidence:      pipelineConfidence,
		LastVerified:    now,
		TTLExpiry:       now.Add(p.ttl),
		SourceURL:       sourceURL,
		SourceAuthority: AuthorityName(ExtractDomain(sourceURL), req.Country),
	}
	if err := p.store.UpsertCurriculum(ctx, curriculum, checksum); err != nil {
		return p.fail(ctx, report, fmt.Errorf("storing curriculum: %w", err))
	}

	comps := make([]schema.Competency, len(raw))
	for i, r := range raw {
		comps[i] = schema.Competency{
			ID:                   fmt.Sprintf("%s-c%03d", curriculumID, i+1),
			CurriculumID:         curriculumID,
			Title:                r.Title,
			LearningOutcomes:     []string{"Complete the learning activities"},
			SourceChunkIDs:       []string{r.SourceChunkID},
			ExtractionConfidence: fallbackConfidence,
		}
	}
	if err := p.store.ReplaceCompetencies(ctx, curriculumID, comps); err != nil {
		return p.fail(ctx, report, fmt.Errorf("storing competencies: %w", err))
	}
	report.Competencies = len(comps)

	if err := p.standardizeAndTag(ctx, curriculumID, comps); err != nil {
		return p.fail(ctx, report, err)
	}

	embedded, err := p.embedder.Run(ctx, jobID, curriculumID, comps)
	if err != nil {
		return p.fail(ctx, report, fmt.Errorf("embedding: %w", err))
	}
	if embedded.Status != schema.AgentSuccess {
		return p.fail(ctx, report, fmt.Errorf("embedding produced no chunks"))
	}
	report.Chunks = embedded.EmbeddedChunks

	if err := p.store.MarkJobStatus(ctx, jobID, schema.JobSucceeded, ""); err != nil {
		return report, err
	}
	report.Status = schema.JobSucceeded
	logging.Ingest("Job %s succeeded: curriculum %s, %d competencies, %d chunks",
		jobID, curriculumID, report.Competencies, report.Chunks)
	return report, nil
}

// standardizeAndTag rewrites the stored competencies into canonical form
// and attaches predicted metadata. Both stages are index-mapped against
// the competency list and tolerate partial model output.
func (p *Pipeline) standardizeAndTag(ctx context.Context, curriculumID string, comps []schema.Competency) error {
	rawItems := make([]RawCompetency, len(comps))
	for i, comp := range comps {
		text := comp.Title
		if comp.Description != "" {
			text = comp.Title + " - " + comp.Description
		}
		rawItems[i] = RawCompetency{Text: text, SourceChunkID: comp.SourceChunkIDs[0]}
	}

	standardized, err := p.std.StandardizeBatch(ctx, rawItems)
	if err != nil {
		return fmt.Errorf("standardizing: %w", err)
	}

	var ids []string
	var items []schema.StandardizedCompetency
	for i, item := range standardized {
		if item == nil {
			continue
		}
		ids = append(ids, comps[i].ID)
		items = append(items, *item)
	}
	if len(items) > 0 {
		if err := p.store.UpsertStandardizedBatch(ctx, curriculumID, ids, items); err != nil {
			return fmt.Errorf("storing standardized: %w", err)
		}
	}

	for i, md := range p.tagger.PredictMetadata(ctx, standardized) {
		if md == nil {
			continue
		}
		if err := p.store.UpsertMetadata(ctx, comps[i].ID, md); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
	}
	return nil
}

// fail marks the job failed with the error as the reason.
func (p *Pipeline) fail(ctx context.Context, report *IngestReport, cause error) (*IngestReport, error) {
	report.Status = schema.JobFailed
	report.Reason = cause.Error()
	logging.IngestError("Job %s failed: %v", report.JobID, cause)
	if err := p.store.MarkJobStatus(ctx, report.JobID, schema.JobFailed, cause.Error()); err != nil {
		logging.IngestError("Job %s status update failed: %v", report.JobID, err)
	}
	return report, cause
}

// park holds the job for manual review with the given reason.
func (p *Pipeline) park(ctx context.Context, report *IngestReport, reason string) (*IngestReport, error) {
	report.Status = schema.JobPendingManualReview
	report.Reason = reason
	logging.IngestWarn("Job %s parked for review: %s", report.JobID, reason)
	if err := p.store.MarkJobStatus(ctx, report.JobID, schema.JobPendingManualReview, reason); err != nil {
		return report, err
	}
	return report, nil
}
