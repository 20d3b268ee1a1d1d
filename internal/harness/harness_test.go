package harness

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"edutrack/internal/config"
	"edutrack/internal/embedding"
	"edutrack/internal/governance"
	"edutrack/internal/grounding"
	"edutrack/internal/perception"
	"edutrack/internal/schema"
	"edutrack/internal/shadow"
	"edutrack/internal/vault"
)

// =============================================================================
// FIXTURES
// =============================================================================

// stubClient returns canned markdown per tier: flash serves the primary,
// pro serves the shadow.
type stubClient struct {
	mu         sync.Mutex
	primary    string
	shadowText string
	shadowErr  error
	flashCalls int
	proCalls   int
}

func (c *stubClient) GenerateText(ctx context.Context, prompt string, tier perception.ModelTier, temperature float64, task perception.TaskType) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tier == perception.TierPro {
		c.proCalls++
		if c.shadowErr != nil {
			return "", c.shadowErr
		}
		return c.shadowText, nil
	}
	c.flashCalls++
	return c.primary, nil
}

func (c *stubClient) GenerateStructured(ctx context.Context, prompt, schemaJSON string, tier perception.ModelTier, temperature float64) (string, error) {
	return "", errors.New("structured generation not used by the harness")
}

func (c *stubClient) UsageStats() perception.UsageStats {
	return perception.UsageStats{}
}

func k12Curriculum(confidence float64) *schema.Curriculum {
	now := time.Now()
	return &schema.Curriculum{
		ID:              "curr-harness00001",
		Country:         "Nigeria",
		ISO2:            "NG",
		Jurisdiction:    schema.Jurisdiction{Level: schema.LevelNational},
		Grade:           "GRADE 9",
		Subject:         "Biology",
		Status:          schema.CurriculumActive,
		Confidence:      confidence,
		LastVerified:    now,
		TTLExpiry:       now.Add(90 * 24 * time.Hour),
		SourceURL:       "https://education.gov.ng/curriculum/2023/biology.pdf",
		SourceAuthority: "education.gov.ng",
	}
}

func universityCurriculum() *schema.Curriculum {
	c := k12Curriculum(0.85)
	c.ID = "curr-harness00002"
	c.Country = "United States"
	c.ISO2 = "US"
	c.Jurisdiction = schema.Jurisdiction{Level: schema.LevelUniversity, Name: "MIT"}
	c.Grade = "UNIVERSITY"
	c.SourceURL = "https://ocw.mit.edu/courses/biology/syllabus.pdf"
	c.SourceAuthority = "mit.edu"
	return c
}

func bioCompetencies(curriculumID string) []schema.Competency {
	return []schema.Competency{
		{
			ID:                   "comp-photo001",
			CurriculumID:         curriculumID,
			Title:                "Photosynthesis",
			Description:          "Plants convert sunlight into chemical energy through photosynthesis",
			LearningOutcomes:     []string{"Explain how plants convert sunlight"},
			SourceChunkIDs:       []string{"chunk-1"},
			ExtractionConfidence: 0.9,
		},
		{
			ID:                   "comp-mitos001",
			CurriculumID:         curriculumID,
			Title:                "Mitosis",
			Description:          "Cells divide during mitosis to produce identical daughter cells",
			LearningOutcomes:     []string{"Describe the stages of mitosis"},
			SourceChunkIDs:       []string{"chunk-2"},
			ExtractionConfidence: 0.9,
		},
	}
}

const groundedProse = "Plants convert sunlight into chemical energy. Cells divide during mitosis producing daughter cells."

func seedVault(t *testing.T, dbPath string, c *schema.Curriculum, comps []schema.Competency) {
	t.Helper()
	store, err := vault.Open(dbPath, 64)
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	defer store.Close()

	if err := store.UpsertCurriculum(context.Background(), c, "harnesschecksum"); err != nil {
		t.Fatalf("seed curriculum: %v", err)
	}
	if len(comps) > 0 {
		if err := store.ReplaceCompetencies(context.Background(), c.ID, comps); err != nil {
			t.Fatalf("seed competencies: %v", err)
		}
	}
}

func newHarness(t *testing.T, policy *config.Config, c *schema.Curriculum, comps []schema.Competency, client *stubClient, storageDir string) *Harness {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "vault.db")
	seedVault(t, dbPath, c, comps)

	session, err := vault.OpenReadOnly(dbPath, "")
	if err != nil {
		t.Fatalf("open read-only session: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	hash, err := embedding.NewHashEngine(64)
	if err != nil {
		t.Fatalf("hash engine: %v", err)
	}

	h, err := New(context.Background(), Config{
		Session:    session,
		LLM:        client,
		Engine:     hash,
		Policy:     policy,
		StorageDir: storageDir,
		Primary:    ModelProvenance{Provider: "gemini", ModelID: "gemini-2.0-flash", Version: "001"},
		Shadow:     ModelProvenance{Provider: "gemini", ModelID: "gemini-2.5-pro", Version: "001"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func lessonConfig() *schema.GenerationConfig {
	return &schema.GenerationConfig{
		TopicTitle:    "Cell Biology",
		ContentFormat: schema.FormatLessonPlan,
		TargetLevel:   schema.LevelProficient,
		Jurisdiction:  "Nigeria",
		Grade:         "GRADE 9",
	}
}

// =============================================================================
// SERVING PATHS
// =============================================================================

func TestGenerate_K12GroundedArtifact(t *testing.T) {
	curriculum := k12Curriculum(0.92)
	client := &stubClient{primary: groundedProse, shadowText: groundedProse}
	h := newHarness(t, nil, curriculum, bioCompetencies(curriculum.ID), client, "")

	artifact, err := h.Generate(context.Background(), "req-k12", curriculum.ID, lessonConfig(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if artifact.Mode != schema.GenModeK12 {
		t.Errorf("mode = %s, want k12", artifact.Mode)
	}
	if artifact.GroundingRate != 1.0 {
		t.Errorf("grounding rate = %.2f, want 1.0", artifact.GroundingRate)
	}
	if len(artifact.Citations) == 0 {
		t.Error("grounded artifact must carry citations")
	}
	if artifact.Provenance == nil || artifact.Provenance.CurriculumID != curriculum.ID {
		t.Error("artifact must carry provenance for its curriculum")
	}
	if artifact.DisclaimerInjected {
		t.Error("k12 artifact must not carry the syllabus disclaimer")
	}
	if client.flashCalls != 1 || client.proCalls != 1 {
		t.Errorf("calls = %d flash / %d pro, want 1/1", client.flashCalls, client.proCalls)
	}
}

func TestGenerate_UngroundedSentenceBlocked(t *testing.T) {
	policy := config.DefaultConfig()
	policy.Grounding.Action = config.ActionBlock

	curriculum := k12Curriculum(0.92)
	injected := groundedProse + " Quantum epigenetic synthesis occurs during flibbertigibbet resonance cascades."
	client := &stubClient{primary: injected, shadowText: injected}
	h := newHarness(t, policy, curriculum, bioCompetencies(curriculum.ID), client, "")

	artifact, err := h.Generate(context.Background(), "req-blocked", curriculum.ID, lessonConfig(), nil)
	if artifact != nil {
		t.Fatal("blocked generation must not return an artifact")
	}
	var gv *grounding.GroundingViolationError
	if !errors.As(err, &gv) {
		t.Fatalf("error = %v, want GroundingViolationError", err)
	}
	if len(gv.UngroundedSentences) != 1 {
		t.Errorf("ungrounded sentences = %d, want 1", len(gv.UngroundedSentences))
	}
}

func TestGenerate_UngroundedSentenceWarnStillServes(t *testing.T) {
	curriculum := k12Curriculum(0.92)
	injected := groundedProse + " Quantum epigenetic synthesis occurs during flibbertigibbet resonance cascades."
	client := &stubClient{primary: injected, shadowText: injected}
	h := newHarness(t, nil, curriculum, bioCompetencies(curriculum.ID), client, "")

	artifact, err := h.Generate(context.Background(), "req-warned", curriculum.ID, lessonConfig(), nil)
	if err != nil {
		t.Fatalf("Generate under WARN: %v", err)
	}
	if artifact.GroundingRate >= 1.0 {
		t.Errorf("grounding rate = %.2f, want below 1.0", artifact.GroundingRate)
	}
}

func TestGenerate_MissingCompetencies(t *testing.T) {
	curriculum := k12Curriculum(0.92)
	client := &stubClient{primary: groundedProse, shadowText: groundedProse}
	h := newHarness(t, nil, curriculum, nil, client, "")

	_, err := h.Generate(context.Background(), "req-nocomp", curriculum.ID, lessonConfig(), nil)
	var nf *vault.CompetencyNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want CompetencyNotFoundError", err)
	}
}

func TestGenerate_ConfidenceFloorRejects(t *testing.T) {
	// K-12 lesson plans require 0.90 curriculum confidence.
	curriculum := k12Curriculum(0.85)
	client := &stubClient{primary: groundedProse, shadowText: groundedProse}
	h := newHarness(t, nil, curriculum, bioCompetencies(curriculum.ID), client, "")

	_, err := h.Generate(context.Background(), "req-lowconf", curriculum.ID, lessonConfig(), nil)
	var violation *governance.ViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("error = %v, want ViolationError", err)
	}
	if client.flashCalls != 0 {
		t.Error("confidence floor must reject before any model spend")
	}
}

// =============================================================================
// UNIVERSITY MODE
// =============================================================================

func TestGenerate_UniversityDisclaimerInjected(t *testing.T) {
	curriculum := universityCurriculum()
	comps := []schema.Competency{{
		ID:                   "comp-uni001",
		CurriculumID:         curriculum.ID,
		Title:                "Course outline",
		Description:          "sentence number grounded topic alpha beta gamma delta",
		LearningOutcomes:     []string{"Follow the course outline"},
		SourceChunkIDs:       []string{"chunk-1"},
		ExtractionConfidence: 0.9,
	}}

	// The injected disclaimer is itself ungrounded, so the prose must
	// leave headroom under the university pass rate.
	prose := strings.Repeat("Sentence number grounded topic alpha beta gamma delta. ", 80)
	client := &stubClient{primary: prose, shadowText: prose}
	h := newHarness(t, nil, curriculum, comps, client, "")

	cfg := lessonConfig()
	cfg.Grade = "UNIVERSITY"
	artifact, err := h.Generate(context.Background(), "req-uni", curriculum.ID, cfg, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if artifact.Mode != schema.GenModeUniversity {
		t.Errorf("mode = %s, want university", artifact.Mode)
	}
	if !artifact.DisclaimerInjected {
		t.Error("university artifact must carry the syllabus disclaimer")
	}
	if !strings.HasPrefix(artifact.Markdown, "> DISCLAIMER") {
		t.Errorf("disclaimer must lead the markdown, got %q", artifact.Markdown[:40])
	}
	if artifact.GroundingRate < grounding.UniversityPassRate {
		t.Errorf("grounding rate = %.4f, want >= %.2f", artifact.GroundingRate, grounding.UniversityPassRate)
	}
}

// =============================================================================
// SHADOW AND HALLUCINATION GATE
// =============================================================================

func TestGenerate_HallucinationGateBlocks(t *testing.T) {
	policy := config.DefaultConfig()
	policy.Shadow.HallucinationAction = config.ActionBlock

	primary := "# Cell Biology\n\n## Photosynthesis\n\nPlants convert sunlight into chemical energy.\n\n## Mitosis\n\nCells divide during mitosis producing daughter cells.\n"
	shadowMD := primary + "\n## Quantum Healing\n\nCrystals realign cellular vibrations.\n"

	curriculum := k12Curriculum(0.92)
	client := &stubClient{primary: primary, shadowText: shadowMD}
	h := newHarness(t, policy, curriculum, bioCompetencies(curriculum.ID), client, "")

	artifact, err := h.Generate(context.Background(), "req-halluc", curriculum.ID, lessonConfig(), nil)
	if artifact != nil {
		t.Fatal("hallucination block must not return an artifact")
	}
	var hb *shadow.HallucinationBlockError
	if !errors.As(err, &hb) {
		t.Fatalf("error = %v, want HallucinationBlockError", err)
	}
	if hb.ExtraTopicRate != 0.25 {
		t.Errorf("extra topic rate = %.4f, want 0.25", hb.ExtraTopicRate)
	}
}

func TestGenerate_ShadowFailureNeverBlocksServing(t *testing.T) {
	policy := config.DefaultConfig()
	policy.Shadow.BreakerFailures = 2
	policy.Shadow.BreakerRecovery = "1h"

	curriculum := k12Curriculum(0.92)
	client := &stubClient{primary: groundedProse, shadowErr: errors.New("shadow provider down")}
	h := newHarness(t, policy, curriculum, bioCompetencies(curriculum.ID), client, "")

	for i := 0; i < 3; i++ {
		artifact, err := h.Generate(context.Background(), "req-shadowfail", curriculum.ID, lessonConfig(), nil)
		if err != nil {
			t.Fatalf("Generate %d: %v", i, err)
		}
		if artifact == nil {
			t.Fatalf("Generate %d returned no artifact", i)
		}
	}
	// Two failures trip the breaker; the third request skips the shadow
	// call entirely.
	if client.proCalls != 2 {
		t.Errorf("shadow calls = %d, want 2 (breaker open on third)", client.proCalls)
	}
}

func TestGenerate_ShadowLogPersisted(t *testing.T) {
	storageDir := t.TempDir()
	curriculum := k12Curriculum(0.92)
	client := &stubClient{primary: groundedProse, shadowText: groundedProse}
	h := newHarness(t, nil, curriculum, bioCompetencies(curriculum.ID), client, storageDir)

	if _, err := h.Generate(context.Background(), "req-logged", curriculum.ID, lessonConfig(), nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var logs []string
	filepath.WalkDir(filepath.Join(storageDir, "shadow_logs"), func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(path, ".json") {
			logs = append(logs, path)
		}
		return nil
	})
	if len(logs) != 1 {
		t.Fatalf("shadow logs = %d, want 1", len(logs))
	}
}

// =============================================================================
// READ-ONLY PRECONDITION
// =============================================================================

func TestNew_FailsClosedOnWritableSession(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "vault.db")
	seedVault(t, dbPath, k12Curriculum(0.92), nil)

	// A read-only URL pointing at the writable DSN must fail the
	// self-test: the temp-table probe succeeds.
	session, err := vault.OpenReadOnly(dbPath, dbPath)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	hash, err := embedding.NewHashEngine(64)
	if err != nil {
		t.Fatalf("hash engine: %v", err)
	}
	_, err = New(context.Background(), Config{
		Session: session,
		LLM:     &stubClient{},
		Engine:  hash,
	})
	var ro *vault.DatabaseNotReadOnlyError
	if !errors.As(err, &ro) {
		t.Fatalf("error = %v, want DatabaseNotReadOnlyError", err)
	}
}
