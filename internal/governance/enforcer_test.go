package governance

import (
	"errors"
	"strings"
	"testing"
	"time"

	"edutrack/internal/schema"
)

func validProvenance() *schema.ProvenanceBlock {
	return &schema.ProvenanceBlock{
		CurriculumID: "curr-abc123",
		Sources: []schema.ProvenanceSource{
			{URL: "https://education.gov.ng/curriculum.pdf", Authority: "Federal Ministry of Education", FetchDate: "2026-05-01"},
		},
		RetrievalTimestamp:   time.Now().Add(-24 * time.Hour),
		ExtractionConfidence: 1.0,
	}
}

func TestEnforce_MissingProvenance(t *testing.T) {
	e := NewEnforcer(true, 0)
	artifact := &schema.Artifact{Markdown: "# Lesson"}

	err := e.Enforce(artifact, schema.LevelNational, nil)
	var verr *ViolationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ViolationError, got %v", err)
	}
	if !strings.Contains(verr.Reason, "missing provenance") {
		t.Errorf("unexpected reason: %s", verr.Reason)
	}
}

func TestEnforce_MalformedProvenance(t *testing.T) {
	e := NewEnforcer(true, 0)
	prov := validProvenance()
	prov.Sources = nil

	err := e.Enforce(&schema.Artifact{Markdown: "# Lesson"}, schema.LevelNational, prov)
	var verr *ViolationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ViolationError, got %v", err)
	}
}

func TestEnforce_AttachesProvenanceAndDefaults(t *testing.T) {
	e := NewEnforcer(true, 0)
	artifact := &schema.Artifact{Markdown: "# Lesson\n\nPlants make food."}
	prov := validProvenance()

	if err := e.Enforce(artifact, schema.LevelNational, prov); err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if artifact.Provenance == nil {
		t.Fatal("provenance not attached")
	}
	if artifact.Provenance.ReplicaVersion != schema.DefaultReplicaVersion {
		t.Errorf("replica version = %q, want default %q", artifact.Provenance.ReplicaVersion, schema.DefaultReplicaVersion)
	}
	if artifact.DisclaimerInjected {
		t.Error("national jurisdiction must not get a disclaimer")
	}
}

func TestEnforce_StaleProvenanceRejectedInStrictMode(t *testing.T) {
	e := NewEnforcer(true, 0)
	prov := validProvenance()
	prov.RetrievalTimestamp = time.Now().Add(-3 * 365 * 24 * time.Hour)

	err := e.Enforce(&schema.Artifact{Markdown: "x"}, schema.LevelNational, prov)
	var verr *ViolationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ViolationError for stale provenance, got %v", err)
	}

	lenient := NewEnforcer(false, 0)
	if err := lenient.Enforce(&schema.Artifact{Markdown: "x"}, schema.LevelNational, prov); err != nil {
		t.Errorf("non-strict mode rejected stale provenance: %v", err)
	}
}

func TestEnforce_UniversityDisclaimerFirstBlock(t *testing.T) {
	e := NewEnforcer(true, 0)
	artifact := &schema.Artifact{Markdown: "# Operating Systems\n\nProcesses are scheduled by the kernel."}
	prov := validProvenance()
	prov.Sources[0].Authority = "MIT EECS"
	prov.ExtractionConfidence = 0.9

	if err := e.Enforce(artifact, schema.LevelUniversity, prov); err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if !artifact.DisclaimerInjected {
		t.Error("disclaimer not injected")
	}
	if !strings.HasPrefix(artifact.Markdown, "> DISCLAIMER") {
		t.Errorf("disclaimer is not the first block:\n%s", artifact.Markdown)
	}
	if !strings.Contains(artifact.Markdown, "MIT EECS") {
		t.Error("disclaimer missing institution")
	}
	if !strings.Contains(artifact.Markdown, "one valid syllabus") {
		t.Error("disclaimer missing syllabus warning")
	}
	if !artifact.PartialExtraction {
		t.Error("extraction confidence < 1.0 must flag partial extraction")
	}
}

func TestEnforce_ExistingDisclaimerNotDuplicated(t *testing.T) {
	e := NewEnforcer(true, 0)
	artifact := &schema.Artifact{Markdown: "> DISCLAIMER: already present\n\n# Body"}

	if err := e.Enforce(artifact, schema.LevelDepartment, validProvenance()); err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if artifact.DisclaimerInjected {
		t.Error("existing disclaimer must not be re-injected")
	}
	if strings.Count(artifact.Markdown, "DISCLAIMER") != 1 {
		t.Errorf("disclaimer duplicated:\n%s", artifact.Markdown)
	}
}

func TestConfidenceFloor(t *testing.T) {
	tests := []struct {
		rt   RequestType
		mode schema.ContentMode
		want float64
	}{
		{RequestSummary, schema.ContentK12, 0.85},
		{RequestSummary, schema.ContentUniversity, 0.75},
		{RequestLessonPlan, schema.ContentK12, 0.90},
		{RequestLessonPlan, schema.ContentUniversity, 0.80},
		{RequestQuiz, schema.ContentK12, 0.90},
		{RequestQuiz, schema.ContentUniversity, 0.85},
		{RequestCertification, schema.ContentK12, 0.95},
		{RequestCertification, schema.ContentUniversity, 0.90},
	}
	for _, tt := range tests {
		t.Run(string(tt.rt)+"/"+string(tt.mode), func(t *testing.T) {
			if got := ConfidenceFloor(tt.mode, tt.rt); got != tt.want {
				t.Errorf("ConfidenceFloor(%s, %s) = %.2f, want %.2f", tt.mode, tt.rt, got, tt.want)
			}
		})
	}
}

func TestRequestTypeFor(t *testing.T) {
	if got := RequestTypeFor(schema.FormatSummary); got != RequestSummary {
		t.Errorf("summary -> %s", got)
	}
	if got := RequestTypeFor(schema.FormatQuiz); got != RequestQuiz {
		t.Errorf("quiz -> %s", got)
	}
	if got := RequestTypeFor(schema.FormatWorksheet); got != RequestLessonPlan {
		t.Errorf("worksheet -> %s", got)
	}
}

func TestCheckConfidence(t *testing.T) {
	e := NewEnforcer(true, 0)
	if err := e.CheckConfidence(0.92, schema.ContentK12, schema.FormatLessonPlan); err != nil {
		t.Errorf("0.92 should clear the 0.90 floor: %v", err)
	}
	err := e.CheckConfidence(0.85, schema.ContentK12, schema.FormatLessonPlan)
	var verr *ViolationError
	if !errors.As(err, &verr) {
		t.Errorf("0.85 should fail the 0.90 floor, got %v", err)
	}
}
