package grounding

import (
	"context"
	"strings"
	"testing"

	"edutrack/internal/embedding"
	"edutrack/internal/schema"
)

func hashEngine(t *testing.T) embedding.Engine {
	t.Helper()
	engine, err := embedding.NewHashEngine(768)
	if err != nil {
		t.Fatalf("NewHashEngine: %v", err)
	}
	return engine
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"single", "Plants convert sunlight into chemical energy.", 1},
		{"multiple", "Plants convert sunlight. Cells divide during mitosis. Energy flows through ecosystems.", 3},
		{"drops short fragments", "Yes. Plants convert sunlight into energy.", 1},
		{"question and exclamation", "What is photosynthesis? It powers nearly all life!", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.text)
			if len(got) != tt.want {
				t.Errorf("SplitSentences() = %d sentences %v, want %d", len(got), got, tt.want)
			}
		})
	}
}

func TestSplitSentences_StripsHeaderMarkers(t *testing.T) {
	got := SplitSentences("# Photosynthesis Basics\n\nPlants convert sunlight into energy.")
	if len(got) == 0 {
		t.Fatal("expected at least one sentence")
	}
	if strings.HasPrefix(got[0], "#") {
		t.Errorf("header marker survived split: %q", got[0])
	}
}

func TestNewVerifier_TokenVectorThreshold(t *testing.T) {
	v := NewVerifier(hashEngine(t), 0.8)
	if v.Threshold() != TokenVectorThreshold {
		t.Errorf("token-vector engine threshold = %.2f, want %.2f", v.Threshold(), TokenVectorThreshold)
	}
}

func TestNewVerifier_DefaultThreshold(t *testing.T) {
	// A cached engine keeps the inner engine's name prefix, so wrap a
	// non-hash name through a stub check: the hash engine is the only
	// offline engine, so assert the default path with threshold zero.
	v := &Verifier{engine: hashEngine(t), threshold: DefaultThreshold}
	if v.Threshold() != DefaultThreshold {
		t.Errorf("threshold = %.2f, want %.2f", v.Threshold(), DefaultThreshold)
	}
}

func TestVerifyArtifact_FullyGrounded(t *testing.T) {
	v := NewVerifier(hashEngine(t), 0)
	comps := []CompetencyRef{
		{ID: "c1", Text: "Plants convert sunlight into chemical energy through photosynthesis"},
		{ID: "c2", Text: "Cells divide during mitosis to produce identical daughter cells"},
	}
	artifact := "Plants convert sunlight into chemical energy. Cells divide during mitosis producing daughter cells."

	report, err := v.VerifyArtifact(context.Background(), artifact, comps, schema.ContentK12)
	if err != nil {
		t.Fatalf("VerifyArtifact: %v", err)
	}
	if report.Verdict != VerdictPass {
		t.Errorf("verdict = %s, want PASS (ungrounded: %v)", report.Verdict, report.UngroundedSentences)
	}
	if report.Rate != 1.0 {
		t.Errorf("rate = %.2f, want 1.0", report.Rate)
	}
	if !report.Clean() {
		t.Error("expected clean report")
	}
}

func TestVerifyArtifact_K12RejectsSingleUngrounded(t *testing.T) {
	v := NewVerifier(hashEngine(t), 0)
	comps := []CompetencyRef{
		{ID: "c1", Text: "Plants convert sunlight into chemical energy through photosynthesis"},
	}
	injected := "Quantum epigenetic synthesis occurs during flibbertigibbet resonance cascades."
	artifact := "Plants convert sunlight into chemical energy. " + injected

	report, err := v.VerifyArtifact(context.Background(), artifact, comps, schema.ContentK12)
	if err != nil {
		t.Fatalf("VerifyArtifact: %v", err)
	}
	if report.Verdict != VerdictFail {
		t.Errorf("verdict = %s, want FAIL", report.Verdict)
	}
	if report.UngroundedCount != 1 {
		t.Errorf("ungrounded count = %d, want 1", report.UngroundedCount)
	}
	found := false
	for _, s := range report.UngroundedSentences {
		if strings.Contains(s, "Quantum epigenetic synthesis") {
			found = true
		}
	}
	if !found {
		t.Errorf("injected sentence missing from ungrounded list: %v", report.UngroundedSentences)
	}
}

func TestVerifyArtifact_UniversityTolerance(t *testing.T) {
	v := NewVerifier(hashEngine(t), 0)
	comps := []CompetencyRef{
		{ID: "c1", Text: "sentence number grounded topic alpha beta gamma delta"},
	}

	// 19 grounded sentences and 1 ungrounded gives a 0.95 rate.
	var sb strings.Builder
	for i := 0; i < 19; i++ {
		sb.WriteString("Sentence number grounded topic alpha beta gamma delta. ")
	}
	sb.WriteString("Entirely unrelated zork mumble frobnicate wibble claptrap nonsense.")

	report, err := v.VerifyArtifact(context.Background(), sb.String(), comps, schema.ContentUniversity)
	if err != nil {
		t.Fatalf("VerifyArtifact: %v", err)
	}
	if report.TotalSentences != 20 {
		t.Fatalf("total sentences = %d, want 20", report.TotalSentences)
	}
	if report.Verdict != VerdictPass {
		t.Errorf("university verdict = %s at rate %.3f, want PASS", report.Verdict, report.Rate)
	}

	// The same artifact under k12 strictness fails.
	k12, err := v.VerifyArtifact(context.Background(), sb.String(), comps, schema.ContentK12)
	if err != nil {
		t.Fatalf("VerifyArtifact k12: %v", err)
	}
	if k12.Verdict != VerdictFail {
		t.Errorf("k12 verdict = %s, want FAIL", k12.Verdict)
	}
}

func TestVerifyArtifact_UniversityBelowRateFails(t *testing.T) {
	v := NewVerifier(hashEngine(t), 0)
	comps := []CompetencyRef{
		{ID: "c1", Text: "sentence number grounded topic alpha beta gamma delta"},
	}
	var sb strings.Builder
	for i := 0; i < 18; i++ {
		sb.WriteString("Sentence number grounded topic alpha beta gamma delta. ")
	}
	sb.WriteString("Entirely unrelated zork mumble frobnicate wibble claptrap nonsense. ")
	sb.WriteString("Another unrelated blargh snorkel quux flimflam gibberish statement.")

	report, err := v.VerifyArtifact(context.Background(), sb.String(), comps, schema.ContentUniversity)
	if err != nil {
		t.Fatalf("VerifyArtifact: %v", err)
	}
	if report.Rate >= UniversityPassRate {
		t.Fatalf("test setup: rate %.3f should be below %.2f", report.Rate, UniversityPassRate)
	}
	if report.Verdict != VerdictFail {
		t.Errorf("verdict = %s, want FAIL", report.Verdict)
	}
}

func TestVerifyArtifact_EmptyArtifactPasses(t *testing.T) {
	v := NewVerifier(hashEngine(t), 0)
	report, err := v.VerifyArtifact(context.Background(), "", nil, schema.ContentK12)
	if err != nil {
		t.Fatalf("VerifyArtifact: %v", err)
	}
	if report.Verdict != VerdictPass {
		t.Errorf("empty artifact verdict = %s, want PASS", report.Verdict)
	}
}

func TestGroundingViolationError(t *testing.T) {
	err := &GroundingViolationError{UngroundedSentences: []string{"a", "b"}}
	if !strings.Contains(err.Error(), "2 ungrounded") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
