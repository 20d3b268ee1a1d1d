package validation

import (
	"errors"
	"testing"

	"edutrack/internal/schema"
)

func TestValidateRecordTagPass(t *testing.T) {
	req := &schema.NormalizedRequest{
		ID:         "req-1",
		RawPrompt:  "primary 4 mathematics for Nigeria",
		Country:    "Nigeria",
		ISO2:       "NG",
		Grade:      "primary_4",
		Subject:    "mathematics",
		Mode:       schema.ModeK12,
		Confidence: 0.9,
	}
	if err := ValidateRecord(req); err != nil {
		t.Fatalf("valid request should pass: %v", err)
	}

	req.ISO2 = "NGA"
	err := ValidateRecord(req)
	if err == nil {
		t.Fatalf("expected tag violation for three-letter iso2")
	}
	var sve *SchemaValidationError
	if !errors.As(err, &sve) {
		t.Fatalf("expected SchemaValidationError, got %T", err)
	}
	if sve.Schema != "NormalizedRequest" {
		t.Fatalf("expected schema name NormalizedRequest, got %s", sve.Schema)
	}
	if _, ok := sve.Errors["ISO2"]; !ok {
		t.Fatalf("expected ISO2 field error, got %v", sve.Errors)
	}
}

func TestValidateRecordCrossFieldPass(t *testing.T) {
	req := &schema.NormalizedRequest{
		ID:         "req-1",
		RawPrompt:  "primary 4 mathematics for Nigeria",
		Country:    "Nigeria",
		ISO2:       "NG",
		Grade:      "primary_4",
		Subject:    "mathematics",
		Mode:       schema.ModeK12,
		Confidence: 0.65,
	}
	err := ValidateRecord(req)
	if err == nil {
		t.Fatalf("expected cross-field invariant violation for confidence 0.65")
	}
	var sve *SchemaValidationError
	if !errors.As(err, &sve) {
		t.Fatalf("expected SchemaValidationError, got %T", err)
	}
	if _, ok := sve.Errors["_invariant"]; !ok {
		t.Fatalf("expected invariant entry, got %v", sve.Errors)
	}
}

func TestValidateRecordCompetency(t *testing.T) {
	comp := &schema.Competency{
		ID:               "comp-1",
		CurriculumID:     "cur-1",
		Title:            "Fractions",
		LearningOutcomes: []string{"Add fractions with like denominators"},
		SourceChunkIDs:   []string{"chunk-1"},
	}
	if err := ValidateRecord(comp); err != nil {
		t.Fatalf("grounded competency should pass: %v", err)
	}

	comp.SourceChunkIDs = nil
	if err := ValidateRecord(comp); err == nil {
		t.Fatalf("ungrounded competency must fail validation")
	}
}

func TestStageFloors(t *testing.T) {
	tests := []struct {
		stage string
		want  float64
	}{
		{StageIntentClassification, 0.85},
		{StageJurisdictionResolution, 0.80},
		{StageSourceValidation, 0.90},
		{StageOCRParsing, 0.70},
		{StageGenerationGrounding, 1.0},
		{"unknown_stage", 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			if got := StageFloor(tt.stage); got != tt.want {
				t.Fatalf("StageFloor(%s) = %.2f, want %.2f", tt.stage, got, tt.want)
			}
		})
	}
}

func TestCheckConfidenceThreshold(t *testing.T) {
	if err := CheckConfidenceThreshold(0.92, StageSourceValidation); err != nil {
		t.Fatalf("0.92 should clear the 0.90 source floor: %v", err)
	}

	err := CheckConfidenceThreshold(0.88, StageSourceValidation)
	if err == nil {
		t.Fatalf("0.88 must fail the 0.90 source floor")
	}
	var cte *ConfidenceThresholdError
	if !errors.As(err, &cte) {
		t.Fatalf("expected ConfidenceThresholdError, got %T", err)
	}
	if cte.Actual != 0.88 || cte.Required != 0.90 || cte.Stage != StageSourceValidation {
		t.Fatalf("unexpected error fields: %+v", cte)
	}

	// Grounding stage is binary
	if err := CheckConfidenceThreshold(0.99, StageGenerationGrounding); err == nil {
		t.Fatalf("0.99 must fail the binary grounding floor")
	}
	if err := CheckConfidenceThreshold(1.0, StageGenerationGrounding); err != nil {
		t.Fatalf("1.0 should clear the binary grounding floor: %v", err)
	}
}

func TestEnforceGroundingGate(t *testing.T) {
	if err := EnforceGroundingGate(0.8); err != nil {
		t.Fatalf("coverage 0.8 should pass the gate: %v", err)
	}
	if err := EnforceGroundingGate(0.95); err != nil {
		t.Fatalf("coverage 0.95 should pass the gate: %v", err)
	}

	err := EnforceGroundingGate(0.79)
	if err == nil {
		t.Fatalf("coverage 0.79 must fail the gate")
	}
	var ge *GroundingError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GroundingError, got %T", err)
	}
	if ge.Coverage != 0.79 {
		t.Fatalf("expected coverage 0.79 on error, got %.2f", ge.Coverage)
	}
}

func TestDetermineFallbackTier(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		failures   int
		want       FallbackTier
	}{
		{"healthy", 0.95, 0, Tier0},
		{"boundary confidence", 0.7, 0, Tier0},
		{"low confidence", 0.69, 0, Tier1},
		{"first failure", 0.95, 1, Tier1},
		{"low confidence and first failure", 0.5, 1, Tier1},
		{"second failure", 0.95, 2, Tier2},
		{"many failures", 0.1, 5, Tier2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetermineFallbackTier(tt.confidence, tt.failures); got != tt.want {
				t.Fatalf("DetermineFallbackTier(%.2f, %d) = %s, want %s", tt.confidence, tt.failures, got, tt.want)
			}
		})
	}
}

func TestFallbackTierString(t *testing.T) {
	if Tier0.String() != "tier_0" || Tier1.String() != "tier_1" || Tier2.String() != "tier_2" {
		t.Fatalf("unexpected tier strings: %s %s %s", Tier0, Tier1, Tier2)
	}
}
