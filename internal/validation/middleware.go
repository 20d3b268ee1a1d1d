// Package validation is the middleware layer between pipeline stages.
// Every cross-component record passes through ValidateRecord before the next
// stage runs, stage confidences pass through CheckConfidenceThreshold, and
// generation coverage passes through the binary grounding gate. Violations
// halt the request; no caller repairs a record and retries.
package validation

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance for all boundary records.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// CrossValidator is implemented by records with cross-field invariants
// beyond what struct tags can express.
type CrossValidator interface {
	Validate() error
}

// ValidateRecord runs the tag pass and the record's own cross-field rules.
// Returns nil or a SchemaValidationError naming every violated field.
func ValidateRecord(rec interface{}) error {
	schema := schemaName(rec)

	if err := validate.Struct(rec); err != nil {
		fieldErrors := make(map[string]string)
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fieldErrors[fe.Field()] = fmt.Sprintf("failed %q constraint", fe.Tag())
			}
		} else {
			fieldErrors["_"] = err.Error()
		}
		return &SchemaValidationError{Schema: schema, Errors: fieldErrors}
	}

	if cv, ok := rec.(CrossValidator); ok {
		if err := cv.Validate(); err != nil {
			return &SchemaValidationError{
				Schema: schema,
				Errors: map[string]string{"_invariant": err.Error()},
			}
		}
	}

	return nil
}

// schemaName resolves the record's type name through pointers.
func schemaName(rec interface{}) string {
	t := reflect.TypeOf(rec)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "nil"
	}
	return t.Name()
}

// =============================================================================
// CONFIDENCE FLOORS
// =============================================================================

// Stage names recognized by CheckConfidenceThreshold.
const (
	StageIntentClassification  = "intent_classification"
	StageJurisdictionResolution = "jurisdiction_resolution"
	StageSourceValidation      = "source_validation"
	StageOCRParsing            = "ocr_parsing"
	StageGenerationGrounding   = "generation_grounding"
)

// stageFloors maps each pipeline stage to its minimum acceptable confidence.
// generation_grounding is binary: anything below 1.0 fails.
var stageFloors = map[string]float64{
	StageIntentClassification:   0.85,
	StageJurisdictionResolution: 0.80,
	StageSourceValidation:       0.90,
	StageOCRParsing:             0.70,
	StageGenerationGrounding:    1.0,
}

// defaultStageFloor applies to stages not in the table.
const defaultStageFloor = 0.8

// StageFloor returns the confidence floor for a stage.
func StageFloor(stage string) float64 {
	if floor, ok := stageFloors[stage]; ok {
		return floor
	}
	return defaultStageFloor
}

// CheckConfidenceThreshold fails with a ConfidenceThresholdError when score
// is below the stage floor.
func CheckConfidenceThreshold(score float64, stage string) error {
	required := StageFloor(stage)
	if score < required {
		return &ConfidenceThresholdError{Actual: score, Required: required, Stage: stage}
	}
	return nil
}

// =============================================================================
// GROUNDING GATE
// =============================================================================

// GroundingGateFloor is the binary coverage gate for generated artifacts.
const GroundingGateFloor = 0.8

// EnforceGroundingGate rejects coverage below the gate with a GroundingError.
func EnforceGroundingGate(coverage float64) error {
	if coverage < GroundingGateFloor {
		return &GroundingError{Coverage: coverage}
	}
	return nil
}

// =============================================================================
// FALLBACK TIERS
// =============================================================================

// FallbackTier is the degradation level of a request.
type FallbackTier int

const (
	Tier0 FallbackTier = iota // Healthy
	Tier1                     // Degraded: low confidence or first failure
	Tier2                     // Last resort: repeated failures
)

// String returns the wire form of a tier.
func (t FallbackTier) String() string {
	switch t {
	case Tier0:
		return "tier_0"
	case Tier1:
		return "tier_1"
	case Tier2:
		return "tier_2"
	}
	return fmt.Sprintf("tier_%d", int(t))
}

// DetermineFallbackTier maps confidence and failure count to a tier.
func DetermineFallbackTier(confidence float64, failureCount int) FallbackTier {
	if failureCount >= 2 {
		return Tier2
	}
	if confidence < 0.7 || failureCount == 1 {
		return Tier1
	}
	return Tier0
}
