// Package governance enforces provenance and disclaimer rules on generated
// artifacts. Provenance is validated against the strict schema before an
// artifact may carry it; university and syllabus content gets a mandatory
// disclaimer as its first markdown block; contextual confidence floors vary
// by content mode and request type.
package governance

import (
	"fmt"
	"strings"
	"time"

	"edutrack/internal/logging"
	"edutrack/internal/schema"
	"edutrack/internal/validation"
)

// ViolationError reports a governance rule failure. Governance violations
// are never retryable: the request halts.
type ViolationError struct {
	Reason string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("governance violation: %s", e.Reason)
}

// DefaultProvenanceMaxAge bounds how old a provenance retrieval may be
// under strict enforcement.
const DefaultProvenanceMaxAge = 2 * 365 * 24 * time.Hour

// Enforcer applies governance rules to artifacts before they leave the
// harness.
type Enforcer struct {
	strict bool
	maxAge time.Duration
	now    func() time.Time
}

// NewEnforcer builds an enforcer. A non-positive max age falls back to the
// two-year default.
func NewEnforcer(strict bool, maxAge time.Duration) *Enforcer {
	if maxAge <= 0 {
		maxAge = DefaultProvenanceMaxAge
	}
	return &Enforcer{strict: strict, maxAge: maxAge, now: time.Now}
}

// Enforce validates the provenance, attaches it to the artifact, and
// injects the syllabus disclaimer for university-level jurisdictions.
// The artifact is modified in place; a returned error means the artifact
// must not be served.
func (e *Enforcer) Enforce(artifact *schema.Artifact, level schema.JurisdictionLevel, prov *schema.ProvenanceBlock) error {
	if prov == nil {
		return &ViolationError{Reason: "missing provenance data"}
	}
	prov.Normalize()
	if err := validation.ValidateRecord(prov); err != nil {
		return &ViolationError{Reason: fmt.Sprintf("invalid provenance schema: %v", err)}
	}
	if e.strict {
		age := e.now().Sub(prov.RetrievalTimestamp)
		if age > e.maxAge {
			return &ViolationError{Reason: fmt.Sprintf("provenance retrieved %s ago exceeds max age %s", age.Round(time.Hour), e.maxAge)}
		}
	}

	artifact.Provenance = prov

	if UniversityLevel(level) {
		e.enforceUniversityRules(artifact, prov)
	}

	logging.Governance("Provenance attached for curriculum %s (%d sources, confidence %.2f)",
		prov.CurriculumID, len(prov.Sources), prov.ExtractionConfidence)
	return nil
}

// UniversityLevel reports whether a jurisdiction level carries syllabus
// governance rules.
func UniversityLevel(level schema.JurisdictionLevel) bool {
	return level == schema.LevelUniversity || level == schema.LevelDepartment
}

// disclaimerMarker detects an existing disclaimer block.
const disclaimerMarker = "DISCLAIMER"

// enforceUniversityRules injects the syllabus disclaimer as the first
// markdown block and flags partial extractions.
func (e *Enforcer) enforceUniversityRules(artifact *schema.Artifact, prov *schema.ProvenanceBlock) {
	if !strings.Contains(artifact.Markdown, disclaimerMarker) {
		artifact.Markdown = fmt.Sprintf("> %s\n\n%s", Disclaimer(prov.Sources[0].Authority), artifact.Markdown)
		artifact.DisclaimerInjected = true
		logging.Governance("Disclaimer injected for %s", prov.Sources[0].Authority)
	}
	if prov.ExtractionConfidence < 1.0 {
		artifact.PartialExtraction = true
	}
}

// Disclaimer formats the mandatory syllabus warning for an authority.
func Disclaimer(authority string) string {
	return fmt.Sprintf(
		"DISCLAIMER: This content is a structured replica based on the syllabus from %s. "+
			"It is one valid syllabus, not a universal curriculum. Verify with official sources.",
		authority)
}

// =============================================================================
// CONTEXTUAL CONFIDENCE FLOORS
// =============================================================================

// RequestType is the governance class of a generation request. Content
// formats map onto these classes; certification requests come in through
// their own inbound path and carry the strictest floors.
type RequestType string

const (
	RequestSummary       RequestType = "summary"
	RequestLessonPlan    RequestType = "lesson_plan"
	RequestQuiz          RequestType = "quiz"
	RequestCertification RequestType = "certification"
)

// RequestTypeFor maps a content format to its governance request type.
// Worksheets carry lesson-plan floors; quizzes, exams, and objectives share
// the quiz class.
func RequestTypeFor(format schema.ContentFormat) RequestType {
	switch format {
	case schema.FormatSummary:
		return RequestSummary
	case schema.FormatQuiz:
		return RequestQuiz
	default:
		return RequestLessonPlan
	}
}

// confidenceFloors is indexed by request type, then by content mode.
var confidenceFloors = map[RequestType]map[schema.ContentMode]float64{
	RequestSummary:       {schema.ContentK12: 0.85, schema.ContentUniversity: 0.75},
	RequestLessonPlan:    {schema.ContentK12: 0.90, schema.ContentUniversity: 0.80},
	RequestQuiz:          {schema.ContentK12: 0.90, schema.ContentUniversity: 0.85},
	RequestCertification: {schema.ContentK12: 0.95, schema.ContentUniversity: 0.90},
}

// ConfidenceFloor returns the contextual confidence floor for a mode and
// request type. Unknown combinations take the lesson-plan K-12 floor.
func ConfidenceFloor(mode schema.ContentMode, rt RequestType) float64 {
	if floors, ok := confidenceFloors[rt]; ok {
		if floor, ok := floors[mode]; ok {
			return floor
		}
	}
	return confidenceFloors[RequestLessonPlan][schema.ContentK12]
}

// CheckConfidence fails when a curriculum confidence is below the
// contextual floor for this request.
func (e *Enforcer) CheckConfidence(confidence float64, mode schema.ContentMode, format schema.ContentFormat) error {
	floor := ConfidenceFloor(mode, RequestTypeFor(format))
	if confidence < floor {
		return &ViolationError{
			Reason: fmt.Sprintf("curriculum confidence %.2f below %s/%s floor %.2f",
				confidence, mode, RequestTypeFor(format), floor),
		}
	}
	return nil
}
