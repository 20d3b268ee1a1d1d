package schema

import (
	"fmt"
	"time"
)

// =============================================================================
// GENERATION OUTPUT - Primary artifact with grounding evidence
// =============================================================================

// GenerationStatus is the approval state of a generated artifact.
type GenerationStatus string

const (
	GenerationApproved GenerationStatus = "approved"
	GenerationRejected GenerationStatus = "rejected"
)

// Citation links one artifact claim back to a competency and page range.
type Citation struct {
	CompetencyID string `json:"competency_id" validate:"required"`
	PageRange    string `json:"page_range,omitempty"`
}

// MinApprovedCoverage is the grounding coverage an approved artifact must reach.
const MinApprovedCoverage = 0.8

// GenerationOutput is the model output plus its grounding evidence.
type GenerationOutput struct {
	ID          string           `json:"id" validate:"required"`
	Markdown    string           `json:"markdown" validate:"required"`
	Citations   []Citation       `json:"citations"`
	Coverage    float64          `json:"coverage" validate:"gte=0,lte=1"`
	Attribution string           `json:"attribution"`
	Status      GenerationStatus `json:"status" validate:"required,oneof=approved rejected"`
}

// Validate enforces the approval invariant: an approved artifact is covered,
// cited, and attributed.
func (g *GenerationOutput) Validate() error {
	if g.Status != GenerationApproved {
		return nil
	}
	if g.Coverage < MinApprovedCoverage {
		return fmt.Errorf("approved output coverage %.2f below %.2f", g.Coverage, MinApprovedCoverage)
	}
	if len(g.Citations) == 0 {
		return fmt.Errorf("approved output has no citations")
	}
	if g.Attribution == "" {
		return fmt.Errorf("approved output missing source attribution")
	}
	return nil
}

// K12Attribution formats the mandatory attribution line for ministry curricula.
func K12Attribution(sourceURL string) string {
	return fmt.Sprintf("Based on official curriculum from: %s", sourceURL)
}

// SyllabusAttribution formats the mandatory attribution line for university syllabi.
func SyllabusAttribution(institution, department, course, sourceURL string) string {
	return fmt.Sprintf("Based on syllabus from: %s · %s · %s · %s", institution, department, course, sourceURL)
}

// =============================================================================
// PROVENANCE BLOCK
// =============================================================================

// DefaultReplicaVersion is stamped on provenance when the caller supplies none.
const DefaultReplicaVersion = "v1.0"

// ProvenanceSource names one upstream document backing a curriculum.
type ProvenanceSource struct {
	URL       string `json:"url" validate:"required,url"`
	Authority string `json:"authority" validate:"required"`
	FetchDate string `json:"fetch_date" validate:"required"`
	PageRange string `json:"page_range,omitempty"`
}

// ProvenanceBlock proves where an artifact's curriculum came from.
type ProvenanceBlock struct {
	CurriculumID         string             `json:"curriculum_id" validate:"required"`
	Sources              []ProvenanceSource `json:"sources" validate:"required,min=1,dive"`
	RetrievalTimestamp   time.Time          `json:"retrieval_timestamp" validate:"required"`
	ReplicaVersion       string             `json:"replica_version"`
	ExtractionConfidence float64            `json:"extraction_confidence" validate:"gte=0,lte=1"`
}

// Validate enforces provenance completeness.
func (p *ProvenanceBlock) Validate() error {
	if len(p.Sources) == 0 {
		return fmt.Errorf("provenance block has no sources")
	}
	if p.RetrievalTimestamp.IsZero() {
		return fmt.Errorf("provenance block missing retrieval timestamp")
	}
	for i, src := range p.Sources {
		if src.URL == "" {
			return fmt.Errorf("provenance source %d missing url", i)
		}
		if src.Authority == "" {
			return fmt.Errorf("provenance source %d missing authority", i)
		}
		if src.PageRange != "" && !ValidPageRange(src.PageRange) {
			return fmt.Errorf("provenance source %d has malformed page range %q", i, src.PageRange)
		}
	}
	return nil
}

// Normalize fills defaulted fields in place.
func (p *ProvenanceBlock) Normalize() {
	if p.ReplicaVersion == "" {
		p.ReplicaVersion = DefaultReplicaVersion
	}
}

// =============================================================================
// ARTIFACT - Final deliverable
// =============================================================================

// GenerationMode tags how an artifact was graded.
type GenerationMode string

const (
	GenModeK12        GenerationMode = "k12"
	GenModeUniversity GenerationMode = "university"
)

// Artifact is the deliverable returned to the caller. Only the primary
// generation ever becomes an artifact; shadow output is logged, never served.
type Artifact struct {
	RequestID          string           `json:"request_id"`
	CurriculumID       string           `json:"curriculum_id"`
	Markdown           string           `json:"markdown"`
	Provenance         *ProvenanceBlock `json:"provenance"`
	Mode               GenerationMode   `json:"mode"`
	DisclaimerInjected bool             `json:"disclaimer_injected"`
	PartialExtraction  bool             `json:"partial_extraction"` // Provenance extraction_confidence < 1.0
	GroundingRate      float64          `json:"grounding_rate"`
	Citations          []Citation       `json:"citations"`
	GeneratedAt        time.Time        `json:"generated_at"`
}
