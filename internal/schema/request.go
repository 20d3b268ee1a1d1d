// Package schema provides the typed records exchanged between pipeline components.
// Every record carries validator tags for field-level checks plus a Validate method
// enforcing its cross-field invariants. Records that violate an invariant at a
// component boundary halt the request; nothing in this package auto-repairs.
package schema

import (
	"fmt"
)

// =============================================================================
// CURRICULUM MODE
// =============================================================================

// CurriculumMode distinguishes K-12 ministry curricula from university syllabi.
type CurriculumMode string

const (
	ModeK12      CurriculumMode = "K12"
	ModeSyllabus CurriculumMode = "SYLLABUS"
)

// =============================================================================
// NORMALIZED REQUEST - Output of request normalization
// =============================================================================

// NormalizedRequest is the canonical form of an incoming generation request.
type NormalizedRequest struct {
	ID          string         `json:"id" validate:"required"`
	RawPrompt   string         `json:"raw_prompt" validate:"required"`
	Country     string         `json:"country" validate:"required"`
	ISO2        string         `json:"iso2" validate:"required,len=2"`
	Grade       string         `json:"grade" validate:"required"`
	Subject     string         `json:"subject" validate:"required"`
	Language    string         `json:"language"`
	Institution string         `json:"institution,omitempty"` // University requests only
	Department  string         `json:"department,omitempty"`  // University requests only
	Mode        CurriculumMode `json:"mode" validate:"required,oneof=K12 SYLLABUS"`
	Confidence  float64        `json:"confidence" validate:"gte=0,lte=1"`
}

// MinRequestConfidence is the floor below which a normalized request is rejected.
const MinRequestConfidence = 0.7

// Validate enforces the request-level invariants.
func (r *NormalizedRequest) Validate() error {
	if r.Confidence < MinRequestConfidence {
		return fmt.Errorf("request confidence %.2f below minimum %.2f", r.Confidence, MinRequestConfidence)
	}
	if r.Mode == ModeSyllabus && r.Institution == "" {
		return fmt.Errorf("syllabus mode requires an institution")
	}
	return nil
}

// =============================================================================
// JURISDICTION RESOLUTION
// =============================================================================

// JurisdictionLevel places a curriculum authority in the governance hierarchy.
type JurisdictionLevel string

const (
	LevelNational   JurisdictionLevel = "national"
	LevelState      JurisdictionLevel = "state"
	LevelCounty     JurisdictionLevel = "county"
	LevelUniversity JurisdictionLevel = "university"
	LevelDepartment JurisdictionLevel = "department"
)

// AssumptionType records how a jurisdiction was determined.
type AssumptionType string

const (
	AssumptionAssumed       AssumptionType = "assumed"
	AssumptionUserConfirmed AssumptionType = "user_confirmed"
	AssumptionExplicit      AssumptionType = "explicit"
)

// JurisdictionResolution links a request to its resolved curriculum authority.
type JurisdictionResolution struct {
	RequestID      string            `json:"request_id" validate:"required"`
	Level          JurisdictionLevel `json:"level" validate:"required,oneof=national state county university department"`
	Name           string            `json:"name,omitempty"`
	ParentID       string            `json:"parent_id,omitempty"`
	AmbiguityScore float64           `json:"ambiguity_score" validate:"gte=0,lte=1"`
	Assumption     AssumptionType    `json:"assumption" validate:"required,oneof=assumed user_confirmed explicit"`
	Confidence     float64           `json:"confidence" validate:"gte=0,lte=1"`
}

const (
	// MaxAssumedAmbiguity is the JAS ceiling for an assumed jurisdiction.
	MaxAssumedAmbiguity = 0.7
	// MinJurisdictionConfidence is the floor below which the resolver must ask the user.
	MinJurisdictionConfidence = 0.6
)

// Validate enforces the resolution invariants.
func (j *JurisdictionResolution) Validate() error {
	if j.AmbiguityScore > MaxAssumedAmbiguity && j.Assumption == AssumptionAssumed {
		return fmt.Errorf("ambiguity score %.2f with assumed jurisdiction requires user confirmation", j.AmbiguityScore)
	}
	if j.Confidence < MinJurisdictionConfidence {
		return fmt.Errorf("jurisdiction confidence %.2f below minimum %.2f", j.Confidence, MinJurisdictionConfidence)
	}
	return nil
}

// =============================================================================
// VAULT LOOKUP RESULT
// =============================================================================

// VaultSource tags where a vault hit came from.
type VaultSource string

const (
	VaultSourceCache    VaultSource = "cache"
	VaultSourceParent   VaultSource = "parent"
	VaultSourceNational VaultSource = "national"
)

// ServeDecision is the routing outcome of a vault lookup.
type ServeDecision string

const (
	ServeImmediate   ServeDecision = "serve"
	ServeWithRefresh ServeDecision = "serve_refresh"
	ServeColdStart   ServeDecision = "cold_start"
)

// MinServeConfidence is the match confidence required to serve without a refresh warning.
const MinServeConfidence = 0.8

// VaultLookupResult is the outcome of resolving a request against the curriculum vault.
type VaultLookupResult struct {
	RequestID       string      `json:"request_id" validate:"required"`
	Found           bool        `json:"found"`
	CurriculumID    string      `json:"curriculum_id,omitempty"`
	MatchConfidence float64     `json:"match_confidence" validate:"gte=0,lte=1"`
	Source          VaultSource `json:"source,omitempty"`
}

// Decision maps the lookup to its serving policy.
func (v *VaultLookupResult) Decision() ServeDecision {
	if !v.Found {
		return ServeColdStart
	}
	if v.MatchConfidence >= MinServeConfidence {
		return ServeImmediate
	}
	return ServeWithRefresh
}

// Validate enforces lookup consistency.
func (v *VaultLookupResult) Validate() error {
	if v.Found && v.CurriculumID == "" {
		return fmt.Errorf("found lookup missing curriculum id")
	}
	return nil
}

// =============================================================================
// GENERATION CONFIG - Inbound request configuration
// =============================================================================

// ContentFormat selects the artifact shape to generate.
type ContentFormat string

const (
	FormatLessonPlan ContentFormat = "lesson_plan"
	FormatWorksheet  ContentFormat = "worksheet"
	FormatQuiz       ContentFormat = "quiz"
	FormatSummary    ContentFormat = "summary"
)

// TargetLevel selects the learner proficiency band.
type TargetLevel string

const (
	LevelFoundational TargetLevel = "Foundational"
	LevelProficient   TargetLevel = "Proficient"
	LevelAdvanced     TargetLevel = "Advanced"
	LevelExpert       TargetLevel = "Expert"
)

// GenerationConfig carries the caller-supplied parameters of one generation.
type GenerationConfig struct {
	TopicTitle       string        `json:"topic_title" validate:"required"`
	TopicDescription string        `json:"topic_description"`
	ContentFormat    ContentFormat `json:"content_format" validate:"required,oneof=lesson_plan worksheet quiz summary"`
	TargetLevel      TargetLevel   `json:"target_level" validate:"required,oneof=Foundational Proficient Advanced Expert"`
	Jurisdiction     string        `json:"jurisdiction"`
	Grade            string        `json:"grade"`
	RNGSeed          int64         `json:"rng_seed"`
}
