package schema

import (
	"fmt"
	"regexp"
	"time"
)

// =============================================================================
// CURRICULUM - Vault-resident curriculum record
// =============================================================================

// CurriculumStatus tracks a vault curriculum through its lifecycle.
type CurriculumStatus string

const (
	CurriculumActive     CurriculumStatus = "active"
	CurriculumStale      CurriculumStatus = "stale"
	CurriculumConflicted CurriculumStatus = "conflicted"
)

// Jurisdiction identifies the authority a curriculum belongs to.
type Jurisdiction struct {
	Level    JurisdictionLevel `json:"level" validate:"required,oneof=national state county university department"`
	Name     string            `json:"name,omitempty"`
	ParentID string            `json:"parent_id,omitempty"`
}

// Curriculum is an approved curriculum held in the vault.
// Created by VaultStore after ingestion, updated only through ingestion,
// never mutated by generation.
type Curriculum struct {
	ID              string           `json:"id" validate:"required"`
	Country         string           `json:"country" validate:"required"`
	ISO2            string           `json:"iso2" validate:"required,len=2"`
	Jurisdiction    Jurisdiction     `json:"jurisdiction"`
	Grade           string           `json:"grade" validate:"required"`
	Subject         string           `json:"subject" validate:"required"`
	Status          CurriculumStatus `json:"status" validate:"required,oneof=active stale conflicted"`
	Confidence      float64          `json:"confidence" validate:"gte=0,lte=1"`
	LastVerified    time.Time        `json:"last_verified"`
	TTLExpiry       time.Time        `json:"ttl_expiry"`
	SourceURL       string           `json:"source_url" validate:"required,url"`
	SourceAuthority string           `json:"source_authority"`
}

// CanServe reports whether the curriculum may back a generation.
func (c *Curriculum) CanServe() bool {
	return c.Status == CurriculumActive && c.Confidence >= MinServeConfidence
}

// IsFresh reports whether the curriculum is within its TTL.
func (c *Curriculum) IsFresh(now time.Time) bool {
	return now.Before(c.TTLExpiry)
}

// Validate enforces curriculum consistency.
func (c *Curriculum) Validate() error {
	if c.Status == CurriculumActive && c.TTLExpiry.IsZero() {
		return fmt.Errorf("active curriculum missing ttl expiry")
	}
	return nil
}

// ContentMode selects which grounding and governance regime applies to
// artifacts generated from a curriculum.
type ContentMode string

const (
	ContentK12        ContentMode = "k12"
	ContentUniversity ContentMode = "university"
)

// =============================================================================
// COMPETENCY - Extracted learning competency
// =============================================================================

// pageRangePattern matches "12" or "12-15" style page references.
var pageRangePattern = regexp.MustCompile(`^\d+(-\d+)?$`)

// ValidPageRange reports whether s is a well-formed page range.
func ValidPageRange(s string) bool {
	return pageRangePattern.MatchString(s)
}

// Competency is one extracted competency tied back to its source chunks.
type Competency struct {
	ID                   string   `json:"id" validate:"required"`
	CurriculumID         string   `json:"curriculum_id" validate:"required"`
	Title                string   `json:"title" validate:"required"`
	Description          string   `json:"description"`
	LearningOutcomes     []string `json:"learning_outcomes" validate:"required,min=1"`
	PageRange            string   `json:"page_range,omitempty"`
	SourceChunkIDs       []string `json:"source_chunk_ids" validate:"required,min=1"`
	ExtractionConfidence float64  `json:"extraction_confidence" validate:"gte=0,lte=1"`
}

// Validate enforces the grounded invariant: every competency traces to at
// least one source chunk and names at least one learning outcome.
func (c *Competency) Validate() error {
	if len(c.LearningOutcomes) == 0 {
		return fmt.Errorf("competency %s has no learning outcomes", c.ID)
	}
	if len(c.SourceChunkIDs) == 0 {
		return fmt.Errorf("competency %s has no source chunk ids", c.ID)
	}
	if c.PageRange != "" && !ValidPageRange(c.PageRange) {
		return fmt.Errorf("competency %s has malformed page range %q", c.ID, c.PageRange)
	}
	return nil
}

// Text returns the competency body used for grounding comparisons.
func (c *Competency) Text() string {
	if c.Description == "" {
		return c.Title
	}
	return c.Title + ". " + c.Description
}

// =============================================================================
// STANDARDIZED COMPETENCY - Normalized pedagogical form
// =============================================================================

// BloomLevel is a level of Bloom's taxonomy.
type BloomLevel string

const (
	BloomRemember   BloomLevel = "remember"
	BloomUnderstand BloomLevel = "understand"
	BloomApply      BloomLevel = "apply"
	BloomAnalyze    BloomLevel = "analyze"
	BloomEvaluate   BloomLevel = "evaluate"
	BloomCreate     BloomLevel = "create"
)

// StandardizedCompetency is the normalized form of an extracted competency.
// Standardization maps outputs to inputs by index, so SourceChunkID and
// ExtractionConfidence are copied from the competency at the same position.
type StandardizedCompetency struct {
	OriginalText         string     `json:"original_text" validate:"required"`
	StandardizedText     string     `json:"standardized_text" validate:"required"`
	ActionVerb           string     `json:"action_verb"`
	Content              string     `json:"content"`
	Context              string     `json:"context,omitempty"`
	BloomLevel           BloomLevel `json:"bloom_level" validate:"omitempty,oneof=remember understand apply analyze evaluate create"`
	ComplexityLevel      string     `json:"complexity_level,omitempty"`
	SourceChunkID        string     `json:"source_chunk_id" validate:"required"`
	ExtractionConfidence float64    `json:"extraction_confidence" validate:"gte=0,lte=1"`
}

// CompetencyMetadata carries the tagging output for one competency.
type CompetencyMetadata struct {
	Subject         string   `json:"subject" validate:"required"`
	GradeLevel      string   `json:"grade_level"`
	Domain          string   `json:"domain,omitempty"`
	ConfidenceScore float64  `json:"confidence_score" validate:"gte=0,lte=1"`
	Tags            []string `json:"tags,omitempty"`
}

// =============================================================================
// CHUNK - Embedded vault chunk
// =============================================================================

// ChunkKind labels what part of a competency a chunk covers.
type ChunkKind string

const (
	ChunkMain     ChunkKind = "main"
	ChunkOutcomes ChunkKind = "outcomes"
)

// Chunk is one embeddable unit of curriculum text with its vector.
type Chunk struct {
	ID           string    `json:"id" validate:"required"`
	CurriculumID string    `json:"curriculum_id" validate:"required"`
	CompetencyID string    `json:"competency_id" validate:"required"`
	Kind         ChunkKind `json:"kind" validate:"required,oneof=main outcomes"`
	Text         string    `json:"text" validate:"required"`
	Vector       []float32 `json:"-"` // Persisted separately as a float32 LE blob
}
