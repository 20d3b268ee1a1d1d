package schema

import (
	"fmt"
	"time"
)

// =============================================================================
// AGENT ENVELOPES - Scout / Gatekeeper / Architect / Embedder
// =============================================================================

// AgentStatus is the outcome of one ingestion agent run.
type AgentStatus string

const (
	AgentSuccess       AgentStatus = "success"
	AgentFailed        AgentStatus = "failed"
	AgentLowConfidence AgentStatus = "low_confidence"
	AgentConflicted    AgentStatus = "conflicted"
)

const (
	// MaxScoutQueries bounds the search fan-out per job.
	MaxScoutQueries = 5
	// MaxScoutCandidates bounds the ranked candidate list.
	MaxScoutCandidates = 10
)

// SourceCandidate is one discovered curriculum source.
type SourceCandidate struct {
	Title         string `json:"title"`
	URL           string `json:"url" validate:"required,url"`
	Snippet       string `json:"snippet,omitempty"`
	Domain        string `json:"domain"`
	AuthorityHint string `json:"authority_hint,omitempty"` // "official" when domain-matched
	Rank          int    `json:"rank"`
}

// ScoutOutput is the Scout agent envelope.
type ScoutOutput struct {
	JobID      string            `json:"job_id" validate:"required"`
	Queries    []string          `json:"queries" validate:"max=5"`
	Candidates []SourceCandidate `json:"candidates" validate:"max=10,dive"`
	Status     AgentStatus       `json:"status" validate:"required,oneof=success failed low_confidence conflicted"`
}

// Validate enforces the scout envelope rules.
func (s *ScoutOutput) Validate() error {
	if len(s.Queries) > MaxScoutQueries {
		return fmt.Errorf("scout emitted %d queries, max %d", len(s.Queries), MaxScoutQueries)
	}
	if len(s.Candidates) > MaxScoutCandidates {
		return fmt.Errorf("scout emitted %d candidates, max %d", len(s.Candidates), MaxScoutCandidates)
	}
	if len(s.Candidates) == 0 && s.Status != AgentFailed {
		return fmt.Errorf("scout with no candidates must report failed, got %s", s.Status)
	}
	return nil
}

// LicenseType classifies a source's usage license.
type LicenseType string

const (
	LicenseGovernment      LicenseType = "government"
	LicensePublicDomain    LicenseType = "public_domain"
	LicenseCreativeCommons LicenseType = "creative_commons"
	LicenseEducational     LicenseType = "educational"
	LicenseRestricted      LicenseType = "restricted"
	LicenseUnknown         LicenseType = "unknown"
)

// Approvable reports whether the license admits the source into the vault.
func (l LicenseType) Approvable() bool {
	switch l {
	case LicenseGovernment, LicensePublicDomain, LicenseCreativeCommons, LicenseEducational:
		return true
	}
	return false
}

// InstitutionType is the trust tier of a syllabus source.
type InstitutionType string

const (
	InstitutionAccredited       InstitutionType = "accredited"
	InstitutionUnknown          InstitutionType = "unknown"
	InstitutionTrainingProvider InstitutionType = "training_provider"
)

// ApprovedSource is a candidate that cleared license screening.
type ApprovedSource struct {
	Candidate       SourceCandidate `json:"candidate"`
	License         LicenseType     `json:"license" validate:"required,oneof=government public_domain creative_commons educational restricted unknown"`
	Confidence      float64         `json:"confidence" validate:"gte=0,lte=1"`
	PublicationYear int             `json:"publication_year,omitempty"` // 0 when not detectable
	InstitutionType InstitutionType `json:"institution_type,omitempty"`
}

// RejectedSource records why a candidate was screened out.
type RejectedSource struct {
	URL     string      `json:"url"`
	License LicenseType `json:"license"`
	Reason  string      `json:"reason"`
}

// GatekeeperOutput is the Gatekeeper agent envelope.
type GatekeeperOutput struct {
	JobID    string           `json:"job_id" validate:"required"`
	Approved []ApprovedSource `json:"approved" validate:"dive"`
	Rejected []RejectedSource `json:"rejected,omitempty"`
	Status   AgentStatus      `json:"status" validate:"required,oneof=success failed low_confidence conflicted"`
}

// Validate enforces the gatekeeper envelope rules.
func (g *GatekeeperOutput) Validate() error {
	if len(g.Approved) == 0 && g.Status != AgentFailed && g.Status != AgentConflicted {
		return fmt.Errorf("gatekeeper with no approved sources must report failed or conflicted, got %s", g.Status)
	}
	return nil
}

// MinExtractionConfidence is the average confidence floor for a clean
// architect verdict; below it the run is low_confidence.
const MinExtractionConfidence = 0.75

// ArchitectOutput is the Architect agent envelope.
type ArchitectOutput struct {
	JobID             string       `json:"job_id" validate:"required"`
	SourceURL         string       `json:"source_url" validate:"required,url"`
	Checksum          string       `json:"checksum,omitempty"` // SHA-256 hex of the downloaded document
	Competencies      []Competency `json:"competencies" validate:"dive"`
	AverageConfidence float64      `json:"average_confidence" validate:"gte=0,lte=1"`
	Status            AgentStatus  `json:"status" validate:"required,oneof=success failed low_confidence conflicted"`
}

// Validate enforces the architect envelope rules.
func (a *ArchitectOutput) Validate() error {
	if len(a.Competencies) == 0 && a.Status != AgentFailed {
		return fmt.Errorf("architect with no competencies must report failed, got %s", a.Status)
	}
	if len(a.Competencies) > 0 && a.AverageConfidence < MinExtractionConfidence && a.Status != AgentLowConfidence {
		return fmt.Errorf("architect average confidence %.2f requires low_confidence status, got %s", a.AverageConfidence, a.Status)
	}
	return nil
}

// EmbedderOutput is the Embedder agent envelope.
type EmbedderOutput struct {
	JobID          string      `json:"job_id" validate:"required"`
	CurriculumID   string      `json:"curriculum_id" validate:"required"`
	EmbeddedChunks int         `json:"embedded_chunks" validate:"gte=0"`
	ChunkIDs       []string    `json:"chunk_ids,omitempty"`
	Status         AgentStatus `json:"status" validate:"required,oneof=success failed low_confidence conflicted"`
}

// Validate enforces the embedder envelope rule: success implies chunks exist.
func (e *EmbedderOutput) Validate() error {
	if e.Status == AgentSuccess && e.EmbeddedChunks == 0 {
		return fmt.Errorf("embedder success with zero embedded chunks")
	}
	return nil
}

// =============================================================================
// INGESTION JOB - Admin review loop record
// =============================================================================

// JobStatus tracks an ingestion job through the review loop.
type JobStatus string

const (
	JobQueued              JobStatus = "queued"
	JobRunning             JobStatus = "running"
	JobSucceeded           JobStatus = "succeeded"
	JobFailed              JobStatus = "failed"
	JobPendingManualReview JobStatus = "pending_manual_review"
)

// IngestionJob is one unit of curriculum ingestion work.
type IngestionJob struct {
	JobID       string    `json:"job_id" validate:"required"`
	SourceURL   string    `json:"source_url" validate:"required,url"`
	RequestedBy string    `json:"requested_by"`
	Status      JobStatus `json:"status" validate:"required,oneof=queued running succeeded failed pending_manual_review"`
	Reason      string    `json:"reason,omitempty"` // Why the job needs review or failed
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Terminal reports whether the job has reached a final state.
func (j *IngestionJob) Terminal() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}
