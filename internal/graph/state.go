// Package graph runs the orchestration state machine that takes a raw
// request through normalization, jurisdiction resolution, vault lookup,
// the cold-start ingestion chain, and generation. One State flows through
// the nodes per request; conditional edges are pure functions of that
// state, so a run is fully determined by its inputs and provider
// responses.
package graph

import (
	"time"

	"edutrack/internal/schema"
	"edutrack/internal/validation"
)

// =============================================================================
// NODE TRACKING
// =============================================================================

// NodeStatus is the lifecycle state of one node execution.
type NodeStatus string

const (
	NodePending NodeStatus = "pending"
	NodeRunning NodeStatus = "running"
	NodeSuccess NodeStatus = "success"
	NodeFailed  NodeStatus = "failed"
	NodeSkipped NodeStatus = "skipped"
	NodeHalted  NodeStatus = "halted"
)

// ExecutionMode separates the serving run from its shadow twin.
type ExecutionMode string

const (
	ModeNormal ExecutionMode = "normal"
	ModeShadow ExecutionMode = "shadow"
)

// MaxNodeAttempts caps total executions per node name.
const MaxNodeAttempts = 2

// NodeExecution is one entry in the per-request execution history.
type NodeExecution struct {
	Node        string     `json:"node"`
	Status      NodeStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// =============================================================================
// COST GUARD
// =============================================================================

// Cost caps. The request cap halts a single run; the daily cap is the
// logical budget a deployment tracks across runs.
const (
	PerRequestCapUSD = 0.02
	DailyCapUSD      = 2.00
)

// CostTracker accumulates model spend for one request.
type CostTracker struct {
	TokensUsed       int64   `json:"tokens_used"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	ModelCalls       int     `json:"model_calls"`
}

// Add records spend from one model call.
func (c *CostTracker) Add(tokens int64, costUSD float64) {
	c.TokensUsed += tokens
	c.EstimatedCostUSD += costUSD
	c.ModelCalls++
}

// WithinBudget reports whether the request is still under its cap.
func (c *CostTracker) WithinBudget() bool {
	return c.EstimatedCostUSD < PerRequestCapUSD
}

// =============================================================================
// GRAPH STATE
// =============================================================================

// State is the single shared state flowing through the graph. The engine
// owns it exclusively for the lifetime of a request; it is never shared
// across concurrent requests.
type State struct {
	// Request identity
	RequestID string `json:"request_id"`
	RawPrompt string `json:"raw_prompt"`

	// Execution context
	Mode        ExecutionMode           `json:"execution_mode"`
	Tier        validation.FallbackTier `json:"fallback_tier"`
	History     []NodeExecution         `json:"node_history"`
	CurrentNode string                  `json:"current_node,omitempty"`

	// Normalization and jurisdiction
	Request      *schema.NormalizedRequest      `json:"request,omitempty"`
	Jurisdiction *schema.JurisdictionResolution `json:"jurisdiction,omitempty"`

	// Vault lookup
	VaultResult    *schema.VaultLookupResult `json:"vault_result,omitempty"`
	NeedsColdStart bool                      `json:"needs_cold_start"`
	CurriculumID   string                    `json:"curriculum_id,omitempty"`

	// Ingestion chain
	ScoutJobID           string                   `json:"scout_job_id,omitempty"`
	Candidates           []schema.SourceCandidate `json:"candidates,omitempty"`
	ApprovedSourceURL    string                   `json:"approved_source_url,omitempty"`
	Competencies         []schema.Competency      `json:"competencies,omitempty"`
	Checksum             string                   `json:"checksum,omitempty"`
	ExtractionConfidence float64                  `json:"extraction_confidence,omitempty"`
	EmbeddedChunks       int                      `json:"embedded_chunks,omitempty"`

	// Generation
	Generation *schema.GenerationOutput `json:"generation,omitempty"`
	Artifact   *schema.Artifact         `json:"artifact,omitempty"`

	// Cost guard
	Cost CostTracker `json:"cost"`

	// Error routing
	HasError           bool           `json:"has_error"`
	ErrorNode          string         `json:"error_node,omitempty"`
	ErrorCode          string         `json:"error_code,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	ErrorRetryable     bool           `json:"error_retryable,omitempty"`
	ErrorDetails       map[string]any `json:"error_details,omitempty"`
	RequiresHumanAlert bool           `json:"requires_human_alert"`

	now func() time.Time
}

// NewState builds the initial state for a request.
func NewState(requestID, rawPrompt string) *State {
	return &State{
		RequestID: requestID,
		RawPrompt: rawPrompt,
		Mode:      ModeNormal,
		Tier:      validation.Tier0,
		now:       time.Now,
	}
}

func (s *State) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// Attempts counts total executions, including the current one, for a node.
func (s *State) Attempts(node string) int {
	count := 0
	for _, exec := range s.History {
		if exec.Node == node {
			count++
		}
	}
	return count
}

// CanRetry reports whether the node is under its attempt cap.
func (s *State) CanRetry(node string) bool {
	return s.Attempts(node) < MaxNodeAttempts
}

// recordStart pushes a RUNNING execution record and clears the transient
// error from the previous attempt.
func (s *State) recordStart(node string) {
	s.CurrentNode = node
	s.HasError = false
	s.History = append(s.History, NodeExecution{
		Node:      node,
		Status:    NodeRunning,
		StartedAt: s.clock(),
	})
}

// recordSuccess marks the latest running record for the node SUCCESS.
func (s *State) recordSuccess(node string) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Node == node && s.History[i].Status == NodeRunning {
			s.History[i].Status = NodeSuccess
			s.History[i].CompletedAt = s.clock()
			break
		}
	}
	s.CurrentNode = ""
}

// recordFailure marks the latest running record FAILED and raises the
// error flag for the edge layer.
func (s *State) recordFailure(node, message string) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Node == node && s.History[i].Status == NodeRunning {
			s.History[i].Status = NodeFailed
			s.History[i].CompletedAt = s.clock()
			s.History[i].Error = message
			break
		}
	}
	s.HasError = true
	s.ErrorNode = node
	s.ErrorMessage = message
}

// SetError records routed error metadata for downstream decisions.
func (s *State) SetError(node, code, message string, retryable bool, details map[string]any) {
	s.HasError = true
	s.ErrorNode = node
	s.ErrorCode = code
	s.ErrorMessage = message
	s.ErrorRetryable = retryable
	s.ErrorDetails = details
}

// EscalateTier moves the request one fallback tier up. Tier 2 is terminal.
func (s *State) EscalateTier() {
	switch s.Tier {
	case validation.Tier0:
		s.Tier = validation.Tier1
	case validation.Tier1:
		s.Tier = validation.Tier2
	}
}

// ShouldHalt is the explicit halt predicate: an unretryable error, an
// error while already at tier 2, or a blown cost budget.
func (s *State) ShouldHalt() bool {
	if s.HasError && !s.CanRetry(s.ErrorNode) {
		return true
	}
	if s.Tier == validation.Tier2 && s.HasError {
		return true
	}
	return !s.Cost.WithinBudget()
}
