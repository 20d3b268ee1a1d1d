package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies the kind of audit event
type AuditEventType string

const (
	// Request lifecycle events
	AuditRequestReceived  AuditEventType = "request_received"
	AuditRequestCompleted AuditEventType = "request_completed"
	AuditRequestRejected  AuditEventType = "request_rejected"

	// Graph node execution events
	AuditNodeStart    AuditEventType = "node_start"
	AuditNodeComplete AuditEventType = "node_complete"
	AuditNodeRetry    AuditEventType = "node_retry"
	AuditNodeFailed   AuditEventType = "node_failed"

	// Model invocation events
	AuditModelCall     AuditEventType = "model_call"
	AuditModelFallback AuditEventType = "model_fallback"

	// Safety and governance events
	AuditSafetyCheck         AuditEventType = "safety_check"
	AuditGroundingVerdict    AuditEventType = "grounding_verdict"
	AuditGovernanceDecision  AuditEventType = "governance_decision"
	AuditShadowAlert         AuditEventType = "shadow_alert"
	AuditHallucinationGate   AuditEventType = "hallucination_gate"
	AuditDisclaimerInjection AuditEventType = "disclaimer_injection"

	// Ingestion job events
	AuditJobQueued   AuditEventType = "job_queued"
	AuditJobAdvanced AuditEventType = "job_advanced"
	AuditJobApproved AuditEventType = "job_approved"
	AuditJobRejected AuditEventType = "job_rejected"

	// Performance events
	AuditPerfMetric AuditEventType = "perf_metric"
)

// AuditEvent is a single JSON-line entry in the audit trail
type AuditEvent struct {
	Timestamp  string                 `json:"ts"`               // ISO-8601 UTC
	Event      AuditEventType         `json:"event"`            // Event type
	Category   string                 `json:"cat,omitempty"`    // Originating category
	RequestID  string                 `json:"req,omitempty"`    // Generation request ID
	JobID      string                 `json:"job,omitempty"`    // Ingestion job ID
	Target     string                 `json:"target,omitempty"` // Node name, model ID, curriculum ID
	Action     string                 `json:"action,omitempty"` // Attempted action
	Success    bool                   `json:"success"`          // Outcome
	DurationMS int64                  `json:"dur_ms,omitempty"` // Elapsed milliseconds
	Error      string                 `json:"error,omitempty"`  // Error string on failure
	Message    string                 `json:"msg,omitempty"`    // Free-form detail
	Fields     map[string]interface{} `json:"fields,omitempty"` // Extra structured data
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens the audit trail file. Like the category loggers,
// the audit trail only exists when debug mode is enabled.
func InitAudit(ws string) error {
	if !IsDebugMode() {
		return nil
	}

	dir := filepath.Join(ws, ".edutrack", "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	date := time.Now().UTC().Format("2006-01-02")
	path := filepath.Join(dir, fmt.Sprintf("audit_%s.jsonl", date))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}

	auditMu.Lock()
	auditFile = file
	auditMu.Unlock()

	return nil
}

// CloseAudit closes the audit trail file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// writeAudit marshals and appends one event as a JSON line
func writeAudit(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}

	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}

// Audit writes a raw audit event
func Audit(event AuditEvent) {
	writeAudit(event)
}

// =============================================================================
// REQUEST-SCOPED AUDIT
// =============================================================================

// RequestAudit scopes audit events to one generation request
type RequestAudit struct {
	requestID string
}

// NewRequestAudit creates a request-scoped audit writer
func NewRequestAudit(requestID string) *RequestAudit {
	return &RequestAudit{requestID: requestID}
}

// Received records the arrival of a generation request
func (a *RequestAudit) Received(artifactType, jurisdiction string) {
	writeAudit(AuditEvent{
		Event:     AuditRequestReceived,
		Category:  string(CategoryRequest),
		RequestID: a.requestID,
		Success:   true,
		Fields: map[string]interface{}{
			"artifact_type": artifactType,
			"jurisdiction":  jurisdiction,
		},
	})
}

// Completed records a successful generation with its grounding coverage
func (a *RequestAudit) Completed(durMS int64, coverage float64) {
	writeAudit(AuditEvent{
		Event:      AuditRequestCompleted,
		Category:   string(CategoryRequest),
		RequestID:  a.requestID,
		Success:    true,
		DurationMS: durMS,
		Fields: map[string]interface{}{
			"grounding_coverage": coverage,
		},
	})
}

// Rejected records a blocked or failed generation
func (a *RequestAudit) Rejected(reason string, err error) {
	event := AuditEvent{
		Event:     AuditRequestRejected,
		Category:  string(CategoryRequest),
		RequestID: a.requestID,
		Success:   false,
		Message:   reason,
	}
	if err != nil {
		event.Error = err.Error()
	}
	writeAudit(event)
}

// NodeStart records the start of a graph node execution
func (a *RequestAudit) NodeStart(node string, attempt int) {
	writeAudit(AuditEvent{
		Event:     AuditNodeStart,
		Category:  string(CategoryGraph),
		RequestID: a.requestID,
		Target:    node,
		Success:   true,
		Fields: map[string]interface{}{
			"attempt": attempt,
		},
	})
}

// NodeComplete records a finished graph node execution
func (a *RequestAudit) NodeComplete(node string, durMS int64, success bool, err error) {
	event := AuditEvent{
		Event:      AuditNodeComplete,
		Category:   string(CategoryGraph),
		RequestID:  a.requestID,
		Target:     node,
		Success:    success,
		DurationMS: durMS,
	}
	if err != nil {
		event.Event = AuditNodeFailed
		event.Error = err.Error()
	}
	writeAudit(event)
}

// ModelCall records one model invocation
func (a *RequestAudit) ModelCall(model string, durMS int64, tokens int, err error) {
	event := AuditEvent{
		Event:      AuditModelCall,
		Category:   string(CategoryAPI),
		RequestID:  a.requestID,
		Target:     model,
		Success:    err == nil,
		DurationMS: durMS,
		Fields: map[string]interface{}{
			"total_tokens": tokens,
		},
	}
	if err != nil {
		event.Error = err.Error()
	}
	writeAudit(event)
}

// SafetyCheck records an allow/deny decision on a protected action.
// Denied writes against the read-only vault surface land here.
func (a *RequestAudit) SafetyCheck(action string, allowed bool, reason string) {
	writeAudit(AuditEvent{
		Event:     AuditSafetyCheck,
		Category:  string(CategoryRequest),
		RequestID: a.requestID,
		Action:    action,
		Success:   allowed,
		Message:   reason,
	})
}

// GroundingVerdict records the outcome of grounding verification
func (a *RequestAudit) GroundingVerdict(passed bool, rate float64, ungrounded int) {
	writeAudit(AuditEvent{
		Event:     AuditGroundingVerdict,
		Category:  string(CategoryGrounding),
		RequestID: a.requestID,
		Success:   passed,
		Fields: map[string]interface{}{
			"grounding_rate":       rate,
			"ungrounded_sentences": ungrounded,
		},
	})
}

// GovernanceDecision records a governance enforcement outcome
func (a *RequestAudit) GovernanceDecision(passed bool, violations []string) {
	event := AuditEvent{
		Event:     AuditGovernanceDecision,
		Category:  string(CategoryGovernance),
		RequestID: a.requestID,
		Success:   passed,
	}
	if len(violations) > 0 {
		event.Fields = map[string]interface{}{"violations": violations}
	}
	writeAudit(event)
}

// ShadowAlert records a divergence alert from the shadow comparator
func (a *RequestAudit) ShadowAlert(alert string, value float64, threshold float64) {
	writeAudit(AuditEvent{
		Event:     AuditShadowAlert,
		Category:  string(CategoryShadow),
		RequestID: a.requestID,
		Success:   false,
		Message:   alert,
		Fields: map[string]interface{}{
			"value":     value,
			"threshold": threshold,
		},
	})
}

// HallucinationGate records the hallucination gate decision
func (a *RequestAudit) HallucinationGate(blocked bool, extraTopicRate float64) {
	writeAudit(AuditEvent{
		Event:     AuditHallucinationGate,
		Category:  string(CategoryShadow),
		RequestID: a.requestID,
		Success:   !blocked,
		Fields: map[string]interface{}{
			"extra_topic_rate": extraTopicRate,
		},
	})
}

// DisclaimerInjected records a university-mode disclaimer injection
func (a *RequestAudit) DisclaimerInjected(institution string) {
	writeAudit(AuditEvent{
		Event:     AuditDisclaimerInjection,
		Category:  string(CategoryGovernance),
		RequestID: a.requestID,
		Target:    institution,
		Success:   true,
	})
}

// =============================================================================
// JOB-SCOPED AUDIT
// =============================================================================

// JobAudit scopes audit events to one ingestion job
type JobAudit struct {
	jobID string
}

// NewJobAudit creates a job-scoped audit writer
func NewJobAudit(jobID string) *JobAudit {
	return &JobAudit{jobID: jobID}
}

// Queued records a newly enqueued ingestion job
func (a *JobAudit) Queued(jurisdiction, subject, grade string) {
	writeAudit(AuditEvent{
		Event:    AuditJobQueued,
		Category: string(CategoryIngest),
		JobID:    a.jobID,
		Success:  true,
		Fields: map[string]interface{}{
			"jurisdiction": jurisdiction,
			"subject":      subject,
			"grade_level":  grade,
		},
	})
}

// Advanced records a stage transition inside the ingestion pipeline
func (a *JobAudit) Advanced(stage string, durMS int64, success bool, err error) {
	event := AuditEvent{
		Event:      AuditJobAdvanced,
		Category:   string(CategoryIngest),
		JobID:      a.jobID,
		Target:     stage,
		Success:    success,
		DurationMS: durMS,
	}
	if err != nil {
		event.Error = err.Error()
	}
	writeAudit(event)
}

// Approved records a manual review approval
func (a *JobAudit) Approved(reviewer string) {
	writeAudit(AuditEvent{
		Event:    AuditJobApproved,
		Category: string(CategoryIngest),
		JobID:    a.jobID,
		Target:   reviewer,
		Success:  true,
	})
}

// Rejected records a manual review rejection
func (a *JobAudit) Rejected(reviewer, reason string) {
	writeAudit(AuditEvent{
		Event:    AuditJobRejected,
		Category: string(CategoryIngest),
		JobID:    a.jobID,
		Target:   reviewer,
		Success:  false,
		Message:  reason,
	})
}

// PerfMetric records an operation duration against its threshold
func PerfMetric(operation string, durMS int64, thresholdMS int64) {
	writeAudit(AuditEvent{
		Event:      AuditPerfMetric,
		Category:   string(CategoryPerformance),
		Target:     operation,
		Success:    durMS <= thresholdMS,
		DurationMS: durMS,
		Fields: map[string]interface{}{
			"threshold_ms": thresholdMS,
		},
	})
}
