package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"edutrack/internal/agents"
	"edutrack/internal/logging"
	"edutrack/internal/perception"
	"edutrack/internal/schema"
	"edutrack/internal/vault"
)

// =============================================================================
// RESULT AND EVENTS
// =============================================================================

// RunStatus is the terminal outcome of a graph run.
type RunStatus string

const (
	StatusCompleted   RunStatus = "completed"
	StatusRejected    RunStatus = "rejected"
	StatusHalted      RunStatus = "halted"
	StatusNeedsReview RunStatus = "needs_review"
)

// Result is what the caller sees. No partial artifact leaks out of a
// needs_review or halted run.
type Result struct {
	Status     RunStatus                `json:"status"`
	ErrorCode  string                   `json:"error_code,omitempty"`
	Message    string                   `json:"message,omitempty"`
	Generation *schema.GenerationOutput `json:"generation,omitempty"`
	State      *State                   `json:"state"`
}

// Event is a non-blocking progress notification for observers such as the
// CLI. A full channel drops events rather than stalling the run.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Node      string    `json:"node,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Generator produces the final artifact for a served curriculum. The
// production harness implements it; tests inject deterministic stubs.
type Generator interface {
	Generate(ctx context.Context, st *State) (*schema.GenerationOutput, error)
}

// =============================================================================
// ENGINE
// =============================================================================

// Config wires the engine's collaborators.
type Config struct {
	Store         *vault.Vault
	Scout         *agents.Scout
	Gatekeeper    *agents.Gatekeeper
	Architect     *agents.Architect
	Embedder      *agents.Embedder
	LLM           perception.Client
	Generator     Generator
	SnapshotDir   string        // Empty disables run snapshots
	CurriculumTTL time.Duration // Zero takes the default
	Events        chan<- Event  // Optional observer channel
}

const defaultCurriculumTTL = 180 * 24 * time.Hour

// Engine executes the orchestration graph. It is safe for sequential use;
// each Run owns its State exclusively.
type Engine struct {
	store         *vault.Vault
	scout         *agents.Scout
	gatekeeper    *agents.Gatekeeper
	architect     *agents.Architect
	embedder      *agents.Embedder
	llm           perception.Client
	generator     Generator
	snapshotDir   string
	curriculumTTL time.Duration
	events        chan<- Event
}

// NewEngine builds the engine from its config.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("graph engine requires a vault store")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("graph engine requires a generator")
	}
	ttl := cfg.CurriculumTTL
	if ttl <= 0 {
		ttl = defaultCurriculumTTL
	}
	return &Engine{
		store:         cfg.Store,
		scout:         cfg.Scout,
		gatekeeper:    cfg.Gatekeeper,
		architect:     cfg.Architect,
		embedder:      cfg.Embedder,
		llm:           cfg.LLM,
		generator:     cfg.Generator,
		snapshotDir:   cfg.SnapshotDir,
		curriculumTTL: ttl,
		events:        cfg.Events,
	}, nil
}

type nodeFunc func(ctx context.Context, st *State) error

// Run drives the state machine from NormalizeRequest to a terminal state.
func (e *Engine) Run(ctx context.Context, st *State) (*Result, error) {
	audit := logging.NewRequestAudit(st.RequestID)
	logging.Graph("Run %s started: %q", st.RequestID, st.RawPrompt)

	bodies := map[string]nodeFunc{
		NodeNormalizeRequest:    e.normalizeRequest,
		NodeResolveJurisdiction: e.resolveJurisdiction,
		NodeVaultLookup:         e.vaultLookup,
		NodeEnqueueColdStart:    e.enqueueColdStart,
		NodeScout:               e.runScout,
		NodeGatekeeper:          e.runGatekeeper,
		NodeArchitect:           e.runArchitect,
		NodeEmbedder:            e.runEmbedder,
		NodeVaultStore:          e.vaultStore,
		NodeGenerate:            e.generate,
	}
	edges := map[string]func(*State) string{
		NodeNormalizeRequest:    afterNormalize,
		NodeResolveJurisdiction: afterJurisdiction,
		NodeVaultLookup:         afterVaultLookup,
		NodeEnqueueColdStart:    afterColdStart,
		NodeScout:               afterScout,
		NodeGatekeeper:          afterGatekeeper,
		NodeArchitect:           afterArchitect,
		NodeEmbedder:            afterEmbedder,
		NodeVaultStore:          afterVaultStore,
		NodeGenerate:            afterGenerate,
	}

	current := NodeNormalizeRequest
	for current != nodeEnd {
		select {
		case <-ctx.Done():
			st.SetError(current, ErrTimeout, ctx.Err().Error(), false, nil)
			return e.finish(st, audit), nil
		default:
		}

		if current == NodeHumanAlert {
			e.runNode(ctx, st, audit, NodeHumanAlert, e.humanAlert)
			break
		}

		e.runNode(ctx, st, audit, current, bodies[current])

		// Retryable failures re-run the node within the attempt cap.
		for st.HasError && st.ErrorRetryable && st.CanRetry(current) && !st.ShouldHalt() {
			logging.GraphWarn("Retrying node %s for request %s at %s",
				current, st.RequestID, st.Tier)
			e.runNode(ctx, st, audit, current, bodies[current])
		}

		current = edges[current](st)
	}

	return e.finish(st, audit), nil
}

// runNode is the uniform node harness: RUNNING record, body, terminal
// record plus error metadata, tier escalation while retries remain, and
// cost accounting against the request cap.
func (e *Engine) runNode(ctx context.Context, st *State, audit *logging.RequestAudit, name string, body nodeFunc) {
	attempt := st.Attempts(name) + 1
	st.recordStart(name)
	audit.NodeStart(name, attempt)
	e.emit("node_started", name, "")
	started := st.clock()

	costBefore := e.costSnapshot()
	err := body(ctx, st)
	e.chargeModelSpend(st, costBefore)

	elapsed := st.clock().Sub(started).Milliseconds()
	if err == nil {
		st.recordSuccess(name)
		st.ErrorCode = ""
		st.ErrorRetryable = false
		audit.NodeComplete(name, elapsed, true, nil)
		e.emit("node_completed", name, "")
		return
	}

	st.recordFailure(name, err.Error())
	var ne *nodeError
	if errors.As(err, &ne) {
		st.SetError(name, ne.code, ne.message, ne.retryable, ne.details)
		if ne.alert {
			st.RequiresHumanAlert = true
		}
	} else {
		st.SetError(name, ErrValidationFailed, err.Error(), false, nil)
	}
	audit.NodeComplete(name, elapsed, false, err)
	e.emit("node_failed", name, err.Error())
	logging.GraphError("Node %s failed for request %s: %v", name, st.RequestID, err)

	if st.CanRetry(name) {
		st.EscalateTier()
	}
	if !st.Cost.WithinBudget() {
		logging.GraphWarn("Request %s exceeded cost cap $%.4f", st.RequestID, PerRequestCapUSD)
	}
}

func (e *Engine) humanAlert(ctx context.Context, st *State) error {
	st.RequiresHumanAlert = true
	logging.GraphWarn("Human alert for request %s: %s", st.RequestID, st.ErrorMessage)
	return nil
}

// finish classifies the terminal state, persists the run snapshot, and
// builds the caller-facing result.
func (e *Engine) finish(st *State, audit *logging.RequestAudit) *Result {
	result := &Result{State: st}
	switch {
	case st.RequiresHumanAlert:
		result.Status = StatusNeedsReview
		result.ErrorCode = st.ErrorCode
		result.Message = st.ErrorMessage
		audit.Rejected("needs_review", nil)
	case st.HasError:
		if st.ShouldHalt() {
			result.Status = StatusHalted
		} else {
			result.Status = StatusRejected
		}
		result.ErrorCode = st.ErrorCode
		result.Message = st.ErrorMessage
		audit.Rejected(st.ErrorCode, nil)
	default:
		result.Status = StatusCompleted
		result.Generation = st.Generation
		if st.Generation != nil {
			audit.Completed(0, st.Generation.Coverage)
		}
	}

	if err := e.saveSnapshot(st, result.Status); err != nil {
		logging.GraphWarn("Saving run snapshot for %s failed: %v", st.RequestID, err)
	}
	e.emit("run_finished", "", string(result.Status))
	logging.Graph("Run %s finished: %s", st.RequestID, result.Status)
	return result
}

// chargeModelSpend folds new provider usage into the request cost tracker.
func (e *Engine) chargeModelSpend(st *State, before perception.UsageStats) {
	if e.llm == nil {
		return
	}
	after := e.llm.UsageStats()
	delta := after.EstimatedCostUSD - before.EstimatedCostUSD
	tokens := after.TotalTokens - before.TotalTokens
	if delta > 0 || tokens > 0 {
		st.Cost.Add(tokens, delta)
	}
}

func (e *Engine) costSnapshot() perception.UsageStats {
	if e.llm == nil {
		return perception.UsageStats{}
	}
	return e.llm.UsageStats()
}

func (e *Engine) emit(eventType, node, message string) {
	if e.events == nil {
		return
	}
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Node:      node,
		Message:   message,
	}
	select {
	case e.events <- event:
	default:
		// Channel full, skip
	}
}

// =============================================================================
// RUN SNAPSHOTS
// =============================================================================

// snapshot is the persisted record of one run for offline inspection.
type snapshot struct {
	Status RunStatus `json:"status"`
	State  *State    `json:"state"`
	Saved  time.Time `json:"saved_at"`
}

// saveSnapshot persists the full run state as JSON under the runs dir.
func (e *Engine) saveSnapshot(st *State, status RunStatus) error {
	if e.snapshotDir == "" {
		return nil
	}
	dir := filepath.Join(e.snapshotDir, "runs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshot{Status: status, State: st, Saved: time.Now()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, st.RequestID+".json"), data, 0644)
}

// LoadSnapshot reads a persisted run back for the admin CLI.
func LoadSnapshot(snapshotDir, requestID string) (RunStatus, *State, error) {
	data, err := os.ReadFile(filepath.Join(snapshotDir, "runs", requestID+".json"))
	if err != nil {
		return "", nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return "", nil, fmt.Errorf("malformed run snapshot: %w", err)
	}
	return snap.Status, snap.State, nil
}
