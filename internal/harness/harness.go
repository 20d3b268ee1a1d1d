// Package harness is the production serving surface. It owns the only
// path from a generation request to a served artifact: read-only vault
// session, primary generation, governance enforcement, grounding
// verification, shadow comparison, and the hallucination gate, in that
// order. Nothing leaves the harness unverified.
package harness

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"edutrack/internal/config"
	"edutrack/internal/embedding"
	"edutrack/internal/governance"
	"edutrack/internal/grounding"
	"edutrack/internal/logging"
	"edutrack/internal/perception"
	"edutrack/internal/schema"
	"edutrack/internal/shadow"
	"edutrack/internal/vault"
)

// =============================================================================
// MODEL PROVENANCE
// =============================================================================

// ModelProvenance pins the exact model behind a generation so a shadow
// log can be replayed against the same configuration.
type ModelProvenance struct {
	Provider string `json:"provider"`
	ModelID  string `json:"model_id"`
	Version  string `json:"version,omitempty"`
	RNGSeed  int64  `json:"rng_seed,omitempty"`
}

// Tag renders the provenance as "model@version" for the shadow-log
// environment block.
func (p ModelProvenance) Tag() string {
	if p.ModelID == "" {
		return p.Provider
	}
	if p.Version == "" {
		return p.ModelID
	}
	return p.ModelID + "@" + p.Version
}

// generationTemperature keeps primary and shadow runs comparable.
const generationTemperature = 0.3

// =============================================================================
// HARNESS
// =============================================================================

// Config wires the harness collaborators. Policy may be nil; defaults
// apply.
type Config struct {
	Session    *vault.ReadOnlySession
	LLM        perception.Client
	Engine     embedding.Engine
	Policy     *config.Config
	StorageDir string // Shadow logs land under <StorageDir>/shadow_logs
	Primary    ModelProvenance
	Shadow     ModelProvenance
}

// Harness serves generation requests against a verified read-only vault
// session. Session access is serialized; one request runs at a time.
type Harness struct {
	mu       sync.Mutex
	session  *vault.ReadOnlySession
	llm      perception.Client
	engine   embedding.Engine
	verifier *grounding.Verifier
	enforcer *governance.Enforcer
	shadows  *shadow.Logger
	breaker  *shadow.Breaker

	groundingAction     string
	hallucinationAction string
	primary             ModelProvenance
	shadowModel         ModelProvenance
}

// New builds the harness and runs the startup self-test. The session must
// already be verified read-only; an unverified session fails closed with
// DatabaseNotReadOnlyError.
func New(ctx context.Context, cfg Config) (*Harness, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("harness requires a read-only session")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("harness requires a model client")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("harness requires an embedding engine")
	}
	// The self-test proves read-only at the database level and marks the
	// session verified; any failure fails closed.
	if err := cfg.Session.SelfTest(ctx); err != nil {
		return nil, err
	}

	policy := cfg.Policy
	if policy == nil {
		policy = config.DefaultConfig()
	}

	h := &Harness{
		session:     cfg.Session,
		llm:         cfg.LLM,
		engine:      cfg.Engine,
		verifier:    grounding.NewVerifier(cfg.Engine, policy.Grounding.Threshold),
		enforcer:    governance.NewEnforcer(policy.Governance.StrictProvenance, policy.GetProvenanceMaxAge()),
		shadows:     shadow.NewLogger(cfg.Engine, cfg.StorageDir, shadow.ThresholdsFromConfig(policy.Shadow)),
		breaker:     shadow.NewBreaker(policy.Shadow.BreakerFailures, policy.GetBreakerRecovery()),
		primary:     cfg.Primary,
		shadowModel: cfg.Shadow,
	}
	h.groundingAction = normalizeAction(policy.Grounding.Action)
	h.hallucinationAction = normalizeAction(policy.Shadow.HallucinationAction)
	return h, nil
}

// ApplyPolicy swaps the hot-reloadable knobs: enforcement actions and
// shadow thresholds. The policy watcher calls this on config reload.
func (h *Harness) ApplyPolicy(groundingCfg config.GroundingConfig, shadowCfg config.ShadowConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.groundingAction = normalizeAction(groundingCfg.Action)
	h.hallucinationAction = normalizeAction(shadowCfg.HallucinationAction)
	h.verifier = grounding.NewVerifier(h.engine, groundingCfg.Threshold)
	h.shadows.SetThresholds(shadow.ThresholdsFromConfig(shadowCfg))
	logging.Request("Harness policy reloaded: grounding=%s hallucination=%s",
		h.groundingAction, h.hallucinationAction)
}

func normalizeAction(action string) string {
	if strings.ToUpper(strings.TrimSpace(action)) == config.ActionBlock {
		return config.ActionBlock
	}
	return config.ActionWarn
}

// =============================================================================
// GENERATE
// =============================================================================

// Generate produces one verified artifact for a served curriculum. A nil
// provenance block is reconstructed from the stored curriculum record.
// The shadow output is compared and logged but never served.
func (h *Harness) Generate(ctx context.Context, requestID, curriculumID string, genCfg *schema.GenerationConfig, prov *schema.ProvenanceBlock) (*schema.Artifact, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if genCfg == nil {
		return nil, fmt.Errorf("generation config is required")
	}
	if !h.session.Verified() {
		return nil, &vault.DatabaseNotReadOnlyError{Reason: "session lost read-only verification"}
	}

	audit := logging.NewRequestAudit(requestID)
	started := time.Now()
	logging.Request("Generate %s: curriculum %s, format %s", requestID, curriculumID, genCfg.ContentFormat)

	mode, err := h.session.FetchCurriculumMode(ctx, curriculumID)
	if err != nil {
		return nil, err
	}
	curriculum, err := h.session.FetchCurriculum(ctx, curriculumID)
	if err != nil {
		return nil, fmt.Errorf("fetching curriculum %s: %w", curriculumID, err)
	}
	if prov == nil {
		prov = provenanceFor(curriculum)
	}

	if err := h.enforcer.CheckConfidence(prov.ExtractionConfidence, mode, genCfg.ContentFormat); err != nil {
		audit.GovernanceDecision(false, []string{err.Error()})
		return nil, err
	}

	prompt := buildPrompt(curriculum, genCfg, mode)
	primaryMD, err := h.llm.GenerateText(ctx, prompt, perception.TierFlash, generationTemperature, perception.TaskCreative)
	if err != nil {
		return nil, fmt.Errorf("primary generation: %w", err)
	}

	artifact := &schema.Artifact{
		RequestID:    requestID,
		CurriculumID: curriculumID,
		Markdown:     primaryMD,
		Mode:         generationModeFor(mode),
		GeneratedAt:  time.Now().UTC(),
	}

	if err := h.enforcer.Enforce(artifact, curriculum.Jurisdiction.Level, prov); err != nil {
		audit.GovernanceDecision(false, []string{err.Error()})
		return nil, err
	}
	audit.GovernanceDecision(true, nil)
	if artifact.DisclaimerInjected {
		audit.DisclaimerInjected(curriculum.SourceAuthority)
	}

	comps, err := h.session.FetchCompetencies(ctx, curriculumID)
	if err != nil {
		return nil, err
	}
	refs := make([]grounding.CompetencyRef, len(comps))
	for i, c := range comps {
		refs[i] = grounding.CompetencyRef{ID: c.ID, Text: c.Text}
	}

	// Grounding and shadow generation run concurrently; only grounding
	// can fail the request. A shadow failure trips the breaker and the
	// request proceeds without a divergence log.
	var (
		report    *grounding.Report
		shadowMD  string
		shadowErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, verr := h.verifier.VerifyArtifact(gctx, artifact.Markdown, refs, mode)
		report = r
		return verr
	})
	g.Go(func() error {
		shadowMD, shadowErr = h.breaker.Execute(func() (string, error) {
			return h.llm.GenerateText(gctx, prompt, perception.TierPro, generationTemperature, perception.TaskCreative)
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("grounding verification: %w", err)
	}

	audit.GroundingVerdict(report.Verdict == grounding.VerdictPass, report.Rate, report.UngroundedCount)
	if report.Verdict == grounding.VerdictFail {
		if h.groundingAction == config.ActionBlock {
			return nil, &grounding.GroundingViolationError{UngroundedSentences: report.UngroundedSentences}
		}
		logging.GroundingWarn("Request %s served with %d ungrounded sentences (rate %.2f, action WARN)",
			requestID, report.UngroundedCount, report.Rate)
	}
	artifact.GroundingRate = report.Rate
	artifact.Citations = citationsFrom(report)

	if err := h.shadowGate(ctx, audit, requestID, curriculumID, artifact.Markdown, shadowMD, shadowErr, genCfg.RNGSeed); err != nil {
		return nil, err
	}

	audit.Completed(time.Since(started).Milliseconds(), artifact.GroundingRate)
	return artifact, nil
}

// shadowGate logs the shadow comparison and applies the hallucination
// gate. The shadow output itself is discarded here.
func (h *Harness) shadowGate(ctx context.Context, audit *logging.RequestAudit, requestID, curriculumID, primaryMD, shadowMD string, shadowErr error, seed int64) error {
	if shadowErr != nil {
		if shadowErr == shadow.ErrShadowDisabled {
			logging.ShadowWarn("Shadow skipped for request %s: circuit breaker open", requestID)
		} else {
			logging.ShadowWarn("Shadow generation failed for request %s: %v", requestID, shadowErr)
		}
		return nil
	}

	env := shadow.Environment{
		ModelPrimary:   h.primary.Tag(),
		ModelShadow:    h.shadowModel.Tag(),
		EmbeddingModel: h.engine.Name(),
	}
	if seed != 0 {
		env.Seed = strconv.FormatInt(seed, 10)
	}
	entry, err := h.shadows.LogRun(ctx, uuid.NewString(), requestID, curriculumID, primaryMD, shadowMD, env)
	if err != nil {
		logging.ShadowError("Shadow log failed for request %s: %v", requestID, err)
		return nil
	}
	for _, alert := range entry.Alerts {
		value, threshold := alertReading(alert, entry.Metrics)
		audit.ShadowAlert(alert, value, threshold)
	}

	hallucinated := false
	for _, alert := range entry.Alerts {
		if alert == shadow.AlertHallucination {
			hallucinated = true
		}
	}
	blocked := hallucinated && h.hallucinationAction == config.ActionBlock
	audit.HallucinationGate(blocked, entry.Metrics.ExtraTopicRate)
	if blocked {
		return &shadow.HallucinationBlockError{
			ExtraTopicRate: entry.Metrics.ExtraTopicRate,
			Alerts:         entry.Alerts,
			RequestID:      requestID,
		}
	}
	return nil
}

// alertReading pairs an alert name with the metric value that raised it.
func alertReading(alert string, m shadow.DeltaMetrics) (float64, float64) {
	t := shadow.DefaultThresholds()
	switch alert {
	case shadow.AlertTopicSetDelta:
		return m.TopicSetDelta, t.TopicSetDelta
	case shadow.AlertOrderingDelta:
		return m.OrderingDelta, t.OrderingDelta
	case shadow.AlertContentDelta:
		return m.ContentDelta, t.ContentDelta
	case shadow.AlertHallucination:
		return m.ExtraTopicRate, t.ExtraTopicRate
	case shadow.AlertOmissionRate:
		return m.OmissionRate, t.OmissionRate
	}
	return 0, 0
}

// =============================================================================
// PROMPTS AND DERIVED FIELDS
// =============================================================================

// buildPrompt renders the generation prompt from the curriculum record.
// Primary and shadow share it; divergence must come from the model, not
// the instructions.
func buildPrompt(c *schema.Curriculum, cfg *schema.GenerationConfig, mode schema.ContentMode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a %s for the topic %q.\n", formatLabel(cfg.ContentFormat), cfg.TopicTitle)
	if cfg.TopicDescription != "" {
		fmt.Fprintf(&b, "Topic description: %s\n", cfg.TopicDescription)
	}
	fmt.Fprintf(&b, "Curriculum: %s %s, %s (%s).\n", c.Grade, c.Subject, c.Country, c.SourceAuthority)
	fmt.Fprintf(&b, "Target level: %s.\n", cfg.TargetLevel)
	if mode == schema.ContentUniversity {
		b.WriteString("This is university syllabus content: follow the source syllabus structure exactly.\n")
	}
	b.WriteString("Cover only material from the official curriculum above. ")
	b.WriteString("Output markdown with one top-level title and ## section headers per topic.")
	return b.String()
}

func formatLabel(format schema.ContentFormat) string {
	return strings.ReplaceAll(string(format), "_", " ")
}

func generationModeFor(mode schema.ContentMode) schema.GenerationMode {
	if mode == schema.ContentUniversity {
		return schema.GenModeUniversity
	}
	return schema.GenModeK12
}

// provenanceFor reconstructs a provenance block from the stored
// curriculum record when the caller did not supply one.
func provenanceFor(c *schema.Curriculum) *schema.ProvenanceBlock {
	return &schema.ProvenanceBlock{
		CurriculumID: c.ID,
		Sources: []schema.ProvenanceSource{{
			URL:       c.SourceURL,
			Authority: c.SourceAuthority,
			FetchDate: c.LastVerified.UTC().Format("2006-01-02"),
		}},
		RetrievalTimestamp:   c.LastVerified,
		ExtractionConfidence: c.Confidence,
	}
}

// citationsFrom collects the distinct competencies that grounded at least
// one sentence, in first-use order.
func citationsFrom(report *grounding.Report) []schema.Citation {
	seen := make(map[string]bool)
	citations := make([]schema.Citation, 0, 4)
	for _, r := range report.Results {
		if !r.Grounded || r.CompetencyID == "" || seen[r.CompetencyID] {
			continue
		}
		seen[r.CompetencyID] = true
		citations = append(citations, schema.Citation{CompetencyID: r.CompetencyID})
	}
	return citations
}
