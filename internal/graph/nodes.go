package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"edutrack/internal/agents"
	"edutrack/internal/schema"
	"edutrack/internal/validation"
	"edutrack/internal/vault"
)

// =============================================================================
// NODE NAMES
// =============================================================================

const (
	NodeNormalizeRequest    = "NormalizeRequest"
	NodeResolveJurisdiction = "ResolveJurisdiction"
	NodeVaultLookup         = "VaultLookup"
	NodeEnqueueColdStart    = "EnqueueColdStart"
	NodeScout               = "ScoutAgent"
	NodeGatekeeper          = "GatekeeperAgent"
	NodeArchitect           = "ArchitectAgent"
	NodeEmbedder            = "Embedder"
	NodeVaultStore          = "VaultStore"
	NodeGenerate            = "Generate"
	NodeHumanAlert          = "HumanAlert"
	nodeEnd                 = "END"
)

// =============================================================================
// REQUEST NORMALIZATION
// =============================================================================

// countryCodes maps recognized country names to their ISO-3166 alpha-2 code.
var countryCodes = map[string]string{
	"nigeria":        "NG",
	"kenya":          "KE",
	"ghana":          "GH",
	"south africa":   "ZA",
	"united states":  "US",
	"usa":            "US",
	"united kingdom": "GB",
	"canada":         "CA",
}

var subjectCandidates = []string{
	"biology", "chemistry", "mathematics", "physics", "english", "science",
}

var (
	gradePattern       = regexp.MustCompile(`(?i)(grade\s*\d+|jss\s*\d+|ss\s*\d+|year\s*\d+|university|college)`)
	institutionPattern = regexp.MustCompile(`(?i)at\s+([A-Z][\w .'-]*?(?:University|College|Institute))`)
	multiSpacePattern  = regexp.MustCompile(`\s+`)
)

// Defaults when a field cannot be parsed from the prompt. Each defaulted
// field costs normalization confidence, so a fully-defaulted request fails
// the intent floor rather than silently serving the wrong curriculum.
const (
	defaultCountry = "Nigeria"
	defaultGrade   = "Grade 9"
	defaultSubject = "Biology"

	baseNormalizeConfidence = 0.7
	fieldConfidenceBonus    = 0.1
)

// normalizeRequest parses the raw prompt into a NormalizedRequest.
func (e *Engine) normalizeRequest(ctx context.Context, st *State) error {
	if strings.TrimSpace(st.RawPrompt) == "" {
		return failNode(ErrValidationFailed, "empty prompt", false)
	}
	lowered := strings.ToLower(st.RawPrompt)

	confidence := baseNormalizeConfidence

	country, iso2 := defaultCountry, countryCodes[strings.ToLower(defaultCountry)]
	for name, code := range countryCodes {
		if strings.Contains(lowered, name) {
			country, iso2 = titleCase(name), code
			confidence += fieldConfidenceBonus
			break
		}
	}

	grade := defaultGrade
	if m := gradePattern.FindString(st.RawPrompt); m != "" {
		grade = multiSpacePattern.ReplaceAllString(strings.ToUpper(m), " ")
		if agents.IsTertiaryGrade(m) {
			grade = titleCase(strings.ToLower(m))
		}
		confidence += fieldConfidenceBonus
	}

	subject := defaultSubject
	for _, s := range subjectCandidates {
		if strings.Contains(lowered, s) {
			subject = titleCase(s)
			confidence += fieldConfidenceBonus
			break
		}
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	mode := schema.ModeK12
	institution := ""
	if agents.IsTertiaryGrade(grade) {
		if m := institutionPattern.FindStringSubmatch(st.RawPrompt); m != nil {
			mode = schema.ModeSyllabus
			institution = strings.TrimSpace(m[1])
		}
	}

	req := &schema.NormalizedRequest{
		ID:          st.RequestID,
		RawPrompt:   st.RawPrompt,
		Country:     country,
		ISO2:        iso2,
		Grade:       grade,
		Subject:     subject,
		Language:    "English",
		Institution: institution,
		Mode:        mode,
		Confidence:  confidence,
	}
	if err := validation.ValidateRecord(req); err != nil {
		return failNode(ErrValidationFailed, err.Error(), false)
	}
	if err := validation.CheckConfidenceThreshold(confidence, validation.StageIntentClassification); err != nil {
		return failNode(ErrValidationFailed, err.Error(), false)
	}

	st.Request = req
	return nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// =============================================================================
// JURISDICTION RESOLUTION
// =============================================================================

// resolveJurisdiction places the request in the authority hierarchy. A
// prompt naming a state or county is ambiguous at the national level, so
// the ambiguity score rises and confidence drops below the floor, forcing
// user confirmation.
func (e *Engine) resolveJurisdiction(ctx context.Context, st *State) error {
	if st.Request == nil {
		return failNode(ErrValidationFailed, "jurisdiction resolution requires a normalized request", false)
	}

	lowered := strings.ToLower(st.RawPrompt)
	highAmbiguity := strings.Contains(lowered, "state ") || strings.Contains(lowered, "county")

	level := schema.LevelNational
	if agents.IsTertiaryGrade(st.Request.Grade) {
		level = schema.LevelUniversity
	}

	jas, confidence := 0.25, 0.9
	if highAmbiguity {
		jas, confidence = 0.75, 0.62
	}

	jur := &schema.JurisdictionResolution{
		RequestID:      st.RequestID,
		Level:          level,
		Name:           st.Request.Institution,
		AmbiguityScore: jas,
		Assumption:     schema.AssumptionAssumed,
		Confidence:     confidence,
	}
	if err := validation.ValidateRecord(jur); err != nil {
		return failNode(ErrValidationFailed, err.Error(), false)
	}
	if err := validation.CheckConfidenceThreshold(confidence, validation.StageJurisdictionResolution); err != nil {
		return failNode(ErrValidationFailed, err.Error(), false)
	}

	st.Jurisdiction = jur
	return nil
}

// =============================================================================
// VAULT LOOKUP AND COLD START
// =============================================================================

func (e *Engine) vaultLookup(ctx context.Context, st *State) error {
	result, err := e.store.Lookup(ctx, st.Request, st.Jurisdiction)
	if err != nil {
		return failNode(ErrVaultStoreFailed, fmt.Sprintf("vault lookup: %v", err), true)
	}
	if err := validation.ValidateRecord(result); err != nil {
		return failNode(ErrValidationFailed, err.Error(), false)
	}

	st.VaultResult = result
	st.CurriculumID = result.CurriculumID
	st.NeedsColdStart = result.Decision() != schema.ServeImmediate
	return nil
}

func (e *Engine) enqueueColdStart(ctx context.Context, st *State) error {
	if !st.NeedsColdStart {
		return failNode(ErrColdStartNotRequired,
			"cold start enqueue requested while needs_cold_start is false", false)
	}

	jobID := uuid.NewString()
	if err := e.store.EnqueueJob(ctx, jobID, "", st.RequestID); err != nil {
		return failNode(ErrVaultStoreFailed, fmt.Sprintf("enqueue ingestion job: %v", err), true)
	}
	st.ScoutJobID = jobID
	return nil
}

// =============================================================================
// INGESTION CHAIN
// =============================================================================

func (e *Engine) runScout(ctx context.Context, st *State) error {
	out, err := e.scout.Run(ctx, st.ScoutJobID, st.Request)
	if err != nil {
		return classifyTimeout(err, failNode(ErrScoutNoSources, err.Error(), true))
	}
	if out.Status == schema.AgentFailed || len(out.Candidates) == 0 {
		return failNode(ErrScoutNoSources, "scout produced no candidate sources", true).
			withDetails(map[string]any{"query_count": len(out.Queries)})
	}
	st.Candidates = out.Candidates
	return nil
}

func (e *Engine) runGatekeeper(ctx context.Context, st *State) error {
	out, err := e.gatekeeper.Screen(ctx, st.ScoutJobID, st.Candidates, st.Request.Country, st.Request.ISO2)
	if err != nil {
		return classifyTimeout(err, failNode(ErrSourceValidationFailed, err.Error(), true))
	}
	if out.Status == schema.AgentConflicted {
		return failNode(ErrSourceConflict,
			"gatekeeper detected conflicting authoritative sources", false).withAlert()
	}
	if out.Status == schema.AgentFailed || len(out.Approved) == 0 {
		return failNode(ErrSourceValidationFailed, "no sources passed gatekeeper validation", true).
			withDetails(map[string]any{"rejected": len(out.Rejected)})
	}
	st.ApprovedSourceURL = out.Approved[0].Candidate.URL
	return nil
}

func (e *Engine) runArchitect(ctx context.Context, st *State) error {
	out, err := e.architect.Run(ctx, st.ScoutJobID, st.ApprovedSourceURL)
	if err != nil {
		return classifyTimeout(err, failNode(ErrExtractionFailed, err.Error(), true))
	}
	st.ExtractionConfidence = out.AverageConfidence

	if out.Status == schema.AgentFailed || len(out.Competencies) == 0 {
		return failNode(ErrExtractionFailed, "architect returned zero competencies", true)
	}
	if out.Status == schema.AgentLowConfidence || out.AverageConfidence < schema.MinExtractionConfidence {
		return failNode(ErrExtractionLowConfidence,
			fmt.Sprintf("extraction confidence %.2f below required %.2f",
				out.AverageConfidence, schema.MinExtractionConfidence), false).
			withDetails(map[string]any{"average_confidence": out.AverageConfidence}).
			withAlert()
	}

	// The curriculum id derives from the document checksum so the embedder
	// writes its chunks under the id VaultStore will persist.
	st.Checksum = out.Checksum
	st.CurriculumID = vault.CurriculumIDFromChecksum(out.Checksum)
	comps := make([]schema.Competency, len(out.Competencies))
	copy(comps, out.Competencies)
	for i := range comps {
		comps[i].CurriculumID = st.CurriculumID
	}
	st.Competencies = comps
	return nil
}

func (e *Engine) runEmbedder(ctx context.Context, st *State) error {
	out, err := e.embedder.Run(ctx, st.ScoutJobID, st.CurriculumID, st.Competencies)
	if err != nil {
		return classifyTimeout(err, failNode(ErrEmbeddingFailed, err.Error(), true))
	}
	if out.Status == schema.AgentFailed || out.EmbeddedChunks == 0 {
		return failNode(ErrEmbeddingFailed, "embedding pipeline produced zero chunks", true)
	}
	st.EmbeddedChunks = out.EmbeddedChunks
	return nil
}

func (e *Engine) vaultStore(ctx context.Context, st *State) error {
	confidence := st.ExtractionConfidence
	if confidence < schema.MinServeConfidence {
		confidence = schema.MinServeConfidence
	}

	now := st.clock()
	curriculum := &schema.Curriculum{
		ID:      st.CurriculumID,
		Country: st.Request.Country,
		ISO2:    st.Request.ISO2,
		Jurisdiction: schema.Jurisdiction{
			Level: st.Jurisdiction.Level,
			Name:  st.Jurisdiction.Name,
		},
		Grade:           st.Request.Grade,
		Subject:         st.Request.Subject,
		Status:          schema.CurriculumActive,
		Confidence:      confidence,
		LastVerified:    now,
		TTLExpiry:       now.Add(e.curriculumTTL),
		SourceURL:       st.ApprovedSourceURL,
		SourceAuthority: agents.ExtractDomain(st.ApprovedSourceURL),
	}
	if err := e.store.UpsertCurriculum(ctx, curriculum, st.Checksum); err != nil {
		return failNode(ErrVaultStoreFailed, fmt.Sprintf("persist curriculum: %v", err), true)
	}
	if err := e.store.ReplaceCompetencies(ctx, st.CurriculumID, st.Competencies); err != nil {
		return failNode(ErrVaultStoreFailed, fmt.Sprintf("persist competencies: %v", err), true)
	}
	if st.ScoutJobID != "" {
		if err := e.store.MarkJobStatus(ctx, st.ScoutJobID, schema.JobSucceeded, ""); err != nil {
			return failNode(ErrVaultStoreFailed, fmt.Sprintf("mark job succeeded: %v", err), true)
		}
	}

	st.VaultResult = &schema.VaultLookupResult{
		RequestID:       st.RequestID,
		Found:           true,
		CurriculumID:    st.CurriculumID,
		MatchConfidence: confidence,
		Source:          schema.VaultSourceCache,
	}
	st.NeedsColdStart = false
	return nil
}

// =============================================================================
// GENERATION
// =============================================================================

func (e *Engine) generate(ctx context.Context, st *State) error {
	if st.CurriculumID == "" {
		return failNode(ErrValidationFailed, "generation requires a curriculum id", false)
	}

	out, err := e.generator.Generate(ctx, st)
	if err != nil {
		return classifyTimeout(err, failNode(ErrGenerationMissingCitations, err.Error(), true))
	}
	if err := validation.EnforceGroundingGate(out.Coverage); err != nil {
		return failNode(ErrGenerationMissingCitations, err.Error(), true).
			withDetails(map[string]any{"coverage": out.Coverage})
	}
	if len(out.Citations) == 0 {
		return failNode(ErrGenerationMissingCitations,
			"generated content missing required citations", true).
			withDetails(map[string]any{"coverage": out.Coverage})
	}

	st.Generation = out
	return nil
}

// classifyTimeout rewrites a deadline failure so it is retryable under the
// node cap and halts with E_TIMEOUT after exhaustion.
func classifyTimeout(err error, fallback *nodeError) *nodeError {
	if isDeadline(err) {
		return failNode(ErrTimeout, err.Error(), true)
	}
	return fallback
}

func isDeadline(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var t interface{ Timeout() bool }
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}
