// Package grounding verifies that every sentence of a generated artifact
// traces back to a stored competency. Sentences and competencies are
// embedded in one batch so both sides share a vector space, then each
// sentence is matched to its best competency by cosine similarity. K-12
// artifacts must be fully grounded; university artifacts tolerate up to
// five percent ungrounded sentences.
package grounding

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"edutrack/internal/embedding"
	"edutrack/internal/logging"
	"edutrack/internal/schema"
)

// Verdict is the pass/fail outcome of a grounding check.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// Method records how a sentence was grounded.
type Method string

const (
	MethodSemantic Method = "semantic"
	MethodNone     Method = "none"
)

const (
	// DefaultThreshold is the production cosine similarity floor for
	// dense embeddings.
	DefaultThreshold = 0.7
	// TokenVectorThreshold replaces the configured floor when the engine
	// produces token-overlap vectors; set overlap scores run far below
	// dense-embedding cosines.
	TokenVectorThreshold = 0.3
	// UniversityPassRate is the grounding rate a university artifact
	// needs for a PASS verdict. K-12 requires a clean sheet.
	UniversityPassRate = 0.95
	// minSentenceLen drops fragments too short to ground meaningfully.
	minSentenceLen = 11
)

// GroundingViolationError is raised in block mode when an artifact fails
// its grounding verdict.
type GroundingViolationError struct {
	UngroundedSentences []string
}

func (e *GroundingViolationError) Error() string {
	return fmt.Sprintf("grounding violation: %d ungrounded sentences", len(e.UngroundedSentences))
}

// CompetencyRef is the slice of a competency the verifier matches against.
type CompetencyRef struct {
	ID   string
	Text string
}

// CheckResult is the grounding outcome for a single sentence.
type CheckResult struct {
	Sentence     string  `json:"sentence"`
	Grounded     bool    `json:"grounded"`
	CompetencyID string  `json:"competency_id,omitempty"`
	Score        float64 `json:"score"`
	Method       Method  `json:"method"`
}

// Report is the grounding report for a full artifact.
type Report struct {
	TotalSentences      int           `json:"total_sentences"`
	GroundedCount       int           `json:"grounded_count"`
	UngroundedCount     int           `json:"ungrounded_count"`
	Rate                float64       `json:"grounding_rate"`
	UngroundedSentences []string      `json:"ungrounded_sentences"`
	Verdict             Verdict       `json:"verdict"`
	Results             []CheckResult `json:"results,omitempty"`
}

// Clean reports whether no sentence was left ungrounded.
func (r *Report) Clean() bool {
	return r.UngroundedCount == 0
}

// Verifier checks artifacts against competencies with a shared embedding
// engine.
type Verifier struct {
	engine    embedding.Engine
	threshold float64
}

// NewVerifier builds a verifier. A non-positive threshold falls back to
// the production default; token-vector engines always use the overlap
// threshold regardless of configuration.
func NewVerifier(engine embedding.Engine, threshold float64) *Verifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if embedding.TokenVector(engine) {
		threshold = TokenVectorThreshold
	}
	return &Verifier{engine: engine, threshold: threshold}
}

// Threshold returns the similarity floor in effect.
func (v *Verifier) Threshold() float64 {
	return v.threshold
}

// VerifyArtifact grounds every sentence of the artifact against the
// competencies and returns the mode-specific verdict. An artifact with no
// sentences passes vacuously; no competencies means nothing can ground.
func (v *Verifier) VerifyArtifact(ctx context.Context, markdown string, comps []CompetencyRef, mode schema.ContentMode) (*Report, error) {
	sentences := SplitSentences(markdown)
	if len(sentences) == 0 {
		return &Report{Verdict: VerdictPass, UngroundedSentences: []string{}}, nil
	}

	// One batch for competencies and sentences keeps the vector space
	// consistent: token-vector engines derive features per call.
	texts := make([]string, 0, len(comps)+len(sentences))
	for _, c := range comps {
		texts = append(texts, c.Text)
	}
	texts = append(texts, sentences...)

	vectors, err := v.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding artifact: %w", err)
	}
	compVecs := vectors[:len(comps)]
	sentVecs := vectors[len(comps):]

	report := &Report{
		TotalSentences:      len(sentences),
		UngroundedSentences: []string{},
		Results:             make([]CheckResult, 0, len(sentences)),
	}
	for i, sentence := range sentences {
		best, score := bestMatch(sentVecs[i], compVecs)
		result := CheckResult{Sentence: sentence, Score: score, Method: MethodNone}
		if best >= 0 && score >= v.threshold {
			result.Grounded = true
			result.CompetencyID = comps[best].ID
			result.Method = MethodSemantic
			report.GroundedCount++
		} else {
			report.UngroundedSentences = append(report.UngroundedSentences, sentence)
		}
		report.Results = append(report.Results, result)
	}

	report.UngroundedCount = len(report.UngroundedSentences)
	report.Rate = float64(report.GroundedCount) / float64(report.TotalSentences)
	report.Verdict = verdictFor(mode, report)

	logging.Grounding("Verified %d sentences: %d grounded, %d ungrounded, rate %.3f, verdict %s (mode %s)",
		report.TotalSentences, report.GroundedCount, report.UngroundedCount, report.Rate, report.Verdict, mode)
	return report, nil
}

// verdictFor applies the mode-specific tolerance.
func verdictFor(mode schema.ContentMode, r *Report) Verdict {
	switch mode {
	case schema.ContentUniversity:
		if r.Rate >= UniversityPassRate {
			return VerdictPass
		}
	default:
		if r.UngroundedCount == 0 {
			return VerdictPass
		}
	}
	return VerdictFail
}

// bestMatch returns the index and cosine score of the closest competency
// vector, or -1 when none compares.
func bestMatch(sentence []float32, comps [][]float32) (int, float64) {
	best := -1
	bestScore := -1.0
	for i, comp := range comps {
		score, err := embedding.CosineSimilarity(sentence, comp)
		if err != nil {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best < 0 {
		return -1, 0
	}
	return best, bestScore
}

// sentenceTerminator splits on sentence-ending punctuation followed by
// whitespace.
var sentenceTerminator = regexp.MustCompile(`(?:[.!?])\s+`)

// SplitSentences breaks markdown prose into sentences, dropping headers'
// hash markers and fragments too short to ground.
func SplitSentences(text string) []string {
	var sentences []string
	for _, raw := range sentenceTerminator.Split(text, -1) {
		s := strings.TrimSpace(raw)
		s = strings.TrimLeft(s, "#> ")
		s = strings.TrimSpace(s)
		if len(s) < minSentenceLen {
			continue
		}
		sentences = append(sentences, s)
	}
	return sentences
}
