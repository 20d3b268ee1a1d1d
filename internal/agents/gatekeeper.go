package agents

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"edutrack/internal/logging"
	"edutrack/internal/schema"
)

// maxYearSpan is the widest publication-year spread two approved sources
// may have before the job is flagged conflicted for human review.
const maxYearSpan = 2

// licensePatterns map URL substrings to license classifications. Checked
// in a fixed order so overlapping patterns resolve deterministically.
var licensePatterns = []struct {
	license  schema.LicenseType
	patterns []string
}{
	{schema.LicensePublicDomain, []string{"public domain", "no copyright", "cc0"}},
	{schema.LicenseCreativeCommons, []string{"creative commons", "cc by", "cc-by", "attribution"}},
	{schema.LicenseGovernment, []string{"government publication", "crown copyright", "official document", "ministry of education", "published by the government"}},
	{schema.LicenseEducational, []string{"for educational use", "educational purposes", "non-commercial", "educational license"}},
}

// Gatekeeper screens scout candidates for license and authority, and
// validates downloaded documents before they enter the vault.
type Gatekeeper struct{}

// NewGatekeeper builds a gatekeeper.
func NewGatekeeper() *Gatekeeper {
	return &Gatekeeper{}
}

// Screen validates each candidate and splits them into approved and
// rejected sets. Officially-hinted candidates are fast-tracked as
// government sources; the rest go through license detection and lose
// confidence accordingly. Two approved sources more than two publication
// years apart flip the run to conflicted.
func (g *Gatekeeper) Screen(ctx context.Context, jobID string, candidates []schema.SourceCandidate, country, iso2 string) (*schema.GatekeeperOutput, error) {
	out := &schema.GatekeeperOutput{JobID: jobID, Status: schema.AgentFailed}
	if len(candidates) == 0 {
		logging.GatekeeperWarn("No candidates to screen for job %s", jobID)
		return out, nil
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}

	for _, candidate := range candidates {
		approved, rejected := g.screenOne(candidate, iso2)
		if approved != nil {
			out.Approved = append(out.Approved, *approved)
		} else {
			out.Rejected = append(out.Rejected, *rejected)
		}
	}

	switch {
	case len(out.Approved) > 1 && publicationConflict(out.Approved):
		out.Status = schema.AgentConflicted
		logging.GatekeeperWarn("Job %s approved sources span conflicting publication years", jobID)
	case len(out.Approved) == 0:
		out.Status = schema.AgentFailed
		logging.GatekeeperWarn("Job %s rejected all %d candidates", jobID, len(candidates))
	default:
		out.Status = schema.AgentSuccess
		logging.Gatekeeper("Job %s approved %d of %d candidates", jobID, len(out.Approved), len(candidates))
	}
	return out, nil
}

// screenOne validates a single candidate. Exactly one of the returns is
// non-nil.
func (g *Gatekeeper) screenOne(candidate schema.SourceCandidate, iso2 string) (*schema.ApprovedSource, *schema.RejectedSource) {
	if candidate.AuthorityHint == AuthorityOfficial {
		return &schema.ApprovedSource{
			Candidate:       candidate,
			License:         schema.LicenseGovernment,
			Confidence:      0.95,
			PublicationYear: PublicationYear(candidate.URL),
			InstitutionType: ClassifyInstitution(candidate.Domain, iso2),
		}, nil
	}

	license := DetectLicense(candidate.URL)
	switch license {
	case schema.LicenseUnknown:
		return nil, &schema.RejectedSource{URL: candidate.URL, License: license, Reason: "license could not be determined"}
	case schema.LicenseRestricted:
		return nil, &schema.RejectedSource{URL: candidate.URL, License: license, Reason: "restricted license"}
	}

	return &schema.ApprovedSource{
		Candidate:       candidate,
		License:         license,
		Confidence:      0.7,
		PublicationYear: PublicationYear(candidate.URL),
		InstitutionType: ClassifyInstitution(candidate.Domain, iso2),
	}, nil
}

// DetectLicense classifies a source license from its URL. Government
// markers win, then the pattern table, then academic hosts default to
// educational.
func DetectLicense(rawURL string) schema.LicenseType {
	lower := strings.ToLower(rawURL)

	if strings.Contains(lower, ".gov.") || strings.Contains(lower, "ministry") {
		return schema.LicenseGovernment
	}
	for _, entry := range licensePatterns {
		for _, pattern := range entry.patterns {
			if strings.Contains(lower, pattern) {
				return entry.license
			}
		}
	}
	if strings.Contains(lower, ".edu") || strings.Contains(lower, ".ac.") {
		return schema.LicenseEducational
	}
	return schema.LicenseUnknown
}

// publicationConflict reports whether the approved sources span more than
// maxYearSpan distinct publication years. Undated sources do not count.
func publicationConflict(approved []schema.ApprovedSource) bool {
	yearSet := make(map[int]bool)
	for _, src := range approved {
		if src.PublicationYear > 0 {
			yearSet[src.PublicationYear] = true
		}
	}
	if len(yearSet) < 2 {
		return false
	}
	years := make([]int, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	sort.Ints(years)
	return years[len(years)-1]-years[0] > maxYearSpan
}

// =============================================================================
// Document validation
// =============================================================================

// Freshness window for document-level validation. A document whose newest
// in-text year is older than this is rejected as outdated.
const maxDocumentAgeYears = 5

type docStatus string

const (
	docApproved    docStatus = "approved"
	docRejected    docStatus = "rejected"
	docNeedsReview docStatus = "pending_manual_review"
)

// DocumentVerdict is the outcome of validating a downloaded document.
type DocumentVerdict struct {
	Status         docStatus
	Reason         string
	AuthorityLevel string
	License        schema.LicenseType
}

// Approved reports whether the document may proceed to extraction.
func (v DocumentVerdict) Approved() bool {
	return v.Status == docApproved
}

var textYearPattern = regexp.MustCompile(`(20\d{2})`)

// ValidateDocument screens a downloaded document's text before extraction.
// Outdated documents are rejected, restricted ones are parked for manual
// review, everything else is approved with an authority level.
func (g *Gatekeeper) ValidateDocument(url, text string, now time.Time) DocumentVerdict {
	verdict := DocumentVerdict{
		AuthorityLevel: inferAuthorityLevel(url),
		License:        extractTextLicense(text),
	}

	if !isFresh(text, now) {
		verdict.Status = docRejected
		verdict.Reason = "outdated"
		return verdict
	}
	if verdict.License == schema.LicenseRestricted {
		verdict.Status = docNeedsReview
		verdict.Reason = "restricted license"
		return verdict
	}
	verdict.Status = docApproved
	return verdict
}

// inferAuthorityLevel grades the source host: government high, academic
// medium, everything else low.
func inferAuthorityLevel(url string) string {
	lower := strings.ToLower(url)
	if strings.Contains(lower, ".gov") {
		return "high"
	}
	if strings.Contains(lower, ".edu") {
		return "medium"
	}
	return "low"
}

// extractTextLicense classifies the license from the document body.
func extractTextLicense(text string) schema.LicenseType {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "creative commons") {
		return schema.LicenseCreativeCommons
	}
	if strings.Contains(lower, "all rights reserved") {
		return schema.LicenseRestricted
	}
	return schema.LicenseUnknown
}

// isFresh checks the years mentioned in the document text. A document with
// no detectable years passes; one whose newest year is more than
// maxDocumentAgeYears behind now fails.
func isFresh(text string, now time.Time) bool {
	matches := textYearPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return true
	}
	newest := 0
	for _, m := range matches {
		if y, err := strconv.Atoi(m); err == nil && y > newest {
			newest = y
		}
	}
	return now.Year()-newest <= maxDocumentAgeYears
}
