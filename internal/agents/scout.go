// Package agents implements the curriculum ingestion agents: Scout finds
// candidate sources, Gatekeeper screens licenses and authority, Architect
// downloads and extracts competencies, Embedder turns them into vault
// chunks. Pipeline chains the same stages for direct URL ingestion jobs.
// Each agent returns its envelope from internal/schema; semantic failures
// live in the envelope status, errors are reserved for infrastructure.
package agents

import (
	"context"
	"fmt"
	"sort"

	"edutrack/internal/logging"
	"edutrack/internal/schema"
)

// perQueryResults bounds the hits requested from the search backend for a
// single query. Five queries at five hits keeps the candidate pool small
// enough to screen synchronously.
const perQueryResults = 5

// Scout discovers candidate curriculum sources through a search backend.
type Scout struct {
	search SearchProvider
}

// NewScout builds a scout on the given search provider.
func NewScout(search SearchProvider) *Scout {
	return &Scout{search: search}
}

// Run fans the generated queries out to the search backend, deduplicates
// and ranks the hits official-first, and returns the top candidates. A run
// that finds nothing reports failed, not an error.
func (s *Scout) Run(ctx context.Context, jobID string, req *schema.NormalizedRequest) (*schema.ScoutOutput, error) {
	queries := BuildQueries(req.Country, req.Grade, req.Subject)
	out := &schema.ScoutOutput{
		JobID:   jobID,
		Queries: queries,
		Status:  schema.AgentFailed,
	}

	var candidates []schema.SourceCandidate
	rank := 0
	for _, query := range queries {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		results, err := s.search.Search(ctx, query, perQueryResults)
		if err != nil {
			logging.ScoutWarn("Search failed for %q: %v", query, err)
			continue
		}
		for _, r := range results {
			rank++
			candidates = append(candidates, schema.SourceCandidate{
				Title:   r.Title,
				URL:     r.URL,
				Snippet: r.Snippet,
				Domain:  ExtractDomain(r.URL),
				Rank:    rank,
			})
		}
	}

	ranked := rankAndDeduplicate(candidates, req.ISO2)
	if len(ranked) == 0 {
		logging.ScoutWarn("No sources found for %s %s %s", req.Country, req.Grade, req.Subject)
		return out, nil
	}
	if len(ranked) > schema.MaxScoutCandidates {
		ranked = ranked[:schema.MaxScoutCandidates]
	}

	out.Candidates = ranked
	out.Status = schema.AgentSuccess
	logging.Scout("Found %d candidates for %s %s %s", len(ranked), req.Country, req.Grade, req.Subject)
	return out, nil
}

// BuildQueries produces the search queries for a curriculum request.
// Higher-education grades get syllabus-shaped queries, school grades get
// ministry-shaped ones. Never more than schema.MaxScoutQueries.
func BuildQueries(country, grade, subject string) []string {
	var queries []string
	if IsTertiaryGrade(grade) {
		queries = []string{
			fmt.Sprintf("%s %s syllabus PDF", subject, grade),
			fmt.Sprintf("%s course outline %s university", subject, grade),
			fmt.Sprintf("%s curriculum %s learning outcomes", subject, grade),
			fmt.Sprintf("%s %s course description syllabus", grade, subject),
			fmt.Sprintf("MIT OpenCourseWare %s OR Coursera %s syllabus", subject, subject),
		}
	} else {
		queries = []string{
			fmt.Sprintf("%s %s %s curriculum official PDF", country, grade, subject),
			fmt.Sprintf("%s %s %s syllabus ministry of education", country, grade, subject),
			fmt.Sprintf("official %s curriculum %s %s filetype:pdf", subject, grade, country),
			fmt.Sprintf("%s national curriculum %s %s", country, subject, grade),
			fmt.Sprintf("%s learning outcomes %s %s education", subject, grade, country),
		}
	}
	if len(queries) > schema.MaxScoutQueries {
		queries = queries[:schema.MaxScoutQueries]
	}
	return queries
}

// rankAndDeduplicate removes duplicate URLs, re-detects authority hints,
// and sorts official sources ahead of unknown ones while preserving search
// order within each group. Ranks are reassigned 1..n after sorting.
func rankAndDeduplicate(candidates []schema.SourceCandidate, iso2 string) []schema.SourceCandidate {
	seen := make(map[string]bool, len(candidates))
	unique := make([]schema.SourceCandidate, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		c.AuthorityHint = DetectAuthority(c.URL, iso2)
		unique = append(unique, c)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		oi := unique[i].AuthorityHint == AuthorityOfficial
		oj := unique[j].AuthorityHint == AuthorityOfficial
		if oi != oj {
			return oi
		}
		return unique[i].Rank < unique[j].Rank
	})

	for i := range unique {
		unique[i].Rank = i + 1
	}
	return unique
}
