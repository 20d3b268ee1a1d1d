package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"edutrack/internal/schema"
)

func k12Request() *schema.NormalizedRequest {
	return &schema.NormalizedRequest{
		ID:         "req-1",
		RawPrompt:  "lesson plan for grade 9 biology in nigeria",
		Country:    "Nigeria",
		ISO2:       "NG",
		Grade:      "Grade 9",
		Subject:    "Biology",
		Mode:       schema.ModeK12,
		Confidence: 0.9,
	}
}

func TestBuildQueriesK12(t *testing.T) {
	queries := BuildQueries("Nigeria", "Grade 9", "Biology")
	if len(queries) != schema.MaxScoutQueries {
		t.Fatalf("got %d queries, want %d", len(queries), schema.MaxScoutQueries)
	}
	if queries[0] != "Nigeria Grade 9 Biology curriculum official PDF" {
		t.Errorf("first query = %q", queries[0])
	}
	for _, q := range queries {
		if strings.Contains(q, "syllabus PDF") && strings.HasPrefix(q, "Biology") {
			t.Errorf("k12 request produced a university query: %q", q)
		}
	}
}

func TestBuildQueriesTertiary(t *testing.T) {
	queries := BuildQueries("United States", "University Year 2", "Computer Science")
	if len(queries) != schema.MaxScoutQueries {
		t.Fatalf("got %d queries, want %d", len(queries), schema.MaxScoutQueries)
	}
	if queries[0] != "Computer Science University Year 2 syllabus PDF" {
		t.Errorf("first query = %q", queries[0])
	}
	foundCourseware := false
	for _, q := range queries {
		if strings.Contains(q, "OpenCourseWare") {
			foundCourseware = true
		}
		if strings.Contains(q, "ministry of education") {
			t.Errorf("tertiary request produced a ministry query: %q", q)
		}
	}
	if !foundCourseware {
		t.Error("tertiary queries missing the courseware query")
	}
}

func TestScoutRanksOfficialFirst(t *testing.T) {
	search := &fakeSearch{all: []SearchResult{
		{Title: "Study blog", URL: "https://www.studynotes.example.com/biology"},
		{Title: "NERDC Biology", URL: "https://nerdc.gov.ng/curriculum/biology-jss3-2019.pdf"},
		{Title: "Tutoring site", URL: "https://www.tutorhub.example.com/bio"},
	}}

	out, err := NewScout(search).Run(context.Background(), "job-1", k12Request())
	if err != nil {
		t.Fatalf("scout run: %v", err)
	}
	if out.Status != schema.AgentSuccess {
		t.Fatalf("status = %s, want success", out.Status)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("envelope invalid: %v", err)
	}

	// Each of the five queries returned the same three hits; duplicates
	// must collapse to three candidates.
	if len(out.Candidates) != 3 {
		t.Fatalf("got %d candidates, want 3: %+v", len(out.Candidates), out.Candidates)
	}
	first := out.Candidates[0]
	if first.URL != "https://nerdc.gov.ng/curriculum/biology-jss3-2019.pdf" {
		t.Errorf("top candidate = %q, want the official source", first.URL)
	}
	if first.AuthorityHint != AuthorityOfficial {
		t.Errorf("top candidate hint = %q, want official", first.AuthorityHint)
	}
	if first.Domain != "nerdc.gov.ng" {
		t.Errorf("top candidate domain = %q", first.Domain)
	}
	for i, c := range out.Candidates {
		if c.Rank != i+1 {
			t.Errorf("candidate %d rank = %d, want %d", i, c.Rank, i+1)
		}
	}
	if search.calls != schema.MaxScoutQueries {
		t.Errorf("search called %d times, want %d", search.calls, schema.MaxScoutQueries)
	}
}

func TestScoutCapsCandidates(t *testing.T) {
	var hits []SearchResult
	for i := 0; i < 15; i++ {
		hits = append(hits, SearchResult{
			Title: fmt.Sprintf("Result %d", i),
			URL:   fmt.Sprintf("https://site-%d.example.com/doc.pdf", i),
		})
	}
	search := &fakeSearch{hits: map[string][]SearchResult{
		BuildQueries("Nigeria", "Grade 9", "Biology")[0]: hits,
	}}

	out, err := NewScout(search).Run(context.Background(), "job-1", k12Request())
	if err != nil {
		t.Fatalf("scout run: %v", err)
	}
	if len(out.Candidates) != schema.MaxScoutCandidates {
		t.Errorf("got %d candidates, want cap %d", len(out.Candidates), schema.MaxScoutCandidates)
	}
}

func TestScoutEmptyReportsFailed(t *testing.T) {
	out, err := NewScout(&fakeSearch{}).Run(context.Background(), "job-1", k12Request())
	if err != nil {
		t.Fatalf("scout run: %v", err)
	}
	if out.Status != schema.AgentFailed {
		t.Errorf("status = %s, want failed", out.Status)
	}
	if len(out.Candidates) != 0 {
		t.Errorf("candidates = %+v, want none", out.Candidates)
	}
	if err := out.Validate(); err != nil {
		t.Errorf("failed envelope should validate: %v", err)
	}
}

func TestScoutSearchErrorsReportFailed(t *testing.T) {
	search := &fakeSearch{err: errors.New("search backend down")}
	out, err := NewScout(search).Run(context.Background(), "job-1", k12Request())
	if err != nil {
		t.Fatalf("scout run should absorb per-query errors: %v", err)
	}
	if out.Status != schema.AgentFailed {
		t.Errorf("status = %s, want failed", out.Status)
	}
	if search.calls != schema.MaxScoutQueries {
		t.Errorf("search called %d times, want all %d queries tried", search.calls, schema.MaxScoutQueries)
	}
}
