package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"edutrack/internal/perception"
	"edutrack/internal/vault"
)

// fakeSearch returns canned hits. When hits is set, queries map to their
// exact entries; otherwise every query returns all.
type fakeSearch struct {
	hits  map[string][]SearchResult
	all   []SearchResult
	err   error
	calls int
}

func (f *fakeSearch) Search(_ context.Context, query string, _ int) ([]SearchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.hits != nil {
		return f.hits[query], nil
	}
	return f.all, nil
}

// fakeFetcher serves documents from a map keyed by URL.
type fakeFetcher struct {
	docs  map[string]*Document
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*Document, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	doc, ok := f.docs[url]
	if !ok {
		return nil, fmt.Errorf("HTTP 404 fetching %s", url)
	}
	return doc, nil
}

// fakeLLM satisfies perception.Client with a scriptable structured call.
type fakeLLM struct {
	structured func(prompt, schemaJSON string) (string, error)
	text       string
	err        error
	calls      int
}

func (f *fakeLLM) GenerateText(_ context.Context, _ string, _ perception.ModelTier, _ float64, _ perception.TaskType) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeLLM) GenerateStructured(_ context.Context, prompt, schemaJSON string, _ perception.ModelTier, _ float64) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.structured != nil {
		return f.structured(prompt, schemaJSON)
	}
	return "{}", nil
}

func (f *fakeLLM) UsageStats() perception.UsageStats { return perception.UsageStats{} }

var numberedInputPattern = regexp.MustCompile(`(?m)^\d+\. `)

// scriptedIngestLLM answers standardization and tagging calls with one
// item per numbered input line, keeping index alignment intact.
func scriptedIngestLLM() *fakeLLM {
	return &fakeLLM{structured: func(prompt, schemaJSON string) (string, error) {
		n := len(numberedInputPattern.FindAllString(prompt, -1))
		items := make([]map[string]interface{}, n)
		switch {
		case strings.Contains(schemaJSON, `"standardized_text"`):
			for i := range items {
				items[i] = map[string]interface{}{
					"original_text":         fmt.Sprintf("input %d", i+1),
					"standardized_text":     fmt.Sprintf("Students will master objective %d", i+1),
					"action_verb":           "apply",
					"content":               "curriculum content",
					"bloom_level":           "apply",
					"complexity_level":      "Medium",
					"extraction_confidence": 0.9,
				}
			}
		case strings.Contains(schemaJSON, `"grade_level"`):
			for i := range items {
				items[i] = map[string]interface{}{
					"subject":          "Mathematics",
					"grade_level":      "Grade 7",
					"domain":           "Algebra",
					"confidence_score": 0.85,
					"tags":             []string{"algebra", "equations"},
				}
			}
		default:
			return "{}", nil
		}
		payload, err := json.Marshal(map[string]interface{}{"items": items})
		return string(payload), err
	}}
}

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.Open(filepath.Join(t.TempDir(), "vault.db"), 8)
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}
