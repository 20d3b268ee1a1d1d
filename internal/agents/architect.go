package agents

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"edutrack/internal/logging"
	"edutrack/internal/perception"
	"edutrack/internal/schema"
	"edutrack/internal/vault"
)

const (
	// maxExtractionChars bounds the document text sent to the extraction
	// model. Longer documents are cut with a truncation marker.
	maxExtractionChars = 30000

	// fallbackConfidence is assigned to competencies found by the
	// rule-based extractor when the model path fails.
	fallbackConfidence = 0.6

	// maxFallbackOutcomes caps outcomes collected per competency by the
	// rule-based extractor.
	maxFallbackOutcomes = 10
)

const extractionPrompt = `You are an expert curriculum analyst. Extract all learning competencies from the following curriculum document text.

For each competency, provide:
1. A clear, concise title
2. A detailed description
3. Specific, measurable learning outcomes
4. The page range where this competency appears (estimate if not exact)

Be thorough but precise. Only extract actual competencies, not general information.

CURRICULUM TEXT:
%s`

const extractionSchemaJSON = `{
  "type": "object",
  "properties": {
    "competencies": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": "string"},
          "description": {"type": "string"},
          "learning_outcomes": {"type": "array", "items": {"type": "string"}},
          "page_range": {"type": "string"},
          "confidence": {"type": "number"}
        },
        "required": ["title", "description", "learning_outcomes", "page_range", "confidence"]
      }
    }
  },
  "required": ["competencies"]
}`

// extractionResponse is the decoded model payload.
type extractionResponse struct {
	Competencies []extractedCompetency `json:"competencies"`
}

type extractedCompetency struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	LearningOutcomes []string `json:"learning_outcomes"`
	PageRange        string   `json:"page_range"`
	Confidence       float64  `json:"confidence"`
}

// ArchitectConfig tunes the architect agent.
type ArchitectConfig struct {
	CacheDir    string               // Download cache, keyed by URL hash
	Tier        perception.ModelTier // Model tier for extraction calls
	Temperature float64
	MaxChars    int
}

// DefaultArchitectConfig returns the production defaults.
func DefaultArchitectConfig() ArchitectConfig {
	return ArchitectConfig{
		CacheDir:    filepath.Join(os.TempDir(), "edutrack_cache"),
		Tier:        perception.TierFlash,
		Temperature: 0.2,
		MaxChars:    maxExtractionChars,
	}
}

// Architect downloads a curriculum document and extracts its competencies,
// preferring model extraction with a rule-based fallback.
type Architect struct {
	fetch  Fetcher
	llm    perception.Client
	config ArchitectConfig
}

// NewArchitect builds an architect. A zero config field falls back to its
// default.
func NewArchitect(fetch Fetcher, llm perception.Client, config ArchitectConfig) *Architect {
	defaults := DefaultArchitectConfig()
	if config.CacheDir == "" {
		config.CacheDir = defaults.CacheDir
	}
	if config.Tier == "" {
		config.Tier = defaults.Tier
	}
	if config.Temperature == 0 {
		config.Temperature = defaults.Temperature
	}
	if config.MaxChars == 0 {
		config.MaxChars = defaults.MaxChars
	}
	return &Architect{fetch: fetch, llm: llm, config: config}
}

// Run downloads the source document, extracts text, and parses
// competencies. Empty documents and empty extractions report failed;
// average confidence under the floor reports low_confidence.
func (a *Architect) Run(ctx context.Context, jobID, sourceURL string) (*schema.ArchitectOutput, error) {
	out := &schema.ArchitectOutput{
		JobID:     jobID,
		SourceURL: sourceURL,
		Status:    schema.AgentFailed,
	}

	data, err := a.download(ctx, sourceURL)
	if err != nil {
		logging.ArchitectError("Download failed for %s: %v", sourceURL, err)
		return out, err
	}
	out.Checksum = vault.Checksum(data)

	doc := &Document{URL: sourceURL, Data: data}
	text, pages := ExtractText(doc)
	if strings.TrimSpace(text) == "" {
		logging.ArchitectError("No text extracted from %s", sourceURL)
		return out, nil
	}
	logging.ArchitectDebug("Extracted %d chars over %d pages from %s", len(text), pages, sourceURL)

	competencies := a.extractCompetencies(ctx, text)
	if len(competencies) == 0 {
		logging.ArchitectWarn("No competencies extracted from %s", sourceURL)
		return out, nil
	}

	total := 0.0
	for _, c := range competencies {
		total += c.ExtractionConfidence
	}
	out.Competencies = competencies
	out.AverageConfidence = total / float64(len(competencies))
	if out.AverageConfidence < schema.MinExtractionConfidence {
		out.Status = schema.AgentLowConfidence
	} else {
		out.Status = schema.AgentSuccess
	}

	logging.Architect("Extracted %d competencies from %s (avg confidence %.2f)",
		len(competencies), sourceURL, out.AverageConfidence)
	return out, nil
}

// download returns the document bytes, serving repeats from the cache
// directory keyed by URL hash.
func (a *Architect) download(ctx context.Context, url string) ([]byte, error) {
	cachePath := filepath.Join(a.config.CacheDir, fmt.Sprintf("%x", md5.Sum([]byte(url))))
	if data, err := os.ReadFile(cachePath); err == nil {
		logging.ArchitectDebug("Using cached download for %s", url)
		return data, nil
	}

	doc, err := a.fetch.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(a.config.CacheDir, 0o755); err == nil {
		if err := os.WriteFile(cachePath, doc.Data, 0o644); err != nil {
			logging.ArchitectWarn("Cache write failed for %s: %v", url, err)
		}
	}
	return doc.Data, nil
}

// extractCompetencies tries model extraction and falls back to the
// rule-based scanner when the model path errors or returns nothing usable.
func (a *Architect) extractCompetencies(ctx context.Context, text string) []schema.Competency {
	if len(text) > a.config.MaxChars {
		text = text[:a.config.MaxChars] + "\n[truncated...]"
	}

	if a.llm != nil {
		prompt := fmt.Sprintf(extractionPrompt, text)
		payload, err := a.llm.GenerateStructured(ctx, prompt, extractionSchemaJSON, a.config.Tier, a.config.Temperature)
		if err == nil {
			var resp extractionResponse
			if jsonErr := json.Unmarshal([]byte(payload), &resp); jsonErr == nil && len(resp.Competencies) > 0 {
				return convertExtracted(resp.Competencies)
			}
			logging.ArchitectWarn("Extraction payload unusable, falling back to rules")
		} else {
			logging.ArchitectWarn("Model extraction failed: %v, falling back to rules", err)
		}
	}
	return fallbackExtract(text)
}

// convertExtracted turns model items into grounded competencies. Each one
// is tied to the main chunk the embedder will derive from it.
func convertExtracted(items []extractedCompetency) []schema.Competency {
	comps := make([]schema.Competency, 0, len(items))
	for _, item := range items {
		id := "comp-" + uuid.New().String()[:8]
		outcomes := item.LearningOutcomes
		if len(outcomes) == 0 {
			outcomes = []string{"General learning outcome"}
		}
		pageRange := item.PageRange
		if pageRange == "" {
			pageRange = "1"
		}
		comps = append(comps, schema.Competency{
			ID:                   id,
			Title:                item.Title,
			Description:          item.Description,
			LearningOutcomes:     outcomes,
			PageRange:            pageRange,
			SourceChunkIDs:       []string{id + "-main"},
			ExtractionConfidence: item.Confidence,
		})
	}
	return comps
}

var competencyHeaderPattern = regexp.MustCompile(`(?i)Competency\s+(\d+\.?\d*):?`)

// fallbackExtract finds "Competency N" blocks and builds competencies from
// their bodies at reduced confidence. Outcomes come from dash or bullet
// lines; a block without any gets a generic outcome.
func fallbackExtract(text string) []schema.Competency {
	headers := competencyHeaderPattern.FindAllStringSubmatchIndex(text, -1)
	comps := make([]schema.Competency, 0, len(headers))

	for i, header := range headers {
		num := text[header[2]:header[3]]
		end := len(text)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		content := strings.TrimSpace(text[header[1]:end])

		lines := strings.Split(content, "\n")
		title := fmt.Sprintf("Competency %s", num)
		if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
			title = strings.TrimSpace(lines[0])
		}

		var outcomes []string
		for _, line := range lines[1:] {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "•") {
				outcomes = append(outcomes, strings.TrimSpace(strings.TrimLeft(line, "-•")))
			}
		}
		if len(outcomes) == 0 {
			outcomes = []string{"Complete the learning activities"}
		}
		if len(outcomes) > maxFallbackOutcomes {
			outcomes = outcomes[:maxFallbackOutcomes]
		}

		id := "comp-" + uuid.New().String()[:8]
		comps = append(comps, schema.Competency{
			ID:                   id,
			Title:                truncate(title, 200),
			Description:          truncate(content, 500),
			LearningOutcomes:     outcomes,
			PageRange:            "1",
			SourceChunkIDs:       []string{id + "-main"},
			ExtractionConfidence: fallbackConfidence,
		})
	}
	return comps
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
