package agents

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"edutrack/internal/logging"
	"edutrack/internal/perception"
	"edutrack/internal/schema"
)

const (
	// stdBatchSize bounds how many raw competencies go into one
	// standardization call.
	stdBatchSize = 6

	// stdCacheTTL is how long a standardization result is reused for an
	// identical input set.
	stdCacheTTL = 24 * time.Hour
)

const standardizePrompt = `You rewrite curriculum competencies into a canonical learning-objective structure.
For each numbered input, output one object with fields: original_text, standardized_text, action_verb, content, context, bloom_level, complexity_level, extraction_confidence.
bloom_level is one of remember, understand, apply, analyze, evaluate, create. complexity_level is Low, Medium, or High.
Keep the items in input order. Use simple text; do not include extra commentary.

Inputs:
%s
Return JSON only.`

const standardizeSchemaJSON = `{
  "type": "object",
  "properties": {
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "original_text": {"type": "string"},
          "standardized_text": {"type": "string"},
          "action_verb": {"type": "string"},
          "content": {"type": "string"},
          "context": {"type": "string"},
          "bloom_level": {"type": "string"},
          "complexity_level": {"type": "string"},
          "extraction_confidence": {"type": "number"}
        },
        "required": ["original_text", "standardized_text", "extraction_confidence"]
      }
    }
  },
  "required": ["items"]
}`

// RawCompetency is one standardizer input: the raw text plus the source
// chunk it came from. The chunk id is carried by index, never trusted to
// survive a round trip through the model.
type RawCompetency struct {
	Text          string
	SourceChunkID string
}

type stdCacheEntry struct {
	items   []*schema.StandardizedCompetency
	expires time.Time
}

// Standardizer rewrites raw competency lines into the canonical
// learning-objective structure, in batches, with a process-local cache.
type Standardizer struct {
	llm         perception.Client
	tier        perception.ModelTier
	temperature float64

	mu    sync.Mutex
	cache map[string]stdCacheEntry
}

// NewStandardizer builds a standardizer on the given client.
func NewStandardizer(llm perception.Client) *Standardizer {
	return &Standardizer{
		llm:         llm,
		tier:        perception.TierFlash,
		temperature: 0.1,
		cache:       make(map[string]stdCacheEntry),
	}
}

// StandardizeBatch processes the inputs in model batches and returns a
// slice aligned with the input: index i holds the standardized form of
// items[i], or nil when its batch failed or the model dropped it. Source
// chunk ids are mapped back by index.
func (s *Standardizer) StandardizeBatch(ctx context.Context, items []RawCompetency) ([]*schema.StandardizedCompetency, error) {
	results := make([]*schema.StandardizedCompetency, len(items))
	if len(items) == 0 {
		return results, nil
	}

	key := cacheKey(items)
	if cached, ok := s.lookup(key); ok {
		logging.IngestDebug("Standardization cache hit for %d items", len(items))
		return cached, nil
	}

	for start := 0; start < len(items); start += stdBatchSize {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		end := min(start+stdBatchSize, len(items))
		batch := items[start:end]

		decoded, err := s.standardizeOne(ctx, batch)
		if err != nil {
			logging.IngestWarn("Standardization batch failed, skipping %d items: %v", len(batch), err)
			continue
		}
		for i, item := range decoded {
			if i >= len(batch) {
				break
			}
			item.SourceChunkID = batch[i].SourceChunkID
			results[start+i] = item
		}
	}

	s.put(key, results)
	return results, nil
}

// standardizeOne sends one batch to the model and decodes the items array.
func (s *Standardizer) standardizeOne(ctx context.Context, batch []RawCompetency) ([]*schema.StandardizedCompetency, error) {
	var inputs strings.Builder
	for i, item := range batch {
		fmt.Fprintf(&inputs, "%d. %s\n", i+1, item.Text)
	}
	prompt := fmt.Sprintf(standardizePrompt, inputs.String())

	payload, err := s.llm.GenerateStructured(ctx, prompt, standardizeSchemaJSON, s.tier, s.temperature)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Items []*schema.StandardizedCompetency `json:"items"`
	}
	if err := decodeModelJSON(payload, &resp); err != nil {
		return nil, fmt.Errorf("decoding standardization payload: %w", err)
	}
	return resp.Items, nil
}

func (s *Standardizer) lookup(key string) ([]*schema.StandardizedCompetency, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok || time.Now().After(entry.expires) {
		delete(s.cache, key)
		return nil, false
	}
	return entry.items, true
}

func (s *Standardizer) put(key string, items []*schema.StandardizedCompetency) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = stdCacheEntry{items: items, expires: time.Now().Add(stdCacheTTL)}
}

func cacheKey(items []RawCompetency) string {
	h := sha256.New()
	for _, item := range items {
		h.Write([]byte(item.Text))
		h.Write([]byte{0})
		h.Write([]byte(item.SourceChunkID))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// decodeModelJSON unmarshals a model payload, retrying on the outermost
// JSON object when the model wrapped it in prose.
func decodeModelJSON(payload string, v interface{}) error {
	if err := json.Unmarshal([]byte(payload), v); err == nil {
		return nil
	}
	start := strings.Index(payload, "{")
	end := strings.LastIndex(payload, "}")
	if start == -1 || end <= start {
		return fmt.Errorf("no JSON object in payload")
	}
	return json.Unmarshal([]byte(payload[start:end+1]), v)
}

// =============================================================================
// Metadata tagging
// =============================================================================

const taggingPrompt = `You are a strict classifier. For each numbered competency, output one object with fields:
subject (one of: Mathematics, Science, English, History, Geography, Computer Science, Other),
grade_level (e.g. Year 4, Grade 6, University Year 1, or Unknown),
domain (e.g. Algebra, Genetics),
confidence_score (0.0-1.0),
tags (list of short tags).
Keep the items in input order.

Inputs:
%s
Return JSON only.`

const taggingSchemaJSON = `{
  "type": "object",
  "properties": {
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "subject": {"type": "string"},
          "grade_level": {"type": "string"},
          "domain": {"type": "string"},
          "confidence_score": {"type": "number"},
          "tags": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["subject", "confidence_score"]
      }
    }
  },
  "required": ["items"]
}`

// Tagger predicts subject, grade, and domain metadata for standardized
// competencies.
type Tagger struct {
	llm         perception.Client
	tier        perception.ModelTier
	temperature float64
}

// NewTagger builds a tagger on the given client.
func NewTagger(llm perception.Client) *Tagger {
	return &Tagger{llm: llm, tier: perception.TierFlash, temperature: 0.1}
}

// PredictMetadata classifies the standardized competencies in one call and
// returns a slice aligned with the input; nil entries mean the model gave
// no verdict for that index. A failed call returns an all-nil slice rather
// than an error so tagging stays best-effort.
func (t *Tagger) PredictMetadata(ctx context.Context, items []*schema.StandardizedCompetency) []*schema.CompetencyMetadata {
	results := make([]*schema.CompetencyMetadata, len(items))
	if len(items) == 0 {
		return results
	}

	var inputs strings.Builder
	for i, item := range items {
		if item == nil {
			fmt.Fprintf(&inputs, "%d. (unavailable)\n", i+1)
			continue
		}
		fmt.Fprintf(&inputs, "%d. %s ||| original: %s\n", i+1, item.StandardizedText, item.OriginalText)
	}
	prompt := fmt.Sprintf(taggingPrompt, inputs.String())

	payload, err := t.llm.GenerateStructured(ctx, prompt, taggingSchemaJSON, t.tier, t.temperature)
	if err != nil {
		logging.IngestWarn("Metadata tagging failed: %v", err)
		return results
	}

	var resp struct {
		Items []*schema.CompetencyMetadata `json:"items"`
	}
	if err := decodeModelJSON(payload, &resp); err != nil {
		logging.IngestWarn("Metadata payload undecodable: %v", err)
		return results
	}

	for i, md := range resp.Items {
		if i >= len(items) {
			break
		}
		if items[i] != nil {
			results[i] = md
		}
	}
	return results
}
