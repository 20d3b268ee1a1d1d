package agents

import (
	"context"
	"fmt"
	"strings"

	"edutrack/internal/embedding"
	"edutrack/internal/logging"
	"edutrack/internal/schema"
	"edutrack/internal/vault"
)

const (
	// chunkTokens is the nominal chunk size in tokens; chunkMaxChars is the
	// character budget at roughly four characters per token.
	chunkTokens   = 512
	chunkMaxChars = chunkTokens * 4
)

// Embedder turns extracted competencies into embedded vault chunks.
type Embedder struct {
	engine embedding.Engine
	store  *vault.Vault
}

// NewEmbedder builds an embedder over the given engine and vault.
func NewEmbedder(engine embedding.Engine, store *vault.Vault) *Embedder {
	return &Embedder{engine: engine, store: store}
}

// Run chunks the competencies, embeds them in one batch, and persists the
// chunks with their vectors. Success requires at least one embedded chunk.
func (e *Embedder) Run(ctx context.Context, jobID, curriculumID string, comps []schema.Competency) (*schema.EmbedderOutput, error) {
	out := &schema.EmbedderOutput{
		JobID:        jobID,
		CurriculumID: curriculumID,
		Status:       schema.AgentFailed,
	}
	if len(comps) == 0 {
		logging.EmbedderDebug("No competencies to embed for %s", curriculumID)
		return out, nil
	}

	chunks := BuildChunks(curriculumID, comps)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := e.engine.EmbedBatch(ctx, texts)
	if err != nil {
		logging.EmbedderDebug("Embedding batch failed for %s: %v", curriculumID, err)
		return out, fmt.Errorf("embedding batch: %w", err)
	}
	for i := range chunks {
		chunks[i].Vector = vectors[i]
	}

	if err := e.store.UpsertChunks(ctx, chunks); err != nil {
		return out, fmt.Errorf("storing chunks: %w", err)
	}

	out.EmbeddedChunks = len(chunks)
	out.ChunkIDs = make([]string, len(chunks))
	for i, c := range chunks {
		out.ChunkIDs[i] = c.ID
	}
	out.Status = schema.AgentSuccess
	logging.Embedder("Embedded %d chunks for curriculum %s with %s", len(chunks), curriculumID, e.engine.Name())
	return out, nil
}

// BuildChunks derives the embeddable chunks for a competency set. Every
// competency gets a main chunk of title and description; competencies with
// a long outcomes body get a second outcomes chunk. Chunk ids derive from
// the competency id so re-ingestion replaces rows instead of duplicating.
func BuildChunks(curriculumID string, comps []schema.Competency) []schema.Chunk {
	chunks := make([]schema.Chunk, 0, len(comps))
	for _, comp := range comps {
		mainText := comp.Title + "\n\n" + comp.Description
		chunks = append(chunks, schema.Chunk{
			ID:           comp.ID + "-main",
			CurriculumID: curriculumID,
			CompetencyID: comp.ID,
			Kind:         schema.ChunkMain,
			Text:         truncate(mainText, chunkMaxChars),
		})

		outcomeLines := make([]string, len(comp.LearningOutcomes))
		for i, o := range comp.LearningOutcomes {
			outcomeLines[i] = "- " + o
		}
		outcomesText := strings.Join(outcomeLines, "\n")
		if len(outcomesText) > chunkTokens {
			chunks = append(chunks, schema.Chunk{
				ID:           comp.ID + "-outcomes",
				CurriculumID: curriculumID,
				CompetencyID: comp.ID,
				Kind:         schema.ChunkOutcomes,
				Text:         truncate("Learning Outcomes for "+comp.Title+":\n"+outcomesText, chunkMaxChars),
			})
		}
	}
	return chunks
}
