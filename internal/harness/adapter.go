package harness

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"edutrack/internal/graph"
	"edutrack/internal/schema"
)

// GraphGenerator bridges the harness into the orchestration graph's
// Generate node. The graph decides when a curriculum may be served; the
// harness decides whether the generated artifact may leave.
type GraphGenerator struct {
	harness *Harness
}

// NewGraphGenerator wraps a harness for use as the graph's generator.
func NewGraphGenerator(h *Harness) *GraphGenerator {
	return &GraphGenerator{harness: h}
}

// Generate runs the full harness pipeline for a graph state and maps the
// artifact into the graph's output record.
func (g *GraphGenerator) Generate(ctx context.Context, st *graph.State) (*schema.GenerationOutput, error) {
	if st.Request == nil {
		return nil, fmt.Errorf("generation requires a normalized request")
	}

	cfg := &schema.GenerationConfig{
		TopicTitle:       fmt.Sprintf("%s %s", st.Request.Grade, st.Request.Subject),
		TopicDescription: st.RawPrompt,
		ContentFormat:    schema.FormatLessonPlan,
		TargetLevel:      schema.LevelProficient,
		Jurisdiction:     st.Request.Country,
		Grade:            st.Request.Grade,
	}

	artifact, err := g.harness.Generate(ctx, st.RequestID, st.CurriculumID, cfg, nil)
	if err != nil {
		return nil, err
	}

	out := &schema.GenerationOutput{
		ID:          uuid.NewString(),
		Markdown:    artifact.Markdown,
		Citations:   artifact.Citations,
		Coverage:    artifact.GroundingRate,
		Attribution: attributionFor(st, artifact),
		Status:      schema.GenerationApproved,
	}
	st.Artifact = artifact
	return out, nil
}

// attributionFor picks the mandatory source attribution line from the
// artifact's provenance.
func attributionFor(st *graph.State, artifact *schema.Artifact) string {
	sourceURL := ""
	if artifact.Provenance != nil && len(artifact.Provenance.Sources) > 0 {
		sourceURL = artifact.Provenance.Sources[0].URL
	}
	if artifact.Mode == schema.GenModeUniversity {
		return schema.SyllabusAttribution(st.Request.Institution, "", st.Request.Subject, sourceURL)
	}
	return schema.K12Attribution(sourceURL)
}
