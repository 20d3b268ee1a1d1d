package embedding

// =============================================================================
// TASK TYPE SELECTION
// =============================================================================

// Use identifies what an embedding is produced for. GenAI tunes vectors per
// task type, so indexing and verification pick different types.
type Use string

const (
	UseChunkIndex Use = "chunk_index" // Curriculum chunks written to the vault
	UseTopicQuery Use = "topic_query" // Generation-time lookup of relevant chunks
	UseGrounding  Use = "grounding"   // Artifact sentence vs competency verification
	UseConflict   Use = "conflict"    // Overlap detection between approved sources
)

// SelectTaskType returns the GenAI task type for an embedding use.
func SelectTaskType(use Use) string {
	switch use {
	case UseChunkIndex:
		return "RETRIEVAL_DOCUMENT"
	case UseTopicQuery:
		return "RETRIEVAL_QUERY"
	case UseGrounding:
		return "SEMANTIC_SIMILARITY"
	case UseConflict:
		return "CLUSTERING"
	default:
		return "SEMANTIC_SIMILARITY"
	}
}
