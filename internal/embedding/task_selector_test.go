package embedding

import "testing"

func TestSelectTaskType(t *testing.T) {
	if got := SelectTaskType(UseChunkIndex); got != "RETRIEVAL_DOCUMENT" {
		t.Fatalf("SelectTaskType(chunk_index)=%q, want RETRIEVAL_DOCUMENT", got)
	}
	if got := SelectTaskType(UseTopicQuery); got != "RETRIEVAL_QUERY" {
		t.Fatalf("SelectTaskType(topic_query)=%q, want RETRIEVAL_QUERY", got)
	}
	if got := SelectTaskType(UseGrounding); got != "SEMANTIC_SIMILARITY" {
		t.Fatalf("SelectTaskType(grounding)=%q, want SEMANTIC_SIMILARITY", got)
	}
	if got := SelectTaskType(UseConflict); got != "CLUSTERING" {
		t.Fatalf("SelectTaskType(conflict)=%q, want CLUSTERING", got)
	}
	if got := SelectTaskType(Use("mystery")); got != "SEMANTIC_SIMILARITY" {
		t.Fatalf("SelectTaskType(unknown)=%q, want SEMANTIC_SIMILARITY default", got)
	}
}
