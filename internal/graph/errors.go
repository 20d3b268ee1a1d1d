package graph

import "fmt"

// Error codes set on the state by failing nodes. The edge layer routes on
// them; callers see them in the final result.
const (
	ErrColdStartNotRequired       = "COLD_START_NOT_REQUIRED"
	ErrScoutNoSources             = "SCOUT_NO_SOURCES"
	ErrSourceConflict             = "SOURCE_CONFLICT"
	ErrSourceValidationFailed     = "SOURCE_VALIDATION_FAILED"
	ErrExtractionFailed           = "EXTRACTION_FAILED"
	ErrExtractionLowConfidence    = "EXTRACTION_LOW_CONFIDENCE"
	ErrEmbeddingFailed            = "EMBEDDING_FAILED"
	ErrVaultStoreFailed           = "VAULT_STORE_FAILED"
	ErrGenerationMissingCitations = "GENERATION_MISSING_CITATIONS"
	ErrTimeout                    = "E_TIMEOUT"
	ErrValidationFailed           = "SCHEMA_VALIDATION_FAILED"
)

// nodeError carries the routing metadata a node attaches to its failure.
type nodeError struct {
	code      string
	message   string
	retryable bool
	details   map[string]any
	alert     bool
}

func (e *nodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func failNode(code, message string, retryable bool) *nodeError {
	return &nodeError{code: code, message: message, retryable: retryable}
}

func (e *nodeError) withDetails(details map[string]any) *nodeError {
	e.details = details
	return e
}

func (e *nodeError) withAlert() *nodeError {
	e.alert = true
	return e
}
