package perception

import (
	"errors"
	"fmt"
)

// ErrSchemaNotSupported reports that a model rejected the response_schema
// constraint on a structured call. Callers may fall back to prompt-level
// schema enforcement.
var ErrSchemaNotSupported = errors.New("model does not support structured output schema")

// ErrModelsExhausted reports that every model in a fallback chain failed.
var ErrModelsExhausted = errors.New("all fallback models exhausted")

// GenerationError is returned after the retry budget for a call is spent.
type GenerationError struct {
	Provider Provider
	Model    string
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed after %d attempts (model=%s): %v",
		e.Provider, e.Attempts, e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
