package validation

import (
	"fmt"
	"strings"
)

// SchemaValidationError reports a record that violated its schema at a boundary.
type SchemaValidationError struct {
	Schema string            // Record type name
	Errors map[string]string // Field -> violation
}

func (e *SchemaValidationError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("schema validation failed for %s", e.Schema)
	}
	parts := make([]string, 0, len(e.Errors))
	for field, msg := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return fmt.Sprintf("schema validation failed for %s: %s", e.Schema, strings.Join(parts, "; "))
}

// ConfidenceThresholdError reports a confidence score below its stage floor.
type ConfidenceThresholdError struct {
	Actual   float64
	Required float64
	Stage    string
}

func (e *ConfidenceThresholdError) Error() string {
	return fmt.Sprintf("confidence %.2f below required %.2f at stage %s", e.Actual, e.Required, e.Stage)
}

// GroundingError reports artifact coverage below the grounding gate.
type GroundingError struct {
	Coverage float64
}

func (e *GroundingError) Error() string {
	return fmt.Sprintf("grounding coverage %.2f below gate %.2f", e.Coverage, GroundingGateFloor)
}
