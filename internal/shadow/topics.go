// Package shadow runs the divergence side of dual generation: it extracts
// topics from the primary and shadow artifacts, computes delta metrics
// between them, classifies alerts against configurable thresholds, and
// persists a date-partitioned JSON log per run. A circuit breaker disables
// shadow execution after repeated failures so the primary path never waits
// on a broken second model.
package shadow

import (
	"regexp"
	"strings"
)

// headerPattern matches markdown headers at any level.
var headerPattern = regexp.MustCompile(`(?m)^(#+)\s+(.+)$`)

// ExtractTopics returns the normalized header topics of a markdown
// document, lowercased and trimmed, in document order.
func ExtractTopics(markdown string) []string {
	matches := headerPattern.FindAllStringSubmatch(markdown, -1)
	topics := make([]string, 0, len(matches))
	for _, m := range matches {
		topic := strings.ToLower(strings.TrimSpace(m[2]))
		if topic != "" {
			topics = append(topics, topic)
		}
	}
	return topics
}

// Topic is a header with its nesting level.
type Topic struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// ExtractTopicsWithLevel returns topics with their heading depth.
func ExtractTopicsWithLevel(markdown string) []Topic {
	matches := headerPattern.FindAllStringSubmatch(markdown, -1)
	topics := make([]Topic, 0, len(matches))
	for _, m := range matches {
		text := strings.ToLower(strings.TrimSpace(m[2]))
		if text == "" {
			continue
		}
		topics = append(topics, Topic{Level: len(m[1]), Text: text})
	}
	return topics
}
