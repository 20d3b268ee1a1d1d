package shadow

import (
	"context"
	"fmt"
	"math"

	"edutrack/internal/config"
	"edutrack/internal/embedding"
	"edutrack/internal/logging"
)

// Alert names emitted when a delta metric crosses its threshold.
const (
	AlertTopicSetDelta = "TOPIC_SET_DELTA_HIGH"
	AlertOrderingDelta = "ORDERING_DELTA_HIGH"
	AlertContentDelta  = "CONTENT_DELTA_HIGH"
	AlertHallucination = "HALLUCINATION_RISK_HIGH"
	AlertOmissionRate  = "OMISSION_RATE_HIGH"
)

// HallucinationBlockError is raised when the hallucination gate is in
// block mode and the shadow run flags hallucination risk.
type HallucinationBlockError struct {
	ExtraTopicRate float64
	Alerts         []string
	RequestID      string
}

func (e *HallucinationBlockError) Error() string {
	return fmt.Sprintf("shadow hallucination detected for request %s (extra topic rate %.4f)",
		e.RequestID, e.ExtraTopicRate)
}

// DeltaMetrics compares primary and shadow outputs.
type DeltaMetrics struct {
	TopicSetDelta  float64 `json:"topic_set_delta"`  // 1 - Jaccard index
	OrderingDelta  float64 `json:"ordering_delta"`   // Normalized Kendall tau distance
	ContentDelta   float64 `json:"content_delta"`    // 1 - whole-text cosine similarity
	ExtraTopicRate float64 `json:"extra_topic_rate"` // Shadow-only topics / shadow total
	OmissionRate   float64 `json:"omission_rate"`    // Primary-only topics / primary total
}

// Thresholds bound each metric before it raises an alert.
type Thresholds struct {
	TopicSetDelta  float64
	OrderingDelta  float64
	ContentDelta   float64
	ExtraTopicRate float64
	OmissionRate   float64
}

// DefaultThresholds are the production tolerances.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TopicSetDelta:  0.05,
		OrderingDelta:  0.20,
		ContentDelta:   0.10,
		ExtraTopicRate: 0.01,
		OmissionRate:   0.02,
	}
}

// ThresholdsFromConfig reads the hot-reloadable shadow policy. Zero values
// keep the defaults so a sparse config file stays safe.
func ThresholdsFromConfig(cfg config.ShadowConfig) Thresholds {
	t := DefaultThresholds()
	if cfg.TopicSetDelta > 0 {
		t.TopicSetDelta = cfg.TopicSetDelta
	}
	if cfg.OrderingDelta > 0 {
		t.OrderingDelta = cfg.OrderingDelta
	}
	if cfg.ContentDelta > 0 {
		t.ContentDelta = cfg.ContentDelta
	}
	if cfg.ExtraTopicRate > 0 {
		t.ExtraTopicRate = cfg.ExtraTopicRate
	}
	if cfg.OmissionRate > 0 {
		t.OmissionRate = cfg.OmissionRate
	}
	return t
}

// Alerts classifies the metrics against the thresholds in a fixed order.
func (t Thresholds) Alerts(m DeltaMetrics) []string {
	alerts := []string{}
	if m.TopicSetDelta > t.TopicSetDelta {
		alerts = append(alerts, AlertTopicSetDelta)
	}
	if m.OrderingDelta > t.OrderingDelta {
		alerts = append(alerts, AlertOrderingDelta)
	}
	if m.ContentDelta > t.ContentDelta {
		alerts = append(alerts, AlertContentDelta)
	}
	if m.ExtraTopicRate > t.ExtraTopicRate {
		alerts = append(alerts, AlertHallucination)
	}
	if m.OmissionRate > t.OmissionRate {
		alerts = append(alerts, AlertOmissionRate)
	}
	return alerts
}

// ComputeMetrics derives the delta metrics for a pair of topic lists and
// their full texts. The engine may be nil, in which case content delta is
// reported as zero with a warning, matching a shadow run without an
// embedding backend.
func ComputeMetrics(ctx context.Context, engine embedding.Engine, primaryTopics, shadowTopics []string, primaryText, shadowText string) (DeltaMetrics, error) {
	pSet := toSet(primaryTopics)
	sSet := toSet(shadowTopics)

	intersection := 0
	for t := range pSet {
		if sSet[t] {
			intersection++
		}
	}
	union := len(pSet) + len(sSet) - intersection

	jaccard := 1.0
	if union > 0 {
		jaccard = float64(intersection) / float64(union)
	}

	extraRate := 0.0
	if len(sSet) > 0 {
		shadowOnly := 0
		for t := range sSet {
			if !pSet[t] {
				shadowOnly++
			}
		}
		extraRate = float64(shadowOnly) / float64(len(sSet))
	}

	omissionRate := 0.0
	if len(pSet) > 0 {
		primaryOnly := 0
		for t := range pSet {
			if !sSet[t] {
				primaryOnly++
			}
		}
		omissionRate = float64(primaryOnly) / float64(len(pSet))
	}

	common := make([]string, 0, intersection)
	for _, t := range primaryTopics {
		if sSet[t] {
			common = append(common, t)
		}
	}

	contentDelta, err := contentDelta(ctx, engine, primaryText, shadowText)
	if err != nil {
		return DeltaMetrics{}, err
	}

	return DeltaMetrics{
		TopicSetDelta:  round4(1.0 - jaccard),
		OrderingDelta:  round4(kendallTauDelta(common, shadowTopics)),
		ContentDelta:   round4(contentDelta),
		ExtraTopicRate: round4(extraRate),
		OmissionRate:   round4(omissionRate),
	}, nil
}

// contentDelta embeds both texts and returns one minus their cosine
// similarity. A zero vector on either side is maximal divergence.
func contentDelta(ctx context.Context, engine embedding.Engine, primary, shadow string) (float64, error) {
	if engine == nil {
		logging.ShadowWarn("No embedding engine configured, content_delta defaults to 0")
		return 0, nil
	}
	if primary == "" || shadow == "" {
		return 0, nil
	}
	vectors, err := engine.EmbedBatch(ctx, []string{primary, shadow})
	if err != nil {
		return 0, fmt.Errorf("embedding content pair: %w", err)
	}
	sim, err := embedding.CosineSimilarity(vectors[0], vectors[1])
	if err != nil {
		return 0, err
	}
	if sim == 0 {
		return 1.0, nil
	}
	return 1.0 - sim, nil
}

// kendallTauDelta is the normalized Kendall tau distance between the
// common-topic order and its order in the shadow list. Zero means
// identical order, one means fully reversed.
func kendallTauDelta(common, shadowTopics []string) float64 {
	rank := make(map[string]int, len(shadowTopics))
	for i, t := range shadowTopics {
		if _, seen := rank[t]; !seen {
			rank[t] = i
		}
	}

	ranks := make([]int, 0, len(common))
	for _, t := range common {
		if r, ok := rank[t]; ok {
			ranks = append(ranks, r)
		}
	}

	n := len(ranks)
	if n <= 1 {
		return 0
	}

	inversions := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if ranks[i] > ranks[j] {
				inversions++
			}
		}
	}
	maxInversions := float64(n*(n-1)) / 2
	return float64(inversions) / maxInversions
}

func toSet(topics []string) map[string]bool {
	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	return set
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
