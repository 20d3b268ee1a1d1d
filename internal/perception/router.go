package perception

import "strings"

// TaskType classifies what a generation call needs from a model.
type TaskType string

const (
	TaskReasoning  TaskType = "reasoning"  // Complex logic, planning, evaluation
	TaskCreative   TaskType = "creative"   // Prose and content generation
	TaskFormatting TaskType = "formatting" // Structure, JSON output, simple transforms
	TaskStandard   TaskType = "standard"   // General purpose default
)

// OpenRouterFreeModels is the ordered fallback chain of free models.
// The auto-router entry goes first; it picks the best available free model.
var OpenRouterFreeModels = []string{
	"openrouter/free",
	"meta-llama/llama-4-maverick:free",
	"deepseek/deepseek-chat-v3-0324:free",
	"meta-llama/llama-3.3-70b-instruct:free",
	"google/gemma-3-27b-it:free",
	"mistralai/mistral-small-3.1-24b-instruct:free",
}

// ModelRouter orders candidate models for a task using keyword heuristics
// against the configured model list. It is stateless.
type ModelRouter struct {
	models []string
}

// NewModelRouter builds a router over the given model list. An empty list
// falls back to the free-model chain.
func NewModelRouter(models []string) *ModelRouter {
	if len(models) == 0 {
		models = OpenRouterFreeModels
	}
	return &ModelRouter{models: models}
}

// CandidateModels returns the router's model list ordered for the task,
// best first.
func (r *ModelRouter) CandidateModels(task TaskType) []string {
	return r.Prioritize(task, r.models)
}

// Prioritize sorts the given models for the task, best first. Models the
// task heuristics do not recognize keep their relative order at the end.
func (r *ModelRouter) Prioritize(task TaskType, models []string) []string {
	switch task {
	case TaskReasoning:
		return partitionByKeyword(models, func(m string) bool {
			return strings.Contains(m, "deepseek-r1") || strings.Contains(m, "thinking") ||
				strings.Contains(m, "claude-3-opus") || strings.Contains(m, "gemini-1.5-pro")
		})
	case TaskCreative:
		return partitionByKeyword(models, func(m string) bool {
			return strings.Contains(m, "70b") || strings.Contains(m, "mistral-large") ||
				strings.Contains(m, "gemini-1.5-pro")
		})
	case TaskFormatting:
		return partitionByKeyword(models, func(m string) bool {
			return strings.Contains(m, "flash") || strings.Contains(m, "haiku") ||
				strings.Contains(m, "8b")
		})
	default:
		out := make([]string, len(models))
		copy(out, models)
		return out
	}
}

// partitionByKeyword returns priority matches first, everything else after,
// preserving order within each group.
func partitionByKeyword(models []string, match func(string) bool) []string {
	priority := make([]string, 0, len(models))
	others := make([]string, 0, len(models))
	for _, m := range models {
		if match(strings.ToLower(m)) {
			priority = append(priority, m)
		} else {
			others = append(others, m)
		}
	}
	return append(priority, others...)
}

// structuredTask picks the routing task for a structured call. Formatting
// models handle JSON structure best; pro-tier calls route to reasoning.
func structuredTask(tier ModelTier) TaskType {
	if tier == TierPro {
		return TaskReasoning
	}
	return TaskFormatting
}
