package shadow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"edutrack/internal/embedding"
	"edutrack/internal/logging"
)

// Summary is the PII-free digest of one generation output. Only counts go
// into the log, never artifact text.
type Summary struct {
	TopicCount    int `json:"topic_count"`
	SentenceCount int `json:"sentence_count"`
	CharCount     int `json:"char_count"`
}

// Environment records the models behind a shadow run for reproducibility.
type Environment struct {
	ModelPrimary   string `json:"model_primary"`
	ModelShadow    string `json:"model_shadow"`
	EmbeddingModel string `json:"embedding_model"`
	Seed           string `json:"seed,omitempty"`
}

// Log is the persisted record of one shadow run.
type Log struct {
	JobID          string       `json:"job_id"`
	RequestID      string       `json:"request_id"`
	CurriculumID   string       `json:"curriculum_id"`
	Timestamp      string       `json:"timestamp"` // ISO-8601 UTC
	PrimarySummary Summary      `json:"primary_summary"`
	ShadowSummary  Summary      `json:"shadow_summary"`
	Metrics        DeltaMetrics `json:"metrics"`
	Alerts         []string     `json:"alerts"`
	Environment    Environment  `json:"environment"`
	StoragePath    string       `json:"storage_path,omitempty"`
}

// Logger computes and persists shadow divergence logs. Logs land under
// <storageDir>/shadow_logs/YYYY/MM/DD/<job_id>.json.
type Logger struct {
	thresholds Thresholds
	engine     embedding.Engine
	storageDir string
	now        func() time.Time
}

// NewLogger builds a shadow logger. An empty storage dir disables
// persistence; metrics and alerts are still computed.
func NewLogger(engine embedding.Engine, storageDir string, thresholds Thresholds) *Logger {
	return &Logger{
		thresholds: thresholds,
		engine:     engine,
		storageDir: storageDir,
		now:        time.Now,
	}
}

// SetThresholds swaps the alert thresholds, used by the policy watcher on
// config reload.
func (l *Logger) SetThresholds(t Thresholds) {
	l.thresholds = t
}

// LogRun compares the primary and shadow markdown, persists the log, and
// returns it. Alerting is the caller's concern; the logger only records.
func (l *Logger) LogRun(ctx context.Context, jobID, requestID, curriculumID, primaryMD, shadowMD string, env Environment) (*Log, error) {
	primaryTopics := ExtractTopics(primaryMD)
	shadowTopics := ExtractTopics(shadowMD)

	metrics, err := ComputeMetrics(ctx, l.engine, primaryTopics, shadowTopics, primaryMD, shadowMD)
	if err != nil {
		return nil, fmt.Errorf("computing shadow metrics: %w", err)
	}
	alerts := l.thresholds.Alerts(metrics)

	if l.engine != nil && env.EmbeddingModel == "" {
		env.EmbeddingModel = l.engine.Name()
	}

	entry := &Log{
		JobID:          jobID,
		RequestID:      requestID,
		CurriculumID:   curriculumID,
		Timestamp:      l.now().UTC().Format(time.RFC3339),
		PrimarySummary: summarize(primaryMD, primaryTopics),
		ShadowSummary:  summarize(shadowMD, shadowTopics),
		Metrics:        metrics,
		Alerts:         alerts,
		Environment:    env,
	}

	path, err := l.persist(entry)
	if err != nil {
		// A failed write must not lose the metrics; the run still
		// happened and the caller needs the alerts.
		logging.ShadowError("Persisting shadow log %s failed: %v", jobID, err)
	}
	entry.StoragePath = path

	if len(alerts) > 0 {
		logging.ShadowWarn("Shadow run %s alerts: %s", jobID, strings.Join(alerts, ", "))
	} else {
		logging.Shadow("Shadow run %s clean (topic delta %.4f, content delta %.4f)",
			jobID, metrics.TopicSetDelta, metrics.ContentDelta)
	}
	return entry, nil
}

// persist writes the log under the date-partitioned layout and returns
// its path.
func (l *Logger) persist(entry *Log) (string, error) {
	if l.storageDir == "" {
		return "", nil
	}
	dir := filepath.Join(l.storageDir, "shadow_logs", l.now().UTC().Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, entry.JobID+".json")

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// summarize reduces an output to its loggable counts.
func summarize(markdown string, topics []string) Summary {
	return Summary{
		TopicCount:    len(topics),
		SentenceCount: strings.Count(markdown, "."),
		CharCount:     len(markdown),
	}
}
