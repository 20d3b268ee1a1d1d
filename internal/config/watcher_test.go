package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func writePolicyConfig(t *testing.T, path string, mutate func(*Config)) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save config: %v", err)
	}
}

func TestPolicyWatcher_InitialSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	initial := DefaultConfig()
	initial.Grounding.Action = ActionBlock

	pw, err := NewPolicyWatcher(path, initial)
	if err != nil {
		t.Fatalf("NewPolicyWatcher: %v", err)
	}
	t.Cleanup(func() { _ = pw.watcher.Close() })

	if pw.Grounding().Action != ActionBlock {
		t.Errorf("expected initial grounding action BLOCK, got %s", pw.Grounding().Action)
	}
	if pw.Shadow().TopicSetDelta != 0.05 {
		t.Errorf("expected initial topic set delta 0.05, got %f", pw.Shadow().TopicSetDelta)
	}
	if pw.IsWatching() {
		t.Error("watcher should not report watching before Start")
	}
}

func TestPolicyWatcher_ReloadPicksUpPolicyChanges(t *testing.T) {
	t.Setenv("GROUNDING_THRESHOLD", "")
	t.Setenv("GROUNDING_ACTION", "")
	t.Setenv("HALLUCINATION_ACTION", "")
	t.Setenv("SHADOW_OMISSION_RATE", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	writePolicyConfig(t, path, nil)

	pw, err := NewPolicyWatcher(path, DefaultConfig())
	if err != nil {
		t.Fatalf("NewPolicyWatcher: %v", err)
	}
	t.Cleanup(func() { _ = pw.watcher.Close() })

	reloaded := make(chan struct{}, 1)
	pw.OnReload(func() { reloaded <- struct{}{} })

	writePolicyConfig(t, path, func(c *Config) {
		c.Grounding.Threshold = 0.9
		c.Grounding.Action = ActionBlock
		c.Shadow.OmissionRate = 0.10
	})
	pw.reload()

	if got := pw.Grounding().Threshold; got != 0.9 {
		t.Errorf("expected reloaded threshold 0.9, got %f", got)
	}
	if got := pw.Grounding().Action; got != ActionBlock {
		t.Errorf("expected reloaded action BLOCK, got %s", got)
	}
	if got := pw.Shadow().OmissionRate; got != 0.10 {
		t.Errorf("expected reloaded omission rate 0.10, got %f", got)
	}

	select {
	case <-reloaded:
	default:
		t.Error("expected OnReload callback to fire")
	}

	stats := pw.GetStats()
	if stats.Reloads != 1 {
		t.Errorf("expected 1 reload, got %d", stats.Reloads)
	}
	if stats.LastReloadAt.IsZero() {
		t.Error("expected LastReloadAt to be set")
	}
}

func TestPolicyWatcher_ReloadRejectsInvalidActions(t *testing.T) {
	t.Setenv("GROUNDING_ACTION", "")
	t.Setenv("HALLUCINATION_ACTION", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	writePolicyConfig(t, path, nil)

	pw, err := NewPolicyWatcher(path, DefaultConfig())
	if err != nil {
		t.Fatalf("NewPolicyWatcher: %v", err)
	}
	t.Cleanup(func() { _ = pw.watcher.Close() })

	writePolicyConfig(t, path, func(c *Config) {
		c.Grounding.Action = "SHRUG"
	})
	pw.reload()

	if got := pw.Grounding().Action; got != ActionWarn {
		t.Errorf("invalid reload must keep previous action, got %s", got)
	}
	stats := pw.GetStats()
	if stats.ReloadErrors != 1 {
		t.Errorf("expected 1 reload error, got %d", stats.ReloadErrors)
	}
	if stats.Reloads != 0 {
		t.Errorf("rejected reload must not count as a reload, got %d", stats.Reloads)
	}
}

func TestPolicyWatcher_DebouncedEventTriggersReload(t *testing.T) {
	t.Setenv("GROUNDING_THRESHOLD", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	writePolicyConfig(t, path, nil)

	pw, err := NewPolicyWatcher(path, DefaultConfig())
	if err != nil {
		t.Fatalf("NewPolicyWatcher: %v", err)
	}
	t.Cleanup(func() { _ = pw.watcher.Close() })
	pw.debounceDur = 10 * time.Millisecond

	writePolicyConfig(t, path, func(c *Config) {
		c.Grounding.Threshold = 0.95
	})

	// Event for some other file in the directory is ignored
	pw.handleEvent(fsnotify.Event{Name: filepath.Join(filepath.Dir(path), "notes.txt"), Op: fsnotify.Write})
	pw.processPending()
	if pw.GetStats().Reloads != 0 {
		t.Fatal("unrelated file event must not trigger reload")
	}

	pw.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Write})
	time.Sleep(20 * time.Millisecond)
	pw.processPending()

	if got := pw.Grounding().Threshold; got != 0.95 {
		t.Errorf("expected debounced reload to apply threshold 0.95, got %f", got)
	}
	if pw.GetStats().LastEventPath != path {
		t.Errorf("expected LastEventPath=%s, got %s", path, pw.GetStats().LastEventPath)
	}
}

func TestPolicyWatcher_StartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writePolicyConfig(t, path, nil)

	pw, err := NewPolicyWatcher(path, DefaultConfig())
	if err != nil {
		t.Fatalf("NewPolicyWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pw.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !pw.IsWatching() {
		t.Error("expected IsWatching after Start")
	}
	if err := pw.Start(ctx); err != nil {
		t.Errorf("second Start should be a no-op, got %v", err)
	}

	pw.Stop()
	if pw.IsWatching() {
		t.Error("expected not watching after Stop")
	}
}
