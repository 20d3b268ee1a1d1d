package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"edutrack/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// PolicyWatcher watches the config file and hot-reloads the policy knobs:
// grounding threshold/action, hallucination action, and the shadow divergence
// thresholds. Everything else in Config stays fixed for the process lifetime,
// so a reload never swaps providers, database URLs, or budgets mid-request.
type PolicyWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	path        string // Config file being watched
	grounding   GroundingConfig
	shadow      ShadowConfig
	governance  GovernanceConfig
	debounceAt  time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	onReload    func()

	stats PolicyWatcherStats
}

// PolicyWatcherStats tracks watcher activity for debugging.
type PolicyWatcherStats struct {
	Reloads       int
	ReloadErrors  int
	LastReloadAt  time.Time
	LastEventPath string
}

// NewPolicyWatcher creates a watcher for the given config file, seeded from
// the already-loaded config.
func NewPolicyWatcher(path string, initial *Config) (*PolicyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	pw := &PolicyWatcher{
		watcher:     watcher,
		path:        path,
		grounding:   initial.Grounding,
		shadow:      initial.Shadow,
		governance:  initial.Governance,
		debounceDur: 500 * time.Millisecond, // Debounce rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	return pw, nil
}

// OnReload registers a callback invoked after each successful reload.
func (pw *PolicyWatcher) OnReload(fn func()) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	pw.onReload = fn
}

// Start begins watching the config file's directory.
// Non-blocking; the event loop runs in a goroutine.
func (pw *PolicyWatcher) Start(ctx context.Context) error {
	pw.mu.Lock()
	if pw.running {
		pw.mu.Unlock()
		return nil // Already running
	}
	pw.running = true
	pw.mu.Unlock()

	// Watch the parent directory so editor save-via-rename still fires
	dir := filepath.Dir(pw.path)
	if err := pw.watcher.Add(dir); err != nil {
		logging.GovernanceWarn("PolicyWatcher: initial watch failed for %s: %v", dir, err)
	} else {
		logging.Governance("PolicyWatcher: watching %s", pw.path)
	}

	go pw.run(ctx)

	return nil
}

// Stop stops the watcher and waits for cleanup.
func (pw *PolicyWatcher) Stop() {
	pw.mu.Lock()
	if !pw.running {
		pw.mu.Unlock()
		return
	}
	pw.running = false
	pw.mu.Unlock()

	close(pw.stopCh)
	<-pw.doneCh

	if err := pw.watcher.Close(); err != nil {
		logging.Get(logging.CategoryGovernance).Error("PolicyWatcher: error closing watcher: %v", err)
	}
	logging.Governance("PolicyWatcher: stopped")
}

// run is the main event loop for the watcher.
func (pw *PolicyWatcher) run(ctx context.Context) {
	defer close(pw.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.GovernanceDebug("PolicyWatcher: context cancelled")
			return

		case <-pw.stopCh:
			logging.GovernanceDebug("PolicyWatcher: stop signal received")
			return

		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			pw.handleEvent(event)

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryGovernance).Error("PolicyWatcher error: %v", err)

		case <-debounceTicker.C:
			pw.processPending()
		}
	}
}

// handleEvent records a config file change for debounced processing.
func (pw *PolicyWatcher) handleEvent(event fsnotify.Event) {
	// Only care about the config file itself
	if filepath.Clean(event.Name) != filepath.Clean(pw.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	logging.GovernanceDebug("PolicyWatcher: change event for %s", event.Name)

	pw.mu.Lock()
	pw.debounceAt = time.Now()
	pw.stats.LastEventPath = event.Name
	pw.mu.Unlock()
}

// processPending reloads once a change has settled past the debounce window.
func (pw *PolicyWatcher) processPending() {
	pw.mu.Lock()
	pending := !pw.debounceAt.IsZero() && time.Since(pw.debounceAt) >= pw.debounceDur
	if pending {
		pw.debounceAt = time.Time{}
	}
	pw.mu.Unlock()

	if pending {
		pw.reload()
	}
}

// reload re-reads the config file and copies in the policy knobs.
func (pw *PolicyWatcher) reload() {
	cfg, err := Load(pw.path)
	if err != nil {
		logging.Get(logging.CategoryGovernance).Error("PolicyWatcher: reload failed: %v", err)
		pw.mu.Lock()
		pw.stats.ReloadErrors++
		pw.mu.Unlock()
		return
	}

	// Reject a reload that would install an invalid action
	if cfg.Grounding.Action != ActionBlock && cfg.Grounding.Action != ActionWarn {
		logging.GovernanceWarn("PolicyWatcher: rejected reload with invalid grounding action %q", cfg.Grounding.Action)
		pw.mu.Lock()
		pw.stats.ReloadErrors++
		pw.mu.Unlock()
		return
	}
	if cfg.Shadow.HallucinationAction != ActionBlock && cfg.Shadow.HallucinationAction != ActionWarn {
		logging.GovernanceWarn("PolicyWatcher: rejected reload with invalid hallucination action %q", cfg.Shadow.HallucinationAction)
		pw.mu.Lock()
		pw.stats.ReloadErrors++
		pw.mu.Unlock()
		return
	}

	pw.mu.Lock()
	pw.grounding = cfg.Grounding
	pw.shadow = cfg.Shadow
	pw.governance = cfg.Governance
	pw.stats.Reloads++
	pw.stats.LastReloadAt = time.Now()
	onReload := pw.onReload
	pw.mu.Unlock()

	logging.Governance("PolicyWatcher: policy knobs reloaded (grounding=%s threshold=%.2f, hallucination=%s)",
		cfg.Grounding.Action, cfg.Grounding.Threshold, cfg.Shadow.HallucinationAction)

	if onReload != nil {
		onReload()
	}
}

// Grounding returns the current grounding policy.
func (pw *PolicyWatcher) Grounding() GroundingConfig {
	pw.mu.RLock()
	defer pw.mu.RUnlock()
	return pw.grounding
}

// Shadow returns the current shadow policy.
func (pw *PolicyWatcher) Shadow() ShadowConfig {
	pw.mu.RLock()
	defer pw.mu.RUnlock()
	return pw.shadow
}

// Governance returns the current governance policy.
func (pw *PolicyWatcher) Governance() GovernanceConfig {
	pw.mu.RLock()
	defer pw.mu.RUnlock()
	return pw.governance
}

// GetStats returns the current watcher statistics.
func (pw *PolicyWatcher) GetStats() PolicyWatcherStats {
	pw.mu.RLock()
	defer pw.mu.RUnlock()
	return pw.stats
}

// IsWatching returns true if the watcher is currently running.
func (pw *PolicyWatcher) IsWatching() bool {
	pw.mu.RLock()
	defer pw.mu.RUnlock()
	return pw.running
}
