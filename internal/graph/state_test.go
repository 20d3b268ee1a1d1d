package graph

import (
	"testing"

	"edutrack/internal/validation"
)

func TestStateAttemptsAndRetry(t *testing.T) {
	st := NewState("req-1", "prompt")
	if got := st.Attempts(NodeScout); got != 0 {
		t.Errorf("fresh attempts = %d, want 0", got)
	}
	if !st.CanRetry(NodeScout) {
		t.Error("fresh node must be retryable")
	}

	st.recordStart(NodeScout)
	st.recordFailure(NodeScout, "boom")
	if got := st.Attempts(NodeScout); got != 1 {
		t.Errorf("attempts after one run = %d, want 1", got)
	}
	if !st.CanRetry(NodeScout) {
		t.Error("one attempt must leave a retry")
	}

	st.recordStart(NodeScout)
	st.recordFailure(NodeScout, "boom again")
	if st.CanRetry(NodeScout) {
		t.Error("two attempts must exhaust the cap")
	}
}

func TestStateRecordStartClearsTransientError(t *testing.T) {
	st := NewState("req-1", "prompt")
	st.recordStart(NodeScout)
	st.recordFailure(NodeScout, "boom")
	if !st.HasError {
		t.Fatal("failure must set has_error")
	}

	st.recordStart(NodeScout)
	if st.HasError {
		t.Error("starting a fresh attempt must clear has_error")
	}
}

func TestEscalateTierIsTerminalAtTier2(t *testing.T) {
	st := NewState("req-1", "prompt")
	st.EscalateTier()
	if st.Tier != validation.Tier1 {
		t.Errorf("tier = %s, want tier_1", st.Tier)
	}
	st.EscalateTier()
	st.EscalateTier()
	if st.Tier != validation.Tier2 {
		t.Errorf("tier = %s, want tier_2 (terminal)", st.Tier)
	}
}

func TestShouldHalt(t *testing.T) {
	tests := []struct {
		name  string
		setup func(st *State)
		want  bool
	}{
		{"clean state", func(st *State) {}, false},
		{"retryable error with attempts left", func(st *State) {
			st.recordStart(NodeScout)
			st.recordFailure(NodeScout, "boom")
		}, false},
		{"error with attempts exhausted", func(st *State) {
			st.recordStart(NodeScout)
			st.recordFailure(NodeScout, "boom")
			st.recordStart(NodeScout)
			st.recordFailure(NodeScout, "boom")
		}, true},
		{"error at tier 2", func(st *State) {
			st.Tier = validation.Tier2
			st.recordStart(NodeScout)
			st.recordFailure(NodeScout, "boom")
		}, true},
		{"cost budget exceeded", func(st *State) {
			st.Cost.Add(50_000, PerRequestCapUSD+0.001)
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewState("req-1", "prompt")
			tt.setup(st)
			if got := st.ShouldHalt(); got != tt.want {
				t.Errorf("ShouldHalt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCostTracker(t *testing.T) {
	var c CostTracker
	if !c.WithinBudget() {
		t.Fatal("zero spend must be within budget")
	}
	c.Add(1000, 0.005)
	c.Add(2000, 0.005)
	if c.ModelCalls != 2 || c.TokensUsed != 3000 {
		t.Errorf("tracker = %+v", c)
	}
	if !c.WithinBudget() {
		t.Error("$0.01 must be under the $0.02 cap")
	}
	c.Add(5000, 0.02)
	if c.WithinBudget() {
		t.Error("$0.03 must exceed the cap")
	}
}
