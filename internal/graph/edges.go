package graph

import "edutrack/internal/schema"

// Conditional edges. Each is a pure function of State returning the next
// node name, nodeEnd, or NodeHumanAlert. Keeping them side-effect free is
// what makes a run replayable.

func afterNormalize(st *State) string {
	if st.ShouldHalt() || st.HasError {
		return nodeEnd
	}
	return NodeResolveJurisdiction
}

func afterJurisdiction(st *State) string {
	if st.ShouldHalt() || st.HasError {
		return nodeEnd
	}
	return NodeVaultLookup
}

// afterVaultLookup is the serve/ingest fork: a confident hit goes straight
// to generation, anything else enters the cold-start chain.
func afterVaultLookup(st *State) string {
	if st.ShouldHalt() || st.HasError {
		return nodeEnd
	}
	if !st.NeedsColdStart {
		return NodeGenerate
	}
	return NodeEnqueueColdStart
}

func afterColdStart(st *State) string {
	if st.ShouldHalt() || st.HasError {
		return nodeEnd
	}
	return NodeScout
}

func afterScout(st *State) string {
	if st.ShouldHalt() {
		return nodeEnd
	}
	if st.HasError {
		if st.RequiresHumanAlert {
			return NodeHumanAlert
		}
		return nodeEnd
	}
	if len(st.Candidates) == 0 {
		return nodeEnd
	}
	return NodeGatekeeper
}

func afterGatekeeper(st *State) string {
	if st.ShouldHalt() {
		if st.RequiresHumanAlert {
			return NodeHumanAlert
		}
		return nodeEnd
	}
	if st.HasError {
		if st.RequiresHumanAlert {
			return NodeHumanAlert
		}
		return nodeEnd
	}
	if st.ApprovedSourceURL == "" {
		return NodeHumanAlert
	}
	return NodeArchitect
}

func afterArchitect(st *State) string {
	if st.HasError {
		if st.RequiresHumanAlert {
			return NodeHumanAlert
		}
		return nodeEnd
	}
	if st.ShouldHalt() {
		return nodeEnd
	}
	if len(st.Competencies) == 0 {
		return nodeEnd
	}
	return NodeEmbedder
}

func afterEmbedder(st *State) string {
	if st.ShouldHalt() || st.HasError {
		return nodeEnd
	}
	return NodeVaultStore
}

func afterVaultStore(st *State) string {
	if st.ShouldHalt() || st.HasError {
		return nodeEnd
	}
	return NodeGenerate
}

func afterGenerate(st *State) string {
	if st.HasError {
		return NodeHumanAlert
	}
	if st.Generation != nil && st.Generation.Coverage < schema.MinApprovedCoverage {
		return NodeHumanAlert
	}
	return nodeEnd
}
