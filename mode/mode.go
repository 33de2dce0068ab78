// Package mode implements the Mode Controller (SPEC_FULL.md §4.7): the pure
// state-to-mode decision function in §6 and the Controller that applies a
// mode's configuration to a tool registry, prompt, and model selection
// atomically against one state snapshot.
//
// Grounded on the teacher's pattern, in runtime/agent/runtime/runtime.go, of
// recomputing an agent's active configuration from a single state read
// before every driver iteration rather than reacting to individual state
// writes.
package mode

import "github.com/metricloop/agentrt/state"

// Mode is one of the runtime's five behavioral modes.
type Mode string

const (
	Initializing      Mode = "Initializing"
	DataCatalogSearch Mode = "DataCatalogSearch"
	Planning          Mode = "Planning"
	AnalysisExecution Mode = "AnalysisExecution"
	Review            Mode = "Review"
)

// Decide computes the next Mode from a state snapshot, per the normative
// State → Mode function in SPEC_FULL.md §6. The final "Otherwise" branch is
// an intentionally preserved ambiguous-state fallback to Initializing: the
// distilled spec leaves unreachable-in-practice combinations undefined, and
// rather than invent new behavior for them this keeps the original
// fallback verbatim (see DESIGN.md's Open Question decisions).
func Decide(snap state.Snapshot) Mode {
	hasUserPrompt := snap.Has("user_prompt")
	isFollowUp := snap.Bool("is_follow_up")
	reviewNeeded := snap.Bool("review_needed")
	searchedCatalog := snap.Bool("searched_data_catalog")
	dataContext := snap.Truthy("data_context")
	planAvailable := snap.Bool("plan_available")

	switch {
	case !hasUserPrompt && !isFollowUp:
		return Initializing
	case reviewNeeded:
		return Review
	case !searchedCatalog:
		return DataCatalogSearch
	case dataContext && !planAvailable:
		return Planning
	case dataContext && planAvailable:
		return AnalysisExecution
	case searchedCatalog && !dataContext && !planAvailable:
		return Planning
	default:
		return Initializing
	}
}
