package builtintools

import (
	"github.com/metricloop/agentrt/mode"
	"github.com/metricloop/agentrt/tools"
)

const (
	// DefaultModelID is the model id used by every default Configuration
	// in Table. Callers embedding this module with a different default
	// chat model construct their own mode.Table instead of using Table.
	DefaultModelID = "claude-sonnet-4-5"

	initializingPrompt = "Wait for the user's first message before taking any action."

	dataCatalogSearchPrompt = "Search the data catalog for datasets relevant to the " +
		"user's question before doing anything else. Call search_data_catalog once " +
		"you know what to search for, then call done."

	planningPrompt = "Using the data context already gathered, draft an analysis plan " +
		"as markdown and submit it with create_plan, then call done."

	analysisExecutionPrompt = "Carry out the plan: write any metric definition files needed " +
		"with write_metric_file, and call request_review if the output should be checked " +
		"before it is finalized. Call done when the analysis is complete."

	reviewPrompt = "A review was requested. Address the reviewer's concerns, call " +
		"request_review again if more changes are needed, and call done once the " +
		"output is ready."
)

func terminators(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func loader(descriptors ...tools.Descriptor) mode.ToolLoader {
	return func(r *tools.Registry) {
		for _, d := range descriptors {
			_ = r.Add(d)
		}
	}
}

// Table builds the default per-mode Configuration table described in
// SPEC_FULL.md §4.7a. Every Configuration uses modelID as its model id;
// callers that need per-mode model selection construct their own mode.Table
// instead.
func Table(modelID string) mode.Table {
	if modelID == "" {
		modelID = DefaultModelID
	}
	return mode.Table{
		mode.Initializing: {
			Prompt:           initializingPrompt,
			ModelID:          modelID,
			ToolLoader:       loader(),
			TerminatingTools: terminators(),
		},
		mode.DataCatalogSearch: {
			Prompt:           dataCatalogSearchPrompt,
			ModelID:          modelID,
			ToolLoader:       loader(SearchDataCatalog(), Done()),
			TerminatingTools: terminators("done"),
		},
		mode.Planning: {
			Prompt:           planningPrompt,
			ModelID:          modelID,
			ToolLoader:       loader(CreatePlan(), Done()),
			TerminatingTools: terminators("done"),
		},
		mode.AnalysisExecution: {
			Prompt:           analysisExecutionPrompt,
			ModelID:          modelID,
			ToolLoader:       loader(WriteMetricFile(), RequestReview(), Done()),
			TerminatingTools: terminators("done"),
		},
		mode.Review: {
			Prompt:           reviewPrompt,
			ModelID:          modelID,
			ToolLoader:       loader(RequestReview(), Done()),
			TerminatingTools: terminators("done"),
		},
	}
}
