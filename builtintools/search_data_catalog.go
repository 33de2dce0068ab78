package builtintools

import (
	"fmt"

	"github.com/metricloop/agentrt/tools"
)

// SearchDataCatalogGate exposes the tool only while searched_data_catalog is
// unset or false; since AgentState persists across runs, a search in one run
// closes the gate for later runs of the same Agent too.
var SearchDataCatalogGate = not(boolKey("searched_data_catalog"))

// SearchDataCatalog is a stubbed data-catalog lookup: a concrete
// implementation would call out to the catalog service named in
// SPEC_FULL.md's non-goals as an out-of-scope collaborator. This stub
// deterministically "finds" a dataset matching the query and records it as
// data_context, letting the rest of the mode table exercise normally.
func SearchDataCatalog() tools.Descriptor {
	return tools.Descriptor{
		Name:        "search_data_catalog",
		Description: "Search the data catalog for datasets relevant to the user's question.",
		JSONSchema: jsonSchema("search_data_catalog",
			"Search the data catalog for datasets relevant to the user's question.",
			objectSchema(map[string]any{
				"query": stringProp("Search terms describing the data the user needs."),
			}, "query"),
		),
		ParameterSchema: objectSchema(map[string]any{
			"query": stringProp("Search terms describing the data the user needs."),
		}, "query"),
		Gate: SearchDataCatalogGate,
		Execute: func(ctx tools.ExecContext) (any, error) {
			query, err := getString(ctx.Params, "query")
			if err != nil {
				return nil, err
			}
			result := fmt.Sprintf("found 1 dataset matching %q: revenue_by_region (daily grain, 2021-present)", query)
			ctx.State.Set("searched_data_catalog", true)
			ctx.State.Set("data_context", result)
			return map[string]any{"result": result}, nil
		},
	}
}
